// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/retry"
	"github.com/poiesic/newsrag/storage"
)

// Config holds configuration for a migration.
type Config struct {
	// BatchSize is the number of records embedded per call.
	BatchSize int

	// ReportInterval is how often progress is printed, in records.
	ReportInterval int

	// Retry governs embedding and store calls.
	Retry retry.Policy

	// SubjectPrefix must match the ingestion setting the source was built with.
	SubjectPrefix bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		Retry:          retry.DefaultPolicy(),
		SubjectPrefix:  true,
	}
}

// Result summarizes a migration.
type Result struct {
	Records int
	Model   string
	Elapsed time.Duration
}

// Reembedder copies every record of a source store into a target store,
// re-embedding passage text with a new model.
type Reembedder struct {
	source    storage.RecordStore
	target    storage.RecordStore
	embedder  ai.Embedder
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *RecordIterator
	logger    *slog.Logger
}

// NewReembedder creates a reembedder. progress receives the progress line
// and may be nil.
func NewReembedder(source, target storage.RecordStore, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	switch {
	case source == nil:
		return nil, ErrSourceRequired
	case target == nil:
		return nil, ErrTargetRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	case source == target:
		return nil, ErrSameStore
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		source:    source,
		target:    target,
		embedder:  embedder,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(target, embedder, config.Retry, config.SubjectPrefix),
		iterator:  NewRecordIterator(source, config.BatchSize),
		logger:    slog.Default().With("component", "reembedder"),
	}, nil
}

// Run migrates every record. The target must be empty or already hold the
// embedder's model; otherwise Run fails with core.ErrSchemaMismatch before
// writing anything. Records already in the target are overwritten, so an
// interrupted migration can simply be run again.
func (r *Reembedder) Run(ctx context.Context) (*Result, error) {
	model := r.embedder.ModelID()
	result := &Result{Model: model}

	schema, err := r.target.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read target schema: %w", err)
	}
	if schema != nil && schema.Model != model {
		return nil, fmt.Errorf("%w: target holds %q vectors, embedder produces %q",
			core.ErrSchemaMismatch, schema.Model, model)
	}
	if schema, err := r.source.Schema(ctx); err == nil && schema != nil && schema.Model == model {
		r.logger.Warn("source already uses the target model", "model", model)
	}

	total, err := r.source.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No records found in source store (0 records)\n")
		return result, nil
	}

	fmt.Fprintf(r.progress, "Re-embedding %d records with %s (batch size: %d)\n",
		total, model, r.iterator.BatchSize())
	r.logger.Info("migration started", "records", total, "model", model)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEach(ctx, func(records []*core.Record) error {
		if _, err := r.processor.Process(ctx, records); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		result.Records += len(records)
		tracker.Update(result.Records)
		return nil
	})
	tracker.Finish()
	result.Elapsed = tracker.Elapsed()
	if err != nil {
		r.logger.Error("migration stopped", "migrated", result.Records, "records", total, "err", err)
		return result, err
	}

	rate := 0.0
	if secs := result.Elapsed.Seconds(); secs > 0 {
		rate = float64(result.Records) / secs
	}
	fmt.Fprintf(r.progress, "Re-embedding complete. Processed %d records in %v (%.1f records/sec)\n",
		result.Records, result.Elapsed.Round(time.Millisecond), rate)
	r.logger.Info("migration finished", "records", result.Records, "elapsed", result.Elapsed)
	return result, nil
}

// CopyLedger copies every source entry from src to dst with Model set to
// model. Content hashes and passage IDs are kept, so ingestion against the
// migrated store treats already indexed messages as unchanged.
func CopyLedger(ctx context.Context, src, dst storage.SourceLedger, model string) (int, error) {
	entries, err := src.ListSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sources: %w", err)
	}
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		c := *entry
		c.Model = model
		if err := dst.PutSource(ctx, &c); err != nil {
			return i, fmt.Errorf("failed to copy source %s: %w", entry.SourceID, err)
		}
	}
	return len(entries), nil
}
