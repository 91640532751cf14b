package reembed

import (
	"context"
	"fmt"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/retry"
	"github.com/poiesic/newsrag/storage"
)

// BatchProcessor re-embeds batches of records and writes them to a target store.
type BatchProcessor struct {
	target        storage.RecordStore
	embedder      ai.Embedder
	policy        retry.Policy
	subjectPrefix bool
}

// NewBatchProcessor creates a processor writing to target. subjectPrefix must
// match the ingestion setting the records were built with, so migrated
// vectors embed the same input a fresh ingestion would.
func NewBatchProcessor(target storage.RecordStore, embedder ai.Embedder, policy retry.Policy, subjectPrefix bool) *BatchProcessor {
	return &BatchProcessor{
		target:        target,
		embedder:      embedder,
		policy:        policy,
		subjectPrefix: subjectPrefix,
	}
}

// Process embeds the passage text of records with the processor's embedder
// and upserts copies carrying the new vectors and model id. The input
// records are not modified. Transient embedding and store errors are retried
// according to the policy.
func (bp *BatchProcessor) Process(ctx context.Context, records []*core.Record) ([]*core.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = core.EmbeddingInput(r.Subject, r.Text, bp.subjectPrefix)
	}

	var vectors [][]float32
	attempts, err := retry.DoCount(ctx, bp.policy, func(ctx context.Context) error {
		var err error
		vectors, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, retry.IsTransient)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: after %d attempts: %w", core.ErrEmbeddingUnavailable, attempts, err)
	}
	if len(vectors) != len(records) {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, len(records), len(vectors))
	}

	model := bp.embedder.ModelID()
	out := make([]*core.Record, len(records))
	for i, r := range records {
		c := *r
		c.Vector = core.NormalizeVector(vectors[i])
		c.Model = model
		out[i] = &c
	}

	err = retry.Do(ctx, bp.policy, func(ctx context.Context) error {
		return bp.target.Upsert(ctx, out...)
	}, retry.IsStoreRetryable)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert records: %w", err)
	}
	return out, nil
}
