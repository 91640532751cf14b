package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/retry"
	"github.com/poiesic/newsrag/storage"
)

// Retriever runs planned queries against the record store.
type Retriever struct {
	store  storage.RecordStore
	config Config
	logger *slog.Logger
}

// NewRetriever creates a retriever over store.
func NewRetriever(store storage.RecordStore, cfg Config, logger *slog.Logger) (*Retriever, error) {
	if store == nil {
		return nil, ErrRecordStoreRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, config: cfg, logger: logger.With("component", "retriever")}, nil
}

// Retrieve returns up to topK passages for pq. A non-positive topK selects
// the configured default.
func (r *Retriever) Retrieve(ctx context.Context, pq *core.PlannedQuery, topK int) (*core.RetrievalResult, error) {
	return r.RetrieveWithMonitor(ctx, pq, topK, nil)
}

// RetrieveWithMonitor is Retrieve with stage callbacks.
//
// Results keep at most PassagesPerSource passages per source message (the
// best scoring ones), drop scores under MinSimilarity when it is set, and
// flag scores under LowConfidence. Equal scores are ordered newest first.
// Count questions scan up to CountLimit candidates and report how many
// distinct source messages matched with confidence in Matched.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, pq *core.PlannedQuery, topK int, monitor SearchMonitor) (*core.RetrievalResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if topK <= 0 {
		topK = r.config.TopK
	}

	limit := topK * r.config.CandidateFactor
	if pq.Intent == core.IntentCount {
		limit = max(limit, r.config.CountLimit)
	}

	var candidates []*core.ScoredRecord
	err := retry.Do(ctx, r.config.Retry, func(ctx context.Context) error {
		callCtx, cancel := r.config.callContext(ctx)
		defer cancel()
		var err error
		candidates, err = r.store.Query(callCtx, pq.Vector, limit, pq.Filters)
		return err
	}, retry.IsStoreRetryable)
	if err != nil {
		r.logger.Error("error querying record store", "err", err)
		if ctx.Err() == nil && retry.IsStoreRetryable(err) && !errors.Is(err, core.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
		}
		return nil, err
	}
	monitor.AfterQuery(candidates)

	if r.config.KeywordBoost > 0 {
		boosted := make([]*core.ScoredRecord, len(candidates))
		for i, c := range candidates {
			score := c.Score
			if containsAllQueryWords(c.Record.Text, pq.Question) {
				score += r.config.KeywordBoost
			}
			boosted[i] = &core.ScoredRecord{Record: c.Record, Score: score}
		}
		core.SortScored(boosted)
		candidates = boosted
	}

	result := &core.RetrievalResult{}
	perSource := make(map[string]int)
	for _, c := range candidates {
		if len(result.Entries) == topK {
			break
		}
		if r.config.MinSimilarity > 0 && c.Score < r.config.MinSimilarity {
			continue
		}
		if perSource[c.Record.SourceID] >= r.config.PassagesPerSource {
			continue
		}
		perSource[c.Record.SourceID]++
		result.Entries = append(result.Entries, &core.ScoredRecord{
			Record:        c.Record,
			Score:         c.Score,
			LowConfidence: c.Score < r.config.LowConfidence,
		})
	}

	result.LowConfidence = len(result.Entries) > 0
	for _, e := range result.Entries {
		if !e.LowConfidence {
			result.LowConfidence = false
			break
		}
	}
	if pq.Intent == core.IntentCount {
		result.Matched = countMatched(candidates, max(r.config.MinSimilarity, r.config.LowConfidence))
	}
	monitor.AfterFilter(result)

	r.logger.Debug("retrieved passages",
		"candidates", len(candidates),
		"returned", len(result.Entries),
		"low_confidence", result.LowConfidence)
	return result, nil
}

// countMatched returns the number of distinct source messages with a
// candidate scoring at least floor.
func countMatched(candidates []*core.ScoredRecord, floor float32) int {
	sources := make(map[string]struct{})
	for _, c := range candidates {
		if c.Score >= floor {
			sources[c.Record.SourceID] = struct{}{}
		}
	}
	return len(sources)
}
