package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/retry"
)

// commit writes an embedded message to the store: stale passages of an
// earlier version are deleted, the new records are upserted in chunks, and
// the ledger entry is replaced. Chunks that were written stay written when
// a later chunk fails; a rerun overwrites them.
//
// The returned error is non-nil only when the rest of the batch must not be
// committed either: a schema mismatch, a store outage, or cancellation.
func (p *Pipeline) commit(ctx context.Context, pm *prepared) error {
	t := pm.track
	if t.done() {
		return nil
	}
	id := pm.msg.ID

	if pm.previous != nil {
		err := p.withStoreRetry(ctx, func(ctx context.Context) error {
			return p.store.DeleteBySource(ctx, id)
		})
		if err != nil {
			t.fail(fmt.Errorf("deleting stale passages: %w", err))
			return batchError(err)
		}
	}

	for start := 0; start < len(pm.records); start += p.config.EmbedBatchSize {
		chunk := pm.records[start:min(start+p.config.EmbedBatchSize, len(pm.records))]
		err := p.withStoreRetry(ctx, func(ctx context.Context) error {
			return p.store.Upsert(ctx, chunk...)
		})
		if err != nil {
			t.fail(fmt.Errorf("writing passages: %w", err))
			return batchError(err)
		}
	}

	ids := make([]core.ID, len(pm.records))
	for i, r := range pm.records {
		ids[i] = r.ID
	}
	entry := &core.SourceEntry{
		SourceID:    id,
		Subject:     pm.text.Subject,
		ContentHash: pm.hash,
		Model:       p.embedder.ModelID(),
		PassageIDs:  ids,
		IndexedAt:   p.now().UTC(),
	}
	err := p.withStoreRetry(ctx, func(ctx context.Context) error {
		return p.ledger.PutSource(ctx, entry)
	})
	if err != nil {
		t.fail(fmt.Errorf("updating source ledger: %w", err))
		return batchError(err)
	}

	t.advance(core.StateStored)
	return nil
}

// withStoreRetry retries a store operation with backoff. A retryable error
// that survives every attempt is reported as core.ErrStoreUnavailable.
func (p *Pipeline) withStoreRetry(ctx context.Context, op func(ctx context.Context) error) error {
	err := retry.Do(ctx, p.config.Retry, func(ctx context.Context) error {
		callCtx, cancel := p.callContext(ctx)
		defer cancel()
		return op(callCtx)
	}, retry.IsStoreRetryable)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if retry.IsStoreRetryable(err) && !errors.Is(err, core.ErrStoreUnavailable) {
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return err
}

func batchError(err error) error {
	if errors.Is(err, core.ErrSchemaMismatch) ||
		errors.Is(err, core.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
