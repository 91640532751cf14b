package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/chunker"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/mailsource"
	"github.com/poiesic/newsrag/normalize"
	"github.com/poiesic/newsrag/retry"
	"github.com/poiesic/newsrag/sender"
	"github.com/poiesic/newsrag/storage"
)

// Pipeline orchestrates the ingestion of fetched newsletters.
// It is meant for a single writer: one Run at a time per store.
type Pipeline struct {
	store      storage.RecordStore
	ledger     storage.Ledger
	embedder   ai.Embedder
	normalizer *normalize.Normalizer
	registry   *sender.Registry
	chunker    *chunker.Chunker
	pool       *ants.Pool
	config     Config
	metrics    *metrics
	registerer prometheus.Registerer
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) error {
		p.config = cfg
		return nil
	}
}

// WithPoolSize sets the worker pool size for concurrent processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.config.Workers = size
		return nil
	}
}

// WithNormalizer sets the normalizer. By default one is built from the
// configured minimum content length.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(p *Pipeline) error {
		p.normalizer = n
		return nil
	}
}

// WithRegistry sets the sender registry used by the default normalizer.
func WithRegistry(r *sender.Registry) Option {
	return func(p *Pipeline) error {
		p.registry = r
		return nil
	}
}

// WithChunker sets the chunker. By default one is built from the configured
// token budget and overlap.
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) error {
		p.chunker = c
		return nil
	}
}

// WithMetrics registers the pipeline's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(p *Pipeline) error {
		p.registerer = reg
		return nil
	}
}

// WithClock sets the time source. Default is time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		p.now = now
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	store storage.RecordStore,
	ledger storage.Ledger,
	embedder ai.Embedder,
	opts ...Option,
) (*Pipeline, error) {
	if store == nil {
		return nil, ErrRecordStoreRequired
	}
	if ledger == nil {
		return nil, ErrLedgerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	p := &Pipeline{
		store:    store,
		ledger:   ledger,
		embedder: embedder,
		config:   DefaultConfig(),
		metrics:  newMetrics(),
		now:      time.Now,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if err := p.config.Validate(); err != nil {
		return nil, err
	}
	p.logger = p.logger.With("component", "ingestion")

	if p.registerer != nil {
		if err := p.metrics.register(p.registerer); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	var err error
	if p.normalizer == nil {
		p.normalizer, err = normalize.New(
			normalize.WithMinChars(p.config.MinContentChars),
			normalize.WithRegistry(p.registry),
			normalize.WithLogger(p.logger),
		)
		if err != nil {
			return nil, err
		}
	}
	if p.chunker == nil {
		p.chunker, err = chunker.New(
			chunker.WithMaxTokens(p.config.MaxTokens),
			chunker.WithOverlap(p.config.OverlapSentences),
			chunker.WithLogger(p.logger),
		)
		if err != nil {
			return nil, err
		}
	}

	p.pool, err = ants.NewPool(p.config.Workers)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.config }

// Ingest processes msgs as one batch and reports what happened to each.
// Per-message failures are recorded in the summary and the failure log and
// do not make Ingest fail. An error is returned only when the batch had to
// stop: a schema mismatch, a store outage, or cancellation. The summary is
// valid in that case too.
func (p *Pipeline) Ingest(ctx context.Context, msgs []*core.RawMessage) (*core.BatchSummary, error) {
	summary := &core.BatchSummary{RunID: uuid.NewString(), StartedAt: p.now().UTC()}
	page, err := p.ingestPage(ctx, summary.RunID, msgs)
	summary.Merge(page)
	summary.FinishedAt = p.now().UTC()
	return summary, err
}

// Run ingests everything fetcher has after the persisted cursor, page by
// page. Messages that failed on earlier runs are fetched again first when
// fetcher implements mailsource.Refetcher. The cursor is saved after every
// page; if a page has failures and they cannot be refetched later, the
// cursor stays put so the next Run sees that page again.
func (p *Pipeline) Run(ctx context.Context, fetcher mailsource.Fetcher) (*core.BatchSummary, error) {
	if fetcher == nil {
		return nil, ErrFetcherRequired
	}
	summary := &core.BatchSummary{RunID: uuid.NewString(), StartedAt: p.now().UTC()}
	logger := p.logger.With("run", summary.RunID, "source", fetcher.Name())
	defer func() { summary.FinishedAt = p.now().UTC() }()

	cursor, err := p.ledger.LoadCursor(ctx, fetcher.Name())
	if err != nil {
		return summary, fmt.Errorf("loading cursor: %w", err)
	}
	if cursor == nil {
		cursor = &core.Cursor{Source: fetcher.Name()}
	}
	summary.NextCursor = *cursor
	logger.Info("starting ingestion run", "cursor", cursor.Position)

	refetcher, canRefetch := fetcher.(mailsource.Refetcher)
	if canRefetch {
		requeued, err := p.requeue(ctx, summary.RunID, refetcher, logger)
		summary.Merge(requeued)
		if err != nil {
			return summary, err
		}
	}

	for pages := 0; p.config.MaxPages == 0 || pages < p.config.MaxPages; pages++ {
		msgs, next, err := p.fetch(ctx, fetcher, *cursor)
		if err != nil {
			return summary, err
		}
		if len(msgs) == 0 {
			if next.Position != cursor.Position {
				// the source skipped unreadable entries
				next.Source = fetcher.Name()
				if err := p.ledger.SaveCursor(ctx, &next); err != nil {
					return summary, fmt.Errorf("saving cursor: %w", err)
				}
				summary.NextCursor = next
			}
			break
		}

		page, err := p.ingestPage(ctx, summary.RunID, msgs)
		summary.Merge(page)
		if err != nil {
			logger.Error("ingestion batch aborted", "err", err)
			return summary, err
		}

		if page.Failed > 0 && !canRefetch {
			logger.Warn("page had failures; cursor not advanced", "failed", page.Failed)
			break
		}
		next.Source = fetcher.Name()
		if err := p.ledger.SaveCursor(ctx, &next); err != nil {
			return summary, fmt.Errorf("saving cursor: %w", err)
		}
		cursor = &next
		summary.NextCursor = next

		if page.Failed == len(msgs) && allUnavailable(page) {
			logger.Warn("every message in page failed on an unavailable service; stopping run")
			break
		}
	}

	logger.Info("ingestion run finished",
		"fetched", summary.Fetched,
		"stored", summary.Stored,
		"unchanged", summary.Unchanged,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"passages", summary.Passages)
	return summary, nil
}

func (p *Pipeline) fetch(ctx context.Context, fetcher mailsource.Fetcher, cursor core.Cursor) ([]*core.RawMessage, core.Cursor, error) {
	var msgs []*core.RawMessage
	next := cursor
	err := retry.Do(ctx, p.config.Retry, func(ctx context.Context) error {
		callCtx, cancel := p.callContext(ctx)
		defer cancel()
		var err error
		msgs, next, err = fetcher.FetchNewMessages(callCtx, cursor, p.config.PageSize)
		return err
	}, retry.IsTransient)
	if err != nil {
		return nil, cursor, fmt.Errorf("fetching messages: %w", err)
	}
	return msgs, next, nil
}

// requeue re-ingests messages from the failure log.
func (p *Pipeline) requeue(ctx context.Context, runID string, refetcher mailsource.Refetcher, logger *slog.Logger) (*core.BatchSummary, error) {
	failures, err := p.ledger.ListFailures(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing failures: %w", err)
	}
	if len(failures) == 0 {
		return nil, nil
	}
	ids := make([]string, len(failures))
	for i, f := range failures {
		ids[i] = f.SourceID
	}
	logger.Info("retrying failed messages", "count", len(ids))

	var msgs []*core.RawMessage
	err = retry.Do(ctx, p.config.Retry, func(ctx context.Context) error {
		callCtx, cancel := p.callContext(ctx)
		defer cancel()
		var err error
		msgs, err = refetcher.FetchByIDs(callCtx, ids)
		return err
	}, retry.IsTransient)
	if err != nil {
		return nil, fmt.Errorf("refetching failed messages: %w", err)
	}
	return p.ingestPage(ctx, runID, msgs)
}

// ingestPage prepares msgs concurrently, then commits them in fetch order.
func (p *Pipeline) ingestPage(ctx context.Context, runID string, msgs []*core.RawMessage) (*core.BatchSummary, error) {
	page := &core.BatchSummary{RunID: runID, Fetched: len(msgs)}
	if len(msgs) == 0 {
		return page, nil
	}

	preps := make([]*prepared, len(msgs))
	var wg sync.WaitGroup
	for i, msg := range msgs {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			preps[i] = p.prepare(ctx, msg)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			if errors.Is(err, ants.ErrPoolClosed) {
				return page, ErrPipelineReleased
			}
			return page, fmt.Errorf("scheduling message: %w", err)
		}
	}
	wg.Wait()

	var batchErr error
	for _, pm := range preps {
		if batchErr == nil {
			batchErr = p.commit(ctx, pm)
		} else if !pm.track.done() {
			pm.track.fail(fmt.Errorf("batch aborted: %w", batchErr))
		}
		p.finish(ctx, pm, page)
	}
	return page, batchErr
}

// finish updates the failure log and the counters for a message in a
// terminal state.
func (p *Pipeline) finish(ctx context.Context, pm *prepared, page *core.BatchSummary) {
	t := pm.track
	o := t.outcome

	switch o.State {
	case core.StateFailed:
		t.logger.Warn("message failed", "error_type", core.ErrorType(o.Err), "err", o.Err)
		if o.SourceID != "" {
			entry := &core.FailureEntry{
				SourceID:  o.SourceID,
				Subject:   pm.msg.Subject,
				Sender:    pm.msg.Sender,
				ErrorType: core.ErrorType(o.Err),
				Message:   o.Err.Error(),
				FailedAt:  p.now().UTC(),
			}
			// ctx may be what failed the message
			if err := p.ledger.RecordFailure(context.WithoutCancel(ctx), entry); err != nil {
				t.logger.Error("recording failure", "err", err)
			}
		}
	default:
		if err := p.ledger.ClearFailure(context.WithoutCancel(ctx), o.SourceID); err != nil {
			t.logger.Error("clearing failure", "err", err)
		}
		t.logger.Debug("message done", "state", o.State, "unchanged", o.Unchanged, "passages", o.Passages)
	}

	p.metrics.observe(o, p.now().Sub(t.started).Seconds())
	page.Add(o)
}

func allUnavailable(page *core.BatchSummary) bool {
	for _, o := range page.Outcomes {
		if !errors.Is(o.Err, core.ErrEmbeddingUnavailable) && !errors.Is(o.Err, core.ErrStoreUnavailable) {
			return false
		}
	}
	return true
}

// Release releases resources including worker pools.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
