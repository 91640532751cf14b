package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/sender"
	"github.com/poiesic/newsrag/storage"
)

// Answerer answers questions over the indexed newsletters.
type Answerer struct {
	planner   *Planner
	retriever *Retriever
	composer  *Composer
	config    Config
	registry  *sender.Registry
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Answerer.
type Option func(*Answerer) error

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(a *Answerer) error {
		a.config = cfg
		return nil
	}
}

// WithRegistry sets the sender registry used to recognize companies in
// questions. Default is sender.DefaultRegistry().
func WithRegistry(r *sender.Registry) Option {
	return func(a *Answerer) error {
		a.registry = r
		return nil
	}
}

// WithClock sets the time source for relative dates. Default is time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Answerer) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		a.now = now
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Answerer) error {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger
		return nil
	}
}

// NewAnswerer creates an answerer over store using provider's services.
func NewAnswerer(store storage.RecordStore, provider ai.AIProvider, opts ...Option) (*Answerer, error) {
	if store == nil {
		return nil, ErrRecordStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	a := &Answerer{
		config: DefaultConfig(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	planner, err := NewPlanner(provider.Embedder(), provider.QueryRewriter(), a.registry, a.config, a.logger)
	if err != nil {
		return nil, err
	}
	planner.now = a.now

	retriever, err := NewRetriever(store, a.config, a.logger)
	if err != nil {
		planner.Close()
		return nil, err
	}
	composer, err := NewComposer(provider.Generator(), a.config, a.logger)
	if err != nil {
		planner.Close()
		return nil, err
	}

	a.planner = planner
	a.retriever = retriever
	a.composer = composer
	a.logger = a.logger.With("component", "answerer")
	return a, nil
}

// Answer answers question. filters narrow the search and override filters
// inferred from the question.
func (a *Answerer) Answer(ctx context.Context, question string, filters core.Filters) (*core.Answer, error) {
	return a.AnswerWithMonitor(ctx, question, filters, nil)
}

// AnswerWithMonitor answers question with monitoring.
// The monitor receives callbacks at each stage of the process.
//
// Failures of the embedding service or the record store do not return an
// error; the answer is marked Unavailable instead. An error is returned for
// an empty question or cancellation.
func (a *Answerer) AnswerWithMonitor(ctx context.Context, question string, filters core.Filters, monitor SearchMonitor) (*core.Answer, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(question)

	pq, err := a.planner.Plan(ctx, question, filters)
	if err != nil {
		return a.unavailable(ctx, err, core.IntentSearch, monitor)
	}
	monitor.AfterPlan(pq)

	result, err := a.retriever.RetrieveWithMonitor(ctx, pq, a.config.TopK, monitor)
	if err != nil {
		return a.unavailable(ctx, err, pq.Intent, monitor)
	}

	answer, err := a.composer.Compose(ctx, pq.Question, pq.Intent, result)
	if err != nil {
		return nil, err
	}
	monitor.Finish(answer)
	return answer, nil
}

func (a *Answerer) unavailable(ctx context.Context, err error, intent core.Intent, monitor SearchMonitor) (*core.Answer, error) {
	if errors.Is(err, ErrEmptyQuestion) || ctx.Err() != nil {
		return nil, err
	}
	a.logger.Error("search unavailable", "error_type", core.ErrorType(err), "err", err)

	text := UnavailableAnswer
	if errors.Is(err, core.ErrSchemaMismatch) {
		text = SchemaMismatchAnswer
	}
	answer := &core.Answer{Text: text, Intent: intent, Unavailable: true}
	monitor.Finish(answer)
	return answer, nil
}

// Plan exposes the planning stage.
func (a *Answerer) Plan(ctx context.Context, question string, filters core.Filters) (*core.PlannedQuery, error) {
	return a.planner.Plan(ctx, question, filters)
}

// Retrieve exposes the retrieval stage.
func (a *Answerer) Retrieve(ctx context.Context, pq *core.PlannedQuery, topK int) (*core.RetrievalResult, error) {
	return a.retriever.Retrieve(ctx, pq, topK)
}

// Close releases the planner's cache.
func (a *Answerer) Close() {
	a.planner.Close()
}
