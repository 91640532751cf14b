package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/retry"
	"github.com/poiesic/newsrag/sender"
)

// Planner turns a question into a PlannedQuery.
type Planner struct {
	embedder ai.Embedder
	rewriter ai.QueryRewriter
	registry *sender.Registry
	cache    *ristretto.Cache[string, []float32]
	config   Config
	now      func() time.Time
	logger   *slog.Logger
}

// NewPlanner creates a planner. rewriter may be nil, in which case intent
// and filters come from keyword heuristics and the question is embedded as
// asked. A nil registry selects the built-in one.
func NewPlanner(embedder ai.Embedder, rewriter ai.QueryRewriter, registry *sender.Registry, cfg Config, logger *slog.Logger) (*Planner, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = sender.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Planner{
		embedder: embedder,
		rewriter: rewriter,
		registry: registry,
		config:   cfg,
		now:      time.Now,
		logger:   logger.With("component", "planner"),
	}
	if cfg.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
			NumCounters: cfg.CacheSize * 10,
			MaxCost:     cfg.CacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("creating query cache: %w", err)
		}
		p.cache = cache
	}
	return p, nil
}

// Plan prepares question for retrieval. Filters given by the caller take
// precedence over filters inferred from the question. Only a failure to
// embed the question is an error; a failed rewrite falls back silently.
func (p *Planner) Plan(ctx context.Context, question string, filters core.Filters) (*core.PlannedQuery, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	normalized := normalizeQuestion(question)
	pq := &core.PlannedQuery{
		Question:     question,
		ExpandedText: question,
		Intent:       detectIntent(normalized),
	}
	inferred := inferDates(normalized, p.now(), p.config.LatestWindow)
	if companies := p.registry.MatchText(question); len(companies) == 1 {
		inferred.Company = companies[0]
	}

	if rw := p.rewrite(ctx, question); rw != nil {
		if text := rw.ExpandedText(); text != "" {
			pq.ExpandedText = text
			pq.Rewritten = true
		}
		if rw.Intent != "" {
			pq.Intent = core.ParseIntent(rw.Intent)
		}
		suggested := core.Filters{}
		if len(rw.Companies) == 1 && p.registry.Has(rw.Companies[0]) {
			suggested.Company = rw.Companies[0]
		}
		if rw.Since != nil {
			suggested.Since = *rw.Since
		}
		if rw.Until != nil {
			suggested.Until = *rw.Until
		}
		inferred = suggested.Merge(inferred)
	}
	pq.Filters = filters.Merge(inferred)

	vector, err := p.embed(ctx, pq.ExpandedText)
	if err != nil {
		return nil, err
	}
	pq.Vector = vector

	p.logger.Debug("planned query",
		"intent", pq.Intent,
		"rewritten", pq.Rewritten,
		"company", pq.Filters.Company,
		"since", pq.Filters.Since)
	return pq, nil
}

func (p *Planner) rewrite(ctx context.Context, question string) *ai.Rewrite {
	if p.rewriter == nil {
		return nil
	}
	callCtx, cancel := p.config.callContext(ctx)
	defer cancel()
	rw, err := p.rewriter.Rewrite(callCtx, question, p.registry.Companies())
	if err != nil {
		p.logger.Warn("query rewrite failed, using the question as asked", "err", err)
		return nil
	}
	return rw
}

// embed returns the unit query vector for text, reusing vectors computed
// for the same model and text.
func (p *Planner) embed(ctx context.Context, text string) ([]float32, error) {
	key := p.embedder.ModelID() + "\x00" + text
	if p.cache != nil {
		if v, ok := p.cache.Get(key); ok {
			return v, nil
		}
	}

	var vector []float32
	err := retry.Do(ctx, p.config.Retry, func(ctx context.Context) error {
		callCtx, cancel := p.config.callContext(ctx)
		defer cancel()
		v, err := p.embedder.EmbedText(callCtx, text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return errors.New("empty query embedding")
		}
		vector = core.NormalizeVector(v)
		return nil
	}, retry.IsTransient)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}

	if p.cache != nil {
		p.cache.Set(key, vector, 1)
		p.cache.Wait()
	}
	return vector, nil
}

// Close releases the query cache.
func (p *Planner) Close() {
	if p.cache != nil {
		p.cache.Close()
	}
}
