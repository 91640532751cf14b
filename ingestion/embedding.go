package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/retry"
)

// embedPassages embeds passages in batches of EmbedBatchSize. Each call
// gets its own timeout and is retried on transient errors. If any batch
// still fails, the whole message fails with core.ErrEmbeddingUnavailable;
// a partially embedded message is never returned.
func (p *Pipeline) embedPassages(ctx context.Context, subject string, passages []core.Passage, logger *slog.Logger) ([]core.EmbeddedPassage, error) {
	model := p.embedder.ModelID()
	out := make([]core.EmbeddedPassage, 0, len(passages))

	for start := 0; start < len(passages); start += p.config.EmbedBatchSize {
		end := min(start+p.config.EmbedBatchSize, len(passages))
		batch := passages[start:end]

		texts := make([]string, len(batch))
		for i, ps := range batch {
			texts[i] = core.EmbeddingInput(subject, ps.Text, p.config.SubjectPrefix)
		}

		logger.Debug("embedding passages", "count", len(texts))
		var vectors [][]float32
		attempts, err := retry.DoCount(ctx, p.config.Retry, func(ctx context.Context) error {
			callCtx, cancel := p.callContext(ctx)
			defer cancel()
			v, err := p.embedder.EmbedTexts(callCtx, texts)
			if err != nil {
				return err
			}
			if len(v) != len(texts) {
				return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(texts), len(v))
			}
			vectors = v
			return nil
		}, retry.IsTransient)
		if attempts > 1 {
			p.metrics.embedRetries.Add(float64(attempts - 1))
		}
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil, err
			}
			logger.Error("embedding failed", "attempts", attempts, "err", err)
			return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
		}

		for i, ps := range batch {
			out = append(out, core.EmbeddedPassage{
				Passage: ps,
				Vector:  core.NormalizeVector(vectors[i]),
				Model:   model,
			})
		}
	}
	return out, nil
}

// callContext bounds one external call.
func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.config.CallTimeout)
}
