package search

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/newsrag/retry"
)

// Config holds the retrieval and composition settings.
type Config struct {
	// TopK is the number of passages returned by a retrieval.
	TopK int
	// CandidateFactor multiplies TopK for the store query so that
	// deduplication and thresholds still leave TopK results.
	CandidateFactor int
	// PassagesPerSource caps passages from one source message.
	PassagesPerSource int
	// MinSimilarity drops results scoring below it. Zero disables the cutoff.
	MinSimilarity float32
	// LowConfidence flags results scoring below it.
	LowConfidence float32
	// KeywordBoost is added to the score of passages containing every
	// significant word of the question. Zero disables it.
	KeywordBoost float32

	// LatestWindow is how far back "latest" and "recent" reach.
	LatestWindow time.Duration
	// CountLimit is how many candidates a count question scans to find
	// the number of matching newsletters.
	CountLimit int
	// MaxContext caps the passages handed to the generative service.
	MaxContext int
	// CacheSize is the number of query vectors kept for reuse.
	CacheSize int64

	Retry       retry.Policy
	CallTimeout time.Duration
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		TopK:              8,
		CandidateFactor:   4,
		PassagesPerSource: 1,
		LowConfidence:     0.5,
		LatestWindow:      30 * 24 * time.Hour,
		CountLimit:        500,
		MaxContext:        8,
		CacheSize:         256,
		Retry:             retry.DefaultPolicy(),
		CallTimeout:       60 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.TopK < 1:
		return fmt.Errorf("%w: top k must be positive", ErrInvalidConfig)
	case c.CandidateFactor < 1:
		return fmt.Errorf("%w: candidate factor must be positive", ErrInvalidConfig)
	case c.PassagesPerSource < 1:
		return fmt.Errorf("%w: passages per source must be positive", ErrInvalidConfig)
	case c.MinSimilarity < 0 || c.MinSimilarity > 1:
		return fmt.Errorf("%w: min similarity must be within [0, 1]", ErrInvalidConfig)
	case c.KeywordBoost < 0:
		return fmt.Errorf("%w: keyword boost must not be negative", ErrInvalidConfig)
	case c.LatestWindow <= 0:
		return fmt.Errorf("%w: latest window must be positive", ErrInvalidConfig)
	case c.CountLimit < 1:
		return fmt.Errorf("%w: count limit must be positive", ErrInvalidConfig)
	case c.MaxContext < 1:
		return fmt.Errorf("%w: max context must be positive", ErrInvalidConfig)
	case c.CacheSize < 0:
		return fmt.Errorf("%w: cache size must not be negative", ErrInvalidConfig)
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("%w: retry attempts must be positive", ErrInvalidConfig)
	}
	return nil
}

// callContext bounds one external call.
func (c Config) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.CallTimeout)
}
