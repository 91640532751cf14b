package ingestion

import (
	"fmt"
	"runtime"
	"time"

	"github.com/poiesic/newsrag/chunker"
	"github.com/poiesic/newsrag/normalize"
	"github.com/poiesic/newsrag/retry"
)

// Config is the explicit configuration of a Pipeline.
type Config struct {
	MaxTokens        int // passage budget in words
	OverlapSentences int
	MinContentChars  int // shorter normalized text is skipped

	// EmbedBatchSize bounds one embedding call and one store write.
	EmbedBatchSize int
	// PageSize is the number of messages requested per fetch.
	PageSize int
	// MaxPages stops Run after this many pages. Zero means no limit.
	MaxPages int
	// Workers is the number of messages prepared concurrently.
	Workers int

	Retry       retry.Policy
	CallTimeout time.Duration // per external call

	// SubjectPrefix prepends the subject to every embedded passage.
	SubjectPrefix bool
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		MaxTokens:       chunker.DefaultMaxTokens,
		MinContentChars: normalize.DefaultMinChars,
		EmbedBatchSize:  32,
		PageSize:        50,
		Workers:         max(runtime.NumCPU()/2, 1),
		Retry:           retry.DefaultPolicy(),
		CallTimeout:     30 * time.Second,
		SubjectPrefix:   true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.MaxTokens < 1:
		return fmt.Errorf("%w: max tokens must be positive", ErrInvalidConfig)
	case c.OverlapSentences < 0:
		return fmt.Errorf("%w: overlap must not be negative", ErrInvalidConfig)
	case c.MinContentChars < 0:
		return fmt.Errorf("%w: min content chars must not be negative", ErrInvalidConfig)
	case c.EmbedBatchSize < 1:
		return fmt.Errorf("%w: embed batch size must be positive", ErrInvalidConfig)
	case c.PageSize < 1:
		return fmt.Errorf("%w: page size must be positive", ErrInvalidConfig)
	case c.MaxPages < 0:
		return fmt.Errorf("%w: max pages must not be negative", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("%w: retry attempts must be positive", ErrInvalidConfig)
	case c.CallTimeout < 0:
		return fmt.Errorf("%w: call timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}
