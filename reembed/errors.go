package reembed

import "errors"

var (
	// ErrSourceRequired is returned when no source store is given.
	ErrSourceRequired = errors.New("source record store is required")

	// ErrTargetRequired is returned when no target store is given.
	ErrTargetRequired = errors.New("target record store is required")

	// ErrEmbedderRequired is returned when no embedder is given.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrSameStore is returned when source and target are the same store.
	ErrSameStore = errors.New("source and target must be different stores")

	// ErrEmbeddingCountMismatch is returned when the embedder answers with
	// a different number of vectors than it was asked for.
	ErrEmbeddingCountMismatch = errors.New("embedding count mismatch")
)
