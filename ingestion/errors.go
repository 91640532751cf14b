package ingestion

import "errors"

var (
	// ErrRecordStoreRequired is returned when a record store is not provided.
	ErrRecordStoreRequired = errors.New("record store required")

	// ErrLedgerRequired is returned when a ledger is not provided.
	ErrLedgerRequired = errors.New("ledger required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrFetcherRequired is returned when Run is called without a fetcher.
	ErrFetcherRequired = errors.New("fetcher required")

	// ErrInvalidConfig is returned when a pipeline configuration is unusable.
	ErrInvalidConfig = errors.New("invalid ingestion config")

	// ErrPipelineReleased is returned when the pipeline is used after Release.
	ErrPipelineReleased = errors.New("pipeline released")
)
