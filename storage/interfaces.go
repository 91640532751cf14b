package storage

import (
	"context"

	"github.com/poiesic/newsrag/core"
)

// RecordStore holds embedded passages and answers similarity queries.
//
// Implementations enforce a single vector space per store: the first
// successful Upsert fixes the schema, and later writes or queries whose
// dimension or model differ fail with core.ErrSchemaMismatch without
// changing anything.
type RecordStore interface {
	// Upsert inserts or replaces records by passage ID. The batch is
	// all-or-nothing: on error no record of the batch is visible.
	Upsert(ctx context.Context, records ...*core.Record) error

	// DeleteBySource removes every record of a source message.
	// Deleting an unknown source is not an error.
	DeleteBySource(ctx context.Context, sourceID string) error

	// Query returns up to topK records matching filters, ordered by
	// descending similarity to vector. Ties are broken by newer message
	// timestamp and then by passage ID.
	Query(ctx context.Context, vector []float32, topK int, filters core.Filters) ([]*core.ScoredRecord, error)

	// Schema returns the schema fixed by the first write, or nil for an
	// empty store.
	Schema(ctx context.Context) (*core.StoreSchema, error)

	// Scan calls fn for every record. Iteration stops at the first error.
	Scan(ctx context.Context, fn func(*core.Record) error) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases the store's resources.
	Close() error
}

// SourceLedger tracks which source messages are indexed and with what content.
type SourceLedger interface {
	// GetSource returns the entry for sourceID, or nil if it was never indexed.
	GetSource(ctx context.Context, sourceID string) (*core.SourceEntry, error)

	// PutSource creates or replaces an entry.
	PutSource(ctx context.Context, entry *core.SourceEntry) error

	// DeleteSource removes an entry. Missing entries are ignored.
	DeleteSource(ctx context.Context, sourceID string) error

	// ListSources returns every entry ordered by source ID.
	ListSources(ctx context.Context) ([]*core.SourceEntry, error)
}

// FailureLog remembers messages whose ingestion failed so they can be retried.
type FailureLog interface {
	// RecordFailure stores entry, incrementing Attempts when the source
	// already failed before.
	RecordFailure(ctx context.Context, entry *core.FailureEntry) error

	// ClearFailure forgets a failure. Missing entries are ignored.
	ClearFailure(ctx context.Context, sourceID string) error

	// ListFailures returns every failure ordered by source ID.
	ListFailures(ctx context.Context) ([]*core.FailureEntry, error)
}

// CursorRepository persists fetch positions.
type CursorRepository interface {
	// SaveCursor stores the cursor under its Source name.
	SaveCursor(ctx context.Context, cursor *core.Cursor) error

	// LoadCursor returns the cursor for source, or nil if none was saved.
	LoadCursor(ctx context.Context, source string) (*core.Cursor, error)
}

// SchemaRepository persists store schemas for backends that cannot hold
// metadata themselves.
type SchemaRepository interface {
	// LoadSchema returns the schema saved under name, or nil if none exists.
	LoadSchema(ctx context.Context, name string) (*core.StoreSchema, error)

	// SaveSchema stores schema under name.
	SaveSchema(ctx context.Context, name string, schema *core.StoreSchema) error
}

// Ledger is the bookkeeping the ingestion pipeline keeps next to the records.
type Ledger interface {
	SourceLedger
	FailureLog
	CursorRepository
}
