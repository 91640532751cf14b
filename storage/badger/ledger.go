package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/storage"
)

// Ledger keeps ingestion bookkeeping in BadgerDB: indexed sources,
// failures, fetch cursors and named schemas.
type Ledger struct {
	backend *Backend
	now     func() time.Time
}

var (
	_ storage.Ledger           = (*Ledger)(nil)
	_ storage.SchemaRepository = (*Ledger)(nil)
)

// NewLedger creates a ledger on backend.
func NewLedger(backend *Backend) *Ledger {
	return &Ledger{
		backend: backend,
		now:     time.Now,
	}
}

func (l *Ledger) GetSource(ctx context.Context, sourceID string) (*core.SourceEntry, error) {
	var entry *core.SourceEntry
	err := l.get(makeSourceEntryKey(sourceID), func(val []byte) error {
		var err error
		entry, err = storage.UnmarshalSourceEntry(val)
		return err
	})
	return entry, err
}

func (l *Ledger) PutSource(ctx context.Context, entry *core.SourceEntry) error {
	if entry.SourceID == "" {
		return core.ErrEmptySourceID
	}
	return l.set(makeSourceEntryKey(entry.SourceID), storage.MarshalSourceEntry(entry))
}

func (l *Ledger) DeleteSource(ctx context.Context, sourceID string) error {
	return l.delete(makeSourceEntryKey(sourceID))
}

func (l *Ledger) ListSources(ctx context.Context) ([]*core.SourceEntry, error) {
	var entries []*core.SourceEntry
	err := l.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(sourceEntryPrefix), func(_, val []byte) error {
			entry, err := storage.UnmarshalSourceEntry(val)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	}, false)
	return entries, err
}

// RecordFailure stores entry. Attempts counts how many runs failed on the
// source, starting at 1.
func (l *Ledger) RecordFailure(ctx context.Context, entry *core.FailureEntry) error {
	if entry.SourceID == "" {
		return core.ErrEmptySourceID
	}
	return l.backend.WithTx(func(tx *badger.Txn) error {
		key := makeFailureKey(entry.SourceID)
		entry.Attempts = 1
		item, err := tx.Get(key)
		switch {
		case err == nil:
			err = item.Value(func(val []byte) error {
				prev, err := storage.UnmarshalFailureEntry(val)
				if err != nil {
					return err
				}
				entry.Attempts = prev.Attempts + 1
				return nil
			})
			if err != nil {
				return err
			}
		case err != badger.ErrKeyNotFound:
			return err
		}
		if entry.FailedAt.IsZero() {
			entry.FailedAt = l.now().UTC()
		}
		if err := tx.Set(key, storage.MarshalFailureEntry(entry)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

func (l *Ledger) ClearFailure(ctx context.Context, sourceID string) error {
	return l.delete(makeFailureKey(sourceID))
}

func (l *Ledger) ListFailures(ctx context.Context) ([]*core.FailureEntry, error) {
	var entries []*core.FailureEntry
	err := l.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(failurePrefix), func(_, val []byte) error {
			entry, err := storage.UnmarshalFailureEntry(val)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	}, false)
	return entries, err
}

func (l *Ledger) SaveCursor(ctx context.Context, cursor *core.Cursor) error {
	cursor.UpdatedAt = l.now().UTC()
	return l.set(makeCursorKey(cursor.Source), storage.MarshalCursor(cursor))
}

func (l *Ledger) LoadCursor(ctx context.Context, source string) (*core.Cursor, error) {
	var cursor *core.Cursor
	err := l.get(makeCursorKey(source), func(val []byte) error {
		var err error
		cursor, err = storage.UnmarshalCursor(val)
		return err
	})
	return cursor, err
}

func (l *Ledger) LoadSchema(ctx context.Context, name string) (*core.StoreSchema, error) {
	var schema *core.StoreSchema
	err := l.get(makeNamedSchemaKey(name), func(val []byte) error {
		var err error
		schema, err = storage.UnmarshalSchema(val)
		return err
	})
	return schema, err
}

func (l *Ledger) SaveSchema(ctx context.Context, name string, schema *core.StoreSchema) error {
	return l.set(makeNamedSchemaKey(name), storage.MarshalSchema(schema))
}

// get calls decode with the value under key. A missing key is not an error
// and leaves decode uncalled.
func (l *Ledger) get(key []byte, decode func(val []byte) error) error {
	return l.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(decode)
	}, false)
}

func (l *Ledger) set(key, value []byte) error {
	return l.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

func (l *Ledger) delete(key []byte) error {
	return l.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
