package badger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/storage"
)

// RecordStore is a storage.RecordStore on top of BadgerDB. Queries scan
// every record and score it with a dot product, which is exact and fast
// enough for a personal mailbox.
type RecordStore struct {
	backend     *Backend
	ownsBackend bool
	logger      *slog.Logger
	now         func() time.Time

	// writeMu serializes schema checks with the writes they guard.
	writeMu sync.Mutex
}

var _ storage.RecordStore = (*RecordStore)(nil)

// StoreOption configures a RecordStore.
type StoreOption func(*RecordStore)

// WithLogger sets the logger. A nil logger selects slog.Default().
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *RecordStore) {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "badger-record-store")
	}
}

// WithClock overrides the time source used for schema creation times.
func WithClock(now func() time.Time) StoreOption {
	return func(s *RecordStore) {
		s.now = now
	}
}

// NewRecordStore creates a record store on backend. Closing the store
// leaves the backend open.
func NewRecordStore(backend *Backend, opts ...StoreOption) (*RecordStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is nil", storage.ErrInvalidQuery)
	}
	s := &RecordStore{
		backend: backend,
		logger:  slog.Default().With("component", "badger-record-store"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the backend when the store owns it.
func (s *RecordStore) Close() error {
	if s.ownsBackend {
		return s.backend.Close()
	}
	return nil
}

// Upsert writes records in one transaction after checking them against the
// stored schema. A mismatch or invalid record aborts the whole batch.
func (s *RecordStore) Upsert(ctx context.Context, records ...*core.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range records {
		if err := core.ValidateRecord(r); err != nil {
			return err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.backend.WithTx(func(tx *badger.Txn) error {
		schema, err := readStoreSchema(tx)
		if err != nil {
			return err
		}
		next, err := core.CheckSchema(schema, records)
		if err != nil {
			s.logger.Error("rejected batch with incompatible vectors", "records", len(records), "err", err)
			return err
		}

		for _, r := range records {
			if err := tx.Set(makeRecordKey(r.ID), storage.MarshalRecord(r)); err != nil {
				return err
			}
			if err := tx.Set(makeSourceIndexKey(r.SourceID, r.ID), nil); err != nil {
				return err
			}
		}

		if schema == nil {
			next.CreatedAt = s.now().UTC()
			if err := tx.Set([]byte(storeSchemaKey), storage.MarshalSchema(next)); err != nil {
				return err
			}
			s.logger.Info("initialized store schema", "dimension", next.Dimension, "model", next.Model)
		}
		return tx.Commit()
	}, true)
}

// DeleteBySource removes every record of sourceID along with its index entries.
func (s *RecordStore) DeleteBySource(ctx context.Context, sourceID string) error {
	if sourceID == "" {
		return core.ErrEmptySourceID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var removed int
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		for _, key := range collectKeys(tx, makePartialSourceIndexKey(sourceID)) {
			id, ok := recordIDFromIndexKey(key)
			if !ok {
				continue
			}
			if err := tx.Delete(makeRecordKey(id)); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}
	s.logger.Debug("deleted source records", "source", sourceID, "records", removed)
	return nil
}

// Query scores every record matching filters against vector.
func (s *RecordStore) Query(ctx context.Context, vector []float32, topK int, filters core.Filters) ([]*core.ScoredRecord, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, core.ErrEmptyVector)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", storage.ErrInvalidQuery, topK)
	}

	var results []*core.ScoredRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		schema, err := readStoreSchema(tx)
		if err != nil || schema == nil {
			return err
		}
		if len(vector) != schema.Dimension {
			return fmt.Errorf("%w: query has dimension %d, store holds %d",
				core.ErrSchemaMismatch, len(vector), schema.Dimension)
		}

		return scanPrefix(tx, []byte(recordPrefix), func(_, val []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			record, err := storage.UnmarshalRecord(val)
			if err != nil {
				return err
			}
			if !filters.Match(record) {
				return nil
			}
			results = append(results, &core.ScoredRecord{
				Record: record,
				Score:  core.DotProduct(vector, record.Vector),
			})
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	core.SortScored(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Schema returns the stored schema, or nil for an empty store.
func (s *RecordStore) Schema(ctx context.Context) (*core.StoreSchema, error) {
	var schema *core.StoreSchema
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		schema, err = readStoreSchema(tx)
		return err
	}, false)
	return schema, err
}

// Scan calls fn for every record in passage ID order.
func (s *RecordStore) Scan(ctx context.Context, fn func(*core.Record) error) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(recordPrefix), func(_, val []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			record, err := storage.UnmarshalRecord(val)
			if err != nil {
				return err
			}
			return fn(record)
		})
	}, false)
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		count = len(collectKeys(tx, []byte(recordPrefix)))
		return nil
	}, false)
	return count, err
}

func readStoreSchema(tx *badger.Txn) (*core.StoreSchema, error) {
	item, err := tx.Get([]byte(storeSchemaKey))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var schema *core.StoreSchema
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		schema, unmarshalErr = storage.UnmarshalSchema(val)
		return unmarshalErr
	})
	return schema, err
}
