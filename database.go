// Package newsrag ties the newsletter pipeline together: one Database owns
// the record store, the ingestion ledger and the AI provider, and hands out
// ingestion pipelines and answerers bound to them.
package newsrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/ai/openai"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/ingestion"
	"github.com/poiesic/newsrag/reembed"
	"github.com/poiesic/newsrag/search"
	"github.com/poiesic/newsrag/sender"
	"github.com/poiesic/newsrag/storage"
	"github.com/poiesic/newsrag/storage/badger"
	"github.com/poiesic/newsrag/storage/chroma"
)

// Database is the entry point for ingesting and querying newsletters.
type Database struct {
	backend  *badger.Backend
	store    storage.RecordStore
	ledger   *badger.Ledger
	provider ai.AIProvider
	registry *sender.Registry
	logger   *slog.Logger
}

// Stats describes the contents of a Database.
type Stats struct {
	Records  int
	Sources  int
	Failures int
	Schema   *core.StoreSchema // nil until the first record is stored
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig *ai.Config
	provider ai.AIProvider
	chroma   *chroma.Config
	registry *sender.Registry
	inMemory bool
	logger   *slog.Logger
}

// WithAIConfig sets the configuration of the OpenAI-compatible provider.
func WithAIConfig(cfg *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = cfg
	}
}

// WithProvider uses provider instead of building one from the AI config.
// The Database closes it.
func WithProvider(provider ai.AIProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithChroma keeps records in a Chroma collection. The ledger and the store
// schema stay in the Badger directory.
func WithChroma(cfg chroma.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.chroma = &cfg
	}
}

// WithRegistry sets the sender registry.
func WithRegistry(r *sender.Registry) DatabaseOption {
	return func(o *databaseOptions) {
		o.registry = r
	}
}

// InMemory keeps the Badger data in memory. The path is ignored.
func InMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// WithLogger sets the logger. A nil logger selects slog.Default().
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// Open opens or creates the database at filePath.
func Open(ctx context.Context, filePath string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := options.registry
	if registry == nil {
		registry = sender.DefaultRegistry()
	}

	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}
	ledger := badger.NewLedger(backend)

	var store storage.RecordStore
	if options.chroma != nil {
		store, err = chroma.NewStore(ctx, *options.chroma, ledger, logger)
	} else {
		store, err = badger.NewRecordStore(backend, badger.WithLogger(logger))
	}
	if err != nil {
		backend.Close()
		return nil, err
	}

	provider := options.provider
	if provider == nil {
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			store.Close()
			backend.Close()
			return nil, err
		}
	}

	return &Database{
		backend:  backend,
		store:    store,
		ledger:   ledger,
		provider: provider,
		registry: registry,
		logger:   logger,
	}, nil
}

// Close releases the provider, the record store and the backend.
func (db *Database) Close() error {
	var errs []error
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing AI provider", "err", err)
		errs = append(errs, err)
	}
	if err := db.store.Close(); err != nil {
		db.logger.Error("error closing record store", "err", err)
		errs = append(errs, err)
	}
	if err := db.backend.Close(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (db *Database) RecordStore() storage.RecordStore {
	return db.store
}

func (db *Database) Ledger() storage.Ledger {
	return db.ledger
}

func (db *Database) Provider() ai.AIProvider {
	return db.provider
}

// NewIngestionPipeline creates a pipeline writing to this database. The
// caller must Release it.
func (db *Database) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	base := []ingestion.Option{
		ingestion.WithRegistry(db.registry),
		ingestion.WithLogger(db.logger),
	}
	return ingestion.NewPipeline(db.store, db.ledger, db.provider.Embedder(), append(base, opts...)...)
}

// NewAnswerer creates an answerer over this database. The caller must Close it.
func (db *Database) NewAnswerer(opts ...search.Option) (*search.Answerer, error) {
	base := []search.Option{
		search.WithRegistry(db.registry),
		search.WithLogger(db.logger),
	}
	return search.NewAnswerer(db.store, db.provider, append(base, opts...)...)
}

// DeleteSource removes every passage of a message along with its ledger and
// failure entries. It reports whether the message had been indexed.
func (db *Database) DeleteSource(ctx context.Context, sourceID string) (bool, error) {
	if sourceID == "" {
		return false, core.ErrEmptySourceID
	}
	entry, err := db.ledger.GetSource(ctx, sourceID)
	if err != nil {
		return false, err
	}
	if err := db.store.DeleteBySource(ctx, sourceID); err != nil {
		return false, fmt.Errorf("failed to delete passages of %s: %w", sourceID, err)
	}
	if err := db.ledger.DeleteSource(ctx, sourceID); err != nil {
		return false, err
	}
	if err := db.ledger.ClearFailure(ctx, sourceID); err != nil {
		return false, err
	}
	db.logger.Info("deleted source", "source", sourceID, "indexed", entry != nil)
	return entry != nil, nil
}

// Stats counts records, indexed sources and recorded failures.
func (db *Database) Stats(ctx context.Context) (*Stats, error) {
	records, err := db.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	sources, err := db.ledger.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	failures, err := db.ledger.ListFailures(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := db.store.Schema(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Records:  records,
		Sources:  len(sources),
		Failures: len(failures),
		Schema:   schema,
	}, nil
}

// MigrateTo re-embeds every record into target with target's embedder and
// copies the source ledger with the new model id. Progress goes to progress,
// which may be nil.
func (db *Database) MigrateTo(ctx context.Context, target *Database, cfg *reembed.Config, progress io.Writer) (*reembed.Result, error) {
	embedder := target.provider.Embedder()
	r, err := reembed.NewReembedder(db.store, target.store, embedder, cfg, progress)
	if err != nil {
		return nil, err
	}
	result, err := r.Run(ctx)
	if err != nil {
		return result, err
	}
	if _, err := reembed.CopyLedger(ctx, db.ledger, target.ledger, embedder.ModelID()); err != nil {
		return result, err
	}
	return result, nil
}
