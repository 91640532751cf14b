// Package config reads the newsrag configuration file and converts it into
// the per-component configuration structs.
//
// Configuration is explicit: components receive their settings at
// construction and never consult the file or the environment afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/ingestion"
	"github.com/poiesic/newsrag/retry"
	"github.com/poiesic/newsrag/search"
	"github.com/poiesic/newsrag/sender"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendBadger = "badger"
	BackendChroma = "chroma"
)

// ErrInvalidConfig is returned when a file holds unusable values.
var ErrInvalidConfig = errors.New("invalid configuration")

// StoreConfig selects where records live.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path is the Badger directory. With the chroma backend it still holds
	// the ledger and the schema.
	Path             string `yaml:"path"`
	ChromaURL        string `yaml:"chroma_url"`
	ChromaCollection string `yaml:"chroma_collection"`
}

// AIConfig configures the OpenAI-compatible services.
type AIConfig struct {
	EmbeddingHost  string  `yaml:"embedding_host"`
	GeneratorHost  string  `yaml:"generator_host"`
	EmbeddingModel string  `yaml:"embedding_model"`
	GeneratorModel string  `yaml:"generator_model"`
	APIToken       string  `yaml:"api_token,omitempty"`
	Temperature    float64 `yaml:"temperature"`
	RewriteQueries bool    `yaml:"rewrite_queries"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	MaxTokens        int           `yaml:"max_tokens"`
	OverlapSentences int           `yaml:"overlap_sentences"`
	MinContentChars  int           `yaml:"min_content_chars"`
	EmbedBatchSize   int           `yaml:"embed_batch_size"`
	PageSize         int           `yaml:"page_size"`
	MaxPages         int           `yaml:"max_pages"`
	Workers          int           `yaml:"workers"`
	SubjectPrefix    bool          `yaml:"subject_prefix"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
}

// RetrievalConfig configures retrieval and answer composition.
type RetrievalConfig struct {
	TopK              int           `yaml:"top_k"`
	CandidateFactor   int           `yaml:"candidate_factor"`
	PassagesPerSource int           `yaml:"passages_per_source"`
	MinSimilarity     float32       `yaml:"min_similarity"`
	LowConfidence     float32       `yaml:"low_confidence"`
	KeywordBoost      float32       `yaml:"keyword_boost"`
	LatestWindow      time.Duration `yaml:"latest_window"`
	CountLimit        int           `yaml:"count_limit"`
	MaxContext        int           `yaml:"max_context"`
	CacheSize         int64         `yaml:"cache_size"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
}

// RetryConfig is shared by every external call.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// MailConfig points at the message source.
type MailConfig struct {
	// Dir holds .eml files, one message per file.
	Dir string `yaml:"dir"`
}

// RegistryConfig overrides the built-in sender registry.
type RegistryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// File is the root of the configuration file.
type File struct {
	Store     StoreConfig     `yaml:"store"`
	AI        AIConfig        `yaml:"ai"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Retry     RetryConfig     `yaml:"retry"`
	Mail      MailConfig      `yaml:"mail"`
	Registry  RegistryConfig  `yaml:"registry"`
}

// Default returns the configuration used when no file exists.
func Default() *File {
	aiDefaults := ai.DefaultConfig()
	ingest := ingestion.DefaultConfig()
	retrieval := search.DefaultConfig()
	policy := retry.DefaultPolicy()

	return &File{
		Store: StoreConfig{
			Backend:          BackendBadger,
			Path:             "newsrag.db",
			ChromaURL:        "http://localhost:8000",
			ChromaCollection: "newsletters",
		},
		AI: AIConfig{
			EmbeddingHost:  aiDefaults.EmbeddingHost,
			GeneratorHost:  aiDefaults.GeneratorHost,
			EmbeddingModel: aiDefaults.EmbeddingModel,
			GeneratorModel: aiDefaults.GeneratorModel,
			Temperature:    aiDefaults.Temperature,
			RewriteQueries: aiDefaults.RewriteQueries,
		},
		Ingest: IngestConfig{
			MaxTokens:        ingest.MaxTokens,
			OverlapSentences: ingest.OverlapSentences,
			MinContentChars:  ingest.MinContentChars,
			EmbedBatchSize:   ingest.EmbedBatchSize,
			PageSize:         ingest.PageSize,
			MaxPages:         ingest.MaxPages,
			Workers:          ingest.Workers,
			SubjectPrefix:    ingest.SubjectPrefix,
			CallTimeout:      ingest.CallTimeout,
		},
		Retrieval: RetrievalConfig{
			TopK:              retrieval.TopK,
			CandidateFactor:   retrieval.CandidateFactor,
			PassagesPerSource: retrieval.PassagesPerSource,
			MinSimilarity:     retrieval.MinSimilarity,
			LowConfidence:     retrieval.LowConfidence,
			KeywordBoost:      retrieval.KeywordBoost,
			LatestWindow:      retrieval.LatestWindow,
			CountLimit:        retrieval.CountLimit,
			MaxContext:        retrieval.MaxContext,
			CacheSize:         retrieval.CacheSize,
			CallTimeout:       retrieval.CallTimeout,
		},
		Retry: RetryConfig{
			MaxAttempts: policy.MaxAttempts,
			BaseDelay:   policy.BaseDelay,
			MaxDelay:    policy.MaxDelay,
		},
		Mail: MailConfig{Dir: "mail"},
	}
}

// Load reads the file at path. A missing file yields the defaults. Keys
// absent from the file keep their default values.
func Load(path string) (*File, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults replaces zero values that would make a component unusable.
func applyDefaults(cfg *File) {
	def := Default()

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Store.ChromaCollection == "" {
		cfg.Store.ChromaCollection = def.Store.ChromaCollection
	}

	if cfg.Ingest.MaxTokens == 0 {
		cfg.Ingest.MaxTokens = def.Ingest.MaxTokens
	}
	if cfg.Ingest.EmbedBatchSize == 0 {
		cfg.Ingest.EmbedBatchSize = def.Ingest.EmbedBatchSize
	}
	if cfg.Ingest.PageSize == 0 {
		cfg.Ingest.PageSize = def.Ingest.PageSize
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = def.Ingest.Workers
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Retrieval.CandidateFactor == 0 {
		cfg.Retrieval.CandidateFactor = def.Retrieval.CandidateFactor
	}
	if cfg.Retrieval.PassagesPerSource == 0 {
		cfg.Retrieval.PassagesPerSource = def.Retrieval.PassagesPerSource
	}
	if cfg.Retrieval.LatestWindow == 0 {
		cfg.Retrieval.LatestWindow = def.Retrieval.LatestWindow
	}
	if cfg.Retrieval.CountLimit == 0 {
		cfg.Retrieval.CountLimit = def.Retrieval.CountLimit
	}
	if cfg.Retrieval.MaxContext == 0 {
		cfg.Retrieval.MaxContext = def.Retrieval.MaxContext
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
}

// Validate checks the file and every component configuration derived from it.
func (f *File) Validate() error {
	switch f.Store.Backend {
	case BackendBadger:
	case BackendChroma:
		if f.Store.ChromaURL == "" {
			return fmt.Errorf("%w: store.chroma_url is required with the chroma backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, f.Store.Backend)
	}
	if f.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required", ErrInvalidConfig)
	}
	if err := f.AIConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := f.IngestionConfig().Validate(); err != nil {
		return err
	}
	return f.SearchConfig().Validate()
}

// RetryPolicy returns the shared retry policy.
func (f *File) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: f.Retry.MaxAttempts,
		BaseDelay:   f.Retry.BaseDelay,
		MaxDelay:    f.Retry.MaxDelay,
	}
}

// AIConfig returns the provider configuration.
func (f *File) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(f.AI.EmbeddingHost),
		ai.WithGeneratorHost(f.AI.GeneratorHost),
		ai.WithEmbeddingModel(f.AI.EmbeddingModel),
		ai.WithGeneratorModel(f.AI.GeneratorModel),
		ai.WithAPIToken(f.AI.APIToken),
		ai.WithTemperature(f.AI.Temperature),
		ai.WithQueryRewriting(f.AI.RewriteQueries),
	)
}

// IngestionConfig returns the pipeline configuration.
func (f *File) IngestionConfig() ingestion.Config {
	return ingestion.Config{
		MaxTokens:        f.Ingest.MaxTokens,
		OverlapSentences: f.Ingest.OverlapSentences,
		MinContentChars:  f.Ingest.MinContentChars,
		EmbedBatchSize:   f.Ingest.EmbedBatchSize,
		PageSize:         f.Ingest.PageSize,
		MaxPages:         f.Ingest.MaxPages,
		Workers:          f.Ingest.Workers,
		Retry:            f.RetryPolicy(),
		CallTimeout:      f.Ingest.CallTimeout,
		SubjectPrefix:    f.Ingest.SubjectPrefix,
	}
}

// SearchConfig returns the retrieval and composition configuration.
func (f *File) SearchConfig() search.Config {
	return search.Config{
		TopK:              f.Retrieval.TopK,
		CandidateFactor:   f.Retrieval.CandidateFactor,
		PassagesPerSource: f.Retrieval.PassagesPerSource,
		MinSimilarity:     f.Retrieval.MinSimilarity,
		LowConfidence:     f.Retrieval.LowConfidence,
		KeywordBoost:      f.Retrieval.KeywordBoost,
		LatestWindow:      f.Retrieval.LatestWindow,
		CountLimit:        f.Retrieval.CountLimit,
		MaxContext:        f.Retrieval.MaxContext,
		CacheSize:         f.Retrieval.CacheSize,
		Retry:             f.RetryPolicy(),
		CallTimeout:       f.Retrieval.CallTimeout,
	}
}

// SenderRegistry loads the configured registry, or the built-in one when
// no path is set.
func (f *File) SenderRegistry() (*sender.Registry, error) {
	if f.Registry.Path == "" {
		return sender.DefaultRegistry(), nil
	}
	r, err := sender.LoadRegistry(f.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load sender registry: %w", err)
	}
	return r, nil
}
