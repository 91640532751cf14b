package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newsrag.yaml")
	data := `
store:
  path: /var/lib/newsrag
ai:
  embedding_model: nomic-embed-text
  rewrite_queries: false
ingest:
  max_tokens: 120
  call_timeout: 45s
retrieval:
  top_k: 0
  count_limit: 0
  keyword_boost: 0.05
  latest_window: 168h
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, "/var/lib/newsrag", cfg.Store.Path)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, "nomic-embed-text", cfg.AI.EmbeddingModel)
	assert.Equal(t, def.AI.GeneratorModel, cfg.AI.GeneratorModel)
	assert.False(t, cfg.AI.RewriteQueries)
	assert.Equal(t, 120, cfg.Ingest.MaxTokens)
	assert.Equal(t, 45*time.Second, cfg.Ingest.CallTimeout)
	assert.True(t, cfg.Ingest.SubjectPrefix)
	assert.Equal(t, def.Retrieval.TopK, cfg.Retrieval.TopK, "zero top_k falls back to the default")
	assert.Equal(t, 500, cfg.Retrieval.CountLimit)
	assert.InDelta(t, 0.05, cfg.Retrieval.KeywordBoost, 1e-6)
	assert.Equal(t, 7*24*time.Hour, cfg.Retrieval.LatestWindow)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unclosed"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "newsrag.yaml")
	cfg := Default()
	cfg.Store.Backend = BackendChroma
	cfg.Retrieval.MinSimilarity = 0.2
	cfg.Retry.BaseDelay = 250 * time.Millisecond

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*File)
	}{
		{"unknown backend", func(f *File) { f.Store.Backend = "sqlite" }},
		{"chroma without url", func(f *File) { f.Store.Backend = BackendChroma; f.Store.ChromaURL = "" }},
		{"empty path", func(f *File) { f.Store.Path = "" }},
		{"missing embedding model", func(f *File) { f.AI.EmbeddingModel = "" }},
		{"negative overlap", func(f *File) { f.Ingest.OverlapSentences = -1 }},
		{"similarity above one", func(f *File) { f.Retrieval.MinSimilarity = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.Ingest.MaxTokens = 150
	cfg.Ingest.OverlapSentences = 1
	cfg.Retrieval.TopK = 5
	cfg.Retry.MaxAttempts = 4

	ingest := cfg.IngestionConfig()
	assert.Equal(t, 150, ingest.MaxTokens)
	assert.Equal(t, 1, ingest.OverlapSentences)
	assert.Equal(t, 4, ingest.Retry.MaxAttempts)

	retrieval := cfg.SearchConfig()
	assert.Equal(t, 5, retrieval.TopK)
	assert.Equal(t, cfg.Retrieval.CountLimit, retrieval.CountLimit)
	assert.Equal(t, 4, retrieval.Retry.MaxAttempts)

	aiCfg := cfg.AIConfig()
	assert.Equal(t, cfg.AI.EmbeddingModel, aiCfg.EmbeddingModel)
	assert.Equal(t, cfg.AI.RewriteQueries, aiCfg.RewriteQueries)
}

func TestSenderRegistry(t *testing.T) {
	cfg := Default()
	r, err := cfg.SenderRegistry()
	require.NoError(t, err)
	assert.True(t, r.Has("mckinsey"))

	path := filepath.Join(t.TempDir(), "registry.yaml")
	data := "companies:\n  - key: acme\n    domains: [acme.com]\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg.Registry.Path = path
	r, err = cfg.SenderRegistry()
	require.NoError(t, err)
	assert.Equal(t, "acme", r.Match("News <news@acme.com>"))
	assert.False(t, r.Has("mckinsey"))

	cfg.Registry.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.SenderRegistry()
	assert.Error(t, err)
}
