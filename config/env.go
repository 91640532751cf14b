package config

import (
	"fmt"
	"os"
	"strconv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NEWSRAG_"

// ApplyEnv overrides file values with NEWSRAG_* variables from the process
// environment. NEWSRAG_HOST sets both service hosts; the specific host
// variables take precedence over it.
func ApplyEnv(f *File) error {
	return ApplyLookup(f, os.LookupEnv)
}

// ApplyLookup is ApplyEnv with a custom variable source.
func ApplyLookup(f *File, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrefix + "HOST"); ok && v != "" {
		f.AI.EmbeddingHost = v
		f.AI.GeneratorHost = v
	}

	strs := map[string]*string{
		"STORE_BACKEND":     &f.Store.Backend,
		"DB":                &f.Store.Path,
		"CHROMA_URL":        &f.Store.ChromaURL,
		"CHROMA_COLLECTION": &f.Store.ChromaCollection,
		"EMBEDDING_HOST":    &f.AI.EmbeddingHost,
		"GENERATOR_HOST":    &f.AI.GeneratorHost,
		"EMBEDDING_MODEL":   &f.AI.EmbeddingModel,
		"GENERATOR_MODEL":   &f.AI.GeneratorModel,
		"API_TOKEN":         &f.AI.APIToken,
		"MAIL_DIR":          &f.Mail.Dir,
		"REGISTRY":          &f.Registry.Path,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "REWRITE_QUERIES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sREWRITE_QUERIES: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		f.AI.RewriteQueries = b
	}
	if v, ok := lookup(EnvPrefix + "TOP_K"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sTOP_K: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		f.Retrieval.TopK = n
	}
	if v, ok := lookup(EnvPrefix + "WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sWORKERS: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		f.Ingest.Workers = n
	}
	return nil
}
