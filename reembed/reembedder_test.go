package reembed

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/poiesic/newsrag/ai/mock"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(batchSize int) *Config {
	return &Config{
		BatchSize:      batchSize,
		ReportInterval: batchSize,
		Retry:          fastPolicy(),
		SubjectPrefix:  true,
	}
}

func TestNewReembedder_Validation(t *testing.T) {
	store, _ := newStore(t)
	other, _ := newStore(t)
	embedder := mock.NewMockEmbedder()

	_, err := NewReembedder(nil, other, embedder, nil, nil)
	assert.ErrorIs(t, err, ErrSourceRequired)
	_, err = NewReembedder(store, nil, embedder, nil, nil)
	assert.ErrorIs(t, err, ErrTargetRequired)
	_, err = NewReembedder(store, other, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = NewReembedder(store, store, embedder, nil, nil)
	assert.ErrorIs(t, err, ErrSameStore)
}

func TestReembedder_Run(t *testing.T) {
	source, _ := seedStore(t, 10)
	target, _ := newStore(t)
	ctx := context.Background()

	var buf bytes.Buffer
	r, err := NewReembedder(source, target, mock.NewMockEmbedder(), testConfig(3), &buf)
	require.NoError(t, err)

	result, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Records)
	assert.Equal(t, mock.DefaultModel, result.Model)

	migrated := scanAll(t, target)
	require.Len(t, migrated, 10)
	for _, rec := range migrated {
		assert.Equal(t, mock.DefaultModel, rec.Model)
		var magnitude float32
		for _, v := range rec.Vector {
			magnitude += v * v
		}
		assert.InDelta(t, 1.0, magnitude, 0.01, "vector should be normalized")
	}

	// The source keeps its old vectors.
	for _, rec := range scanAll(t, source) {
		assert.Equal(t, oldModel, rec.Model)
	}

	assert.Contains(t, buf.String(), "10/10")
	assert.Contains(t, buf.String(), "Re-embedding complete")
}

func TestReembedder_QueryableAfterMigration(t *testing.T) {
	source, _ := seedStore(t, 4)
	target, _ := newStore(t)
	ctx := context.Background()
	embedder := mock.NewMockEmbedder()

	r, err := NewReembedder(source, target, embedder, testConfig(2), nil)
	require.NoError(t, err)
	_, err = r.Run(ctx)
	require.NoError(t, err)

	vector, err := embedder.EmbedText(ctx, "chips")
	require.NoError(t, err)
	results, err := target.Query(ctx, vector, 2, core.Filters{})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	_, err = source.Query(ctx, vector, 2, core.Filters{})
	assert.ErrorIs(t, err, core.ErrSchemaMismatch, "old store still holds the old space")
}

func TestReembedder_Idempotent(t *testing.T) {
	source, _ := seedStore(t, 5)
	target, _ := newStore(t)
	ctx := context.Background()

	for range 2 {
		r, err := NewReembedder(source, target, mock.NewMockEmbedder(), testConfig(2), nil)
		require.NoError(t, err)
		_, err = r.Run(ctx)
		require.NoError(t, err)
	}

	count, err := target.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestReembedder_EmptySource(t *testing.T) {
	source, _ := newStore(t)
	target, _ := newStore(t)

	var buf bytes.Buffer
	r, err := NewReembedder(source, target, mock.NewMockEmbedder(), DefaultConfig(), &buf)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Records)
	assert.Contains(t, buf.String(), "0 records")
}

func TestReembedder_TargetSchemaMismatch(t *testing.T) {
	source, _ := seedStore(t, 3)
	target, _ := seedStore(t, 1)

	embedder := mock.NewMockEmbedder()
	r, err := NewReembedder(source, target, embedder, testConfig(2), nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrSchemaMismatch)
	assert.Equal(t, 0, embedder.CallCount(), "nothing is embedded when the target is incompatible")
}

func TestReembedder_EmbeddingError(t *testing.T) {
	source, _ := seedStore(t, 6)
	target, _ := newStore(t)

	embedder := mock.NewMockEmbedder()
	calls := 0
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls > 1 {
			return nil, retry.Transient(errors.New("quota exceeded"))
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.BagOfWordsVector(text, 16)
		}
		return out, nil
	}

	r, err := NewReembedder(source, target, embedder, testConfig(2), nil)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
	assert.Equal(t, 2, result.Records, "first batch was migrated")
}

func TestReembedder_ContextCancellation(t *testing.T) {
	source, _ := seedStore(t, 6)
	target, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		cancel()
		return mock.NewMockEmbedder().EmbedTexts(context.Background(), texts)
	}

	r, err := NewReembedder(source, target, embedder, testConfig(2), nil)
	require.NoError(t, err)

	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCopyLedger(t *testing.T) {
	_, src := newStore(t)
	_, dst := newStore(t)
	ctx := context.Background()

	entry := &core.SourceEntry{
		SourceID:    "m1",
		Subject:     "Supply chain",
		ContentHash: "abc",
		Model:       oldModel,
		PassageIDs:  []core.ID{core.PassageID("m1", 0)},
	}
	require.NoError(t, src.PutSource(ctx, entry))

	n, err := CopyLedger(ctx, src, dst, "new-model")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := dst.GetSource(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new-model", got.Model)
	assert.Equal(t, "abc", got.ContentHash)
	assert.Equal(t, entry.PassageIDs, got.PassageIDs)

	orig, err := src.GetSource(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, oldModel, orig.Model)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, DefaultBatchSize, config.BatchSize)
	assert.Equal(t, 100, config.ReportInterval)
	assert.Equal(t, 3, config.Retry.MaxAttempts)
	assert.True(t, config.SubjectPrefix)
}
