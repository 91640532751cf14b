package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/newsrag/ai/mock"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/retry"
)

func TestNewAnswerer(t *testing.T) {
	store := memoryStore(t)
	provider := mock.NewMockProvider()

	t.Run("valid configuration", func(t *testing.T) {
		a, err := NewAnswerer(store, provider)
		require.NoError(t, err)
		a.Close()
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		a, err := NewAnswerer(store, provider, WithLogger(nil), WithLogger(slog.Default()))
		require.NoError(t, err)
		a.Close()
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := NewAnswerer(nil, provider)
		assert.Equal(t, ErrRecordStoreRequired, err)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := NewAnswerer(store, nil)
		assert.Equal(t, ErrAIProviderRequired, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.TopK = 0
		_, err := NewAnswerer(store, provider, WithConfig(cfg))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestAnswer_CitesOnlyRelevantNewsletter(t *testing.T) {
	m1 := textRecord("m1", "Supply chain outlook", "mckinsey",
		"Global supply chains are being rebuilt around nearshoring in Mexico and Vietnam.", refTime)
	m2 := textRecord("m2", "Quantum computing primer", "mckinsey",
		"Quantum computing startups attracted record venture funding for error correction research.", refTime)
	store := memoryStore(t, m1, m2)

	provider := mock.NewMockProvider()
	a, err := NewAnswerer(store, provider, WithConfig(testConfig()))
	require.NoError(t, err)
	defer a.Close()

	monitor := &recordingMonitor{}
	answer, err := a.AnswerWithMonitor(context.Background(), "Which startups raised funding for quantum error correction?", core.Filters{}, monitor)
	require.NoError(t, err)

	require.NotEmpty(t, monitor.result.Entries)
	assert.Equal(t, "m2", monitor.result.Entries[0].Record.SourceID)

	require.NotEmpty(t, answer.Citations)
	var cited []string
	for _, c := range answer.Citations {
		cited = append(cited, c.SourceID)
	}
	assert.Contains(t, cited, "m2")
	assert.NotContains(t, cited, "m1")
	assert.Equal(t, "Quantum computing primer", answer.Citations[0].Subject)
	assert.True(t, answer.Grounded)
	assert.Equal(t, []string{"start", "plan", "query", "filter", "finish"}, monitor.stages)
}

func TestAnswer_UnmarkedAnswerCitesOnlyRelevantNewsletter(t *testing.T) {
	m1 := textRecord("m1", "Supply chain outlook", "mckinsey",
		"Global supply chains are being rebuilt around nearshoring in Mexico and Vietnam.", refTime)
	m2 := textRecord("m2", "Quantum computing primer", "mckinsey",
		"Quantum computing startups attracted record venture funding for error correction research.", refTime)
	store := memoryStore(t, m1, m2)

	provider := mock.NewMockProvider()
	provider.MockGenerator().GenerateFunc = func(ctx context.Context, system, prompt string) (string, error) {
		return "Quantum computing startups attracted record venture funding.", nil
	}
	a, err := NewAnswerer(store, provider, WithConfig(testConfig()))
	require.NoError(t, err)
	defer a.Close()

	answer, err := a.Answer(context.Background(), "Which startups raised funding for quantum error correction?", core.Filters{})
	require.NoError(t, err)

	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "m2", answer.Citations[0].SourceID)
	assert.True(t, answer.Grounded)
}

func TestAnswer_CountsEveryMatchingNewsletter(t *testing.T) {
	var records []*core.Record
	for i := range 20 {
		records = append(records, vectorRecord(fmt.Sprintf("n%02d", i), 0, unit(1, 0), refTime))
	}
	store := memoryStore(t, records...)

	provider := mock.NewMockProvider()
	provider.MockEmbedder().EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}
	a, err := NewAnswerer(store, provider, WithConfig(testConfig()))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Answer(context.Background(), "How many newsletters mention tariffs on steel imports?", core.Filters{})
	require.NoError(t, err)
	assert.Contains(t, provider.MockGenerator().LastPrompt(), "There are 20 matching newsletters.")
}

func TestAnswer_NoResults(t *testing.T) {
	provider := mock.NewMockProvider()
	a, err := NewAnswerer(memoryStore(t), provider, WithConfig(testConfig()))
	require.NoError(t, err)
	defer a.Close()

	answer, err := a.Answer(context.Background(), "anything at all?", core.Filters{})
	require.NoError(t, err)
	assert.Equal(t, NoResultsAnswer, answer.Text)
	assert.Zero(t, provider.MockGenerator().CallCount())
}

func TestAnswer_EmbeddingUnavailable(t *testing.T) {
	provider := mock.NewMockProvider()
	provider.MockEmbedder().EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, retry.Transient(errors.New("timeout"))
	}
	a, err := NewAnswerer(memoryStore(t), provider, WithConfig(testConfig()))
	require.NoError(t, err)
	defer a.Close()

	answer, err := a.Answer(context.Background(), "anything?", core.Filters{})
	require.NoError(t, err)
	assert.True(t, answer.Unavailable)
	assert.Equal(t, UnavailableAnswer, answer.Text)
	assert.Zero(t, provider.MockGenerator().CallCount())
}

func TestAnswer_StoreUnavailable(t *testing.T) {
	provider := mock.NewMockProvider()
	store := &failingStore{err: core.ErrStoreUnavailable}
	a, err := NewAnswerer(store, provider, WithConfig(testConfig()))
	require.NoError(t, err)
	defer a.Close()

	monitor := &recordingMonitor{}
	answer, err := a.AnswerWithMonitor(context.Background(), "anything?", core.Filters{}, monitor)
	require.NoError(t, err)
	assert.True(t, answer.Unavailable)
	assert.Same(t, answer, monitor.answer)
}

func TestAnswer_SchemaMismatch(t *testing.T) {
	// records of a different model and dimension
	store := memoryStore(t, vectorRecord("a", 0, unit(1, 0), refTime))
	provider := mock.NewMockProvider()
	a, err := NewAnswerer(store, provider, WithConfig(testConfig()))
	require.NoError(t, err)
	defer a.Close()

	answer, err := a.Answer(context.Background(), "anything?", core.Filters{})
	require.NoError(t, err)
	assert.True(t, answer.Unavailable)
	assert.Equal(t, SchemaMismatchAnswer, answer.Text)
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	a, err := NewAnswerer(memoryStore(t), mock.NewMockProvider())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Answer(context.Background(), "", core.Filters{})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}
