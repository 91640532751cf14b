package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poiesic/newsrag/ai/mock"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/storage"
	"github.com/poiesic/newsrag/storage/badger"
)

var refTime = time.Date(2025, 6, 18, 15, 30, 0, 0, time.UTC) // a Wednesday

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Millisecond
	cfg.CallTimeout = time.Second
	return cfg
}

// vectorRecord builds a record with an explicit vector.
func vectorRecord(source string, ordinal int, vector []float32, ts time.Time) *core.Record {
	return &core.Record{
		EmbeddedPassage: core.EmbeddedPassage{
			Passage: core.NewPassage(source, core.Chunk{Ordinal: ordinal, Text: "passage " + source, Tokens: 2}),
			Vector:  vector,
			Model:   "test-model",
		},
		Sender:    source + "@example.com",
		Subject:   "Subject " + source,
		Timestamp: ts,
	}
}

// textRecord builds a record embedded like the mock embedder would.
func textRecord(source, subject, company, text string, ts time.Time) *core.Record {
	return &core.Record{
		EmbeddedPassage: core.EmbeddedPassage{
			Passage: core.NewPassage(source, core.Chunk{Text: text, Tokens: len(text)}),
			Vector:  mock.BagOfWordsVector(text, mock.DefaultDimension),
			Model:   mock.DefaultModel,
		},
		Sender:    "Newsletter <news@" + company + ".com>",
		Company:   company,
		Subject:   subject,
		Timestamp: ts,
	}
}

func memoryStore(t *testing.T, records ...*core.Record) *badger.RecordStore {
	t.Helper()
	store, _, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	if len(records) > 0 {
		require.NoError(t, store.Upsert(context.Background(), records...))
	}
	return store
}

// failingStore fails every query with err.
type failingStore struct {
	storage.RecordStore
	err     error
	queries int
}

func (s *failingStore) Query(ctx context.Context, vector []float32, topK int, filters core.Filters) ([]*core.ScoredRecord, error) {
	s.queries++
	return nil, s.err
}

// recordingMonitor remembers the stages it saw.
type recordingMonitor struct {
	stages     []string
	plan       *core.PlannedQuery
	candidates int
	result     *core.RetrievalResult
	answer     *core.Answer
}

var _ SearchMonitor = (*recordingMonitor)(nil)

func (m *recordingMonitor) Start(string) { m.stages = append(m.stages, "start") }

func (m *recordingMonitor) AfterPlan(pq *core.PlannedQuery) {
	m.stages = append(m.stages, "plan")
	m.plan = pq
}

func (m *recordingMonitor) AfterQuery(c []*core.ScoredRecord) {
	m.stages = append(m.stages, "query")
	m.candidates = len(c)
}

func (m *recordingMonitor) AfterFilter(r *core.RetrievalResult) {
	m.stages = append(m.stages, "filter")
	m.result = r
}

func (m *recordingMonitor) Finish(a *core.Answer) {
	m.stages = append(m.stages, "finish")
	m.answer = a
}
