package ingestion

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/newsrag/ai/mock"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/mailsource"
	"github.com/poiesic/newsrag/retry"
	"github.com/poiesic/newsrag/storage/badger"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	supplyChainBody = "Global supply chains are being rebuilt around nearshoring in Mexico and Vietnam. " +
		"Tariffs accelerated the shift for electronics makers. " +
		"Logistics costs fell for the third straight quarter."
	aiAdoptionBody = "Generative AI adoption keeps climbing across industries. " +
		"Half of the surveyed firms now run pilots in customer service. " +
		"Few have scaled them beyond a single business unit."
)

func testMessage(id, subject, body string, offset int) *core.RawMessage {
	return &core.RawMessage{
		ID:          id,
		Sender:      "McKinsey Insights <publishing@email.mckinsey.com>",
		Subject:     subject,
		Timestamp:   baseTime.Add(time.Duration(offset) * time.Hour),
		ContentType: "text/plain",
		Body:        body,
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	cfg.CallTimeout = time.Second
	return cfg
}

type fixture struct {
	store    *badger.RecordStore
	ledger   *badger.Ledger
	embedder *mock.MockEmbedder
	pipeline *Pipeline
}

func setupPipeline(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	store, ledger, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	embedder := mock.NewMockEmbedder()
	p, err := NewPipeline(store, ledger, embedder, append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(p.Release)

	return &fixture{store: store, ledger: ledger, embedder: embedder, pipeline: p}
}

func (f *fixture) recordIDs(t *testing.T) []core.ID {
	t.Helper()
	var ids []core.ID
	require.NoError(t, f.store.Scan(context.Background(), func(r *core.Record) error {
		ids = append(ids, r.ID)
		return nil
	}))
	slices.Sort(ids)
	return ids
}

func (f *fixture) recordsOf(t *testing.T, sourceID string) []*core.Record {
	t.Helper()
	var out []*core.Record
	require.NoError(t, f.store.Scan(context.Background(), func(r *core.Record) error {
		if r.SourceID == sourceID {
			out = append(out, r)
		}
		return nil
	}))
	return out
}

// failWhen makes the embedder fail every call whose input contains marker.
func failWhen(m *mock.MockEmbedder, marker string, err error) {
	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		for _, text := range texts {
			if strings.Contains(text, marker) {
				return nil, err
			}
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.BagOfWordsVector(text, mock.DefaultDimension)
		}
		return out, nil
	}
}

func TestNewPipeline_RequiredDependencies(t *testing.T) {
	store, ledger, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()
	embedder := mock.NewMockEmbedder()

	_, err = NewPipeline(nil, ledger, embedder)
	assert.ErrorIs(t, err, ErrRecordStoreRequired)

	_, err = NewPipeline(store, nil, embedder)
	assert.ErrorIs(t, err, ErrLedgerRequired)

	_, err = NewPipeline(store, ledger, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	cfg := DefaultConfig()
	cfg.EmbedBatchSize = 0
	_, err = NewPipeline(store, ledger, embedder, WithConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIngest_StoresMessages(t *testing.T) {
	f := setupPipeline(t, fastConfig())
	ctx := context.Background()

	summary, err := f.pipeline.Ingest(ctx, []*core.RawMessage{
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
		testMessage("m2", "The state of AI", aiAdoptionBody, 1),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 2, summary.Stored)
	assert.Zero(t, summary.Failed)
	assert.NotEmpty(t, summary.RunID)
	require.Len(t, summary.Outcomes, 2)
	assert.Equal(t, "m1", summary.Outcomes[0].SourceID, "outcomes follow fetch order")
	assert.Equal(t, core.StateStored, summary.Outcomes[0].State)

	records := f.recordsOf(t, "m2")
	require.NotEmpty(t, records)
	assert.Equal(t, "mckinsey", records[0].Company)
	assert.Equal(t, "The state of AI", records[0].Subject)
	assert.Equal(t, mock.DefaultModel, records[0].Model)
	assert.Equal(t, baseTime.Add(time.Hour), records[0].Timestamp)

	entry, err := f.ledger.GetSource(ctx, "m2")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Len(t, entry.PassageIDs, len(records))
	assert.Equal(t, mock.DefaultModel, entry.Model)
}

func TestIngest_Idempotent(t *testing.T) {
	f := setupPipeline(t, fastConfig())
	ctx := context.Background()
	msgs := []*core.RawMessage{
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
		testMessage("m2", "The state of AI", aiAdoptionBody, 1),
	}

	_, err := f.pipeline.Ingest(ctx, msgs)
	require.NoError(t, err)
	first := f.recordIDs(t)
	calls := f.embedder.CallCount()

	summary, err := f.pipeline.Ingest(ctx, msgs)
	require.NoError(t, err)

	assert.Equal(t, first, f.recordIDs(t))
	assert.Equal(t, 2, summary.Unchanged)
	assert.Zero(t, summary.Stored)
	assert.Equal(t, calls, f.embedder.CallCount(), "unchanged content is not embedded again")
	for _, o := range summary.Outcomes {
		assert.Equal(t, core.StateStored, o.State)
		assert.True(t, o.Unchanged)
	}
}

func TestIngest_ChangedContentReplacesPassages(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxTokens = 12
	f := setupPipeline(t, cfg)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, []*core.RawMessage{
		testMessage("m1", "Supply chain outlook", supplyChainBody+" "+aiAdoptionBody, 0),
	})
	require.NoError(t, err)
	before := len(f.recordsOf(t, "m1"))
	require.Greater(t, before, 2)

	summary, err := f.pipeline.Ingest(ctx, []*core.RawMessage{
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)

	after := f.recordsOf(t, "m1")
	assert.Less(t, len(after), before, "passages of the old version are removed")
	for _, r := range after {
		assert.NotContains(t, r.Text, "Generative AI")
	}
}

func TestIngest_ChunkingChangeRechunks(t *testing.T) {
	store, ledger, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()
	embedder := mock.NewMockEmbedder()
	ctx := context.Background()
	msg := testMessage("m1", "Supply chain outlook", supplyChainBody, 0)

	cfg := fastConfig()
	p1, err := NewPipeline(store, ledger, embedder, WithConfig(cfg))
	require.NoError(t, err)
	defer p1.Release()
	_, err = p1.Ingest(ctx, []*core.RawMessage{msg})
	require.NoError(t, err)

	cfg.MaxTokens = 10
	p2, err := NewPipeline(store, ledger, embedder, WithConfig(cfg))
	require.NoError(t, err)
	defer p2.Release()
	summary, err := p2.Ingest(ctx, []*core.RawMessage{msg})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Stored)
	assert.Zero(t, summary.Unchanged)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	entry, err := ledger.GetSource(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, len(entry.PassageIDs), count)
	assert.Greater(t, count, 1)
}

func TestIngest_SkipsEmptyContent(t *testing.T) {
	f := setupPipeline(t, fastConfig())
	ctx := context.Background()

	summary, err := f.pipeline.Ingest(ctx, []*core.RawMessage{
		testMessage("short", "Hi", "Thanks for subscribing!", 0),
		testMessage("blank", "Empty", "   ", 1),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Failed)
	for _, o := range summary.Outcomes {
		assert.Equal(t, core.StateSkipped, o.State)
		assert.Zero(t, o.Passages)
		assert.NoError(t, o.Err)
	}
	assert.Zero(t, f.embedder.CallCount())
	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	failures, err := f.ledger.ListFailures(ctx)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestIngest_RetriesTransientEmbeddingFailures(t *testing.T) {
	f := setupPipeline(t, fastConfig())
	ctx := context.Background()

	var mu sync.Mutex
	failures := 0
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures < 2 {
			failures++
			return nil, retry.Transient(errors.New("connection reset by peer"))
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.BagOfWordsVector(text, mock.DefaultDimension)
		}
		return out, nil
	}

	summary, err := f.pipeline.Ingest(ctx, []*core.RawMessage{
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
	})
	require.NoError(t, err)

	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, core.StateStored, summary.Outcomes[0].State)
	assert.Equal(t, 1, summary.Stored)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 3, f.embedder.CallCount())
}

func TestIngest_ExhaustedRetriesFailOneMessage(t *testing.T) {
	f := setupPipeline(t, fastConfig())
	ctx := context.Background()
	failWhen(f.embedder, "nearshoring", retry.Transient(errors.New("i/o timeout")))

	summary, err := f.pipeline.Ingest(ctx, []*core.RawMessage{
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
		testMessage("m2", "The state of AI", aiAdoptionBody, 1),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, core.StateFailed, summary.Outcomes[0].State)
	assert.ErrorIs(t, summary.Outcomes[0].Err, core.ErrEmbeddingUnavailable)
	assert.Equal(t, core.StateStored, summary.Outcomes[1].State)

	assert.Empty(t, f.recordsOf(t, "m1"), "a failed message leaves no partial passages")
	assert.NotEmpty(t, f.recordsOf(t, "m2"))

	failures, err := f.ledger.ListFailures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "m1", failures[0].SourceID)
	assert.Equal(t, "embedding_unavailable", failures[0].ErrorType)
	assert.Equal(t, 1, failures[0].Attempts)

	entry, err := f.ledger.GetSource(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestIngest_PermanentEmbeddingErrorIsNotRetried(t *testing.T) {
	f := setupPipeline(t, fastConfig())
	failWhen(f.embedder, "nearshoring", errors.New("invalid api key"))

	summary, err := f.pipeline.Ingest(context.Background(), []*core.RawMessage{
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, f.embedder.CallCount())
}

func TestIngest_InvalidMessageFails(t *testing.T) {
	f := setupPipeline(t, fastConfig())
	ctx := context.Background()

	noDate := testMessage("m1", "Supply chain outlook", supplyChainBody, 0)
	noDate.Timestamp = time.Time{}

	summary, err := f.pipeline.Ingest(ctx, []*core.RawMessage{noDate})
	require.NoError(t, err)

	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, core.StateFailed, summary.Outcomes[0].State)
	assert.ErrorIs(t, summary.Outcomes[0].Err, core.ErrInvalidRawMessage)
	assert.Zero(t, f.embedder.CallCount())
}

func TestIngest_SchemaMismatchStopsBatch(t *testing.T) {
	f := setupPipeline(t, fastConfig())
	ctx := context.Background()

	existing := &core.Record{
		EmbeddedPassage: core.EmbeddedPassage{
			Passage: core.NewPassage("old", core.Chunk{Text: "older newsletter text", Tokens: 3}),
			Vector:  []float32{1, 0, 0, 0},
			Model:   "other-model",
		},
		Timestamp: baseTime,
	}
	require.NoError(t, f.store.Upsert(ctx, existing))

	summary, err := f.pipeline.Ingest(ctx, []*core.RawMessage{
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
		testMessage("m2", "The state of AI", aiAdoptionBody, 1),
	})
	require.ErrorIs(t, err, core.ErrSchemaMismatch)

	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, []core.ID{existing.ID}, f.recordIDs(t), "store is unchanged")
	schema, err := f.store.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, "other-model", schema.Model)
	assert.Equal(t, 4, schema.Dimension)
}

func TestIngest_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := setupPipeline(t, fastConfig(), WithMetrics(reg))

	_, err := f.pipeline.Ingest(context.Background(), []*core.RawMessage{
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
		testMessage("short", "Hi", "Thanks!", 1),
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.pipeline.metrics.messages.WithLabelValues("stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.pipeline.metrics.messages.WithLabelValues("skipped")))
	assert.Positive(t, testutil.ToFloat64(f.pipeline.metrics.passages))

	// a second pipeline on the same registry shares the collectors
	second, err := NewPipeline(f.store, f.ledger, f.embedder, WithMetrics(reg))
	require.NoError(t, err)
	second.Release()
}

func TestRun_PersistsCursor(t *testing.T) {
	cfg := fastConfig()
	cfg.PageSize = 1
	f := setupPipeline(t, cfg)
	ctx := context.Background()

	src := mailsource.NewStaticSource("inbox",
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
		testMessage("m2", "The state of AI", aiAdoptionBody, 1),
	)

	summary, err := f.pipeline.Run(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, "2", summary.NextCursor.Position)

	cursor, err := f.ledger.LoadCursor(ctx, "inbox")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "2", cursor.Position)

	calls := f.embedder.CallCount()
	summary, err = f.pipeline.Run(ctx, src)
	require.NoError(t, err)
	assert.Zero(t, summary.Fetched)
	assert.Equal(t, calls, f.embedder.CallCount())

	src.Append(testMessage("m3", "Talent trends", strings.ReplaceAll(aiAdoptionBody, "AI", "hybrid work"), 2))
	summary, err = f.pipeline.Run(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, "m3", summary.Outcomes[0].SourceID)
}

func TestRun_RequeuesFailures(t *testing.T) {
	f := setupPipeline(t, fastConfig())
	ctx := context.Background()
	src := mailsource.NewStaticSource("inbox",
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
		testMessage("m2", "The state of AI", aiAdoptionBody, 1),
	)

	failWhen(f.embedder, "nearshoring", retry.Transient(errors.New("503 service unavailable")))
	summary, err := f.pipeline.Run(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "2", summary.NextCursor.Position, "refetchable failures do not hold the cursor")

	f.embedder.Reset()
	summary, err = f.pipeline.Run(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, "m1", summary.Outcomes[0].SourceID)

	failures, err := f.ledger.ListFailures(ctx)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.NotEmpty(t, f.recordsOf(t, "m1"))
}

// fetchOnly hides the Refetcher capability of the wrapped source.
type fetchOnly struct{ mailsource.Fetcher }

func TestRun_HoldsCursorWhenFailuresCannotBeRefetched(t *testing.T) {
	f := setupPipeline(t, fastConfig())
	ctx := context.Background()
	src := fetchOnly{mailsource.NewStaticSource("inbox",
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
		testMessage("m2", "The state of AI", aiAdoptionBody, 1),
	)}

	failWhen(f.embedder, "nearshoring", retry.Transient(errors.New("timeout")))
	summary, err := f.pipeline.Run(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	cursor, err := f.ledger.LoadCursor(ctx, "inbox")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	f.embedder.Reset()
	summary, err = f.pipeline.Run(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, summary.Unchanged)
}

type brokenFetcher struct{ calls int }

func (b *brokenFetcher) Name() string { return "broken" }

func (b *brokenFetcher) FetchNewMessages(ctx context.Context, cursor core.Cursor, limit int) ([]*core.RawMessage, core.Cursor, error) {
	b.calls++
	return nil, cursor, fmt.Errorf("mailbox: %w", core.ErrTransientExternal)
}

func TestRun_FetchErrors(t *testing.T) {
	f := setupPipeline(t, fastConfig())

	_, err := f.pipeline.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrFetcherRequired)

	fetcher := &brokenFetcher{}
	_, err = f.pipeline.Run(context.Background(), fetcher)
	assert.ErrorIs(t, err, core.ErrTransientExternal)
	assert.Equal(t, 3, fetcher.calls)
}

func TestIngest_AfterRelease(t *testing.T) {
	f := setupPipeline(t, fastConfig())
	f.pipeline.Release()

	_, err := f.pipeline.Ingest(context.Background(), []*core.RawMessage{
		testMessage("m1", "Supply chain outlook", supplyChainBody, 0),
	})
	assert.ErrorIs(t, err, ErrPipelineReleased)
}
