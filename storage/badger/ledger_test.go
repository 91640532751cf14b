package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/newsrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_Sources(t *testing.T) {
	_, ledger := newTestStore(t)
	ctx := context.Background()

	entry, err := ledger.GetSource(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, ledger.PutSource(ctx, &core.SourceEntry{
		SourceID:    "m1",
		ContentHash: "h1",
		PassageIDs:  []core.ID{core.PassageID("m1", 0)},
		IndexedAt:   baseTime,
	}))
	require.NoError(t, ledger.PutSource(ctx, &core.SourceEntry{SourceID: "m0", ContentHash: "h0"}))

	entry, err = ledger.GetSource(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "h1", entry.ContentHash)

	entries, err := ledger.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "m0", entries[0].SourceID)

	require.NoError(t, ledger.DeleteSource(ctx, "m1"))
	require.NoError(t, ledger.DeleteSource(ctx, "missing"))
	entry, err = ledger.GetSource(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	assert.ErrorIs(t, ledger.PutSource(ctx, &core.SourceEntry{}), core.ErrEmptySourceID)
}

func TestLedger_Failures(t *testing.T) {
	_, ledger := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ledger.RecordFailure(ctx, &core.FailureEntry{SourceID: "m1", ErrorType: "transient"}))
	require.NoError(t, ledger.RecordFailure(ctx, &core.FailureEntry{SourceID: "m1", ErrorType: "embedding_unavailable"}))

	failures, err := ledger.ListFailures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].Attempts)
	assert.Equal(t, "embedding_unavailable", failures[0].ErrorType)
	assert.False(t, failures[0].FailedAt.IsZero())

	require.NoError(t, ledger.ClearFailure(ctx, "m1"))
	failures, err = ledger.ListFailures(ctx)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestLedger_Cursor(t *testing.T) {
	_, ledger := newTestStore(t)
	ctx := context.Background()
	ledger.now = func() time.Time { return baseTime }

	cursor, err := ledger.LoadCursor(ctx, "dir:/mail")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	require.NoError(t, ledger.SaveCursor(ctx, &core.Cursor{Source: "dir:/mail", Position: "0003.eml"}))

	cursor, err = ledger.LoadCursor(ctx, "dir:/mail")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "0003.eml", cursor.Position)
	assert.Equal(t, baseTime, cursor.UpdatedAt)
}

func TestLedger_NamedSchema(t *testing.T) {
	_, ledger := newTestStore(t)
	ctx := context.Background()

	schema, err := ledger.LoadSchema(ctx, "newsletters")
	require.NoError(t, err)
	assert.Nil(t, schema)

	require.NoError(t, ledger.SaveSchema(ctx, "newsletters", &core.StoreSchema{Dimension: 768, Model: "m"}))
	schema, err = ledger.LoadSchema(ctx, "newsletters")
	require.NoError(t, err)
	assert.Equal(t, 768, schema.Dimension)
}
