package sink

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoops-edge/cbbd-lakehouse/internal/adapter"
	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/lake"
	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
	"github.com/hoops-edge/cbbd-lakehouse/internal/storage"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestDeadLetterWritesEntry(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := New(store, lake.DefaultLayout, "run-1", adapter.NewClock())

	params := domain.Params{"gameId": 401}
	s.DeadLetter(ctx, "plays_game", params, "empty_response")

	keys, err := store.List(ctx, "deadletter/plays_game/")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "ingested_at=")
	assert.Contains(t, keys[0], "part-"+params.ShortFingerprint()+".json")

	data, err := store.Get(ctx, keys[0])
	require.NoError(t, err)
	var entry domain.DeadLetterEntry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "plays_game", entry.Endpoint)
	assert.Equal(t, "empty_response", entry.Reason)
}

func TestSummaryFlushOverwritesInPlace(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	s := New(store, lake.DefaultLayout, "run-2", adapter.NewClock())

	s.RecordSummary("games", 120)
	require.NoError(t, s.Flush(ctx))

	s.RecordSummary("lines", 80)
	s.RecordSummary("games", 150)
	require.NoError(t, s.Finalize(ctx))

	keys, err := store.List(ctx, "meta/")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "meta/run_id=run-2.json", keys[0])

	data, err := store.Get(ctx, keys[0])
	require.NoError(t, err)
	var summary domain.RunSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "run-2", summary.RunID)
	require.NotNil(t, summary.FinishedAt)
	assert.Equal(t, 150, summary.Endpoints["games"].Rows)
	assert.Equal(t, 80, summary.Endpoints["lines"].Rows)
}
