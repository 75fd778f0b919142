package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
)

func TestMemoryStorePutGetList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "raw/games/season=2024/a.json.gz", []byte("one"), "application/gzip"))
	require.NoError(t, store.Put(ctx, "raw/games/season=2024/b.json.gz", []byte("two"), "application/gzip"))
	require.NoError(t, store.Put(ctx, "silver/fct_games/season=2024/c.parquet", []byte("three"), "application/octet-stream"))

	data, err := store.Get(ctx, "raw/games/season=2024/a.json.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	_, err = store.Get(ctx, "raw/games/season=2023/missing.json.gz")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := store.List(ctx, "raw/games/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"raw/games/season=2024/a.json.gz",
		"raw/games/season=2024/b.json.gz",
	}, keys)
}

func TestMemoryStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "k", []byte("v1"), ""))
	require.NoError(t, store.Put(ctx, "k", []byte("v2"), ""))

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
	assert.Equal(t, 1, store.Len())
}

func TestNDJSONRoundTrip(t *testing.T) {
	records := []domain.Record{
		{"gameId": float64(401234), "homeTeam": "Kansas"},
		{"gameId": float64(401235), "homeTeam": "Duke", "notes": nil},
	}

	data, err := EncodeNDJSON(records)
	require.NoError(t, err)

	decoded, err := DecodeNDJSON(data)
	require.NoError(t, err)
	assert.Equal(t, records, decoded)
}

func TestNDJSONEmpty(t *testing.T) {
	data, err := EncodeNDJSON(nil)
	require.NoError(t, err)

	decoded, err := DecodeNDJSON(data)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}
