package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	missing, err := store.Get(ctx, "games", "abc123")
	require.NoError(t, err)
	assert.Nil(t, missing)

	payload := domain.CheckpointPayload{LastCompletedSeason: 2023, LastIngestedDate: "2024-02-10"}
	require.NoError(t, store.Put(ctx, "games", "abc123", payload))

	got, err := store.Get(ctx, "games", "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2023, got.LastCompletedSeason)
	assert.Equal(t, "2024-02-10", got.LastIngestedDate)
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "games", "abc123", domain.CheckpointPayload{LastCompletedSeason: 2022}))
	require.NoError(t, store.Put(ctx, "games", "abc123", domain.CheckpointPayload{LastCompletedSeason: 2024}))

	got, err := store.Get(ctx, "games", "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2024, got.LastCompletedSeason)
}

func TestMemoryStoreKeysAreScoped(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "games", "h1", domain.CheckpointPayload{LastCompletedSeason: 2024}))

	other, err := store.Get(ctx, "lines", "h1")
	require.NoError(t, err)
	assert.Nil(t, other)

	otherHash, err := store.Get(ctx, "games", "h2")
	require.NoError(t, err)
	assert.Nil(t, otherHash)
}
