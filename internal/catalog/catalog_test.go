package catalog

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
	"github.com/hoops-edge/cbbd-lakehouse/internal/normalize"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// countingBackend wraps MemoryBackend to count mutating calls
type countingBackend struct {
	*MemoryBackend
	creates int
	updates int
}

func (b *countingBackend) CreateTable(ctx context.Context, table Table) error {
	b.creates++
	return b.MemoryBackend.CreateTable(ctx, table)
}

func (b *countingBackend) UpdateTable(ctx context.Context, table Table) error {
	b.updates++
	return b.MemoryBackend.UpdateTable(ctx, table)
}

func testColumns() []normalize.Column {
	return []normalize.Column{
		{Name: "gameId", Type: normalize.TypeBigint},
		{Name: "status", Type: normalize.TypeString},
	}
}

func TestSyncCreatesThenNoops(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{MemoryBackend: NewMemoryBackend()}
	r := NewReconciler(backend)

	err := r.Sync(ctx, "cbbd_silver", "fct_games", "s3://hoops-edge/silver/fct_games/", testColumns(), []string{"season"})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.creates)
	assert.Contains(t, backend.Databases(), "cbbd_silver")

	// identical definition again: no mutation
	err = r.Sync(ctx, "cbbd_silver", "fct_games", "s3://hoops-edge/silver/fct_games/", testColumns(), []string{"season"})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.creates)
	assert.Equal(t, 0, backend.updates)
}

func TestSyncTreatsCaseAndTrailingSlashAsEqual(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{MemoryBackend: NewMemoryBackend()}
	r := NewReconciler(backend)

	require.NoError(t, r.Sync(ctx, "cbbd_silver", "fct_games", "s3://hoops-edge/silver/fct_games/", testColumns(), []string{"season"}))

	variant := []normalize.Column{
		{Name: "GAMEID", Type: normalize.TypeBigint},
		{Name: "Status", Type: normalize.TypeString},
	}
	require.NoError(t, r.Sync(ctx, "cbbd_silver", "fct_games", "s3://hoops-edge/silver/fct_games", variant, []string{"season"}))
	assert.Equal(t, 0, backend.updates)
}

func TestSyncUpdatesOnSchemaDrift(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{MemoryBackend: NewMemoryBackend()}
	r := NewReconciler(backend)

	require.NoError(t, r.Sync(ctx, "cbbd_silver", "fct_games", "s3://hoops-edge/silver/fct_games/", testColumns(), []string{"season"}))

	widened := append(testColumns(), normalize.Column{Name: "attendance", Type: normalize.TypeBigint})
	require.NoError(t, r.Sync(ctx, "cbbd_silver", "fct_games", "s3://hoops-edge/silver/fct_games/", widened, []string{"season"}))
	assert.Equal(t, 1, backend.updates)

	stored, err := backend.GetTable(ctx, "cbbd_silver", "fct_games")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Columns, 3)
}

func TestSyncUpdatesOnPartitionKeyChange(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{MemoryBackend: NewMemoryBackend()}
	r := NewReconciler(backend)

	require.NoError(t, r.Sync(ctx, "cbbd_bronze", "games", "s3://hoops-edge/bronze/games/", testColumns(), []string{"season", "asof"}))
	require.NoError(t, r.Sync(ctx, "cbbd_bronze", "games", "s3://hoops-edge/bronze/games/", testColumns(), []string{"season"}))
	assert.Equal(t, 1, backend.updates)
}
