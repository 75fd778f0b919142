package lake

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoops-edge/cbbd-lakehouse/internal/adapter"
	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
	"github.com/hoops-edge/cbbd-lakehouse/internal/normalize"
	"github.com/hoops-edge/cbbd-lakehouse/internal/storage"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func intPtr(v int) *int { return &v }

func TestBronzePartition(t *testing.T) {
	assert.Equal(t, "asof=2024-11-01",
		BronzePartition(domain.EndpointSnapshot, nil, "", "2024-11-01"))
	assert.Equal(t, "season=2024/asof=2024-11-01",
		BronzePartition(domain.EndpointSeason, intPtr(2024), "", "2024-11-01"))
	assert.Equal(t, "season=2024/date=2024-02-10",
		BronzePartition(domain.EndpointGameFanout, intPtr(2024), "2024-02-10", "2024-11-01"))
	assert.Equal(t, "season=unknown/date=2024-11-01",
		BronzePartition(domain.EndpointGameFanout, nil, "", "2024-11-01"))
	assert.Equal(t, "season=2024/date=2024-02-10",
		BronzePartition(domain.EndpointDate, nil, "2024-02-10", "2024-11-01"))
}

func TestSilverPartition(t *testing.T) {
	assert.Equal(t, "asof=2024-11-01", SilverPartition("dim_teams", intPtr(2024), "2024-02-10", "2024-11-01"))
	assert.Equal(t, "season=2024/date=2024-02-10", SilverPartition("fct_plays", intPtr(2024), "2024-02-10", "2024-11-01"))
	assert.Equal(t, "season=2024/date=2024-02-10", SilverPartition("fct_plays", nil, "2024-02-10", "2024-11-01"))
	assert.Equal(t, "season=2024", SilverPartition("fct_games", intPtr(2024), "", "2024-11-01"))
	assert.Equal(t, "asof=2024-11-01", SilverPartition("fct_rankings", nil, "", "2024-11-01"))
}

func TestPartitionKeys(t *testing.T) {
	assert.Equal(t, []string{"season", "date"}, PartitionKeys("season=2024/date=2024-02-10"))
	assert.Equal(t, []string{"asof"}, PartitionKeys("asof=2024-11-01"))
	assert.Nil(t, PartitionKeys(""))
}

func TestRawPrefixOverrides(t *testing.T) {
	assert.Equal(t, "plays/game", RawPrefixFor("plays_game"))
	assert.Equal(t, "games", RawPrefixFor("games"))
}

func TestEncodeParquetProducesMagicBytes(t *testing.T) {
	columns := []normalize.Column{
		{Name: "gameId", Type: normalize.TypeBigint},
		{Name: "season", Type: normalize.TypeInt},
		{Name: "spread", Type: normalize.TypeDouble},
		{Name: "neutralSite", Type: normalize.TypeBoolean},
		{Name: "status", Type: normalize.TypeString},
	}
	rows := []map[string]any{
		{"gameId": int64(401), "season": int32(2024), "spread": -3.5, "neutralSite": false, "status": "final"},
		{"gameId": int64(402), "season": int32(2024), "spread": nil, "neutralSite": nil, "status": nil},
	}

	data, err := EncodeParquet(columns, rows)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "PAR1", string(data[:4]))
	assert.Equal(t, "PAR1", string(data[len(data)-4:]))
}

type recordingCatalog struct {
	calls []catalogCall
}

type catalogCall struct {
	database      string
	table         string
	location      string
	columns       []normalize.Column
	partitionKeys []string
}

func (c *recordingCatalog) Sync(_ context.Context, database, table, location string, columns []normalize.Column, partitionKeys []string) error {
	c.calls = append(c.calls, catalogCall{database, table, location, columns, partitionKeys})
	return nil
}

func newTestWriter(store storage.ObjectStore, catalog CatalogSyncer) *Writer {
	return NewWriter(store, "hoops-edge", DefaultLayout, catalog, "run-test", adapter.NewClock())
}

func TestWriteLayersSeasonEndpoint(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	catalog := &recordingCatalog{}
	w := newTestWriter(store, catalog)

	spec := domain.EndpointSpec{Name: "games", Path: "/games", Type: domain.EndpointSeason}
	records := []domain.Record{
		{"id": float64(401), "season": float64(2024), "homeTeam": "Kansas"},
		{"id": float64(402), "season": float64(2024), "homeTeam": "Duke"},
	}
	params := domain.Params{"season": 2024}

	result, err := w.WriteLayers(ctx, spec, records, params, WriteOptions{Season: intPtr(2024)})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)
	assert.False(t, result.Empty)

	short := params.ShortFingerprint()
	rawKeys, _ := store.List(ctx, "raw/games/")
	require.Len(t, rawKeys, 1)
	assert.Contains(t, rawKeys[0], "ingested_at=")
	assert.Contains(t, rawKeys[0], "part-"+short+".json.gz")

	bronzeKeys, _ := store.List(ctx, "bronze/games/season=2024/")
	require.Len(t, bronzeKeys, 1)
	assert.True(t, strings.HasSuffix(bronzeKeys[0], "part-"+short+".parquet"))

	silverKeys, _ := store.List(ctx, "silver/fct_games/season=2024/")
	require.Len(t, silverKeys, 1)

	// bronze and silver both registered; gold is not in the allow-list
	require.Len(t, catalog.calls, 2)
	assert.Equal(t, "cbbd_bronze", catalog.calls[0].database)
	assert.Equal(t, []string{"season", "asof"}, catalog.calls[0].partitionKeys)
	assert.Equal(t, "cbbd_silver", catalog.calls[1].database)
	assert.Equal(t, "s3://hoops-edge/silver/fct_games/", catalog.calls[1].location)
	assert.Equal(t, []string{"season"}, catalog.calls[1].partitionKeys)
	for _, col := range catalog.calls[1].columns {
		assert.NotEqual(t, "season", col.Name)
	}
}

func TestWriteLayersIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	spec := domain.EndpointSpec{Name: "teams", Path: "/teams", Type: domain.EndpointSnapshot}
	records := func() []domain.Record {
		return []domain.Record{{"id": float64(5), "school": "Kansas"}}
	}
	params := domain.Params{}

	w1 := newTestWriter(store, nil)
	_, err := w1.WriteLayers(ctx, spec, records(), params, WriteOptions{})
	require.NoError(t, err)
	countAfterFirst := store.Len()

	// a fresh run with identical params overwrites the same part files
	w2 := NewWriter(store, "hoops-edge", DefaultLayout, nil, "run-test", adapter.NewClock())
	_, err = w2.WriteLayers(ctx, spec, records(), params, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, countAfterFirst, store.Len())
}

func TestWriteLayersEmptyResponse(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newTestWriter(store, nil)

	spec := domain.EndpointSpec{Name: "games", Path: "/games", Type: domain.EndpointSeason}
	result, err := w.WriteLayers(ctx, spec, nil, domain.Params{"season": 1950}, WriteOptions{Season: intPtr(1950)})
	require.NoError(t, err)
	assert.True(t, result.Empty)

	rawKeys, _ := store.List(ctx, "raw/")
	assert.Empty(t, rawKeys)
}

func TestWriteLayersGoldAllowList(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newTestWriter(store, nil)

	spec := domain.EndpointSpec{Name: "ratings_adjusted", Path: "/ratings/adjusted", Type: domain.EndpointSeason}
	records := []domain.Record{
		{"teamId": float64(5), "season": float64(2024), "netRating": float64(15.1), "team": "Kansas"},
	}

	result, err := w.WriteLayers(ctx, spec, records, domain.Params{"season": 2024}, WriteOptions{Season: intPtr(2024)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)

	goldKeys, _ := store.List(ctx, "gold/team_quality_daily/")
	require.Len(t, goldKeys, 1)
	assert.Contains(t, goldKeys[0], "asof=")
}

func TestWriteLayersLinesExpansion(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newTestWriter(store, nil)

	spec := domain.EndpointSpec{Name: "lines", Path: "/lines", Type: domain.EndpointSeason}
	records := []domain.Record{{
		"gameId": float64(401),
		"season": float64(2024),
		"lines": []any{
			map[string]any{"provider": "Bovada", "spread": float64(-3.5)},
			map[string]any{"provider": "DraftKings", "spread": float64(-4.0)},
		},
	}}

	result, err := w.WriteLayers(ctx, spec, records, domain.Params{"season": 2024}, WriteOptions{Season: intPtr(2024)})
	require.NoError(t, err)
	// one game row widens to one row per provider quote
	assert.Equal(t, 2, result.Rows)

	goldKeys, _ := store.List(ctx, "gold/market_lines_history/")
	assert.Len(t, goldKeys, 1)
}

func TestWriteLayersCrossCallDedup(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newTestWriter(store, nil)

	spec := domain.EndpointSpec{Name: "plays_game", Path: "/plays/game/{gameId}", Type: domain.EndpointGameFanout}

	first, err := w.WriteLayers(ctx, spec,
		[]domain.Record{{"id": float64(1), "gameId": float64(401)}, {"id": float64(2), "gameId": float64(401)}},
		domain.Params{"gameId": 401}, WriteOptions{Season: intPtr(2024), Date: "2024-02-10"})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Rows)

	// the same plays arriving through a second call are filtered out
	second, err := w.WriteLayers(ctx, spec,
		[]domain.Record{{"id": float64(2), "gameId": float64(401)}, {"id": float64(3), "gameId": float64(401)}},
		domain.Params{"gameId": 402}, WriteOptions{Season: intPtr(2024), Date: "2024-02-10"})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Rows)
}

func TestWriteLayersRankingsTrimmedToSeason(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newTestWriter(store, nil)

	spec := domain.EndpointSpec{Name: "rankings", Path: "/rankings", Type: domain.EndpointSeason}
	records := []domain.Record{
		{"season": float64(2024), "teamId": float64(1), "pollDate": "2024-01-01", "pollType": "AP", "ranking": float64(1)},
		{"season": float64(2023), "teamId": float64(1), "pollDate": "2023-01-01", "pollType": "AP", "ranking": float64(4)},
	}

	result, err := w.WriteLayers(ctx, spec, records, domain.Params{"season": 2024}, WriteOptions{Season: intPtr(2024)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)
}

func TestWriteLayersLineupContextInheritance(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	w := newTestWriter(store, nil)

	spec := domain.EndpointSpec{Name: "lineups_game", Path: "/lineups/game/{gameId}", Type: domain.EndpointGameFanout}
	records := []domain.Record{{"idHash": "abc", "teamId": float64(5)}}
	params := domain.Params{"gameId": 401}

	result, err := w.WriteLayers(ctx, spec, records, params, WriteOptions{Season: intPtr(2024), Date: "2024-02-10"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)

	rawKeys, _ := store.List(ctx, "raw/lineups/game/")
	require.Len(t, rawKeys, 1)
	decoded, err := store.Get(ctx, rawKeys[0])
	require.NoError(t, err)
	raw, err := storage.DecodeNDJSON(decoded)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, float64(2024), raw[0]["season"])
	assert.Equal(t, "2024-02-10", raw[0]["date"])
	assert.Equal(t, float64(401), raw[0]["gameId"])
}
