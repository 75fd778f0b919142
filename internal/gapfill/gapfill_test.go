package gapfill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoops-edge/cbbd-lakehouse/internal/checkpoint"
	"github.com/hoops-edge/cbbd-lakehouse/internal/config"
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

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                  { return c.now }
func (c *fakeClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }
func (c *fakeClock) Sleep(time.Duration)             {}
func (c *fakeClock) Parse(layout, value string) (time.Time, error) {
	return time.Parse(layout, value)
}
func (c *fakeClock) Unix(sec, nsec int64) time.Time { return time.Unix(sec, nsec) }
func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type fakeDiscoverer struct {
	expected map[int64]string
	present  map[int64]struct{}
}

func (d *fakeDiscoverer) GameDates(_ context.Context, _ int) (map[int64]string, error) {
	return d.expected, nil
}

func (d *fakeDiscoverer) DistinctGameIDs(_ context.Context, _ string, _ int) (map[int64]struct{}, error) {
	return d.present, nil
}

type fakeAPI struct {
	handler func(params domain.Params) (any, error)
}

func (a *fakeAPI) Get(_ context.Context, _ domain.EndpointSpec, params domain.Params) (any, error) {
	return a.handler(params)
}

func testConfig(t *testing.T) *config.ETLConfig {
	t.Helper()
	registry, err := domain.ValidateRegistry(map[string]domain.EndpointSpec{
		"plays_game": {Path: "/plays/game/{gameId}", Type: domain.EndpointGameFanout},
		"games":      {Path: "/games", Type: domain.EndpointSeason},
	})
	require.NoError(t, err)
	return &config.ETLConfig{
		Storage:   config.StorageConfig{Bucket: config.RequiredBucket},
		Ingest:    config.IngestConfig{WorkerPoolSize: 1},
		Endpoints: registry,
	}
}

func newFillerForTest(t *testing.T, handler func(params domain.Params) (any, error)) (*Filler, *storage.MemoryStore) {
	t.Helper()
	cfg := testConfig(t)
	store := storage.NewMemoryStore()
	clk := &fakeClock{now: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)}
	writer := lake.NewWriter(store, cfg.Storage.Bucket, lake.DefaultLayout, nil, "run-gapfill", clk)
	filler, err := NewFiller(cfg, "plays_game", &fakeAPI{handler: handler}, writer, checkpoint.NewMemoryStore(), clk)
	require.NoError(t, err)
	return filler, store
}

func playRecords(gameID int64) any {
	return []any{
		map[string]any{"id": float64(gameID*10 + 1), "gameId": float64(gameID), "period": float64(1)},
	}
}

func TestDiscoverMissingDiffsExpectedAgainstPresent(t *testing.T) {
	ctx := context.Background()
	d := &fakeDiscoverer{
		expected: map[int64]string{
			10: "2024-11-01",
			20: "2024-11-02",
			30: "2024-11-03",
		},
		present: map[int64]struct{}{20: {}},
	}

	missing, err := DiscoverMissing(ctx, d, "plays_game", 2024)
	require.NoError(t, err)
	require.Len(t, missing, 2)
	assert.Equal(t, int64(10), missing[0].ID)
	assert.Equal(t, "2024-11-01", missing[0].Date)
	assert.Equal(t, int64(30), missing[1].ID)
}

func TestDiscoverMissingRejectsUnknownEndpoint(t *testing.T) {
	ctx := context.Background()
	_, err := DiscoverMissing(ctx, &fakeDiscoverer{}, "nope", 2024)
	require.Error(t, err)
}

func TestLoadMissingIDsFileParsesIDsAndDates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	content := "# header\n401\n402,2024-11-05\n\nnot-a-number\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	refs, err := LoadMissingIDsFile(path)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, domain.GameRef{ID: 401}, refs[0])
	assert.Equal(t, domain.GameRef{ID: 402, Date: "2024-11-05"}, refs[1])
}

func TestFillSkipsResumedIDsAndAppendsCompletions(t *testing.T) {
	ctx := context.Background()
	filler, store := newFillerForTest(t, func(params domain.Params) (any, error) {
		return playRecords(params["gameId"].(int64)), nil
	})

	resumeFile := filepath.Join(t.TempDir(), "resume.txt")
	require.NoError(t, os.WriteFile(resumeFile, []byte("20\n"), 0o644))

	missing := []domain.GameRef{
		{ID: 10, Date: "2024-11-01"},
		{ID: 20, Date: "2024-11-02"},
		{ID: 30, Date: "2024-11-03"},
	}
	stats, err := filler.Fill(ctx, missing, Options{Season: 2024, ResumeFile: resumeFile})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Written)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Errors)

	data, err := os.ReadFile(resumeFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "10\n")
	assert.Contains(t, string(data), "30\n")

	silverKeys, err := store.List(ctx, "silver/fct_plays/")
	require.NoError(t, err)
	assert.Len(t, silverKeys, 2)
	assert.Contains(t, silverKeys[0], "season=2024/date=2024-11-01")
}

func TestFillMarksEmptyResponsesWhenRequested(t *testing.T) {
	ctx := context.Background()
	filler, store := newFillerForTest(t, func(params domain.Params) (any, error) {
		return []any{}, nil
	})

	resumeFile := filepath.Join(t.TempDir(), "resume.txt")
	missing := []domain.GameRef{{ID: 55, Date: "2024-12-01"}}

	stats, err := filler.Fill(ctx, missing, Options{Season: 2024, ResumeFile: resumeFile, MarkEmpty: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Empty)
	assert.Equal(t, 0, stats.Written)

	data, err := os.ReadFile(resumeFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "55\n")

	keys, err := store.List(ctx, "silver/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFillDoesNotMarkFailedGames(t *testing.T) {
	ctx := context.Background()
	filler, _ := newFillerForTest(t, func(params domain.Params) (any, error) {
		if params["gameId"].(int64) == 20 {
			return nil, fmt.Errorf("boom")
		}
		return playRecords(params["gameId"].(int64)), nil
	})

	resumeFile := filepath.Join(t.TempDir(), "resume.txt")
	missing := []domain.GameRef{
		{ID: 10, Date: "2024-11-01"},
		{ID: 20, Date: "2024-11-02"},
	}
	stats, err := filler.Fill(ctx, missing, Options{Season: 2024, ResumeFile: resumeFile})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, 1, stats.Errors)

	data, err := os.ReadFile(resumeFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "10\n")
	assert.NotContains(t, string(data), "20\n")
}

func TestFillDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	filler, store := newFillerForTest(t, func(params domain.Params) (any, error) {
		return playRecords(params["gameId"].(int64)), nil
	})

	resumeFile := filepath.Join(t.TempDir(), "resume.txt")
	stats, err := filler.Fill(ctx, []domain.GameRef{{ID: 10}}, Options{
		Season:     2024,
		DryRun:     true,
		ResumeFile: resumeFile,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)

	_, err = os.Stat(resumeFile)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, store.Len())
}

func TestNewFillerRejectsNonFanoutEndpoints(t *testing.T) {
	cfg := testConfig(t)
	clk := &fakeClock{now: time.Now()}
	store := storage.NewMemoryStore()
	writer := lake.NewWriter(store, cfg.Storage.Bucket, lake.DefaultLayout, nil, "run-x", clk)

	_, err := NewFiller(cfg, "games", &fakeAPI{}, writer, nil, clk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a game fan-out endpoint")

	_, err = NewFiller(cfg, "missing", &fakeAPI{}, writer, nil, clk)
	require.Error(t, err)
}

func TestScanDiscovererDiffsRawLayers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	putRaw := func(key string, records []domain.Record) {
		data, err := storage.EncodeNDJSON(records)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, key, data, "application/gzip"))
	}

	putRaw("raw/games/ingested_at=2025-01-10/part-aaaaaaaa.json.gz", []domain.Record{
		{"id": float64(101), "season": float64(2024), "startDate": "2024-11-05T19:00:00Z"},
		{"id": float64(102), "season": float64(2024), "startDate": "2024-11-06T19:00:00Z"},
		{"id": float64(999), "season": float64(2023), "startDate": "2023-11-06T19:00:00Z"},
	})
	putRaw("raw/plays/game/ingested_at=2025-01-10/part-bbbbbbbb.json.gz", []domain.Record{
		{"gameId": float64(101), "period": float64(1)},
	})

	d := NewScanDiscoverer(store, lake.DefaultLayout)

	expected, err := d.GameDates(ctx, 2024)
	require.NoError(t, err)
	require.Len(t, expected, 2)
	assert.Equal(t, "2024-11-05", expected[101])

	missing, err := DiscoverMissing(ctx, d, "plays_game", 2024)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, int64(102), missing[0].ID)
	assert.Equal(t, "2024-11-06", missing[0].Date)
}

func TestValidatePartitionsFlagsMixedAndMisplacedPartitions(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	put := func(key string) {
		require.NoError(t, store.Put(ctx, key, []byte("x"), "application/octet-stream"))
	}

	for _, table := range seasonPartitionedTables {
		put(fmt.Sprintf("silver/%s/season=2024/asof=2025-01-10/part-aaaa.parquet", table))
	}
	// fct_plays mixes date partitions into the same season
	put("silver/fct_plays/season=2024/date=2024-11-01/part-bbbb.parquet")

	for _, table := range dimTables {
		put(fmt.Sprintf("silver/%s/asof=2025-01-10/part-cccc.parquet", table))
	}
	// a dimension table with a stray season partition
	put("silver/dim_teams/season=2024/part-dddd.parquet")

	issues, err := ValidatePartitions(ctx, store, lake.DefaultLayout, 2024)
	require.NoError(t, err)

	require.Contains(t, issues, "fct_plays")
	assert.True(t, strings.Contains(issues["fct_plays"][0], "mixed partition patterns"))
	require.Contains(t, issues, "dim_teams")
	assert.Contains(t, issues["dim_teams"][0], "unexpected season partition")
	assert.NotContains(t, issues, "fct_games")
	assert.NotContains(t, issues, "dim_venues")
}
