package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hoops-edge/cbbd-lakehouse/internal/adapter"
	"github.com/hoops-edge/cbbd-lakehouse/internal/apiclient"
	"github.com/hoops-edge/cbbd-lakehouse/internal/catalog"
	"github.com/hoops-edge/cbbd-lakehouse/internal/checkpoint"
	"github.com/hoops-edge/cbbd-lakehouse/internal/config"
	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/gapfill"
	"github.com/hoops-edge/cbbd-lakehouse/internal/lake"
	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
	"github.com/hoops-edge/cbbd-lakehouse/internal/query"
	"github.com/hoops-edge/cbbd-lakehouse/internal/storage"
	"github.com/hoops-edge/cbbd-lakehouse/internal/store"
)

var (
	configFile     = flag.String("config", "", "Path to configuration file")
	envPath        = flag.String("env", "config/", "Path to environment files")
	endpoint       = flag.String("endpoint", "", "Game fan-out endpoint (plays_game, substitutions_game, lineups_game)")
	season         = flag.Int("season", 0, "Season year")
	seasonRangeArg = flag.String("season-range", "", "Season range for multi-season passes, e.g. 2020-2026")
	discover       = flag.Bool("discover", false, "Discover missing game ids through the query engine")
	discoverScan   = flag.Bool("discover-scan", false, "Discover missing game ids by scanning raw objects directly")
	missingIDsFile = flag.String("missing-ids-file", "", "File of missing game ids, one per line or gameId,date")
	limit          = flag.Int("limit", 0, "Cap the number of games processed per season")
	batchSize      = flag.Int("batch-size", 100, "Games per batch")
	resumeFile     = flag.String("resume-file", "", "Resume file of completed game ids")
	markEmpty      = flag.Bool("mark-empty", false, "Record games with empty responses as done")
	logEvery       = flag.Int("log-every", 25, "Progress log cadence in games")
	dryRun         = flag.Bool("dry-run", false, "Fetch without writing")
	validate       = flag.Bool("validate", false, "Validate partition consistency instead of filling")
)

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadETLConfig(*configFile, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "gap-fill",
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Flush(2 * time.Second)

	seasons, err := resolveSeasons(*season, *seasonRangeArg)
	if err != nil {
		logger.FatalCtx(ctx, "invalid season selection", zap.Error(err))
	}

	objStore, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		logger.FatalCtx(ctx, "failed to connect to object storage", zap.Error(err))
	}

	if *validate {
		runValidate(ctx, objStore, seasons)
		return
	}

	if *endpoint == "" {
		logger.FatalCtx(ctx, "--endpoint is required")
	}
	if !*discover && !*discoverScan && *missingIDsFile == "" {
		logger.FatalCtx(ctx, "one of --discover, --discover-scan or --missing-ids-file is required")
	}

	var checkpoints checkpoint.Store
	var catalogBackend catalog.Backend
	if cfg.UsesDatabase() {
		db, err := store.Open(cfg.Database)
		if err != nil {
			logger.FatalCtx(ctx, "failed to connect to database", zap.Error(err))
		}
		checkpoints, err = checkpoint.NewPGStore(db)
		if err != nil {
			logger.FatalCtx(ctx, "failed to prepare checkpoint store", zap.Error(err))
		}
		catalogBackend, err = catalog.NewPGBackend(db)
		if err != nil {
			logger.FatalCtx(ctx, "failed to prepare catalog", zap.Error(err))
		}
	} else {
		logger.WarnCtx(ctx, "no database configured, checkpoints and catalog are in-memory only")
		checkpoints = checkpoint.NewMemoryStore()
		catalogBackend = catalog.NewMemoryBackend()
	}

	var discoverer gapfill.Discoverer
	if *discoverScan {
		discoverer = gapfill.NewScanDiscoverer(objStore, lake.DefaultLayout)
	} else if *discover {
		engine, err := query.Open(cfg.Storage)
		if err != nil {
			logger.FatalCtx(ctx, "failed to open query engine", zap.Error(err))
		}
		defer engine.Close()
		discoverer = engine
	}

	clock := adapter.NewClock()
	runID := uuid.NewString()
	writer := lake.NewWriter(objStore, cfg.Storage.Bucket, lake.DefaultLayout, catalog.NewReconciler(catalogBackend), runID, clock)
	api := apiclient.New(cfg.API, clock)

	filler, err := gapfill.NewFiller(cfg, *endpoint, api, writer, checkpoints, clock)
	if err != nil {
		logger.FatalCtx(ctx, "failed to create filler", zap.Error(err))
	}

	for _, s := range seasons {
		logger.InfoCtx(ctx, "gap-fill season starting",
			zap.String("endpoint", *endpoint),
			zap.Int("season", s))

		var missing []domain.GameRef
		if *missingIDsFile != "" {
			missing, err = gapfill.LoadMissingIDsFile(*missingIDsFile)
		} else {
			missing, err = gapfill.DiscoverMissing(ctx, discoverer, *endpoint, s)
		}
		if err != nil {
			logger.FatalCtx(ctx, "failed to resolve missing game ids", zap.Error(err))
		}
		if *limit > 0 && len(missing) > *limit {
			missing = missing[:*limit]
		}
		logger.InfoCtx(ctx, "games to process", zap.Int("count", len(missing)))
		if len(missing) == 0 {
			continue
		}

		stats, err := filler.Fill(ctx, missing, gapfill.Options{
			Season:     s,
			DryRun:     *dryRun,
			BatchSize:  *batchSize,
			ResumeFile: *resumeFile,
			MarkEmpty:  *markEmpty,
			LogEvery:   *logEvery,
		})
		if err != nil {
			logger.FatalCtx(ctx, "gap-fill failed", zap.Error(err))
		}
		logger.InfoCtx(ctx, "gap-fill season done",
			zap.String("endpoint", *endpoint),
			zap.Int("season", s),
			zap.Int("written", stats.Written),
			zap.Int("empty", stats.Empty),
			zap.Int("errors", stats.Errors),
			zap.Int("skipped", stats.Skipped))
	}
}

func runValidate(ctx context.Context, objStore storage.ObjectStore, seasons []int) {
	for _, s := range seasons {
		issues, err := gapfill.ValidatePartitions(ctx, objStore, lake.DefaultLayout, s)
		if err != nil {
			logger.FatalCtx(ctx, "partition validation failed", zap.Error(err))
		}
		if len(issues) == 0 {
			logger.InfoCtx(ctx, "partitions consistent", zap.Int("season", s))
			continue
		}
		tables := make([]string, 0, len(issues))
		for table := range issues {
			tables = append(tables, table)
		}
		sort.Strings(tables)
		for _, table := range tables {
			for _, issue := range issues[table] {
				logger.WarnCtx(ctx, "partition issue",
					zap.Int("season", s),
					zap.String("table", table),
					zap.String("issue", issue))
			}
		}
	}
}

// resolveSeasons combines --season and --season-range into the list of
// seasons to process
func resolveSeasons(season int, rangeArg string) ([]int, error) {
	if rangeArg != "" {
		startStr, endStr, ok := strings.Cut(rangeArg, "-")
		if !ok {
			single, err := strconv.Atoi(rangeArg)
			if err != nil {
				return nil, fmt.Errorf("invalid season range %q", rangeArg)
			}
			return []int{single}, nil
		}
		start, err := strconv.Atoi(startStr)
		if err != nil {
			return nil, fmt.Errorf("invalid season range %q", rangeArg)
		}
		end, err := strconv.Atoi(endStr)
		if err != nil {
			return nil, fmt.Errorf("invalid season range %q", rangeArg)
		}
		if end < start {
			return nil, fmt.Errorf("season range %q ends before it starts", rangeArg)
		}
		var seasons []int
		for s := start; s <= end; s++ {
			seasons = append(seasons, s)
		}
		return seasons, nil
	}
	if season == 0 {
		return nil, fmt.Errorf("--season or --season-range is required")
	}
	return []int{season}, nil
}
