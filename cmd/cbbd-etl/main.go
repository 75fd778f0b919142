package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
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
	"github.com/hoops-edge/cbbd-lakehouse/internal/lake"
	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
	"github.com/hoops-edge/cbbd-lakehouse/internal/orchestrate"
	"github.com/hoops-edge/cbbd-lakehouse/internal/query"
	"github.com/hoops-edge/cbbd-lakehouse/internal/sink"
	"github.com/hoops-edge/cbbd-lakehouse/internal/storage"
	"github.com/hoops-edge/cbbd-lakehouse/internal/store"
)

const usage = `Usage: cbbd-etl <command> [flags]

Commands:
  backfill     Ingest every endpoint across the season range
  incremental  Ingest from checkpoints and the rolling date window
  one          Run a single endpoint call with explicit params
  fanout       Re-drive fan-out endpoints only
  validate     Check the newest run manifest and table schemas
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "backfill", "incremental":
		runIngest(command, args)
	case "one":
		runOne(args)
	case "fanout":
		runFanout(args)
	case "validate":
		runValidate(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", command, usage)
		os.Exit(2)
	}
}

// commonFlags registers the flags every subcommand shares
func commonFlags(fs *flag.FlagSet) (configFile, envPath *string) {
	configFile = fs.String("config", "", "Path to configuration file")
	envPath = fs.String("env", "config/", "Path to environment files")
	return configFile, envPath
}

// app holds everything a subcommand needs after wiring
type app struct {
	cfg    *config.ETLConfig
	orch   *orchestrate.Orchestrator
	engine *query.Engine
	db     func() // closes database resources
}

// setup loads configuration, initializes the logger and wires the
// orchestrator. withEngine additionally opens the DuckDB query engine for
// storage-backed discovery and schema validation.
func setup(ctx context.Context, configFile, envPath string, service string, withEngine bool) (*app, error) {
	cfg, err := config.LoadETLConfig(configFile, envPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": service,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	objStore, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to object storage: %w", err)
	}

	var checkpoints checkpoint.Store
	var catalogBackend catalog.Backend
	closeDB := func() {}
	if cfg.UsesDatabase() {
		db, err := store.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
			return nil, fmt.Errorf("failed to configure connection pool: %w", err)
		}
		checkpoints, err = checkpoint.NewPGStore(db)
		if err != nil {
			return nil, err
		}
		catalogBackend, err = catalog.NewPGBackend(db)
		if err != nil {
			return nil, err
		}
		closeDB = func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
	} else {
		logger.WarnCtx(ctx, "no database configured, checkpoints and catalog are in-memory only")
		checkpoints = checkpoint.NewMemoryStore()
		catalogBackend = catalog.NewMemoryBackend()
	}

	clock := adapter.NewClock()
	runID := uuid.NewString()
	writer := lake.NewWriter(objStore, cfg.Storage.Bucket, lake.DefaultLayout, catalog.NewReconciler(catalogBackend), runID, clock)
	snk := sink.New(objStore, lake.DefaultLayout, runID, clock)
	api := apiclient.New(cfg.API, clock)

	deps := orchestrate.Dependencies{
		API:         api,
		Writer:      writer,
		Store:       objStore,
		Checkpoints: checkpoints,
		Sink:        snk,
		Clock:       clock,
	}

	var engine *query.Engine
	if withEngine {
		engine, err = query.Open(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to open query engine: %w", err)
		}
		deps.Games = engine
		deps.Schemas = engine
	}

	logger.InfoCtx(ctx, "starting run",
		zap.String("service", service),
		zap.String("run_id", runID))

	return &app{
		cfg:    cfg,
		orch:   orchestrate.New(cfg, deps),
		engine: engine,
		db:     closeDB,
	}, nil
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
	}
	a.db()
	logger.Flush(2 * time.Second)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func seasonRange(start, end int) []int {
	if start == 0 || end == 0 || end < start {
		return nil
	}
	var seasons []int
	for s := start; s <= end; s++ {
		seasons = append(seasons, s)
	}
	return seasons
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func runIngest(mode string, args []string) {
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	configFile, envPath := commonFlags(fs)
	seasonStart := fs.Int("season-start", 0, "First season to ingest")
	seasonEnd := fs.Int("season-end", 0, "Last season to ingest")
	skipFanout := fs.Bool("skip-fanout", false, "Skip game and player fan-out endpoints")
	onlyEndpoints := fs.String("only-endpoints", "", "Comma-separated endpoint names")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, *configFile, *envPath, "cbbd-etl", false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer a.close()

	opts := orchestrate.RunOptions{
		Seasons:       seasonRange(*seasonStart, *seasonEnd),
		SkipFanout:    *skipFanout,
		OnlyEndpoints: splitList(*onlyEndpoints),
	}
	if mode == "backfill" {
		err = a.orch.RunBackfill(ctx, opts)
	} else {
		err = a.orch.RunIncremental(ctx, opts)
	}
	if err != nil {
		logger.FatalCtx(ctx, "run failed", zap.Error(err))
	}
	logger.InfoCtx(ctx, "run complete")
}

func runOne(args []string) {
	fs := flag.NewFlagSet("one", flag.ExitOnError)
	configFile, envPath := commonFlags(fs)
	endpoint := fs.String("endpoint", "", "Endpoint name to run")
	paramsJSON := fs.String("params", "{}", "JSON object of call parameters")
	fs.Parse(args)

	if *endpoint == "" {
		fmt.Fprintln(os.Stderr, "one: --endpoint is required")
		os.Exit(2)
	}
	var params domain.Params
	if err := json.Unmarshal([]byte(*paramsJSON), &params); err != nil {
		fmt.Fprintf(os.Stderr, "one: invalid --params: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, *configFile, *envPath, "cbbd-etl", false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.orch.RunOne(ctx, *endpoint, params); err != nil {
		logger.FatalCtx(ctx, "run failed", zap.Error(err))
	}
	logger.InfoCtx(ctx, "run complete")
}

func runFanout(args []string) {
	fs := flag.NewFlagSet("fanout", flag.ExitOnError)
	configFile, envPath := commonFlags(fs)
	endpoint := fs.String("endpoint", "", "Optional fan-out endpoint to run")
	seasonStart := fs.Int("season-start", 0, "First season to fan out")
	seasonEnd := fs.Int("season-end", 0, "Last season to fan out")
	limit := fs.Int("limit", 0, "Cap the number of ids processed")
	batchSize := fs.Int("batch-size", 0, "Ids per batch")
	gamesFromStorage := fs.Bool("games-from-storage", false, "Discover game ids from written layers instead of the API")
	resumeFile := fs.String("resume-file", "", "File of completed game ids to skip")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, *configFile, *envPath, "cbbd-etl", *gamesFromStorage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer a.close()

	err = a.orch.RunFanoutOnly(ctx, orchestrate.FanoutOptions{
		Seasons:          seasonRange(*seasonStart, *seasonEnd),
		Endpoint:         *endpoint,
		Limit:            *limit,
		BatchSize:        *batchSize,
		GamesFromStorage: *gamesFromStorage,
		ResumeFile:       *resumeFile,
	})
	if err != nil {
		logger.FatalCtx(ctx, "fan-out failed", zap.Error(err))
	}
	logger.InfoCtx(ctx, "fan-out complete")
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile, envPath := commonFlags(fs)
	strict := fs.Bool("strict-schema", false, "Fail when primary keys are missing from table schemas")
	fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, *configFile, *envPath, "cbbd-etl", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.orch.Validate(ctx, *strict); err != nil {
		logger.FatalCtx(ctx, "validation failed", zap.Error(err))
	}
}
