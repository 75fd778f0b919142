package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hoops-edge/cbbd-lakehouse/internal/adapter"
	"github.com/hoops-edge/cbbd-lakehouse/internal/apiclient"
	"github.com/hoops-edge/cbbd-lakehouse/internal/checkpoint"
	"github.com/hoops-edge/cbbd-lakehouse/internal/config"
	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/lake"
	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
	"github.com/hoops-edge/cbbd-lakehouse/internal/normalize"
	"github.com/hoops-edge/cbbd-lakehouse/internal/sink"
	"github.com/hoops-edge/cbbd-lakehouse/internal/storage"
)

type runMode string

const (
	modeBackfill    runMode = "backfill"
	modeIncremental runMode = "incremental"
	modeOne         runMode = "one"
)

// GameSource loads the known game universe from previously written layers,
// as an alternative to re-fetching it from the upstream API
type GameSource interface {
	LoadGames(ctx context.Context, seasons []int) ([]domain.GameRef, error)
}

// SchemaSource reports the column names present in a written table's files,
// used by strict validation to check primary keys survived normalization
type SchemaSource interface {
	TableColumns(ctx context.Context, table string) ([]string, error)
}

// Dependencies carries the collaborators an Orchestrator is wired with.
// Games and Schemas are optional; leaving them nil disables storage-backed
// id discovery and strict schema validation respectively.
type Dependencies struct {
	API         apiclient.Client
	Writer      *lake.Writer
	Store       storage.ObjectStore
	Checkpoints checkpoint.Store
	Sink        *sink.Sink
	Games       GameSource
	Schemas     SchemaSource
	Clock       adapter.Clock
}

// Orchestrator drives one ingestion run: it walks the endpoint registry,
// dispatches each endpoint by type and hands every API response to the
// lake writer. All per-unit failures are dead-lettered, never fatal.
type Orchestrator struct {
	cfg         *config.ETLConfig
	registry    map[string]domain.EndpointSpec
	api         apiclient.Client
	writer      *lake.Writer
	store       storage.ObjectStore
	checkpoints checkpoint.Store
	sink        *sink.Sink
	games       GameSource
	schemas     SchemaSource
	clock       adapter.Clock
	layout      lake.Layout

	mu            sync.Mutex
	gameIDs       map[int64]gameMeta
	playerIDs     map[int64]struct{}
	playerSeasons map[playerSeason]struct{}
	requestCounts map[string]int
	resumeGameIDs map[int64]struct{}

	gamesFromStorage bool
}

type gameMeta struct {
	season *int
	date   string
}

type playerSeason struct {
	playerID int64
	season   int
}

// New creates an orchestrator over the given configuration and collaborators
func New(cfg *config.ETLConfig, deps Dependencies) *Orchestrator {
	return &Orchestrator{
		cfg:           cfg,
		registry:      cfg.Endpoints,
		api:           deps.API,
		writer:        deps.Writer,
		store:         deps.Store,
		checkpoints:   deps.Checkpoints,
		sink:          deps.Sink,
		games:         deps.Games,
		schemas:       deps.Schemas,
		clock:         deps.Clock,
		layout:        lake.DefaultLayout,
		gameIDs:       make(map[int64]gameMeta),
		playerIDs:     make(map[int64]struct{}),
		playerSeasons: make(map[playerSeason]struct{}),
		requestCounts: make(map[string]int),
	}
}

// RunOptions tunes a backfill or incremental run
type RunOptions struct {
	// Seasons overrides the configured season range
	Seasons []int
	// SkipFanout skips game and player fan-out endpoints
	SkipFanout bool
	// OnlyEndpoints restricts the run to the named endpoints
	OnlyEndpoints []string
}

// RunBackfill runs every registered endpoint across the full season range
func (o *Orchestrator) RunBackfill(ctx context.Context, opts RunOptions) error {
	return o.run(ctx, modeBackfill, opts)
}

// RunIncremental runs every registered endpoint, resuming season endpoints
// from their checkpoints and restricting date endpoints to the rolling window
func (o *Orchestrator) RunIncremental(ctx context.Context, opts RunOptions) error {
	return o.run(ctx, modeIncremental, opts)
}

func (o *Orchestrator) run(ctx context.Context, mode runMode, opts RunOptions) error {
	if err := o.writer.EnsurePrefixes(ctx); err != nil {
		return err
	}
	seasons := opts.Seasons
	if len(seasons) == 0 {
		seasons = o.defaultSeasons()
	}
	only := toSet(opts.OnlyEndpoints)
	for _, name := range o.sortedEndpoints() {
		if err := ctx.Err(); err != nil {
			return err
		}
		spec := o.registry[name]
		if len(only) > 0 && !only[name] {
			continue
		}
		if opts.SkipFanout && (spec.Type == domain.EndpointGameFanout || spec.Type == domain.EndpointPlayerFanout) {
			logger.InfoCtx(ctx, "skipping fan-out endpoint", zap.String("endpoint", name))
			continue
		}
		if err := o.runEndpoint(ctx, spec, seasons, mode); err != nil {
			return err
		}
		// keep a partial manifest behind even if a later endpoint crashes
		if err := o.sink.Flush(ctx); err != nil {
			logger.WarnCtx(ctx, "failed to flush run summary", zap.Error(err))
		}
	}
	return o.sink.Finalize(ctx)
}

// RunOne runs a single API call with explicit parameters
func (o *Orchestrator) RunOne(ctx context.Context, endpoint string, params domain.Params) error {
	if err := o.writer.EnsurePrefixes(ctx); err != nil {
		return err
	}
	spec, ok := o.registry[endpoint]
	if !ok {
		return fmt.Errorf("unknown endpoint: %s", endpoint)
	}
	o.runSingleCall(ctx, spec, params, modeOne, nil, "")
	return o.sink.Finalize(ctx)
}

func (o *Orchestrator) runEndpoint(ctx context.Context, spec domain.EndpointSpec, seasons []int, mode runMode) error {
	if o.isSkipped(spec.Name) {
		logger.InfoCtx(ctx, "skipping endpoint", zap.String("endpoint", spec.Name))
		return nil
	}
	// plays_date is a rolling-window feed and only meaningful incrementally
	if spec.Name == "plays_date" && mode != modeIncremental {
		logger.InfoCtx(ctx, "skipping incremental-only endpoint",
			zap.String("endpoint", spec.Name),
			zap.String("mode", string(mode)))
		return nil
	}
	switch spec.Type {
	case domain.EndpointSnapshot:
		o.runSingleCall(ctx, spec, domain.Params{}, mode, nil, "")
		return nil
	case domain.EndpointSeason:
		return o.runSeasonEndpoint(ctx, spec, seasons, mode)
	case domain.EndpointDate:
		return o.runDateEndpoint(ctx, spec, mode)
	case domain.EndpointGameFanout:
		return o.runGameFanout(ctx, spec, seasons, mode)
	case domain.EndpointPlayerFanout:
		return o.runPlayerFanout(ctx, spec, seasons, mode)
	default:
		return fmt.Errorf("unknown endpoint type: %s", spec.Type)
	}
}

// runSingleCall fetches one parameter set and writes it through all layers.
// Failures and empty responses are dead-lettered; the return value reports
// whether the unit fully succeeded so callers can gate checkpoints on it.
func (o *Orchestrator) runSingleCall(ctx context.Context, spec domain.EndpointSpec, params domain.Params, mode runMode, season *int, date string) bool {
	if spec.MissingRequired(params) {
		logger.WarnCtx(ctx, "skipping call with missing required params",
			zap.String("endpoint", spec.Name),
			zap.Any("params", params))
		return false
	}
	resp, err := o.api.Get(ctx, spec, params)
	if err != nil {
		o.sink.DeadLetter(ctx, spec.Name, params, failureReason(err))
		return false
	}
	records := domain.CoerceRecords(resp)
	result, err := o.writer.WriteLayers(ctx, spec, records, params, lake.WriteOptions{Season: season, Date: date})
	if err != nil {
		o.sink.DeadLetter(ctx, spec.Name, params, failureReason(err))
		return false
	}
	if result.Empty {
		o.sink.DeadLetter(ctx, spec.Name, params, "empty_response")
		o.sink.RecordSummary(spec.Name, 0)
		return true
	}
	o.sink.RecordSummary(spec.Name, result.Rows)
	o.tickProgress(ctx, spec.Name)
	return true
}

// failureReason renders a dead-letter reason; HTTP failures keep their
// status code so they can be re-driven selectively
func failureReason(err error) string {
	var statusErr *apiclient.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Reason()
	}
	return "error:" + err.Error()
}

// Validate checks the newest run manifest for endpoints that produced no
// rows, then optionally checks primary-key columns survived into the
// written table schemas. Row-count failures are always fatal; schema
// failures are fatal only when strict is set.
func (o *Orchestrator) Validate(ctx context.Context, strict bool) error {
	summary, err := o.latestSummary(ctx)
	if err != nil {
		return err
	}
	if summary == nil {
		logger.WarnCtx(ctx, "no run manifest found, nothing to validate")
		return nil
	}
	var failed []string
	for endpoint, stats := range summary.Endpoints {
		if stats.Rows <= 0 {
			failed = append(failed, endpoint)
		}
	}
	sort.Strings(failed)
	if len(failed) > 0 {
		logger.ErrorCtx(ctx, fmt.Errorf("validation failed"), zap.Strings("endpoints", failed))
		return fmt.Errorf("validation failed for endpoints: %s", strings.Join(failed, ", "))
	}

	if o.schemas != nil {
		missing, err := o.validateSchemas(ctx)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			logger.WarnCtx(ctx, "schema validation found tables missing primary keys",
				zap.Any("tables", missing),
				zap.Bool("strict", strict))
			if strict {
				return fmt.Errorf("schema validation failed for tables: %v", missing)
			}
		}
	}

	logger.InfoCtx(ctx, "validation passed",
		zap.String("run_id", summary.RunID),
		zap.Int("endpoints", len(summary.Endpoints)))
	return nil
}

// latestSummary loads the most recently started run manifest. Object
// listings carry no timestamps through the store interface, so every
// manifest is decoded and compared by its own start time.
func (o *Orchestrator) latestSummary(ctx context.Context) (*domain.RunSummary, error) {
	keys, err := o.store.List(ctx, o.layout.MetaPrefix+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list run manifests: %w", err)
	}
	var latest *domain.RunSummary
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := o.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read run manifest %s: %w", key, err)
		}
		var summary domain.RunSummary
		if err := json.Unmarshal(data, &summary); err != nil {
			logger.WarnCtx(ctx, "skipping unreadable run manifest", zap.String("key", key), zap.Error(err))
			continue
		}
		if latest == nil || summary.StartedAt.After(latest.StartedAt) {
			s := summary
			latest = &s
		}
	}
	return latest, nil
}

func (o *Orchestrator) validateSchemas(ctx context.Context) (map[string][]string, error) {
	missing := make(map[string][]string)
	for table, spec := range normalize.TableSpecs {
		columns, err := o.schemas.TableColumns(ctx, table)
		if err != nil {
			missing[table] = []string{"schema_read_error:" + err.Error()}
			continue
		}
		if len(columns) == 0 {
			// table not written yet
			continue
		}
		present := make(map[string]bool, len(columns))
		for _, c := range columns {
			present[c] = true
		}
		var absent []string
		for _, pk := range spec.PrimaryKeys {
			if !present[pk] {
				absent = append(absent, pk)
			}
		}
		if len(absent) > 0 {
			missing[table] = absent
		}
	}
	return missing, nil
}

func (o *Orchestrator) isSkipped(endpoint string) bool {
	for _, name := range o.cfg.Ingest.SkipEndpoints {
		if name == endpoint {
			return true
		}
	}
	return false
}

func (o *Orchestrator) sortedEndpoints() []string {
	names := make([]string, 0, len(o.registry))
	for name := range o.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defaultSeasons expands the configured season range; an unset last season
// means the season currently in progress
func (o *Orchestrator) defaultSeasons() []int {
	first := o.cfg.Ingest.FirstSeason
	last := o.cfg.Ingest.LastSeason
	if last == 0 {
		last = currentSeason(o.clock.Now().UTC())
	}
	var seasons []int
	for s := first; s <= last; s++ {
		seasons = append(seasons, s)
	}
	return seasons
}

// currentSeason maps a point in time to the season it falls in: seasons are
// labeled by their ending year, and a new one starts each August
func currentSeason(now time.Time) int {
	if now.Month() >= time.August {
		return now.Year() + 1
	}
	return now.Year()
}

func (o *Orchestrator) today() string {
	return o.clock.Now().UTC().Format("2006-01-02")
}

func (o *Orchestrator) tickProgress(ctx context.Context, endpoint string) {
	every := o.cfg.Ingest.LogEveryRequests
	if every <= 0 {
		every = 100
	}
	o.mu.Lock()
	o.requestCounts[endpoint]++
	count := o.requestCounts[endpoint]
	o.mu.Unlock()
	if count%every == 0 {
		logger.InfoCtx(ctx, "endpoint progress",
			zap.String("endpoint", endpoint),
			zap.Int("requests", count))
	}
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}
