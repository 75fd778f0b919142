package orchestrate

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
	"github.com/hoops-edge/cbbd-lakehouse/internal/normalize"
)

// FanoutOptions tunes a fan-out-only run
type FanoutOptions struct {
	// Seasons overrides the configured season range
	Seasons []int
	// Endpoint restricts the run to one fan-out endpoint
	Endpoint string
	// Limit caps the number of ids processed per endpoint
	Limit int
	// BatchSize overrides the configured fan-out batch size
	BatchSize int
	// GamesFromStorage discovers game ids from previously written layers
	// instead of the API
	GamesFromStorage bool
	// ResumeFile names a file of already-completed game ids to skip
	ResumeFile string
}

// RunFanoutOnly re-drives fan-out endpoints without touching the rest of
// the registry, with optional id limits and batching
func (o *Orchestrator) RunFanoutOnly(ctx context.Context, opts FanoutOptions) error {
	if err := o.writer.EnsurePrefixes(ctx); err != nil {
		return err
	}
	seasons := opts.Seasons
	if len(seasons) == 0 {
		seasons = o.defaultSeasons()
	}
	o.gamesFromStorage = opts.GamesFromStorage
	defer func() { o.gamesFromStorage = false }()

	if opts.ResumeFile != "" {
		resumeIDs, err := loadResumeIDs(opts.ResumeFile)
		if err != nil {
			return err
		}
		o.resumeGameIDs = resumeIDs
		defer func() { o.resumeGameIDs = nil }()
	}

	var specs []domain.EndpointSpec
	for _, name := range o.sortedEndpoints() {
		spec := o.registry[name]
		if spec.Type != domain.EndpointGameFanout && spec.Type != domain.EndpointPlayerFanout {
			continue
		}
		if opts.Endpoint != "" && spec.Name != opts.Endpoint {
			continue
		}
		specs = append(specs, spec)
	}
	if opts.Endpoint != "" && len(specs) == 0 {
		return fmt.Errorf("unknown fan-out endpoint: %s", opts.Endpoint)
	}

	for _, spec := range specs {
		if err := o.runFanoutWithLimits(ctx, spec, seasons, opts.Limit, opts.BatchSize); err != nil {
			return err
		}
	}
	return o.sink.Finalize(ctx)
}

func (o *Orchestrator) runGameFanout(ctx context.Context, spec domain.EndpointSpec, seasons []int, mode runMode) error {
	if err := o.ensureGameIDs(ctx, seasons, mode); err != nil {
		return err
	}
	ids := o.pendingGameIDs()
	logger.InfoCtx(ctx, "fan-out starting",
		zap.String("endpoint", spec.Name),
		zap.Int("count", len(ids)))

	pool := o.newPool(ctx)
	group := pool.NewGroup()
	for _, gameID := range ids {
		gameID := gameID
		meta := o.gameMetaFor(gameID)
		group.Submit(func() {
			o.runSingleCall(ctx, spec, domain.Params{"gameId": gameID}, mode, meta.season, meta.date)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	pool.StopAndWait()
	logger.InfoCtx(ctx, "fan-out done",
		zap.String("endpoint", spec.Name),
		zap.Int("count", len(ids)))
	return nil
}

func (o *Orchestrator) runPlayerFanout(ctx context.Context, spec domain.EndpointSpec, seasons []int, mode runMode) error {
	if err := o.ensurePlayerIDs(ctx, seasons); err != nil {
		return err
	}
	usePairs := spec.RequiresSeason()
	pairs := o.sortedPlayerSeasons()
	players := o.sortedPlayerIDs()
	total := len(players)
	if usePairs {
		total = len(pairs)
	}
	logger.InfoCtx(ctx, "fan-out starting",
		zap.String("endpoint", spec.Name),
		zap.Int("count", total))

	pool := o.newPool(ctx)
	group := pool.NewGroup()
	if usePairs {
		for _, pair := range pairs {
			pair := pair
			group.Submit(func() {
				season := pair.season
				params := domain.Params{"playerId": pair.playerID, "season": season}
				o.runSingleCall(ctx, spec, params, mode, &season, "")
			})
		}
	} else {
		for _, playerID := range players {
			playerID := playerID
			group.Submit(func() {
				o.runSingleCall(ctx, spec, domain.Params{"playerId": playerID}, mode, nil, "")
			})
		}
	}
	if err := group.Wait(); err != nil {
		return err
	}
	pool.StopAndWait()
	logger.InfoCtx(ctx, "fan-out done",
		zap.String("endpoint", spec.Name),
		zap.Int("count", total))
	return nil
}

// runFanoutWithLimits is the fan-out-only path: ids are resolved the same
// way as a backfill, then truncated and batched so long re-drives can be
// stopped and resumed
func (o *Orchestrator) runFanoutWithLimits(ctx context.Context, spec domain.EndpointSpec, seasons []int, limit, batchSize int) error {
	type unit struct {
		params domain.Params
		season *int
		date   string
	}
	var units []unit

	switch spec.Type {
	case domain.EndpointGameFanout:
		if err := o.ensureGameIDs(ctx, seasons, modeBackfill); err != nil {
			return err
		}
		for _, gameID := range o.pendingGameIDs() {
			meta := o.gameMetaFor(gameID)
			units = append(units, unit{
				params: domain.Params{"gameId": gameID},
				season: meta.season,
				date:   meta.date,
			})
		}
	case domain.EndpointPlayerFanout:
		if err := o.ensurePlayerIDs(ctx, seasons); err != nil {
			return err
		}
		if spec.RequiresSeason() {
			for _, pair := range o.sortedPlayerSeasons() {
				season := pair.season
				units = append(units, unit{
					params: domain.Params{"playerId": pair.playerID, "season": season},
					season: &season,
				})
			}
		} else {
			for _, playerID := range o.sortedPlayerIDs() {
				units = append(units, unit{params: domain.Params{"playerId": playerID}})
			}
		}
	default:
		return fmt.Errorf("endpoint %s is not a fan-out endpoint", spec.Name)
	}

	if limit > 0 && len(units) > limit {
		units = units[:limit]
	}
	total := len(units)
	if batchSize <= 0 {
		batchSize = o.cfg.Ingest.FanoutBatchSize
	}
	if batchSize <= 0 {
		batchSize = total
	}

	logger.InfoCtx(ctx, "fan-out starting",
		zap.String("endpoint", spec.Name),
		zap.Int("count", total))

	pool := o.newPool(ctx)
	defer pool.StopAndWait()
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batch := units[start:end]
		logger.InfoCtx(ctx, "fan-out batch starting",
			zap.String("endpoint", spec.Name),
			zap.Int("batch_start", start),
			zap.Int("batch_size", len(batch)),
			zap.Int("total", total))
		group := pool.NewGroup()
		for _, u := range batch {
			u := u
			group.Submit(func() {
				o.runSingleCall(ctx, spec, u.params, modeBackfill, u.season, u.date)
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
		logger.InfoCtx(ctx, "fan-out batch done",
			zap.String("endpoint", spec.Name),
			zap.Int("batch_end", end),
			zap.Int("total", total))
	}
	logger.InfoCtx(ctx, "fan-out done",
		zap.String("endpoint", spec.Name),
		zap.Int("count", total))
	return nil
}

func (o *Orchestrator) newPool(ctx context.Context) pond.Pool {
	size := o.cfg.Ingest.WorkerPoolSize
	if size <= 0 {
		size = 1
	}
	return pond.NewPool(size, pond.WithContext(ctx))
}

// ensureGameIDs populates the game id universe once per run: from written
// layers when requested, from a rolling-window games fetch in incremental
// mode, otherwise from a full per-season games sweep
func (o *Orchestrator) ensureGameIDs(ctx context.Context, seasons []int, mode runMode) error {
	o.mu.Lock()
	loaded := len(o.gameIDs) > 0
	o.mu.Unlock()
	if loaded {
		return nil
	}

	gamesSpec, ok := o.registry["games"]
	if !ok {
		return fmt.Errorf("games endpoint is not registered, cannot fan out")
	}

	if o.gamesFromStorage {
		if o.games == nil {
			return fmt.Errorf("storage-backed game discovery is not configured")
		}
		refs, err := o.games.LoadGames(ctx, seasons)
		if err != nil {
			return err
		}
		o.mu.Lock()
		for _, ref := range refs {
			o.gameIDs[ref.ID] = gameMeta{season: ref.Season, date: ref.Date}
		}
		o.mu.Unlock()
		logger.InfoCtx(ctx, "loaded game ids from storage", zap.Int("count", len(refs)))
		return nil
	}

	if mode == modeIncremental && gamesSpec.HasDateWindow() {
		windowDays := o.cfg.Ingest.DateWindowDays
		if windowDays <= 0 {
			windowDays = 1
		}
		end := o.clock.Now().UTC()
		start := end.AddDate(0, 0, -windowDays)
		params := domain.Params{
			gamesSpec.StartDateParam: isoStart(start),
			gamesSpec.EndDateParam:   isoEnd(end),
		}
		resp, err := o.api.Get(ctx, gamesSpec, params)
		if err != nil {
			return err
		}
		o.updateGameMeta(domain.CoerceRecords(resp))
		return nil
	}

	for _, season := range seasons {
		records, err := o.fetchGamesForSeason(ctx, gamesSpec, season)
		if err != nil {
			return err
		}
		o.updateGameMeta(records)
	}
	return nil
}

func (o *Orchestrator) fetchGamesForSeason(ctx context.Context, spec domain.EndpointSpec, season int) ([]domain.Record, error) {
	seasonParam := spec.SeasonParam
	if seasonParam == "" {
		seasonParam = "season"
	}
	start, end := seasonWindow(season)
	var all []domain.Record
	for _, chunk := range dateChunks(start, end, o.chunkDays(spec)) {
		params := domain.Params{seasonParam: season}
		if spec.HasDateWindow() {
			params[spec.StartDateParam] = isoStart(chunk.start)
			params[spec.EndDateParam] = isoEnd(chunk.end)
		}
		resp, err := o.api.Get(ctx, spec, params)
		if err != nil {
			return nil, err
		}
		all = append(all, domain.CoerceRecords(resp)...)
		if !spec.HasDateWindow() {
			break
		}
	}
	return all, nil
}

// ensurePlayerIDs builds the player id universe from the per-season
// games_players feed, which nests a players list under each game
func (o *Orchestrator) ensurePlayerIDs(ctx context.Context, seasons []int) error {
	o.mu.Lock()
	loaded := len(o.playerIDs) > 0
	o.mu.Unlock()
	if loaded {
		return nil
	}

	playersSpec, ok := o.registry["games_players"]
	if !ok {
		return fmt.Errorf("games_players endpoint is not registered, cannot fan out")
	}
	seasonParam := playersSpec.SeasonParam
	if seasonParam == "" {
		seasonParam = "season"
	}
	for _, season := range seasons {
		resp, err := o.api.Get(ctx, playersSpec, domain.Params{seasonParam: season})
		if err != nil {
			return err
		}
		o.mu.Lock()
		for _, rec := range domain.CoerceRecords(resp) {
			if players, ok := rec["players"].([]any); ok {
				for _, p := range players {
					player, ok := p.(map[string]any)
					if !ok {
						continue
					}
					o.addPlayer(player, season)
				}
				continue
			}
			o.addPlayer(rec, season)
		}
		o.mu.Unlock()
	}
	return nil
}

// addPlayer records one player id; callers hold the mutex
func (o *Orchestrator) addPlayer(rec domain.Record, season int) {
	var raw any
	for _, key := range []string{"playerId", "athleteId", "id"} {
		if v, ok := rec[key]; ok && v != nil {
			raw = v
			break
		}
	}
	playerID := normalize.ToInt64(raw)
	if playerID == nil {
		return
	}
	o.playerIDs[*playerID] = struct{}{}
	o.playerSeasons[playerSeason{playerID: *playerID, season: season}] = struct{}{}
}

func (o *Orchestrator) updateGameMeta(records []domain.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rec := range records {
		var rawID any
		if v, ok := rec["id"]; ok && v != nil {
			rawID = v
		} else if v, ok := rec["gameId"]; ok && v != nil {
			rawID = v
		}
		gameID := normalize.ToInt64(rawID)
		if gameID == nil {
			continue
		}
		meta := o.gameIDs[*gameID]
		var rawSeason any
		if v, ok := rec["season"]; ok && v != nil {
			rawSeason = v
		} else if v, ok := rec["year"]; ok && v != nil {
			rawSeason = v
		}
		if season := normalize.ToInt64(rawSeason); season != nil {
			s := int(*season)
			meta.season = &s
		}
		for _, key := range []string{"date", "startDate", "startTime"} {
			if v, ok := rec[key]; ok && v != nil {
				date := fmt.Sprint(v)
				if len(date) > 10 {
					date = date[:10]
				}
				meta.date = date
				break
			}
		}
		o.gameIDs[*gameID] = meta
	}
}

// pendingGameIDs returns the sorted game id universe minus any ids named
// in the resume file
func (o *Orchestrator) pendingGameIDs() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]int64, 0, len(o.gameIDs))
	for id := range o.gameIDs {
		if o.resumeGameIDs != nil {
			if _, done := o.resumeGameIDs[id]; done {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (o *Orchestrator) gameMetaFor(gameID int64) gameMeta {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gameIDs[gameID]
}

func (o *Orchestrator) sortedPlayerIDs() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]int64, 0, len(o.playerIDs))
	for id := range o.playerIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (o *Orchestrator) sortedPlayerSeasons() []playerSeason {
	o.mu.Lock()
	defer o.mu.Unlock()
	pairs := make([]playerSeason, 0, len(o.playerSeasons))
	for pair := range o.playerSeasons {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].playerID != pairs[j].playerID {
			return pairs[i].playerID < pairs[j].playerID
		}
		return pairs[i].season < pairs[j].season
	})
	return pairs
}

// loadResumeIDs reads a resume file of completed game ids, one per line.
// Blank lines, comments and non-numeric lines are ignored; a missing file
// means nothing is done yet.
func loadResumeIDs(path string) (map[int64]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int64]struct{}{}, nil
		}
		return nil, fmt.Errorf("failed to open resume file %s: %w", path, err)
	}
	defer f.Close()

	ids := make(map[int64]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			continue
		}
		ids[id] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read resume file %s: %w", path, err)
	}
	return ids, nil
}
