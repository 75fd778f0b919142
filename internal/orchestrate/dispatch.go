package orchestrate

import (
	"context"
	"time"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
)

// Season windows span the off-season boundary: the 2024 season covers
// 2023-08-01 through 2024-07-31.
const (
	seasonStartMonth = time.August
	seasonStartDay   = 1
	seasonEndMonth   = time.July
	seasonEndDay     = 31
)

// runSeasonEndpoint walks the season range, resuming from the checkpoint in
// incremental mode. Endpoints that declare a date window are fetched in
// date chunks; everything else gets one call per season. The checkpoint
// advances only after a season completes.
func (o *Orchestrator) runSeasonEndpoint(ctx context.Context, spec domain.EndpointSpec, seasons []int, mode runMode) error {
	if len(seasons) == 0 {
		return nil
	}
	seasonParam := spec.SeasonParam
	if seasonParam == "" {
		seasonParam = "season"
	}
	payloadHash := domain.Params{"season_param": seasonParam}.Fingerprint()

	startSeason := seasons[0]
	if mode == modeIncremental {
		cp, err := o.checkpoints.Get(ctx, spec.Name, payloadHash)
		if err != nil {
			return err
		}
		if cp != nil && cp.LastCompletedSeason > startSeason {
			startSeason = cp.LastCompletedSeason
		}
	}

	for _, season := range seasons {
		if err := ctx.Err(); err != nil {
			return err
		}
		if season < startSeason {
			continue
		}
		season := season
		var ok bool
		if spec.HasDateWindow() {
			o.runSeasonByChunks(ctx, spec, seasonParam, season, mode)
			ok = true
		} else {
			params := domain.Params{seasonParam: season}
			ok = o.runSingleCall(ctx, spec, params, mode, &season, "")
		}
		if ok && mode != modeOne {
			err := o.checkpoints.Put(ctx, spec.Name, payloadHash, domain.CheckpointPayload{
				LastCompletedSeason: season,
				LastIngestedDate:    o.today(),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// runSeasonByChunks splits the season window into date chunks and issues
// one call per chunk. Chunk failures are dead-lettered individually.
func (o *Orchestrator) runSeasonByChunks(ctx context.Context, spec domain.EndpointSpec, seasonParam string, season int, mode runMode) {
	start, end := seasonWindow(season)
	for _, chunk := range dateChunks(start, end, o.chunkDays(spec)) {
		params := domain.Params{
			seasonParam:         season,
			spec.StartDateParam: isoStart(chunk.start),
			spec.EndDateParam:   isoEnd(chunk.end),
		}
		o.runSingleCall(ctx, spec, params, mode, &season, "")
	}
}

// runDateEndpoint fetches a rolling window of calendar days ending today,
// checkpointing each completed day
func (o *Orchestrator) runDateEndpoint(ctx context.Context, spec domain.EndpointSpec, mode runMode) error {
	dateParam := spec.DateParam
	if dateParam == "" {
		dateParam = "date"
	}
	windowDays := o.cfg.Ingest.DateWindowDays
	if windowDays <= 0 {
		windowDays = 1
	}
	end := o.clock.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -windowDays)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		date := day.Format("2006-01-02")
		params := domain.Params{dateParam: date}
		ok := o.runSingleCall(ctx, spec, params, mode, nil, date)
		if ok && mode != modeOne {
			err := o.checkpoints.Put(ctx, spec.Name, params.Fingerprint(), domain.CheckpointPayload{
				LastIngestedDate: date,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) chunkDays(spec domain.EndpointSpec) int {
	if spec.ChunkDays > 0 {
		return spec.ChunkDays
	}
	if o.cfg.Ingest.ChunkDays > 0 {
		return o.cfg.Ingest.ChunkDays
	}
	return 30
}

func seasonWindow(season int) (time.Time, time.Time) {
	start := time.Date(season-1, seasonStartMonth, seasonStartDay, 0, 0, 0, 0, time.UTC)
	end := time.Date(season, seasonEndMonth, seasonEndDay, 0, 0, 0, 0, time.UTC)
	return start, end
}

type dateRange struct {
	start time.Time
	end   time.Time
}

// dateChunks splits an inclusive date range into consecutive inclusive
// chunks of at most chunkDays days
func dateChunks(start, end time.Time, chunkDays int) []dateRange {
	if chunkDays <= 0 {
		chunkDays = 1
	}
	var chunks []dateRange
	for current := start; !current.After(end); {
		chunkEnd := current.AddDate(0, 0, chunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, dateRange{start: current, end: chunkEnd})
		current = chunkEnd.AddDate(0, 0, 1)
	}
	return chunks
}

func isoStart(d time.Time) string {
	return d.Format("2006-01-02") + "T00:00:00Z"
}

func isoEnd(d time.Time) string {
	return d.Format("2006-01-02") + "T23:59:59Z"
}
