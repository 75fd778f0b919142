// Package gapfill re-drives game fan-out endpoints for games that are
// missing from their silver tables, with resumable progress tracking.
package gapfill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/hoops-edge/cbbd-lakehouse/internal/adapter"
	"github.com/hoops-edge/cbbd-lakehouse/internal/apiclient"
	"github.com/hoops-edge/cbbd-lakehouse/internal/checkpoint"
	"github.com/hoops-edge/cbbd-lakehouse/internal/config"
	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/lake"
	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
)

// Stats counts the outcomes of one fill pass
type Stats struct {
	Written int
	Empty   int
	Errors  int
	Skipped int
}

// Options tunes a fill pass
type Options struct {
	// Season partitions the written layers
	Season int
	// DryRun fetches without writing
	DryRun bool
	// BatchSize bounds how many games are in flight between progress logs
	BatchSize int
	// ResumeFile tracks completed game ids; empty selects a per-endpoint
	// default under tmp/
	ResumeFile string
	// MarkEmpty records games with empty responses as done
	MarkEmpty bool
	// LogEvery sets the progress log cadence in games
	LogEvery int
}

// Filler fetches missing games for one fan-out endpoint and writes them
// through the usual raw/bronze/silver path
type Filler struct {
	cfg         *config.ETLConfig
	spec        domain.EndpointSpec
	api         apiclient.Client
	writer      *lake.Writer
	checkpoints checkpoint.Store
	clock       adapter.Clock

	mu     sync.Mutex
	resume *os.File
	stats  Stats
}

// NewFiller creates a filler for one game fan-out endpoint. Checkpoints
// are optional; nil disables fill checkpointing.
func NewFiller(cfg *config.ETLConfig, endpoint string, api apiclient.Client, writer *lake.Writer, checkpoints checkpoint.Store, clock adapter.Clock) (*Filler, error) {
	spec, ok := cfg.Endpoints[endpoint]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint: %s", endpoint)
	}
	if spec.Type != domain.EndpointGameFanout {
		return nil, fmt.Errorf("endpoint %s is not a game fan-out endpoint", endpoint)
	}
	return &Filler{
		cfg:         cfg,
		spec:        spec,
		api:         api,
		writer:      writer,
		checkpoints: checkpoints,
		clock:       clock,
	}, nil
}

// Fill fetches every missing game and writes it through all layers.
// Games already named in the resume file are skipped; each success is
// appended to it so an interrupted pass can continue where it stopped.
func (f *Filler) Fill(ctx context.Context, missing []domain.GameRef, opts Options) (Stats, error) {
	resumePath := opts.ResumeFile
	if resumePath == "" {
		resumePath = filepath.Join("tmp", fmt.Sprintf("gap_fill_%s_%d.txt", f.spec.Name, opts.Season))
	}
	doneIDs, err := loadDoneIDs(resumePath)
	if err != nil {
		return Stats{}, err
	}

	var pending []domain.GameRef
	for _, ref := range missing {
		if _, done := doneIDs[ref.ID]; done {
			continue
		}
		pending = append(pending, ref)
	}
	f.stats = Stats{Skipped: len(missing) - len(pending)}
	if len(pending) == 0 {
		return f.stats, nil
	}

	if !opts.DryRun {
		if err := os.MkdirAll(filepath.Dir(resumePath), 0o755); err != nil {
			return f.stats, fmt.Errorf("failed to create resume directory: %w", err)
		}
		resume, err := os.OpenFile(resumePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return f.stats, fmt.Errorf("failed to open resume file %s: %w", resumePath, err)
		}
		f.resume = resume
		defer func() {
			resume.Close()
			f.resume = nil
		}()
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = len(pending)
	}
	logEvery := opts.LogEvery
	if logEvery <= 0 {
		logEvery = 25
	}
	poolSize := f.cfg.Ingest.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}

	pool := pond.NewPool(poolSize, pond.WithContext(ctx))
	defer pool.StopAndWait()

	processed := 0
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		group := pool.NewGroup()
		for _, ref := range pending[start:end] {
			ref := ref
			group.Submit(func() {
				f.fillOne(ctx, ref, opts)
			})
		}
		if err := group.Wait(); err != nil {
			return f.snapshot(), err
		}
		processed = end
		if processed%logEvery == 0 || processed == len(pending) {
			stats := f.snapshot()
			logger.InfoCtx(ctx, "gap-fill progress",
				zap.String("endpoint", f.spec.Name),
				zap.Int("processed", processed),
				zap.Int("pending", len(pending)),
				zap.Int("written", stats.Written),
				zap.Int("empty", stats.Empty),
				zap.Int("errors", stats.Errors))
		}
	}
	return f.snapshot(), nil
}

func (f *Filler) fillOne(ctx context.Context, ref domain.GameRef, opts Options) {
	params := domain.Params{"gameId": ref.ID}
	resp, err := f.api.Get(ctx, f.spec, params)
	if err != nil {
		logger.WarnCtx(ctx, "gap-fill fetch failed",
			zap.String("endpoint", f.spec.Name),
			zap.Int64("game_id", ref.ID),
			zap.Error(err))
		f.mu.Lock()
		f.stats.Errors++
		f.mu.Unlock()
		return
	}
	records := domain.CoerceRecords(resp)
	if len(records) == 0 {
		f.mu.Lock()
		f.stats.Empty++
		f.mu.Unlock()
		if opts.MarkEmpty && !opts.DryRun {
			f.appendResume(ctx, ref.ID)
		}
		return
	}
	if opts.DryRun {
		f.mu.Lock()
		f.stats.Written++
		f.mu.Unlock()
		return
	}

	season := opts.Season
	_, err = f.writer.WriteLayers(ctx, f.spec, records, params, lake.WriteOptions{
		Season: &season,
		Date:   ref.Date,
	})
	if err != nil {
		logger.WarnCtx(ctx, "gap-fill write failed",
			zap.String("endpoint", f.spec.Name),
			zap.Int64("game_id", ref.ID),
			zap.Error(err))
		f.mu.Lock()
		f.stats.Errors++
		f.mu.Unlock()
		return
	}

	f.appendResume(ctx, ref.ID)
	if f.checkpoints != nil {
		err := f.checkpoints.Put(ctx, "gap_fill:"+f.spec.Name, params.Fingerprint(), domain.CheckpointPayload{
			GameID:           ref.ID,
			Season:           season,
			LastIngestedDate: f.today(),
		})
		if err != nil {
			logger.WarnCtx(ctx, "gap-fill checkpoint failed",
				zap.String("endpoint", f.spec.Name),
				zap.Int64("game_id", ref.ID),
				zap.Error(err))
		}
	}

	f.mu.Lock()
	f.stats.Written++
	f.mu.Unlock()
}

func (f *Filler) today() string {
	return f.clock.Now().UTC().Format("2006-01-02")
}

func (f *Filler) snapshot() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *Filler) appendResume(ctx context.Context, gameID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resume == nil {
		return
	}
	if _, err := fmt.Fprintf(f.resume, "%d\n", gameID); err != nil {
		logger.WarnCtx(ctx, "failed to append resume entry",
			zap.Int64("game_id", gameID),
			zap.Error(err))
	}
}

// loadDoneIDs reads completed game ids from the resume file; a missing
// file means a fresh start
func loadDoneIDs(path string) (map[int64]struct{}, error) {
	refs, err := LoadMissingIDsFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[int64]struct{}{}, nil
		}
		return nil, err
	}
	done := make(map[int64]struct{}, len(refs))
	for _, ref := range refs {
		done[ref.ID] = struct{}{}
	}
	return done, nil
}
