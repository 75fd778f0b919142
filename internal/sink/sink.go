package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hoops-edge/cbbd-lakehouse/internal/adapter"
	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/lake"
	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
	"github.com/hoops-edge/cbbd-lakehouse/internal/storage"
)

// Sink records run-level outcomes: dead-lettered units of work and the
// per-endpoint run summary manifest
type Sink struct {
	store  storage.ObjectStore
	layout lake.Layout
	clock  adapter.Clock

	mu      sync.Mutex
	summary *domain.RunSummary
}

// New creates a sink for one run
func New(store storage.ObjectStore, layout lake.Layout, runID string, clock adapter.Clock) *Sink {
	return &Sink{
		store:   store,
		layout:  layout,
		clock:   clock,
		summary: domain.NewRunSummary(runID, clock.Now().UTC()),
	}
}

// DeadLetter records a failed or empty unit of work. Dead-lettering is best
// effort: a sink failure is logged, never propagated, so one broken write
// cannot take down the run it is reporting on.
func (s *Sink) DeadLetter(ctx context.Context, endpoint string, params domain.Params, reason string) {
	entry := domain.DeadLetterEntry{
		Endpoint:  endpoint,
		Params:    params,
		Reason:    reason,
		Timestamp: s.clock.Now().UTC(),
	}
	logger.WarnCtx(ctx, "dead-lettering unit",
		zap.String("endpoint", endpoint),
		zap.String("reason", reason),
		zap.Any("params", params))

	data, err := json.Marshal(entry)
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to encode dead-letter entry: %w", err))
		return
	}
	key := lake.PartKey(
		s.layout.DeadletterPrefix,
		endpoint,
		"ingested_at="+s.clock.Now().UTC().Format("2006-01-02"),
		lake.PartFileName(params.Fingerprint(), ".json"),
	)
	if err := s.store.Put(ctx, key, data, "application/json"); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to write dead-letter entry: %w", err))
	}
}

// RecordSummary records the row count for an endpoint; the last record for
// an endpoint within a run wins
func (s *Sink) RecordSummary(endpoint string, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Endpoints[endpoint] = domain.EndpointSummary{
		Rows:      rows,
		Timestamp: s.clock.Now().UTC(),
	}
}

// Flush writes the summary manifest under the run's fixed key. Repeated
// flushes overwrite in place, so a crash mid-run still leaves the latest
// partial manifest behind.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	data, err := json.Marshal(s.summary)
	runID := s.summary.RunID
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	key := lake.PartKey(s.layout.MetaPrefix, fmt.Sprintf("run_id=%s.json", runID))
	if err := s.store.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}

// Finalize stamps the finish time and writes the manifest one last time
func (s *Sink) Finalize(ctx context.Context) error {
	s.mu.Lock()
	now := s.clock.Now().UTC()
	s.summary.FinishedAt = &now
	s.mu.Unlock()
	return s.Flush(ctx)
}

// Summary returns a copy of the current summary state
func (s *Sink) Summary() domain.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := domain.RunSummary{
		RunID:      s.summary.RunID,
		StartedAt:  s.summary.StartedAt,
		FinishedAt: s.summary.FinishedAt,
		Endpoints:  make(map[string]domain.EndpointSummary, len(s.summary.Endpoints)),
	}
	for k, v := range s.summary.Endpoints {
		out.Endpoints[k] = v
	}
	return out
}
