package gapfill

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/lake"
	"github.com/hoops-edge/cbbd-lakehouse/internal/normalize"
	"github.com/hoops-edge/cbbd-lakehouse/internal/storage"
)

// ScanDiscoverer computes discovery inputs by decoding the raw layer
// directly. It is a drop-in substitute for the query engine in
// environments without DuckDB; slower, but with no extra dependency.
type ScanDiscoverer struct {
	store  storage.ObjectStore
	layout lake.Layout
}

// NewScanDiscoverer creates a discoverer over the raw layer of a bucket
func NewScanDiscoverer(store storage.ObjectStore, layout lake.Layout) *ScanDiscoverer {
	return &ScanDiscoverer{store: store, layout: layout}
}

// GameDates returns every game id of a season found in the raw games
// objects, with its date when one is present
func (d *ScanDiscoverer) GameDates(ctx context.Context, season int) (map[int64]string, error) {
	out := make(map[int64]string)
	err := d.scanEndpoint(ctx, "games", func(rec domain.Record) {
		id := firstInt64(rec, "id", "gameId")
		if id == nil {
			return
		}
		s := firstInt64(rec, "season", "year")
		if s == nil || int(*s) != season {
			return
		}
		out[*id] = firstDate(rec)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DistinctGameIDs returns the game ids already present in a target table,
// collected from the raw objects of every endpoint feeding it
func (d *ScanDiscoverer) DistinctGameIDs(ctx context.Context, table string, _ int) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	for _, endpoint := range endpointsForTable(table) {
		err := d.scanEndpoint(ctx, endpoint, func(rec domain.Record) {
			if id := firstInt64(rec, "gameId", "gameid", "id"); id != nil {
				out[*id] = struct{}{}
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// scanEndpoint decodes every raw object of an endpoint and visits its records
func (d *ScanDiscoverer) scanEndpoint(ctx context.Context, endpoint string, visit func(domain.Record)) error {
	prefix := lake.PartKey(d.layout.RawPrefix, lake.RawPrefixFor(endpoint)) + "/"
	keys, err := d.store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list raw objects under %s: %w", prefix, err)
	}
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json.gz") {
			continue
		}
		data, err := d.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to read raw object %s: %w", key, err)
		}
		records, err := storage.DecodeNDJSON(data)
		if err != nil {
			return fmt.Errorf("failed to decode raw object %s: %w", key, err)
		}
		for _, rec := range records {
			visit(rec)
		}
	}
	return nil
}

// endpointsForTable returns every endpoint whose silver rows land in the
// table, sorted for deterministic scan order
func endpointsForTable(table string) []string {
	var endpoints []string
	for endpoint, t := range lake.SilverTables {
		if t == table {
			endpoints = append(endpoints, endpoint)
		}
	}
	sort.Strings(endpoints)
	return endpoints
}

func firstInt64(rec domain.Record, keys ...string) *int64 {
	for _, key := range keys {
		if v, ok := rec[key]; ok {
			if n := normalize.ToInt64(v); n != nil {
				return n
			}
		}
	}
	return nil
}

func firstDate(rec domain.Record) string {
	for _, key := range []string{"date", "startDate", "startTime"} {
		if v, ok := rec[key].(string); ok && v != "" {
			if len(v) > 10 {
				return v[:10]
			}
			return v
		}
	}
	return ""
}
