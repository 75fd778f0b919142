package gapfill

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/lake"
	"github.com/hoops-edge/cbbd-lakehouse/internal/storage"
)

// Discoverer compares the game universe against a target table's contents.
// The DuckDB query engine satisfies this against the written lake.
type Discoverer interface {
	GameDates(ctx context.Context, season int) (map[int64]string, error)
	DistinctGameIDs(ctx context.Context, table string, season int) (map[int64]struct{}, error)
}

// TargetTable resolves the silver table a game fan-out endpoint feeds
func TargetTable(endpoint string) (string, error) {
	table, ok := lake.SilverTables[endpoint]
	if !ok {
		return "", fmt.Errorf("no discovery target for endpoint: %s", endpoint)
	}
	return table, nil
}

// DiscoverMissing returns the games of a season that have no rows in the
// endpoint's target table, sorted by game id
func DiscoverMissing(ctx context.Context, d Discoverer, endpoint string, season int) ([]domain.GameRef, error) {
	table, err := TargetTable(endpoint)
	if err != nil {
		return nil, err
	}
	expected, err := d.GameDates(ctx, season)
	if err != nil {
		return nil, err
	}
	present, err := d.DistinctGameIDs(ctx, table, season)
	if err != nil {
		return nil, err
	}

	var missing []domain.GameRef
	for id, date := range expected {
		if _, ok := present[id]; ok {
			continue
		}
		missing = append(missing, domain.GameRef{ID: id, Date: date})
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].ID < missing[j].ID })
	return missing, nil
}

// LoadMissingIDsFile reads game ids from a file, one per line, optionally
// as "gameId,date". Blank lines and comments are skipped.
func LoadMissingIDsFile(path string) ([]domain.GameRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open missing-ids file %s: %w", path, err)
	}
	defer f.Close()

	var refs []domain.GameRef
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idPart, datePart, _ := strings.Cut(line, ",")
		id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
		if err != nil {
			continue
		}
		refs = append(refs, domain.GameRef{ID: id, Date: strings.TrimSpace(datePart)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read missing-ids file %s: %w", path, err)
	}
	return refs, nil
}

// Silver tables partitioned by season, which must never mix asof and date
// partitions under one season
var seasonPartitionedTables = []string{
	"fct_games", "fct_game_teams", "fct_game_players", "fct_game_media",
	"fct_lines", "fct_plays", "fct_substitutions", "fct_lineups",
	"fct_rankings", "fct_ratings_adjusted", "fct_ratings_srs",
}

// Dimension tables partitioned by asof only
var dimTables = []string{
	"dim_teams", "dim_conferences", "dim_venues", "dim_lines_providers", "dim_play_types",
}

// ValidatePartitions checks the silver layer's partition layout for one
// season and returns issues keyed by table
func ValidatePartitions(ctx context.Context, store storage.ObjectStore, layout lake.Layout, season int) (map[string][]string, error) {
	issues := make(map[string][]string)

	for _, table := range seasonPartitionedTables {
		prefix := fmt.Sprintf("%s/%s/season=%d/", layout.SilverPrefix, table, season)
		keys, err := store.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			issues[table] = append(issues[table], fmt.Sprintf("no data for season=%d", season))
			continue
		}
		hasAsof := false
		hasDate := false
		for _, key := range keys {
			if strings.Contains(key, "/asof=") {
				hasAsof = true
			}
			if strings.Contains(key, "/date=") {
				hasDate = true
			}
		}
		if hasAsof && hasDate {
			issues[table] = append(issues[table],
				fmt.Sprintf("mixed partition patterns: both asof and date found under season=%d", season))
		}
	}

	for _, table := range dimTables {
		prefix := fmt.Sprintf("%s/%s/", layout.SilverPrefix, table)
		keys, err := store.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			issues[table] = append(issues[table], "no data found")
			continue
		}
		for _, key := range keys {
			if strings.Contains(key, "/season=") {
				issues[table] = append(issues[table], "unexpected season partition in dimension table")
				break
			}
		}
	}

	return issues, nil
}
