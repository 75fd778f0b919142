// Package query reads the written parquet layers back through DuckDB's
// httpfs extension, for id discovery and gap analysis without a round trip
// through the upstream API.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/hoops-edge/cbbd-lakehouse/internal/config"
	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/lake"
)

// Engine wraps an in-memory DuckDB instance configured to read parquet
// straight from the object store
type Engine struct {
	db     *sql.DB
	bucket string
	layout lake.Layout
}

// Open creates a DuckDB engine against the configured object store
func Open(cfg config.StorageConfig) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if _, err := db.Exec("INSTALL httpfs"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to install httpfs extension: %w", err)
	}
	if _, err := db.Exec("LOAD httpfs"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load httpfs extension: %w", err)
	}

	useSSL := "false"
	if cfg.UseSSL {
		useSSL = "true"
	}
	secretSQL := fmt.Sprintf(`CREATE SECRET (
		TYPE S3,
		KEY_ID '%s',
		SECRET '%s',
		REGION '%s',
		ENDPOINT '%s',
		USE_SSL %s,
		URL_STYLE 'path'
	)`, cfg.AccessKey, cfg.SecretKey, cfg.Region, cfg.Endpoint, useSSL)
	if _, err := db.Exec(secretSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure object store access: %w", err)
	}

	return &Engine{db: db, bucket: cfg.Bucket, layout: lake.DefaultLayout}, nil
}

// Close releases the underlying database
func (e *Engine) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

func (e *Engine) silverGlob(table string, partition string) string {
	if partition != "" {
		// a season partition may nest date= directories under it
		return fmt.Sprintf("s3://%s/%s/%s/%s/**/*.parquet", e.bucket, e.layout.SilverPrefix, table, partition)
	}
	return fmt.Sprintf("s3://%s/%s/%s/**/*.parquet", e.bucket, e.layout.SilverPrefix, table)
}

func (e *Engine) bronzeGlob(table string, partition string) string {
	return fmt.Sprintf("s3://%s/%s/%s/%s/**/*.parquet", e.bucket, e.layout.BronzePrefix, table, partition)
}

// noFilesError reports whether the error means the glob matched nothing,
// which callers treat as an empty table rather than a failure
func noFilesError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "No files found") || strings.Contains(msg, "no files found")
}

// globColumns returns the column names present in the files behind a glob
func (e *Engine) globColumns(ctx context.Context, glob string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, "SELECT DISTINCT name FROM parquet_schema(?)", glob)
	if err != nil {
		if noFilesError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read parquet schema for %s: %w", glob, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// TableColumns reports the columns of a silver table across all its files
func (e *Engine) TableColumns(ctx context.Context, table string) ([]string, error) {
	return e.globColumns(ctx, e.silverGlob(table, ""))
}

// gameColumns picks the id, season and date columns out of whatever schema
// a games table was written with
type gameColumns struct {
	id     string
	season string
	date   string
}

func resolveGameColumns(columns []string) (gameColumns, bool) {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	var out gameColumns
	switch {
	case present["gameId"]:
		out.id = "gameId"
	case present["id"]:
		out.id = "id"
	default:
		return out, false
	}
	if present["season"] {
		out.season = "season"
	}
	for _, c := range []string{"date", "startDate", "startTime"} {
		if present[c] {
			out.date = c
			break
		}
	}
	return out, true
}

// loadGameRefs reads (id, season, date) triples from a games glob
func (e *Engine) loadGameRefs(ctx context.Context, glob string) ([]domain.GameRef, error) {
	columns, err := e.globColumns(ctx, glob)
	if err != nil || len(columns) == 0 {
		return nil, err
	}
	cols, ok := resolveGameColumns(columns)
	if !ok {
		return nil, nil
	}

	seasonExpr := "CAST(NULL AS BIGINT)"
	if cols.season != "" {
		seasonExpr = fmt.Sprintf(`TRY_CAST(g."%s" AS BIGINT)`, cols.season)
	}
	dateExpr := "CAST(NULL AS VARCHAR)"
	if cols.date != "" {
		dateExpr = fmt.Sprintf(`SUBSTR(CAST(g."%s" AS VARCHAR), 1, 10)`, cols.date)
	}
	querySQL := fmt.Sprintf(`
		SELECT DISTINCT TRY_CAST(g."%s" AS BIGINT), %s, %s
		FROM read_parquet(?, union_by_name=true) g
		WHERE g."%s" IS NOT NULL
		ORDER BY 1`,
		cols.id, seasonExpr, dateExpr, cols.id)

	rows, err := e.db.QueryContext(ctx, querySQL, glob)
	if err != nil {
		if noFilesError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query games from %s: %w", glob, err)
	}
	defer rows.Close()

	var refs []domain.GameRef
	for rows.Next() {
		var id sql.NullInt64
		var season sql.NullInt64
		var date sql.NullString
		if err := rows.Scan(&id, &season, &date); err != nil {
			return nil, err
		}
		if !id.Valid {
			continue
		}
		ref := domain.GameRef{ID: id.Int64}
		if season.Valid {
			s := int(season.Int64)
			ref.Season = &s
		}
		if date.Valid {
			ref.Date = date.String
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// LoadGames reads the game universe for the given seasons from the silver
// games table, falling back to bronze when silver has nothing yet
func (e *Engine) LoadGames(ctx context.Context, seasons []int) ([]domain.GameRef, error) {
	var all []domain.GameRef
	for _, season := range seasons {
		refs, err := e.loadGameRefs(ctx, e.silverGlob("fct_games", fmt.Sprintf("season=%d", season)))
		if err != nil {
			return nil, err
		}
		all = append(all, refs...)
	}
	if len(all) > 0 {
		return all, nil
	}
	for _, season := range seasons {
		refs, err := e.loadGameRefs(ctx, e.bronzeGlob("games", fmt.Sprintf("season=%d", season)))
		if err != nil {
			return nil, err
		}
		all = append(all, refs...)
	}
	return all, nil
}

// GameDates returns the game id to date mapping for one season from the
// silver games table
func (e *Engine) GameDates(ctx context.Context, season int) (map[int64]string, error) {
	refs, err := e.loadGameRefs(ctx, e.silverGlob("fct_games", fmt.Sprintf("season=%d", season)))
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(refs))
	for _, ref := range refs {
		out[ref.ID] = ref.Date
	}
	return out, nil
}

// DistinctGameIDs returns the set of game ids already present in a silver
// table for one season; a table with no files yet is an empty set
func (e *Engine) DistinctGameIDs(ctx context.Context, table string, season int) (map[int64]struct{}, error) {
	glob := e.silverGlob(table, fmt.Sprintf("season=%d", season))
	columns, err := e.globColumns(ctx, glob)
	if err != nil || len(columns) == 0 {
		return map[int64]struct{}{}, err
	}
	idCol := ""
	for _, c := range columns {
		if c == "gameId" {
			idCol = c
			break
		}
	}
	if idCol == "" {
		return map[int64]struct{}{}, nil
	}

	querySQL := fmt.Sprintf(`
		SELECT DISTINCT TRY_CAST("%s" AS BIGINT)
		FROM read_parquet(?, union_by_name=true)
		WHERE "%s" IS NOT NULL`, idCol, idCol)
	rows, err := e.db.QueryContext(ctx, querySQL, glob)
	if err != nil {
		if noFilesError(err) {
			return map[int64]struct{}{}, nil
		}
		return nil, fmt.Errorf("failed to query game ids from %s: %w", glob, err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id sql.NullInt64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id.Valid {
			ids[id.Int64] = struct{}{}
		}
	}
	return ids, rows.Err()
}
