package lake

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hoops-edge/cbbd-lakehouse/internal/adapter"
	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
	"github.com/hoops-edge/cbbd-lakehouse/internal/normalize"
	"github.com/hoops-edge/cbbd-lakehouse/internal/storage"
)

// CatalogSyncer keeps the schema catalog in step with the objects a write
// produced
type CatalogSyncer interface {
	Sync(ctx context.Context, database, table, location string, columns []normalize.Column, partitionKeys []string) error
}

// WriteOptions carries the partition context of one unit of work
type WriteOptions struct {
	Season *int
	Date   string
}

// Result summarizes one layered write
type Result struct {
	// Rows is the curated row count after aliasing and dedup
	Rows int
	// Empty marks a response that produced no records at all
	Empty bool
}

// Writer materializes one API response into the raw, bronze, silver and
// gold layers of the bucket
type Writer struct {
	store   storage.ObjectStore
	bucket  string
	layout  Layout
	catalog CatalogSyncer
	seen    *normalize.SeenKeys
	runID   string
	clock   adapter.Clock
}

// NewWriter creates a layered writer for one run
func NewWriter(store storage.ObjectStore, bucket string, layout Layout, catalog CatalogSyncer, runID string, clock adapter.Clock) *Writer {
	return &Writer{
		store:   store,
		bucket:  bucket,
		layout:  layout,
		catalog: catalog,
		seen:    normalize.NewSeenKeys(),
		runID:   runID,
		clock:   clock,
	}
}

// EnsurePrefixes writes keep markers so every layout prefix exists even in
// an empty bucket
func (w *Writer) EnsurePrefixes(ctx context.Context) error {
	for _, prefix := range w.layout.All() {
		if err := w.store.Put(ctx, prefix+"/.keep", nil, "application/octet-stream"); err != nil {
			return fmt.Errorf("failed to ensure prefix %s: %w", prefix, err)
		}
	}
	return nil
}

// WriteLayers writes one response through every applicable layer. An empty
// response writes nothing and reports Empty so the caller can dead-letter
// it; replays of identical parameters overwrite the same part files.
func (w *Writer) WriteLayers(ctx context.Context, spec domain.EndpointSpec, records []domain.Record, params domain.Params, opts WriteOptions) (Result, error) {
	asof := w.clock.Now().UTC().Format("2006-01-02")
	short := params.ShortFingerprint()

	tmpKey := PartKey(w.layout.TmpPrefix, w.runID, fmt.Sprintf("%s-%s.tmp", spec.Name, short))
	if err := w.store.Put(ctx, tmpKey, nil, "application/octet-stream"); err != nil {
		return Result{}, fmt.Errorf("failed to write tmp marker: %w", err)
	}

	records = w.prepareRecords(spec, records, params, opts)
	if len(records) == 0 {
		return Result{Empty: true}, nil
	}

	rawData, err := storage.EncodeNDJSON(records)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode raw payload: %w", err)
	}
	rawKey := PartKey(w.layout.RawPrefix, RawPrefixFor(spec.Name), "ingested_at="+asof, PartFileName(params.Fingerprint(), ".json.gz"))
	if err := w.store.Put(ctx, rawKey, rawData, "application/gzip"); err != nil {
		return Result{}, err
	}

	if err := w.writeBronze(ctx, spec, records, params, opts, asof); err != nil {
		return Result{}, err
	}

	rows := len(records)
	if silverTable, ok := SilverTables[spec.Name]; ok {
		silverRecords, err := w.writeSilver(ctx, spec, silverTable, records, params, opts, asof)
		if err != nil {
			return Result{}, err
		}
		rows = len(silverRecords)
		records = silverRecords
	}

	if goldTable, ok := GoldTables[spec.Name]; ok && len(records) > 0 {
		if err := w.writeGold(ctx, goldTable, records, params, asof); err != nil {
			return Result{}, err
		}
	}

	logger.InfoCtx(ctx, "layers written",
		zap.String("endpoint", spec.Name),
		zap.Int("rows", rows))
	return Result{Rows: rows}, nil
}

// prepareRecords applies the endpoint-specific payload repairs that must
// happen before any layer sees the records
func (w *Writer) prepareRecords(spec domain.EndpointSpec, records []domain.Record, params domain.Params, opts WriteOptions) []domain.Record {
	if len(records) == 0 {
		return records
	}

	if spec.Name == "lineups_game" || spec.Name == "lineups_team" {
		// lineup rows often omit the fetch context they were requested with
		for _, rec := range records {
			if opts.Season != nil && rec["season"] == nil && rec["year"] == nil {
				rec["season"] = *opts.Season
			}
			if opts.Date != "" && rec["date"] == nil {
				rec["date"] = opts.Date
			}
			if spec.Name == "lineups_game" && rec["gameId"] == nil && rec["gameid"] == nil {
				if gameID, ok := params["gameId"]; ok {
					rec["gameId"] = gameID
				}
			}
		}
	}

	if spec.Name == "rankings" && opts.Season != nil {
		// the endpoint may return every season; keep only the requested one
		// so partitioning stays truthful
		want := int64(*opts.Season)
		trimmed := records[:0:0]
		for _, rec := range records {
			if got := normalize.ToInt64(rec["season"]); got != nil && *got == want {
				trimmed = append(trimmed, rec)
			}
		}
		records = trimmed
	}

	return records
}

func (w *Writer) writeBronze(ctx context.Context, spec domain.EndpointSpec, records []domain.Record, params domain.Params, opts WriteOptions, asof string) error {
	table, ok := BronzeTables[spec.Name]
	if !ok {
		return fmt.Errorf("no bronze table registered for endpoint %s", spec.Name)
	}
	partition := BronzePartition(spec.Type, opts.Season, opts.Date, asof)

	columns := normalize.BuildColumns(nil, records)
	data, err := EncodeParquet(columns, normalize.BuildRows(columns, records))
	if err != nil {
		return fmt.Errorf("failed to encode bronze parquet for %s: %w", table, err)
	}

	key := PartKey(w.layout.BronzePrefix, table, partition, PartFileName(params.Fingerprint(), ".parquet"))
	if err := w.store.Put(ctx, key, data, "application/octet-stream"); err != nil {
		return err
	}
	return w.syncCatalog(ctx, BronzeDatabase, w.layout.BronzePrefix, table, columns, partition)
}

func (w *Writer) writeSilver(ctx context.Context, spec domain.EndpointSpec, table string, records []domain.Record, params domain.Params, opts WriteOptions, asof string) ([]domain.Record, error) {
	if table == "fct_lines" {
		records = normalize.ExpandLinesRecords(records)
		if len(records) == 0 {
			return nil, nil
		}
	}
	records = normalize.ApplyKeyAliases(table, records)

	if tableSpec, ok := normalize.TableSpecs[table]; ok {
		normalize.CoerceKeyFields(tableSpec, records)
		records = w.seen.Filter(table, records, tableSpec.PrimaryKeys)
		records = normalize.DedupeRecords(records, tableSpec.PrimaryKeys)
	}
	if len(records) == 0 {
		// everything in this batch was already written during the run
		return nil, nil
	}

	partition := SilverPartition(table, opts.Season, opts.Date, asof)
	var specRef *normalize.TableSpec
	if tableSpec, ok := normalize.TableSpecs[table]; ok {
		specRef = &tableSpec
	}
	columns := normalize.BuildColumns(specRef, records)
	data, err := EncodeParquet(columns, normalize.BuildRows(columns, records))
	if err != nil {
		return nil, fmt.Errorf("failed to encode silver parquet for %s: %w", table, err)
	}

	key := PartKey(w.layout.SilverPrefix, table, partition, PartFileName(params.Fingerprint(), ".parquet"))
	if err := w.store.Put(ctx, key, data, "application/octet-stream"); err != nil {
		return nil, err
	}
	if err := w.syncCatalog(ctx, SilverDatabase, w.layout.SilverPrefix, table, columns, partition); err != nil {
		return nil, err
	}
	return records, nil
}

func (w *Writer) writeGold(ctx context.Context, table string, records []domain.Record, params domain.Params, asof string) error {
	stamped := make([]domain.Record, 0, len(records))
	for _, rec := range records {
		row := make(domain.Record, len(rec)+1)
		for k, v := range rec {
			row[k] = v
		}
		row["asof"] = asof
		stamped = append(stamped, row)
	}

	var specRef *normalize.TableSpec
	if tableSpec, ok := normalize.TableSpecs[table]; ok {
		specRef = &tableSpec
	}
	columns := normalize.BuildColumns(specRef, stamped)
	data, err := EncodeParquet(columns, normalize.BuildRows(columns, stamped))
	if err != nil {
		return fmt.Errorf("failed to encode gold parquet for %s: %w", table, err)
	}

	key := PartKey(w.layout.GoldPrefix, table, "asof="+asof, PartFileName(params.Fingerprint(), ".parquet"))
	return w.store.Put(ctx, key, data, "application/octet-stream")
}

// syncCatalog registers the table with partition columns removed from the
// column list, since partition keys are path-encoded rather than stored
func (w *Writer) syncCatalog(ctx context.Context, database, prefix, table string, columns []normalize.Column, partition string) error {
	if w.catalog == nil {
		return nil
	}
	partitionKeys := PartitionKeys(partition)
	inPartition := make(map[string]bool, len(partitionKeys))
	for _, k := range partitionKeys {
		inPartition[k] = true
	}
	kept := make([]normalize.Column, 0, len(columns))
	for _, col := range columns {
		if !inPartition[col.Name] {
			kept = append(kept, col)
		}
	}
	location := fmt.Sprintf("s3://%s/%s/%s/", w.bucket, prefix, table)
	if err := w.catalog.Sync(ctx, database, table, location, kept, partitionKeys); err != nil {
		return fmt.Errorf("failed to sync catalog for %s.%s: %w", database, table, err)
	}
	return nil
}
