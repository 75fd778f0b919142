package normalize

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
)

// CoerceKeyFields rewrites primary-key fields to their typed representation
// so that equal keys compare equal regardless of how the API spelled them
func CoerceKeyFields(spec TableSpec, records []domain.Record) {
	for _, rec := range records {
		for _, pk := range spec.PrimaryKeys {
			if rec[pk] == nil {
				continue
			}
			logical, ok := spec.HintFor(pk)
			if !ok {
				continue
			}
			rec[pk] = CoerceValue(rec[pk], logical)
		}
	}
}

// recordKey builds the composite key string for a record; ok is false when
// any key field is missing
func recordKey(rec domain.Record, keys []string) (string, bool) {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := rec[k]
		if v == nil {
			return "", false
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, "\x1f"), true
}

// DedupeRecords removes duplicate rows within one batch, keeping the first
// occurrence. Rows missing any key field pass through untouched.
func DedupeRecords(records []domain.Record, keys []string) []domain.Record {
	if len(keys) == 0 || len(records) == 0 {
		return records
	}
	seen := make(map[string]struct{}, len(records))
	out := records[:0:0]
	for _, rec := range records {
		key, ok := recordKey(rec, keys)
		if !ok {
			out = append(out, rec)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// SeenKeys tracks primary keys already written during the current run, so
// the same entity fetched through overlapping calls lands only once per run
type SeenKeys struct {
	mu     sync.Mutex
	tables map[string]map[string]struct{}
}

// NewSeenKeys creates an empty per-run key tracker
func NewSeenKeys() *SeenKeys {
	return &SeenKeys{tables: make(map[string]map[string]struct{})}
}

// Filter drops records whose key was already seen for the table in this run
// and registers the survivors. Rows missing any key field pass through.
func (s *SeenKeys) Filter(table string, records []domain.Record, keys []string) []domain.Record {
	if len(keys) == 0 || len(records) == 0 {
		return records
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen, ok := s.tables[table]
	if !ok {
		seen = make(map[string]struct{})
		s.tables[table] = seen
	}
	out := records[:0:0]
	for _, rec := range records {
		key, keyed := recordKey(rec, keys)
		if !keyed {
			out = append(out, rec)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// BuildColumns resolves the column set for a batch: the union of record
// fields in encounter order, typed from the table spec where declared and
// inferred from the first non-null value otherwise
func BuildColumns(spec *TableSpec, records []domain.Record) []Column {
	var order []string
	index := make(map[string]int)
	samples := make(map[string]any)
	for _, rec := range records {
		// sorted per-record iteration keeps the union order deterministic
		for _, key := range sortedKeys(rec) {
			if _, ok := index[key]; !ok {
				index[key] = len(order)
				order = append(order, key)
			}
			if samples[key] == nil && rec[key] != nil {
				samples[key] = rec[key]
			}
		}
	}

	columns := make([]Column, 0, len(order))
	for _, name := range order {
		var logical LogicalType
		var ok bool
		if spec != nil {
			logical, ok = spec.HintFor(name)
		} else {
			logical, ok = CommonTypeHints[name]
		}
		if !ok {
			if sample := samples[name]; sample != nil {
				logical = InferType(sample)
			} else {
				logical = TypeString
			}
		}
		columns = append(columns, Column{Name: name, Type: logical})
	}
	return columns
}

// BuildRows projects records onto the resolved columns, coercing each cell
// to the logical type's writer representation; missing cells become nulls
func BuildRows(columns []Column, records []domain.Record) []map[string]any {
	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		row := make(map[string]any, len(columns))
		for _, col := range columns {
			if v, ok := rec[col.Name]; ok && v != nil {
				row[col.Name] = CoerceValue(v, col.Type)
			} else {
				row[col.Name] = nil
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func sortedKeys(rec domain.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	// insertion sort keeps this allocation-light for typical record widths
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
