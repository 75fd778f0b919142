package catalog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
	"github.com/hoops-edge/cbbd-lakehouse/internal/normalize"
)

// Table is the catalog's view of one lakehouse table. Partition keys are
// path-encoded and therefore always typed string.
type Table struct {
	Database      string
	Name          string
	Location      string
	Columns       []normalize.Column
	PartitionKeys []string
}

// Backend defines the interface for catalog persistence
type Backend interface {
	// EnsureDatabase creates the database if it does not exist
	EnsureDatabase(ctx context.Context, name string) error
	// GetTable returns the registered table, or nil when absent
	GetTable(ctx context.Context, database, name string) (*Table, error)
	// CreateTable registers a new table
	CreateTable(ctx context.Context, table Table) error
	// UpdateTable replaces an existing table definition
	UpdateTable(ctx context.Context, table Table) error
}

// Reconciler converges the catalog onto the schema each write produced.
// Matching definitions are left untouched so repeated syncs are free.
type Reconciler struct {
	backend Backend
}

// NewReconciler creates a reconciler over the given backend
func NewReconciler(backend Backend) *Reconciler {
	return &Reconciler{backend: backend}
}

// Sync implements the lake writer's CatalogSyncer
func (r *Reconciler) Sync(ctx context.Context, database, table, location string, columns []normalize.Column, partitionKeys []string) error {
	if err := r.backend.EnsureDatabase(ctx, database); err != nil {
		return fmt.Errorf("failed to ensure database %s: %w", database, err)
	}

	desired := Table{
		Database:      database,
		Name:          table,
		Location:      location,
		Columns:       columns,
		PartitionKeys: partitionKeys,
	}

	existing, err := r.backend.GetTable(ctx, database, table)
	if err != nil {
		return fmt.Errorf("failed to look up table %s.%s: %w", database, table, err)
	}
	if existing == nil {
		logger.InfoCtx(ctx, "registering table",
			zap.String("database", database),
			zap.String("table", table))
		return r.backend.CreateTable(ctx, desired)
	}
	if tableMatches(*existing, desired) {
		return nil
	}
	logger.InfoCtx(ctx, "updating table definition",
		zap.String("database", database),
		zap.String("table", table))
	return r.backend.UpdateTable(ctx, desired)
}

// tableMatches compares definitions the way the catalog stores them:
// case-normalized ordered column lists, partition key lists, and locations
// modulo a trailing slash
func tableMatches(existing, desired Table) bool {
	if !columnsEqual(existing.Columns, desired.Columns) {
		return false
	}
	if len(existing.PartitionKeys) != len(desired.PartitionKeys) {
		return false
	}
	for i := range existing.PartitionKeys {
		if !strings.EqualFold(existing.PartitionKeys[i], desired.PartitionKeys[i]) {
			return false
		}
	}
	return strings.TrimRight(existing.Location, "/") == strings.TrimRight(desired.Location, "/")
}

func columnsEqual(a, b []normalize.Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i].Name, b[i].Name) {
			return false
		}
		if !strings.EqualFold(string(a[i].Type), string(b[i].Type)) {
			return false
		}
	}
	return true
}
