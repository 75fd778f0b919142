package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hoops-edge/cbbd-lakehouse/internal/normalize"
)

// databaseRow persists a catalog database
type databaseRow struct {
	Name      string    `gorm:"primaryKey;type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (databaseRow) TableName() string {
	return "catalog_databases"
}

// tableRow persists a catalog table definition
type tableRow struct {
	Database      string         `gorm:"primaryKey;type:text"`
	Name          string         `gorm:"primaryKey;type:text"`
	Location      string         `gorm:"type:text;not null"`
	Columns       datatypes.JSON `gorm:"not null"`
	PartitionKeys datatypes.JSON `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime"`
	CreatedAt     time.Time      `gorm:"autoCreateTime"`
}

func (tableRow) TableName() string {
	return "catalog_tables"
}

// PGBackend implements Backend on Postgres
type PGBackend struct {
	db *gorm.DB
}

// NewPGBackend creates a Postgres catalog backend and migrates its tables
func NewPGBackend(db *gorm.DB) (*PGBackend, error) {
	if err := db.AutoMigrate(&databaseRow{}, &tableRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog schema: %w", err)
	}
	return &PGBackend{db: db}, nil
}

// EnsureDatabase implements Backend
func (b *PGBackend) EnsureDatabase(ctx context.Context, name string) error {
	row := databaseRow{Name: name}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// GetTable implements Backend
func (b *PGBackend) GetTable(ctx context.Context, database, name string) (*Table, error) {
	var row tableRow
	err := b.db.WithContext(ctx).
		Where("database = ? AND name = ?", database, name).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rowToTable(row)
}

// CreateTable implements Backend
func (b *PGBackend) CreateTable(ctx context.Context, table Table) error {
	row, err := tableToRow(table)
	if err != nil {
		return err
	}
	return b.db.WithContext(ctx).Create(&row).Error
}

// UpdateTable implements Backend
func (b *PGBackend) UpdateTable(ctx context.Context, table Table) error {
	row, err := tableToRow(table)
	if err != nil {
		return err
	}
	return b.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "database"}, {Name: "name"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

func tableToRow(table Table) (tableRow, error) {
	columns, err := json.Marshal(table.Columns)
	if err != nil {
		return tableRow{}, fmt.Errorf("failed to encode columns: %w", err)
	}
	keys, err := json.Marshal(table.PartitionKeys)
	if err != nil {
		return tableRow{}, fmt.Errorf("failed to encode partition keys: %w", err)
	}
	return tableRow{
		Database:      table.Database,
		Name:          table.Name,
		Location:      table.Location,
		Columns:       datatypes.JSON(columns),
		PartitionKeys: datatypes.JSON(keys),
	}, nil
}

func rowToTable(row tableRow) (*Table, error) {
	var columns []normalize.Column
	if err := json.Unmarshal(row.Columns, &columns); err != nil {
		return nil, fmt.Errorf("failed to decode columns for %s.%s: %w", row.Database, row.Name, err)
	}
	var keys []string
	if err := json.Unmarshal(row.PartitionKeys, &keys); err != nil {
		return nil, fmt.Errorf("failed to decode partition keys for %s.%s: %w", row.Database, row.Name, err)
	}
	return &Table{
		Database:      row.Database,
		Name:          row.Name,
		Location:      row.Location,
		Columns:       columns,
		PartitionKeys: keys,
	}, nil
}
