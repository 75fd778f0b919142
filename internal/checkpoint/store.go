package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
)

// Store defines the interface for ingestion checkpoints. A checkpoint is
// keyed by endpoint and parameter fingerprint; writes are last-write-wins.
type Store interface {
	// Get returns the checkpoint payload, or nil when none exists
	Get(ctx context.Context, endpoint, parameterHash string) (*domain.CheckpointPayload, error)
	// Put persists the payload, replacing any previous value
	Put(ctx context.Context, endpoint, parameterHash string, payload domain.CheckpointPayload) error
}

// checkpointRow persists one checkpoint
type checkpointRow struct {
	Endpoint      string         `gorm:"primaryKey;type:text"`
	ParameterHash string         `gorm:"primaryKey;type:text"`
	Payload       datatypes.JSON `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime"`
	CreatedAt     time.Time      `gorm:"autoCreateTime"`
}

func (checkpointRow) TableName() string {
	return "checkpoints"
}

// PGStore implements Store on Postgres
type PGStore struct {
	db *gorm.DB
}

// NewPGStore creates a Postgres checkpoint store and migrates its table
func NewPGStore(db *gorm.DB) (*PGStore, error) {
	if err := db.AutoMigrate(&checkpointRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate checkpoint schema: %w", err)
	}
	return &PGStore{db: db}, nil
}

// Get implements Store
func (s *PGStore) Get(ctx context.Context, endpoint, parameterHash string) (*domain.CheckpointPayload, error) {
	var row checkpointRow
	err := s.db.WithContext(ctx).
		Where("endpoint = ? AND parameter_hash = ?", endpoint, parameterHash).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint %s/%s: %w", endpoint, parameterHash, err)
	}

	var payload domain.CheckpointPayload
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s/%s: %w", endpoint, parameterHash, err)
	}
	return &payload, nil
}

// Put implements Store
func (s *PGStore) Put(ctx context.Context, endpoint, parameterHash string, payload domain.CheckpointPayload) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint payload: %w", err)
	}
	row := checkpointRow{
		Endpoint:      endpoint,
		ParameterHash: parameterHash,
		Payload:       datatypes.JSON(encoded),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}, {Name: "parameter_hash"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to put checkpoint %s/%s: %w", endpoint, parameterHash, err)
	}
	return nil
}

// MemoryStore implements Store in process, for tests and DSN-less runs
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.CheckpointPayload
}

// NewMemoryStore creates an empty in-memory checkpoint store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]domain.CheckpointPayload)}
}

func memoryKey(endpoint, parameterHash string) string {
	return endpoint + "\x1f" + parameterHash
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, endpoint, parameterHash string) (*domain.CheckpointPayload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.entries[memoryKey(endpoint, parameterHash)]
	if !ok {
		return nil, nil
	}
	return &payload, nil
}

// Put implements Store
func (s *MemoryStore) Put(_ context.Context, endpoint, parameterHash string, payload domain.CheckpointPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[memoryKey(endpoint, parameterHash)] = payload
	return nil
}
