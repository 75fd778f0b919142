package catalog

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process Backend for tests and DSN-less runs
type MemoryBackend struct {
	mu        sync.Mutex
	databases map[string]bool
	tables    map[string]Table
}

// NewMemoryBackend creates an empty in-memory catalog backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		databases: make(map[string]bool),
		tables:    make(map[string]Table),
	}
}

func tableKey(database, name string) string {
	return database + "." + name
}

// EnsureDatabase implements Backend
func (b *MemoryBackend) EnsureDatabase(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.databases[name] = true
	return nil
}

// GetTable implements Backend
func (b *MemoryBackend) GetTable(_ context.Context, database, name string) (*Table, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	table, ok := b.tables[tableKey(database, name)]
	if !ok {
		return nil, nil
	}
	return &table, nil
}

// CreateTable implements Backend
func (b *MemoryBackend) CreateTable(_ context.Context, table Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables[tableKey(table.Database, table.Name)] = table
	return nil
}

// UpdateTable implements Backend
func (b *MemoryBackend) UpdateTable(_ context.Context, table Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables[tableKey(table.Database, table.Name)] = table
	return nil
}

// Databases returns the ensured database names
func (b *MemoryBackend) Databases() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.databases))
	for name := range b.databases {
		out = append(out, name)
	}
	return out
}
