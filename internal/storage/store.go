package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested object does not exist
var ErrNotFound = errors.New("object not found")

// ObjectStore defines the interface for the lakehouse bucket. Keys are
// bucket-relative; the bucket itself is fixed at construction.
type ObjectStore interface {
	// Put writes an object, overwriting any existing object at the key
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get reads an object in full, returning ErrNotFound when absent
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns all object keys under the given prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)
}
