package store

import (
	"context"
	"errors"
)

// ErrCircuitOpen is returned while the store breaker rejects calls.
var ErrCircuitOpen = errors.New("entity store unavailable: circuit open")

// EntityStore is the key-value persistence contract the reconciliation engine
// writes through. Records are plain field maps keyed by a natural identifier.
type EntityStore interface {
	// Get returns the stored record, or found=false when the key is absent.
	Get(ctx context.Context, collection, key string) (map[string]any, bool, error)
	// Put writes the full record, replacing anything stored under key.
	Put(ctx context.Context, collection, key string, record map[string]any) error
	// Update writes only the given fields, leaving the rest untouched.
	Update(ctx context.Context, collection, key string, fields map[string]any) error
}
