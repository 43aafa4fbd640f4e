package store

import (
	"context"

	"github.com/dm-alt/USM-scripts/pkg/models"
)

// Store persists the most recently observed metrics request so a later
// invocation can correlate without fresh traffic. It holds one slot only.
// Both SQLite and in-memory stores implement this interface.
type Store interface {
	// SaveLastMatch replaces the slot unless the stored match is fresher.
	SaveLastMatch(ctx context.Context, req *models.ObservedRequest) error
	// LastMatch returns the stored match, or nil when the slot is empty.
	LastMatch(ctx context.Context) (*models.ObservedRequest, error)
	// ClearLastMatch empties the slot.
	ClearLastMatch(ctx context.Context) error
	Close() error
}

// Open returns a SQLite store at path, or a memory store when path is empty.
func Open(path string) (Store, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(path)
}
