package store

import (
	"context"
	"sync"

	"github.com/dm-alt/USM-scripts/pkg/models"
)

// MemoryStore is an in-memory implementation of the store
type MemoryStore struct {
	mu   sync.RWMutex
	last *models.ObservedRequest
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveLastMatch stores req if it is at least as fresh as the current slot
func (s *MemoryStore) SaveLastMatch(ctx context.Context, req *models.ObservedRequest) error {
	if req == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.NewerThan(s.last) {
		cp := *req
		s.last = &cp
	}
	return nil
}

// LastMatch returns a copy of the stored match
func (s *MemoryStore) LastMatch(ctx context.Context) (*models.ObservedRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return nil, nil
	}
	cp := *s.last
	return &cp, nil
}

// ClearLastMatch empties the slot
func (s *MemoryStore) ClearLastMatch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = nil
	return nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}
