package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

// PendingStore keeps pending notifications in memory
type PendingStore struct {
	mu    sync.RWMutex
	items map[string]domain.PendingNotification
}

// NewPendingStore creates an empty pending notification store
func NewPendingStore() *PendingStore {
	return &PendingStore{items: make(map[string]domain.PendingNotification)}
}

// Save inserts or replaces a notification by id
func (s *PendingStore) Save(_ context.Context, n *domain.PendingNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[n.ID]; ok {
		n.Attempts = existing.Attempts
		n.CreatedAt = existing.CreatedAt
	}
	s.items[n.ID] = *n
	return nil
}

// List returns the oldest notifications first
func (s *PendingStore) List(_ context.Context, limit int) ([]*domain.PendingNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.PendingNotification, 0, len(s.items))
	for _, n := range s.items {
		n := n
		out = append(out, &n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PendingStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return domain.ErrPendingNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *PendingStore) RecordAttempt(_ context.Context, id string, at time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return domain.ErrPendingNotFound
	}
	n.Attempts++
	n.LastAttemptAt = &at
	n.LastError = lastError
	s.items[id] = n
	return nil
}

func (s *PendingStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, item := range s.items {
		if item.CreatedAt.Before(cutoff) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (s *PendingStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

// DeadLetterStore keeps dead-letter records in memory, newest first on read
type DeadLetterStore struct {
	mu      sync.RWMutex
	letters []domain.DeadLetter
}

// NewDeadLetterStore creates an empty dead-letter store
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{}
}

func (s *DeadLetterStore) Save(_ context.Context, dl domain.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, dl)
	return nil
}

func (s *DeadLetterStore) List(_ context.Context, limit int) ([]domain.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DeadLetter, 0, len(s.letters))
	for i := len(s.letters) - 1; i >= 0; i-- {
		out = append(out, s.letters[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
