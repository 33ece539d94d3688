package memory

import (
	"context"
	"sync"

	"rurallearn-quiz/internal/domain"
)

// ProgressStore is an in-memory implementation of app.ProgressStore, one
// snapshot per quiz ID.
type ProgressStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.Snapshot
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		snapshots: make(map[string]domain.Snapshot),
	}
}

func (s *ProgressStore) Save(_ context.Context, quizID string, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[quizID] = snap
	return nil
}

func (s *ProgressStore) Load(_ context.Context, quizID string) (domain.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[quizID]
	return snap, ok, nil
}

func (s *ProgressStore) Clear(_ context.Context, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, quizID)
	return nil
}
