package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rurallearn-quiz/internal/domain"
)

// ProgressStore keeps attempt snapshots in Redis, one JSON value per quiz
// ID under progress:{quizID}, expiring after ttl so abandoned attempts age
// out.
type ProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProgressStore(client *redis.Client, ttl time.Duration) *ProgressStore {
	return &ProgressStore{client: client, ttl: ttl}
}

func (s *ProgressStore) Save(ctx context.Context, quizID string, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(quizID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *ProgressStore) Load(ctx context.Context, quizID string) (domain.Snapshot, bool, error) {
	data, err := s.client.Get(ctx, s.key(quizID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	// TimeRemaining pre-set to -1 so a snapshot missing the field restores
	// to the full time allowance instead of an instantly expired attempt.
	snap := domain.Snapshot{TimeRemaining: -1}
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *ProgressStore) Clear(ctx context.Context, quizID string) error {
	if err := s.client.Del(ctx, s.key(quizID)).Err(); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

func (s *ProgressStore) key(quizID string) string {
	return "progress:" + quizID
}
