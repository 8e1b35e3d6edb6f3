package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type SummaryStorage struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewSummaryStorage(redis *redis.Client, ttl time.Duration) *SummaryStorage {
	return &SummaryStorage{redis: redis, ttl: ttl}
}

// Get returns nil without error on a miss.
func (s *SummaryStorage) Get(ctx context.Context, serverID uint) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.name(serverID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (s *SummaryStorage) Set(ctx context.Context, serverID uint, data []byte) error {
	return s.redis.Set(ctx, s.name(serverID), data, s.ttl).Err()
}

func (s *SummaryStorage) Del(ctx context.Context, serverID uint) error {
	return s.redis.Del(ctx, s.name(serverID)).Err()
}

func (s *SummaryStorage) name(serverID uint) string {
	return fmt.Sprintf("prize:summary:%d", serverID)
}
