package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultOffsetTTL bounds how long an idle bot's offset is kept. Telegram
// itself only retains undelivered updates for 24 hours.
const DefaultOffsetTTL = 7 * 24 * time.Hour

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// OffsetStore keeps the telegram update offset in redis.
type OffsetStore struct {
	client kv
	key    string
}

// NewOffsetStore creates a store for one bot.
func NewOffsetStore(client *redis.Client, botID string) *OffsetStore {
	return &OffsetStore{
		client: client,
		key:    OffsetKey(botID),
	}
}

// Load returns 0 when no offset was saved yet.
func (s *OffsetStore) Load(ctx context.Context) (int, error) {
	offset, err := s.client.Get(ctx, s.key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load offset: %w", err)
	}
	return offset, nil
}

// Save stores offset, refreshing its TTL.
func (s *OffsetStore) Save(ctx context.Context, offset int) error {
	if err := s.client.Set(ctx, s.key, strconv.Itoa(offset), DefaultOffsetTTL).Err(); err != nil {
		return fmt.Errorf("failed to save offset: %w", err)
	}
	return nil
}
