package app

import (
	"path/filepath"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/MrSnakeDoc/mcbot/internal/chat"
	"github.com/MrSnakeDoc/mcbot/internal/config"
	"github.com/MrSnakeDoc/mcbot/internal/logger"
	redisstore "github.com/MrSnakeDoc/mcbot/internal/store/redis"
)

func TestOffsetStoreSelection(t *testing.T) {
	cfg := &config.Config{Telegram: config.TelegramConfig{Token: "123:abc"}}

	assert.IsType(t, &chat.MemoryOffsetStore{}, offsetStore(cfg, nil, logger.Nop()))

	cfg.Telegram.OffsetFile = filepath.Join(t.TempDir(), "offset")
	assert.IsType(t, &chat.FileOffsetStore{}, offsetStore(cfg, nil, logger.Nop()))

	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	assert.IsType(t, &redisstore.OffsetStore{}, offsetStore(cfg, client, logger.Nop()))
}

func TestRedisOptions(t *testing.T) {
	opts := redisOptions(config.RedisConfig{
		Addr:           "redis:6379",
		DB:             2,
		ConnectTimeout: 30 * time.Second,
		WarnThreshold:  3,
	})
	assert.Equal(t, "redis:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 30*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 3, opts.WarnThreshold)
}
