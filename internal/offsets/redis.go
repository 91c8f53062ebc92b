// Package offsets persists per-partition stream offsets so a restarted
// consumer resumes where the previous run stopped.
package offsets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/lvonguyen/falconstream/internal/config"
)

// RedisStore keeps one key per partition. Offsets only matter across
// restarts, so Redis durability settings are left to the operator.
type RedisStore struct {
	client *redis.Client
	appID  string
}

// NewRedisStore connects to Redis using the offsets configuration. The
// password is resolved from the environment via the configured key.
func NewRedisStore(cfg config.OffsetsConfig, appID string) *RedisStore {
	var password string
	if cfg.PasswordEnv != "" {
		password = os.Getenv(cfg.PasswordEnv)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client, appID: appID}
}

// Ping verifies the connection at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach offset store: %w", err)
	}
	return nil
}

// Load returns the checkpointed offset for a partition. The second return
// is false when no checkpoint exists.
func (s *RedisStore) Load(ctx context.Context, partition string) (int64, bool, error) {
	val, err := s.client.Get(ctx, s.key(partition)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load offset for partition %s: %w", partition, err)
	}

	offset, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt offset checkpoint for partition %s: %w", partition, err)
	}
	return offset, true, nil
}

// Save checkpoints the offset for a partition.
func (s *RedisStore) Save(ctx context.Context, partition string, offset int64) error {
	if err := s.client.Set(ctx, s.key(partition), strconv.FormatInt(offset, 10), 0).Err(); err != nil {
		return fmt.Errorf("failed to save offset for partition %s: %w", partition, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(partition string) string {
	return fmt.Sprintf("falconstream:offset:%s:%s", s.appID, partition)
}
