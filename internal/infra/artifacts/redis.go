package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tradexec/internal/domain/execution"
	"tradexec/internal/ports"
)

const defaultRedisPrefix = "tradexec:artifact:"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key.
	Prefix string
	// TTL expires artifacts after Put. Zero keeps them forever.
	TTL time.Duration
}

// RedisStore keeps each artifact in a Redis hash.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ports.ArtifactStore = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Put stores artifact and applies the configured TTL.
func (s *RedisStore) Put(ctx context.Context, artifact execution.Artifact) error {
	if artifact.ID == "" {
		return fmt.Errorf("artifact id is required")
	}

	key := s.key(artifact.ID)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, "content_type", artifact.ContentType, "data", artifact.Data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store artifact %q: %w", artifact.ID, err)
	}
	return nil
}

// Get loads the artifact stored under id.
func (s *RedisStore) Get(ctx context.Context, id string) (execution.Artifact, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return execution.Artifact{}, fmt.Errorf("%w: %s", ports.ErrArtifactNotFound, id)
	}
	if err != nil {
		return execution.Artifact{}, fmt.Errorf("load artifact %q: %w", id, err)
	}
	return execution.Artifact{
		ID:          id,
		ContentType: fields["content_type"],
		Data:        []byte(fields["data"]),
	}, nil
}

// Delete removes id.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete artifact %q: %w", id, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
