package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultSessionTTL = 24 * time.Hour

// RedisStore implements Store backed by redis, so that session validity
// survives a gateway restart and is shared across instances. Stream state is
// not stored here; streams are always local to the instance that owns the
// SSE connection.
type RedisStore struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a redis-backed session store
func NewRedisStore(ctx context.Context, logger *zap.Logger, cfg config.SessionRedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mcp-gateway:session"
	}

	return &RedisStore{
		logger: logger.Named("session.store.redis"),
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

// Register implements Store.Register
func (s *RedisStore) Register(ctx context.Context, meta *Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal session meta: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(meta.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}
	return nil
}

// Get implements Store.Get
func (s *RedisStore) Get(ctx context.Context, id string) (*Meta, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session meta: %w", err)
	}
	return &meta, nil
}

// Update implements Store.Update
func (s *RedisStore) Update(ctx context.Context, meta *Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal session meta: %w", err)
	}

	ok, err := s.client.SetXX(ctx, s.key(meta.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// Unregister implements Store.Unregister
func (s *RedisStore) Unregister(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// List implements Store.List
func (s *RedisStore) List(ctx context.Context) ([]*Meta, error) {
	var metas []*Meta
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			s.logger.Warn("skipping unreadable session record",
				zap.String("key", iter.Val()),
				zap.Error(err))
			continue
		}
		metas = append(metas, &meta)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return metas, nil
}

// Close releases the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
