package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"cdmkit/internal/domain"
)

const defaultRedisPrefix = "cdmkit:session:"

// RedisStateStore keeps paused session blobs in Redis with a TTL.
type RedisStateStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures NewRedisStateStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL of zero keeps blobs until deleted.
	TTL time.Duration
}

// NewRedisStateStore connects lazily to opts.Addr.
func NewRedisStateStore(opts RedisOptions) (*RedisStateStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisStateStore{client: client, prefix: prefix, ttl: opts.TTL}, nil
}

// Ping checks connectivity.
func (r *RedisStateStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *RedisStateStore) Close() error { return r.client.Close() }

// SaveState implements domain.StateStore.
func (r *RedisStateStore) SaveState(ctx context.Context, id string, state []byte) error {
	return errors.Wrap(r.client.Set(ctx, r.prefix+id, state, r.ttl).Err(), "redis set")
}

// LoadState implements domain.StateStore.
func (r *RedisStateStore) LoadState(ctx context.Context, id string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return b, true, nil
}

// DeleteState implements domain.StateStore.
func (r *RedisStateStore) DeleteState(ctx context.Context, id string) error {
	return errors.Wrap(r.client.Del(ctx, r.prefix+id).Err(), "redis del")
}

var _ domain.StateStore = (*RedisStateStore)(nil)
