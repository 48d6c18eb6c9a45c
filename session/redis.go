package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store over a Redis keyspace shared with the user service.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*Redis)(nil)

type RedisOption func(*Redis)

// WithKeyPrefix namespaces every key. The default is no prefix, matching the
// user service.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects to a single Redis node and checks it answers.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("session: redis %s: %w", addr, err)
	}
	return c, nil
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) UserID(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrSessionNotFound
	}
	uid, err := r.client.Get(ctx, r.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session: get: %w", err)
	}
	return uid, nil
}

func (r *Redis) Insert(ctx context.Context, sessionID, userID string) error {
	return r.client.Set(ctx, r.key(sessionID), userID, 0).Err()
}

func (r *Redis) Remove(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}

func (r *Redis) SetOnline(ctx context.Context, userID string) error {
	return r.client.Set(ctx, r.key(userID), "", 0).Err()
}

func (r *Redis) SetOffline(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}

func (r *Redis) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
