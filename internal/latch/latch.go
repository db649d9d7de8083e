// Package latch prevents two live connections for the same interview block.
package latch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by callers that treat a failed Acquire as an error.
var ErrHeld = errors.New("latch: already held")

// Latch is a set of keyed, expiring locks.
type Latch interface {
	// Acquire sets key unless it is already set. It reports whether the caller now holds it.
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Key identifies one block's connection. A nil block means the whole interview.
func Key(interviewID string, block *int32) string {
	if block == nil {
		return interviewID
	}
	return fmt.Sprintf("%s#%d", interviewID, *block)
}

// Memory is a process-local latch.
type Memory struct {
	c   *cache.Cache
	ttl time.Duration
}

// NewMemory creates a latch whose entries expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{c: cache.New(ttl, ttl/2+time.Second), ttl: ttl}
}

func (m *Memory) Acquire(_ context.Context, key string) (bool, error) {
	// Add fails when the key exists and has not expired
	if err := m.c.Add(key, struct{}{}, m.ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Held reports whether key is currently set.
func (m *Memory) Held(key string) bool {
	_, ok := m.c.Get(key)
	return ok
}

// Redis shares the latch across worker replicas.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects using a redis:// URL.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opt), ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: "interview:latch:", ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("latch acquire: %w", err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("latch release: %w", err)
	}
	return nil
}

// Ping checks the connection, for readiness probes.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
