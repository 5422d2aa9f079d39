package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by KV.Get for an absent key.
var ErrNotFound = errors.New("identity: key not found")

// KV is the single-record store an identity lives in. Writes replace the whole record.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
}

type redisKV struct{ client *redis.Client }

// NewRedisKV stores identity records as plain Redis strings without TTL.
func NewRedisKV(client *redis.Client) KV { return &redisKV{client: client} }

func (r *redisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *redisKV) Set(ctx context.Context, key string, val []byte) error {
	return r.client.Set(ctx, key, val, 0).Err()
}

func (r *redisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

type memoryKV struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemoryKV is a process-local KV used when storage.identity=memory.
func NewMemoryKV() KV { return &memoryKV{m: make(map[string][]byte)} }

func (m *memoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *memoryKV) Set(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	m.m[key] = append([]byte(nil), val...)
	m.mu.Unlock()
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.m, key)
	m.mu.Unlock()
	return nil
}
