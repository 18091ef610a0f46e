package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quorumbi/quorum/config"
)

// ErrMiss is returned by Backend.Get when the key is absent or expired.
var ErrMiss = fmt.Errorf("cache miss")

// Backend is the minimal store contract behind the tiered cache.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context, prefix string) error
}

// RedisBackend stores entries in Redis under the cache namespace.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection with a ping.
func NewRedisBackend(ctx context.Context, cfg config.RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *RedisBackend) Clear(ctx context.Context, prefix string) error {
	iter := b.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := b.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// FileBackend stores entries as JSON files on local disk. It is the fallback
// when Redis is unreachable at startup.
type FileBackend struct {
	dir string
}

type fileEntry struct {
	Value     []byte `json:"value"`      // base64 via encoding/json
	ExpiresAt int64  `json:"expires_at"` // unix nanoseconds
	Key       string `json:"key"`
}

// NewFileBackend creates the cache directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) path(key string) string {
	// Keys are already namespace:tier:hash; flatten separators for filenames.
	name := ""
	for _, r := range key {
		if r == ':' || r == '/' {
			name += "_"
		} else {
			name += string(r)
		}
	}
	return filepath.Join(b.dir, name+".json")
}

func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if os.IsNotExist(err) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	if time.Now().UnixNano() >= entry.ExpiresAt {
		_ = os.Remove(b.path(key)) // expired
		return nil, ErrMiss
	}
	return entry.Value, nil
}

func (b *FileBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := fileEntry{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl).UnixNano(),
		Key:       key,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return os.WriteFile(b.path(key), data, 0o644)
}

func (b *FileBackend) Delete(ctx context.Context, key string) error {
	err := os.Remove(b.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *FileBackend) Clear(ctx context.Context, prefix string) error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return err
	}
	flat := ""
	for _, r := range prefix {
		if r == ':' {
			flat += "_"
		} else {
			flat += string(r)
		}
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(e.Name()) >= len(flat) && e.Name()[:len(flat)] == flat {
			if err := os.Remove(filepath.Join(b.dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
