package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// RedisConfig holds the connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

// pending is a buffered write; del marks a deletion.
type pending struct {
	val string
	del bool
}

// Redis is a Store backed by plain string keys in Redis. Writes are buffered
// locally and flushed in one MULTI/EXEC on Save, so readers in this process
// see their own writes before the flush.
type Redis struct {
	client *redis.Client
	prefix string
	logger logger.Logger

	mu      sync.Mutex
	pending map[string]pending
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, cfg RedisConfig, log logger.Logger) (*Redis, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: connecting to redis at %s: %w", ErrOpen, cfg.Addr, err)
	}
	return NewRedis(client, cfg.Prefix, log), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string, log logger.Logger) *Redis {
	if log == nil {
		log = logger.Nop()
	}
	return &Redis{
		client:  client,
		prefix:  prefix,
		logger:  log,
		pending: make(map[string]pending),
	}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) GetString(ctx context.Context, key, def string) string {
	r.mu.Lock()
	p, ok := r.pending[key]
	r.mu.Unlock()
	if ok {
		if p.del {
			return def
		}
		return p.val
	}

	v, err := r.client.Get(ctx, r.key(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return def
	case err != nil:
		metrics.RecordErrorByComponent("kvstore", "redis_get")
		r.logger.Warn(ctx, "redis get failed; using default", logger.String("key", key), logger.Error(err))
		return def
	}
	return v
}

func (r *Redis) SetString(_ context.Context, key, val string) {
	r.mu.Lock()
	r.pending[key] = pending{val: val}
	r.mu.Unlock()
}

func (r *Redis) GetInt(ctx context.Context, key string, def int) int {
	return parseInt(r.GetString(ctx, key, ""), def)
}

func (r *Redis) SetInt(ctx context.Context, key string, val int) {
	r.SetString(ctx, key, strconv.Itoa(val))
}

func (r *Redis) Delete(_ context.Context, key string) {
	r.mu.Lock()
	r.pending[key] = pending{del: true}
	r.mu.Unlock()
}

// Save flushes buffered writes atomically. On failure the writes stay
// buffered and the next Save retries them.
func (r *Redis) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush(ctx)
}

// Commit buffers b and flushes in the same critical section. On failure b's
// keys return to their previous buffered state unless b asks to keep them.
func (r *Redis) Commit(ctx context.Context, b Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := make(map[string]*pending, len(b.Set)+len(b.Delete))
	record := func(k string) {
		if _, seen := prev[k]; seen {
			return
		}
		if p, ok := r.pending[k]; ok {
			prev[k] = &p
			return
		}
		prev[k] = nil
	}
	for k, v := range b.Set {
		record(k)
		r.pending[k] = pending{val: v}
	}
	for _, k := range b.Delete {
		record(k)
		r.pending[k] = pending{del: true}
	}

	err := r.flush(ctx)
	if err != nil && !b.KeepOnError {
		for k, p := range prev {
			if p == nil {
				delete(r.pending, k)
				continue
			}
			r.pending[k] = *p
		}
	}
	return err
}

func (r *Redis) flush(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, p := range r.pending {
			if p.del {
				pipe.Del(ctx, r.key(k))
				continue
			}
			pipe.Set(ctx, r.key(k), p.val, 0)
		}
		return nil
	})
	if err != nil {
		metrics.RecordStoreSave("redis", "error")
		return fmt.Errorf("%w: redis: %w", ErrSave, err)
	}
	metrics.RecordStoreSave("redis", "ok")
	r.pending = make(map[string]pending)
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
