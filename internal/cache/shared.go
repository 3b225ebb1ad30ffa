package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/jkowitt/loud-legacy-sub001/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// 文档注释：Redis 共享缓存
// 背景：多实例部署时共享查询结果；值以 JSON 存储，过期交由 Redis 的 TTL 处理。
// 约束：任何 Redis 错误都按未命中处理，只记录日志与指标，不影响主流程。
type Redis[T any] struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis[T any](rc *redis.Client, prefix string, ttl time.Duration) *Redis[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis[T]{rc: rc, prefix: prefix, ttl: ttl}
}

func (r *Redis[T]) Get(ctx context.Context, key string) (T, bool) {
	var out T
	s, err := r.rc.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.SharedCacheErrorsTotal.WithLabelValues("redis", "get").Inc()
			logger.L().Debug("redis_cache_get_error", "key", key, "err", err)
		}
		return out, false
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		logger.L().Debug("redis_cache_decode_error", "key", key, "err", err)
		return out, false
	}
	return out, true
}

func (r *Redis[T]) Put(ctx context.Context, key string, v T) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.rc.Set(ctx, r.prefix+key, string(b), r.ttl).Err(); err != nil {
		metrics.SharedCacheErrorsTotal.WithLabelValues("redis", "set").Inc()
		logger.L().Debug("redis_cache_set_error", "key", key, "err", err)
	}
}

// 文档注释：Memcached 共享缓存
// 约束：memcached 键不允许空白与控制字符且长度不超过 250，调用方的规整键在写入前做替换与截断。
type Memcached[T any] struct {
	mc     *memcache.Client
	prefix string
	ttl    time.Duration
}

func NewMemcached[T any](mc *memcache.Client, prefix string, ttl time.Duration) *Memcached[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memcached[T]{mc: mc, prefix: prefix, ttl: ttl}
}

func (m *Memcached[T]) key(k string) string {
	b := []byte(m.prefix + k)
	for i, c := range b {
		if c <= ' ' || c == 0x7f {
			b[i] = '_'
		}
	}
	if len(b) > 250 {
		b = b[:250]
	}
	return string(b)
}

func (m *Memcached[T]) Get(_ context.Context, key string) (T, bool) {
	var out T
	it, err := m.mc.Get(m.key(key))
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			metrics.SharedCacheErrorsTotal.WithLabelValues("memcached", "get").Inc()
			logger.L().Debug("memcached_get_error", "key", key, "err", err)
		}
		return out, false
	}
	if err := json.Unmarshal(it.Value, &out); err != nil {
		return out, false
	}
	return out, true
}

func (m *Memcached[T]) Put(_ context.Context, key string, v T) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	item := &memcache.Item{Key: m.key(key), Value: b, Expiration: int32(m.ttl.Seconds())}
	if err := m.mc.Set(item); err != nil {
		metrics.SharedCacheErrorsTotal.WithLabelValues("memcached", "set").Inc()
		logger.L().Debug("memcached_set_error", "key", key, "err", err)
	}
}

// Layered：先查进程内缓存，未命中再查共享层并回填；写入时两层都写
type Layered[T any] struct {
	Local  Store[T]
	Shared Store[T]
}

func (l *Layered[T]) Get(ctx context.Context, key string) (T, bool) {
	if v, ok := l.Local.Get(ctx, key); ok {
		return v, true
	}
	if l.Shared == nil {
		var zero T
		return zero, false
	}
	v, ok := l.Shared.Get(ctx, key)
	if ok {
		l.Local.Put(ctx, key, v)
	}
	return v, ok
}

func (l *Layered[T]) Put(ctx context.Context, key string, v T) {
	l.Local.Put(ctx, key, v)
	if l.Shared != nil {
		l.Shared.Put(ctx, key, v)
	}
}
