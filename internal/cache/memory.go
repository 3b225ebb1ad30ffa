// 包 cache：查询结果缓存。进程内有界 TTL 存储为默认实现，Redis/Memcached 作为可选共享层。
package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jkowitt/loud-legacy-sub001/internal/metrics"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 200
)

// Store：缓存契约；Get 仅在条目存在且未过期时命中
type Store[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	Put(ctx context.Context, key string, v T)
}

// Key：将查询标识规整为缓存键（去空白、小写、以 | 连接）
func Key(parts ...string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(out, "|")
}

// Entry：缓存条目；StoredAt 为写入时间
type Entry[T any] struct {
	Key      string
	Value    T
	StoredAt time.Time
}

type Options struct {
	Name       string
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

// 文档注释：进程内有界 TTL 缓存
// 背景：避免在短时间内重复调用付费供应商；容量达到上限时先清理过期条目，仍满则淘汰最旧的四分之一。
// 约束：过期条目在下一次淘汰前仍占用槽位；检查容量、清理、淘汰与写入在同一把锁内完成。
type Memory[T any] struct {
	mu      sync.Mutex
	name    string
	ttl     time.Duration
	max     int
	now     func() time.Time
	entries map[string]Entry[T]
}

func NewMemory[T any](opts Options) *Memory[T] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Name == "" {
		opts.Name = "memory"
	}
	return &Memory[T]{
		name:    opts.Name,
		ttl:     opts.TTL,
		max:     opts.MaxEntries,
		now:     opts.Now,
		entries: make(map[string]Entry[T]),
	}
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.now().Sub(e.StoredAt) >= m.ttl {
		metrics.CacheMissesTotal.WithLabelValues(m.name).Inc()
		var zero T
		return zero, false
	}
	metrics.CacheHitsTotal.WithLabelValues(m.name).Inc()
	return e.Value, true
}

func (m *Memory[T]) Put(_ context.Context, key string, v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if len(m.entries) >= m.max {
		m.evict(now)
	}
	m.entries[key] = Entry[T]{Key: key, Value: v, StoredAt: now}
}

// evict：先清理过期条目，仍未腾出空间时按写入时间淘汰最旧的 ceil(max/4) 个
func (m *Memory[T]) evict(now time.Time) {
	for k, e := range m.entries {
		if now.Sub(e.StoredAt) >= m.ttl {
			delete(m.entries, k)
			metrics.CacheEvictionsTotal.WithLabelValues(m.name, "expired").Inc()
		}
	}
	if len(m.entries) < m.max {
		return
	}
	all := make([]Entry[T], 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StoredAt.Before(all[j].StoredAt) })
	n := (m.max + 3) / 4
	if n > len(all) {
		n = len(all)
	}
	for _, e := range all[:n] {
		delete(m.entries, e.Key)
	}
	metrics.CacheEvictionsTotal.WithLabelValues(m.name, "oldest").Add(float64(n))
}

// Len：当前占用槽位数（包含尚未清理的过期条目）
func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
