package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
)

// 文档注释：令牌桶限流中间件（每秒）
// 背景：在流量峰值时对入口进行限速，避免付费供应商与用量库被突发请求打满。
// 约束：不做队列排队，仅丢弃并返回 429。
type TokenBucket struct {
	capacity int
	tokens   int
	lastSec  int64
	now      func() time.Time
	mu       sync.Mutex
}

func NewTokenBucket(qps int) *TokenBucket {
	if qps <= 0 {
		qps = 200
	}
	return &TokenBucket{capacity: qps, tokens: qps, lastSec: time.Now().Unix(), now: time.Now}
}

func (tb *TokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	nowSec := tb.now().Unix()
	if tb.lastSec != nowSec {
		tb.lastSec = nowSec
		tb.tokens = tb.capacity
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

type Options struct {
	RateLimitEnabled bool
	RateLimitQPS     int
	TrustedProxies   []string
}

// Wrap：注入调用方身份，按配置叠加限流
func Wrap(next http.Handler, opts Options) http.Handler {
	h := InjectUser(next, ParseTrustedProxies(opts.TrustedProxies))
	if !opts.RateLimitEnabled {
		return h
	}
	tb := NewTokenBucket(opts.RateLimitQPS)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tb.allow() {
			logger.L().Warn("rate_limited", "ip", ClientIP(r), "path", r.URL.Path)
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		h.ServeHTTP(w, r)
	})
}
