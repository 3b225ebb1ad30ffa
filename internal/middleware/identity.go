package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
)

// UserHeader：上游认证层写入的已认证用户 ID
const UserHeader = "X-User-ID"

type userKey struct{}

// InjectUser：读取 X-User-ID 写入上下文；缺失或来源不受信时为匿名请求
func InjectUser(next http.Handler, trusted *TrustedProxies) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		switch {
		case id == "":
		case !trusted.Allows(r):
			logger.L().Warn("user_header_untrusted", "ip", ClientIP(r))
		default:
			r = r.WithContext(WithUser(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func WithUser(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserID：匿名请求返回空串
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(userKey{}).(string); ok {
		return v
	}
	return ""
}

// ClientIP：优先常见反向代理头，其次 RemoteAddr；用于日志
func ClientIP(r *http.Request) string {
	h := r.Header
	if x := h.Get("x-forwarded-for"); x != "" {
		return strings.TrimSpace(strings.Split(x, ",")[0])
	}
	for _, k := range []string{"cf-connecting-ip", "x-real-ip", "x-client-ip"} {
		if x := h.Get(k); x != "" {
			return x
		}
	}
	if x := h.Get("forwarded"); x != "" {
		if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
			y := strings.Trim(x[i+4:], "\" ")
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			return strings.Trim(y, "\"")
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
