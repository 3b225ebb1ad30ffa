package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
)

// 文档注释：受信上游（IP/CIDR 白名单）
// 背景：X-User-ID 由前置认证层写入；只有来自受信网段的请求才采信该头，其余请求按匿名处理。
// 约束：未配置任何条目时采信所有来源（部署在认证网关之后）；配置了条目但全部无法解析时不采信任何来源；来源 IP 以 RemoteAddr 为准，不读取转发头；
// 支持 IPv4/IPv6 CIDR，"local" 表示 127.0.0.1 与 ::1。
type TrustedProxies struct {
	mu         sync.RWMutex
	configured bool
	ips        map[string]struct{}
	cidrs      []*net.IPNet
}

func ParseTrustedProxies(entries []string) *TrustedProxies {
	t := &TrustedProxies{ips: map[string]struct{}{}}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		switch {
		case e == "":
			continue
		case strings.EqualFold(e, "local"):
			t.ips["127.0.0.1"] = struct{}{}
			t.ips["::1"] = struct{}{}
		case strings.Contains(e, "/"):
			if _, n, err := net.ParseCIDR(e); err == nil {
				t.cidrs = append(t.cidrs, n)
			} else {
				logger.L().Error("trusted_proxy_invalid", "entry", e, "err", err)
			}
		default:
			if ip := net.ParseIP(e); ip != nil {
				t.ips[ip.String()] = struct{}{}
			} else {
				logger.L().Error("trusted_proxy_invalid", "entry", e)
			}
		}
		t.configured = true
	}
	if t.configured && len(t.ips) == 0 && len(t.cidrs) == 0 {
		logger.L().Warn("trusted_proxy_none_valid", "effect", "X-User-ID ignored from every peer")
	}
	return t
}

func (t *TrustedProxies) open() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.configured
}

// Allows：判断请求是否来自受信上游
func (t *TrustedProxies) Allows(r *http.Request) bool {
	if t == nil || t.open() {
		return true
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.ips[ip.String()]; ok {
		return true
	}
	for _, n := range t.cidrs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
