package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInjectUser(t *testing.T) {
	var got string
	h := InjectUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { got = UserID(r.Context()) }), nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeader, " user-1 ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "user-1" {
		t.Fatalf("user = %q", got)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got != "" {
		t.Fatalf("anonymous user = %q", got)
	}
}

func TestTokenBucketRefillsEachSecond(t *testing.T) {
	now := time.Unix(1000, 0)
	tb := NewTokenBucket(2)
	tb.now = func() time.Time { return now }
	tb.lastSec = now.Unix()
	if !tb.allow() || !tb.allow() || tb.allow() {
		t.Fatal("expected two tokens in the first second")
	}
	now = now.Add(time.Second)
	if !tb.allow() {
		t.Fatal("bucket should refill on the next second")
	}
}

func TestWrapRateLimits(t *testing.T) {
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), Options{RateLimitEnabled: true, RateLimitQPS: 1})
	codes := []int{}
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	limited := 0
	for _, c := range codes {
		if c == http.StatusTooManyRequests {
			limited++
		}
	}
	// 三次请求可能跨越秒边界，至少一次被限流
	if limited == 0 {
		t.Fatalf("codes = %v", codes)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if ip := ClientIP(r); ip != "203.0.113.7" {
		t.Fatalf("ip = %q", ip)
	}
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Forwarded", `for="198.51.100.2";proto=https`)
	if ip := ClientIP(r); ip != "198.51.100.2" {
		t.Fatalf("ip = %q", ip)
	}
}

func TestUntrustedUserHeaderIgnored(t *testing.T) {
	var got string
	trusted := ParseTrustedProxies([]string{"10.0.0.0/8", "local", "bogus"})
	h := InjectUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { got = UserID(r.Context()) }), trusted)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	req.Header.Set(UserHeader, "spoofed")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "" {
		t.Fatalf("untrusted source produced user %q", got)
	}

	for _, addr := range []string{"10.1.2.3:443", "127.0.0.1:9000", "[::1]:9000"} {
		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		req.Header.Set(UserHeader, "u1")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got != "u1" {
			t.Fatalf("%s: user = %q", addr, got)
		}
	}
	invalid := ParseTrustedProxies([]string{"10.0.0.0/33", "not-an-ip"})
	h = InjectUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { got = UserID(r.Context()) }), invalid)
	for _, addr := range []string{"203.0.113.9:5000", "127.0.0.1:9000"} {
		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		req.Header.Set(UserHeader, "victim")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got != "" {
			t.Fatalf("%s: all-invalid list accepted user %q", addr, got)
		}
	}

	open := ParseTrustedProxies([]string{" ", ""})
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	if !open.Allows(req) {
		t.Fatal("an empty list trusts every peer")
	}
}
