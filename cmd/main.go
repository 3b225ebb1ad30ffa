// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/jkowitt/loud-legacy-sub001/internal/api"
	"github.com/jkowitt/loud-legacy-sub001/internal/cache"
	"github.com/jkowitt/loud-legacy-sub001/internal/comps"
	"github.com/jkowitt/loud-legacy-sub001/internal/config"
	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/jkowitt/loud-legacy-sub001/internal/metrics"
	"github.com/jkowitt/loud-legacy-sub001/internal/middleware"
	"github.com/jkowitt/loud-legacy-sub001/internal/openai"
	"github.com/jkowitt/loud-legacy-sub001/internal/records"
	"github.com/jkowitt/loud-legacy-sub001/internal/rentcast"
	"github.com/jkowitt/loud-legacy-sub001/internal/usage"
	"github.com/jkowitt/loud-legacy-sub001/internal/utils"
	"github.com/redis/go-redis/v9"
)

func main() {
	config.LoadEnvFiles()
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg := config.Load()
	l.Debug("config_api_base", "base", cfg.APIBase)

	ledger, closeLedger, err := usage.OpenLedger(cfg.UsageDriver, cfg.UsageSQLitePath)
	if err != nil {
		l.Error("usage_ledger_error", "driver", cfg.UsageDriver, "err", err)
		os.Exit(1)
	}
	defer closeLedger()
	l.Info("usage_ledger_ready", "driver", cfg.UsageDriver)

	// 共享缓存层：CACHE_BACKEND=redis|memcached，其余仅使用进程内缓存
	var rc *redis.Client
	var mc *memcache.Client
	switch cfg.CacheBackend {
	case "redis":
		rc = utils.OpenRedisFromEnv()
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	case "memcached":
		mc = utils.OpenMemcached(cfg.MemcachedServers)
		if mc == nil {
			l.Error("memcached_disabled", "reason", "MEMCACHED_SERVERS empty")
		} else if err := mc.Ping(); err != nil {
			l.Error("memcached_ping_error", "err", err)
		} else {
			l.Info("memcached_ping_ok")
		}
	default:
		l.Info("shared_cache_disabled", "backend", cfg.CacheBackend)
	}

	rcClient := rentcast.NewClient(cfg.RentCastAPIKey, cfg.RentCastBaseURL, cfg.ProviderTimeout)
	aiClient := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.ProviderTimeout)
	l.Info("providers", "rentcast", rcClient.Configured(), "openai", aiClient.Configured())

	guard := usage.NewGuard(ledger, usage.GuardOptions{
		DefaultPlan:       cfg.UsageDefaultPlan,
		OveragePriceCents: cfg.OveragePriceCents,
	})
	apiMux := api.BuildRoutes(api.Deps{
		Records:   records.NewService(newStore[records.Response](cfg, "records", rc, mc), rcClient, aiClient, cfg.ProviderTimeout),
		Comps:     comps.NewService(newStore[comps.Response](cfg, "comps", rc, mc), rcClient, aiClient, cfg.ProviderTimeout),
		Guard:     guard,
		Providers: map[string]bool{rentcast.Name: rcClient.Configured(), openai.Name: aiClient.Configured()},
		Backends:  map[string]string{"cache": cfg.CacheBackend, "usage": cfg.UsageDriver},
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler, middleware.Options{
		RateLimitEnabled: cfg.RateLimitEnabled,
		RateLimitQPS:     cfg.RateLimitQPS,
		TrustedProxies:   cfg.TrustedProxies,
	})
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		l.Info("shutdown_begin")
		_ = s.Shutdown(ctx)
	}()

	if cfg.TLSEnable {
		if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "localhost"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
		err = s.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
	} else {
		l.Info("listening", "addr", cfg.Addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
}

// newStore：进程内缓存为第一层，按配置叠加共享层
func newStore[T any](cfg config.Config, name string, rc *redis.Client, mc *memcache.Client) cache.Store[T] {
	local := cache.NewMemory[T](cache.Options{Name: name, TTL: cfg.CacheTTL, MaxEntries: cfg.CacheMaxEntries})
	switch {
	case rc != nil:
		return &cache.Layered[T]{Local: local, Shared: cache.NewRedis[T](rc, "propapi:"+name+":", cfg.CacheTTL)}
	case mc != nil:
		return &cache.Layered[T]{Local: local, Shared: cache.NewMemcached[T](mc, "propapi:"+name+":", cfg.CacheTTL)}
	}
	return local
}
