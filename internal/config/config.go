// 包 config：集中读取环境变量并给出默认值；.env 由入口通过 godotenv 预先加载
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config：服务运行所需的全部配置
// 约束：供应商密钥为空即视为该回退步骤不可用，不是错误
type Config struct {
	Addr    string
	APIBase string

	RentCastAPIKey  string
	RentCastBaseURL string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	ProviderTimeout time.Duration

	CacheTTL         time.Duration
	CacheMaxEntries  int
	CacheBackend     string
	MemcachedServers []string

	UsageDriver       string
	UsageSQLitePath   string
	UsageDefaultPlan  string
	OveragePriceCents int

	RateLimitEnabled bool
	RateLimitQPS     int
	TrustedProxies   []string

	TLSEnable   bool
	TLSCertPath string
	TLSKeyPath  string
}

// LoadEnvFiles：依次加载 .env 与 data/env/.env；文件缺失时静默忽略
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// Load：从环境变量构建配置
func Load() Config {
	c := Config{
		Addr:              envOr("ADDR", ":8080"),
		APIBase:           envOr("API_BASE", "/api"),
		RentCastAPIKey:    os.Getenv("RENTCAST_API_KEY"),
		RentCastBaseURL:   envOr("RENTCAST_BASE_URL", "https://api.rentcast.io"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     envOr("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIModel:       envOr("OPENAI_MODEL", "gpt-4o"),
		ProviderTimeout:   envMillis("PROVIDER_TIMEOUT_MS", 10*time.Second),
		CacheTTL:          envSeconds("CACHE_TTL_SECONDS", 5*time.Minute),
		CacheMaxEntries:   envInt("CACHE_MAX_ENTRIES", 200),
		CacheBackend:      strings.ToLower(envOr("CACHE_BACKEND", "memory")),
		UsageDriver:       strings.ToLower(envOr("USAGE_DB_DRIVER", "postgres")),
		UsageSQLitePath:   envOr("USAGE_SQLITE_PATH", filepath.Join("data", "usage.db")),
		UsageDefaultPlan:  strings.ToLower(envOr("USAGE_DEFAULT_PLAN", "free")),
		OveragePriceCents: envInt("OVERAGE_PRICE_CENTS", 200),
		RateLimitEnabled:  os.Getenv("RATE_LIMIT_ENABLED") == "true",
		RateLimitQPS:      envInt("RATE_LIMIT_QPS", 200),
		TLSEnable:         os.Getenv("TLS_ENABLE") == "true",
		TLSCertPath:       envOr("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKeyPath:        envOr("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
	}
	c.MemcachedServers = envList("MEMCACHED_SERVERS")
	c.TrustedProxies = envList("TRUSTED_PROXIES")
	return c
}

// envList：逗号分隔列表，忽略空项
func envList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt：解析失败或非正数时回退默认值
func envInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envMillis(key string, def time.Duration) time.Duration {
	n := envInt(key, 0)
	if n == 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func envSeconds(key string, def time.Duration) time.Duration {
	n := envInt(key, 0)
	if n == 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
