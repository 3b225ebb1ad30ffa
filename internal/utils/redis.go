// 包 utils：外部依赖连接工具，统一环境变量读取
package utils

import (
	"os"
	"strconv"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/redis/go-redis/v9"
)

// OpenRedisFromEnv：从环境变量打开 Redis 客户端，支持 REDIS_DB 选择
// 约束：REDIS_DB 解析失败时回退到 0
func OpenRedisFromEnv() *redis.Client {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	addr := host + ":" + port
	pass := os.Getenv("REDIS_PASS")
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, _ := strconv.Atoi(v); n >= 0 {
			db = n
		}
	}
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
}

// OpenMemcached：未提供服务器列表时返回 nil
func OpenMemcached(servers []string) *memcache.Client {
	if len(servers) == 0 {
		return nil
	}
	logger.L().Debug("memcached_env", "servers", servers)
	return memcache.New(servers...)
}
