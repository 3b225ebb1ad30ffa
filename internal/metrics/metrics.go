package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2500, 5000, 10000}

var (
	LookupRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propapi_lookup_requests_total",
		Help: "Total lookup requests by endpoint",
	}, []string{"endpoint"})
	LookupDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "propapi_lookup_duration_ms",
		Help:    "Lookup duration in milliseconds by endpoint",
		Buckets: durationBuckets,
	}, []string{"endpoint"})
	LookupSourceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propapi_lookup_source_total",
		Help: "Resolved lookups by endpoint and source",
	}, []string{"endpoint", "source"})
	EmptyResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propapi_empty_results_total",
		Help: "Lookups that resolved to no data",
	}, []string{"endpoint"})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propapi_cache_hits_total",
		Help: "Cache hits by cache name",
	}, []string{"cache"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propapi_cache_misses_total",
		Help: "Cache misses by cache name",
	}, []string{"cache"})
	CacheEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propapi_cache_evictions_total",
		Help: "Cache evictions by cache name and reason",
	}, []string{"cache", "reason"})
	SharedCacheErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propapi_shared_cache_errors_total",
		Help: "Shared cache backend errors by backend and op",
	}, []string{"backend", "op"})
	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propapi_provider_requests_total",
		Help: "Total provider requests",
	}, []string{"provider"})
	ProviderSuccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propapi_provider_success_total",
		Help: "Total provider successes (usable result)",
	}, []string{"provider"})
	ProviderFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propapi_provider_fail_total",
		Help: "Total provider failures by kind",
	}, []string{"provider", "kind"})
	ProviderDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "propapi_provider_duration_ms",
		Help:    "Provider call duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"provider"})
	UsageRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propapi_usage_records_total",
		Help: "Usage records written by source",
	}, []string{"source"})
	UsageOverageTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "propapi_usage_overage_total",
		Help: "Usage records flagged as overage",
	})
	UsageRecordFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "propapi_usage_record_fail_total",
		Help: "Usage record writes that failed",
	})
)

func init() {
	prometheus.MustRegister(LookupRequestsTotal)
	prometheus.MustRegister(LookupDurationMs)
	prometheus.MustRegister(LookupSourceTotal)
	prometheus.MustRegister(EmptyResultsTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheEvictionsTotal)
	prometheus.MustRegister(SharedCacheErrorsTotal)
	prometheus.MustRegister(ProviderRequestsTotal)
	prometheus.MustRegister(ProviderSuccessTotal)
	prometheus.MustRegister(ProviderFailTotal)
	prometheus.MustRegister(ProviderDurationMs)
	prometheus.MustRegister(UsageRecordsTotal)
	prometheus.MustRegister(UsageOverageTotal)
	prometheus.MustRegister(UsageRecordFailTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标，在主入口挂载到 API 前缀下的 /metrics。
func Handler() http.Handler { return promhttp.Handler() }
