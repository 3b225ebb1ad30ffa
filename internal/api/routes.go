// 包 api：集中注册 HTTP API 路由以解耦主入口；查询接口遵循“检查用量 → 解析 → 有结果才计费”的流程
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jkowitt/loud-legacy-sub001/internal/comps"
	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/jkowitt/loud-legacy-sub001/internal/metrics"
	"github.com/jkowitt/loud-legacy-sub001/internal/records"
	"github.com/jkowitt/loud-legacy-sub001/internal/usage"
)

// Deps：路由依赖；Providers 仅用于健康检查展示
type Deps struct {
	Records   *records.Service
	Comps     *comps.Service
	Guard     *usage.Guard
	Providers map[string]bool
	Backends  map[string]string
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	h := &handlers{Deps: d}
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/property-records", h.propertyRecords)
	apiMux.HandleFunc("/ai/real-comps", h.realComps)
	apiMux.HandleFunc("/usage", h.usage)
	apiMux.HandleFunc("/health", h.health)
	return apiMux
}

type handlers struct {
	Deps
}

type errorBody struct {
	Error string `json:"error"`
}

// writeJSON：先完成序列化再写状态码，序列化失败时返回 500 而不是空的 200
func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.L().Error("response_encode_error", "err", err)
		status = http.StatusInternalServerError
		b = []byte(`{"error":"failed to encode response"}`)
	}
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeBody：请求体限制 64KB，未知字段忽略
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(v)
}

// observe：记录接口请求数与耗时
func observe(endpoint string) func() {
	t0 := time.Now()
	metrics.LookupRequestsTotal.WithLabelValues(endpoint).Inc()
	return func() {
		metrics.LookupDurationMs.WithLabelValues(endpoint).Observe(float64(time.Since(t0).Milliseconds()))
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": h.Providers,
		"backends":  h.Backends,
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handlers) usage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()
	user := userFrom(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	access, err := h.Guard.CheckAccess(ctx, user)
	if err != nil {
		logger.L().Error("usage_check_error", "user", user, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to load usage")
		return
	}
	recent, err := h.Guard.Recent(ctx, user, 20)
	if err != nil {
		logger.L().Error("usage_recent_error", "user", user, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to load usage")
		return
	}
	if recent == nil {
		recent = []usage.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"usage":             access.Snapshot,
		"willBeOverage":     access.WillBeOverage,
		"overagePriceCents": h.Guard.PriceCents(),
		"recent":            recent,
	})
}
