package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jkowitt/loud-legacy-sub001/internal/comps"
	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/jkowitt/loud-legacy-sub001/internal/metrics"
	"github.com/jkowitt/loud-legacy-sub001/internal/middleware"
	"github.com/jkowitt/loud-legacy-sub001/internal/records"
	"github.com/jkowitt/loud-legacy-sub001/internal/rentcast"
	"github.com/jkowitt/loud-legacy-sub001/internal/usage"
)

const (
	sourceRecordsUsage = "rentcast-records"
	sourceCompsUsage   = "rentcast-comps"
)

func userFrom(r *http.Request) string { return middleware.UserID(r.Context()) }

type recordsBody struct {
	records.Response
	Cached bool        `json:"cached"`
	Usage  *usage.Info `json:"usage,omitempty"`
}

type compsBody struct {
	comps.Response
	Cached bool        `json:"cached"`
	Usage  *usage.Info `json:"usage,omitempty"`
}

// overageNote：超额计费时追加到免责声明
func overageNote(info usage.Info, priceCents int) string {
	if !info.WasOverage {
		return ""
	}
	return fmt.Sprintf(" This lookup exceeded your %s plan limit of %d/month. An additional charge of $%.2f applies.",
		info.Plan, info.Limit, float64(priceCents)/100)
}

// 文档注释：房产记录查询
// 背景：允许匿名访问；携带用户身份且结果来自主供应商时才计费。
// 约束：计费写入失败返回 500，结果已写入缓存，重试不会再次调用付费供应商。
func (h *handlers) propertyRecords(w http.ResponseWriter, r *http.Request) {
	const endpoint = "property_records"
	defer observe(endpoint)()
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()
	var req records.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user := userFrom(r)
	var access usage.Access
	if user != "" {
		a, err := h.Guard.CheckAccess(ctx, user)
		if err != nil {
			logger.L().Error("usage_check_error", "user", user, "err", err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch property records")
			return
		}
		access = a
	}
	res, err := h.Records.Lookup(ctx, req)
	if err != nil {
		if errors.Is(err, records.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.L().Error("records_lookup_error", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch property records")
		return
	}
	metrics.LookupSourceTotal.WithLabelValues(endpoint, string(res.Response.Source)).Inc()
	body := recordsBody{Response: res.Response, Cached: res.CacheHit}
	if user != "" {
		if res.Response.Verified() {
			info, err := h.Guard.RecordUsage(ctx, user, usage.RecordParams{
				Source:  sourceRecordsUsage,
				Address: req.Label(),
			})
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to record usage")
				return
			}
			body.Disclaimer = strings.TrimSpace(body.Disclaimer + overageNote(info, h.Guard.PriceCents()))
			body.Usage = &info
		} else {
			metrics.EmptyResultsTotal.WithLabelValues(endpoint).Inc()
			u := access.Unbilled()
			body.Usage = &u
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// 文档注释：近期成交可比房源
// 背景：必须携带用户身份；主供应商返回至少一条成交才计费，“无成交”、估算与不可用均不计费。
func (h *handlers) realComps(w http.ResponseWriter, r *http.Request) {
	const endpoint = "real_comps"
	defer observe(endpoint)()
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()
	user := userFrom(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req comps.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	access, err := h.Guard.CheckAccess(ctx, user)
	if err != nil {
		logger.L().Error("usage_check_error", "user", user, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch real comparable sales")
		return
	}
	res, err := h.Comps.Lookup(ctx, req)
	if err != nil {
		if errors.Is(err, comps.ErrInvalidRequest) || errors.Is(err, comps.ErrInvalidCoordinates) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.L().Error("comps_lookup_error", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch real comparable sales")
		return
	}
	metrics.LookupSourceTotal.WithLabelValues(endpoint, string(res.Response.Source)).Inc()
	body := compsBody{Response: res.Response, Cached: res.CacheHit}
	if !res.Response.Billable() {
		metrics.EmptyResultsTotal.WithLabelValues(endpoint).Inc()
		u := access.Unbilled()
		body.Usage = &u
		writeJSON(w, http.StatusOK, body)
		return
	}
	info, err := h.Guard.RecordUsage(ctx, user, usage.RecordParams{
		Source:  sourceCompsUsage,
		Address: rentcast.FullAddress(req.Address, req.City, req.State, ""),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record usage")
		return
	}
	body.Disclaimer = comps.VerifiedDisclaimer(res.Response) + overageNote(info, h.Guard.PriceCents())
	body.Usage = &info
	writeJSON(w, http.StatusOK, body)
}
