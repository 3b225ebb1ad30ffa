// 包 records：房产公共记录查询（地块面积、成交历史），RentCast 优先，OpenAI 估算兜底，最后返回静态默认值。
package records

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jkowitt/loud-legacy-sub001/internal/cache"
	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/jkowitt/loud-legacy-sub001/internal/rentcast"
	"github.com/jkowitt/loud-legacy-sub001/internal/resolver"
	"golang.org/x/sync/singleflight"
)

var ErrInvalidRequest = errors.New("address, city, and state are required")

const (
	sqftPerAcre = 43560

	DisclaimerEstimate = "These are AI-generated estimates, not actual public records. Add a RENTCAST_API_KEY for real county assessor and deed data."
	DisclaimerNoSource = "No property records API configured. Add a RENTCAST_API_KEY for real public records data."
)

type Request struct {
	Address      string `json:"address"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zipCode,omitempty"`
	PropertyType string `json:"propertyType,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Address) == "" || strings.TrimSpace(r.City) == "" || strings.TrimSpace(r.State) == "" {
		return ErrInvalidRequest
	}
	return nil
}

func (r Request) CacheKey() string { return cache.Key(r.Address, r.City, r.State) }

// Label：计费记录中的地址
func (r Request) Label() string { return rentcast.FullAddress(r.Address, r.City, r.State, "") }

type SaleRecord struct {
	Date   string  `json:"date"`
	Price  float64 `json:"price"`
	Buyer  string  `json:"buyer,omitempty"`
	Seller string  `json:"seller,omitempty"`
	Type   string  `json:"type,omitempty"`
}

type PropertyDetails struct {
	Bedrooms      *float64 `json:"bedrooms,omitempty"`
	Bathrooms     *float64 `json:"bathrooms,omitempty"`
	SquareFeet    *float64 `json:"squareFeet,omitempty"`
	YearBuilt     *int     `json:"yearBuilt,omitempty"`
	PropertyType  string   `json:"propertyType,omitempty"`
	LastSaleDate  string   `json:"lastSaleDate,omitempty"`
	LastSalePrice *float64 `json:"lastSalePrice,omitempty"`
}

type Response struct {
	Success         bool             `json:"success"`
	Source          resolver.Source  `json:"source"`
	LotSizeAcres    *float64         `json:"lotSizeAcres"`
	LotSizeSqft     *float64         `json:"lotSizeSqft"`
	SaleHistory     []SaleRecord     `json:"saleHistory"`
	PropertyDetails *PropertyDetails `json:"propertyDetails,omitempty"`
	Disclaimer      string           `json:"disclaimer,omitempty"`
}

// Verified：结果来自主供应商（公共记录），只有这类结果计费
func (r Response) Verified() bool { return r.Source == resolver.SourceRentCast }

type Result struct {
	Response Response
	CacheHit bool
}

// PropertySource：主供应商契约（rentcast.Client 实现）
type PropertySource interface {
	Configured() bool
	Property(ctx context.Context, address, city, state, zip string) (*rentcast.Property, error)
}

// Estimator：估算供应商契约（openai.Client 实现）
type Estimator interface {
	Configured() bool
	ChatJSON(ctx context.Context, system, user string, maxTokens int, temperature float64, out any) error
}

type Service struct {
	cache    cache.Store[Response]
	primary  PropertySource
	estimate Estimator
	timeout  time.Duration
	flights  singleflight.Group
}

func NewService(c cache.Store[Response], primary PropertySource, estimate Estimator, timeout time.Duration) *Service {
	return &Service{cache: c, primary: primary, estimate: estimate, timeout: timeout}
}

// 文档注释：查询房产记录
// 背景：先按规整键查缓存；未命中时同键并发请求合并为一次解析，避免重复消耗付费配额。
// 约束：仅缓存供应商返回的结果，静态默认值不入缓存。
func (s *Service) Lookup(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	key := req.CacheKey()
	if v, ok := s.cache.Get(ctx, key); ok {
		logger.L().Debug("records_cache_hit", "key", key)
		return Result{Response: v, CacheHit: true}, nil
	}
	v, _, _ := s.flights.Do(key, func() (any, error) {
		bg := context.WithoutCancel(ctx)
		out := s.chain(req).Resolve(bg)
		if out.Source != resolver.SourceFallback {
			s.cache.Put(bg, key, out.Value)
		}
		logger.L().Info("records_resolved", "key", key, "source", out.Source, "failures", len(out.Failures))
		return out.Value, nil
	})
	return Result{Response: v.(Response)}, nil
}

func (s *Service) chain(req Request) *resolver.Chain[Response] {
	return &resolver.Chain[Response]{
		Timeout: s.timeout,
		Attempts: []resolver.Attempt[Response]{
			{
				Name:       rentcast.Name,
				Source:     resolver.SourceRentCast,
				Configured: s.primary != nil && s.primary.Configured(),
				Invoke: func(ctx context.Context) (Response, error) {
					p, err := s.primary.Property(ctx, req.Address, req.City, req.State, req.ZipCode)
					if err != nil {
						return Response{}, err
					}
					if p == nil {
						return Response{}, resolver.NewFailure(rentcast.Name, resolver.KindEmpty, nil)
					}
					return fromRentCast(p), nil
				},
			},
			{
				Name:       "openai",
				Source:     resolver.SourceOpenAI,
				Configured: s.estimate != nil && s.estimate.Configured(),
				Invoke: func(ctx context.Context) (Response, error) {
					return estimateRecords(ctx, s.estimate, req)
				},
			},
		},
		Default: func() Response {
			return Response{
				Success:     true,
				Source:      resolver.SourceFallback,
				SaleHistory: []SaleRecord{},
				Disclaimer:  DisclaimerNoSource,
			}
		},
		DefaultSource: resolver.SourceFallback,
	}
}

// fromRentCast：整理面积（平方英尺换算英亩，保留三位小数）与成交历史（去重、按日期倒序）
func fromRentCast(p *rentcast.Property) Response {
	var acres, sqft *float64
	if p.LotSize != nil && *p.LotSize > 0 {
		v := *p.LotSize
		a := math.Round(v/sqftPerAcre*1000) / 1000
		sqft, acres = &v, &a
	}
	var hist []SaleRecord
	if p.LastSaleDate != "" && p.LastSalePrice != nil && *p.LastSalePrice > 0 {
		hist = append(hist, SaleRecord{Date: p.LastSaleDate, Price: *p.LastSalePrice, Type: "Closed Sale"})
	}
	for _, e := range p.PriceHistory {
		if e.Date != "" && e.Price > 0 {
			hist = append(hist, SaleRecord{Date: e.Date, Price: e.Price, Type: orDefault(e.Event, "Sale")})
		}
	}
	for _, d := range p.SaleHistory {
		if d.SaleDate != "" && d.SalePrice > 0 {
			hist = append(hist, SaleRecord{
				Date:   d.SaleDate,
				Price:  d.SalePrice,
				Buyer:  d.BuyerName,
				Seller: d.SellerName,
				Type:   orDefault(d.DocumentType, "Deed Transfer"),
			})
		}
	}
	for _, e := range p.History {
		if e.Date != "" && e.Price > 0 {
			hist = append(hist, SaleRecord{Date: e.Date, Price: e.Price, Type: orDefault(e.Event, "Sale")})
		}
	}
	return Response{
		Success:      true,
		Source:       resolver.SourceRentCast,
		LotSizeAcres: acres,
		LotSizeSqft:  sqft,
		SaleHistory:  dedupeSales(hist),
		PropertyDetails: &PropertyDetails{
			Bedrooms:      p.Bedrooms,
			Bathrooms:     p.Bathrooms,
			SquareFeet:    p.SquareFootage,
			YearBuilt:     p.YearBuilt,
			PropertyType:  p.PropertyType,
			LastSaleDate:  p.LastSaleDate,
			LastSalePrice: p.LastSalePrice,
		},
	}
}

func dedupeSales(in []SaleRecord) []SaleRecord {
	out := make([]SaleRecord, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		k := normalizeDate(s.Date) + "|" + formatPrice(s.Price)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return ParseDate(out[i].Date).After(ParseDate(out[j].Date)) })
	return out
}

// ParseDate：兼容 RFC3339 与 YYYY-MM-DD；无法解析时返回零值（排序时排在最后）
func ParseDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func normalizeDate(s string) string {
	if t := ParseDate(s); !t.IsZero() {
		return t.UTC().Format("2006-01-02")
	}
	return s
}

func formatPrice(p float64) string { return strconv.FormatFloat(p, 'f', -1, 64) }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
