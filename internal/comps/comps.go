// 包 comps：近期成交可比房源查询；先在 0.5 英里内检索，不足 MinComps 条时扩大到 1 英里（仅一次）。
package comps

import (
	"context"
	"errors"
	"fmt"
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

var (
	ErrInvalidRequest     = errors.New("address, city, and state are required")
	ErrInvalidCoordinates = errors.New("latitude must be within [-90, 90] and longitude within [-180, 180]")
)

const (
	MinComps       = 4
	InitialRadius  = 0.5
	ExpandedRadius = 1.0
	DefaultLimit   = 6
	MaxLimit       = 15
	DefaultMonths  = 6

	MessageNoSales       = "No recent sales found in this area. Try expanding the lookback period to 9 or 12 months."
	DisclaimerEstimate   = "These are AI-generated comparable sales estimates, not verified transactions. Add a RENTCAST_API_KEY for verified recent sales."
	DisclaimerNoProvider = "Real comparable sales require a RentCast API key. Configure RENTCAST_API_KEY to enable this feature."
	DisclaimerDown       = "Comparable sales are temporarily unavailable. Please try again shortly."
)

type Request struct {
	Address        string   `json:"address"`
	City           string   `json:"city"`
	State          string   `json:"state"`
	ZipCode        string   `json:"zipCode,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	PropertyType   string   `json:"propertyType,omitempty"`
	LookbackMonths int      `json:"lookbackMonths,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Address) == "" || strings.TrimSpace(r.City) == "" || strings.TrimSpace(r.State) == "" {
		return ErrInvalidRequest
	}
	if !validCoord(r.Latitude, 90) || !validCoord(r.Longitude, 180) {
		return ErrInvalidCoordinates
	}
	return nil
}

func validCoord(v *float64, bound float64) bool {
	return v == nil || (!math.IsNaN(*v) && *v >= -bound && *v <= bound)
}

// Normalize：lookbackMonths 只接受 6/9/12，其余取 6；limit 限制在 1..15，缺省 6
func (r Request) Normalize() Request {
	switch r.LookbackMonths {
	case 6, 9, 12:
	default:
		r.LookbackMonths = DefaultMonths
	}
	switch {
	case r.Limit <= 0:
		r.Limit = DefaultLimit
	case r.Limit > MaxLimit:
		r.Limit = MaxLimit
	}
	return r
}

// CacheKey：坐标参与检索与距离计算，按 5 位小数（约 1 米）计入键
func (r Request) CacheKey() string {
	return cache.Key(r.Address, r.City, r.State, r.ZipCode, coordKey(r.Latitude), coordKey(r.Longitude),
		strconv.Itoa(r.LookbackMonths), strconv.Itoa(r.Limit), r.PropertyType)
}

func coordKey(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 5, 64)
}

func (r Request) fullAddress() string {
	return rentcast.FullAddress(r.Address, r.City, r.State, r.ZipCode)
}

type Comp struct {
	ID            string   `json:"id,omitempty"`
	Address       string   `json:"address"`
	City          string   `json:"city,omitempty"`
	State         string   `json:"state,omitempty"`
	ZipCode       string   `json:"zipCode,omitempty"`
	PropertyType  string   `json:"propertyType,omitempty"`
	Bedrooms      *float64 `json:"bedrooms,omitempty"`
	Bathrooms     *float64 `json:"bathrooms,omitempty"`
	SquareFeet    *float64 `json:"squareFeet,omitempty"`
	LotSize       *float64 `json:"lotSize,omitempty"`
	YearBuilt     *int     `json:"yearBuilt,omitempty"`
	SalePrice     float64  `json:"salePrice"`
	SaleDate      string   `json:"saleDate,omitempty"`
	PricePerSqft  *float64 `json:"pricePerSqft,omitempty"`
	DistanceMiles *float64 `json:"distanceMiles,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
}

type Response struct {
	Success      bool            `json:"success"`
	Comps        []Comp          `json:"comps"`
	TotalFound   int             `json:"totalFound"`
	RadiusUsed   float64         `json:"radiusUsed"`
	LookbackDays int             `json:"lookbackDays"`
	Expanded     bool            `json:"expanded"`
	Source       resolver.Source `json:"source"`
	Disclaimer   string          `json:"disclaimer,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// Billable：来自主供应商且至少一条成交才计费
func (r Response) Billable() bool { return r.Source == resolver.SourceRentCast && len(r.Comps) > 0 }

type Result struct {
	Response Response
	CacheHit bool
}

// SalesSource：主供应商契约（rentcast.Client 实现）
type SalesSource interface {
	Configured() bool
	SaleComps(ctx context.Context, q rentcast.CompQuery) ([]rentcast.Property, error)
}

type Estimator interface {
	Configured() bool
	ChatJSON(ctx context.Context, system, user string, maxTokens int, temperature float64, out any) error
}

type Service struct {
	cache    cache.Store[Response]
	primary  SalesSource
	estimate Estimator
	timeout  time.Duration
	flights  singleflight.Group
}

func NewService(c cache.Store[Response], primary SalesSource, estimate Estimator, timeout time.Duration) *Service {
	return &Service{cache: c, primary: primary, estimate: estimate, timeout: timeout}
}

func (s *Service) primaryConfigured() bool  { return s.primary != nil && s.primary.Configured() }
func (s *Service) estimateConfigured() bool { return s.estimate != nil && s.estimate.Configured() }

// 文档注释：查询可比成交
// 约束：仅缓存供应商结果；“无成交”是有效的已核实结果，同样缓存但不计费。
func (s *Service) Lookup(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	req = req.Normalize()
	key := req.CacheKey()
	if v, ok := s.cache.Get(ctx, key); ok {
		logger.L().Debug("comps_cache_hit", "key", key)
		return Result{Response: v, CacheHit: true}, nil
	}
	v, _, _ := s.flights.Do(key, func() (any, error) {
		bg := context.WithoutCancel(ctx)
		out := s.chain(req).Resolve(bg)
		if out.Source != resolver.SourceUnavailable {
			s.cache.Put(bg, key, out.Value)
		}
		logger.L().Info("comps_resolved", "key", key, "source", out.Source, "comps", len(out.Value.Comps), "failures", len(out.Failures))
		return out.Value, nil
	})
	return Result{Response: v.(Response)}, nil
}

func (s *Service) chain(req Request) *resolver.Chain[Response] {
	// 主供应商一次尝试可能发起两次请求（扩大半径），超时按单次请求设置，不在链上统一设置
	return &resolver.Chain[Response]{
		Attempts: []resolver.Attempt[Response]{
			{
				Name:       rentcast.Name,
				Source:     resolver.SourceRentCast,
				Configured: s.primaryConfigured(),
				Invoke:     func(ctx context.Context) (Response, error) { return s.verified(ctx, req) },
			},
			{
				Name:       "openai",
				Source:     resolver.SourceOpenAI,
				Configured: s.estimateConfigured(),
				Invoke: func(ctx context.Context) (Response, error) {
					ctx, cancel := s.callContext(ctx)
					defer cancel()
					return estimateComps(ctx, s.estimate, req)
				},
			},
		},
		Default: func() Response {
			msg := DisclaimerNoProvider
			if s.primaryConfigured() || s.estimateConfigured() {
				msg = DisclaimerDown
			}
			return Response{Success: false, Comps: []Comp{}, Source: resolver.SourceUnavailable, Disclaimer: msg}
		},
		DefaultSource: resolver.SourceUnavailable,
	}
}

// callContext：单次供应商请求的超时
func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// verified：0.5 英里不足 MinComps 条时扩大到 1 英里重试一次
func (s *Service) verified(ctx context.Context, req Request) (Response, error) {
	days := req.LookbackMonths * 30
	query := func(radius float64) ([]Comp, error) {
		ctx, cancel := s.callContext(ctx)
		defer cancel()
		props, err := s.primary.SaleComps(ctx, rentcast.CompQuery{
			Address:       req.fullAddress(),
			Latitude:      req.Latitude,
			Longitude:     req.Longitude,
			RadiusMiles:   radius,
			SaleDateRange: days,
			PropertyType:  req.PropertyType,
			Limit:         MaxLimit * 2,
		})
		if err != nil {
			return nil, err
		}
		return toComps(props, req.Latitude, req.Longitude), nil
	}

	found, err := query(InitialRadius)
	if err != nil {
		return Response{}, err
	}
	radius, expanded := InitialRadius, false
	if len(found) < MinComps {
		wider, err := query(ExpandedRadius)
		switch {
		case err != nil && len(found) == 0:
			return Response{}, err
		case err != nil:
			logger.L().Warn("comps_expand_error", "err", err, "kept", len(found))
		case len(wider) > 0 && len(wider) >= len(found):
			found, radius, expanded = wider, ExpandedRadius, true
		}
	}
	if len(found) == 0 {
		return Response{
			Success:      true,
			Comps:        []Comp{},
			RadiusUsed:   ExpandedRadius,
			LookbackDays: days,
			Source:       resolver.SourceRentCast,
			Message:      MessageNoSales,
		}, nil
	}
	sortByDistance(found)
	total := len(found)
	if len(found) > req.Limit {
		found = found[:req.Limit]
	}
	resp := Response{
		Success:      true,
		Comps:        found,
		TotalFound:   total,
		RadiusUsed:   radius,
		LookbackDays: days,
		Expanded:     expanded,
		Source:       resolver.SourceRentCast,
	}
	resp.Disclaimer = VerifiedDisclaimer(resp)
	return resp, nil
}

// VerifiedDisclaimer：“N verified sale(s) found within R mi (M-month lookback).”，扩大半径时追加说明
func VerifiedDisclaimer(r Response) string {
	n := len(r.Comps)
	plural := "s"
	if n == 1 {
		plural = ""
	}
	months := int(math.Round(float64(r.LookbackDays) / 30))
	s := fmt.Sprintf("%d verified sale%s found within %s mi (%d-month lookback).",
		n, plural, strconv.FormatFloat(r.RadiusUsed, 'f', -1, 64), months)
	if r.Expanded {
		s += " Radius was expanded to 1 mile to find enough comparable sales."
	}
	return s
}

func toComps(props []rentcast.Property, lat, lng *float64) []Comp {
	out := make([]Comp, 0, len(props))
	for _, p := range props {
		if p.LastSalePrice == nil || *p.LastSalePrice <= 0 {
			continue
		}
		c := Comp{
			ID:            p.ID,
			Address:       firstNonEmpty(p.FormattedAddress, p.AddressLine1),
			City:          p.City,
			State:         p.State,
			ZipCode:       p.ZipCode,
			PropertyType:  p.PropertyType,
			Bedrooms:      p.Bedrooms,
			Bathrooms:     p.Bathrooms,
			SquareFeet:    p.SquareFootage,
			LotSize:       p.LotSize,
			YearBuilt:     p.YearBuilt,
			SalePrice:     *p.LastSalePrice,
			SaleDate:      p.LastSaleDate,
			Latitude:      p.Latitude,
			Longitude:     p.Longitude,
			DistanceMiles: p.Distance,
		}
		if p.SquareFootage != nil && *p.SquareFootage > 0 {
			v := math.Round(*p.LastSalePrice / *p.SquareFootage)
			c.PricePerSqft = &v
		}
		if c.DistanceMiles == nil && lat != nil && lng != nil && p.Latitude != nil && p.Longitude != nil {
			d := math.Round(Haversine(*lat, *lng, *p.Latitude, *p.Longitude)*100) / 100
			c.DistanceMiles = &d
		}
		out = append(out, c)
	}
	return out
}

// sortByDistance：距离升序，距离未知的排在最后
func sortByDistance(cs []Comp) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i].DistanceMiles, cs[j].DistanceMiles
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return *a < *b
	})
}

const earthRadiusMiles = 3958.8

// Haversine：两点间大圆距离（英里）
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
