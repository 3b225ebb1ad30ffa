package rentcast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/jkowitt/loud-legacy-sub001/internal/resolver"
)

const (
	Name           = "rentcast"
	DefaultBaseURL = "https://api.rentcast.io"
)

// 文档注释：RentCast 公共房产记录响应结构
// 背景：仅解析本服务需要的字段；价格历史兼容数组形式（priceHistory/saleHistory）与按日期索引的 history 对象。
type Property struct {
	ID               string                  `json:"id"`
	FormattedAddress string                  `json:"formattedAddress"`
	AddressLine1     string                  `json:"addressLine1"`
	City             string                  `json:"city"`
	State            string                  `json:"state"`
	ZipCode          string                  `json:"zipCode"`
	Latitude         *float64                `json:"latitude"`
	Longitude        *float64                `json:"longitude"`
	PropertyType     string                  `json:"propertyType"`
	Bedrooms         *float64                `json:"bedrooms"`
	Bathrooms        *float64                `json:"bathrooms"`
	SquareFootage    *float64                `json:"squareFootage"`
	LotSize          *float64                `json:"lotSize"`
	YearBuilt        *int                    `json:"yearBuilt"`
	LastSaleDate     string                  `json:"lastSaleDate"`
	LastSalePrice    *float64                `json:"lastSalePrice"`
	Distance         *float64                `json:"distance"`
	PriceHistory     []PriceEvent            `json:"priceHistory"`
	SaleHistory      []DeedTransfer          `json:"saleHistory"`
	History          map[string]HistoryEvent `json:"history"`
}

type PriceEvent struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
	Event string  `json:"event"`
}

type DeedTransfer struct {
	SaleDate     string  `json:"saleDate"`
	SalePrice    float64 `json:"salePrice"`
	BuyerName    string  `json:"buyerName"`
	SellerName   string  `json:"sellerName"`
	DocumentType string  `json:"documentType"`
}

type HistoryEvent struct {
	Event string  `json:"event"`
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// Client：RentCast REST 客户端；APIKey 为空视为未配置
type Client struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{APIKey: apiKey, BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: timeout}}
}

func (c *Client) Configured() bool { return c != nil && c.APIKey != "" }

// FullAddress：RentCast 接受单行地址 "address, city, state[ zip]"
func FullAddress(address, city, state, zip string) string {
	s := address + ", " + city + ", " + state
	if zip != "" {
		s += " " + zip
	}
	return s
}

// 文档注释：按地址查询单个房产记录
// 返回：无匹配时返回 (nil, nil)；非 2xx 与解析失败返回 *resolver.Failure。
func (c *Client) Property(ctx context.Context, address, city, state, zip string) (*Property, error) {
	q := url.Values{}
	q.Set("address", FullAddress(address, city, state, zip))
	props, err := c.properties(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return nil, nil
	}
	return &props[0], nil
}

// CompQuery：近期成交检索参数；有坐标时按坐标检索，否则按地址
type CompQuery struct {
	Address       string
	Latitude      *float64
	Longitude     *float64
	RadiusMiles   float64
	SaleDateRange int
	PropertyType  string
	Limit         int
}

func (c *Client) SaleComps(ctx context.Context, cq CompQuery) ([]Property, error) {
	q := url.Values{}
	if cq.Latitude != nil && cq.Longitude != nil {
		q.Set("latitude", strconv.FormatFloat(*cq.Latitude, 'f', 6, 64))
		q.Set("longitude", strconv.FormatFloat(*cq.Longitude, 'f', 6, 64))
	} else {
		q.Set("address", cq.Address)
	}
	q.Set("radius", strconv.FormatFloat(cq.RadiusMiles, 'f', -1, 64))
	if cq.SaleDateRange > 0 {
		q.Set("saleDateRange", strconv.Itoa(cq.SaleDateRange))
	}
	if cq.PropertyType != "" {
		q.Set("propertyType", cq.PropertyType)
	}
	if cq.Limit > 0 {
		q.Set("limit", strconv.Itoa(cq.Limit))
	}
	return c.properties(ctx, q)
}

func (c *Client) properties(ctx context.Context, q url.Values) ([]Property, error) {
	if !c.Configured() {
		return nil, resolver.NewFailure(Name, resolver.KindTransport, fmt.Errorf("missing api key"))
	}
	u := c.BaseURL + "/v1/properties?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.APIKey)
	t0 := time.Now()
	logger.L().Debug("rentcast_req", "query", q.Encode())
	resp, err := c.HTTP.Do(req)
	if err != nil {
		logger.L().Error("rentcast_http_error", "err", err)
		return nil, resolver.Classify(Name, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resolver.Classify(Name, err)
	}
	dur := time.Since(t0).Milliseconds()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.L().Error("rentcast_status_error", "status", resp.StatusCode, "duration_ms", dur)
		return nil, resolver.HTTPFailure(Name, resp.StatusCode, truncate(string(body), 512))
	}
	props, err := decodeProperties(body)
	if err != nil {
		logger.L().Error("rentcast_decode_error", "err", err)
		return nil, resolver.NewFailure(Name, resolver.KindDecode, err)
	}
	logger.L().Debug("rentcast_resp", "count", len(props), "duration_ms", dur)
	return props, nil
}

// decodeProperties：接口通常返回数组，个别情况下返回单个对象
func decodeProperties(body []byte) ([]Property, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var out []Property
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var p Property
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return []Property{p}, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "...[truncated]"
	}
	return s
}
