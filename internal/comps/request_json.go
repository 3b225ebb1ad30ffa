package comps

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// UnmarshalJSON：数值字段同时接受数字与字符串（如 "lookbackMonths": "9"），无法解析的值与 NaN/Inf 按缺省处理
func (r *Request) UnmarshalJSON(b []byte) error {
	var raw struct {
		Address        string          `json:"address"`
		City           string          `json:"city"`
		State          string          `json:"state"`
		ZipCode        string          `json:"zipCode"`
		PropertyType   string          `json:"propertyType"`
		Latitude       json.RawMessage `json:"latitude"`
		Longitude      json.RawMessage `json:"longitude"`
		LookbackMonths json.RawMessage `json:"lookbackMonths"`
		Limit          json.RawMessage `json:"limit"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = Request{
		Address:      raw.Address,
		City:         raw.City,
		State:        raw.State,
		ZipCode:      raw.ZipCode,
		PropertyType: raw.PropertyType,
		Latitude:     looseFloat(raw.Latitude),
		Longitude:    looseFloat(raw.Longitude),
	}
	if v := looseFloat(raw.LookbackMonths); v != nil {
		r.LookbackMonths = int(*v)
	}
	if v := looseFloat(raw.Limit); v != nil {
		r.Limit = int(*v)
	}
	return nil
}

func looseFloat(m json.RawMessage) *float64 {
	s := strings.Trim(strings.TrimSpace(string(m)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
