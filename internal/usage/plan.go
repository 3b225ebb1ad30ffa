// 包 usage：按用户、按自然月统计计费查询次数，超出套餐额度的查询照常放行但标记为超额并计价。
package usage

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var ErrNoUser = errors.New("usage: user id required")

// Plan：套餐名与每月包含的查询次数
type Plan struct {
	Name  string
	Limit int
}

var plans = map[string]Plan{
	"free":       {Name: "free", Limit: 5},
	"starter":    {Name: "starter", Limit: 25},
	"pro":        {Name: "pro", Limit: 100},
	"enterprise": {Name: "enterprise", Limit: 1000},
}

const DefaultOveragePriceCents = 200

// LookupPlan：未知套餐名返回 false
func LookupPlan(name string) (Plan, bool) {
	p, ok := plans[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Period：计费周期为 UTC 自然月，格式 YYYY-MM
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PlanNames：按额度升序
func PlanNames() []string {
	out := make([]string, 0, len(plans))
	for name := range plans {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return plans[out[i]].Limit < plans[out[j]].Limit })
	return out
}
