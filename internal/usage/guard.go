package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/jkowitt/loud-legacy-sub001/internal/metrics"
)

// Snapshot：当前周期的用量概览
type Snapshot struct {
	Used             int    `json:"used"`
	Limit            int    `json:"limit"`
	Remaining        int    `json:"remaining"`
	Plan             string `json:"plan"`
	OverageCount     int    `json:"overageCount"`
	OverageCostCents int    `json:"overageCostCents"`
}

// Access：CheckAccess 的结果；WillBeOverage 描述“下一次”计费查询是否超额
type Access struct {
	Snapshot
	WillBeOverage bool
}

// Info：随查询结果返回给调用方的用量块
type Info struct {
	Snapshot
	WasOverage bool `json:"wasOverage"`
	Charged    bool `json:"charged"`
}

// Unbilled：未计费时返回的用量块（空结果、估算结果）
func (a Access) Unbilled() Info {
	return Info{Snapshot: a.Snapshot}
}

type RecordParams struct {
	Source  string
	Address string
}

type GuardOptions struct {
	DefaultPlan       string
	OveragePriceCents int
	Now               func() time.Time
}

// 文档注释：用量计量守卫
// 背景：遵循“从不阻断用户，只对超额计费”的策略；CheckAccess 从不拒绝。
// 约束：RecordUsage 只能在解析器返回非空结果之后调用；写入失败必须作为请求错误上抛，不能静默当作免费。
type Guard struct {
	ledger      Ledger
	defaultPlan Plan
	priceCents  int
	now         func() time.Time
}

func NewGuard(l Ledger, opts GuardOptions) *Guard {
	def, ok := LookupPlan(opts.DefaultPlan)
	if !ok {
		def = plans["free"]
	}
	if opts.OveragePriceCents <= 0 {
		opts.OveragePriceCents = DefaultOveragePriceCents
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Guard{ledger: l, defaultPlan: def, priceCents: opts.OveragePriceCents, now: opts.Now}
}

func (g *Guard) PriceCents() int { return g.priceCents }

func (g *Guard) plan(ctx context.Context, userID string) (Plan, error) {
	name, err := g.ledger.PlanName(ctx, userID)
	if err != nil {
		return Plan{}, err
	}
	if p, ok := LookupPlan(name); ok {
		return p, nil
	}
	return g.defaultPlan, nil
}

func (g *Guard) snapshot(p Plan, c Counts) Snapshot {
	remaining := p.Limit - c.Used
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		Used:             c.Used,
		Limit:            p.Limit,
		Remaining:        remaining,
		Plan:             p.Name,
		OverageCount:     c.Overage,
		OverageCostCents: c.Overage * g.priceCents,
	}
}

func (g *Guard) CheckAccess(ctx context.Context, userID string) (Access, error) {
	if userID == "" {
		return Access{}, ErrNoUser
	}
	p, err := g.plan(ctx, userID)
	if err != nil {
		return Access{}, fmt.Errorf("usage plan: %w", err)
	}
	c, err := g.ledger.Counts(ctx, userID, Period(g.now()))
	if err != nil {
		return Access{}, fmt.Errorf("usage counts: %w", err)
	}
	return Access{Snapshot: g.snapshot(p, c), WillBeOverage: c.Used >= p.Limit}, nil
}

// RecordUsage：写入一条计费记录并返回计费后的用量块
func (g *Guard) RecordUsage(ctx context.Context, userID string, rp RecordParams) (Info, error) {
	if userID == "" {
		return Info{}, ErrNoUser
	}
	p, err := g.plan(ctx, userID)
	if err != nil {
		metrics.UsageRecordFailTotal.Inc()
		return Info{}, fmt.Errorf("usage plan: %w", err)
	}
	now := g.now()
	rec := Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Period:    Period(now),
		Source:    rp.Source,
		Address:   rp.Address,
		CreatedAt: now.UTC(),
	}
	rec, c, err := g.ledger.Append(ctx, rec, p.Limit)
	if err != nil {
		metrics.UsageRecordFailTotal.Inc()
		logger.L().Error("usage_record_error", "user", userID, "source", rp.Source, "err", err)
		return Info{}, fmt.Errorf("usage record: %w", err)
	}
	metrics.UsageRecordsTotal.WithLabelValues(rp.Source).Inc()
	if rec.WasOverage {
		metrics.UsageOverageTotal.Inc()
	}
	logger.L().Info("usage_recorded", "user", userID, "source", rp.Source, "used", c.Used, "limit", p.Limit, "overage", rec.WasOverage)
	return Info{Snapshot: g.snapshot(p, c), WasOverage: rec.WasOverage, Charged: true}, nil
}

// Recent：最近的计费记录，供用量接口与 CLI 展示
func (g *Guard) Recent(ctx context.Context, userID string, n int) ([]Record, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	return g.ledger.Recent(ctx, userID, n)
}
