// 包 resolver：按固定优先级依次尝试数据供应商，失败或空结果时降级到下一步，最终回落到静态默认值。
package resolver

import (
	"context"
	"time"

	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/jkowitt/loud-legacy-sub001/internal/metrics"
)

// Source：结果来源标记，供下游向用户披露数据出处
type Source string

const (
	SourceRentCast    Source = "rentcast"
	SourceOpenAI      Source = "openai"
	SourceFallback    Source = "fallback"
	SourceUnavailable Source = "unavailable"
)

// Attempt：一次供应商尝试
// 约束：Configured 为 false 时静默跳过，不计为失败
type Attempt[T any] struct {
	Name       string
	Source     Source
	Configured bool
	Invoke     func(ctx context.Context) (T, error)
}

// 文档注释：回退链
// 背景：Usable 由各查询定义“可用”的含义；Default 必须是不会失败的静态结果。
// 约束：Timeout>0 时每次尝试单独设置超时，超时按失败处理并继续下一步。
type Chain[T any] struct {
	Attempts      []Attempt[T]
	Usable        func(T) bool
	Default       func() T
	DefaultSource Source
	Timeout       time.Duration
}

// Outcome：解析结果；Failures 按尝试顺序记录被跳过的原因
type Outcome[T any] struct {
	Value    T
	Source   Source
	Failures []*Failure
}

// Resolve：从不返回错误，所有供应商都不可用时返回静态默认值
func (c *Chain[T]) Resolve(ctx context.Context) Outcome[T] {
	var out Outcome[T]
	for _, a := range c.Attempts {
		if !a.Configured {
			logger.L().Debug("provider_skip_unconfigured", "provider", a.Name)
			continue
		}
		v, f := c.try(ctx, a)
		if f == nil {
			metrics.ProviderSuccessTotal.WithLabelValues(a.Name).Inc()
			out.Value = v
			out.Source = a.Source
			return out
		}
		metrics.ProviderFailTotal.WithLabelValues(a.Name, string(f.Kind)).Inc()
		logger.L().Warn("provider_fallthrough", "provider", a.Name, "kind", f.Kind, "err", f.Error())
		out.Failures = append(out.Failures, f)
		if ctx.Err() != nil {
			break
		}
	}
	if c.Default != nil {
		out.Value = c.Default()
	} else {
		var zero T
		out.Value = zero
	}
	out.Source = c.DefaultSource
	if out.Source == "" {
		out.Source = SourceFallback
	}
	return out
}

func (c *Chain[T]) try(ctx context.Context, a Attempt[T]) (T, *Failure) {
	var zero T
	callCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	t0 := time.Now()
	metrics.ProviderRequestsTotal.WithLabelValues(a.Name).Inc()
	v, err := a.Invoke(callCtx)
	metrics.ProviderDurationMs.WithLabelValues(a.Name).Observe(float64(time.Since(t0).Milliseconds()))
	if err != nil {
		return zero, Classify(a.Name, err)
	}
	if c.Usable != nil && !c.Usable(v) {
		return zero, NewFailure(a.Name, KindEmpty, nil)
	}
	return v, nil
}
