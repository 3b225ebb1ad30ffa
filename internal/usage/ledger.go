package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Record：一次计费查询
type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Period     string    `json:"period"`
	Source     string    `json:"source"`
	Address    string    `json:"address"`
	WasOverage bool      `json:"wasOverage"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Counts：某用户在某周期内的计费次数与其中的超额次数
type Counts struct {
	Used    int
	Overage int
}

// 文档注释：用量账本
// 约束：Append 必须原子地完成“计数加一、判定超额、写入记录”，超额判定以加一后的计数为准（used > limit）。
type Ledger interface {
	PlanName(ctx context.Context, userID string) (string, error)
	SetPlan(ctx context.Context, userID, plan string) error
	Counts(ctx context.Context, userID, period string) (Counts, error)
	Append(ctx context.Context, rec Record, limit int) (Record, Counts, error)
	Recent(ctx context.Context, userID string, n int) ([]Record, error)
}

// MemoryLedger：进程内账本，用于开发与测试；重启即丢失
type MemoryLedger struct {
	mu      sync.Mutex
	plans   map[string]string
	counts  map[string]Counts
	records []Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{plans: make(map[string]string), counts: make(map[string]Counts)}
}

func (m *MemoryLedger) PlanName(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plans[userID], nil
}

func (m *MemoryLedger) SetPlan(_ context.Context, userID, plan string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[userID] = plan
	return nil
}

func (m *MemoryLedger) Counts(_ context.Context, userID, period string) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[userID+"|"+period], nil
}

func (m *MemoryLedger) Append(_ context.Context, rec Record, limit int) (Record, Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rec.UserID + "|" + rec.Period
	c := m.counts[k]
	c.Used++
	rec.WasOverage = c.Used > limit
	if rec.WasOverage {
		c.Overage++
	}
	m.counts[k] = c
	m.records = append(m.records, rec)
	return rec, c, nil
}

func (m *MemoryLedger) Recent(_ context.Context, userID string, n int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
