package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/jkowitt/loud-legacy-sub001/internal/migrate"
)

// 文档注释：SQL 账本（Postgres / SQLite）
// 背景：计数表以 (user_id, period) 为主键，通过 INSERT ... ON CONFLICT DO UPDATE ... RETURNING 原子递增，
// 同一用户的并发请求在行锁上串行，超额标记不再依赖事先读取的计数。
// 约束：占位符按出现顺序使用 $1..$n，两种驱动均可按位置绑定。
type SQLLedger struct {
	db *sql.DB
}

// OpenSQLLedger：执行内嵌迁移后返回账本；dialect 与驱动名一致
func OpenSQLLedger(db *sql.DB, dialect string) (*SQLLedger, error) {
	if err := migrate.EnsureSchema(db, dialect); err != nil {
		return nil, err
	}
	return &SQLLedger{db: db}, nil
}

func (s *SQLLedger) DB() *sql.DB { return s.db }

func (s *SQLLedger) PlanName(ctx context.Context, userID string) (string, error) {
	var plan string
	err := s.db.QueryRowContext(ctx, "SELECT plan FROM lookup_plans WHERE user_id=$1", userID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying plan: %w", err)
	}
	return plan, nil
}

func (s *SQLLedger) SetPlan(ctx context.Context, userID, plan string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO lookup_plans(user_id, plan, updated_at) VALUES($1, $2, CURRENT_TIMESTAMP)
        ON CONFLICT (user_id) DO UPDATE SET plan=EXCLUDED.plan, updated_at=CURRENT_TIMESTAMP`, userID, plan)
	if err != nil {
		return fmt.Errorf("setting plan: %w", err)
	}
	return nil
}

func (s *SQLLedger) Counts(ctx context.Context, userID, period string) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, "SELECT used, overage FROM lookup_counters WHERE user_id=$1 AND period=$2", userID, period).Scan(&c.Used, &c.Overage)
	if errors.Is(err, sql.ErrNoRows) {
		return Counts{}, nil
	}
	if err != nil {
		return Counts{}, fmt.Errorf("querying counts: %w", err)
	}
	return c, nil
}

func (s *SQLLedger) Append(ctx context.Context, rec Record, limit int) (Record, Counts, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rec, Counts{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var c Counts
	err = tx.QueryRowContext(ctx, `INSERT INTO lookup_counters(user_id, period, used, overage) VALUES($1, $2, 1, 0)
        ON CONFLICT (user_id, period) DO UPDATE SET used=lookup_counters.used+1
        RETURNING used, overage`, rec.UserID, rec.Period).Scan(&c.Used, &c.Overage)
	if err != nil {
		return rec, Counts{}, fmt.Errorf("incrementing counter: %w", err)
	}
	rec.WasOverage = c.Used > limit
	if rec.WasOverage {
		err = tx.QueryRowContext(ctx, `UPDATE lookup_counters SET overage=overage+1 WHERE user_id=$1 AND period=$2
            RETURNING overage`, rec.UserID, rec.Period).Scan(&c.Overage)
		if err != nil {
			return rec, Counts{}, fmt.Errorf("incrementing overage: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO lookup_usage(id, user_id, period, source, address, was_overage, created_at)
        VALUES($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, rec.Period, rec.Source, rec.Address, rec.WasOverage, rec.CreatedAt.UTC())
	if err != nil {
		return rec, Counts{}, fmt.Errorf("inserting usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return rec, Counts{}, fmt.Errorf("commit: %w", err)
	}
	logger.L().Debug("usage_append", "user", rec.UserID, "period", rec.Period, "used", c.Used, "overage", rec.WasOverage)
	return rec, c, nil
}

func (s *SQLLedger) Recent(ctx context.Context, userID string, n int) ([]Record, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, period, source, address, was_overage, created_at
        FROM lookup_usage WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.Period, &r.Source, &r.Address, &r.WasOverage, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
