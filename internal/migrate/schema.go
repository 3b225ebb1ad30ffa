package migrate

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// 背景：首次运行自动创建用量表；迁移文件内嵌在二进制中，Postgres 与 SQLite 共用同一套可移植 SQL
// 约束：dialect 取 "postgres" 或 "sqlite3"，与 database/sql 驱动名一致
func EnsureSchema(db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	v, err := goose.GetDBVersion(db)
	if err == nil {
		logger.L().Debug("schema_done", "dialect", dialect, "version", v)
	}
	return nil
}
