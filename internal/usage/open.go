package usage

import (
	"github.com/jkowitt/loud-legacy-sub001/internal/logger"
	"github.com/jkowitt/loud-legacy-sub001/internal/utils"
)

// 文档注释：按驱动名打开账本
// 背景：postgres（默认）读取 PG_* 环境变量；sqlite3 使用本地文件；memory 仅用于开发，重启即丢失。
// 返回：close 用于释放底层连接。
func OpenLedger(driver, sqlitePath string) (Ledger, func(), error) {
	l := logger.L()
	switch driver {
	case "memory":
		l.Warn("usage_ledger_memory", "reason", "counts are lost on restart")
		return NewMemoryLedger(), func() {}, nil
	case "sqlite3", "sqlite":
		db, err := utils.OpenSQLite(sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		led, err := OpenSQLLedger(db, "sqlite3")
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return led, func() { db.Close() }, nil
	default:
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		led, err := OpenSQLLedger(db, "postgres")
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return led, func() { db.Close() }, nil
	}
}
