package migrate

import (
	"context"
	"database/sql"

	"site-chain/internal/logger"
)

// 背景：首次写入时自动创建运行表与链表；语句同时兼容 PostgreSQL 与 SQLite
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；日期以 YYYY-MM-DD 文本存储，按字典序即按时间序
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _site_runs (
            run_id TEXT PRIMARY KEY,
            region TEXT NOT NULL,
            start_date TEXT NOT NULL,
            end_date TEXT NOT NULL,
            restrict_window BOOLEAN NOT NULL,
            tag_confidence DOUBLE PRECISION NOT NULL,
            chain_confidence DOUBLE PRECISION NOT NULL,
            created_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS _site_chains (
            run_id TEXT NOT NULL REFERENCES _site_runs(run_id),
            chain_id TEXT NOT NULL,
            status TEXT NOT NULL,
            start_date TEXT NOT NULL,
            end_date TEXT,
            construction_type TEXT NOT NULL,
            prev_tag TEXT NOT NULL,
            final_tag TEXT,
            members TEXT NOT NULL,
            geometry TEXT NOT NULL,
            PRIMARY KEY (run_id, chain_id)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_site_chains_order ON _site_chains(run_id, status, start_date, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_site_runs_created ON _site_runs(created_at)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
