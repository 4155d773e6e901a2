package recorder

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tsinghua-fib-lab/traffic-console/telemetry"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS snapshot_metrics (
	step   INTEGER NOT NULL,
	metric TEXT    NOT NULL,
	value  TEXT    NOT NULL,
	PRIMARY KEY (step, metric)
)`

// SQLite 将快照写入snapshot_metrics表，每个指标一行
// 说明：重置后步数从头计数，同一(step, metric)以最新写入为准
type SQLite struct {
	db *sql.DB
}

// NewSQLite 打开数据库并建表
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite %s: %w", path, err)
		}
	}
	log.Infof("record snapshots to sqlite %s", path)
	return &SQLite{db: db}, nil
}

// DB 底层连接
func (r *SQLite) DB() *sql.DB {
	return r.db
}

func (r *SQLite) Record(ctx context.Context, s telemetry.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO snapshot_metrics (step, metric, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, row := range s.Rows() {
		if _, err := stmt.ExecContext(ctx, s.TotalSteps, row.Metric, row.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLite) Close(ctx context.Context) error {
	return r.db.Close()
}
