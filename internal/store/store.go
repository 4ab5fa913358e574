// 包 store：运行结果的关系库落地，兼容 PostgreSQL 与 SQLite
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"site-chain/internal/chain"
	"site-chain/internal/collection"
	"site-chain/internal/logger"
	"site-chain/internal/migrate"
	"site-chain/internal/snapshot"
	"site-chain/internal/utils"

	"github.com/google/uuid"
)

// ErrNoRun：库中不存在任何运行记录
var ErrNoRun = errors.New("store: no run recorded")

const (
	StatusComplete = "complete"
	StatusWIP      = "wip"
)

// Store：数据库访问入口，持有连接池与方言
type Store struct {
	db     *sql.DB
	driver string
}

func AttachDB(db *sql.DB, driver string) *Store { return &Store{db: db, driver: driver} }

// Open：按驱动打开并确保表结构存在
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := utils.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Run：一次抽取的参数摘要
type Run struct {
	ID              string
	Region          string
	Start           time.Time
	End             time.Time
	Restrict        bool
	TagConfidence   float64
	ChainConfidence float64
	CreatedAt       time.Time
}

func NewRunID() string { return uuid.NewString() }

// ph：第 i 个占位符（从 1 开始）
func (s *Store) ph(i int) string {
	if s.driver == "postgres" {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

func (s *Store) phs(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.ph(i + 1)
	}
	return strings.Join(parts, ",")
}

// 文档注释：写入一次运行及其全部链
// 背景：单事务内预编译插入语句逐行写入，每 1000 行记录一次进度；任一行失败整体回滚
func (s *Store) SaveRun(ctx context.Context, run Run, complete, wip []chain.Chain) error {
	if run.ID == "" {
		return errors.New("store: empty run id")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	log := logger.Component("store")
	log.Info("store_save_start", "run_id", run.ID, "complete", len(complete), "wip", len(wip))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO _site_runs(run_id,region,start_date,end_date,restrict_window,tag_confidence,chain_confidence,created_at) VALUES("+s.phs(8)+")",
		run.ID, run.Region, snapshot.DayKey(run.Start), snapshot.DayKey(run.End), run.Restrict,
		run.TagConfidence, run.ChainConfidence, run.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO _site_chains(run_id,chain_id,status,start_date,end_date,construction_type,prev_tag,final_tag,members,geometry) VALUES("+s.phs(10)+")")
	if err != nil {
		return err
	}
	defer stmt.Close()

	n := 0
	write := func(status string, cs []chain.Chain) error {
		for _, c := range cs {
			var end, final any
			if c.End != nil {
				end = snapshot.DayKey(*c.End)
				final = c.FinalTag
			}
			if _, err := stmt.ExecContext(ctx, run.ID, c.ID, status, snapshot.DayKey(c.Start), end,
				c.Type, c.PreviousTag, final, joinMembers(c.Members), c.BBox.WKT()); err != nil {
				return fmt.Errorf("insert chain %s: %w", c.ID, err)
			}
			n++
			if n%1000 == 0 {
				log.Info("store_save_progress", "rows", n)
			}
		}
		return nil
	}
	if err := write(StatusComplete, complete); err != nil {
		return err
	}
	if err := write(StatusWIP, wip); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Info("store_save_done", "run_id", run.ID, "rows", n)
	return nil
}

// LatestRun：最近写入的运行 id
func (s *Store) LatestRun(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT run_id FROM _site_runs ORDER BY created_at DESC LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRun
	}
	return id, err
}

// ListChains：按输出表顺序读取某次运行指定状态的链
func (s *Store) ListChains(ctx context.Context, runID, status string) ([]collection.Row, error) {
	logger.L().Debug("store_list_chains", "run_id", runID, "status", status)
	rows, err := s.db.QueryContext(ctx,
		"SELECT chain_id,start_date,end_date,construction_type,prev_tag,final_tag,geometry FROM _site_chains WHERE run_id="+s.ph(1)+" AND status="+s.ph(2)+" ORDER BY start_date, end_date, chain_id",
		runID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []collection.Row
	for rows.Next() {
		var r collection.Row
		var end, final sql.NullString
		if err := rows.Scan(&r.ChainID, &r.Start, &end, &r.ConstructionType, &r.PrevTag, &final, &r.Geometry); err != nil {
			return nil, err
		}
		r.End = end.String
		r.FinalTag = final.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func joinMembers(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
