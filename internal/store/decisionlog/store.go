// Package decisionlog 独立的 SQLite 决策日志库：只追加，供历史回放与排查使用。
// 与状态库分开，避免高频日志写放大状态库的锁竞争。
package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fleet/internal/fleet"

	_ "github.com/glebarez/go-sqlite"
)

type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("decision log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decision_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			base_prompt TEXT,
			raw_output TEXT,
			decisions_json TEXT,
			notes_json TEXT,
			success INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_bot_ts ON decision_logs(bot_id, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append 追加一条决策日志。entry.ID 回填自增主键。
func (s *Store) Append(ctx context.Context, entry *fleet.DecisionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("decision log store 已关闭")
	}
	notes, err := json.Marshal(entry.Notes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_logs (bot_id, ts, base_prompt, raw_output, decisions_json, notes_json, success, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.BotID, entry.Timestamp.UnixMilli(), entry.BasePrompt, entry.RawOutput,
		entry.Decisions, string(notes), boolToInt(entry.Success), time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// DecisionsSince 某机器人在 since 之后的日志，按时间升序（history.EntrySource 实现）。
func (s *Store) DecisionsSince(ctx context.Context, botID string, since time.Time) ([]fleet.DecisionLogEntry, error) {
	return s.query(ctx,
		`SELECT id, bot_id, ts, base_prompt, raw_output, decisions_json, notes_json, success
		 FROM decision_logs WHERE bot_id = ? AND ts > ? ORDER BY ts ASC`,
		botID, since.UnixMilli())
}

// Recent 某机器人最近 limit 条日志（新在前）。
func (s *Store) Recent(ctx context.Context, botID string, limit int) ([]fleet.DecisionLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx,
		`SELECT id, bot_id, ts, base_prompt, raw_output, decisions_json, notes_json, success
		 FROM decision_logs WHERE bot_id = ? ORDER BY ts DESC LIMIT ?`,
		botID, limit)
}

func (s *Store) query(ctx context.Context, stmt string, args ...any) ([]fleet.DecisionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("decision log store 已关闭")
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fleet.DecisionLogEntry
	for rows.Next() {
		var (
			e         fleet.DecisionLogEntry
			ts        int64
			notesJSON string
			success   int
		)
		if err := rows.Scan(&e.ID, &e.BotID, &ts, &e.BasePrompt, &e.RawOutput, &e.Decisions, &notesJSON, &success); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Success = success != 0
		if notesJSON != "" {
			_ = json.Unmarshal([]byte(notesJSON), &e.Notes)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
