package autonomy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteStore persists autonomy state in a local sqlite file so approve
// lists and budget counters survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS approved_tools (
	tool        TEXT PRIMARY KEY,
	approved_by TEXT NOT NULL DEFAULT '',
	approved_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS denied_tools (
	tool      TEXT PRIMARY KEY,
	denied_by TEXT NOT NULL DEFAULT '',
	denied_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS action_ledger (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_ledger_at ON action_ledger(at);
CREATE TABLE IF NOT EXISTS cost_ledger (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	at    INTEGER NOT NULL,
	cents INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cost_ledger_at ON cost_ledger(at);
`

// OpenSQLiteStore opens (creating if needed) the autonomy state database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open autonomy store: %w", err)
	}
	// Serialized access keeps the single-writer discipline simple.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate autonomy store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) IsApproved(ctx context.Context, tool string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM approved_tools WHERE tool = ?`, tool).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) Approve(ctx context.Context, tool, approvedBy string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approved_tools (tool, approved_by, approved_at) VALUES (?, ?, ?)
		 ON CONFLICT(tool) DO UPDATE SET approved_by = excluded.approved_by, approved_at = excluded.approved_at`,
		tool, approvedBy, time.Now().Unix())
	return err
}

func (s *SQLiteStore) Revoke(ctx context.Context, tool string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM approved_tools WHERE tool = ?`, tool)
	return err
}

func (s *SQLiteStore) ListApproved(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tool FROM approved_tools ORDER BY tool`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []string
	for rows.Next() {
		var tool string
		if err := rows.Scan(&tool); err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

func (s *SQLiteStore) IsDenied(ctx context.Context, tool string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM denied_tools WHERE tool = ?`, tool).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) DenyTool(ctx context.Context, tool, deniedBy string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO denied_tools (tool, denied_by, denied_at) VALUES (?, ?, ?)
		 ON CONFLICT(tool) DO UPDATE SET denied_by = excluded.denied_by, denied_at = excluded.denied_at`,
		tool, deniedBy, time.Now().Unix())
	return err
}

func (s *SQLiteStore) AllowTool(ctx context.Context, tool string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM denied_tools WHERE tool = ?`, tool)
	return err
}

func (s *SQLiteStore) ListDenied(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tool FROM denied_tools ORDER BY tool`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []string
	for rows.Next() {
		var tool string
		if err := rows.Scan(&tool); err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

func (s *SQLiteStore) RecordAction(ctx context.Context, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO action_ledger (at) VALUES (?)`, at.Unix()); err != nil {
		return err
	}
	// Opportunistic ledger pruning; 48h covers every budget window.
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM action_ledger WHERE at < ?`, at.Add(-48*time.Hour).Unix())
	return err
}

func (s *SQLiteStore) ActionsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM action_ledger WHERE at >= ?`, since.Unix()).Scan(&count)
	return count, err
}

func (s *SQLiteStore) RecordCost(ctx context.Context, at time.Time, cents int64) error {
	if cents <= 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_ledger (at, cents) VALUES (?, ?)`, at.Unix(), cents); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cost_ledger WHERE at < ?`, at.Add(-48*time.Hour).Unix())
	return err
}

func (s *SQLiteStore) CostSince(ctx context.Context, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(cents) FROM cost_ledger WHERE at >= ?`, since.Unix()).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
