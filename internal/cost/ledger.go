// Package cost provides the append-only token/cost ledger backed by sqlite.
package cost

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// Rates holds pricing in USD per 1M tokens for one model.
type Rates struct {
	Input      float64 `toml:"input"`
	Output     float64 `toml:"output"`
	CacheRead  float64 `toml:"cache_read"`
	CacheWrite float64 `toml:"cache_write"`
}

// Compute returns the USD cost of a usage record at these rates.
func (r Rates) Compute(u types.Usage) float64 {
	return float64(u.InputTokens)*r.Input/1_000_000 +
		float64(u.OutputTokens)*r.Output/1_000_000 +
		float64(u.CacheReadTokens)*r.CacheRead/1_000_000 +
		float64(u.CacheWriteTokens)*r.CacheWrite/1_000_000
}

// Record is one ledger row.
type Record struct {
	Timestamp   time.Time
	SessionID   string
	Model       string
	InputTokens int
	OutputTokens int
	CacheReadTokens  int
	CacheWriteTokens int
	CostUSD     float64
}

// Summary aggregates ledger rows.
type Summary struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// Ledger is the append-only cost store.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cost db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cost_records (
			id INTEGER PRIMARY KEY,
			ts INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cache_write_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cost_ts ON cost_records(ts);
		CREATE INDEX IF NOT EXISTS idx_cost_session ON cost_records(session_id);
		CREATE INDEX IF NOT EXISTS idx_cost_model ON cost_records(model);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cost schema: %w", err)
	}
	L_debug("cost: ledger opened", "path", path)
	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record appends one row and returns the computed USD cost.
func (l *Ledger) Record(sessionID, model string, usage types.Usage, rates Rates) (float64, error) {
	cost := rates.Compute(usage)
	_, err := l.db.Exec(`
		INSERT INTO cost_records (ts, session_id, model, input_tokens, output_tokens,
			cache_read_tokens, cache_write_tokens, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, time.Now().Unix(), sessionID, model,
		usage.InputTokens, usage.OutputTokens,
		usage.CacheReadTokens, usage.CacheWriteTokens, cost)
	if err != nil {
		return 0, fmt.Errorf("insert cost record: %w", err)
	}
	L_trace("cost: recorded", "session", sessionID, "model", model, "usd", cost)
	return cost, nil
}

// SessionTotal returns the cumulative USD cost for a session.
func (l *Ledger) SessionTotal(sessionID string) (float64, error) {
	var total sql.NullFloat64
	err := l.db.QueryRow(
		`SELECT SUM(cost_usd) FROM cost_records WHERE session_id = ?`, sessionID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("session total: %w", err)
	}
	return total.Float64, nil
}

// Aggregate returns a summary of rows in [since, until). Zero times mean
// unbounded; a missing or empty ledger yields a zero summary.
func (l *Ledger) Aggregate(since, until time.Time) (Summary, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0),
		COALESCE(SUM(cost_usd),0) FROM cost_records WHERE 1=1`
	var args []any
	if !since.IsZero() {
		query += " AND ts >= ?"
		args = append(args, since.Unix())
	}
	if !until.IsZero() {
		query += " AND ts < ?"
		args = append(args, until.Unix())
	}

	var s Summary
	if err := l.db.QueryRow(query, args...).Scan(
		&s.Requests, &s.InputTokens, &s.OutputTokens, &s.CostUSD); err != nil {
		return Summary{}, fmt.Errorf("aggregate cost: %w", err)
	}
	return s, nil
}

// ByModel returns per-model summaries within [since, until).
func (l *Ledger) ByModel(since, until time.Time) (map[string]Summary, error) {
	query := `SELECT model, COUNT(*), COALESCE(SUM(input_tokens),0),
		COALESCE(SUM(output_tokens),0), COALESCE(SUM(cost_usd),0)
		FROM cost_records WHERE 1=1`
	var args []any
	if !since.IsZero() {
		query += " AND ts >= ?"
		args = append(args, since.Unix())
	}
	if !until.IsZero() {
		query += " AND ts < ?"
		args = append(args, until.Unix())
	}
	query += " GROUP BY model"

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate by model: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Summary)
	for rows.Next() {
		var model string
		var s Summary
		if err := rows.Scan(&model, &s.Requests, &s.InputTokens, &s.OutputTokens, &s.CostUSD); err != nil {
			continue
		}
		out[model] = s
	}
	return out, rows.Err()
}

// Today returns the summary for the current calendar day (local time).
func (l *Ledger) Today() (Summary, error) {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return l.Aggregate(start, time.Time{})
}
