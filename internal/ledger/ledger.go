// Package ledger keeps a history of worker submissions in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome values stored with each entry.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeLost     = "lost"
)

// Entry is one submission attempt as seen by the coordinator.
type Entry struct {
	ID          int64
	Timestamp   time.Time
	WorkerID    string
	Source      string
	Remote      string
	Outcome     string
	Reason      string
	Unavailable []string // analyzer IDs whose aggregate became unavailable
	Duration    time.Duration
}

// Ledger wraps the SQLite connection.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Sessions record concurrently; one connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		worker_id TEXT NOT NULL,
		source TEXT NOT NULL,
		remote TEXT,
		outcome TEXT NOT NULL,
		reason TEXT,
		unavailable TEXT,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_source ON submissions(source);
	CREATE INDEX IF NOT EXISTS idx_submissions_outcome ON submissions(outcome);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores e. A zero timestamp is replaced by the current time.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	unavailable, err := json.Marshal(e.Unavailable)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO submissions (timestamp, worker_id, source, remote, outcome, reason, unavailable, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp.UTC().Format(time.RFC3339Nano), e.WorkerID, e.Source, e.Remote,
		e.Outcome, e.Reason, string(unavailable), e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, worker_id, source, remote, outcome, reason, unavailable, duration_ms
		FROM submissions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		var remote, reason, unavailable sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&e.ID, &ts, &e.WorkerID, &e.Source, &remote, &e.Outcome, &reason, &unavailable, &durationMs); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Remote = remote.String
		e.Reason = reason.String
		if unavailable.Valid {
			_ = json.Unmarshal([]byte(unavailable.String), &e.Unavailable)
		}
		e.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// OutcomeCounts returns the number of entries per outcome.
func (l *Ledger) OutcomeCounts(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM submissions GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
