// Package journal records watchdog runs and the actions they took in a
// SQLite database.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/Dicklesworthstone/keepalive/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	provider   TEXT NOT NULL,
	target     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS actions (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	at                TIMESTAMP NOT NULL,
	kind              TEXT NOT NULL,
	tier              TEXT NOT NULL DEFAULT '',
	reason            TEXT NOT NULL DEFAULT '',
	success           INTEGER NOT NULL DEFAULT 1,
	error             TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	retry_count       INTEGER NOT NULL DEFAULT 0,
	simulate_attempts INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_actions_run_at ON actions(run_id, at);
`

// Run is one watchdog process lifetime.
type Run struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Provider  string    `json:"provider"`
	Target    string    `json:"target"`
}

// Entry is one journaled event.
type Entry struct {
	ID               int64     `json:"id"`
	RunID            string    `json:"run_id"`
	At               time.Time `json:"at"`
	Kind             string    `json:"kind"`
	Tier             string    `json:"tier,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	Success          bool      `json:"success"`
	Error            string    `json:"error,omitempty"`
	State            string    `json:"state,omitempty"`
	RetryCount       int       `json:"retry_count"`
	SimulateAttempts int       `json:"simulate_attempts"`
}

// Journal is the SQLite-backed action log.
type Journal struct {
	db   *sql.DB
	mu   sync.Mutex
	path string

	Logger *slog.Logger
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		path = filepath.Join(home, ".local", "share", "keepalive", "journal.db")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Journal{db: db, path: path}, nil
}

// WithLogger sets the logger used for subscription errors.
func (j *Journal) WithLogger(l *slog.Logger) *Journal {
	j.Logger = l
	return j
}

func (j *Journal) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

// BeginRun records the start of a run.
func (j *Journal) BeginRun(r Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := j.db.Exec(`
		INSERT INTO runs (id, started_at, provider, target)
		VALUES (?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC(), r.Provider, r.Target,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// Record appends e and returns its id.
func (j *Journal) Record(e Entry) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.At.IsZero() {
		e.At = time.Now()
	}
	res, err := j.db.Exec(`
		INSERT INTO actions (run_id, at, kind, tier, reason, success, error, state, retry_count, simulate_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.At.UTC(), e.Kind, e.Tier, e.Reason, e.Success, e.Error, e.State, e.RetryCount, e.SimulateAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("record action: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first. An empty runID spans
// every run.
func (j *Journal) Recent(limit int, runID string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, run_id, at, kind, tier, reason, success, error, state, retry_count, simulate_attempts
		FROM actions`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RunID, &e.At, &e.Kind, &e.Tier, &e.Reason, &e.Success, &e.Error, &e.State, &e.RetryCount, &e.SimulateAttempts); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Runs returns up to limit runs, newest first.
func (j *Journal) Runs(limit int) ([]Run, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(`
		SELECT id, started_at, provider, target FROM runs
		ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.Provider, &r.Target); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// journaled lists the event types worth keeping.
var journaled = map[events.Type]bool{
	events.TypeStarted:      true,
	events.TypeStopped:      true,
	events.TypeReset:        true,
	events.TypeHalted:       true,
	events.TypeAction:       true,
	events.TypeActionFailed: true,
}

// EntryFromEvent converts a bus event. ok is false for events the journal
// does not keep.
func EntryFromEvent(ev events.Event) (Entry, bool) {
	if !journaled[ev.Type] || ev.RunID == "" {
		return Entry{}, false
	}
	return Entry{
		RunID:            ev.RunID,
		At:               ev.Timestamp,
		Kind:             string(ev.Type),
		Tier:             ev.Tier,
		Reason:           ev.Reason,
		Success:          ev.Type != events.TypeActionFailed,
		Error:            ev.Error,
		State:            ev.State,
		RetryCount:       ev.RetryCount,
		SimulateAttempts: ev.SimulateAttempts,
	}, true
}

// Subscribe journals bus events until the returned function is called.
func (j *Journal) Subscribe(bus *events.Bus) func() {
	return bus.Subscribe(func(ev events.Event) {
		e, ok := EntryFromEvent(ev)
		if !ok {
			return
		}
		if _, err := j.Record(e); err != nil {
			j.logger().Warn("[Journal] record_failed", "type", ev.Type, "error", err)
		}
	})
}
