// Package sqlite persists candles, alert rules, and trigger history.
//
// One Store handle serves both engines: the signal engine writes candle rows
// and enrichment, the gateway writes rules and history. WAL mode plus a busy
// timeout keeps cross-process access safe; each handle holds a single
// connection so statements within a process serialize naturally.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("sqlite: not found")

// Config configures the store.
type Config struct {
	Path string // path to SQLite database file, e.g. "data/market.db"
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB

	// Optional metrics hook, set before concurrent use.
	onCommitDur func(d time.Duration)
}

// Open opens the database, enables WAL mode, and ensures the schema exists.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.Path)
	return &Store{db: db}, nil
}

// DB returns the underlying sql.DB for health checks and ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

// SetCommitHook installs an observer for batch commit latency.
func (s *Store) SetCommitHook(fn func(d time.Duration)) { s.onCommitDur = fn }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			timeframe  TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			indicators TEXT,
			signals    TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, timeframe, ts)
		);

		CREATE INDEX IF NOT EXISTS idx_candles_tf_ts ON candles (timeframe, ts);

		CREATE TABLE IF NOT EXISTS alert_rules (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			symbol             TEXT NOT NULL,
			timeframes         TEXT NOT NULL,
			trigger_type       TEXT NOT NULL,
			trigger_conditions TEXT NOT NULL,
			frequency          TEXT NOT NULL,
			webhook_url        TEXT NOT NULL DEFAULT '',
			message_type       TEXT NOT NULL,
			custom_message     TEXT NOT NULL DEFAULT '',
			is_active          INTEGER NOT NULL,
			created_at         INTEGER NOT NULL,
			updated_at         INTEGER NOT NULL,
			last_triggered_at  INTEGER,
			trigger_count      INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS alert_history (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id       TEXT NOT NULL,
			rule_id          TEXT NOT NULL,
			rule_name        TEXT NOT NULL,
			symbol           TEXT NOT NULL,
			timeframe        TEXT NOT NULL,
			trigger_time     INTEGER NOT NULL,
			trigger_data     TEXT,
			message_sent     INTEGER NOT NULL,
			webhook_response TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_history_time ON alert_history (trigger_time DESC);
		CREATE INDEX IF NOT EXISTS idx_history_rule ON alert_history (rule_id, trigger_time DESC);
	`)
	return err
}
