// Package store is the sole durable source of truth for the episodic
// model: a single-file SQLite database holding episodes, steps,
// distillations (active and archived) and policies.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/XiaoConstantine/engram-go/pkg/errors"
	"github.com/XiaoConstantine/engram-go/pkg/logging"
	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the embedded database. Each call runs in its own short
// transaction; batch callers that need one transaction across many
// writes use Conn directly.
type Store struct {
	db   *sql.DB
	path string

	initialized sync.Once
}

// New opens (or creates) the database file at path. ":memory:" creates
// an in-memory database, useful for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to open database"),
			errors.Fields{"path": path},
		)
	}

	s := &Store{
		db:   db,
		path: path,
	}
	if err := s.ensureInitialized(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureInitialized() error {
	var initErr error
	s.initialized.Do(func() {
		// WAL plus a busy timeout: other processes may hold the file and
		// we want bounded waiting instead of immediate SQLITE_BUSY.
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
		}
		for _, pragma := range pragmas {
			if _, err := s.db.Exec(pragma); err != nil {
				logging.GetLogger().Warn(context.Background(), "failed to set pragma %s: %v", pragma, err)
			}
		}

		if _, err := s.db.Exec(schema); err != nil {
			initErr = errors.Wrap(err, errors.StorageFailed, "failed to initialize schema")
		}
	})
	return initErr
}

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
    episode_id       TEXT PRIMARY KEY,
    goal             TEXT NOT NULL DEFAULT '',
    success_criteria TEXT NOT NULL DEFAULT '',
    constraints      TEXT NOT NULL DEFAULT '[]',
    budget           TEXT NOT NULL DEFAULT '{}',
    phase            TEXT NOT NULL DEFAULT 'explore',
    outcome          TEXT NOT NULL DEFAULT 'in_progress',
    final_evaluation TEXT NOT NULL DEFAULT '',
    start_ts         INTEGER NOT NULL DEFAULT 0,
    end_ts           INTEGER NOT NULL DEFAULT 0,
    step_count       INTEGER NOT NULL DEFAULT 0,
    error_counts     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS steps (
    step_id            TEXT PRIMARY KEY,
    episode_id         TEXT NOT NULL,
    created_at         INTEGER NOT NULL DEFAULT 0,
    intent             TEXT NOT NULL DEFAULT '',
    decision           TEXT NOT NULL DEFAULT '',
    alternatives       TEXT NOT NULL DEFAULT '[]',
    assumptions        TEXT NOT NULL DEFAULT '[]',
    prediction         TEXT NOT NULL DEFAULT '',
    confidence_before  REAL NOT NULL DEFAULT 0,
    action_type        TEXT NOT NULL DEFAULT 'reasoning',
    action_details     TEXT NOT NULL DEFAULT '{}',
    result             TEXT NOT NULL DEFAULT '',
    evaluation         TEXT NOT NULL DEFAULT 'unknown',
    surprise_level     REAL NOT NULL DEFAULT 0,
    lesson             TEXT NOT NULL DEFAULT '',
    confidence_after   REAL NOT NULL DEFAULT 0,
    retrieved_memories TEXT NOT NULL DEFAULT '[]',
    memory_cited       INTEGER NOT NULL DEFAULT 0,
    memory_useful      INTEGER,
    validated          INTEGER NOT NULL DEFAULT 0,
    validation_method  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_steps_episode_id ON steps(episode_id);
CREATE INDEX IF NOT EXISTS idx_steps_created_at ON steps(created_at DESC);

CREATE TABLE IF NOT EXISTS distillations (
    distillation_id     TEXT PRIMARY KEY,
    type                TEXT NOT NULL DEFAULT 'heuristic',
    statement           TEXT NOT NULL DEFAULT '',
    domains             TEXT NOT NULL DEFAULT '[]',
    triggers            TEXT NOT NULL DEFAULT '[]',
    anti_triggers       TEXT NOT NULL DEFAULT '[]',
    source_steps        TEXT NOT NULL DEFAULT '[]',
    validation_count    INTEGER NOT NULL DEFAULT 0,
    contradiction_count INTEGER NOT NULL DEFAULT 0,
    confidence          REAL NOT NULL DEFAULT 0.5,
    times_retrieved     INTEGER NOT NULL DEFAULT 0,
    times_used          INTEGER NOT NULL DEFAULT 0,
    times_helped        INTEGER NOT NULL DEFAULT 0,
    created_at          INTEGER NOT NULL DEFAULT 0,
    revalidate_by       INTEGER NOT NULL DEFAULT 0,
    refined_statement   TEXT NOT NULL DEFAULT '',
    advisory_quality    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_distillations_type ON distillations(type);
CREATE INDEX IF NOT EXISTS idx_distillations_confidence ON distillations(confidence DESC);

CREATE TABLE IF NOT EXISTS distillations_archive (
    distillation_id     TEXT PRIMARY KEY,
    type                TEXT NOT NULL DEFAULT 'heuristic',
    statement           TEXT NOT NULL DEFAULT '',
    domains             TEXT NOT NULL DEFAULT '[]',
    triggers            TEXT NOT NULL DEFAULT '[]',
    anti_triggers       TEXT NOT NULL DEFAULT '[]',
    source_steps        TEXT NOT NULL DEFAULT '[]',
    validation_count    INTEGER NOT NULL DEFAULT 0,
    contradiction_count INTEGER NOT NULL DEFAULT 0,
    confidence          REAL NOT NULL DEFAULT 0.5,
    times_retrieved     INTEGER NOT NULL DEFAULT 0,
    times_used          INTEGER NOT NULL DEFAULT 0,
    times_helped        INTEGER NOT NULL DEFAULT 0,
    created_at          INTEGER NOT NULL DEFAULT 0,
    revalidate_by       INTEGER NOT NULL DEFAULT 0,
    refined_statement   TEXT NOT NULL DEFAULT '',
    advisory_quality    TEXT NOT NULL DEFAULT '',
    archive_reason      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS policies (
    policy_id TEXT PRIMARY KEY,
    statement TEXT NOT NULL DEFAULT '',
    scope     TEXT NOT NULL DEFAULT 'global',
    priority  INTEGER NOT NULL DEFAULT 0,
    source    TEXT NOT NULL DEFAULT 'inferred'
);

CREATE INDEX IF NOT EXISTS idx_policies_scope ON policies(scope);
CREATE INDEX IF NOT EXISTS idx_policies_priority ON policies(priority DESC);
`

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying handle for batch callers that manage their
// own connection and transaction (curriculum autofix).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to close database")
	}
	return nil
}

// encodeJSON marshals a JSON-shaped column value. Failures produce the
// empty container literal so a row can always be written.
func encodeJSON(v interface{}, emptyLiteral string) string {
	data, err := json.Marshal(v)
	if err != nil {
		return emptyLiteral
	}
	return string(data)
}

// decodeStringList parses a JSON list column, returning an empty list on
// any decode failure.
func decodeStringList(raw string) []string {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

// decodeIntMap parses a JSON object column of counters, returning an
// empty map on any decode failure.
func decodeIntMap(raw string) map[string]int {
	var out map[string]int
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]int{}
	}
	return out
}

func nanosOf(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timeOf(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// decodeAnyMap parses a JSON object column, returning an empty map on
// any decode failure.
func decodeAnyMap(raw string) map[string]interface{} {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]interface{}{}
	}
	return out
}
