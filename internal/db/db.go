// Package db owns the relational store shared by the ingestion and analysis
// processes: station catalog, neighborhoods, raw nights, analysis state,
// fireball candidates and confirmed clusters.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Status is the analysis state of one (station, night) key. It only ever
// advances in the order ingested -> processing -> processed.
type Status string

const (
	StatusIngested   Status = "ingested"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
)

// ErrNoState reports a missing analysis row for an expected key.
var ErrNoState = errors.New("no analysis state for key")

// ErrBadTransition reports an attempted backward or skipped state transition.
var ErrBadTransition = errors.New("invalid analysis state transition")

// DB wraps the sqlite handle together with the process-local writer mutex.
// Multi-statement writes take the mutex so their transactions never
// interleave; reads go straight to the pool.
type DB struct {
	*sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the store at path, enables WAL, and
// applies any pending schema migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if _, err := sqlDB.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	db := &DB{DB: sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// Lock takes the writer mutex. Callers performing multi-statement write
// transactions outside the helpers in this package must hold it.
func (db *DB) Lock() { db.mu.Lock() }

// Unlock releases the writer mutex.
func (db *DB) Unlock() { db.mu.Unlock() }

// nightDate renders a night key date as the canonical column value.
func nightDate(date time.Time) string {
	return date.UTC().Format("2006-01-02")
}

// ParseNightDate parses a date column value back into a UTC midnight instant.
func ParseNightDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad night date column %q: %w", s, err)
	}
	return t, nil
}

// isoTime renders an instant as the canonical ISO-8601 column value.
func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseISOTime parses a column value written by isoTime.
func parseISOTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp column %q: %w", s, err)
	}
	return t.UTC(), nil
}

// scanErr normalises sql.ErrNoRows into the package sentinel for state reads.
func scanErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoState
	}
	return err
}
