// Package journal records every publish attempt the gateway makes in a
// local SQLite database so operators can audit what was sent to the fleet.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clawinfra/pilink/internal/gateway"
	"github.com/clawinfra/pilink/internal/types"
)

// DefaultLimit caps Recent when no limit is given.
const DefaultLimit = 50

// Entry is one journaled publish.
type Entry struct {
	ID        int64     `json:"id"`
	MessageID string    `json:"message_id,omitempty"`
	Topic     string    `json:"topic"`
	Key       string    `json:"key"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Journal is a gateway.Recorder backed by SQLite.
type Journal struct {
	db *sql.DB
}

var _ gateway.Recorder = (*Journal)(nil)

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	// one writer keeps sqlite from returning SQLITE_BUSY under load
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: wal mode: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS publishes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL DEFAULT '',
			topic      TEXT NOT NULL,
			key        TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			error      TEXT NOT NULL DEFAULT '',
			at         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_publishes_at ON publishes(at)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record appends one publish outcome.
func (j *Journal) Record(ctx context.Context, rec gateway.Record) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO publishes (message_id, topic, key, status, error, at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.MessageID, string(rec.Topic), rec.Key, rec.Status, rec.Error, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty topic matches
// both topics.
func (j *Journal) Recent(ctx context.Context, topic types.Topic, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, message_id, topic, key, status, error, at FROM publishes`
	args := []any{}
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, string(topic))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e  Entry
			at int64
		)
		if err := rows.Scan(&e.ID, &e.MessageID, &e.Topic, &e.Key, &e.Status, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.At = time.Unix(0, at).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts returns the number of entries per status.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM publishes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("journal: count: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
