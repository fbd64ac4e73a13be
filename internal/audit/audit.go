// Package audit persists a history of connection and session events to a
// local sqlite database. It supplements the core with an observability
// trail; it is never consulted by the admission controller or the
// session manager, which keep their own in-memory state as the source of
// truth.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Log wraps a sqlite connection recording connection and session events.
type Log struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS connection_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_ip TEXT NOT NULL,
	event TEXT NOT NULL,
	detail TEXT,
	occurred_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL,
	event TEXT NOT NULL,
	detail TEXT,
	occurred_at TEXT NOT NULL
);
`

// Open creates or opens the audit database at path, applying the schema
// if it does not already exist.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

// RecordConnection appends a connection-lifecycle event (e.g. "admitted",
// "rejected", "closed").
func (l *Log) RecordConnection(remoteIP, event, detail string) error {
	_, err := l.db.Exec(
		`INSERT INTO connection_events (remote_ip, event, detail, occurred_at) VALUES (?, ?, ?, ?)`,
		remoteIP, event, detail, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecordSession appends a session-lifecycle event (e.g. "created", "exit",
// "cleaned_up").
func (l *Log) RecordSession(sessionID uint64, event, detail string) error {
	_, err := l.db.Exec(
		`INSERT INTO session_events (session_id, event, detail, occurred_at) VALUES (?, ?, ?, ?)`,
		sessionID, event, detail, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ConnectionEvent is a row read back from connection_events, for the
// dashboard's history view.
type ConnectionEvent struct {
	RemoteIP   string
	Event      string
	Detail     string
	OccurredAt string
}

// RecentConnections returns the most recent connection events, newest
// first, bounded by limit.
func (l *Log) RecentConnections(limit int) ([]ConnectionEvent, error) {
	rows, err := l.db.Query(
		`SELECT remote_ip, event, detail, occurred_at FROM connection_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var e ConnectionEvent
		var detail sql.NullString
		if err := rows.Scan(&e.RemoteIP, &e.Event, &detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}
