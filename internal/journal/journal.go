// Package journal records emitted scenario events in a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/IdanVahab/Temi-Server/internal/logger"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

var log = logger.Module("Journal")

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    scenario TEXT NOT NULL,
    timestamp REAL NOT NULL,
    incident_id TEXT  -- NULL for ordinary scenarios
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);
`

// DefaultLimit caps Recent when the caller passes no limit.
const DefaultLimit = 100

// Store is an append-only event journal.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the journal at path. ":memory:" keeps it
// in memory for the lifetime of the Store.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// Single writer; also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	log.Info("Journal opened at %s", path)
	return &Store{db: db, path: path}, nil
}

// Append records one emitted event.
func (s *Store) Append(ctx context.Context, msg types.ScenarioMessage) error {
	var incident sql.NullString
	if msg.IncidentID != nil {
		incident = sql.NullString{String: *msg.IncidentID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, scenario, timestamp, incident_id) VALUES (?, ?, ?, ?)`,
		msg.SessionID, msg.Scenario, msg.Timestamp, incident)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty sessionID
// matches every session.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]types.ScenarioMessage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		where []string
		args  []any
	)
	if sessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, sessionID)
	}
	query := `SELECT session_id, scenario, timestamp, incident_id FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []types.ScenarioMessage
	for rows.Next() {
		var (
			msg      types.ScenarioMessage
			incident sql.NullString
		)
		if err := rows.Scan(&msg.SessionID, &msg.Scenario, &msg.Timestamp, &incident); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if incident.Valid {
			id := incident.String
			msg.IncidentID = &id
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

// Count returns the number of journaled events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
