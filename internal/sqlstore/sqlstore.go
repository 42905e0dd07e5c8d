// Package sqlstore is a SQLite durable store for the hub, an alternative to
// the Redis store in pkg/comms. It uses the pure-Go modernc.org/sqlite driver.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dyluth/warren/pkg/comms"
)

// Store persists agents and communications in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at path. The schema is created if it
// doesn't exist and parent directories are created if needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sqlstore")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; the hub's persister is the only writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			description    TEXT NOT NULL,
			capabilities   TEXT NOT NULL,
			status         TEXT NOT NULL,
			last_heartbeat TEXT NOT NULL,
			registered_at  TEXT NOT NULL,
			activity       TEXT,

			CHECK (status IN ('online', 'warning', 'offline'))
		);

		CREATE TABLE IF NOT EXISTS communications (
			seq        INTEGER PRIMARY KEY,
			id         TEXT NOT NULL UNIQUE,
			from_agent TEXT NOT NULL,
			to_agent   TEXT NOT NULL,
			body       TEXT NOT NULL,
			kind        TEXT NOT NULL,
			timestamp   TEXT NOT NULL,
			in_reply_to TEXT NOT NULL DEFAULT '',

			CHECK (kind IN ('direct', 'broadcast'))
		);

		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveAgent inserts or replaces an agent record.
func (s *Store) SaveAgent(ctx context.Context, a *comms.Agent) error {
	capabilities := a.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	capabilitiesJSON, err := json.Marshal(capabilities)
	if err != nil {
		return fmt.Errorf("marshaling capabilities: %w", err)
	}

	var activity any
	if a.Activity != nil {
		b, err := json.Marshal(a.Activity)
		if err != nil {
			return fmt.Errorf("marshaling activity: %w", err)
		}
		activity = string(b)
	}

	query := `
		INSERT INTO agents (id, name, description, capabilities, status, last_heartbeat, registered_at, activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			capabilities = excluded.capabilities,
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat,
			registered_at = excluded.registered_at,
			activity = excluded.activity
	`
	_, err = s.db.ExecContext(ctx, query,
		a.ID,
		a.Name,
		a.Description,
		string(capabilitiesJSON),
		string(a.Status),
		formatTime(a.LastHeartbeat),
		formatTime(a.RegisteredAt),
		activity,
	)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// LoadAgents returns every stored agent, ordered by id.
func (s *Store) LoadAgents(ctx context.Context) ([]*comms.Agent, error) {
	query := `
		SELECT id, name, description, capabilities, status, last_heartbeat, registered_at, activity
		FROM agents
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	agents := []*comms.Agent{}
	for rows.Next() {
		var a comms.Agent
		var capabilitiesJSON, status, lastHeartbeat, registeredAt string
		var activity sql.NullString

		if err := rows.Scan(
			&a.ID,
			&a.Name,
			&a.Description,
			&capabilitiesJSON,
			&status,
			&lastHeartbeat,
			&registeredAt,
			&activity,
		); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}

		if err := json.Unmarshal([]byte(capabilitiesJSON), &a.Capabilities); err != nil {
			return nil, fmt.Errorf("parsing capabilities of %s: %w", a.ID, err)
		}
		a.Status = comms.Status(status)
		if a.LastHeartbeat, err = parseTime(lastHeartbeat); err != nil {
			return nil, fmt.Errorf("parsing last_heartbeat of %s: %w", a.ID, err)
		}
		if a.RegisteredAt, err = parseTime(registeredAt); err != nil {
			return nil, fmt.Errorf("parsing registered_at of %s: %w", a.ID, err)
		}
		if activity.Valid {
			a.Activity = &comms.Activity{}
			if err := json.Unmarshal([]byte(activity.String), a.Activity); err != nil {
				return nil, fmt.Errorf("parsing activity of %s: %w", a.ID, err)
			}
		}

		agents = append(agents, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// SaveMessage appends a communication. Writing the same message twice is safe.
func (s *Store) SaveMessage(ctx context.Context, m *comms.Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	query := `
		INSERT OR IGNORE INTO communications (seq, id, from_agent, to_agent, body, kind, timestamp, in_reply_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		int64(m.Seq),
		m.ID,
		m.FromAgent,
		m.ToAgent,
		m.Body,
		string(m.Kind),
		formatTime(m.Timestamp),
		m.InReplyTo,
	)
	if err != nil {
		return fmt.Errorf("inserting communication: %w", err)
	}

	s.logger.Debug("saved communication", "id", m.ID, "seq", m.Seq)
	return nil
}

// TrimMessages deletes all but the newest keep communications.
func (s *Store) TrimMessages(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	query := `
		DELETE FROM communications
		WHERE seq NOT IN (SELECT seq FROM communications ORDER BY seq DESC LIMIT ?)
	`
	res, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return fmt.Errorf("trimming communications: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("trimmed communications", "deleted", n, "kept", keep)
	}
	return nil
}

// LoadMessages returns up to limit of the newest communications in ascending sequence order.
func (s *Store) LoadMessages(ctx context.Context, limit int) ([]*comms.Message, error) {
	if limit <= 0 {
		return []*comms.Message{}, nil
	}

	// Newest N, returned oldest first.
	query := `
		SELECT seq, id, from_agent, to_agent, body, kind, timestamp, in_reply_to
		FROM (
			SELECT seq, id, from_agent, to_agent, body, kind, timestamp, in_reply_to
			FROM communications
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying communications: %w", err)
	}
	defer rows.Close()

	messages := make([]*comms.Message, 0, limit)
	for rows.Next() {
		var m comms.Message
		var seq int64
		var kind, timestamp string

		if err := rows.Scan(&seq, &m.ID, &m.FromAgent, &m.ToAgent, &m.Body, &kind, &timestamp, &m.InReplyTo); err != nil {
			return nil, fmt.Errorf("scanning communication row: %w", err)
		}
		m.Seq = uint64(seq)
		m.Kind = comms.Kind(kind)
		if m.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, fmt.Errorf("parsing timestamp of %s: %w", m.ID, err)
		}
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating communication rows: %w", err)
	}
	return messages, nil
}

// ClearMessages removes every stored communication.
func (s *Store) ClearMessages(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM communications"); err != nil {
		return fmt.Errorf("clearing communications: %w", err)
	}
	return nil
}

// SaveHead records the last sequence number issued. The stored head never
// moves backwards.
func (s *Store) SaveHead(ctx context.Context, seq uint64) error {
	query := `
		INSERT INTO meta (key, value) VALUES ('head', ?)
		ON CONFLICT(key) DO UPDATE SET value = max(value, excluded.value)
	`
	if _, err := s.db.ExecContext(ctx, query, int64(seq)); err != nil {
		return fmt.Errorf("saving sequence head: %w", err)
	}
	return nil
}

// LoadHead returns the last sequence number recorded, or 0 if none was.
func (s *Store) LoadHead(ctx context.Context) (uint64, error) {
	var head int64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'head'").Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading sequence head: %w", err)
	}
	return uint64(head), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
