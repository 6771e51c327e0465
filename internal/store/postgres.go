// Package store provides storage backends for TalkingPrompt.
//
// This file implements a PostgreSQL-backed session store, used when several
// API replicas share active sessions.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// pqUniqueViolation is the SQLSTATE for unique_violation.
const pqUniqueViolation = "23505"

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, pronoun, base_phrase, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, string(sess.Pronoun), sess.BasePhrase, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return fmt.Errorf("%w: %s", models.ErrSessionExists, sess.ID)
		}
		slog.Error("PostgresStore CreateSession failed", "error", err, "session_id", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "session_id", sess.ID)
	return nil
}

func (s *PostgresStore) GetSession(id string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT id, pronoun, base_phrase, created_at, updated_at FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "session_id", id)
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return sess, nil
}

func (s *PostgresStore) UpdateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	res, err := s.db.Exec(
		`UPDATE sessions SET pronoun = $1, base_phrase = $2, updated_at = $3 WHERE id = $4`,
		string(sess.Pronoun), sess.BasePhrase, sess.UpdatedAt.UTC(), sess.ID,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateSession failed", "error", err, "session_id", sess.ID)
		return fmt.Errorf("failed to update session %s: %w", sess.ID, err)
	}
	return requireAffected(res, sess.ID)
}

// DeleteSession relies on ON DELETE CASCADE to remove history rows.
func (s *PostgresStore) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "session_id", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}
	slog.Debug("PostgresStore DeleteSession succeeded", "session_id", id)
	return nil
}

func (s *PostgresStore) AddHistory(e models.HistoryEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin history insert: %w", err)
	}
	defer tx.Rollback()

	// Lock the session row so concurrent inserts trim against a stable view.
	var exists int
	err = tx.QueryRow(`SELECT 1 FROM sessions WHERE id = $1 FOR UPDATE`, e.SessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, e.SessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to check session %s: %w", e.SessionID, err)
	}

	if _, err := tx.Exec(
		`INSERT INTO history (session_id, text, spoken_at) VALUES ($1, $2, $3)`,
		e.SessionID, e.Text, e.Time.UTC(),
	); err != nil {
		slog.Error("PostgresStore AddHistory failed", "error", err, "session_id", e.SessionID)
		return fmt.Errorf("failed to insert history for session %s: %w", e.SessionID, err)
	}
	if _, err := tx.Exec(
		`DELETE FROM history WHERE session_id = $1 AND id NOT IN (
			SELECT id FROM history WHERE session_id = $1 ORDER BY id DESC LIMIT $2)`,
		e.SessionID, models.MaxHistoryEntries,
	); err != nil {
		slog.Error("PostgresStore AddHistory trim failed", "error", err, "session_id", e.SessionID)
		return fmt.Errorf("failed to trim history for session %s: %w", e.SessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history for session %s: %w", e.SessionID, err)
	}
	slog.Debug("PostgresStore AddHistory succeeded", "session_id", e.SessionID)
	return nil
}

func (s *PostgresStore) GetHistory(sessionID string, limit int) ([]models.HistoryEntry, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT session_id, text, spoken_at FROM history WHERE session_id = $1 ORDER BY id DESC LIMIT $2`,
		sessionID, historyLimit(limit),
	)
	if err != nil {
		slog.Error("PostgresStore GetHistory query failed", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to query history for session %s: %w", sessionID, err)
	}
	entries, err := scanHistory(rows)
	if err != nil {
		slog.Error("PostgresStore GetHistory scan failed", "error", err, "session_id", sessionID)
		return nil, err
	}
	slog.Debug("PostgresStore GetHistory succeeded", "session_id", sessionID, "count", len(entries))
	return entries, nil
}

func (s *PostgresStore) ExpireSessions(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(`DELETE FROM sessions WHERE updated_at < $1 RETURNING id`, cutoff.UTC())
	if err != nil {
		slog.Error("PostgresStore ExpireSessions failed", "error", err)
		return nil, fmt.Errorf("failed to expire idle sessions: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		slog.Debug("PostgresStore ExpireSessions removed sessions", "count", len(ids))
	}
	return ids, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
