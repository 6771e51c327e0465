// Package store provides storage backends for TalkingPrompt.
//
// This file implements an SQLite-backed session store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
	"github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection keeps writes serialized and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, pronoun, base_phrase, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, string(sess.Pronoun), sess.BasePhrase, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %s", models.ErrSessionExists, sess.ID)
		}
		slog.Error("SQLiteStore CreateSession failed", "error", err, "session_id", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "session_id", sess.ID)
	return nil
}

func (s *SQLiteStore) GetSession(id string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT id, pronoun, base_phrase, created_at, updated_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "session_id", id)
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) UpdateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	res, err := s.db.Exec(
		`UPDATE sessions SET pronoun = ?, base_phrase = ?, updated_at = ? WHERE id = ?`,
		string(sess.Pronoun), sess.BasePhrase, sess.UpdatedAt.UTC(), sess.ID,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateSession failed", "error", err, "session_id", sess.ID)
		return fmt.Errorf("failed to update session %s: %w", sess.ID, err)
	}
	return requireAffected(res, sess.ID)
}

func (s *SQLiteStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete for session %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM history WHERE session_id = ?`, id); err != nil {
		slog.Error("SQLiteStore DeleteSession history delete failed", "error", err, "session_id", id)
		return fmt.Errorf("failed to delete history for session %s: %w", id, err)
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "session_id", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete for session %s: %w", id, err)
	}
	slog.Debug("SQLiteStore DeleteSession succeeded", "session_id", id)
	return nil
}

func (s *SQLiteStore) AddHistory(e models.HistoryEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin history insert: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, e.SessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, e.SessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to check session %s: %w", e.SessionID, err)
	}

	if _, err := tx.Exec(
		`INSERT INTO history (session_id, text, spoken_at) VALUES (?, ?, ?)`,
		e.SessionID, e.Text, e.Time.UTC(),
	); err != nil {
		slog.Error("SQLiteStore AddHistory failed", "error", err, "session_id", e.SessionID)
		return fmt.Errorf("failed to insert history for session %s: %w", e.SessionID, err)
	}
	if _, err := tx.Exec(
		`DELETE FROM history WHERE session_id = ? AND id NOT IN (
			SELECT id FROM history WHERE session_id = ? ORDER BY id DESC LIMIT ?)`,
		e.SessionID, e.SessionID, models.MaxHistoryEntries,
	); err != nil {
		slog.Error("SQLiteStore AddHistory trim failed", "error", err, "session_id", e.SessionID)
		return fmt.Errorf("failed to trim history for session %s: %w", e.SessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history for session %s: %w", e.SessionID, err)
	}
	slog.Debug("SQLiteStore AddHistory succeeded", "session_id", e.SessionID)
	return nil
}

func (s *SQLiteStore) GetHistory(sessionID string, limit int) ([]models.HistoryEntry, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT session_id, text, spoken_at FROM history WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, historyLimit(limit),
	)
	if err != nil {
		slog.Error("SQLiteStore GetHistory query failed", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to query history for session %s: %w", sessionID, err)
	}
	entries, err := scanHistory(rows)
	if err != nil {
		slog.Error("SQLiteStore GetHistory scan failed", "error", err, "session_id", sessionID)
		return nil, err
	}
	slog.Debug("SQLiteStore GetHistory succeeded", "session_id", sessionID, "count", len(entries))
	return entries, nil
}

func (s *SQLiteStore) ExpireSessions(cutoff time.Time) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin session expiry: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id FROM sessions WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM history WHERE session_id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to delete history for session %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to delete session %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session expiry: %w", err)
	}
	if len(ids) > 0 {
		slog.Debug("SQLiteStore ExpireSessions removed sessions", "count", len(ids))
	}
	return ids, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

// requireAffected maps a zero-row update or delete to models.ErrSessionNotFound.
func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return nil
}
