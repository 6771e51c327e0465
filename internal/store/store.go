// Package store provides storage backends for TalkingPrompt sessions.
//
// A session holds the caller's current pronoun and base phrase plus the
// history of spoken sentences. Every backend deletes a session's history
// together with the session, so nothing outlives the session that produced it.
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
)

// Store is the persistence contract shared by the in-memory, SQLite and
// PostgreSQL backends.
type Store interface {
	// CreateSession inserts a new session. Returns models.ErrSessionExists
	// if the id is taken.
	CreateSession(s models.Session) error
	// GetSession returns models.ErrSessionNotFound for unknown ids.
	GetSession(id string) (*models.Session, error)
	// UpdateSession overwrites pronoun, base phrase and updated_at.
	UpdateSession(s models.Session) error
	// DeleteSession removes the session and all of its history.
	DeleteSession(id string) error
	// AddHistory appends an entry and trims the session's history to
	// models.MaxHistoryEntries, dropping the oldest.
	AddHistory(e models.HistoryEntry) error
	// GetHistory returns up to limit entries, most recent first. A
	// non-positive limit means models.MaxHistoryEntries.
	GetHistory(sessionID string, limit int) ([]models.HistoryEntry, error)
	// ExpireSessions deletes sessions last updated before cutoff and
	// returns their ids.
	ExpireSessions(cutoff time.Time) ([]string, error)
	// Close releases backend resources.
	Close() error
}

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN    string // database connection string
	Driver string // DSNTypePostgres or DSNTypeSQLite; empty means detect from DSN
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN selects the PostgreSQL backend with the given connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DSNTypePostgres
	}
}

// WithSQLiteDSN selects the SQLite backend with the given database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DSNTypeSQLite
	}
}

// DetectDSNType reports whether dsn points at PostgreSQL or an SQLite file.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// New builds the backend selected by opts, falling back to an in-memory
// store when no DSN is configured.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("store.New: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDSNType(cfg.DSN)
	}
	switch driver {
	case DSNTypePostgres:
		return NewPostgresStore(opts...)
	case DSNTypeSQLite:
		return NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// historyLimit normalizes a caller-supplied history limit.
func historyLimit(limit int) int {
	if limit <= 0 || limit > models.MaxHistoryEntries {
		return models.MaxHistoryEntries
	}
	return limit
}

// InMemoryStore keeps sessions in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	history  map[string][]models.HistoryEntry // most recent first
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.Session),
		history:  make(map[string][]models.HistoryEntry),
	}
}

func (s *InMemoryStore) CreateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("%w: %s", models.ErrSessionExists, sess.ID)
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) GetSession(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return &sess, nil
}

func (s *InMemoryStore) UpdateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sess.ID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, sess.ID)
	}
	sess.CreatedAt = existing.CreatedAt
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	delete(s.history, id)
	return nil
}

func (s *InMemoryStore) AddHistory(e models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[e.SessionID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, e.SessionID)
	}
	entries := append([]models.HistoryEntry{e}, s.history[e.SessionID]...)
	if len(entries) > models.MaxHistoryEntries {
		entries = entries[:models.MaxHistoryEntries]
	}
	s.history[e.SessionID] = entries
	return nil
}

func (s *InMemoryStore) GetHistory(sessionID string, limit int) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	entries := s.history[sessionID]
	if n := historyLimit(limit); len(entries) > n {
		entries = entries[:n]
	}
	out := make([]models.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *InMemoryStore) ExpireSessions(cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			expired = append(expired, id)
			delete(s.sessions, id)
			delete(s.history, id)
		}
	}
	return expired, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
