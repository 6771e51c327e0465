package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
)

func TestInMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewInMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		dbPath := filepath.Join(t.TempDir(), "nested", "sessions.db")
		s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
		if err != nil {
			t.Fatalf("failed to create SQLite store: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	// This test requires a running PostgreSQL instance.
	// Set the DATABASE_URL environment variable for connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	runStoreSuite(t, func(t *testing.T) Store {
		pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
		if err != nil {
			t.Skipf("Postgres not available: %v", err)
		}
		pgStore.db.Exec("DELETE FROM history")
		pgStore.db.Exec("DELETE FROM sessions")
		t.Cleanup(func() { pgStore.Close() })
		return pgStore
	})
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("session lifecycle", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Millisecond)
		sess := models.Session{ID: "s1", Pronoun: models.PronounI, CreatedAt: now, UpdatedAt: now}
		if err := s.CreateSession(sess); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := s.CreateSession(sess); !errors.Is(err, models.ErrSessionExists) {
			t.Errorf("expected ErrSessionExists, got %v", err)
		}

		got, err := s.GetSession("s1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Pronoun != models.PronounI || got.BasePhrase != "" || !got.CreatedAt.Equal(now) {
			t.Errorf("unexpected session %+v", got)
		}

		sess.Pronoun = models.PronounWe
		sess.BasePhrase = "watch tv"
		sess.UpdatedAt = now.Add(time.Second)
		if err := s.UpdateSession(sess); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err = s.GetSession("s1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Pronoun != models.PronounWe || got.BasePhrase != "watch tv" || !got.UpdatedAt.Equal(now.Add(time.Second)) {
			t.Errorf("update not applied: %+v", got)
		}

		if err := s.DeleteSession("s1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := s.GetSession("s1"); !errors.Is(err, models.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
		}
		if err := s.DeleteSession("s1"); !errors.Is(err, models.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound on second delete, got %v", err)
		}
	})

	t.Run("rejects invalid sessions", func(t *testing.T) {
		s := newStore(t)
		if err := s.CreateSession(models.Session{ID: "", Pronoun: models.PronounI}); !errors.Is(err, models.ErrEmptySessionID) {
			t.Errorf("expected ErrEmptySessionID, got %v", err)
		}
		if err := s.CreateSession(models.Session{ID: "x", Pronoun: "They"}); !errors.Is(err, models.ErrInvalidPronoun) {
			t.Errorf("expected ErrInvalidPronoun, got %v", err)
		}
		if err := s.UpdateSession(models.Session{ID: "missing", Pronoun: models.PronounI}); !errors.Is(err, models.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("history is most recent first and capped", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC()
		if err := s.CreateSession(models.Session{ID: "h1", Pronoun: models.PronounMy, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		total := models.MaxHistoryEntries + 5
		for i := 0; i < total; i++ {
			e := models.HistoryEntry{SessionID: "h1", Text: fmt.Sprintf("line %d", i), Time: now.Add(time.Duration(i) * time.Second)}
			if err := s.AddHistory(e); err != nil {
				t.Fatalf("AddHistory %d: %v", i, err)
			}
		}
		entries, err := s.GetHistory("h1", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(entries) != models.MaxHistoryEntries {
			t.Fatalf("expected %d entries, got %d", models.MaxHistoryEntries, len(entries))
		}
		if entries[0].Text != fmt.Sprintf("line %d", total-1) {
			t.Errorf("expected newest first, got %q", entries[0].Text)
		}
		if entries[len(entries)-1].Text != fmt.Sprintf("line %d", total-models.MaxHistoryEntries) {
			t.Errorf("unexpected oldest entry %q", entries[len(entries)-1].Text)
		}

		limited, err := s.GetHistory("h1", 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(limited) != 3 || limited[0].Text != entries[0].Text {
			t.Errorf("unexpected limited history %+v", limited)
		}
	})

	t.Run("history requires a session", func(t *testing.T) {
		s := newStore(t)
		err := s.AddHistory(models.HistoryEntry{SessionID: "ghost", Text: "hi", Time: time.Now()})
		if !errors.Is(err, models.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
		if _, err := s.GetHistory("ghost", 0); !errors.Is(err, models.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("delete removes history", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC()
		sess := models.Session{ID: "d1", Pronoun: models.PronounI, CreatedAt: now, UpdatedAt: now}
		if err := s.CreateSession(sess); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := s.AddHistory(models.HistoryEntry{SessionID: "d1", Text: "I go to sleep", Time: now}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := s.DeleteSession("d1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := s.CreateSession(sess); err != nil {
			t.Fatalf("unexpected error recreating session: %v", err)
		}
		entries, err := s.GetHistory("d1", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected history to be gone, got %+v", entries)
		}
	})

	t.Run("expire idle sessions", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC()
		old := models.Session{ID: "old", Pronoun: models.PronounI, CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)}
		fresh := models.Session{ID: "fresh", Pronoun: models.PronounWe, CreatedAt: now, UpdatedAt: now}
		for _, sess := range []models.Session{old, fresh} {
			if err := s.CreateSession(sess); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if err := s.AddHistory(models.HistoryEntry{SessionID: "old", Text: "bye", Time: old.UpdatedAt}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expired, err := s.ExpireSessions(now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(expired) != 1 || expired[0] != "old" {
			t.Errorf("expected [old] expired, got %v", expired)
		}
		if _, err := s.GetSession("old"); !errors.Is(err, models.ErrSessionNotFound) {
			t.Errorf("expected old session gone, got %v", err)
		}
		if _, err := s.GetSession("fresh"); err != nil {
			t.Errorf("fresh session should survive: %v", err)
		}
	})
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://user:pw@localhost/db":   DSNTypePostgres,
		"postgresql://localhost/db":         DSNTypePostgres,
		"host=localhost user=app dbname=tp": DSNTypePostgres,
		"/var/lib/talkingprompt/tp.db":      DSNTypeSQLite,
		"file:tp.db?_foreign_keys=on":       DSNTypeSQLite,
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestNew_DefaultsToInMemory(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Errorf("expected *InMemoryStore, got %T", s)
	}
}

func TestNew_SQLite(t *testing.T) {
	s, err := New(WithSQLiteDSN(filepath.Join(t.TempDir(), "tp.db")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", s)
	}
}

func TestNewSQLiteStore_RequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("expected error without DSN")
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
