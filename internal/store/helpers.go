package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession scans a session row in column order
// id, pronoun, base_phrase, created_at, updated_at.
func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var pronoun string
	if err := row.Scan(&s.ID, &pronoun, &s.BasePhrase, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Pronoun = models.Pronoun(pronoun)
	return &s, nil
}

// scanHistory collects history rows in column order session_id, text, spoken_at.
func scanHistory(rows *sql.Rows) ([]models.HistoryEntry, error) {
	defer rows.Close()
	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.SessionID, &e.Text, &e.Time); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	return entries, nil
}

// collectIDs reads a single string column from rows.
func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
