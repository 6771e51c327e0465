// Package models defines the core data structures for TalkingPrompt.
//
// It includes the pronoun enumeration, session state and history entries,
// which are shared across the phrase, store, session and api modules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Pronoun selects the grammatical perspective of a spoken sentence.
type Pronoun string

const (
	// PronounI is the first-person-singular perspective ("I").
	PronounI Pronoun = "I"
	// PronounWe is the first-person-plural perspective ("We").
	PronounWe Pronoun = "We"
	// PronounMy is the possessive perspective ("My").
	PronounMy Pronoun = "My"
)

// DefaultPronoun is the perspective a new session starts with.
const DefaultPronoun = PronounI

// Pronouns lists every supported pronoun in presentation order.
var Pronouns = []Pronoun{PronounI, PronounWe, PronounMy}

// Validation constants for input validation
const (
	// MaxHistoryEntries caps the number of spoken sentences kept per session.
	MaxHistoryEntries = 20
	// MaxActivityLength defines the maximum accepted activity length in bytes.
	MaxActivityLength = 512
	// MaxBasePhraseLength defines the maximum accepted base phrase length in bytes.
	MaxBasePhraseLength = 256
)

// Error variables for better error handling and testability
var (
	ErrInvalidPronoun    = errors.New("invalid pronoun")
	ErrEmptyActivity     = errors.New("activity cannot be empty")
	ErrActivityTooLong   = errors.New("activity exceeds maximum length")
	ErrBasePhraseTooLong = errors.New("base phrase exceeds maximum length")
	ErrEmptySessionID    = errors.New("session id cannot be empty")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already exists")
	ErrSpeechUnsupported = errors.New("speech synthesis not supported")
)

// ParsePronoun converts user input into a Pronoun. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParsePronoun(s string) (Pronoun, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "i":
		return PronounI, nil
	case "we":
		return PronounWe, nil
	case "my":
		return PronounMy, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPronoun, s)
	}
}

// IsValid reports whether p is one of the supported pronouns.
func (p Pronoun) IsValid() bool {
	switch p {
	case PronounI, PronounWe, PronounMy:
		return true
	default:
		return false
	}
}

func (p Pronoun) String() string {
	return string(p)
}

// UnmarshalText accepts any casing of a supported pronoun so JSON bodies
// like {"pronoun":"we"} decode cleanly.
func (p *Pronoun) UnmarshalText(text []byte) error {
	parsed, err := ParsePronoun(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Session is the caller-held selection state for one user of the speech board.
type Session struct {
	ID         string    `json:"id"`
	Pronoun    Pronoun   `json:"pronoun"`
	BasePhrase string    `json:"base_phrase"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks the session fields that every store relies on.
func (s Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrEmptySessionID
	}
	if !s.Pronoun.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPronoun, s.Pronoun)
	}
	if len(s.BasePhrase) > MaxBasePhraseLength {
		return ErrBasePhraseTooLong
	}
	return nil
}

// HistoryEntry records one sentence handed to the vocalizer.
type HistoryEntry struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}

// HistoryTimeLayout is the clock format used when rendering history lines.
const HistoryTimeLayout = "3:04:05 PM"

// Display renders the entry the way the history panel shows it.
func (h HistoryEntry) Display() string {
	return h.Time.Local().Format(HistoryTimeLayout) + " — " + h.Text
}

// ValidateActivity checks an activity string chosen by the user.
func ValidateActivity(activity string) error {
	if strings.TrimSpace(activity) == "" {
		return ErrEmptyActivity
	}
	if len(activity) > MaxActivityLength {
		return ErrActivityTooLong
	}
	return nil
}
