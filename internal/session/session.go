// Package session holds the caller-side state of the prompt flow (the
// selected pronoun and base phrase) on the server, and turns a chosen
// activity into a spoken sentence.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
	"github.com/BTreeMap/TalkingPrompt/internal/phrase"
	"github.com/BTreeMap/TalkingPrompt/internal/speech"
	"github.com/BTreeMap/TalkingPrompt/internal/store"
	"github.com/google/uuid"
)

// Session service defaults
const (
	// DefaultTTL is how long a session may sit idle before it is ended.
	DefaultTTL = 30 * time.Minute
	// MinSweepInterval is the shortest interval between expiry sweeps.
	MinSweepInterval = time.Second
)

// Notices returned alongside a sentence when vocalization did not happen.
const (
	NoticeSpeechUnsupported = "Speech synthesis not supported"
	NoticeSpeechFailed      = "Speech synthesis failed"
)

// Speaker vocalizes sentences on a per-session channel.
type Speaker interface {
	Speak(ctx context.Context, channel, text string) (speech.Utterance, error)
	Supported(channel string) bool
	Forget(channel string)
}

// Relay forwards spoken sentences to a caregiver.
type Relay interface {
	Forward(ctx context.Context, e models.HistoryEntry) error
}

// Opts holds configuration options for the session Service.
type Opts struct {
	Store   store.Store
	Speaker Speaker
	Relay   Relay
	TTL     time.Duration
	Now     func() time.Time
}

// Option defines a configuration option for the session Service.
type Option func(*Opts)

// WithStore sets the session store. Defaults to an in-memory store.
func WithStore(s store.Store) Option {
	return func(o *Opts) {
		o.Store = s
	}
}

// WithSpeaker sets the vocalizer.
func WithSpeaker(s Speaker) Option {
	return func(o *Opts) {
		o.Speaker = s
	}
}

// WithRelay forwards every recorded sentence to a caregiver.
func WithRelay(r Relay) Option {
	return func(o *Opts) {
		o.Relay = r
	}
}

// WithTTL sets the idle timeout. Zero or negative disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.TTL = ttl
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// View is a session together with the suggestions for its base phrase.
type View struct {
	Session         models.Session `json:"session"`
	Suggestions     []string       `json:"suggestions"`
	SpeechSupported bool           `json:"speech_supported"`
}

// SpeakResult describes what happened to one chosen activity.
type SpeakResult struct {
	Text      string               `json:"text"`
	Spoken    bool                 `json:"spoken"`
	Notice    string               `json:"notice,omitempty"`
	Utterance *speech.Utterance    `json:"utterance,omitempty"`
	Entry     *models.HistoryEntry `json:"entry,omitempty"`
}

// Service coordinates the store, the speaker and the optional relay.
type Service struct {
	store   store.Store
	speaker Speaker
	relay   Relay
	ttl     time.Duration
	now     func() time.Time

	// mu serializes read-modify-write of session rows.
	mu     sync.Mutex
	relays sync.WaitGroup
}

// NewService creates a session Service.
func NewService(opts ...Option) *Service {
	cfg := Opts{TTL: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Store == nil {
		cfg.Store = store.NewInMemoryStore()
	}
	if cfg.Speaker == nil {
		cfg.Speaker = speech.NewSpeaker()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	slog.Debug("session.NewService: configured", "store", fmt.Sprintf("%T", cfg.Store), "relay", cfg.Relay != nil, "ttl", cfg.TTL)
	return &Service{
		store:   cfg.Store,
		speaker: cfg.Speaker,
		relay:   cfg.Relay,
		ttl:     cfg.TTL,
		now:     cfg.Now,
	}
}

// TTL returns the idle timeout.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Create starts a session. An empty pronoun selects models.DefaultPronoun.
func (s *Service) Create(pronoun string) (*models.Session, error) {
	p := models.DefaultPronoun
	if pronoun != "" {
		var err error
		if p, err = models.ParsePronoun(pronoun); err != nil {
			return nil, err
		}
	}
	now := s.now().UTC()
	sess := models.Session{
		ID:        uuid.NewString(),
		Pronoun:   p,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	slog.Info("Service.Create: session started", "session_id", sess.ID, "pronoun", sess.Pronoun)
	return &sess, nil
}

// Get returns the session and the suggestions for its base phrase. A
// session with no base phrase has no suggestions.
func (s *Service) Get(id string) (View, error) {
	sess, err := s.store.GetSession(id)
	if err != nil {
		return View{}, err
	}
	return s.view(*sess), nil
}

// SelectPronoun changes the pronoun used for subsequent sentences.
func (s *Service) SelectPronoun(id, pronoun string) (*models.Session, error) {
	p, err := models.ParsePronoun(pronoun)
	if err != nil {
		return nil, err
	}
	sess, err := s.update(id, func(sess *models.Session) { sess.Pronoun = p })
	if err != nil {
		return nil, err
	}
	slog.Debug("Service.SelectPronoun: pronoun selected", "session_id", id, "pronoun", p)
	return sess, nil
}

// SelectBase records the base phrase and returns the fresh suggestions,
// including the fallbacks an empty base phrase produces.
func (s *Service) SelectBase(id, base string) (View, error) {
	if len(base) > models.MaxBasePhraseLength {
		return View{}, models.ErrBasePhraseTooLong
	}
	sess, err := s.update(id, func(sess *models.Session) { sess.BasePhrase = base })
	if err != nil {
		return View{}, err
	}
	v := s.view(*sess)
	v.Suggestions = phrase.GenerateSuggestions(base)
	slog.Debug("Service.SelectBase: base phrase selected", "session_id", id, "base", base, "suggestions", len(v.Suggestions))
	return v, nil
}

// Speak builds the sentence for activity with the session's pronoun and
// hands it to the speaker. When no vocalizer is available the result
// carries NoticeSpeechUnsupported and nothing is recorded. Otherwise the
// sentence is added to the history and relayed.
func (s *Service) Speak(ctx context.Context, id, activity string) (SpeakResult, error) {
	if err := models.ValidateActivity(activity); err != nil {
		return SpeakResult{}, err
	}
	sess, err := s.store.GetSession(id)
	if err != nil {
		return SpeakResult{}, err
	}
	text := phrase.BuildPrompt(sess.Pronoun, sess.BasePhrase, activity)
	res := SpeakResult{Text: text}

	u, err := s.speaker.Speak(ctx, id, text)
	switch {
	case errors.Is(err, speech.ErrUnsupported):
		slog.Warn("Service.Speak: speech not supported", "session_id", id)
		res.Notice = NoticeSpeechUnsupported
		return res, nil
	case errors.Is(err, speech.ErrSuperseded):
		slog.Debug("Service.Speak: utterance superseded", "session_id", id, "utterance_id", u.ID)
		res.Spoken = true
	case err != nil:
		slog.Error("Service.Speak: speaker failed", "error", err, "session_id", id)
		res.Notice = NoticeSpeechFailed
	default:
		res.Spoken = true
	}
	res.Utterance = &u

	entry := models.HistoryEntry{SessionID: id, Text: text, Time: s.now().UTC()}
	if err := s.store.AddHistory(entry); err != nil {
		return res, fmt.Errorf("failed to record history: %w", err)
	}
	res.Entry = &entry
	if _, err := s.update(id, func(*models.Session) {}); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		slog.Warn("Service.Speak: failed to refresh session", "error", err, "session_id", id)
	}
	s.forward(entry)
	slog.Info("Service.Speak: sentence spoken", "session_id", id, "spoken", res.Spoken)
	return res, nil
}

// History returns up to limit entries, most recent first. A limit of zero
// or less returns all retained entries.
func (s *Service) History(id string, limit int) ([]models.HistoryEntry, error) {
	entries, err := s.store.GetHistory(id, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return entries, nil
}

// End deletes the session and its history and stops any speech on it.
func (s *Service) End(id string) error {
	if err := s.store.DeleteSession(id); err != nil {
		return err
	}
	s.speaker.Forget(id)
	slog.Info("Service.End: session ended", "session_id", id)
	return nil
}

// ExpireIdle ends every session idle for longer than the TTL and returns
// how many were ended.
func (s *Service) ExpireIdle() (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	ids, err := s.store.ExpireSessions(s.now().Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	for _, id := range ids {
		s.speaker.Forget(id)
	}
	if len(ids) > 0 {
		slog.Info("Service.ExpireIdle: idle sessions ended", "count", len(ids))
	}
	return len(ids), nil
}

// Run sweeps idle sessions until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if s.ttl <= 0 {
		slog.Debug("Service.Run: session expiry disabled")
		return
	}
	interval := max(s.ttl/2, MinSweepInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Debug("Service.Run: expiry sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Service.Run: expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.ExpireIdle(); err != nil {
				slog.Error("Service.Run: expiry sweep failed", "error", err)
			}
		}
	}
}

// Close waits for pending relay sends.
func (s *Service) Close() {
	s.relays.Wait()
}

func (s *Service) update(id string, mutate func(*models.Session)) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	mutate(sess)
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSession(*sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) view(sess models.Session) View {
	v := View{
		Session:         sess,
		Suggestions:     []string{},
		SpeechSupported: s.speaker.Supported(sess.ID),
	}
	if sess.BasePhrase != "" {
		v.Suggestions = phrase.GenerateSuggestions(sess.BasePhrase)
	}
	return v
}

// forward relays e in the background so a slow provider never delays speech.
func (s *Service) forward(e models.HistoryEntry) {
	if s.relay == nil {
		return
	}
	s.relays.Add(1)
	go func() {
		defer s.relays.Done()
		if err := s.relay.Forward(context.Background(), e); err != nil {
			slog.Warn("Service.forward: relay failed", "error", err, "session_id", e.SessionID)
		}
	}()
}
