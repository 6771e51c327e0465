// Package speech hands finished sentences to the vocalization backends.
//
// A Speaker keeps at most one utterance in flight per channel (one channel per
// session): starting a new utterance cancels the previous one, the way a
// browser cancels speechSynthesis before speaking again. Sentences reach the
// listener through a websocket Hub for client-side speech, a server-side
// Synthesizer that produces an audio clip, or both.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
	"github.com/BTreeMap/TalkingPrompt/internal/util"
)

// Speaker configuration defaults
const (
	// DefaultSynthesisTimeout bounds a single synthesis request.
	DefaultSynthesisTimeout = 30 * time.Second
	// MaxClipBytes caps the size of a synthesized clip kept in memory.
	MaxClipBytes = 8 << 20
)

var (
	// ErrUnsupported means no backend can vocalize on the channel.
	ErrUnsupported = models.ErrSpeechUnsupported
	// ErrSuperseded means a newer utterance on the same channel canceled this one.
	ErrSuperseded = errors.New("utterance superseded by a newer one")
	// ErrClipTooLarge means the synthesizer returned more than MaxClipBytes.
	ErrClipTooLarge = errors.New("synthesized clip exceeds maximum size")
)

// Synthesizer converts text to an audio stream.
type Synthesizer interface {
	// Synthesize returns the audio stream and its MIME type.
	Synthesize(ctx context.Context, text string) (io.ReadCloser, string, error)
	// Name identifies the provider in logs and health output.
	Name() string
}

// Utterance is one sentence handed to the vocalizer.
type Utterance struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	HasAudio  bool      `json:"has_audio"`
}

// Clip is the synthesized audio of the latest utterance on a channel.
type Clip struct {
	UtteranceID string
	Text        string
	ContentType string
	Audio       []byte
	CreatedAt   time.Time
}

// Opts holds configuration options for a Speaker.
type Opts struct {
	Synthesizer Synthesizer
	Hub         *Hub
	Timeout     time.Duration
}

// Option defines a configuration option for a Speaker.
type Option func(*Opts)

// WithSynthesizer enables server-side synthesis.
func WithSynthesizer(s Synthesizer) Option {
	return func(o *Opts) {
		o.Synthesizer = s
	}
}

// WithHub publishes utterances to websocket listeners.
func WithHub(h *Hub) Option {
	return func(o *Opts) {
		o.Hub = h
	}
}

// WithTimeout overrides DefaultSynthesisTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

type inflight struct {
	id     string
	cancel context.CancelFunc
}

// Speaker serializes utterances per channel with cancel-before-speak semantics.
type Speaker struct {
	synth   Synthesizer
	hub     *Hub
	timeout time.Duration

	mu       sync.Mutex
	inflight map[string]inflight
	clips    map[string]Clip
}

// NewSpeaker creates a Speaker. With no synthesizer and no hub every
// Speak call returns ErrUnsupported.
func NewSpeaker(opts ...Option) *Speaker {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSynthesisTimeout
	}
	synthName := ""
	if cfg.Synthesizer != nil {
		synthName = cfg.Synthesizer.Name()
	}
	slog.Debug("speech.NewSpeaker: configured", "synthesizer", synthName, "hub", cfg.Hub != nil, "timeout", cfg.Timeout)
	return &Speaker{
		synth:    cfg.Synthesizer,
		hub:      cfg.Hub,
		timeout:  cfg.Timeout,
		inflight: make(map[string]inflight),
		clips:    make(map[string]Clip),
	}
}

// SynthesizerName returns the configured provider name, or "" if none.
func (s *Speaker) SynthesizerName() string {
	if s.synth == nil {
		return ""
	}
	return s.synth.Name()
}

// Supported reports whether any backend can vocalize on channel right now.
func (s *Speaker) Supported(channel string) bool {
	if s.synth != nil {
		return true
	}
	return s.hub != nil && s.hub.Subscribers(channel) > 0
}

// Speak cancels any in-flight utterance on channel and vocalizes text.
// It returns ErrUnsupported without side effects when no backend is
// available, and ErrSuperseded when a newer Speak on the same channel
// started before synthesis finished.
func (s *Speaker) Speak(ctx context.Context, channel, text string) (Utterance, error) {
	u := Utterance{
		ID:        util.GenerateUtteranceID(),
		Channel:   channel,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if !s.Supported(channel) {
		slog.Debug("Speaker.Speak: no backend available", "channel", channel)
		return u, ErrUnsupported
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.begin(channel, u.ID, cancel)
	defer s.end(channel, u.ID)

	if s.hub != nil {
		n := s.hub.Publish(channel, Event{Type: EventSpeak, Utterance: u})
		slog.Debug("Speaker.Speak: published utterance", "channel", channel, "utterance_id", u.ID, "listeners", n)
	}
	if s.synth == nil {
		return u, nil
	}

	clip, err := s.synthesize(ctx, u)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) && !s.isCurrent(channel, u.ID) {
			slog.Debug("Speaker.Speak: utterance superseded", "channel", channel, "utterance_id", u.ID)
			return u, ErrSuperseded
		}
		slog.Error("Speaker.Speak: synthesis failed", "error", err, "channel", channel, "provider", s.synth.Name())
		return u, fmt.Errorf("synthesis with %s failed: %w", s.synth.Name(), err)
	}

	s.mu.Lock()
	current := s.inflight[channel].id == u.ID
	if current {
		s.clips[channel] = clip
	}
	s.mu.Unlock()
	if !current {
		return u, ErrSuperseded
	}
	u.HasAudio = true
	if s.hub != nil {
		s.hub.Publish(channel, Event{Type: EventAudio, Utterance: u})
	}
	slog.Debug("Speaker.Speak: clip ready", "channel", channel, "utterance_id", u.ID, "bytes", len(clip.Audio))
	return u, nil
}

func (s *Speaker) synthesize(ctx context.Context, u Utterance) (Clip, error) {
	rc, contentType, err := s.synth.Synthesize(ctx, u.Text)
	if err != nil {
		return Clip{}, err
	}
	defer rc.Close()
	audio, err := io.ReadAll(io.LimitReader(rc, MaxClipBytes+1))
	if err != nil {
		return Clip{}, err
	}
	if len(audio) > MaxClipBytes {
		return Clip{}, ErrClipTooLarge
	}
	return Clip{
		UtteranceID: u.ID,
		Text:        u.Text,
		ContentType: contentType,
		Audio:       audio,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// LastClip returns the most recent synthesized clip on channel.
func (s *Speaker) LastClip(channel string) (Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clip, ok := s.clips[channel]
	return clip, ok
}

// Cancel stops the in-flight utterance on channel, if any.
func (s *Speaker) Cancel(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.inflight[channel]; ok {
		cur.cancel()
		delete(s.inflight, channel)
	}
}

// Forget cancels any in-flight utterance, drops the stored clip and
// disconnects listeners on channel.
func (s *Speaker) Forget(channel string) {
	s.Cancel(channel)
	s.mu.Lock()
	delete(s.clips, channel)
	s.mu.Unlock()
	if s.hub != nil {
		s.hub.CloseChannel(channel)
	}
}

func (s *Speaker) begin(channel, id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.inflight[channel]; ok {
		slog.Debug("Speaker: canceling previous utterance", "channel", channel, "utterance_id", prev.id)
		prev.cancel()
	}
	s.inflight[channel] = inflight{id: id, cancel: cancel}
}

func (s *Speaker) end(channel, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[channel].id == id {
		delete(s.inflight, channel)
	}
}

func (s *Speaker) isCurrent(channel, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[channel].id == id
}
