package speech

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TalkingPrompt/internal/models"
)

// fakeSynth returns text as audio. When block is set, the first call waits
// for its context to end.
type fakeSynth struct {
	mu      sync.Mutex
	calls   []string
	err     error
	block   bool
	started chan struct{}
	audio   string
}

func (f *fakeSynth) Name() string { return "fake" }

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	first := len(f.calls) == 1
	f.mu.Unlock()
	if f.started != nil && first {
		close(f.started)
	}
	if f.block && first {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	if f.err != nil {
		return nil, "", f.err
	}
	audio := f.audio
	if audio == "" {
		audio = "mp3:" + text
	}
	return io.NopCloser(strings.NewReader(audio)), "audio/mpeg", nil
}

func TestSpeaker_UnsupportedWithoutBackends(t *testing.T) {
	s := NewSpeaker()
	if s.Supported("c1") {
		t.Error("expected unsupported with no backends")
	}
	u, err := s.Speak(context.Background(), "c1", "I go to sleep")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if !errors.Is(err, models.ErrSpeechUnsupported) {
		t.Error("ErrUnsupported should match models.ErrSpeechUnsupported")
	}
	if u.Text != "I go to sleep" {
		t.Errorf("unexpected utterance text %q", u.Text)
	}
	if _, ok := s.LastClip("c1"); ok {
		t.Error("no clip should be stored")
	}
}

func TestSpeaker_HubWithoutListenersIsUnsupported(t *testing.T) {
	s := NewSpeaker(WithHub(NewHub(nil)))
	if _, err := s.Speak(context.Background(), "c1", "hi"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported with no listeners, got %v", err)
	}
}

func TestSpeaker_StoresClip(t *testing.T) {
	synth := &fakeSynth{}
	s := NewSpeaker(WithSynthesizer(synth))
	if s.SynthesizerName() != "fake" {
		t.Errorf("unexpected synthesizer name %q", s.SynthesizerName())
	}

	u, err := s.Speak(context.Background(), "c1", "We are watching tv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.HasAudio || !strings.HasPrefix(u.ID, "u_") {
		t.Errorf("unexpected utterance %+v", u)
	}
	clip, ok := s.LastClip("c1")
	if !ok {
		t.Fatal("expected a clip")
	}
	if clip.UtteranceID != u.ID || string(clip.Audio) != "mp3:We are watching tv" || clip.ContentType != "audio/mpeg" {
		t.Errorf("unexpected clip %+v", clip)
	}
	if _, ok := s.LastClip("c2"); ok {
		t.Error("clips must be per channel")
	}
}

func TestSpeaker_SynthesisError(t *testing.T) {
	s := NewSpeaker(WithSynthesizer(&fakeSynth{err: errors.New("boom")}))
	_, err := s.Speak(context.Background(), "c1", "hi")
	if err == nil || errors.Is(err, ErrSuperseded) || errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected plain synthesis error, got %v", err)
	}
	if !strings.Contains(err.Error(), "fake") {
		t.Errorf("error should name the provider: %v", err)
	}
}

func TestSpeaker_ClipTooLarge(t *testing.T) {
	s := NewSpeaker(WithSynthesizer(&fakeSynth{audio: strings.Repeat("x", MaxClipBytes+1)}))
	if _, err := s.Speak(context.Background(), "c1", "hi"); !errors.Is(err, ErrClipTooLarge) {
		t.Errorf("expected ErrClipTooLarge, got %v", err)
	}
}

func TestSpeaker_NewUtteranceCancelsPrevious(t *testing.T) {
	synth := &fakeSynth{block: true, started: make(chan struct{})}
	s := NewSpeaker(WithSynthesizer(synth))

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Speak(context.Background(), "c1", "I go to sleep")
		firstErr <- err
	}()
	select {
	case <-synth.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first synthesis never started")
	}

	u, err := s.Speak(context.Background(), "c1", "I want to eat")
	if err != nil {
		t.Fatalf("second utterance failed: %v", err)
	}
	select {
	case err := <-firstErr:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("expected ErrSuperseded for first utterance, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first utterance was not canceled")
	}

	clip, ok := s.LastClip("c1")
	if !ok || clip.UtteranceID != u.ID || clip.Text != "I want to eat" {
		t.Errorf("expected clip of the second utterance, got %+v", clip)
	}
}

func TestSpeaker_CancelAndForget(t *testing.T) {
	synth := &fakeSynth{block: true, started: make(chan struct{})}
	s := NewSpeaker(WithSynthesizer(synth), WithTimeout(5*time.Second))

	done := make(chan error, 1)
	go func() {
		_, err := s.Speak(context.Background(), "c1", "hi")
		done <- err
	}()
	<-synth.started
	s.Cancel("c1")
	select {
	case err := <-done:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("expected ErrSuperseded after Cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel did not stop the utterance")
	}

	if _, err := s.Speak(context.Background(), "c1", "again"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.LastClip("c1"); !ok {
		t.Fatal("expected a clip before Forget")
	}
	s.Forget("c1")
	if _, ok := s.LastClip("c1"); ok {
		t.Error("Forget should drop the clip")
	}
}

func TestSpeaker_Timeout(t *testing.T) {
	synth := &fakeSynth{block: true}
	s := NewSpeaker(WithSynthesizer(synth), WithTimeout(20*time.Millisecond))
	_, err := s.Speak(context.Background(), "c1", "hi")
	if err == nil || errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
