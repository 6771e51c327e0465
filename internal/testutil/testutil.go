// Package testutil provides common test utilities and helpers for TalkingPrompt tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/TalkingPrompt/internal/api"
	"github.com/BTreeMap/TalkingPrompt/internal/models"
	"github.com/BTreeMap/TalkingPrompt/internal/session"
	"github.com/BTreeMap/TalkingPrompt/internal/speech"
	"github.com/BTreeMap/TalkingPrompt/internal/store"
)

// FakeAudioPrefix is prepended to the text in FakeSynthesizer clips.
const FakeAudioPrefix = "fake-mp3:"

// FakeSynthesizer implements speech.Synthesizer without a TTS backend.
// The clip is FakeAudioPrefix followed by the text.
type FakeSynthesizer struct {
	mu    sync.Mutex
	Texts []string
	Err   error
}

// Name returns "fake".
func (f *FakeSynthesizer) Name() string { return "fake" }

// Synthesize records text and returns a fake clip.
func (f *FakeSynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Texts = append(f.Texts, text)
	if f.Err != nil {
		return nil, "", f.Err
	}
	return io.NopCloser(strings.NewReader(FakeAudioPrefix + text)), "audio/mpeg", nil
}

// Env bundles a test API server and its dependencies.
type Env struct {
	Server   *api.Server
	Sessions *session.Service
	Speaker  *speech.Speaker
	Hub      *speech.Hub
	Store    store.Store
	Synth    *FakeSynthesizer
}

// NewTestEnv creates an API server with an in-memory store, a websocket
// hub and, when withSpeech is set, a FakeSynthesizer.
func NewTestEnv(t testing.TB, withSpeech bool, opts ...api.Option) *Env {
	t.Helper()
	env := &Env{
		Hub:   speech.NewHub(nil),
		Store: store.NewInMemoryStore(),
	}
	speakerOpts := []speech.Option{speech.WithHub(env.Hub)}
	if withSpeech {
		env.Synth = &FakeSynthesizer{}
		speakerOpts = append(speakerOpts, speech.WithSynthesizer(env.Synth))
	}
	env.Speaker = speech.NewSpeaker(speakerOpts...)
	env.Sessions = session.NewService(session.WithStore(env.Store), session.WithSpeaker(env.Speaker))
	t.Cleanup(env.Sessions.Close)
	env.Server = api.NewServer(env.Sessions, env.Speaker, append([]api.Option{api.WithHub(env.Hub)}, opts...)...)
	return env
}

// NewTestServer creates a test API server with in-memory dependencies and
// fake speech.
func NewTestServer(t testing.TB) *api.Server {
	t.Helper()
	return NewTestEnv(t, true).Server
}

// Do sends req through h and returns the recorded response.
func Do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the envelope, checks its status field and
// decodes the result into result when it is non-nil.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus, result any) models.APIResponse {
	t.Helper()
	var raw struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if raw.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s' (message %q)", expectedStatus, raw.Status, raw.Message)
	}
	if result != nil && len(raw.Result) > 0 {
		MustUnmarshalJSON(t, raw.Result, result)
	}
	return models.APIResponse{Status: raw.Status, Message: raw.Message, Result: result}
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
