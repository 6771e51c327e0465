package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI speech defaults
const (
	DefaultOpenAIModel  = openai.SpeechModelTTS1
	DefaultOpenAIVoice  = openai.AudioSpeechNewParamsVoiceAlloy
	DefaultOpenAIFormat = openai.AudioSpeechNewParamsResponseFormatMP3
)

// speechService defines the minimal surface of the OpenAI audio speech API.
type speechService interface {
	New(ctx context.Context, body openai.AudioSpeechNewParams, opts ...option.RequestOption) (*http.Response, error)
}

// OpenAIOpts holds configuration options for the OpenAI synthesizer.
type OpenAIOpts struct {
	APIKey string
	Model  string
	Voice  string
}

// OpenAIOption defines a configuration option for the OpenAI synthesizer.
type OpenAIOption func(*OpenAIOpts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) OpenAIOption {
	return func(o *OpenAIOpts) {
		o.APIKey = key
	}
}

// WithModel sets the speech model, e.g. "tts-1" or "gpt-4o-mini-tts".
func WithModel(model string) OpenAIOption {
	return func(o *OpenAIOpts) {
		o.Model = model
	}
}

// WithVoice sets the voice, e.g. "alloy" or "nova".
func WithVoice(voice string) OpenAIOption {
	return func(o *OpenAIOpts) {
		o.Voice = voice
	}
}

// OpenAISynthesizer synthesizes speech with the OpenAI audio API.
type OpenAISynthesizer struct {
	speech speechService
	model  openai.SpeechModel
	voice  openai.AudioSpeechNewParamsVoice
}

// Compile-time check that OpenAISynthesizer implements Synthesizer.
var _ Synthesizer = (*OpenAISynthesizer)(nil)

// NewOpenAISynthesizer creates a synthesizer. The API key falls back to
// OPENAI_API_KEY.
func NewOpenAISynthesizer(opts ...OpenAIOption) (*OpenAISynthesizer, error) {
	var cfg OpenAIOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	s := newOpenAISynthesizer(&cli.Audio.Speech, cfg)
	slog.Debug("speech.NewOpenAISynthesizer: configured", "model", s.model, "voice", s.voice)
	return s, nil
}

func newOpenAISynthesizer(svc speechService, cfg OpenAIOpts) *OpenAISynthesizer {
	s := &OpenAISynthesizer{
		speech: svc,
		model:  DefaultOpenAIModel,
		voice:  DefaultOpenAIVoice,
	}
	if cfg.Model != "" {
		s.model = openai.SpeechModel(cfg.Model)
	}
	if cfg.Voice != "" {
		s.voice = openai.AudioSpeechNewParamsVoice(cfg.Voice)
	}
	return s
}

// Name returns "openai".
func (s *OpenAISynthesizer) Name() string {
	return "openai"
}

// Synthesize requests an MP3 rendering of text.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, string, error) {
	resp, err := s.speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          s.model,
		Voice:          s.voice,
		ResponseFormat: DefaultOpenAIFormat,
	})
	if err != nil {
		return nil, "", fmt.Errorf("openai speech request failed: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return resp.Body, contentType, nil
}
