package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Kokoro defaults, matching a stock Kokoro-FastAPI deployment.
const (
	DefaultKokoroEndpoint = "http://localhost:8880/v1/audio/speech"
	DefaultKokoroModel    = "kokoro"
	DefaultKokoroVoice    = "af_bella"
)

// kokoroRequest is the OpenAI-compatible body Kokoro-FastAPI accepts.
type kokoroRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
	Stream         bool   `json:"stream"`
}

// KokoroSynthesizer streams speech from a Kokoro TTS server.
// https://github.com/remsky/Kokoro-FastAPI
type KokoroSynthesizer struct {
	Endpoint string
	Model    string
	Voice    string
	Client   *http.Client
}

// Compile-time check that KokoroSynthesizer implements Synthesizer.
var _ Synthesizer = (*KokoroSynthesizer)(nil)

// NewKokoroSynthesizer fills empty fields with the Kokoro defaults.
func NewKokoroSynthesizer(endpoint, model, voice string) *KokoroSynthesizer {
	k := &KokoroSynthesizer{
		Endpoint: endpoint,
		Model:    model,
		Voice:    voice,
		Client:   &http.Client{Timeout: DefaultSynthesisTimeout + 5*time.Second},
	}
	if k.Endpoint == "" {
		k.Endpoint = DefaultKokoroEndpoint
	}
	if k.Model == "" {
		k.Model = DefaultKokoroModel
	}
	if k.Voice == "" {
		k.Voice = DefaultKokoroVoice
	}
	return k
}

// Name returns "kokoro".
func (k *KokoroSynthesizer) Name() string {
	return "kokoro"
}

// Synthesize posts text to the Kokoro endpoint and returns the MP3 stream.
func (k *KokoroSynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, string, error) {
	body, err := json.Marshal(kokoroRequest{
		Model:          k.Model,
		Voice:          k.Voice,
		Input:          text,
		ResponseFormat: "mp3",
		Stream:         true,
	})
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := k.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("kokoro request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, "", fmt.Errorf("kokoro returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return resp.Body, contentType, nil
}
