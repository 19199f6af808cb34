package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"avatard/pkg/types"
)

// newHTTPClient builds the shared transport for engine clients.
// Intentionally Timeout=0: all calls carry context-based deadlines.
func newHTTPClient(connectTimeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: 0}
}

// httpEngine is the common base for the ASR/LLM/TTS HTTP clients.
type httpEngine struct {
	baseURL    string
	reqTimeout time.Duration
	httpClient *http.Client
}

func newHTTPEngine(baseURL string, reqTimeout time.Duration) httpEngine {
	if reqTimeout <= 0 {
		reqTimeout = 10 * time.Second
	}
	return httpEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		reqTimeout: reqTimeout,
		httpClient: newHTTPClient(5 * time.Second),
	}
}

// postJSON posts a JSON payload and decodes the JSON response. Non-2xx
// responses become upstream failures with a bounded body excerpt.
func (e httpEngine) postJSON(ctx context.Context, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, e.reqTimeout)
	defer cancel()
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrUpstreamFailure(fmt.Sprintf("engine %s: %v", path, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ErrUpstreamFailure(fmt.Sprintf("engine %s: %s: %s", path, resp.Status, string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HTTPRecognizer talks to a speech-recognition server (e.g. a whisper service).
type HTTPRecognizer struct{ httpEngine }

func NewHTTPRecognizer(baseURL string, reqTimeout time.Duration) *HTTPRecognizer {
	return &HTTPRecognizer{newHTTPEngine(baseURL, reqTimeout)}
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, audio []byte, languageHint string) (Recognition, error) {
	payload := struct {
		Audio    []byte `json:"audio"` // base64 on the wire
		Language string `json:"language,omitempty"`
	}{Audio: audio, Language: languageHint}
	var resp struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := r.postJSON(ctx, "/recognize", payload, &resp); err != nil {
		return Recognition{}, err
	}
	return Recognition{Text: resp.Text, Confidence: resp.Confidence}, nil
}

// HTTPResponder talks to a language-model server.
type HTTPResponder struct{ httpEngine }

func NewHTTPResponder(baseURL string, reqTimeout time.Duration) *HTTPResponder {
	return &HTTPResponder{newHTTPEngine(baseURL, reqTimeout)}
}

func (r *HTTPResponder) Respond(ctx context.Context, message string, history []string, maxTokens int, temperature float64) (Reply, error) {
	payload := struct {
		Message     string   `json:"message"`
		History     []string `json:"history,omitempty"`
		MaxTokens   int      `json:"max_tokens,omitempty"`
		Temperature float64  `json:"temperature,omitempty"`
	}{Message: message, History: history, MaxTokens: maxTokens, Temperature: temperature}
	var resp struct {
		Text string `json:"text"`
	}
	if err := r.postJSON(ctx, "/chat", payload, &resp); err != nil {
		return Reply{}, err
	}
	return Reply{Text: resp.Text}, nil
}

// HTTPSpeaker talks to a text-to-speech server.
type HTTPSpeaker struct{ httpEngine }

func NewHTTPSpeaker(baseURL string, reqTimeout time.Duration) *HTTPSpeaker {
	return &HTTPSpeaker{newHTTPEngine(baseURL, reqTimeout)}
}

func (s *HTTPSpeaker) Speak(ctx context.Context, text string, voice types.VoiceConfig) (Speech, error) {
	payload := struct {
		Text        string  `json:"text"`
		Voice       string  `json:"voice,omitempty"`
		SpeedRatio  float64 `json:"speed_ratio,omitempty"`
		VolumeRatio float64 `json:"volume_ratio,omitempty"`
		PitchRatio  float64 `json:"pitch_ratio,omitempty"`
	}{Text: text, Voice: voice.Voice, SpeedRatio: voice.SpeedRatio, VolumeRatio: voice.VolumeRatio, PitchRatio: voice.PitchRatio}
	var resp struct {
		AudioRef   string `json:"audio_ref"`
		DurationMS int64  `json:"duration_ms"`
	}
	if err := s.postJSON(ctx, "/synthesize", payload, &resp); err != nil {
		return Speech{}, err
	}
	if resp.AudioRef == "" {
		return Speech{}, ErrUpstreamFailure("tts returned no audio reference")
	}
	return Speech{AudioRef: resp.AudioRef, Duration: time.Duration(resp.DurationMS) * time.Millisecond}, nil
}
