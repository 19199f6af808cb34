package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"avatard/pkg/types"
)

func TestHTTPRecognizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recognize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Audio    []byte `json:"audio"`
			Language string `json:"language"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Audio) != 4 || req.Language != "zh" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "你好", "confidence": 0.93})
	}))
	defer srv.Close()

	rec := NewHTTPRecognizer(srv.URL, time.Second)
	out, err := rec.Recognize(context.Background(), []byte{1, 2, 3, 4}, "zh")
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if out.Text != "你好" || out.Confidence != 0.93 {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestHTTPResponder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message   string `json:"message"`
			MaxTokens int    `json:"max_tokens"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.MaxTokens != 64 {
			t.Errorf("expected max_tokens 64, got %d", req.MaxTokens)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "reply to " + req.Message})
	}))
	defer srv.Close()

	resp := NewHTTPResponder(srv.URL, time.Second)
	out, err := resp.Respond(context.Background(), "hi", nil, 64, 0.7)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if out.Text != "reply to hi" {
		t.Fatalf("unexpected reply: %q", out.Text)
	}
}

func TestHTTPSpeaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"audio_ref": "/tmp/x.wav", "duration_ms": 1500})
	}))
	defer srv.Close()

	sp := NewHTTPSpeaker(srv.URL, time.Second)
	out, err := sp.Speak(context.Background(), "hello", types.VoiceConfig{Voice: "v1"})
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if out.AudioRef != "/tmp/x.wav" || out.Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected speech: %+v", out)
	}
}

func TestHTTPSpeakerEmptyRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()
	sp := NewHTTPSpeaker(srv.URL, time.Second)
	if _, err := sp.Speak(context.Background(), "x", types.VoiceConfig{}); !IsUpstreamFailure(err) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
}

func TestHTTPEngineNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()
	rec := NewHTTPRecognizer(srv.URL, time.Second)
	if _, err := rec.Recognize(context.Background(), nil, ""); !IsUpstreamFailure(err) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
}
