package ctl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"avatard/pkg/types"
)

func newFakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.StatusResponse{ActiveSessions: 2, OutstandingTasks: 5})
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		var req types.SubmitTaskRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.PersonaID == "reject" {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "admission ceiling reached", Code: 429})
			return
		}
		_ = json.NewEncoder(w).Encode(types.TaskResponse{TaskID: "t1", VideoRef: "/out.mp4", LatencyMs: 700})
	})
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(types.StartSessionResponse{SessionID: "sess-9"})
	})
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			_ = json.NewEncoder(w).Encode(types.StopSessionResponse{Stopped: true})
			return
		}
		_ = json.NewEncoder(w).Encode(types.SessionStatusResponse{Active: true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientStatus(t *testing.T) {
	srv := newFakeDaemon(t)
	st, err := NewClient(srv.URL).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.ActiveSessions != 2 || st.OutstandingTasks != 5 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestClientSubmitTask(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewClient(srv.URL)
	resp, err := c.SubmitTask(context.Background(), types.SubmitTaskRequest{PersonaID: "p1", AudioRef: "/a.wav"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.VideoRef != "/out.mp4" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientSurfacesErrorPayload(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewClient(srv.URL)
	_, err := c.SubmitTask(context.Background(), types.SubmitTaskRequest{PersonaID: "reject", AudioRef: "/a.wav"})
	if err == nil || !strings.Contains(err.Error(), "admission ceiling") {
		t.Fatalf("expected ceiling error surfaced, got %v", err)
	}
}

func TestClientSessionLifecycle(t *testing.T) {
	srv := newFakeDaemon(t)
	c := NewClient(srv.URL)
	ctx := context.Background()
	started, err := c.StartSession(ctx, types.StartSessionRequest{PersonaID: "p1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.SessionID != "sess-9" {
		t.Fatalf("unexpected session id: %q", started.SessionID)
	}
	st, err := c.SessionStatus(ctx, started.SessionID)
	if err != nil || !st.Active {
		t.Fatalf("session status: %+v err=%v", st, err)
	}
	stopped, err := c.StopSession(ctx, started.SessionID)
	if err != nil || !stopped.Stopped {
		t.Fatalf("stop: %+v err=%v", stopped, err)
	}
}
