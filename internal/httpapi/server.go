package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"avatard/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	StartSession(ctx context.Context, req types.StartSessionRequest) (string, error)
	PushAudio(sessionID string, r io.Reader) error
	StopSession(sessionID string) bool
	SessionStatus(sessionID string) (types.SessionStatusResponse, error)
	// StreamSegments writes NDJSON segment events to w until the session
	// ends or ctx is canceled.
	StreamSegments(ctx context.Context, sessionID string, w io.Writer, flush func()) error
	SubmitTask(ctx context.Context, req types.SubmitTaskRequest) (types.TaskResponse, error)
	Status() types.StatusResponse
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req types.StartSessionRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.PersonaID) == "" {
			writeJSONError(w, http.StatusBadRequest, "persona_id is required")
			return
		}
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		id, err := svc.StartSession(joinedCtx, req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		logEvent(r, "session start", "session", id)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(types.StartSessionResponse{SessionID: id})
	})

	r.Post("/sessions/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		body := http.MaxBytesReader(w, r.Body, maxAudioBytes)
		if err := svc.PushAudio(id, body); err != nil {
			if r.Context().Err() != nil {
				return
			}
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Delete("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		stopped := svc.StopSession(id)
		logEvent(r, "session stop", "session", id)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.StopSessionResponse{Stopped: stopped})
	})

	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.SessionStatus(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})

	r.Get("/sessions/{id}/segments", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := io.Writer(w)
		if requestLogLevel(r) >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{})
		}
		// Join server base context with request context so shutdown
		// cancels the stream too.
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.StreamSegments(joinedCtx, id, writer, flush); err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeDomainError(w, err)
		}
	})

	r.Post("/tasks", func(w http.ResponseWriter, r *http.Request) {
		var req types.SubmitTaskRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := svc.SubmitTask(joinedCtx, req)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeDomainError(w, err)
			if lvl >= LevelInfo {
				logEventErr(r, "task end", err, "status", itoa(statusFor(err)), "dur", time.Since(start).String())
			}
			return
		}
		if lvl >= LevelInfo {
			logEvent(r, "task end", "status", "200", "dur", time.Since(start).String())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// decodeJSONBody enforces content type and body-size limits, then decodes
// into dst. It writes the error response itself and reports success.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// An oversized body also surfaces here; return 400 without size details
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func logEvent(r *http.Request, msg string, kv ...string) {
	if zlog != nil {
		z := zlog.Info()
		for i := 0; i+1 < len(kv); i += 2 {
			z = z.Str(kv[i], kv[i+1])
		}
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg(msg)
		return
	}
	line := msg
	for i := 0; i+1 < len(kv); i += 2 {
		line += " " + kv[i] + "=" + kv[i+1]
	}
	log.Printf("%s", line)
}

func logEventErr(r *http.Request, msg string, err error, kv ...string) {
	if zlog != nil {
		z := zlog.Info().Err(err)
		for i := 0; i+1 < len(kv); i += 2 {
			z = z.Str(kv[i], kv[i+1])
		}
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg(msg)
		return
	}
	line := msg
	for i := 0; i+1 < len(kv); i += 2 {
		line += " " + kv[i] + "=" + kv[i+1]
	}
	log.Printf("%s err=%v", line, err)
}
