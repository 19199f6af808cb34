package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ServiceConfig configures the persistent video-synthesis process handle.
type ServiceConfig struct {
	// Addr is the socket the process listens on. Paths (containing '/')
	// dial a unix socket, anything else is host:port TCP.
	Addr string
	// Bin, when non-empty, is spawned and owned by this handle for its
	// lifetime. When empty the handle only dials an externally managed
	// process.
	Bin  string
	Args []string
	// DialTimeout bounds how long Start waits for the socket to come up.
	DialTimeout time.Duration
	// CallTimeout is the per-call budget applied when the caller context
	// carries no deadline.
	CallTimeout time.Duration
}

// Service is an explicitly constructed, lifecycle-scoped handle to the
// persistent video-synthesis process: Start, use, Stop. It replaces any
// notion of an ambient global process owner. One request/response pair is in
// flight at a time; calls serialize on the connection mutex.
type Service struct {
	cfg ServiceConfig

	mu   sync.Mutex
	conn net.Conn
	cmd  *exec.Cmd
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	return &Service{cfg: cfg}
}

func (s *Service) network() string {
	if strings.Contains(s.cfg.Addr, "/") {
		return "unix"
	}
	return "tcp"
}

// Start spawns the process when configured with a binary, then dials the
// socket with bounded retry until the process answers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	if s.cfg.Bin != "" {
		cmd := exec.Command(s.cfg.Bin, s.cfg.Args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("spawn video service: %w", err)
		}
		s.cmd = cmd
		log.Printf("engine event=video_service_spawned pid=%d addr=%s", cmd.Process.Pid, s.cfg.Addr)
	}
	deadline := time.Now().Add(s.cfg.DialTimeout)
	for {
		conn, err := net.DialTimeout(s.network(), s.cfg.Addr, time.Second)
		if err == nil {
			s.conn = conn
			return nil
		}
		if ctx.Err() != nil {
			s.stopProcessLocked()
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			s.stopProcessLocked()
			return ErrUpstreamFailure(fmt.Sprintf("video service not reachable at %s: %v", s.cfg.Addr, err))
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// Stop closes the connection and terminates a spawned process, SIGTERM first
// with a short grace period, then SIGKILL.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.stopProcessLocked()
}

func (s *Service) stopProcessLocked() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = s.cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = s.cmd.Process.Kill()
		<-done
	}
	s.cmd = nil
}

// call sends one framed request and reads exactly one framed response.
func (s *Service) call(ctx context.Context, command string, payload, out any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	if conn == nil {
		return ErrUpstreamFailure("video service not started")
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.cfg.CallTimeout)
	}
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	if err := writeFrame(conn, frameRequest{Command: command, Payload: raw}); err != nil {
		return s.ioError(conn, command, err)
	}
	var resp frameResponse
	if err := readFrame(conn, &resp); err != nil {
		return s.ioError(conn, command, err)
	}
	if resp.Code != 0 {
		return ErrUpstreamFailure(fmt.Sprintf("video service %s: %s", command, resp.Msg))
	}
	if out != nil && resp.Data != nil {
		return json.Unmarshal(resp.Data, out)
	}
	return nil
}

// ioError classifies a transport failure. After any I/O error the framing
// stream cannot be trusted, so the connection is dropped; the next Start
// re-dials.
func (s *Service) ioError(conn net.Conn, command string, err error) error {
	_ = conn.Close()
	s.conn = nil
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimeout(fmt.Sprintf("video service %s deadline exceeded", command))
	}
	return ErrUpstreamFailure(fmt.Sprintf("video service %s: %v", command, err))
}

// Health checks the process is responsive.
func (s *Service) Health(ctx context.Context) error {
	return s.call(ctx, cmdHealth, nil, nil)
}

// Synthesize implements VideoSynthesizer over the persistent process.
func (s *Service) Synthesize(ctx context.Context, personaRef, drivingAudioRef string, q QualityParams) (Video, error) {
	payload := struct {
		PersonaRef      string `json:"persona_ref"`
		DrivingAudioRef string `json:"driving_audio_ref"`
		BatchSize       int    `json:"batch_size,omitempty"`
		Resolution      int    `json:"resolution,omitempty"`
		Steps           int    `json:"steps,omitempty"`
	}{personaRef, drivingAudioRef, q.BatchSize, q.Resolution, q.Steps}
	var data struct {
		VideoRef string `json:"video_ref"`
	}
	if err := s.call(ctx, cmdInfer, payload, &data); err != nil {
		return Video{}, err
	}
	if data.VideoRef == "" {
		return Video{}, ErrUpstreamFailure("video service returned no output reference")
	}
	return Video{VideoRef: data.VideoRef}, nil
}

// Preprocess implements Preprocessor over the persistent process.
func (s *Service) Preprocess(ctx context.Context, personaID, sourceRef string) error {
	payload := struct {
		PersonaID string `json:"persona_id"`
		SourceRef string `json:"source_ref,omitempty"`
	}{personaID, sourceRef}
	return s.call(ctx, cmdPreprocess, payload, nil)
}

// CacheCheck asks the process whether persona artifacts are already present.
func (s *Service) CacheCheck(ctx context.Context, personaID string) (bool, error) {
	payload := struct {
		PersonaID string `json:"persona_id"`
	}{personaID}
	var data struct {
		Cached bool `json:"cached"`
	}
	if err := s.call(ctx, cmdCacheCheck, payload, &data); err != nil {
		return false, err
	}
	return data.Cached, nil
}

// Status returns the raw status document reported by the process.
func (s *Service) Status(ctx context.Context) (json.RawMessage, error) {
	var data json.RawMessage
	if err := s.call(ctx, cmdStatus, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}
