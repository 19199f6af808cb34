// Package pipeline runs real-time streaming sessions: four chained stage
// loops (speech recognition, language model, speech synthesis, video
// synthesis) over bounded queues, each stage pinned to a GPU held for the
// session's lifetime.
package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"avatard/internal/engine"
	"avatard/internal/gpu"
	"avatard/internal/metrics"
	"avatard/internal/persona"
	"avatard/pkg/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engines bundles the collaborator engines a session drives. Preprocessor
// prepares cold personas before their first synthesis.
type Engines struct {
	Recognizer   engine.Recognizer
	Responder    engine.Responder
	Speaker      engine.Speaker
	Video        engine.VideoSynthesizer
	Preprocessor engine.Preprocessor
}

// OrchestratorConfig tunes session construction.
type OrchestratorConfig struct {
	// QueueCap overrides the per-stage queue capacity (default 100).
	QueueCap int
	// BootstrapGPU is the device persona preprocessing is charged to.
	BootstrapGPU int
}

// Orchestrator owns all live sessions.
type Orchestrator struct {
	gpus         *gpu.Manager
	personas     *persona.Cache
	eng          Engines
	log          zerolog.Logger
	queueCap     int
	bootstrapGPU int

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewOrchestrator(gpus *gpu.Manager, personas *persona.Cache, eng Engines, log zerolog.Logger, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		gpus:         gpus,
		personas:     personas,
		eng:          eng,
		log:          log,
		queueCap:     cfg.QueueCap,
		bootstrapGPU: cfg.BootstrapGPU,
		sessions:     make(map[string]*Session),
	}
}

// Start preprocesses the persona if its cache entry is not yet ready,
// allocates one GPU per stage family, and brings the session to Active.
// Video synthesis never sees a persona whose preprocessing has not
// completed. Allocation is atomic: any GPU already taken is released
// before the error surfaces, so a failed start leaves no orphaned slots.
func (o *Orchestrator) Start(ctx context.Context, cfg Config) (string, error) {
	o.personas.Ensure(cfg.PersonaID, cfg.SourceRef)
	if !o.personas.IsReady(cfg.PersonaID) {
		if err := o.prepare(ctx, cfg); err != nil {
			return "", err
		}
	}

	audioGPU, err := o.gpus.Allocate(-1, gpu.SpeechRecognition)
	if err != nil {
		return "", err
	}
	llmGPU, err := o.gpus.Allocate(-1, gpu.LanguageModel)
	if err != nil {
		o.gpus.Release(audioGPU, gpu.SpeechRecognition)
		return "", err
	}
	videoGPU, err := o.gpus.Allocate(-1, gpu.VideoSynthesis)
	if err != nil {
		o.gpus.Release(audioGPU, gpu.SpeechRecognition)
		o.gpus.Release(llmGPU, gpu.LanguageModel)
		return "", err
	}

	s := newSession(uuid.NewString(), cfg, audioGPU, llmGPU, videoGPU, o.queueCap)
	o.mu.Lock()
	o.sessions[s.ID] = s
	o.mu.Unlock()
	metrics.ActiveSessions.Inc()

	s.wg.Add(4)
	go o.runAudioStage(s)
	go o.runReplyStage(s)
	go o.runSpeechStage(s)
	go o.runVideoStage(s)

	o.log.Info().
		Str("session", s.ID).
		Str("persona", cfg.PersonaID).
		Int("audio_gpu", audioGPU).
		Int("llm_gpu", llmGPU).
		Int("video_gpu", videoGPU).
		Msg("session started")
	return s.ID, nil
}

// prepare runs one-time persona preprocessing, charged to the bootstrap
// device rather than the GPUs the session is about to hold.
func (o *Orchestrator) prepare(ctx context.Context, cfg Config) error {
	gpuID, err := o.gpus.Allocate(o.bootstrapGPU, gpu.General)
	if err != nil {
		return err
	}
	defer o.gpus.Release(gpuID, gpu.General)
	if err := o.eng.Preprocessor.Preprocess(ctx, cfg.PersonaID, cfg.SourceRef); err != nil {
		return err
	}
	o.personas.MarkReady(cfg.PersonaID, cfg.SourceRef)
	return nil
}

func (o *Orchestrator) lookup(id string) (*Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[id]
	return s, ok
}

// PushAudio drains the caller stream into the session in small fixed reads,
// accumulating roughly one second of audio per enqueued chunk. The trailing
// partial chunk is flushed when the stream ends, so short utterances are not
// held back waiting for more audio. A full audio queue suspends this call;
// backpressure is the sole throttling mechanism.
func (o *Orchestrator) PushAudio(id string, r io.Reader) error {
	s, ok := o.lookup(id)
	if !ok {
		return ErrUnknownSession(id)
	}
	if !s.active.Load() {
		return ErrSessionInactive(id)
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	if s.ctx.Err() != nil {
		return ErrSessionInactive(id)
	}

	var pending []byte
	buf := make([]byte, ingestChunkBytes)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for len(pending) >= bytesPerChunk {
				if e := s.enqueueAudio(pending[:bytesPerChunk:bytesPerChunk]); e != nil {
					return e
				}
				pending = pending[bytesPerChunk:]
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		return s.enqueueAudio(pending)
	}
	return nil
}

func (s *Session) enqueueAudio(data []byte) error {
	chunk := AudioChunk{Data: append([]byte(nil), data...), At: time.Now()}
	select {
	case s.audioQ <- chunk:
		s.touch()
		return nil
	case <-s.ctx.Done():
		return ErrSessionInactive(s.ID)
	}
}

// Stop tears a session down: raises the cancellation signal observed by all
// four stage loops and any in-flight engine call, releases the three GPUs,
// and closes the ingest queue so blocked readers complete instead of
// hanging. Idempotent; returns false when the session is unknown or already
// stopped.
func (o *Orchestrator) Stop(id string) bool {
	o.mu.Lock()
	s, ok := o.sessions[id]
	if ok {
		delete(o.sessions, id)
	}
	o.mu.Unlock()
	if !ok {
		return false
	}

	s.stopOnce.Do(func() {
		s.active.Store(false)
		s.cancel()
		// Producers hold ingestMu while sending and bail out on ctx
		// cancellation, so closing under the same mutex cannot race a send.
		s.ingestMu.Lock()
		close(s.audioQ)
		s.ingestMu.Unlock()

		s.wg.Wait()
		o.releaseSession(s)
		o.log.Info().Str("session", s.ID).Msg("session stopped")
	})
	return true
}

func (o *Orchestrator) releaseSession(s *Session) {
	o.gpus.Release(s.audioGPU, gpu.SpeechRecognition)
	o.gpus.Release(s.llmGPU, gpu.LanguageModel)
	o.gpus.Release(s.videoGPU, gpu.VideoSynthesis)
	metrics.ActiveSessions.Dec()
}

// fault tears a session down in place after a stage gives up on it. The
// session stays registered so the terminal state is observable until a
// caller stops it. Called from inside a stage goroutine, so the GPU release
// waits for the loops on a separate goroutine.
func (o *Orchestrator) fault(s *Session, stage string, err error) {
	s.stopOnce.Do(func() {
		s.faulted.Store(true)
		s.active.Store(false)
		s.cancel()
		s.ingestMu.Lock()
		close(s.audioQ)
		s.ingestMu.Unlock()
		o.log.Error().Str("session", s.ID).Str("stage", stage).Err(err).Msg("session faulted")
		go func() {
			s.wg.Wait()
			o.releaseSession(s)
		}()
	})
}

// StopAll stops every live session; used at daemon shutdown.
func (o *Orchestrator) StopAll() {
	o.mu.RLock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.RUnlock()
	for _, id := range ids {
		o.Stop(id)
	}
}

// Status reports the live projection of one session. Unknown ids are an
// error, not a zero value.
func (o *Orchestrator) Status(id string) (types.SessionStatusResponse, error) {
	s, ok := o.lookup(id)
	if !ok {
		return types.SessionStatusResponse{}, ErrUnknownSession(id)
	}
	return s.status(), nil
}

// Results returns the session's result channel for streaming consumers.
func (o *Orchestrator) Results(id string) (<-chan Result, error) {
	s, ok := o.lookup(id)
	if !ok {
		return nil, ErrUnknownSession(id)
	}
	return s.Results(), nil
}

// ActiveSessions counts live sessions; faulted sessions stay registered
// until stopped but no longer count.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for _, s := range o.sessions {
		if s.active.Load() {
			n++
		}
	}
	return n
}
