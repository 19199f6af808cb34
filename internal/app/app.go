// Package app wires the GPU manager, persona cache, engines, pipeline
// orchestrator, and priority scheduler into one service behind the HTTP
// layer, and owns their background loops.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"avatard/internal/config"
	"avatard/internal/engine"
	"avatard/internal/gpu"
	"avatard/internal/persona"
	"avatard/internal/pipeline"
	"avatard/internal/scheduler"
	"avatard/pkg/types"

	"github.com/rs/zerolog"
)

// App composes the daemon's subsystems. It implements httpapi.Service.
type App struct {
	cfg config.Config
	log zerolog.Logger

	gpus     *gpu.Manager
	personas *persona.Cache
	orch     *pipeline.Orchestrator
	sched    *scheduler.Scheduler
	videoSvc *engine.Service // nil unless configured

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	ready bool
}

// New builds the object graph from config. Background loops do not run
// until Start.
func New(cfg config.Config, log zerolog.Logger) (*App, error) {
	specs := make([]gpu.DeviceSpec, 0, len(cfg.GPUs))
	for _, g := range cfg.GPUs {
		specs = append(specs, gpu.DeviceSpec{
			Name:          g.Name,
			TotalMemoryMB: g.TotalMemoryMB,
			Affinity:      gpu.ParseWorkload(g.Affinity),
			MaxTasks:      g.MaxTasks,
		})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no gpus configured")
	}
	gpus := gpu.New(gpu.ManagerConfig{
		Devices:       specs,
		Probe:         &gpu.SMIProbe{},
		ProbeInterval: time.Duration(cfg.ProbeIntervalS) * time.Second,
	})

	personas := persona.New(persona.Config{
		Dir:           cfg.PersonaDir,
		Capacity:      cfg.CacheCapacity,
		Retention:     time.Duration(cfg.CacheRetentionH) * time.Hour,
		SweepInterval: time.Duration(cfg.SweepIntervalM) * time.Minute,
	})

	taskTimeout := time.Duration(cfg.TaskTimeoutS) * time.Second

	var synth engine.VideoSynthesizer
	var pre engine.Preprocessor
	var videoSvc *engine.Service
	if cfg.Video.Addr != "" {
		videoSvc = engine.NewService(engine.ServiceConfig{
			Addr:        cfg.Video.Addr,
			Bin:         cfg.Video.Bin,
			CallTimeout: taskTimeout,
		})
		synth, pre = videoSvc, videoSvc
	} else if cfg.Video.Bin != "" {
		runner := &engine.JobRunner{
			Bin:        cfg.Video.Bin,
			OutputDir:  cfg.OutputDir,
			PersonaDir: cfg.PersonaDir,
			Timeout:    taskTimeout,
		}
		synth, pre = runner, runner
	} else {
		return nil, fmt.Errorf("video engine not configured: need video.addr or video.bin")
	}

	eng := pipeline.Engines{
		Recognizer:   engine.NewHTTPRecognizer(cfg.ASR.BaseURL, engineTimeout(cfg.ASR)),
		Responder:    engine.NewHTTPResponder(cfg.LLM.BaseURL, engineTimeout(cfg.LLM)),
		Speaker:      engine.NewHTTPSpeaker(cfg.TTS.BaseURL, engineTimeout(cfg.TTS)),
		Video:        synth,
		Preprocessor: pre,
	}

	orch := pipeline.NewOrchestrator(gpus, personas, eng, log, pipeline.OrchestratorConfig{})
	sched := scheduler.New(gpus, personas, pre, synth, log, scheduler.Config{
		MaxOutstanding: int64(cfg.MaxOutstanding),
		TaskTimeout:    taskTimeout,
		VIPCallers:     cfg.VIPCallers,
	})

	return &App{
		cfg:      cfg,
		log:      log,
		gpus:     gpus,
		personas: personas,
		orch:     orch,
		sched:    sched,
		videoSvc: videoSvc,
	}, nil
}

func engineTimeout(ec config.EngineConfig) time.Duration {
	return time.Duration(ec.TimeoutMS) * time.Millisecond
}

// Start launches the probe loop, cache sweeper, and scheduler, and spawns
// the persistent video service when configured.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.videoSvc != nil {
		if err := a.videoSvc.Start(ctx); err != nil {
			cancel()
			return err
		}
	}

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.gpus.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.personas.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.sched.Run(ctx)
	}()

	a.mu.Lock()
	a.ready = true
	a.mu.Unlock()
	a.log.Info().Int("gpus", a.gpus.DeviceCount()).Msg("app started")
	return nil
}

// Close tears down sessions, loops, and the owned video process.
func (a *App) Close() {
	a.mu.Lock()
	a.ready = false
	a.mu.Unlock()

	a.orch.StopAll()
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.videoSvc != nil {
		a.videoSvc.Stop()
	}
	a.log.Info().Msg("app stopped")
}

func (a *App) StartSession(ctx context.Context, req types.StartSessionRequest) (string, error) {
	return a.orch.Start(ctx, pipeline.Config{
		PersonaID:      req.PersonaID,
		SourceRef:      req.SourceRef,
		Voice:          req.Voice,
		Language:       req.Language,
		MaxReplyTokens: req.MaxReplyTokens,
	})
}

func (a *App) PushAudio(sessionID string, r io.Reader) error {
	return a.orch.PushAudio(sessionID, r)
}

func (a *App) StopSession(sessionID string) bool {
	return a.orch.Stop(sessionID)
}

func (a *App) SessionStatus(sessionID string) (types.SessionStatusResponse, error) {
	return a.orch.Status(sessionID)
}

// StreamSegments writes one NDJSON event per rendered segment until the
// session's result channel closes or ctx ends.
func (a *App) StreamSegments(ctx context.Context, sessionID string, w io.Writer, flush func()) error {
	results, err := a.orch.Results(sessionID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-results:
			if !ok {
				return nil
			}
			ev := types.SegmentEvent{
				VideoRef:  res.VideoRef,
				Text:      res.Text,
				LatencyMs: res.Latency.Milliseconds(),
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
			if flush != nil {
				flush()
			}
		}
	}
}

// SubmitTask runs one task synchronously from the caller's point of view:
// admission is immediate, the call then waits for the outcome.
func (a *App) SubmitTask(ctx context.Context, req types.SubmitTaskRequest) (types.TaskResponse, error) {
	task, err := a.sched.Submit(req)
	if err != nil {
		return types.TaskResponse{}, err
	}
	select {
	case <-ctx.Done():
		return types.TaskResponse{}, ctx.Err()
	case out := <-task.Done():
		if out.Err != nil {
			return types.TaskResponse{}, out.Err
		}
		return types.TaskResponse{
			TaskID:    task.ID,
			VideoRef:  out.VideoRef,
			LatencyMs: out.Latency.Milliseconds(),
		}, nil
	}
}

func (a *App) Status() types.StatusResponse {
	return types.StatusResponse{
		GPUs:             a.gpus.Snapshot(),
		ActiveSessions:   a.orch.ActiveSessions(),
		OutstandingTasks: a.sched.Outstanding(),
		Tiers:            a.sched.Tiers(),
		Workers:          a.sched.Workers(),
		Personas:         a.personas.Stats(),
	}
}

func (a *App) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}
