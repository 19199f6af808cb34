// Package scheduler admits, classifies, and dispatches single-shot
// generation tasks across the fixed GPU pool. Admission is fail-fast
// against a global outstanding ceiling; dispatch is strict priority
// across four FIFO tiers onto per-GPU workers.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"avatard/internal/engine"
	"avatard/internal/gpu"
	"avatard/internal/metrics"
	"avatard/internal/persona"
	"avatard/pkg/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultMaxOutstanding   = 1000
	defaultHighUseThreshold = 3
	defaultBacklogLimit     = 2
	defaultWorkerQueue      = 4
	defaultTaskTimeout      = 120 * time.Second
	defaultRetryPause       = 50 * time.Millisecond
)

// Config tunes admission and dispatch.
type Config struct {
	// MaxOutstanding is the admission ceiling: queued plus in-flight tasks.
	MaxOutstanding int64
	// HighUseThreshold promotes personas used at least this often to High.
	HighUseThreshold int64
	// BacklogLimit is the largest worker backlog the dispatcher will still
	// hand a task to when no idle worker exists.
	BacklogLimit int
	// WorkerQueue is each worker's task channel capacity.
	WorkerQueue int
	// TaskTimeout is the hard per-job deadline for video synthesis.
	TaskTimeout time.Duration
	// BootstrapGPU is the device persona preprocessing is charged to.
	BootstrapGPU int
	// VIPCallers are caller identities admitted to the VIP tier.
	VIPCallers []string
	// RetryPause bounds the dispatcher's wait when no worker qualifies.
	RetryPause time.Duration
}

type worker struct {
	gpuID int
	tasks chan *Task

	mu         sync.Mutex
	busy       bool
	dispatched int64
	completed  int64
	failed     int64
}

func (w *worker) setBusy(v bool) {
	w.mu.Lock()
	w.busy = v
	w.mu.Unlock()
}

func (w *worker) status() types.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return types.WorkerStatus{
		GPUID:      w.gpuID,
		Backlog:    len(w.tasks),
		Busy:       w.busy,
		Dispatched: w.dispatched,
		Completed:  w.completed,
		Failed:     w.failed,
	}
}

// Scheduler owns the tier queues, the dispatcher, and one worker per GPU.
type Scheduler struct {
	gpus     *gpu.Manager
	personas *persona.Cache
	pre      engine.Preprocessor
	video    engine.VideoSynthesizer
	log      zerolog.Logger

	maxOutstanding   int64
	highUseThreshold int64
	backlogLimit     int
	taskTimeout      time.Duration
	bootstrapGPU     int
	retryPause       time.Duration
	vip              map[string]struct{}

	outstanding atomic.Int64

	qmu    sync.Mutex
	queues [tierCount][]*Task

	wake    chan struct{}
	workers []*worker
}

func New(gpus *gpu.Manager, personas *persona.Cache, pre engine.Preprocessor, video engine.VideoSynthesizer, log zerolog.Logger, cfg Config) *Scheduler {
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = defaultMaxOutstanding
	}
	if cfg.HighUseThreshold <= 0 {
		cfg.HighUseThreshold = defaultHighUseThreshold
	}
	if cfg.BacklogLimit <= 0 {
		cfg.BacklogLimit = defaultBacklogLimit
	}
	if cfg.WorkerQueue <= 0 {
		cfg.WorkerQueue = defaultWorkerQueue
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = defaultRetryPause
	}
	s := &Scheduler{
		gpus:             gpus,
		personas:         personas,
		pre:              pre,
		video:            video,
		log:              log,
		maxOutstanding:   cfg.MaxOutstanding,
		highUseThreshold: cfg.HighUseThreshold,
		backlogLimit:     cfg.BacklogLimit,
		taskTimeout:      cfg.TaskTimeout,
		bootstrapGPU:     cfg.BootstrapGPU,
		retryPause:       cfg.RetryPause,
		vip:              make(map[string]struct{}, len(cfg.VIPCallers)),
		wake:             make(chan struct{}, 1),
	}
	for _, c := range cfg.VIPCallers {
		s.vip[c] = struct{}{}
	}
	// Initialize every tier series so scrapes show all four at zero.
	for tier := Tier(0); tier < tierCount; tier++ {
		metrics.QueueDepth.WithLabelValues(tier.String())
	}
	for i := 0; i < gpus.DeviceCount(); i++ {
		s.workers = append(s.workers, &worker{gpuID: i, tasks: make(chan *Task, cfg.WorkerQueue)})
	}
	return s
}

// Submit admits one request. It returns a Task handle immediately; the
// caller waits on Task.Done. Rejection with ErrCapacityExceeded happens
// before any queuing.
func (s *Scheduler) Submit(req types.SubmitTaskRequest) (*Task, error) {
	if req.PersonaID == "" {
		return nil, ErrValidation("persona_id is required")
	}
	if req.AudioRef == "" {
		return nil, ErrValidation("audio_ref is required")
	}
	if s.outstanding.Add(1) > s.maxOutstanding {
		s.outstanding.Add(-1)
		return nil, ErrCapacityExceeded()
	}
	metrics.TasksInflight.Inc()

	q := engine.Standard()
	if req.Quality == "fast" {
		q = engine.LowLatency()
	}
	t := &Task{
		ID:        uuid.NewString(),
		PersonaID: req.PersonaID,
		SourceRef: req.SourceRef,
		AudioRef:  req.AudioRef,
		Quality:   q,
		tier:      s.classify(req),
		submitted: time.Now(),
		done:      make(chan Outcome, 1),
	}
	s.personas.Ensure(t.PersonaID, t.SourceRef)
	s.personas.Touch(t.PersonaID)

	s.qmu.Lock()
	s.queues[t.tier] = append(s.queues[t.tier], t)
	s.qmu.Unlock()
	metrics.QueueDepth.WithLabelValues(t.tier.String()).Inc()
	s.notify()
	return t, nil
}

// classify tags the request with a priority tier. Caller identity wins;
// an explicit low hint deprioritizes anything that is not VIP; a warm
// persona earns High.
func (s *Scheduler) classify(req types.SubmitTaskRequest) Tier {
	if _, ok := s.vip[req.CallerID]; ok {
		return TierVIP
	}
	if req.Priority == "low" {
		return TierLow
	}
	if s.personas.IsReady(req.PersonaID) || s.personas.UseCount(req.PersonaID) >= s.highUseThreshold {
		return TierHigh
	}
	return TierNormal
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dequeue pops the head of the highest nonempty tier, or nil.
func (s *Scheduler) dequeue() *Task {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	for tier := range s.queues {
		if len(s.queues[tier]) == 0 {
			continue
		}
		t := s.queues[tier][0]
		s.queues[tier] = s.queues[tier][1:]
		metrics.QueueDepth.WithLabelValues(Tier(tier).String()).Dec()
		return t
	}
	return nil
}

// requeue puts a task back at the tail of its own tier.
func (s *Scheduler) requeue(t *Task) {
	s.qmu.Lock()
	s.queues[t.tier] = append(s.queues[t.tier], t)
	s.qmu.Unlock()
	metrics.QueueDepth.WithLabelValues(t.tier.String()).Inc()
}

// pickWorker prefers a worker that is both idle and has an empty backlog,
// else the shortest backlog still under the limit.
func (s *Scheduler) pickWorker() *worker {
	var best *worker
	bestLen := s.backlogLimit
	for _, w := range s.workers {
		w.mu.Lock()
		busy := w.busy
		w.mu.Unlock()
		n := len(w.tasks)
		if !busy && n == 0 {
			return w
		}
		if n < bestLen {
			best = w
			bestLen = n
		}
	}
	return best
}

// Run starts the dispatcher and one worker per GPU, and blocks until ctx
// is cancelled. Tasks still queued or backlogged at shutdown are fulfilled
// with an upstream failure so no waiter hangs.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range s.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			s.runWorker(ctx, w)
		}(w)
	}
	s.dispatch(ctx)
	wg.Wait()
	s.drain()
}

func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		t := s.dequeue()
		if t == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		w := s.pickWorker()
		if w == nil {
			s.requeue(t)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryPause):
			}
			continue
		}
		select {
		case w.tasks <- t:
			w.mu.Lock()
			w.dispatched++
			w.mu.Unlock()
		default:
			// Backlog filled between the pick and the send.
			s.requeue(t)
		}
	}
}

func (s *Scheduler) runWorker(ctx context.Context, w *worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.tasks:
			s.runTask(ctx, w, t)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, w *worker, t *Task) {
	w.setBusy(true)
	defer w.setBusy(false)

	if !s.personas.IsReady(t.PersonaID) {
		if err := s.preprocess(ctx, t); err != nil {
			s.finish(w, t, Outcome{Err: err, Latency: time.Since(t.submitted)})
			return
		}
	}

	gpuID, err := s.gpus.Allocate(w.gpuID, gpu.VideoSynthesis)
	if err != nil {
		s.finish(w, t, Outcome{Err: err, Latency: time.Since(t.submitted)})
		return
	}
	defer s.gpus.Release(gpuID, gpu.VideoSynthesis)

	jobCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()
	start := time.Now()
	vid, err := s.video.Synthesize(jobCtx, t.PersonaID, t.AudioRef, t.Quality)
	latency := time.Since(start)
	if err != nil {
		deadline := errors.Is(err, context.DeadlineExceeded) || jobCtx.Err() == context.DeadlineExceeded
		if deadline && !engine.IsTimeout(err) {
			err = engine.ErrTimeout("video synthesis exceeded " + s.taskTimeout.String())
		}
		s.finish(w, t, Outcome{Err: err, Latency: latency})
		return
	}
	s.finish(w, t, Outcome{VideoRef: vid.VideoRef, Latency: latency})
}

// preprocess runs one-time persona preparation, charged to the bootstrap
// device rather than the worker's own.
func (s *Scheduler) preprocess(ctx context.Context, t *Task) error {
	gpuID, err := s.gpus.Allocate(s.bootstrapGPU, gpu.General)
	if err != nil {
		return err
	}
	defer s.gpus.Release(gpuID, gpu.General)
	if err := s.pre.Preprocess(ctx, t.PersonaID, t.SourceRef); err != nil {
		return err
	}
	s.personas.MarkReady(t.PersonaID, t.SourceRef)
	return nil
}

// delivered runs inside the fulfil once-guard when an outcome lands.
func (s *Scheduler) delivered() {
	s.outstanding.Add(-1)
	metrics.TasksInflight.Dec()
}

func (s *Scheduler) finish(w *worker, t *Task, out Outcome) {
	t.fulfil(out, s.delivered)
	w.mu.Lock()
	if out.Err != nil {
		w.failed++
	} else {
		w.completed++
	}
	w.mu.Unlock()
	if out.Err != nil {
		s.log.Warn().Str("task", t.ID).Str("tier", t.tier.String()).
			Int("gpu", w.gpuID).Err(out.Err).Msg("task failed")
	} else {
		s.log.Info().Str("task", t.ID).Str("tier", t.tier.String()).
			Int("gpu", w.gpuID).Dur("latency", out.Latency).Msg("task done")
	}
}

// drain fulfils everything still queued after shutdown.
func (s *Scheduler) drain() {
	stop := engine.ErrUpstreamFailure("scheduler stopped")
	for {
		t := s.dequeue()
		if t == nil {
			break
		}
		t.fulfil(Outcome{Err: stop}, s.delivered)
	}
	for _, w := range s.workers {
	backlog:
		for {
			select {
			case t := <-w.tasks:
				t.fulfil(Outcome{Err: stop}, s.delivered)
			default:
				break backlog
			}
		}
	}
}

// Outstanding reports queued plus in-flight tasks.
func (s *Scheduler) Outstanding() int64 { return s.outstanding.Load() }

// Tiers reports per-tier queue depth.
func (s *Scheduler) Tiers() []types.TierStatus {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	out := make([]types.TierStatus, 0, tierCount)
	for tier := range s.queues {
		out = append(out, types.TierStatus{Tier: Tier(tier).String(), Queued: len(s.queues[tier])})
	}
	return out
}

// Workers reports per-GPU worker statistics.
func (s *Scheduler) Workers() []types.WorkerStatus {
	out := make([]types.WorkerStatus, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.status())
	}
	return out
}
