package scheduler

import (
	"sync"
	"time"

	"avatard/internal/engine"
)

// Tier is a priority class. Lower values dispatch first.
type Tier int

const (
	TierVIP Tier = iota
	TierHigh
	TierNormal
	TierLow

	tierCount = 4
)

func (t Tier) String() string {
	switch t {
	case TierVIP:
		return "vip"
	case TierHigh:
		return "high"
	case TierNormal:
		return "normal"
	case TierLow:
		return "low"
	}
	return "unknown"
}

// Outcome is the terminal result of one task: an output reference on
// success, or a classified error (timeout vs upstream) on failure.
type Outcome struct {
	VideoRef string
	Latency  time.Duration
	Err      error
}

// Task is one accepted single-shot generation request. The result handle is
// a single-buffered channel so fulfilment never blocks the worker, and a
// sync.Once so it is fulfilled exactly once no matter which path (success,
// timeout, upstream failure, shutdown drain) reaches it first.
type Task struct {
	ID        string
	PersonaID string
	SourceRef string
	AudioRef  string
	Quality   engine.QualityParams

	tier      Tier
	submitted time.Time

	done chan Outcome
	once sync.Once
}

// Done yields the task's outcome. It receives exactly one value.
func (t *Task) Done() <-chan Outcome { return t.done }

// TierName reports the priority class assigned at admission.
func (t *Task) TierName() string { return t.tier.String() }

// fulfil delivers the outcome and runs onDelivered inside the once guard,
// so the outstanding counter is decremented exactly when (and only when)
// the result actually lands.
func (t *Task) fulfil(out Outcome, onDelivered func()) {
	t.once.Do(func() {
		t.done <- out
		onDelivered()
	})
}
