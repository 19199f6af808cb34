package gpu

import (
	"context"
	"log"
	"sync"
	"time"

	"avatard/internal/metrics"
	"avatard/pkg/types"
)

// Workload classifies what a GPU is asked to run. Affinity is a scheduling
// hint, not a hard restriction: any device can serve any workload.
type Workload string

const (
	SpeechRecognition Workload = "asr"
	LanguageModel     Workload = "llm"
	VideoSynthesis    Workload = "video"
	General           Workload = "general"
)

// ParseWorkload maps a config affinity string to a Workload, defaulting to General.
func ParseWorkload(s string) Workload {
	switch s {
	case "asr", "speech":
		return SpeechRecognition
	case "llm":
		return LanguageModel
	case "video":
		return VideoSynthesis
	default:
		return General
	}
}

// DeviceSpec describes one device at manager construction time.
type DeviceSpec struct {
	Name          string
	TotalMemoryMB int
	Affinity      Workload
	MaxTasks      int
}

// device is the manager-owned view of one GPU. All fields are guarded by the
// manager mutex; slot counts and probe readings never change outside it.
type device struct {
	id         int
	name       string
	totalMemMB int
	affinity   Workload
	maxTasks   int
	current    int

	tempC   float64
	powerW  float64
	utilPct float64
	healthy bool
}

func (d *device) loadPct() float64 {
	if d.maxTasks <= 0 {
		return 100
	}
	return float64(d.current) / float64(d.maxTasks) * 100
}

// Thresholds flag a device unhealthy when crossed by probe readings.
// Health is reported, not enforced: allocation is driven by slot counts only.
type Thresholds struct {
	MaxTempC  float64
	MaxPowerW float64
}

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultProbeInterval = 5 * time.Second
	defaultMaxTempC      = 85
	defaultMaxPowerW     = 450
)

// defaultBaseLatencyMs is the per-workload latency model used by OptimalGPU.
var defaultBaseLatencyMs = map[Workload]float64{
	SpeechRecognition: 150,
	LanguageModel:     600,
	VideoSynthesis:    2000,
	General:           800,
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Devices       []DeviceSpec
	Probe         Probe
	ProbeInterval time.Duration
	Thresholds    Thresholds
	BaseLatencyMs map[Workload]float64
}

// Manager owns the GPU inventory. One mutex serializes allocation, release
// and probe refresh so readers never observe a torn update.
type Manager struct {
	mu      sync.Mutex
	devices []*device

	probe         Probe
	probeInterval time.Duration
	thresholds    Thresholds
	baseLatencyMs map[Workload]float64
}

// New constructs a Manager from config, applying defaults for unset fields.
func New(cfg ManagerConfig) *Manager {
	m := &Manager{
		probe:         cfg.Probe,
		probeInterval: cfg.ProbeInterval,
		thresholds:    cfg.Thresholds,
		baseLatencyMs: cfg.BaseLatencyMs,
	}
	if m.probeInterval <= 0 {
		m.probeInterval = defaultProbeInterval
	}
	if m.thresholds.MaxTempC <= 0 {
		m.thresholds.MaxTempC = defaultMaxTempC
	}
	if m.thresholds.MaxPowerW <= 0 {
		m.thresholds.MaxPowerW = defaultMaxPowerW
	}
	if m.baseLatencyMs == nil {
		m.baseLatencyMs = defaultBaseLatencyMs
	}
	for i, spec := range cfg.Devices {
		maxTasks := spec.MaxTasks
		if maxTasks <= 0 {
			maxTasks = 1
		}
		m.devices = append(m.devices, &device{
			id:         i,
			name:       spec.Name,
			totalMemMB: spec.TotalMemoryMB,
			affinity:   spec.Affinity,
			maxTasks:   maxTasks,
			healthy:    true,
		})
	}
	return m
}

// DeviceCount returns the inventory size.
func (m *Manager) DeviceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}

// Allocate reserves one task slot. Preference order: the preferred device if
// it has a free slot, then an affinity match with a free slot, then any free
// device tie-broken by lowest load ratio. preferredID < 0 means no preference.
func (m *Manager) Allocate(preferredID int, w Workload) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if preferredID >= 0 && preferredID < len(m.devices) {
		if d := m.devices[preferredID]; d.current < d.maxTasks {
			d.current++
			metrics.GPUSlotsInUse.Inc()
			return d.id, nil
		}
	}

	var pick *device
	for _, d := range m.devices {
		if d.affinity != w || d.current >= d.maxTasks {
			continue
		}
		if pick == nil || d.loadPct() < pick.loadPct() {
			pick = d
		}
	}
	if pick == nil {
		for _, d := range m.devices {
			if d.current >= d.maxTasks {
				continue
			}
			if pick == nil || d.loadPct() < pick.loadPct() {
				pick = d
			}
		}
	}
	if pick == nil {
		return -1, ErrResourceExhausted(w)
	}
	pick.current++
	metrics.GPUSlotsInUse.Inc()
	return pick.id, nil
}

// Release returns a task slot. Double releases are clamped at zero rather
// than rejected, so release paths can stay unconditional.
func (m *Manager) Release(gpuID int, w Workload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gpuID < 0 || gpuID >= len(m.devices) {
		return
	}
	d := m.devices[gpuID]
	if d.current > 0 {
		d.current--
		metrics.GPUSlotsInUse.Dec()
	}
}

// Placement is the OptimalGPU recommendation.
type Placement struct {
	GPUID             int
	ExpectedLatencyMs float64
	FreeMemoryMB      int
	Note              string
}

// Load ceilings used by OptimalGPU placement.
const (
	affinityLoadCeiling = 80
	anyLoadCeiling      = 90
)

// OptimalGPU recommends a device for a workload. It prefers an affinity
// match under 80% load, falls back to the least loaded device under 90%,
// and fails once everything is above the ceiling.
func (m *Manager) OptimalGPU(w Workload) (Placement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pick, note := m.pickUnder(w, affinityLoadCeiling, true), "affinity match"
	if pick == nil {
		pick, note = m.pickUnder(w, anyLoadCeiling, false), "least loaded fallback"
	}
	if pick == nil {
		return Placement{GPUID: -1}, ErrAllOverloaded()
	}
	return Placement{
		GPUID:             pick.id,
		ExpectedLatencyMs: m.expectedLatencyMs(pick, w),
		FreeMemoryMB:      freeMemoryMB(pick),
		Note:              note,
	}, nil
}

// pickUnder returns the least loaded device below ceiling, optionally
// restricted to affinity matches. Caller holds the mutex.
func (m *Manager) pickUnder(w Workload, ceiling float64, affinityOnly bool) *device {
	var pick *device
	for _, d := range m.devices {
		if affinityOnly && d.affinity != w {
			continue
		}
		if d.loadPct() >= ceiling {
			continue
		}
		if pick == nil || d.loadPct() < pick.loadPct() {
			pick = d
		}
	}
	return pick
}

// expectedLatencyMs models job latency as a base per-workload cost scaled by
// current load, with a 1.2x penalty when the device affinity does not match.
func (m *Manager) expectedLatencyMs(d *device, w Workload) float64 {
	base, ok := m.baseLatencyMs[w]
	if !ok {
		base = m.baseLatencyMs[General]
	}
	lat := base * (1 + d.loadPct()/100)
	if d.affinity != w {
		lat *= 1.2
	}
	return lat
}

func freeMemoryMB(d *device) int {
	if d.maxTasks <= 0 {
		return 0
	}
	return d.totalMemMB * (d.maxTasks - d.current) / d.maxTasks
}

// Run refreshes health metrics on a fixed interval until ctx is canceled.
// A failed probe keeps the last-known readings.
func (m *Manager) Run(ctx context.Context) {
	if m.probe == nil {
		return
	}
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			readings, err := m.probe.Sample(ctx)
			if err != nil {
				log.Printf("gpu event=probe_error err=%v", err)
				continue
			}
			m.applyReadings(readings)
		}
	}
}

// RefreshOnce runs a single probe cycle; used by avatarctl doctor and tests.
func (m *Manager) RefreshOnce(ctx context.Context) error {
	if m.probe == nil {
		return nil
	}
	readings, err := m.probe.Sample(ctx)
	if err != nil {
		return err
	}
	m.applyReadings(readings)
	return nil
}

func (m *Manager) applyReadings(readings []Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range readings {
		if i >= len(m.devices) {
			break
		}
		d := m.devices[i]
		d.tempC = r.TemperatureC
		d.powerW = r.PowerW
		d.utilPct = r.UtilizationPct
		d.healthy = r.TemperatureC <= m.thresholds.MaxTempC && r.PowerW <= m.thresholds.MaxPowerW
	}
}

// Snapshot returns a read-only copy of the inventory for /status.
func (m *Manager) Snapshot() []types.GPUStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.GPUStatus, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, types.GPUStatus{
			ID:             d.id,
			Name:           d.name,
			TotalMemoryMB:  d.totalMemMB,
			Affinity:       string(d.affinity),
			MaxTasks:       d.maxTasks,
			CurrentTasks:   d.current,
			TemperatureC:   d.tempC,
			PowerW:         d.powerW,
			UtilizationPct: d.utilPct,
			Healthy:        d.healthy,
		})
	}
	return out
}
