package gpu

import (
	"context"
	"errors"
	"math"
	"testing"

	"avatard/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestManager(specs ...DeviceSpec) *Manager {
	return New(ManagerConfig{Devices: specs})
}

func TestAllocatePreferredThenExhaustedThenRelease(t *testing.T) {
	m := newTestManager(DeviceSpec{Name: "only", MaxTasks: 1, Affinity: General})

	id, err := m.Allocate(0, General)
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected device 0, got %d", id)
	}

	if _, err := m.Allocate(0, General); !IsResourceExhausted(err) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}

	m.Release(0, General)
	id, err = m.Allocate(0, General)
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected device 0 after release, got %d", id)
	}
}

func TestSlotCountStaysInBounds(t *testing.T) {
	m := newTestManager(DeviceSpec{MaxTasks: 2, Affinity: General})

	// Interleave allocations, double releases and over-allocation attempts;
	// the slot count must stay within [0, max] throughout.
	check := func() {
		cur := m.Snapshot()[0].CurrentTasks
		if cur < 0 || cur > 2 {
			t.Fatalf("slot count out of bounds: %d", cur)
		}
	}
	m.Release(0, General) // release with nothing held
	check()
	for i := 0; i < 3; i++ {
		_, _ = m.Allocate(-1, General)
		check()
	}
	if got := m.Snapshot()[0].CurrentTasks; got != 2 {
		t.Fatalf("expected 2 held slots, got %d", got)
	}
	for i := 0; i < 5; i++ {
		m.Release(0, General)
		check()
	}
	if got := m.Snapshot()[0].CurrentTasks; got != 0 {
		t.Fatalf("expected 0 held slots after releases, got %d", got)
	}
}

func TestAllocatePrefersAffinityMatch(t *testing.T) {
	m := newTestManager(
		DeviceSpec{Name: "general", MaxTasks: 4, Affinity: General},
		DeviceSpec{Name: "video", MaxTasks: 4, Affinity: VideoSynthesis},
	)
	id, err := m.Allocate(-1, VideoSynthesis)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected affinity device 1, got %d", id)
	}
}

func TestAllocateFallsBackToLeastLoaded(t *testing.T) {
	m := newTestManager(
		DeviceSpec{MaxTasks: 2, Affinity: LanguageModel},
		DeviceSpec{MaxTasks: 4, Affinity: SpeechRecognition},
	)
	// No video-affinity device exists; load device 0 to 50% so the fallback
	// must pick device 1 (0% load).
	if _, err := m.Allocate(0, LanguageModel); err != nil {
		t.Fatalf("seed allocate: %v", err)
	}
	id, err := m.Allocate(-1, VideoSynthesis)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected least-loaded device 1, got %d", id)
	}
}

func TestReleaseIgnoresUnknownDevice(t *testing.T) {
	m := newTestManager(DeviceSpec{MaxTasks: 1, Affinity: General})
	m.Release(99, General) // must not panic
	m.Release(-1, General)
}

func TestOptimalGPUAffinityMatch(t *testing.T) {
	m := newTestManager(
		DeviceSpec{MaxTasks: 10, Affinity: General, TotalMemoryMB: 8192},
		DeviceSpec{MaxTasks: 10, Affinity: VideoSynthesis, TotalMemoryMB: 24576},
	)
	p, err := m.OptimalGPU(VideoSynthesis)
	if err != nil {
		t.Fatalf("optimal: %v", err)
	}
	if p.GPUID != 1 {
		t.Fatalf("expected device 1, got %d", p.GPUID)
	}
	// base 2000ms, zero load, affinity match: no penalty.
	if math.Abs(p.ExpectedLatencyMs-2000) > 1e-9 {
		t.Fatalf("expected 2000ms, got %v", p.ExpectedLatencyMs)
	}
	if p.FreeMemoryMB != 24576 {
		t.Fatalf("expected full free memory, got %d", p.FreeMemoryMB)
	}
}

func TestOptimalGPULatencyModel(t *testing.T) {
	m := newTestManager(DeviceSpec{MaxTasks: 2, Affinity: General, TotalMemoryMB: 1000})
	if _, err := m.Allocate(-1, General); err != nil {
		t.Fatalf("seed allocate: %v", err)
	}
	// 50% load, affinity mismatch for video: 2000 * 1.5 * 1.2 = 3600.
	p, err := m.OptimalGPU(VideoSynthesis)
	if err != nil {
		t.Fatalf("optimal: %v", err)
	}
	if math.Abs(p.ExpectedLatencyMs-3600) > 1e-9 {
		t.Fatalf("expected 3600ms, got %v", p.ExpectedLatencyMs)
	}
	if p.FreeMemoryMB != 500 {
		t.Fatalf("expected 500MB free, got %d", p.FreeMemoryMB)
	}
}

func TestOptimalGPUCeilings(t *testing.T) {
	m := newTestManager(
		DeviceSpec{MaxTasks: 10, Affinity: VideoSynthesis},
		DeviceSpec{MaxTasks: 10, Affinity: General},
	)
	// Load the affinity device to 80%: it is no longer eligible for the
	// affinity pass, so the fallback picks the general device.
	for i := 0; i < 8; i++ {
		if _, err := m.Allocate(0, VideoSynthesis); err != nil {
			t.Fatalf("seed allocate: %v", err)
		}
	}
	p, err := m.OptimalGPU(VideoSynthesis)
	if err != nil {
		t.Fatalf("optimal: %v", err)
	}
	if p.GPUID != 1 {
		t.Fatalf("expected fallback device 1, got %d", p.GPUID)
	}

	// Push both devices to >=90%: placement must fail.
	for i := 0; i < 1; i++ {
		if _, err := m.Allocate(0, VideoSynthesis); err != nil {
			t.Fatalf("seed allocate: %v", err)
		}
	}
	for i := 0; i < 9; i++ {
		if _, err := m.Allocate(1, General); err != nil {
			t.Fatalf("seed allocate: %v", err)
		}
	}
	if _, err := m.OptimalGPU(VideoSynthesis); !IsAllOverloaded(err) {
		t.Fatalf("expected all-overloaded, got %v", err)
	}
}

func TestProbeRefreshSetsHealth(t *testing.T) {
	probe := &StaticProbe{Readings: []Reading{
		{TemperatureC: 90, PowerW: 200, UtilizationPct: 50},
		{TemperatureC: 60, PowerW: 500, UtilizationPct: 10},
		{TemperatureC: 60, PowerW: 200, UtilizationPct: 10},
	}}
	m := New(ManagerConfig{
		Devices: []DeviceSpec{
			{MaxTasks: 1, Affinity: General},
			{MaxTasks: 1, Affinity: General},
			{MaxTasks: 1, Affinity: General},
		},
		Probe:      probe,
		Thresholds: Thresholds{MaxTempC: 85, MaxPowerW: 450},
	})
	if err := m.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	snap := m.Snapshot()
	if snap[0].Healthy {
		t.Fatalf("device 0 over temperature should be unhealthy")
	}
	if snap[1].Healthy {
		t.Fatalf("device 1 over power should be unhealthy")
	}
	if !snap[2].Healthy {
		t.Fatalf("device 2 within thresholds should be healthy")
	}

	// Unhealthy-but-under-capacity devices still receive work.
	if _, err := m.Allocate(0, General); err != nil {
		t.Fatalf("allocate on unhealthy device: %v", err)
	}
}

func TestProbeFailureKeepsLastReadings(t *testing.T) {
	probe := &StaticProbe{Readings: []Reading{{TemperatureC: 70, PowerW: 100, UtilizationPct: 5}}}
	m := New(ManagerConfig{Devices: []DeviceSpec{{MaxTasks: 1}}, Probe: probe})
	if err := m.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	probe.Err = errors.New("probe down")
	if err := m.RefreshOnce(context.Background()); err == nil {
		t.Fatalf("expected probe error")
	}
	if got := m.Snapshot()[0].TemperatureC; got != 70 {
		t.Fatalf("expected last-known temperature 70, got %v", got)
	}
}

func TestSlotGaugeTracksAllocateRelease(t *testing.T) {
	before := testutil.ToFloat64(metrics.GPUSlotsInUse)
	m := newTestManager(DeviceSpec{MaxTasks: 2, Affinity: General})

	id, err := m.Allocate(-1, General)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got := testutil.ToFloat64(metrics.GPUSlotsInUse); got != before+1 {
		t.Fatalf("gauge after allocate = %v, want %v", got, before+1)
	}

	m.Release(id, General)
	if got := testutil.ToFloat64(metrics.GPUSlotsInUse); got != before {
		t.Fatalf("gauge after release = %v, want %v", got, before)
	}

	// A clamped double release must not drive the gauge negative.
	m.Release(id, General)
	if got := testutil.ToFloat64(metrics.GPUSlotsInUse); got != before {
		t.Fatalf("gauge after double release = %v, want %v", got, before)
	}
}
