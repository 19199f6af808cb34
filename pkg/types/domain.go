package types

// Persona represents a reference identity (image or video) that synthesis
// jobs render speech onto.
type Persona struct {
	// Stable identifier for the persona.
	// example: anchor-zh-female-01
	ID string `json:"id" example:"anchor-zh-female-01"`
	// Path or URL of the source reference media.
	// example: /data/personas/anchor-zh-female-01.mp4
	SourceRef string `json:"source_ref" example:"/data/personas/anchor-zh-female-01.mp4"`
	// Whether one-time preprocessing has completed for this persona.
	// example: true
	Ready bool `json:"ready" example:"true"`
}

// VoiceConfig carries text-to-speech voice parameters for a session or task.
type VoiceConfig struct {
	// Voice identifier understood by the TTS engine.
	// example: zh-CN-XiaoxiaoNeural
	Voice string `json:"voice,omitempty" example:"zh-CN-XiaoxiaoNeural"`
	// Playback speed multiplier (1.0 = normal).
	// example: 1.0
	SpeedRatio float64 `json:"speed_ratio,omitempty" example:"1.0"`
	// Volume multiplier (1.0 = normal).
	// example: 1.0
	VolumeRatio float64 `json:"volume_ratio,omitempty" example:"1.0"`
	// Pitch multiplier (1.0 = normal).
	// example: 1.0
	PitchRatio float64 `json:"pitch_ratio,omitempty" example:"1.0"`
}

// GPUStatus summarizes one GPU device for /status.
type GPUStatus struct {
	// Device index.
	ID int `json:"id"`
	// Human-friendly device name.
	Name string `json:"name"`
	// Total device memory in MB.
	TotalMemoryMB int `json:"total_memory_mb"`
	// Primary workload affinity (asr, llm, video, general).
	Affinity string `json:"affinity"`
	// Maximum concurrent task slots.
	MaxTasks int `json:"max_tasks"`
	// Currently allocated task slots.
	CurrentTasks int `json:"current_tasks"`
	// Last probed core temperature in Celsius.
	TemperatureC float64 `json:"temperature_c"`
	// Last probed power draw in watts.
	PowerW float64 `json:"power_w"`
	// Last probed utilization percentage.
	UtilizationPct float64 `json:"utilization_pct"`
	// Health flag derived from probe thresholds.
	Healthy bool `json:"healthy"`
}

// TierStatus reports queue depth for one scheduler priority tier.
type TierStatus struct {
	// Tier name (vip, high, normal, low).
	Tier string `json:"tier"`
	// Number of tasks waiting in this tier's queue.
	Queued int `json:"queued"`
}

// WorkerStatus reports one GPU worker's dispatch statistics.
type WorkerStatus struct {
	// GPU device index this worker is pinned to.
	GPUID int `json:"gpu_id"`
	// Tasks currently queued at this worker.
	Backlog int `json:"backlog"`
	// Whether a task is being executed right now.
	Busy bool `json:"busy"`
	// Total tasks dispatched to this worker.
	Dispatched int64 `json:"dispatched"`
	// Tasks completed successfully.
	Completed int64 `json:"completed"`
	// Tasks that ended in a failure outcome.
	Failed int64 `json:"failed"`
}

// CacheStats summarizes the persona cache for /status.
type CacheStats struct {
	// Number of cached personas.
	Entries int `json:"entries"`
	// Entries with preprocessing complete.
	Ready int `json:"ready"`
	// Capacity ceiling that triggers sweep eviction.
	Capacity int `json:"capacity"`
	// Total evictions performed since start.
	Evicted int64 `json:"evicted"`
}
