package types

// StartSessionRequest opens a real-time streaming session.
type StartSessionRequest struct {
	// Persona to render. Required.
	// example: anchor-zh-female-01
	PersonaID string `json:"persona_id" example:"anchor-zh-female-01"`
	// Optional source media reference for a persona seen for the first time.
	// example: /data/personas/anchor-zh-female-01.mp4
	SourceRef string `json:"source_ref,omitempty" example:"/data/personas/anchor-zh-female-01.mp4"`
	// TTS voice parameters.
	Voice VoiceConfig `json:"voice,omitempty"`
	// Language hint passed to speech recognition.
	// example: zh
	Language string `json:"language,omitempty" example:"zh"`
	// Token budget for language-model replies (0 = server default).
	// example: 64
	MaxReplyTokens int `json:"max_reply_tokens,omitempty" example:"64"`
}

// StartSessionResponse returns the identifier of a newly created session.
type StartSessionResponse struct {
	// example: 4b3e2a6e-9a1f-4c5d-8c7b-2f1e0d9c8b7a
	SessionID string `json:"session_id" example:"4b3e2a6e-9a1f-4c5d-8c7b-2f1e0d9c8b7a"`
}

// StopSessionResponse reports whether a stop call actually tore a session down.
type StopSessionResponse struct {
	// False when the session was already stopped or unknown.
	// example: true
	Stopped bool `json:"stopped" example:"true"`
}

// SessionStatusResponse is the /sessions/{id} status projection.
type SessionStatusResponse struct {
	// Whether the session is currently active.
	Active bool `json:"active"`
	// Whether the session was terminated by repeated stage failures.
	Faulted bool `json:"faulted"`
	// Seconds since the session was created.
	UptimeSec float64 `json:"uptime_sec"`
	// GPU held for speech recognition.
	AudioGPU int `json:"audio_gpu"`
	// GPU held for language-model inference.
	LLMGPU int `json:"llm_gpu"`
	// GPU held for video synthesis.
	VideoGPU int `json:"video_gpu"`
	// Audio chunks recognized so far.
	AudioProcessed uint64 `json:"audio_processed"`
	// Language-model replies generated so far.
	RepliesProcessed uint64 `json:"replies_processed"`
	// Speech clips synthesized so far.
	SpeechProcessed uint64 `json:"speech_processed"`
	// Video segments rendered so far.
	VideoProcessed uint64 `json:"video_processed"`
	// Rolling average end-to-end latency in milliseconds (last 100 samples).
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	// Unix seconds of the last observed activity.
	LastActivityUnix int64 `json:"last_activity_unix"`
}

// SegmentEvent is one rendered video segment on the NDJSON result stream
// of a session.
type SegmentEvent struct {
	// Reference to the rendered segment.
	// example: /data/out/seg-000041.mp4
	VideoRef string `json:"video_ref"`
	// Reply text the segment speaks.
	Text string `json:"text,omitempty"`
	// End-to-end latency from audio ingest, in milliseconds.
	LatencyMs int64 `json:"latency_ms"`
}

// SubmitTaskRequest submits a one-shot generation task.
type SubmitTaskRequest struct {
	// Persona to render. Required.
	// example: anchor-zh-female-01
	PersonaID string `json:"persona_id" example:"anchor-zh-female-01"`
	// Optional source media for a persona not yet cached.
	SourceRef string `json:"source_ref,omitempty"`
	// Reference to the driving audio. Required.
	// example: /data/audio/greeting.wav
	AudioRef string `json:"audio_ref" example:"/data/audio/greeting.wav"`
	// Quality hint: "fast" trades quality for latency, "best" the reverse.
	// example: fast
	Quality string `json:"quality,omitempty" example:"fast"`
	// Explicit priority hint; "low" deprioritizes batch work.
	// example: low
	Priority string `json:"priority,omitempty" example:"low"`
	// Caller identity, used for VIP classification.
	// example: studio-7
	CallerID string `json:"caller_id,omitempty" example:"studio-7"`
}

// TaskResponse is the terminal outcome of an accepted task.
type TaskResponse struct {
	// Task identifier assigned at submission.
	TaskID string `json:"task_id"`
	// Reference to the rendered video.
	// example: /data/out/4b3e2a6e.mp4
	VideoRef string `json:"video_ref" example:"/data/out/4b3e2a6e.mp4"`
	// Wall-clock job latency in milliseconds.
	LatencyMs int64 `json:"latency_ms"`
}

// StatusResponse is the daemon-wide /status projection.
type StatusResponse struct {
	// Per-device GPU state.
	GPUs []GPUStatus `json:"gpus"`
	// Number of active streaming sessions.
	ActiveSessions int `json:"active_sessions"`
	// Outstanding one-shot tasks (queued + in flight).
	OutstandingTasks int64 `json:"outstanding_tasks"`
	// Queue depth per priority tier.
	Tiers []TierStatus `json:"tiers"`
	// Per-GPU worker statistics.
	Workers []WorkerStatus `json:"workers"`
	// Persona cache statistics.
	Personas CacheStats `json:"personas"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: no GPU slot available
	Error string `json:"error" example:"no GPU slot available"`
	// HTTP status code.
	// example: 429
	Code int `json:"code" example:"429"`
}
