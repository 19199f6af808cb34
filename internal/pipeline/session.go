package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"avatard/pkg/types"
)

// Tunables for the streaming pipeline.
const (
	// defaultQueueCap bounds each of the four stage queues.
	defaultQueueCap = 100
	// ingestChunkBytes is the read size used when draining a caller stream.
	ingestChunkBytes = 4096
	// bytesPerChunk is roughly one second of 16kHz mono s16le audio; ingest
	// accumulates this much before enqueueing one AudioChunk.
	bytesPerChunk = 32000
	// latencyWindow is the rolling end-to-end latency sample count.
	latencyWindow = 100
	// defaultReplyTokens keeps language-model replies short; the budget is
	// tuned for latency, not quality.
	defaultReplyTokens = 64
	// stageFaultThreshold is the consecutive per-item failure count at which
	// a stage gives the session up as faulted.
	stageFaultThreshold = 3
)

// Config is the per-session configuration provided at start.
type Config struct {
	PersonaID      string
	SourceRef      string
	Voice          types.VoiceConfig
	Language       string
	MaxReplyTokens int
}

// AudioChunk is roughly one second of buffered caller audio.
type AudioChunk struct {
	Data []byte
	At   time.Time
}

// textItem is a recognized utterance heading for the language model.
type textItem struct {
	Text string
	At   time.Time
}

// replyItem is a generated reply heading for speech synthesis.
type replyItem struct {
	Text string
	At   time.Time
}

// speechItem is a synthesized clip heading for video synthesis.
type speechItem struct {
	AudioRef string
	Text     string
	At       time.Time
}

// Result is emitted on the session's result channel once a video segment is
// rendered: output path, the reply text it speaks, and end-to-end latency
// measured from audio ingest.
type Result struct {
	VideoRef string
	Text     string
	Latency  time.Duration
}

// Session is one live streaming pipeline. It holds three GPUs for its whole
// lifetime and runs four stage loops over bounded FIFO queues. Writers to a
// full queue suspend; nothing is dropped.
type Session struct {
	ID        string
	cfg       Config
	createdAt time.Time

	audioGPU int
	llmGPU   int
	videoGPU int

	ctx    context.Context
	cancel context.CancelFunc

	audioQ  chan AudioChunk
	textQ   chan textItem
	replyQ  chan replyItem
	speechQ chan speechItem
	results chan Result

	// ingestMu serializes PushAudio calls and fences queue close in stop.
	ingestMu sync.Mutex

	audioDone  atomic.Uint64
	replyDone  atomic.Uint64
	speechDone atomic.Uint64
	videoDone  atomic.Uint64

	active       atomic.Bool
	faulted      atomic.Bool
	lastActivity atomic.Int64 // unix nanos

	latMu  sync.Mutex
	lat    [latencyWindow]time.Duration
	latN   int
	latIdx int

	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newSession(id string, cfg Config, audioGPU, llmGPU, videoGPU, queueCap int) *Session {
	if queueCap <= 0 {
		queueCap = defaultQueueCap
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		cfg:       cfg,
		createdAt: time.Now(),
		audioGPU:  audioGPU,
		llmGPU:    llmGPU,
		videoGPU:  videoGPU,
		ctx:       ctx,
		cancel:    cancel,
		audioQ:    make(chan AudioChunk, queueCap),
		textQ:     make(chan textItem, queueCap),
		replyQ:    make(chan replyItem, queueCap),
		speechQ:   make(chan speechItem, queueCap),
		results:   make(chan Result, queueCap),
	}
	s.active.Store(true)
	s.touch()
	return s
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) replyTokens() int {
	if s.cfg.MaxReplyTokens > 0 {
		return s.cfg.MaxReplyTokens
	}
	return defaultReplyTokens
}

// recordLatency adds one end-to-end sample to the rolling window.
func (s *Session) recordLatency(d time.Duration) {
	s.latMu.Lock()
	defer s.latMu.Unlock()
	s.lat[s.latIdx] = d
	s.latIdx = (s.latIdx + 1) % latencyWindow
	if s.latN < latencyWindow {
		s.latN++
	}
}

func (s *Session) avgLatency() time.Duration {
	s.latMu.Lock()
	defer s.latMu.Unlock()
	if s.latN == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < s.latN; i++ {
		sum += s.lat[i]
	}
	return sum / time.Duration(s.latN)
}

// Results exposes the session's result channel. It is closed when the video
// stage exits.
func (s *Session) Results() <-chan Result { return s.results }

func (s *Session) status() types.SessionStatusResponse {
	return types.SessionStatusResponse{
		Active:           s.active.Load(),
		Faulted:          s.faulted.Load(),
		UptimeSec:        time.Since(s.createdAt).Seconds(),
		AudioGPU:         s.audioGPU,
		LLMGPU:           s.llmGPU,
		VideoGPU:         s.videoGPU,
		AudioProcessed:   s.audioDone.Load(),
		RepliesProcessed: s.replyDone.Load(),
		SpeechProcessed:  s.speechDone.Load(),
		VideoProcessed:   s.videoDone.Load(),
		AvgLatencyMs:     float64(s.avgLatency()) / float64(time.Millisecond),
		LastActivityUnix: time.Unix(0, s.lastActivity.Load()).Unix(),
	}
}
