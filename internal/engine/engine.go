// Package engine defines the contracts for the four external collaborator
// engines (speech recognition, language model, speech synthesis, video
// synthesis) and their client implementations. The engines themselves are
// opaque GPU-bound processes; nothing here links model internals.
package engine

import (
	"context"
	"time"

	"avatard/pkg/types"
)

// Recognition is the speech-to-text result for one audio chunk.
type Recognition struct {
	Text       string
	Confidence float64
}

// Recognizer converts raw audio bytes to text.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, languageHint string) (Recognition, error)
}

// Reply is the language-model response.
type Reply struct {
	Text string
}

// Responder generates a conversational reply for a recognized utterance.
type Responder interface {
	Respond(ctx context.Context, message string, history []string, maxTokens int, temperature float64) (Reply, error)
}

// Speech references a synthesized audio clip.
type Speech struct {
	AudioRef string
	Duration time.Duration
}

// Speaker converts reply text to speech.
type Speaker interface {
	Speak(ctx context.Context, text string, voice types.VoiceConfig) (Speech, error)
}

// QualityParams tune the latency/quality tradeoff of video synthesis.
type QualityParams struct {
	BatchSize  int
	Resolution int
	Steps      int
}

// LowLatency returns parameters tuned for real-time streaming: small batch,
// reduced resolution and step count.
func LowLatency() QualityParams {
	return QualityParams{BatchSize: 2, Resolution: 256, Steps: 8}
}

// Standard returns parameters for one-shot offline generation.
func Standard() QualityParams {
	return QualityParams{BatchSize: 8, Resolution: 512, Steps: 25}
}

// Video references a rendered talking-head segment.
type Video struct {
	VideoRef string
}

// VideoSynthesizer renders speech onto a persona reference.
type VideoSynthesizer interface {
	Synthesize(ctx context.Context, personaRef, drivingAudioRef string, q QualityParams) (Video, error)
}

// Preprocessor performs one-time persona preprocessing, producing the
// derived artifacts later consumed by video synthesis.
type Preprocessor interface {
	Preprocess(ctx context.Context, personaID, sourceRef string) error
}
