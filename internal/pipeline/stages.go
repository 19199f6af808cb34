package pipeline

import (
	"strings"
	"time"

	"avatard/internal/engine"
)

// The four stage loops below share one shape: single consumer of the
// upstream queue, sole producer of the downstream one (closed on exit). A
// per-item failure is logged and the loop moves to the next item; a stage
// that fails too many items in a row gives the session up as faulted.

func (o *Orchestrator) runAudioStage(s *Session) {
	defer s.wg.Done()
	defer close(s.textQ)
	fails := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk, ok := <-s.audioQ:
			if !ok {
				return
			}
			rec, err := o.eng.Recognizer.Recognize(s.ctx, chunk.Data, s.cfg.Language)
			if err != nil {
				if o.stageError(s, "asr", err, &fails) {
					return
				}
				continue
			}
			fails = 0
			s.audioDone.Add(1)
			s.touch()
			text := strings.TrimSpace(rec.Text)
			if text == "" {
				continue
			}
			select {
			case s.textQ <- textItem{Text: text, At: chunk.At}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (o *Orchestrator) runReplyStage(s *Session) {
	defer s.wg.Done()
	defer close(s.replyQ)
	fails := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case item, ok := <-s.textQ:
			if !ok {
				return
			}
			reply, err := o.eng.Responder.Respond(s.ctx, item.Text, nil, s.replyTokens(), 0.7)
			if err != nil {
				if o.stageError(s, "llm", err, &fails) {
					return
				}
				continue
			}
			fails = 0
			s.replyDone.Add(1)
			s.touch()
			if strings.TrimSpace(reply.Text) == "" {
				continue
			}
			select {
			case s.replyQ <- replyItem{Text: reply.Text, At: item.At}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (o *Orchestrator) runSpeechStage(s *Session) {
	defer s.wg.Done()
	defer close(s.speechQ)
	fails := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case item, ok := <-s.replyQ:
			if !ok {
				return
			}
			speech, err := o.eng.Speaker.Speak(s.ctx, item.Text, s.cfg.Voice)
			if err != nil {
				if o.stageError(s, "tts", err, &fails) {
					return
				}
				continue
			}
			fails = 0
			s.speechDone.Add(1)
			s.touch()
			select {
			case s.speechQ <- speechItem{AudioRef: speech.AudioRef, Text: item.Text, At: item.At}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (o *Orchestrator) runVideoStage(s *Session) {
	defer s.wg.Done()
	defer close(s.results)
	fails := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case item, ok := <-s.speechQ:
			if !ok {
				return
			}
			vid, err := o.eng.Video.Synthesize(s.ctx, s.cfg.PersonaID, item.AudioRef, engine.LowLatency())
			if err != nil {
				if o.stageError(s, "video", err, &fails) {
					return
				}
				continue
			}
			fails = 0
			latency := time.Since(item.At)
			s.recordLatency(latency)
			s.videoDone.Add(1)
			s.touch()
			select {
			case s.results <- Result{VideoRef: vid.VideoRef, Text: item.Text, Latency: latency}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// stageError records one failed item and reports whether the stage loop
// should exit: on cancellation surfacing through an engine call, or once
// consecutive failures reach the fault threshold and the session is
// terminated as Faulted.
func (o *Orchestrator) stageError(s *Session, stage string, err error, consecutive *int) bool {
	if s.ctx.Err() != nil {
		return true
	}
	*consecutive++
	if *consecutive >= stageFaultThreshold {
		o.fault(s, stage, err)
		return true
	}
	o.log.Warn().Str("session", s.ID).Str("stage", stage).Err(err).Msg("stage item failed, skipping")
	return false
}
