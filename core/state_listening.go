package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/koscakluka/ema-companion/core/audio"
)

type listeningState struct {
	// canRecord is set when the state was built with both a capture device
	// and a batch recognizer.
	canRecord bool

	waitingLogged bool
}

func (*listeningState) Name() StateName { return StateListening }

func (st *listeningState) enter(context.Context, *Session) { st.waitingLogged = false }
func (*listeningState) exit(context.Context, *Session)     {}

func (st *listeningState) handle(ctx context.Context, s *Session, input string) State {
	if input != "" {
		s.pendingUserText = input
		s.markActivity()
		return s.states.processing
	}

	if s.streamingActive() {
		if record, ok := s.bridge.PopTranscript(); ok {
			s.pendingUserText = record.Text
			s.markActivity()
			return s.states.processing
		}

		if !st.waitingLogged {
			logger.InfoContext(ctx, "listening for speech")
			st.waitingLogged = true
		}
		s.pollWait(ctx)
		return nil
	}

	if st.canRecord {
		return st.record(ctx, s)
	}

	return s.states.idle
}

func (st *listeningState) record(ctx context.Context, s *Session) State {
	s.waitForSpeechCooldown(ctx)

	ctx, span := tracer.Start(ctx, "record utterance")
	defer span.End()

	if !s.startCapture(ctx) {
		return s.states.idle
	}

	pcm, err := recordClip(ctx, s.capture, s.config.encoding, s.config.recordWindow)
	if err != nil {
		recordFault(ctx, "capture", &CollaboratorFault{Collaborator: "capture", Err: err})
		return s.states.idle
	}

	var transcript string
	_ = invokeCollaborator(ctx, "batch recognizer", func(ctx context.Context) error {
		transcript = s.batch.Transcribe(ctx, audio.EncodeWAV(pcm, s.config.encoding.SampleRate))
		return nil
	})

	s.pendingUserText = transcript
	if transcript != "" {
		s.markActivity()
		if cb := s.callbacks.onTranscript; cb != nil {
			cb(transcript)
		}
	}
	return s.states.processing
}

// recordClip reads chunks until window worth of audio was captured.
func recordClip(ctx context.Context, capture Capture, encoding audio.EncodingInfo, window time.Duration) ([]byte, error) {
	target := int(window.Seconds() * float64(encoding.BytesPerSecond()))
	if target <= 0 {
		return nil, fmt.Errorf("invalid record window %v for %s", window, encoding.Format.Name())
	}

	deadline := time.Now().Add(window + time.Second)
	pcm := make([]byte, 0, target)
	for len(pcm) < target {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			break
		}

		chunk, err := capture.ReadChunk()
		if err != nil {
			return nil, fmt.Errorf("failed to read audio chunk: %w", err)
		}
		pcm = append(pcm, chunk...)
	}

	return pcm[:min(len(pcm), target)], nil
}
