package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

type speakingState struct{}

func (*speakingState) Name() StateName { return StateSpeaking }

func (*speakingState) enter(_ context.Context, s *Session) { s.speaking.Store(true) }
func (*speakingState) exit(_ context.Context, s *Session)  { s.speaking.Store(false) }

func (*speakingState) handle(ctx context.Context, s *Session, _ string) State {
	continuation := s.takeContinuation()
	if continuation == nil {
		continuation = s.states.idle
	}

	reply := s.pendingReplyText
	if reply == "" {
		return continuation
	}

	s.speak(ctx, reply, continuation)
	s.pendingReplyText = ""
	return continuation
}

// speak synthesizes and plays reply. Input stays muted from the start of
// synthesis until the post-speech buffer has passed, whatever the outcome.
func (s *Session) speak(ctx context.Context, reply string, continuation State) {
	ctx, span := tracer.Start(ctx, "speak")
	defer span.End()
	span.SetAttributes(
		attribute.String("turn.id", s.turnID),
		attribute.String("reply", reply),
		attribute.String("continuation", string(continuation.Name())),
	)

	logger.InfoContext(ctx, "speaking", "reply", reply)
	if cb := s.callbacks.onReply; cb != nil {
		cb(reply)
	}

	if s.streaming != nil {
		s.streaming.SetSpeaking(true)
	}
	if s.capture != nil {
		s.capture.SetSpeaking(true)
	}

	var duration time.Duration
	err := invokeCollaborator(ctx, "synthesizer", func(ctx context.Context) error {
		if s.synthesizer == nil {
			return ErrUnavailable
		}
		if err := s.synthesizer.Speak(ctx, reply); err != nil {
			return err
		}
		duration = s.synthesizer.LastDuration()
		return nil
	})

	if err == nil && !s.config.skipPlayback {
		_ = invokeCollaborator(ctx, "player", func(ctx context.Context) error {
			if s.player == nil {
				return ErrUnavailable
			}
			return s.player.PlayFile(ctx, s.synthesizer.OutputPath())
		})
	}

	s.finishSpeaking(ctx, duration, continuation)
}
