package orchestration

import (
	"context"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-companion/core/events"
)

type sleepState struct {
	// canDetectWake is set when the state was built with both a capture
	// device and a wake detector.
	canDetectWake bool
}

func (*sleepState) Name() StateName { return StateSleep }

func (*sleepState) enter(ctx context.Context, s *Session) {
	now := s.now()
	s.activateSleepGuard(now)
	s.wentToSleepAt = now
	s.awake.Store(false)
	s.turnID = ""
	logger.InfoContext(ctx, "sleeping, waiting for wake phrase")
}

func (*sleepState) exit(ctx context.Context, s *Session) {
	s.awake.Store(true)
	s.markActivity()
	s.turnID = uuid.NewString()
	logger.InfoContext(ctx, "woke up", "turn_id", s.turnID, "slept_for", s.now().Sub(s.wentToSleepAt))
}

func (st *sleepState) handle(ctx context.Context, s *Session, input string) State {
	if s.SleepGuardActive() {
		if dropped := s.bridge.ClearDirectives(); dropped > 0 {
			logger.DebugContext(ctx, "discarded directives during sleep guard", "count", dropped)
		}
		s.pollWait(ctx)
		return nil
	}

	if s.streamingActive() {
		if front, ok := s.bridge.PeekDirective(); ok && front.Directive == events.DirectiveWake {
			s.bridge.PopDirective()
			return st.wakeUp(ctx, s, front.Transcript)
		}
	}

	if input != "" && s.matcher.IsWake(input) {
		return st.wakeUp(ctx, s, input)
	}

	if !s.streamingActive() && st.canDetectWake {
		if !s.startCapture(ctx) {
			s.pollWait(ctx)
			return nil
		}
		chunk, err := s.capture.ReadChunk()
		if err != nil {
			logger.WarnContext(ctx, "failed to read wake audio", "error", err)
			s.pollWait(ctx)
			return nil
		}
		if len(chunk) > 0 && s.detector.Detect(chunk) {
			return st.wakeUp(ctx, s, "")
		}
		return nil
	}

	s.pollWait(ctx)
	return nil
}

func (*sleepState) wakeUp(ctx context.Context, s *Session, transcript string) State {
	s.bridge.ClearTranscripts()
	s.bridge.ClearDirectives()
	logger.InfoContext(ctx, "wake signal received", "transcript", transcript)
	return s.states.wake
}
