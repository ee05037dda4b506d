package orchestration

import (
	"context"
	"sync/atomic"

	"github.com/koscakluka/ema-companion/core/events"
)

// Intent is a request from a background goroutine that the control loop
// applies on its next tick.
type Intent int

const (
	// IntentIdleNudge speaks a short reminder and resumes the current state.
	IntentIdleNudge Intent = iota + 1
	// IntentIdleSleep speaks a farewell and falls asleep.
	IntentIdleSleep
)

func (i Intent) String() string {
	switch i {
	case IntentIdleNudge:
		return "idle_nudge"
	case IntentIdleSleep:
		return "idle_sleep"
	}
	return "unknown"
}

type intentQueue struct {
	pending [IntentIdleSleep + 1]atomic.Bool
	closed  atomic.Bool
}

func newIntentQueue() *intentQueue {
	return &intentQueue{}
}

func (q *intentQueue) submit(intent Intent) bool {
	if intent < IntentIdleNudge || intent > IntentIdleSleep || q.closed.Load() {
		return false
	}
	q.pending[intent].Store(true)
	return true
}

func (q *intentQueue) take(intent Intent) bool {
	return q.pending[intent].Swap(false)
}

func (q *intentQueue) close() {
	q.closed.Store(true)
}

// SubmitIntent is safe to call from any goroutine. Submitting an intent that
// is already pending has no further effect. It reports false once the
// session is closed.
func (s *Session) SubmitIntent(intent Intent) bool {
	return s.intents.submit(intent)
}

// applyIntents runs pending intents on the control goroutine, re-checking
// their preconditions. Idle sleep wins over a nudge submitted in the same
// window.
func (s *Session) applyIntents(ctx context.Context) bool {
	sleep := s.intents.take(IntentIdleSleep)
	nudge := s.intents.take(IntentIdleNudge)

	if sleep && s.applyIdleSleep(ctx) {
		return true
	}
	if nudge && s.applyIdleNudge(ctx) {
		return true
	}
	return false
}

func (s *Session) applyIdleNudge(ctx context.Context) bool {
	if s.isAsleep() || s.current == s.states.speaking || s.pendingReplyText != "" {
		return false
	}

	logger.InfoContext(ctx, "nudging idle user", "state", s.current.Name())
	s.pendingReplyText = LineIdleNudge
	s.continuation = s.current
	s.setState(ctx, s.states.speaking)
	return true
}

func (s *Session) applyIdleSleep(ctx context.Context) bool {
	if s.isAsleep() || s.current == s.states.speaking {
		return false
	}

	logger.InfoContext(ctx, "falling asleep after inactivity", "idle_for", s.now().Sub(s.LastActivity()))
	s.pendingUserText = ""
	s.pendingReplyText = LineIdleFarewell
	s.continuation = s.states.sleep
	s.bridge.ClearTranscripts()
	s.armSleepGuard(s.config.sleepEntryGuard)
	s.bridge.ClearDirectivesExcept(events.DirectiveWake)
	s.setState(ctx, s.states.speaking)
	return true
}
