package orchestration

import (
	"context"
	"fmt"
	"time"
)

// armSleepGuard schedules a sleep guard to start when the session next
// enters Sleep.
func (s *Session) armSleepGuard(d time.Duration) {
	s.sleepGuardPending = max(s.sleepGuardPending, max(d, 0))
}

func (s *Session) activateSleepGuard(now time.Time) {
	if s.sleepGuardPending <= 0 {
		return
	}
	s.sleepGuardUntil = now.Add(s.sleepGuardPending)
	s.sleepGuardPending = 0
}

// SleepGuardActive reports whether wake signals are being discarded.
// Control goroutine only.
func (s *Session) SleepGuardActive() bool {
	return s.now().Before(s.sleepGuardUntil)
}

// extendSpeechCooldown never shortens an existing cooldown.
func (s *Session) extendSpeechCooldown(buffer time.Duration) {
	until := s.now().Add(buffer).UnixNano()
	for {
		current := s.cooldownUntil.Load()
		if current >= until || s.cooldownUntil.CompareAndSwap(current, until) {
			return
		}
	}
}

// SpeechCooldownRemaining is safe to call from any goroutine and never
// blocks.
func (s *Session) SpeechCooldownRemaining() time.Duration {
	return max(time.Duration(s.cooldownUntil.Load()-s.now().UnixNano()), 0)
}

func (s *Session) SpeechCooldownActive() bool {
	return s.SpeechCooldownRemaining() > 0
}

// finishSpeaking unmutes collaborators after playback, keeping a longer
// buffer when the session is about to fall asleep.
func (s *Session) finishSpeaking(ctx context.Context, duration time.Duration, continuation State) {
	buffer := s.config.postBuffer
	if continuation == s.states.sleep {
		buffer = max(buffer, s.config.sleepEntryGuard)
	}

	s.extendSpeechCooldown(buffer)

	if s.streaming != nil {
		s.streaming.SetSpeaking(false)
		s.streaming.NotifyResponseSent(duration, &buffer)
	}
	if s.capture != nil {
		s.capture.MuteFor(buffer)
		s.capture.SetSpeaking(false)
	}

	logger.DebugContext(ctx, "speech finished", "duration", duration, "buffer", buffer)
}

// startCapture starts the capture device the first time the session reads
// from it. The streaming recognizer starts the same device on its own, and
// starting a running device does nothing.
func (s *Session) startCapture(ctx context.Context) bool {
	if s.captureStarted {
		return true
	}
	if err := s.capture.StartStream(); err != nil {
		recordFault(ctx, "capture", &CollaboratorFault{Collaborator: "capture", Err: fmt.Errorf("failed to start capture: %w", err)})
		return false
	}

	s.captureStarted = true
	logger.InfoContext(ctx, "capture started")
	return true
}

func (s *Session) waitForSpeechCooldown(ctx context.Context) {
	if remaining := s.SpeechCooldownRemaining(); remaining > 0 {
		sleepContext(ctx, remaining)
	}
}

func (s *Session) pollWait(ctx context.Context) {
	sleepContext(ctx, s.config.pollInterval)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
