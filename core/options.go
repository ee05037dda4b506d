package orchestration

import (
	"time"

	"github.com/koscakluka/ema-companion/core/speechtotext"
	"github.com/koscakluka/ema-companion/internal/utils"
)

type SessionOption func(*Session)

const (
	DefaultPostBuffer      = 50 * time.Millisecond
	DefaultSleepEntryGuard = 600 * time.Millisecond
	DefaultPollInterval    = 50 * time.Millisecond
	DefaultRecordWindow    = 5 * time.Second
)

// WithStreamingRecognizer subscribes the session to the recognizer's
// directives and transcripts.
func WithStreamingRecognizer(recognizer StreamingRecognizer) SessionOption {
	return func(s *Session) { s.streaming = recognizer }
}

func WithBatchRecognizer(recognizer BatchRecognizer) SessionOption {
	return func(s *Session) { s.batch = recognizer }
}

func WithReasoner(reasoner Reasoner) SessionOption {
	return func(s *Session) { s.reasoner = reasoner }
}

func WithSynthesizer(synthesizer Synthesizer) SessionOption {
	return func(s *Session) { s.synthesizer = synthesizer }
}

func WithPlayer(player Player) SessionOption {
	return func(s *Session) { s.player = player }
}

func WithCapture(capture Capture) SessionOption {
	return func(s *Session) { s.capture = capture }
}

func WithWakeDetector(detector WakeDetector) SessionOption {
	return func(s *Session) { s.detector = detector }
}

// WithPhrases replaces the phrases used to recognize typed wake input.
func WithPhrases(phrases speechtotext.Phrases) SessionOption {
	return func(s *Session) { s.matcher = speechtotext.NewPhraseMatcher(phrases) }
}

// WithPostBuffer sets how long input stays muted after the companion stops
// speaking.
func WithPostBuffer(buffer time.Duration) SessionOption {
	return func(s *Session) { s.config.postBuffer = max(buffer, 0) }
}

// WithSleepEntryGuard sets how long wake signals are ignored after falling
// asleep.
func WithSleepEntryGuard(guard time.Duration) SessionOption {
	return func(s *Session) { s.config.sleepEntryGuard = max(guard, 0) }
}

// WithPollInterval sets how long an idle state waits before the next tick.
// Zero makes ticks return immediately.
func WithPollInterval(interval time.Duration) SessionOption {
	return func(s *Session) { s.config.pollInterval = max(interval, 0) }
}

// WithRecordWindow sets the length of a batch recording in Listening.
func WithRecordWindow(window time.Duration) SessionOption {
	return func(s *Session) { s.config.recordWindow = window }
}

// WithSkipPlayback synthesizes replies without playing them.
func WithSkipPlayback(skip bool) SessionOption {
	return func(s *Session) { s.config.skipPlayback = skip }
}

// WithDegradeOnStreamFailure falls back to capture and batch recognition
// while the streaming recognizer reports exhausted reconnects.
func WithDegradeOnStreamFailure(degrade bool) SessionOption {
	return func(s *Session) { s.config.degradeOnStreamFailure = degrade }
}

func WithClock(now utils.Clock) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func WithStateChangedCallback(callback func(from, to StateName)) SessionOption {
	return func(s *Session) { s.callbacks.onStateChanged = callback }
}

func WithInterimTranscriptCallback(callback func(transcript string)) SessionOption {
	return func(s *Session) { s.callbacks.onInterimTranscript = callback }
}

func WithTranscriptCallback(callback func(transcript string)) SessionOption {
	return func(s *Session) { s.callbacks.onTranscript = callback }
}

func WithReplyCallback(callback func(reply string)) SessionOption {
	return func(s *Session) { s.callbacks.onReply = callback }
}
