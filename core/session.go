package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-companion/core/audio"
	"github.com/koscakluka/ema-companion/core/events"
	"github.com/koscakluka/ema-companion/core/speechtotext"
	"github.com/koscakluka/ema-companion/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const maxHeldInput = 8

// Session is the companion's state machine. Tick, and everything it calls,
// runs on a single control goroutine; other goroutines interact with the
// session only through the event bridge, SubmitIntent and the read-only
// observers.
type Session struct {
	states  stateSet
	current State

	// Scratch fields owned by the control goroutine.
	pendingUserText   string
	pendingReplyText  string
	continuation      State
	wentToSleepAt     time.Time
	sleepGuardUntil   time.Time
	sleepGuardPending time.Duration
	turnID            string
	captureStarted    bool
	heldInput         []string

	// Observed from other goroutines.
	lastActivity  atomic.Int64
	cooldownUntil atomic.Int64
	awake         atomic.Bool
	speaking      atomic.Bool
	stateName     atomic.Value
	streamDown    atomic.Bool

	bridge  *EventBridge
	intents *intentQueue

	streaming   StreamingRecognizer
	batch       BatchRecognizer
	reasoner    Reasoner
	synthesizer Synthesizer
	player      Player
	capture     Capture
	detector    WakeDetector
	matcher     *speechtotext.PhraseMatcher

	config    sessionConfig
	callbacks sessionCallbacks
	now       utils.Clock

	closeOnce sync.Once
}

type sessionConfig struct {
	postBuffer             time.Duration
	sleepEntryGuard        time.Duration
	pollInterval           time.Duration
	recordWindow           time.Duration
	encoding               audio.EncodingInfo
	skipPlayback           bool
	degradeOnStreamFailure bool
}

type sessionCallbacks struct {
	onStateChanged      func(from, to StateName)
	onInterimTranscript func(transcript string)
	onTranscript        func(transcript string)
	onReply             func(reply string)
}

func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		bridge:  NewEventBridge(),
		intents: newIntentQueue(),
		matcher: speechtotext.NewPhraseMatcher(speechtotext.DefaultPhrases()),
		config: sessionConfig{
			postBuffer:      DefaultPostBuffer,
			sleepEntryGuard: DefaultSleepEntryGuard,
			pollInterval:    DefaultPollInterval,
			recordWindow:    DefaultRecordWindow,
			encoding:        audio.GetDefaultEncodingInfo(),
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.states = newStateSet(capabilities{
		streaming: s.streaming != nil,
		capture:   s.capture != nil,
		detector:  s.detector != nil,
		batch:     s.batch != nil,
	})
	s.current = s.states.sleep
	s.stateName.Store(StateSleep)
	s.markActivity()
	s.current.enter(context.Background(), s)

	if s.streaming != nil {
		s.subscribe(s.streaming)
	}

	return s
}

// WithEncodingInfo sets the capture format used for batch recordings.
func WithEncodingInfo(encoding audio.EncodingInfo) SessionOption {
	return func(s *Session) {
		if !encoding.IsZero() {
			s.config.encoding = encoding
		}
	}
}

func (s *Session) subscribe(recognizer StreamingRecognizer) {
	recognizer.AddWakeListener(func(directive events.WakeDirective) {
		s.streamDown.Store(false)
		if directive.Directive == events.DirectiveWake {
			s.markActivity()
		}
		s.bridge.PushDirective(directive)
	})

	recognizer.AddTranscriptListener(func(record events.TranscriptRecord) {
		s.streamDown.Store(false)
		if !record.IsFinal {
			if cb := s.callbacks.onInterimTranscript; cb != nil {
				cb(record.Text)
			}
			return
		}

		if cb := s.callbacks.onTranscript; cb != nil {
			cb(record.Text)
		}
		if s.bridge.PushTranscript(record) {
			s.markActivity()
		}
	})

	recognizer.AddErrorListener(func(err error) {
		if errors.Is(err, speechtotext.ErrReconnectExhausted) {
			s.streamDown.Store(true)
		}
		logger.Warn("speech recognition error", "error", err)
	})
}

// Tick runs one step of the state machine. It must only be called from the
// control goroutine. A non-empty manualInput is held until Sleep or
// Listening reads it. The result reports whether a directive or intent was
// resolved or a transition happened.
func (s *Session) Tick(ctx context.Context, manualInput string) bool {
	s.holdInput(ctx, manualInput)

	if s.applyIntents(ctx) {
		return true
	}

	handled := false
	if s.streamingActive() {
		resolved, transitioned := s.drainDirectives(ctx)
		if transitioned {
			return true
		}
		handled = resolved
	}

	if next := s.current.handle(ctx, s, s.takeInput()); next != nil && next != s.current {
		s.setState(ctx, next)
		handled = true
	}

	if s.streamingActive() {
		resolved, transitioned := s.drainDirectives(ctx)
		handled = handled || resolved || transitioned
	}

	return handled
}

// holdInput queues a manual line until a state that reads input runs.
func (s *Session) holdInput(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if len(s.heldInput) >= maxHeldInput {
		logger.WarnContext(ctx, "dropping oldest manual input", "input", s.heldInput[0])
		s.heldInput = s.heldInput[1:]
	}
	s.heldInput = append(s.heldInput, line)
}

// takeInput hands the oldest held line to Sleep and Listening. The other
// states never read input, so lines wait for them to pass.
func (s *Session) takeInput() string {
	if len(s.heldInput) == 0 || (s.current != s.states.sleep && s.current != s.states.listening) {
		return ""
	}
	line := s.heldInput[0]
	s.heldInput = s.heldInput[1:]
	return line
}

// Run ticks until ctx ends. Lines received on inputs are passed to the next
// tick as manual input.
func (s *Session) Run(ctx context.Context, inputs <-chan string) error {
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		input := ""
		select {
		case line, ok := <-inputs:
			if ok {
				input = line
			} else {
				inputs = nil
			}
		default:
		}

		s.Tick(ctx, input)
	}
}

// Close stops accepting directives, transcripts and intents.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.bridge.Close()
		s.intents.close()
	})
}

func (s *Session) setState(ctx context.Context, next State) {
	if next == nil || next == s.current {
		return
	}

	ctx, span := tracer.Start(ctx, "transition")
	defer span.End()

	previous := s.current
	span.SetAttributes(
		attribute.String("from", string(previous.Name())),
		attribute.String("to", string(next.Name())),
		attribute.String("turn.id", s.turnID),
	)

	previous.exit(ctx, s)
	s.current = next
	next.enter(ctx, s)
	s.stateName.Store(next.Name())

	transitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(previous.Name())),
		attribute.String("to", string(next.Name())),
	))
	logger.DebugContext(ctx, "state changed", "from", previous.Name(), "to", next.Name())

	if cb := s.callbacks.onStateChanged; cb != nil {
		cb(previous.Name(), next.Name())
	}
}

// takeContinuation reads and clears the state to resume after Speaking.
func (s *Session) takeContinuation() State {
	continuation := s.continuation
	s.continuation = nil
	return continuation
}

func (s *Session) streamingActive() bool {
	if s.streaming == nil {
		return false
	}
	return !(s.config.degradeOnStreamFailure && s.streamDown.Load())
}

func (s *Session) markActivity() {
	s.lastActivity.Store(s.now().UnixNano())
}

func (s *Session) isAsleep() bool { return s.current == s.states.sleep }

// Bridge exposes the queues fed by the streaming recognizer.
func (s *Session) Bridge() *EventBridge { return s.bridge }

func (s *Session) IsAwake() bool           { return s.awake.Load() }
func (s *Session) IsSpeaking() bool        { return s.speaking.Load() }
func (s *Session) LastActivity() time.Time { return time.Unix(0, s.lastActivity.Load()) }
func (s *Session) StateName() StateName    { return s.stateName.Load().(StateName) }

// StreamingDegraded reports whether the session has fallen back to
// non-streaming input.
func (s *Session) StreamingDegraded() bool { return s.streaming != nil && !s.streamingActive() }

// Current returns the current state. Control goroutine only.
func (s *Session) Current() State { return s.current }

// PendingUserText is the utterance waiting for a reply. Control goroutine only.
func (s *Session) PendingUserText() string { return s.pendingUserText }

// PendingReplyText is the reply waiting to be spoken. Control goroutine only.
func (s *Session) PendingReplyText() string { return s.pendingReplyText }
