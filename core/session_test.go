package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/koscakluka/ema-companion/core/events"
	"github.com/koscakluka/ema-companion/core/speechtotext"
)

func TestWakeDirectiveGreetsThenListens(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session

	if got := s.StateName(); got != StateSleep {
		t.Fatalf("expected initial state sleep, got %s", got)
	}

	rig.recognizer.emitDirective(events.DirectiveWake, "hey baymax")
	if !rig.tick(t) {
		t.Fatalf("expected wake tick to report a transition")
	}
	if got := s.StateName(); got != StateWake {
		t.Fatalf("expected wake, got %s", got)
	}
	if !s.IsAwake() {
		t.Fatalf("expected session to be awake")
	}

	rig.tick(t)
	if got := s.StateName(); got != StateSpeaking {
		t.Fatalf("expected speaking, got %s", got)
	}
	if got := s.PendingReplyText(); got != LineWelcome {
		t.Fatalf("expected welcome line, got %q", got)
	}
	if s.continuation != s.states.listening {
		t.Fatalf("expected continuation listening, got %v", s.continuation)
	}

	rig.tick(t)
	if got := s.StateName(); got != StateListening {
		t.Fatalf("expected listening, got %s", got)
	}
	if !slices.Equal(rig.synth.spoken, []string{LineWelcome}) {
		t.Fatalf("expected welcome to be spoken once, got %v", rig.synth.spoken)
	}
	if !slices.Equal(rig.player.played, []string{"output.wav"}) {
		t.Fatalf("expected synthesized file to be played, got %v", rig.player.played)
	}
}

func TestFinalTranscriptIsAnswered(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session
	rig.wakeToListening(t)

	rig.recognizer.emitTranscript("How are", false)
	rig.recognizer.emitTranscript("How are you?", true)

	rig.tick(t)
	if got := s.StateName(); got != StateProcessing {
		t.Fatalf("expected processing, got %s", got)
	}
	if got := s.PendingUserText(); got != "How are you?" {
		t.Fatalf("expected pending user text, got %q", got)
	}

	rig.tick(t)
	if got := s.StateName(); got != StateSpeaking {
		t.Fatalf("expected speaking, got %s", got)
	}
	if !slices.Equal(rig.reasoner.calls, []string{"How are you?"}) {
		t.Fatalf("expected reasoner to be called with transcript, got %v", rig.reasoner.calls)
	}
	if got := s.PendingReplyText(); got != rig.reasoner.reply {
		t.Fatalf("expected reasoner reply pending, got %q", got)
	}
	if s.PendingUserText() != "" {
		t.Fatalf("expected user text to be cleared")
	}

	rig.tick(t)
	if got := s.StateName(); got != StateListening {
		t.Fatalf("expected listening, got %s", got)
	}
	if s.PendingReplyText() != "" {
		t.Fatalf("expected reply to be cleared after speaking")
	}
	if got := rig.synth.spoken[len(rig.synth.spoken)-1]; got != rig.reasoner.reply {
		t.Fatalf("expected reply to be spoken, got %q", got)
	}
}

func TestSleepDirectiveConfirmsThenGuardsSleep(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session
	rig.wakeToListening(t)

	rig.recognizer.emitDirective(events.DirectiveSleep, "goodbye baymax")
	if !rig.tick(t) {
		t.Fatalf("expected directive tick to report handled")
	}
	if got := s.StateName(); got != StateSpeaking {
		t.Fatalf("expected speaking, got %s", got)
	}
	if got := s.PendingReplyText(); got != LineCannotDeactivate {
		t.Fatalf("expected cannot-deactivate line, got %q", got)
	}
	if s.continuation != s.states.sleep {
		t.Fatalf("expected continuation sleep")
	}

	rig.tick(t)
	if got := s.StateName(); got != StateSleep {
		t.Fatalf("expected sleep, got %s", got)
	}
	if !s.SleepGuardActive() {
		t.Fatalf("expected sleep guard to be armed")
	}
	if got := rig.recognizer.buffers[len(rig.recognizer.buffers)-1]; got != DefaultSleepEntryGuard {
		t.Fatalf("expected unmute buffer to cover the sleep guard, got %v", got)
	}

	rig.recognizer.emitDirective(events.DirectiveWake, "hey baymax")
	rig.tick(t)
	if got := s.StateName(); got != StateSleep {
		t.Fatalf("expected guard to keep session asleep, got %s", got)
	}
	if got := s.Bridge().DirectiveCount(); got != 0 {
		t.Fatalf("expected wake directive to be discarded, %d queued", got)
	}
}

func TestSleepDirectiveTakesPriorityOverWake(t *testing.T) {
	testCases := []struct {
		name          string
		advance       time.Duration
		expectedState StateName
	}{
		{name: "guard active", advance: 0, expectedState: StateSleep},
		{name: "guard expired", advance: DefaultSleepEntryGuard + time.Millisecond, expectedState: StateWake},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			rig := newTestRig(t)
			s := rig.session
			rig.wakeToListening(t)

			rig.recognizer.emitDirective(events.DirectiveSleep, "goodnight")
			rig.recognizer.emitDirective(events.DirectiveWake, "hey baymax")

			rig.tick(t)
			if got := s.StateName(); got != StateSpeaking {
				t.Fatalf("expected speaking, got %s", got)
			}
			front, ok := s.Bridge().PeekDirective()
			if !ok || front.Directive != events.DirectiveWake || s.Bridge().DirectiveCount() != 1 {
				t.Fatalf("expected only the wake directive to remain queued")
			}

			rig.tick(t)
			if got := s.StateName(); got != StateSleep {
				t.Fatalf("expected sleep, got %s", got)
			}
			if s.Bridge().DirectiveCount() != 1 {
				t.Fatalf("expected wake directive to survive until sleep handles it")
			}

			rig.clock.Advance(testCase.advance)
			rig.tick(t)
			if got := s.StateName(); got != testCase.expectedState {
				t.Fatalf("expected %s, got %s", testCase.expectedState, got)
			}
			if s.Bridge().DirectiveCount() != 0 {
				t.Fatalf("expected wake directive to be consumed or discarded")
			}
		})
	}
}

func TestSatisfiedAndSleepFromOneUtteranceSpeakOnce(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session
	rig.wakeToListening(t)

	rig.recognizer.emitDirective(events.DirectiveSatisfied, "i'm satisfied, goodnight")
	rig.recognizer.emitDirective(events.DirectiveSleep, "i'm satisfied, goodnight")

	rig.tick(t)
	if got := s.PendingReplyText(); got != LineSatisfied {
		t.Fatalf("expected satisfaction line, got %q", got)
	}
	if got := s.Bridge().DirectiveCount(); got != 0 {
		t.Fatalf("expected duplicate sleep directive to be dropped, %d queued", got)
	}

	rig.tick(t)
	if got := s.StateName(); got != StateSleep {
		t.Fatalf("expected sleep, got %s", got)
	}
	spoken := rig.synth.spoken[1:]
	if !slices.Equal(spoken, []string{LineSatisfied}) {
		t.Fatalf("expected one confirmation, got %v", spoken)
	}
}

func TestForceSleepSkipsConfirmation(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session
	rig.wakeToListening(t)
	spokenBefore := len(rig.synth.spoken)

	rig.recognizer.emitDirective(events.DirectiveForceSleep, "")
	if !rig.tick(t) {
		t.Fatalf("expected forced sleep to report a transition")
	}
	if got := s.StateName(); got != StateSleep {
		t.Fatalf("expected sleep, got %s", got)
	}
	if len(rig.synth.spoken) != spokenBefore {
		t.Fatalf("expected no spoken confirmation")
	}
	if !s.SleepGuardActive() {
		t.Fatalf("expected sleep guard to be armed")
	}
}

func TestDirectivesWhileAsleepAreIgnored(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session

	rig.recognizer.emitDirective(events.DirectiveSleep, "goodnight")
	rig.recognizer.emitDirective(events.DirectiveSatisfied, "satisfied")
	rig.tick(t)

	if got := s.StateName(); got != StateSleep {
		t.Fatalf("expected sleep, got %s", got)
	}
	if s.PendingReplyText() != "" {
		t.Fatalf("expected no reply while asleep")
	}
	if s.SleepGuardActive() {
		t.Fatalf("expected guard to stay disarmed")
	}
}

func TestUnknownDirectiveIsIgnored(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session
	rig.wakeToListening(t)

	s.Bridge().PushDirective(events.NewWakeDirective(events.DirectiveKind(99), "???"))
	rig.tick(t)

	if got := s.StateName(); got != StateListening {
		t.Fatalf("expected listening, got %s", got)
	}
	if got := s.Bridge().DirectiveCount(); got != 0 {
		t.Fatalf("expected unknown directive to be consumed, %d queued", got)
	}
}

func TestSetStateToCurrentStateIsNoOp(t *testing.T) {
	changes := 0
	rig := newTestRig(t, WithStateChangedCallback(func(StateName, StateName) { changes++ }))
	s := rig.session
	ctx := context.Background()

	s.setState(ctx, s.current)
	s.setState(ctx, nil)
	if changes != 0 {
		t.Fatalf("expected no hooks for same-state transition, got %d", changes)
	}

	s.setState(ctx, s.states.listening)
	s.setState(ctx, s.states.listening)
	if changes != 1 {
		t.Fatalf("expected exactly one transition, got %d", changes)
	}
}

func TestContinuationIsConsumedOnce(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session
	ctx := context.Background()

	s.setState(ctx, s.states.listening)
	s.pendingReplyText = "first"
	s.continuation = s.states.listening
	s.setState(ctx, s.states.speaking)
	rig.tick(t)
	if got := s.StateName(); got != StateListening {
		t.Fatalf("expected continuation listening, got %s", got)
	}
	if s.continuation != nil {
		t.Fatalf("expected continuation to be cleared")
	}

	s.pendingReplyText = "second"
	s.setState(ctx, s.states.speaking)
	rig.tick(t)
	if got := s.StateName(); got != StateIdle {
		t.Fatalf("expected default continuation idle, got %s", got)
	}
}

func TestSpeakingWithoutReplyStillConsumesContinuation(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session
	ctx := context.Background()

	s.setState(ctx, s.states.listening)
	s.continuation = s.states.processing
	s.setState(ctx, s.states.speaking)
	rig.tick(t)

	if got := s.StateName(); got != StateProcessing {
		t.Fatalf("expected processing, got %s", got)
	}
	if len(rig.synth.spoken) != 0 {
		t.Fatalf("expected nothing to be spoken")
	}
}

func TestReasonerOutcomesProduceSpokenLines(t *testing.T) {
	testCases := []struct {
		name     string
		reasoner Reasoner
		expected string
	}{
		{name: "reply", reasoner: &stubReasoner{reply: "  Hello there.  "}, expected: "Hello there."},
		{name: "unavailable", reasoner: nil, expected: LineReasonerOffline},
		{name: "reports unavailable", reasoner: &stubReasoner{err: fmt.Errorf("no key: %w", ErrUnavailable)}, expected: LineReasonerOffline},
		{name: "failure", reasoner: &stubReasoner{err: errStub}, expected: LineReasonerFault},
		{name: "panic", reasoner: &stubReasoner{panics: true}, expected: LineReasonerFault},
		{name: "empty reply", reasoner: &stubReasoner{reply: " "}, expected: LineEmptyReply},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			rig := newTestRig(t, WithReasoner(testCase.reasoner))
			s := rig.session
			ctx := context.Background()

			s.setState(ctx, s.states.listening)
			s.pendingUserText = "how are you"
			s.setState(ctx, s.states.processing)
			rig.tick(t)

			if got := s.StateName(); got != StateSpeaking {
				t.Fatalf("expected speaking, got %s", got)
			}
			if got := s.PendingReplyText(); got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestProcessingWithoutTextApologizes(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session
	ctx := context.Background()

	s.setState(ctx, s.states.listening)
	s.setState(ctx, s.states.processing)
	rig.tick(t)

	if got := s.PendingReplyText(); got != LineNothingHeard {
		t.Fatalf("expected apology line, got %q", got)
	}
	if len(rig.reasoner.calls) != 0 {
		t.Fatalf("expected reasoner not to be called")
	}
}

func TestSynthesizerFailureStillReleasesMute(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session
	ctx := context.Background()
	rig.synth.err = errStub

	s.setState(ctx, s.states.listening)
	s.pendingReplyText = "hello"
	s.continuation = s.states.listening
	s.setState(ctx, s.states.speaking)
	rig.tick(t)

	if got := s.StateName(); got != StateListening {
		t.Fatalf("expected listening, got %s", got)
	}
	if len(rig.player.played) != 0 {
		t.Fatalf("expected nothing to be played")
	}
	if !slices.Equal(rig.recognizer.speakingCalls, []bool{true, false}) {
		t.Fatalf("expected speaking to be toggled on and off, got %v", rig.recognizer.speakingCalls)
	}
	if !s.SpeechCooldownActive() {
		t.Fatalf("expected speech cooldown to be active")
	}
	rig.clock.Advance(DefaultPostBuffer)
	if s.SpeechCooldownActive() {
		t.Fatalf("expected speech cooldown to expire after the post buffer")
	}
}

func TestSpeechCooldownIsNeverShortened(t *testing.T) {
	rig := newTestRig(t)
	s := rig.session

	s.extendSpeechCooldown(time.Second)
	s.extendSpeechCooldown(10 * time.Millisecond)

	if got := s.SpeechCooldownRemaining(); got != time.Second {
		t.Fatalf("expected one second remaining, got %v", got)
	}
}

func TestSkipPlaybackOnlySynthesizes(t *testing.T) {
	rig := newTestRig(t, WithSkipPlayback(true))
	rig.wakeToListening(t)

	if len(rig.synth.spoken) != 1 || len(rig.player.played) != 0 {
		t.Fatalf("expected synthesis without playback, spoken=%v played=%v", rig.synth.spoken, rig.player.played)
	}
}

func TestManualInputDrivesConversationWithoutStreaming(t *testing.T) {
	clock := newManualClock()
	reasoner := &stubReasoner{reply: "Hello."}
	s := NewSession(WithClock(clock.Now), WithPollInterval(0), WithReasoner(reasoner), WithSynthesizer(&stubSynthesizer{}))
	ctx := context.Background()

	s.Tick(ctx, "what time is it")
	if got := s.StateName(); got != StateSleep {
		t.Fatalf("expected non-wake input to be ignored, got %s", got)
	}

	s.Tick(ctx, "Hey, Baymax!")
	if got := s.StateName(); got != StateWake {
		t.Fatalf("expected wake, got %s", got)
	}
	s.Tick(ctx, "")
	s.Tick(ctx, "")
	if got := s.StateName(); got != StateListening {
		t.Fatalf("expected listening, got %s", got)
	}

	s.Tick(ctx, "tell me a joke")
	if got := s.PendingUserText(); got != "tell me a joke" {
		t.Fatalf("expected manual input as user text, got %q", got)
	}
	s.Tick(ctx, "")
	if !slices.Equal(reasoner.calls, []string{"tell me a joke"}) {
		t.Fatalf("expected reasoner call, got %v", reasoner.calls)
	}
}

func TestManualInputWaitsForAStateThatReadsIt(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(s *Session)
	}{
		{name: "idle", setup: func(s *Session) { s.setState(context.Background(), s.states.idle) }},
		{name: "wake", setup: func(s *Session) {
			s.pendingReplyText = LineWelcome
			s.setState(context.Background(), s.states.wake)
		}},
		{name: "intent applied", setup: func(s *Session) {
			s.setState(context.Background(), s.states.listening)
			s.SubmitIntent(IntentIdleNudge)
		}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			reasoner := &stubReasoner{reply: "Hello."}
			s := NewSession(WithPollInterval(0), WithReasoner(reasoner), WithSynthesizer(&stubSynthesizer{}))
			testCase.setup(s)
			ctx := context.Background()

			s.Tick(ctx, "tell me a joke")
			for range 4 {
				if s.PendingUserText() != "" || len(reasoner.calls) > 0 {
					break
				}
				s.Tick(ctx, "")
			}

			if s.PendingUserText() != "tell me a joke" && !slices.Equal(reasoner.calls, []string{"tell me a joke"}) {
				t.Fatalf("expected typed line to reach the reasoner, state %s, calls %v", s.StateName(), reasoner.calls)
			}
		})
	}
}

func TestHeldManualInputIsBounded(t *testing.T) {
	s := NewSession(WithPollInterval(0))

	for i := range maxHeldInput + 2 {
		s.holdInput(context.Background(), fmt.Sprintf("line %d", i))
	}

	if got := len(s.heldInput); got != maxHeldInput {
		t.Fatalf("expected %d held lines, got %d", maxHeldInput, got)
	}
	if got := s.heldInput[0]; got != "line 2" {
		t.Fatalf("expected the oldest lines to be dropped, got %q first", got)
	}
}

func TestListeningWithoutSourcesFallsBackToIdle(t *testing.T) {
	s := NewSession(WithPollInterval(0))
	ctx := context.Background()
	s.setState(ctx, s.states.listening)

	s.Tick(ctx, "")
	if got := s.StateName(); got != StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	s.Tick(ctx, "")
	if got := s.StateName(); got != StateListening {
		t.Fatalf("expected idle to hand back to listening, got %s", got)
	}
}

type stubBatch struct {
	text  string
	clips [][]byte
}

func (b *stubBatch) Transcribe(_ context.Context, audio []byte) string {
	b.clips = append(b.clips, audio)
	return b.text
}

func TestBatchListeningRecordsAndTranscribes(t *testing.T) {
	capture := &stubCapture{chunk: make([]byte, 1024)}
	batch := &stubBatch{text: "hello there"}
	s := NewSession(
		WithPollInterval(0),
		WithCapture(capture),
		WithBatchRecognizer(batch),
		WithRecordWindow(100*time.Millisecond),
	)
	ctx := context.Background()
	s.setState(ctx, s.states.listening)

	s.Tick(ctx, "")

	if got := s.StateName(); got != StateProcessing {
		t.Fatalf("expected processing, got %s", got)
	}
	if got := s.PendingUserText(); got != "hello there" {
		t.Fatalf("expected transcript, got %q", got)
	}
	if capture.starts != 1 {
		t.Fatalf("expected capture to be started once, got %d", capture.starts)
	}
	if capture.reads != 4 {
		t.Fatalf("expected 4 chunk reads for 100ms of audio, got %d", capture.reads)
	}
	if len(batch.clips) != 1 || len(batch.clips[0]) != 44+3200 {
		t.Fatalf("expected one WAV clip carrying 3200 bytes of audio")
	}
}

func TestBatchListeningCaptureFailureGoesIdle(t *testing.T) {
	s := NewSession(
		WithPollInterval(0),
		WithCapture(&stubCapture{err: errStub}),
		WithBatchRecognizer(&stubBatch{}),
	)
	ctx := context.Background()
	s.setState(ctx, s.states.listening)

	s.Tick(ctx, "")
	if got := s.StateName(); got != StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestSleepUsesWakeDetectorWithoutStreaming(t *testing.T) {
	detector := &stubDetector{detect: true}
	capture := &stubCapture{chunk: []byte{1, 2}}
	s := NewSession(WithPollInterval(0), WithCapture(capture), WithWakeDetector(detector))

	s.Tick(context.Background(), "")
	if got := s.StateName(); got != StateWake {
		t.Fatalf("expected wake, got %s", got)
	}
	if detector.calls != 1 {
		t.Fatalf("expected detector to run once, got %d", detector.calls)
	}
	if !capture.active {
		t.Fatalf("expected capture to be started before reading")
	}
}

func TestCaptureIsStartedOnlyOnce(t *testing.T) {
	detector := &stubDetector{}
	capture := &stubCapture{chunk: []byte{1, 2}}
	s := NewSession(WithPollInterval(0), WithCapture(capture), WithWakeDetector(detector))

	for range 5 {
		s.Tick(context.Background(), "")
	}

	if capture.starts != 1 {
		t.Fatalf("expected one start, got %d", capture.starts)
	}
	if capture.reads != 5 || detector.calls != 5 {
		t.Fatalf("expected 5 reads and detections, got %d and %d", capture.reads, detector.calls)
	}
}

func TestCaptureStartFailure(t *testing.T) {
	t.Run("sleep keeps waiting", func(t *testing.T) {
		detector := &stubDetector{detect: true}
		capture := &stubCapture{startErr: errStub}
		s := NewSession(WithPollInterval(0), WithCapture(capture), WithWakeDetector(detector))

		s.Tick(context.Background(), "")
		s.Tick(context.Background(), "")
		if got := s.StateName(); got != StateSleep {
			t.Fatalf("expected sleep, got %s", got)
		}
		if capture.reads != 0 || detector.calls != 0 {
			t.Fatalf("expected no reads before the capture starts, got %d reads", capture.reads)
		}
		if capture.starts != 2 {
			t.Fatalf("expected a start attempt on each tick, got %d", capture.starts)
		}
	})

	t.Run("listening goes idle", func(t *testing.T) {
		capture := &stubCapture{startErr: errStub}
		s := NewSession(WithPollInterval(0), WithCapture(capture), WithBatchRecognizer(&stubBatch{}))
		ctx := context.Background()
		s.setState(ctx, s.states.listening)

		s.Tick(ctx, "")
		if got := s.StateName(); got != StateIdle {
			t.Fatalf("expected idle, got %s", got)
		}
		if capture.reads != 0 {
			t.Fatalf("expected no reads, got %d", capture.reads)
		}
	})
}

func TestSpeakingSilencesCapture(t *testing.T) {
	capture := &stubCapture{}
	rig := newTestRig(t, WithCapture(capture), WithPostBuffer(300*time.Millisecond))
	rig.wakeToListening(t)

	if !slices.Equal(capture.speaking, []bool{true, false}) {
		t.Fatalf("expected capture to be silenced for the greeting, got %v", capture.speaking)
	}
	if !slices.Equal(capture.muted, []time.Duration{300 * time.Millisecond}) {
		t.Fatalf("expected the post buffer on the capture, got %v", capture.muted)
	}
}

func TestExhaustedStreamDegradesToCaptureWhenConfigured(t *testing.T) {
	detector := &stubDetector{detect: true}
	rig := newTestRig(t,
		WithCapture(&stubCapture{chunk: []byte{1, 2}}),
		WithWakeDetector(detector),
		WithDegradeOnStreamFailure(true),
	)
	s := rig.session

	rig.tick(t)
	if detector.calls != 0 {
		t.Fatalf("expected detector to be unused while streaming")
	}

	rig.recognizer.emitError(fmt.Errorf("stream: %w", speechtotext.ErrReconnectExhausted))
	if !s.StreamingDegraded() {
		t.Fatalf("expected session to report degraded streaming")
	}
	rig.tick(t)
	if got := s.StateName(); got != StateWake {
		t.Fatalf("expected detector wake in degraded mode, got %s", got)
	}

	rig.recognizer.emitTranscript("I am back online", true)
	if s.StreamingDegraded() {
		t.Fatalf("expected streaming to recover on new events")
	}
}

func TestExhaustedStreamWithoutDegradeKeepsStreaming(t *testing.T) {
	rig := newTestRig(t, WithCapture(&stubCapture{}), WithWakeDetector(&stubDetector{}))
	rig.recognizer.emitError(speechtotext.ErrReconnectExhausted)

	if rig.session.StreamingDegraded() {
		t.Fatalf("expected streaming to stay active")
	}
}

func TestInterimTranscriptsOnlyReachCallback(t *testing.T) {
	var interim []string
	rig := newTestRig(t, WithInterimTranscriptCallback(func(text string) { interim = append(interim, text) }))
	rig.wakeToListening(t)

	rig.recognizer.emitTranscript("how are", false)
	rig.recognizer.emitTranscript("hmm", true)

	if !slices.Equal(interim, []string{"how are"}) {
		t.Fatalf("expected interim callback, got %v", interim)
	}
	if got := rig.session.Bridge().TranscriptCount(); got != 0 {
		t.Fatalf("expected no transcripts queued, got %d", got)
	}
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	s := NewSession(WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	inputs := make(chan string, 1)
	inputs <- "hey baymax"

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, inputs) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return after cancel")
	}
}

func TestCloseRejectsFurtherEvents(t *testing.T) {
	rig := newTestRig(t)
	rig.session.Close()

	rig.recognizer.emitDirective(events.DirectiveWake, "hey baymax")
	if got := rig.session.Bridge().DirectiveCount(); got != 0 {
		t.Fatalf("expected closed bridge to drop directives, got %d", got)
	}
	if rig.session.SubmitIntent(IntentIdleSleep) {
		t.Fatalf("expected closed session to refuse intents")
	}
}

func TestCollaboratorFaultWrapsCause(t *testing.T) {
	err := invokeCollaborator(context.Background(), "reasoner", func(context.Context) error { return errStub })

	var fault *CollaboratorFault
	if !errors.As(err, &fault) || fault.Collaborator != "reasoner" {
		t.Fatalf("expected collaborator fault, got %v", err)
	}
	if !errors.Is(err, errStub) {
		t.Fatalf("expected fault to unwrap to cause")
	}

	if err := invokeCollaborator(context.Background(), "player", func(context.Context) error { return ErrUnavailable }); IsFault(err) {
		t.Fatalf("expected unavailable to stay distinct from faults")
	}
}
