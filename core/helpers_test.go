package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-companion/core/events"
	"github.com/koscakluka/ema-companion/core/speechtotext"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubRecognizer struct {
	mu          sync.Mutex
	wake        []speechtotext.WakeListener
	transcripts []speechtotext.TranscriptListener
	errs        []speechtotext.ErrorListener

	speakingCalls []bool
	buffers       []time.Duration
}

func (r *stubRecognizer) AddWakeListener(l speechtotext.WakeListener) { r.wake = append(r.wake, l) }
func (r *stubRecognizer) AddTranscriptListener(l speechtotext.TranscriptListener) {
	r.transcripts = append(r.transcripts, l)
}
func (r *stubRecognizer) AddErrorListener(l speechtotext.ErrorListener) { r.errs = append(r.errs, l) }

func (r *stubRecognizer) SetSpeaking(isSpeaking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speakingCalls = append(r.speakingCalls, isSpeaking)
}

func (r *stubRecognizer) NotifyResponseSent(_ time.Duration, bufferOverride *time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bufferOverride != nil {
		r.buffers = append(r.buffers, *bufferOverride)
	}
}

func (r *stubRecognizer) emitDirective(kind events.DirectiveKind, transcript string) {
	for _, l := range r.wake {
		l(events.NewWakeDirective(kind, transcript))
	}
}

func (r *stubRecognizer) emitTranscript(text string, isFinal bool) {
	for _, l := range r.transcripts {
		l(events.NewTranscriptRecord(text, isFinal, isFinal))
	}
}

func (r *stubRecognizer) emitError(err error) {
	for _, l := range r.errs {
		l(err)
	}
}

type stubReasoner struct {
	reply  string
	err    error
	panics bool
	calls  []string
}

func (r *stubReasoner) Generate(_ context.Context, text string) (string, error) {
	r.calls = append(r.calls, text)
	if r.panics {
		panic("reasoner exploded")
	}
	return r.reply, r.err
}

type stubSynthesizer struct {
	spoken   []string
	err      error
	duration time.Duration
}

func (s *stubSynthesizer) Speak(_ context.Context, text string) error {
	if s.err != nil {
		return s.err
	}
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *stubSynthesizer) LastDuration() time.Duration { return s.duration }
func (s *stubSynthesizer) OutputPath() string          { return "output.wav" }

type stubPlayer struct {
	played []string
}

func (p *stubPlayer) PlayFile(_ context.Context, path string) error {
	p.played = append(p.played, path)
	return nil
}

// stubCapture behaves like the real devices: reads fail until the stream is
// started.
type stubCapture struct {
	chunk    []byte
	err      error
	startErr error
	reads    int
	starts   int
	muted    []time.Duration
	speaking []bool
	active   bool
}

func (c *stubCapture) StartStream() error {
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.active = true
	return nil
}
func (c *stubCapture) StopStream() error { c.active = false; return nil }
func (c *stubCapture) ReadChunk() ([]byte, error) {
	c.reads++
	if !c.active {
		return nil, errors.New("stream not started")
	}
	if c.err != nil {
		return nil, c.err
	}
	return append([]byte(nil), c.chunk...), nil
}
func (c *stubCapture) SetSpeaking(isSpeaking bool) { c.speaking = append(c.speaking, isSpeaking) }
func (c *stubCapture) MuteFor(d time.Duration)     { c.muted = append(c.muted, d) }

type stubDetector struct {
	detect bool
	calls  int
}

func (d *stubDetector) Detect([]byte) bool {
	d.calls++
	return d.detect
}

type testRig struct {
	session    *Session
	clock      *manualClock
	recognizer *stubRecognizer
	reasoner   *stubReasoner
	synth      *stubSynthesizer
	player     *stubPlayer
}

func newTestRig(t *testing.T, opts ...SessionOption) *testRig {
	t.Helper()

	rig := &testRig{
		clock:      newManualClock(),
		recognizer: &stubRecognizer{},
		reasoner:   &stubReasoner{reply: "I am functioning normally."},
		synth:      &stubSynthesizer{duration: time.Second},
		player:     &stubPlayer{},
	}

	base := []SessionOption{
		WithClock(rig.clock.Now),
		WithPollInterval(0),
		WithStreamingRecognizer(rig.recognizer),
		WithReasoner(rig.reasoner),
		WithSynthesizer(rig.synth),
		WithPlayer(rig.player),
	}
	rig.session = NewSession(append(base, opts...)...)
	return rig
}

func (r *testRig) tick(t *testing.T) bool {
	t.Helper()
	return r.session.Tick(context.Background(), "")
}

// wakeToListening drives a fresh session through the greeting.
func (r *testRig) wakeToListening(t *testing.T) {
	t.Helper()
	r.recognizer.emitDirective(events.DirectiveWake, "hey baymax")
	for range 3 {
		r.tick(t)
	}
	if got := r.session.StateName(); got != StateListening {
		t.Fatalf("expected session to reach listening, got %s", got)
	}
}

var errStub = errors.New("stub failure")
