package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-companion/core/events"
	"github.com/koscakluka/ema-companion/core/speechtotext"
)

type stubSource struct {
	started atomic.Bool
	stopped atomic.Bool
	reads   atomic.Int32
	chunk   []byte
}

func (s *stubSource) StartStream() error { s.started.Store(true); return nil }
func (s *stubSource) StopStream() error  { s.stopped.Store(true); return nil }
func (s *stubSource) ReadChunk() ([]byte, error) {
	s.reads.Add(1)
	time.Sleep(5 * time.Millisecond)
	return append([]byte(nil), s.chunk...), nil
}

type recorded struct {
	mu          sync.Mutex
	directives  []events.DirectiveKind
	transcripts []events.TranscriptRecord
	errs        []error
}

func (r *recorded) attach(c *StreamingClient) {
	c.AddWakeListener(func(d events.WakeDirective) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.directives = append(r.directives, d.Directive)
	})
	c.AddTranscriptListener(func(t events.TranscriptRecord) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.transcripts = append(r.transcripts, t)
	})
	c.AddErrorListener(func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, err)
	})
}

func (r *recorded) directiveKinds() []events.DirectiveKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.DirectiveKind(nil), r.directives...)
}

func newTestClient(t *testing.T, opts ...ClientOption) (*StreamingClient, *recorded) {
	t.Helper()
	client, err := NewStreamingClient("test-key", &stubSource{}, opts...)
	if err != nil {
		t.Fatalf("expected client, got error %v", err)
	}
	rec := &recorded{}
	rec.attach(client)
	return client, rec
}

func resultsMessage(transcript string, isFinal bool) []byte {
	final := "false"
	if isFinal {
		final = "true"
	}
	return []byte(`{"type":"Results","is_final":` + final + `,"speech_final":` + final +
		`,"channel":{"alternatives":[{"transcript":"` + transcript + `","confidence":0.98}]}}`)
}

func TestProcessMessageClassifiesFinalTranscripts(t *testing.T) {
	testCases := []struct {
		name          string
		transcript    string
		directives    []events.DirectiveKind
		shouldProcess bool
	}{
		{name: "wake", transcript: "Hey Baymax!", directives: []events.DirectiveKind{events.DirectiveWake}, shouldProcess: true},
		{name: "sleep", transcript: "Goodbye, Baymax.", directives: []events.DirectiveKind{events.DirectiveSleep}, shouldProcess: true},
		{
			name:          "satisfied and sleep",
			transcript:    "I'm satisfied with my care, goodnight",
			directives:    []events.DirectiveKind{events.DirectiveSatisfied, events.DirectiveSleep},
			shouldProcess: true,
		},
		{name: "wake suppressed by sleep", transcript: "bye baymax", directives: []events.DirectiveKind{events.DirectiveSleep}, shouldProcess: true},
		{name: "plain speech", transcript: "how are you", directives: nil, shouldProcess: true},
		{name: "single word", transcript: "hmm", directives: nil, shouldProcess: false},
		{name: "single emphasized word", transcript: "Help!", directives: nil, shouldProcess: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			client, rec := newTestClient(t)

			client.processMessage(context.Background(), resultsMessage(testCase.transcript, true))

			got := rec.directiveKinds()
			if len(got) != len(testCase.directives) {
				t.Fatalf("expected directives %v, got %v", testCase.directives, got)
			}
			for i := range got {
				if got[i] != testCase.directives[i] {
					t.Fatalf("expected directives %v, got %v", testCase.directives, got)
				}
			}

			if len(rec.transcripts) != 1 {
				t.Fatalf("expected one transcript record, got %d", len(rec.transcripts))
			}
			record := rec.transcripts[0]
			if !record.IsFinal || record.ShouldProcess != testCase.shouldProcess {
				t.Fatalf("expected final record with shouldProcess=%v, got %+v", testCase.shouldProcess, record)
			}
		})
	}
}

func TestProcessMessageInterimAndEmptyResults(t *testing.T) {
	client, rec := newTestClient(t)

	client.processMessage(context.Background(), resultsMessage("hey bay", false))
	client.processMessage(context.Background(), resultsMessage("   ", true))
	client.processMessage(context.Background(), []byte(`{"type":"Metadata"}`))
	client.processMessage(context.Background(), []byte(`not json`))

	if len(rec.directives) != 0 {
		t.Fatalf("expected no directives from interim results, got %v", rec.directives)
	}
	if len(rec.transcripts) != 1 {
		t.Fatalf("expected only the interim record, got %d", len(rec.transcripts))
	}
	if record := rec.transcripts[0]; record.IsFinal || record.ShouldProcess {
		t.Fatalf("expected interim record, got %+v", record)
	}
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	client, err := NewStreamingClient("test-key", &stubSource{})
	if err != nil {
		t.Fatalf("expected client, got error %v", err)
	}

	calls := atomic.Int32{}
	client.AddWakeListener(func(events.WakeDirective) { panic("boom") })
	client.AddWakeListener(func(events.WakeDirective) { calls.Add(1) })
	errs := atomic.Int32{}
	client.AddErrorListener(func(error) { errs.Add(1) })

	client.processMessage(context.Background(), resultsMessage("hey baymax", true))

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected second listener to run once, got %d", got)
	}
	if got := errs.Load(); got != 1 {
		t.Fatalf("expected the panic to be reported once, got %d", got)
	}
}

func TestMuteWhileSpeakingAndDuringBuffer(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	client, _ := newTestClient(t, WithClock(func() time.Time { return now }))
	chunk := []byte{1, 2, 3, 4}

	if got := client.muteChunkIfNeeded(chunk); got[0] != 1 {
		t.Fatalf("expected audio to pass through")
	}

	client.SetSpeaking(true)
	if got := client.muteChunkIfNeeded(chunk); got[0] != 0 || len(got) != len(chunk) {
		t.Fatalf("expected silence of equal length while speaking, got %v", got)
	}

	client.SetSpeaking(false)
	buffer := 600 * time.Millisecond
	client.NotifyResponseSent(2*time.Second, &buffer)
	if got := client.muteChunkIfNeeded(chunk); got[0] != 0 {
		t.Fatalf("expected silence during the post buffer")
	}

	now = now.Add(buffer)
	if got := client.muteChunkIfNeeded(chunk); got[0] != 1 {
		t.Fatalf("expected audio to pass after the buffer")
	}
}

func TestNotifyResponseSentUsesDefaultBuffer(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	client, _ := newTestClient(t,
		WithClock(func() time.Time { return now }),
		WithStreamingOptions(speechtotext.WithPostBuffer(100*time.Millisecond)),
	)

	client.NotifyResponseSent(time.Second, nil)
	if got := time.Duration(client.muteUntil.Load() - now.UnixNano()); got != 100*time.Millisecond {
		t.Fatalf("expected 100ms mute, got %v", got)
	}
}

func TestOpenWithRetryReportsExhaustion(t *testing.T) {
	dials := atomic.Int32{}
	client, rec := newTestClient(t,
		WithRetryDelays(0, 0, 0),
		WithDialer(func(context.Context, string, http.Header) (Conn, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		}),
	)

	_, err := client.openWithRetry(context.Background())
	if !errors.Is(err, speechtotext.ErrReconnectExhausted) {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if got := dials.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if got := len(rec.errs); got != 4 {
		t.Fatalf("expected each attempt and the exhaustion to be reported, got %d", got)
	}

	if err := client.Start(context.Background()); !errors.Is(err, speechtotext.ErrReconnectExhausted) {
		t.Fatalf("expected Start to fail with exhaustion, got %v", err)
	}
}

func TestSenderLeavesMicrophoneAloneWhileDisconnected(t *testing.T) {
	source := &stubSource{chunk: make([]byte, 320)}
	dials := atomic.Int32{}
	client, err := NewStreamingClient("test-key", source,
		WithRetryDelays(0),
		WithDialer(func(context.Context, string, http.Header) (Conn, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		}),
	)
	if err != nil {
		t.Fatalf("expected client, got error %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	client.streamAudio(ctx)

	if dials.Load() == 0 {
		t.Fatalf("expected the sender to try to reconnect")
	}
	if got := source.reads.Load(); got != 0 {
		t.Fatalf("expected no microphone reads without a connection, got %d", got)
	}
}

func TestListenURLCarriesStreamingOptions(t *testing.T) {
	client, _ := newTestClient(t, WithStreamingOptions(speechtotext.WithEndpointing(350)))

	listenURL, err := client.listenURLWithQuery()
	if err != nil {
		t.Fatalf("expected url, got error %v", err)
	}
	for _, expected := range []string{
		"model=nova-2", "punctuate=true", "interim_results=true", "smart_format=true",
		"encoding=linear16", "sample_rate=16000", "endpointing=350",
	} {
		if !strings.Contains(listenURL, expected) {
			t.Fatalf("expected %q in %s", expected, listenURL)
		}
	}
}

func TestStreamingRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := atomic.Int32{}
	var authorization atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sent := false
		for {
			msgType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				received.Add(1)
			}
			if !sent {
				sent = true
				if err := conn.WriteMessage(websocket.TextMessage, resultsMessage("Hey Baymax, how are you?", true)); err != nil {
					return
				}
			}
		}
	}))
	defer server.Close()

	source := &stubSource{chunk: make([]byte, 320)}
	client, err := NewStreamingClient("test-key", source,
		WithListenURL("ws"+strings.TrimPrefix(server.URL, "http")),
	)
	if err != nil {
		t.Fatalf("expected client, got error %v", err)
	}

	wakes := make(chan events.WakeDirective, 1)
	client.AddWakeListener(func(d events.WakeDirective) { wakes <- d })

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("expected stream to start, got %v", err)
	}
	defer client.Stop()

	select {
	case directive := <-wakes:
		if directive.Directive != events.DirectiveWake {
			t.Fatalf("expected wake directive, got %s", directive.Directive)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a wake directive from the stream")
	}

	if got := authorization.Load(); got != "Token test-key" {
		t.Fatalf("expected token authorization, got %v", got)
	}
	if received.Load() == 0 {
		t.Fatalf("expected audio to reach the server")
	}
	if !source.started.Load() {
		t.Fatalf("expected microphone to be started")
	}

	client.Stop()
	if !source.stopped.Load() {
		t.Fatalf("expected microphone to be stopped")
	}
}

func TestConvertEncodingRejectsUnsupportedFormats(t *testing.T) {
	client, _ := newTestClient(t, WithStreamingOptions(func(o *speechtotext.StreamingOptions) {
		o.EncodingInfo.SampleRate = 11025
	}))

	if _, err := client.listenURLWithQuery(); err == nil {
		t.Fatalf("expected unsupported sample rate to be rejected")
	}
}
