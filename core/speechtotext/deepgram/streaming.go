package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-companion/core/events"
	"github.com/koscakluka/ema-companion/core/speechtotext"
	"github.com/koscakluka/ema-companion/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultListenURL = "wss://api.deepgram.com/v1/listen"

	maxConsecutiveSendFailures = 5
	sendFailureBackoff         = 50 * time.Millisecond
	readFailureBackoff         = 50 * time.Millisecond
	emptyChunkBackoff          = 10 * time.Millisecond
	reconnectFailureBackoff    = 500 * time.Millisecond
	senderStopWait             = time.Second
)

var defaultRetryDelays = []time.Duration{0, time.Second, 3 * time.Second}

// AudioSource is the microphone feeding the stream.
type AudioSource interface {
	StartStream() error
	ReadChunk() ([]byte, error)
	StopStream() error
}

// Conn is the subset of a websocket connection the client uses.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a websocket connection to the listen endpoint.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

func dialWebsocket(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// StreamingClient streams microphone audio to Deepgram and turns the results
// into wake directives and transcript records. Listeners are called from the
// client's reader goroutine.
type StreamingClient struct {
	apiKey  string
	source  AudioSource
	options speechtotext.StreamingOptions
	matcher *speechtotext.PhraseMatcher

	listenURL   string
	dial        Dialer
	retryDelays []time.Duration
	now         utils.Clock

	connMu    sync.Mutex
	conn      Conn
	lastMsgTs atomic.Int64

	listenersMu         sync.RWMutex
	wakeListeners       []speechtotext.WakeListener
	transcriptListeners []speechtotext.TranscriptListener
	errorListeners      []speechtotext.ErrorListener

	speaking  atomic.Bool
	muteUntil atomic.Int64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type ClientOption func(*StreamingClient)

// WithListenURL points the client at a different listen endpoint.
func WithListenURL(listenURL string) ClientOption {
	return func(c *StreamingClient) { c.listenURL = listenURL }
}

func WithDialer(dial Dialer) ClientOption {
	return func(c *StreamingClient) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithRetryDelays sets the wait before each connection attempt of a retry
// cycle.
func WithRetryDelays(delays ...time.Duration) ClientOption {
	return func(c *StreamingClient) {
		if len(delays) > 0 {
			c.retryDelays = delays
		}
	}
}

func WithStreamingOptions(opts ...speechtotext.StreamingOption) ClientOption {
	return func(c *StreamingClient) {
		for _, opt := range opts {
			opt(&c.options)
		}
	}
}

func WithClock(now utils.Clock) ClientOption {
	return func(c *StreamingClient) {
		if now != nil {
			c.now = now
		}
	}
}

func NewStreamingClient(apiKey string, source AudioSource, opts ...ClientOption) (*StreamingClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key is missing")
	}

	c := &StreamingClient{
		apiKey:      apiKey,
		source:      source,
		options:     speechtotext.DefaultStreamingOptions(),
		listenURL:   defaultListenURL,
		dial:        dialWebsocket,
		retryDelays: defaultRetryDelays,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.matcher = speechtotext.NewPhraseMatcher(c.options.Phrases)

	return c, nil
}

func (c *StreamingClient) AddWakeListener(listener speechtotext.WakeListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.wakeListeners = append(c.wakeListeners, listener)
}

func (c *StreamingClient) AddTranscriptListener(listener speechtotext.TranscriptListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.transcriptListeners = append(c.transcriptListeners, listener)
}

func (c *StreamingClient) AddErrorListener(listener speechtotext.ErrorListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.errorListeners = append(c.errorListeners, listener)
}

// Start connects, starts the microphone and begins streaming. Calling Start
// on a running client does nothing.
func (c *StreamingClient) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.done != nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "start speech stream")
	defer span.End()

	conn, err := c.openWithRetry(ctx)
	if err != nil {
		err = fmt.Errorf("unable to establish deepgram streaming connection: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := c.source.StartStream(); err != nil {
		c.closeConn(conn)
		err = fmt.Errorf("failed to start microphone: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.setConn(runCtx, conn)

	go func() {
		defer close(done)
		c.streamAudio(runCtx)
	}()
	go c.keepAlive(runCtx)

	return nil
}

// Stop stops streaming, waiting a bounded time for the sender, then stops the
// microphone and closes the connection.
func (c *StreamingClient) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.speaking.Store(false)

	select {
	case <-done:
	case <-time.After(senderStopWait):
		logger.Warn("audio sender did not stop in time")
	}

	if err := c.source.StopStream(); err != nil {
		c.emitError(fmt.Errorf("failed to stop microphone: %w", err))
	}

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		if err := conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
			c.emitError(fmt.Errorf("failed to close deepgram stream: %w", err))
		}
		c.closeConn(conn)
	}
}

// SetSpeaking mutes outgoing audio while the companion is speaking.
func (c *StreamingClient) SetSpeaking(isSpeaking bool) {
	c.speaking.Store(isSpeaking)
}

// NotifyResponseSent keeps audio muted for the post buffer after playback.
// Playback has already taken duration, so only the buffer is waited.
func (c *StreamingClient) NotifyResponseSent(_ time.Duration, bufferOverride *time.Duration) {
	buffer := c.options.PostBuffer
	if bufferOverride != nil {
		buffer = *bufferOverride
	}
	buffer = max(buffer, 0)
	c.muteUntil.Store(c.now().Add(buffer).UnixNano())
}

func (c *StreamingClient) muteChunkIfNeeded(chunk []byte) []byte {
	if len(chunk) == 0 {
		return chunk
	}
	if c.speaking.Load() || c.now().UnixNano() < c.muteUntil.Load() {
		return c.options.EncodingInfo.Silence(len(chunk))
	}
	return chunk
}

func (c *StreamingClient) listenURLWithQuery() (string, error) {
	encoding, err := convertEncoding(c.options.EncodingInfo)
	if err != nil {
		return "", fmt.Errorf("invalid encoding: %w", err)
	}

	listenURL, err := url.Parse(c.listenURL)
	if err != nil {
		return "", fmt.Errorf("invalid listen url: %w", err)
	}
	queryParams := listenURL.Query()
	queryParams.Set("model", c.options.Model)
	queryParams.Set("punctuate", "true")
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", strconv.FormatBool(c.options.InterimResults))
	encoding.setQuery(queryParams)
	queryParams.Set("endpointing", strconv.Itoa(c.options.EndpointingMs))
	listenURL.RawQuery = queryParams.Encode()

	return listenURL.String(), nil
}

// openWithRetry runs one retry cycle. Every failed attempt is reported to the
// error listeners.
func (c *StreamingClient) openWithRetry(ctx context.Context) (Conn, error) {
	listenURL, err := c.listenURLWithQuery()
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt, delay := range c.retryDelays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		conn, err := c.dial(ctx, listenURL, http.Header{"Authorization": {"Token " + c.apiKey}})
		if err == nil {
			logger.Info("connected to deepgram", "attempt", attempt+1)
			return conn, nil
		}

		lastErr = fmt.Errorf("failed to open socket connection to deepgram: %w", err)
		c.emitError(lastErr)
	}

	err = fmt.Errorf("%w after %d attempts: %w", speechtotext.ErrReconnectExhausted, len(c.retryDelays), lastErr)
	c.emitError(err)
	return nil, err
}

func (c *StreamingClient) reconnect(ctx context.Context) bool {
	logger.Info("attempting to reconnect deepgram stream")
	c.connMu.Lock()
	previous := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if previous != nil {
		c.closeConn(previous)
	}

	conn, err := c.openWithRetry(ctx)
	if err != nil {
		logger.Warn("deepgram reconnection failed", "error", err)
		return false
	}

	c.setConn(ctx, conn)
	logger.Info("reconnected to deepgram")
	return true
}

func (c *StreamingClient) setConn(ctx context.Context, conn Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.lastMsgTs.Store(c.now().UnixNano())

	go c.readMessages(ctx, conn)
}

func (c *StreamingClient) currentConn() Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *StreamingClient) closeConn(conn Conn) {
	if err := conn.Close(); err != nil {
		logger.Debug("failed to close deepgram connection", "error", err)
	}
}

// dropConn forgets conn unless it was already replaced.
func (c *StreamingClient) dropConn(conn Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}

// streamAudio forwards microphone chunks while connected. The microphone is
// not read while disconnected, so a non-streaming reader of the same device
// gets every chunk until the connection is back.
func (c *StreamingClient) streamAudio(ctx context.Context) {
	consecutiveFailures := 0
	for ctx.Err() == nil {
		if c.currentConn() == nil && !c.reconnect(ctx) {
			sleepContext(ctx, reconnectFailureBackoff)
			continue
		}

		chunk, err := c.source.ReadChunk()
		if err != nil {
			c.emitError(fmt.Errorf("failed to read audio chunk: %w", err))
			sleepContext(ctx, readFailureBackoff)
			continue
		}
		if len(chunk) == 0 {
			sleepContext(ctx, emptyChunkBackoff)
			continue
		}

		chunk = c.muteChunkIfNeeded(chunk)

		if err := c.sendAudio(chunk); err != nil {
			c.emitError(err)
			consecutiveFailures++
			if consecutiveFailures < maxConsecutiveSendFailures {
				sleepContext(ctx, sendFailureBackoff)
				continue
			}

			consecutiveFailures = 0
			if !c.reconnect(ctx) {
				sleepContext(ctx, reconnectFailureBackoff)
			}
			continue
		}
		consecutiveFailures = 0
	}
}

func (c *StreamingClient) sendAudio(chunk []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("deepgram connection is closed")
	}

	c.lastMsgTs.Store(c.now().UnixNano())
	if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (c *StreamingClient) sendSilence(chunk []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("failed to write silence to deepgram client: %w", err)
	}
	return nil
}

func (c *StreamingClient) sendKeepAlive() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: "KeepAlive"}); err != nil {
		logger.Warn("failed to write keepalive to deepgram client", "error", err)
	}
}

func (c *StreamingClient) readMessages(ctx context.Context, conn Conn) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.emitError(fmt.Errorf("failed to read deepgram websocket message: %w", err))
			}
			c.dropConn(conn)
			return
		}
		if msgType != websocket.BinaryMessage {
			c.processMessage(ctx, msg)
		}
	}
}

func (c *StreamingClient) processMessage(ctx context.Context, msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram results", "error", err)
			return
		}
		if len(msgResp.Channel.Alternatives) == 0 {
			return
		}

		transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		if transcript == "" {
			return
		}

		if msgResp.IsFinal {
			c.processFinalTranscript(ctx, transcript)
		} else {
			c.emitTranscript(events.NewTranscriptRecord(transcript, false, false))
		}
	}
}

func (c *StreamingClient) processFinalTranscript(ctx context.Context, transcript string) {
	_, span := tracer.Start(ctx, "classify transcript")
	defer span.End()

	directives := c.matcher.Classify(transcript)
	for _, directive := range directives {
		span.AddEvent("directive", trace.WithAttributes(attribute.String("kind", directive.String())))
		c.emitWake(events.NewWakeDirective(directive, transcript))
	}

	c.emitTranscript(events.NewTranscriptRecord(
		transcript,
		true,
		speechtotext.ShouldProcess(transcript, c.options.MinTranscriptWords),
	))
}

func (c *StreamingClient) emitWake(directive events.WakeDirective) {
	c.listenersMu.RLock()
	listeners := append([]speechtotext.WakeListener(nil), c.wakeListeners...)
	c.listenersMu.RUnlock()

	for _, listener := range listeners {
		if err := callListener(func() { listener(directive) }); err != nil {
			c.emitError(err)
		}
	}
}

func (c *StreamingClient) emitTranscript(record events.TranscriptRecord) {
	c.listenersMu.RLock()
	listeners := append([]speechtotext.TranscriptListener(nil), c.transcriptListeners...)
	c.listenersMu.RUnlock()

	for _, listener := range listeners {
		if err := callListener(func() { listener(record) }); err != nil {
			c.emitError(err)
		}
	}
}

func (c *StreamingClient) emitError(err error) {
	c.listenersMu.RLock()
	listeners := append([]speechtotext.ErrorListener(nil), c.errorListeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		logger.Warn("streaming error", "error", err)
		return
	}
	for _, listener := range listeners {
		if listenerErr := callListener(func() { listener(err) }); listenerErr != nil {
			logger.Error("error listener failed", "error", listenerErr)
		}
	}
}

// callListener runs one listener, turning a panic into an error so the other
// listeners still run.
func callListener(call func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	call()
	return nil
}

// keepAlive sends silence for the first second after audio stops flowing,
// then a KeepAlive message every few seconds.
func (c *StreamingClient) keepAlive(ctx context.Context) {
	type keepAliveState string
	const (
		keepAliveStateWaiting   keepAliveState = "waiting"
		keepAliveStateSilence   keepAliveState = "silence"
		keepAliveStateKeepAlive keepAliveState = "keepAlive"
	)

	const tick = 50 * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	chunk := c.options.EncodingInfo.Silence(c.options.EncodingInfo.BytesPerSecond() * int(tick/time.Millisecond) / 1000)

	var (
		state         = keepAliveStateWaiting
		silenceSince  time.Time
		lastKeepAlive time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := c.now()
		sinceLastMsg := now.Sub(time.Unix(0, c.lastMsgTs.Load()))

		switch state {
		case keepAliveStateWaiting:
			if sinceLastMsg > tick {
				state = keepAliveStateSilence
				silenceSince = now
			}

		case keepAliveStateSilence:
			if sinceLastMsg < tick {
				state = keepAliveStateWaiting
				continue
			}
			if now.Sub(silenceSince) >= time.Second {
				state = keepAliveStateKeepAlive
				lastKeepAlive = now
				continue
			}
			if err := c.sendSilence(chunk); err != nil {
				logger.Warn("sending silence failed", "error", err)
			}

		case keepAliveStateKeepAlive:
			if sinceLastMsg < tick {
				state = keepAliveStateWaiting
				continue
			}
			if now.Sub(lastKeepAlive) >= 5*time.Second {
				lastKeepAlive = now
				c.sendKeepAlive()
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
