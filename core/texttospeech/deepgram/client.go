package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-companion/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultSpeakURL = "wss://api.deepgram.com/v1/speak"

// TextToSpeechClient renders each reply over a short-lived speak websocket
// and writes the audio to the shared output file.
type TextToSpeechClient struct {
	*texttospeech.Output

	apiKey    string
	speakURL  string
	synthesis texttospeech.SynthesisOptions

	mu    sync.Mutex
	voice deepgramVoice
}

type ClientOption func(*TextToSpeechClient)

func WithSpeakURL(speakURL string) ClientOption {
	return func(c *TextToSpeechClient) { c.speakURL = speakURL }
}

// WithSynthesisOptions sets the output file and audio format.
func WithSynthesisOptions(opts ...texttospeech.SynthesisOption) ClientOption {
	return func(c *TextToSpeechClient) {
		for _, opt := range opts {
			opt(&c.synthesis)
		}
	}
}

func NewTextToSpeechClient(apiKey string, voice deepgramVoice, opts ...ClientOption) (*TextToSpeechClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key is missing")
	}
	if !slices.Contains(GetAvailableVoices(), voice) {
		return nil, fmt.Errorf("invalid voice %q", voice)
	}

	client := &TextToSpeechClient{
		apiKey:    apiKey,
		speakURL:  defaultSpeakURL,
		synthesis: texttospeech.DefaultSynthesisOptions(),
		voice:     voice,
	}
	for _, opt := range opts {
		opt(client)
	}
	client.Output = texttospeech.NewOutput(client.synthesis)
	return client, nil
}

func (c *TextToSpeechClient) SetVoice(voice deepgramVoice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = voice
}

// Speak blocks until the whole reply has been generated and written.
func (c *TextToSpeechClient) Speak(ctx context.Context, text string) error {
	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return texttospeech.ErrEmptyText
	}

	pcm, err := c.generate(ctx, text)
	if err == nil {
		err = c.Write(pcm)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.Int("audio.bytes", len(pcm)))
	logger.DebugContext(ctx, "speech generated", "duration", c.LastDuration())
	return nil
}

func (c *TextToSpeechClient) generate(ctx context.Context, text string) ([]byte, error) {
	ws, err := c.connectWebsocket(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}
	defer ws.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	if err := ws.WriteJSON(sendTextMsg(text)); err != nil {
		return nil, fmt.Errorf("failed to send text to deepgram through websocket: %w", err)
	}
	if err := ws.WriteJSON(flushMsg); err != nil {
		return nil, fmt.Errorf("failed to flush deepgram buffer: %w", err)
	}

	var pcm []byte
	for {
		msgType, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("websocket read error: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			pcm = append(pcm, msg...)
		case websocket.TextMessage:
			var parsedMsg websocketMessage
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Debug("failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				if err := ws.WriteJSON(closeMsg); err != nil {
					logger.Debug("failed to close deepgram speak stream", "error", err)
				}
				return pcm, nil
			case "Warning", "Error":
				logger.Warn("deepgram speak message", "message", string(msg))
			}
		}
	}
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	voice := c.voice
	c.mu.Unlock()

	speakURL, err := url.Parse(c.speakURL)
	if err != nil {
		return nil, fmt.Errorf("invalid speak url: %w", err)
	}
	urlValues := speakURL.Query()
	urlValues.Set("encoding", c.synthesis.EncodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(c.synthesis.EncodingInfo.SampleRate))
	urlValues.Set("model", string(voice))
	urlValues.Set("container", "none")
	speakURL.RawQuery = urlValues.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func sendTextMsg(text string) speakMessage { return speakMessage{Type: "Speak", Text: text} }

var (
	flushMsg = websocketMessage{Type: "Flush"}
	closeMsg = websocketMessage{Type: "Close"}
)
