package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/koscakluka/ema-companion/core/audio"
	"github.com/koscakluka/ema-companion/core/texttospeech"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_turbo_v2_5"
)

// TextToSpeechClient requests raw PCM from the ElevenLabs text-to-speech
// endpoint and writes it to the shared output file.
type TextToSpeechClient struct {
	*texttospeech.Output

	apiKey    string
	voiceID   string
	model     string
	baseURL   string
	synthesis texttospeech.SynthesisOptions
	client    *http.Client
}

type ClientOption func(*TextToSpeechClient)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *TextToSpeechClient) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithModel(model string) ClientOption {
	return func(c *TextToSpeechClient) { c.model = model }
}

func WithSynthesisOptions(opts ...texttospeech.SynthesisOption) ClientOption {
	return func(c *TextToSpeechClient) {
		for _, opt := range opts {
			opt(&c.synthesis)
		}
	}
}

func NewTextToSpeechClient(apiKey, voiceID string, opts ...ClientOption) (*TextToSpeechClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is missing")
	}
	if voiceID == "" {
		return nil, fmt.Errorf("elevenlabs voice id is missing")
	}

	client := &TextToSpeechClient{
		apiKey:    apiKey,
		voiceID:   voiceID,
		model:     defaultModel,
		baseURL:   defaultBaseURL,
		synthesis: texttospeech.DefaultSynthesisOptions(),
		client:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(client)
	}

	if _, err := outputFormat(client.synthesis.EncodingInfo); err != nil {
		return nil, err
	}
	client.Output = texttospeech.NewOutput(client.synthesis)
	return client, nil
}

// Speak blocks until the reply audio has been downloaded and written.
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
	format, _ := outputFormat(c.synthesis.EncodingInfo)

	speechURL, err := url.Parse(c.baseURL + "/v1/text-to-speech/" + url.PathEscape(c.voiceID))
	if err != nil {
		return nil, fmt.Errorf("invalid speech url: %w", err)
	}
	query := speechURL.Query()
	query.Set("output_format", format)
	speechURL.RawQuery = query.Encode()

	body, err := json.Marshal(requestBody{
		Text:    text,
		ModelID: c.model,
		VoiceSettings: voiceSettings{
			Stability:       0.6,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, speechURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("non-OK HTTP status %s: %s", resp.Status, strings.TrimSpace(string(errorBody)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return pcm, nil
}

func outputFormat(encoding audio.EncodingInfo) (string, error) {
	if encoding.Format != audio.EncodingLinear16 {
		return "", fmt.Errorf("unsupported elevenlabs encoding %s", encoding.Format.Name())
	}
	switch encoding.SampleRate {
	case 16000, 22050, 24000, 44100:
		return fmt.Sprintf("pcm_%d", encoding.SampleRate), nil
	}
	return "", fmt.Errorf("unsupported elevenlabs sample rate %d", encoding.SampleRate)
}

type requestBody struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}
