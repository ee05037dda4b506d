package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultPrerecordedURL = "https://api.deepgram.com/v1/listen"

// PrerecordedClient transcribes recorded WAV clips in one request.
type PrerecordedClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type PrerecordedOption func(*PrerecordedClient)

func WithPrerecordedURL(baseURL string) PrerecordedOption {
	return func(c *PrerecordedClient) { c.baseURL = baseURL }
}

func WithPrerecordedModel(model string) PrerecordedOption {
	return func(c *PrerecordedClient) { c.model = model }
}

func NewPrerecordedClient(apiKey string, opts ...PrerecordedOption) (*PrerecordedClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key is missing")
	}

	c := &PrerecordedClient{
		apiKey:  apiKey,
		baseURL: defaultPrerecordedURL,
		model:   "nova-2",
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Transcribe returns the first alternative of the first channel, or an empty
// string when the clip is empty or anything goes wrong.
func (c *PrerecordedClient) Transcribe(ctx context.Context, wav []byte) string {
	if len(wav) == 0 {
		return ""
	}

	ctx, span := tracer.Start(ctx, "transcribe clip")
	defer span.End()
	span.SetAttributes(attribute.Int("request.bytes", len(wav)))

	transcript, err := c.transcribe(ctx, wav)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "prerecorded transcription failed", "error", err)
		return ""
	}

	if transcript == "" {
		logger.InfoContext(ctx, "no transcript in response")
	}
	return transcript
}

func (c *PrerecordedClient) transcribe(ctx context.Context, wav []byte) (string, error) {
	listenURL, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid listen url: %w", err)
	}
	queryParams := listenURL.Query()
	queryParams.Set("model", c.model)
	queryParams.Set("smart_format", "true")
	listenURL.RawQuery = queryParams.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, listenURL.String(), bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("non-OK HTTP status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var parsed prerecordedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("error unmarshalling response: %w", err)
	}
	return parsed.transcript(), nil
}

type prerecordedResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (r prerecordedResponse) transcript() string {
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Results.Channels[0].Alternatives[0].Transcript)
}
