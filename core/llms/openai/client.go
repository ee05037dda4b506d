package openai

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultURL     = "https://api.openai.com/v1/responses"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
)

// Client prompts a model through the OpenAI Responses API.
type Client struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.url = url }
}

// WithTimeout bounds a whole request, including reading the response.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.client.Timeout = timeout }
}

func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is missing")
	}

	c := &Client{
		apiKey: apiKey,
		model:  defaultModel,
		url:    defaultURL,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Model() string { return c.model }
