package groq

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultURL     = "https://api.groq.com/openai/v1/chat/completions"
	defaultModel   = "llama-3.3-70b-versatile"
	defaultTimeout = 30 * time.Second
)

// Client talks to the Groq chat completions endpoint.
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

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.client.Timeout = timeout }
}

func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("groq api key is missing")
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
