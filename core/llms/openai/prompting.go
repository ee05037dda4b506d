package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/koscakluka/ema-companion/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Prompt sends the prompt after the configured instructions and history and
// returns the text of the first message the model produced.
func (c *Client) Prompt(ctx context.Context, prompt string, opts ...llms.PromptOption) (*llms.Response, error) {
	ctx, span := tracer.Start(ctx, "prompt llm")
	defer span.End()

	response, err := c.prompt(ctx, span, prompt, llms.NewPromptOptions(opts...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "prompt failed", "error", err)
		return nil, err
	}
	return response, nil
}

func (c *Client) prompt(ctx context.Context, span trace.Span, prompt string, options llms.PromptOptions) (*llms.Response, error) {
	messages := toOpenAIMessages(options.Instructions, options.History)
	messages = append(messages, openAIMessage{
		Type:    messageTypeMessage,
		Role:    messageRoleUser,
		Content: prompt,
	})

	reqBody := requestBody{
		Model:       c.model,
		Input:       messages,
		Stream:      false,
		Temperature: options.Temperature,
	}
	if options.MaxTokens > 0 {
		reqBody.MaxOutputTokens = &options.MaxTokens
	}
	span.SetAttributes(
		attribute.String("request.model", c.model),
		attribute.Int("request.messages", len(messages)),
	)

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("non-OK HTTP status %s: %s", resp.Status, strings.TrimSpace(string(errorBody)))
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	var body responseBody
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return nil, fmt.Errorf("error unmarshalling response body: %w", err)
	}

	response, err := parseOutput(body.Output)
	if err != nil {
		return nil, err
	}
	if usage := body.Usage; usage != nil {
		response.Usage = &llms.Usage{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			TotalTokens:  usage.TotalTokens,
		}
		span.SetAttributes(attribute.Int("response.total_tokens", usage.TotalTokens))
	}
	return response, nil
}

// parseOutput takes the first assistant message; reasoning and any other
// output items are skipped.
func parseOutput(output []json.RawMessage) (*llms.Response, error) {
	response := &llms.Response{}
	for _, item := range output {
		var outputType responseOutputType
		if err := json.Unmarshal(item, &outputType); err != nil {
			return nil, fmt.Errorf("error unmarshalling output type: %w", err)
		}
		if outputType.Type != responseOutputTypeMessage {
			continue
		}

		var outputMessage responseOutputMessage
		if err := json.Unmarshal(item, &outputMessage); err != nil {
			return nil, fmt.Errorf("error unmarshalling output message: %w", err)
		}
		for _, content := range outputMessage.Content {
			switch content.Type {
			case "output_text":
				response.Content += content.Text
			case "refusal":
				response.Content = content.Refusal
				response.Refused = true
			}
		}
		return response, nil
	}
	return response, nil
}

type requestBody struct {
	Model           string          `json:"model"`
	Input           []openAIMessage `json:"input"`
	Stream          bool            `json:"stream"`
	MaxOutputTokens *int            `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
}

type responseBody struct {
	Output []json.RawMessage  `json:"output"`
	Usage  *responseBodyUsage `json:"usage,omitempty"`
}

type responseOutputType struct {
	// Type is the type of the output item, 'message', 'reasoning' or
	// 'function_call'.
	Type string `json:"type"`
}

const responseOutputTypeMessage = "message"

type responseOutputMessage struct {
	ID      string `json:"id"`
	Content []struct {
		// Type is 'output_text' or 'refusal'.
		Type    string `json:"type"`
		Text    string `json:"text,omitempty"`
		Refusal string `json:"refusal,omitempty"`
	} `json:"content,omitempty"`
}

type responseBodyUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
