package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-companion/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PromptJSONSchema asks the model for a reply shaped like T, using a strict
// json_schema response format reflected from T.
func PromptJSONSchema[T any](
	ctx context.Context,
	c *Client,
	prompt string,
	opts ...llms.PromptOption,
) (*T, *llms.Usage, error) {
	ctx, span := tracer.Start(ctx, "prompt llm structured")
	defer span.End()

	output, usage, err := promptJSONSchema[T](ctx, c, prompt, llms.NewPromptOptions(opts...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	return output, usage, nil
}

func promptJSONSchema[T any](ctx context.Context, c *Client, prompt string, options llms.PromptOptions) (*T, *llms.Usage, error) {
	span := trace.SpanFromContext(ctx)

	messages, err := toMessages(options.Instructions, options.History)
	if err != nil {
		return nil, nil, fmt.Errorf("error converting history: %w", err)
	}
	messages = append(messages, message{
		Role:    messageRoleUser,
		Content: prompt,
	})

	// TODO: Groq only supports a subset of JSON schema; reflect into that
	// subset instead of relying on DoNotReference.
	reflector := jsonschema.Reflector{DoNotReference: true}
	outputType := reflect.TypeOf((*T)(nil)).Elem()
	schema := reflector.ReflectFromType(outputType)

	reqBody := schemaRequestBody{
		Model:       c.model,
		Messages:    messages,
		Temperature: options.Temperature,
		ResponseFormat: &chatResponseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   outputType.Name(),
				Schema: *schema,
				Strict: true,
			},
		},
	}
	if options.MaxTokens > 0 {
		reqBody.MaxCompletionTokens = &options.MaxTokens
	}

	span.SetAttributes(attribute.String("request.model", c.model))
	if schemaString, err := schema.MarshalJSON(); err == nil {
		span.SetAttributes(attribute.String("request.schema", string(schemaString)))
	}

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		return nil, nil, fmt.Errorf("non-OK HTTP status: %s", resp.Status)
	}

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading response body: %w", err)
	}
	var responseBody schemaResponseBody
	if err := json.Unmarshal(respBodyBytes, &responseBody); err != nil {
		return nil, nil, fmt.Errorf("error unmarshalling response body: %w", err)
	}
	if len(responseBody.Choices) == 0 {
		return nil, nil, fmt.Errorf("response has no choices")
	}

	content := stripCodeFence(responseBody.Choices[0].Message.Content)
	var output T
	if err := json.Unmarshal([]byte(content), &output); err != nil {
		return nil, nil, fmt.Errorf("error unmarshalling response: %w", err)
	}

	var usage *llms.Usage
	if u := responseBody.Usage; u != nil {
		usage = &llms.Usage{
			InputTokens:  u.PromptTokens,
			OutputTokens: u.CompletionTokens,
			TotalTokens:  u.TotalTokens,
		}
	}
	return &output, usage, nil
}

// stripCodeFence unwraps content some models put in a markdown code block
// despite the response format.
func stripCodeFence(content string) string {
	split := strings.Split(content, "```")
	if len(split) < 3 {
		return content
	}
	return strings.TrimPrefix(strings.TrimSpace(split[1]), "json")
}

type schemaRequestBody struct {
	Model               string              `json:"model"`
	Messages            []message           `json:"messages"`
	MaxCompletionTokens *int                `json:"max_completion_tokens,omitempty"`
	Temperature         *float64            `json:"temperature,omitempty"`
	ResponseFormat      *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	// Name identifies the schema in the response.
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Schema      jsonschema.Schema `json:"schema"`
	// Strict enforces the schema upon the generated content.
	Strict bool `json:"strict"`
}

type schemaResponseBody struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"message"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int     `json:"prompt_tokens"`
		CompletionTokens int     `json:"completion_tokens"`
		TotalTokens      int     `json:"total_tokens"`
		TotalTime        float64 `json:"total_time"`
	} `json:"usage"`
}
