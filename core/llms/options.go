package llms

import "context"

// Prompter sends a single prompt, with optional instructions and history, to
// an LLM provider.
type Prompter interface {
	Prompt(ctx context.Context, prompt string, opts ...PromptOption) (*Response, error)
}

type PromptOptions struct {
	Instructions string
	History      []Message
	MaxTokens    int
	Temperature  *float64
}

type PromptOption func(*PromptOptions)

func NewPromptOptions(opts ...PromptOption) PromptOptions {
	options := PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithSystemPrompt sets the instructions sent ahead of the history.
func WithSystemPrompt(prompt string) PromptOption {
	return func(o *PromptOptions) { o.Instructions = prompt }
}

// WithHistory sets the earlier messages of the conversation, oldest first.
func WithHistory(messages ...Message) PromptOption {
	return func(o *PromptOptions) { o.History = messages }
}

func WithMaxTokens(maxTokens int) PromptOption {
	return func(o *PromptOptions) { o.MaxTokens = maxTokens }
}

func WithTemperature(temperature float64) PromptOption {
	return func(o *PromptOptions) { o.Temperature = &temperature }
}
