package groq

import (
	"context"
	"strings"

	"github.com/koscakluka/ema-companion/core/llms"
)

// spokenReply is what the model is asked to produce for every prompt.
type spokenReply struct {
	Reply string `json:"reply" jsonschema:"description=What to say out loud to the user, one or two short sentences"`
}

// Prompt asks for a structured spoken reply and returns just its text.
func (c *Client) Prompt(ctx context.Context, prompt string, opts ...llms.PromptOption) (*llms.Response, error) {
	reply, usage, err := PromptJSONSchema[spokenReply](ctx, c, prompt, opts...)
	if err != nil {
		logger.WarnContext(ctx, "prompt failed", "error", err)
		return nil, err
	}
	return &llms.Response{Content: strings.TrimSpace(reply.Reply), Usage: usage}, nil
}
