package groq

import (
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-companion/core/llms"
)

type message struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

type messageRole string

const (
	messageRoleSystem messageRole = "system"
	messageRoleUser   messageRole = "user"
)

func toMessages(instructions string, history []llms.Message) ([]message, error) {
	messages := []message{}
	if instructions != "" {
		messages = append(messages, message{
			Role:    messageRoleSystem,
			Content: instructions,
		})
	}

	converted := []message{}
	if err := copier.Copy(&converted, history); err != nil {
		return nil, err
	}
	for _, msg := range converted {
		if msg.Content == "" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
