package openai

import "github.com/koscakluka/ema-companion/core/llms"

type openAIMessage struct {
	Type    messageType `json:"type"`
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

type messageRole string

const (
	messageRoleDeveloper messageRole = "developer"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

type messageType string

const messageTypeMessage messageType = "message"

// toOpenAIMessages puts the instructions first as a developer message and
// drops anything from the history the Responses API has no role for.
func toOpenAIMessages(instructions string, history []llms.Message) []openAIMessage {
	messages := []openAIMessage{}
	if instructions != "" {
		messages = append(messages, openAIMessage{
			Type:    messageTypeMessage,
			Role:    messageRoleDeveloper,
			Content: instructions,
		})
	}

	for _, message := range history {
		if message.Content == "" {
			continue
		}
		var role messageRole
		switch message.Role {
		case llms.RoleUser:
			role = messageRoleUser
		case llms.RoleAssistant:
			role = messageRoleAssistant
		case llms.RoleSystem:
			role = messageRoleDeveloper
		default:
			continue
		}
		messages = append(messages, openAIMessage{
			Type:    messageTypeMessage,
			Role:    role,
			Content: message.Content,
		})
	}
	return messages
}
