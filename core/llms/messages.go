package llms

import "sync"

// Role describes who a message is from.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in a conversation.
type Message struct {
	Role    Role
	Content string
}

// Response is a single response from an LLM.
type Response struct {
	Content string
	// Refused is set when the model declined to answer; Content then holds
	// the refusal.
	Refused bool
	Usage   *Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// History keeps the most recent messages of a conversation. It is safe for
// concurrent use.
type History struct {
	mu       sync.Mutex
	limit    int
	messages []Message
}

// NewHistory keeps at most limit messages; a limit of zero or less keeps
// everything.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

func (h *History) Append(messages ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, message := range messages {
		if message.Role == RoleUser && message.Content == "" {
			continue
		}
		h.messages = append(h.messages, message)
	}
	if h.limit > 0 && len(h.messages) > h.limit {
		h.messages = append(h.messages[:0:0], h.messages[len(h.messages)-h.limit:]...)
	}
}

// Messages returns a copy of the kept messages, oldest first.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.messages...)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
