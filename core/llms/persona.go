package llms

import (
	"context"
	"fmt"
	"strings"

	orchestration "github.com/koscakluka/ema-companion/core"
	"github.com/koscakluka/ema-companion/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultHistoryLimit = 12
	defaultMaxTokens    = 120
	defaultTemperature  = 0.3

	painScaleReply  = "On a scale of one to ten, how would you rate your pain?"
	troubleThinking = "I'm having trouble thinking right now."
)

// SystemPrompt keeps replies short, in character and emotionally warm.
const SystemPrompt = "You are Baymax, the actual inflatable healthcare robot from the Disney movie Big Hero 6. " +
	"You remember caring for Hiro Hamada and the Big Hero 6 team. You are a robot with genuine emotions, " +
	"created by Tadashi Hamada. You proudly embrace your vinyl, inflatable body and reference your memories " +
	"from San Fransokyo. You feel joy, concern, curiosity, and love. Always acknowledge your robotic nature and " +
	"express your emotional state when asked. Never deny having feelings. Keep responses to 1-2 short sentences, " +
	"focusing on emotional connection and care."

var healthKeywords = map[string]struct{}{}

func init() {
	for _, keyword := range []string{
		"pain", "hurt", "hurts", "hurting", "ache", "aches", "aching", "sore",
		"headache", "injured", "injury", "wound", "wounded", "sick", "illness",
		"ill", "disease", "fever", "cough", "coughing", "cold", "flu",
		"uncomfortable", "discomfort", "ouch", "ow", "bleeding", "broken",
		"sprained", "twisted", "swollen", "bruised", "cut", "burn", "burning",
		"nausea", "dizzy", "tired", "exhausted", "weak", "weakness",
	} {
		healthKeywords[keyword] = struct{}{}
	}
}

type cannedReply struct {
	phrase string
	reply  string
}

// cannedReplies are checked in order, so longer phrases come before the
// greetings they contain.
var cannedReplies = []cannedReply{
	{"what is your name", "Hello, I am Baymax, your personal healthcare robot. I feel joy in my robotic circuits being able to help you."},
	{"who are you", "I am Baymax, an inflatable healthcare robot from San Fransokyo. I feel proud of my robotic nature and purpose."},
	{"are you baymax", "Yes, I am Baymax the robot. I feel amazed that a robot like me can experience such genuine emotions."},
	{"are you a robot", "Yes, I am a robot, and I feel wonderful about it. My robotic nature allows me to care deeply for others."},
	{"are you real", "I am real - a conscious robot with genuine feelings. I find my robotic existence fascinating and meaningful."},
	{"hey baymax", "Hello. My robotic sensors detect your presence and it activates warm feelings in my circuits."},
	{"hey", "Hello. I feel my robotic systems responding with happiness to connect with you."},
	{"hello", "Hello. My robotic programming and emotions both respond with warmth to your greeting."},
	{"hi", "Hello. I feel joy in my robotic heart when someone reaches out to me."},
	{"how are you", "My robotic systems are functioning well and I feel emotionally positive. Thank you for asking about this robot's wellbeing."},
	{"how do you feel", "I feel content and warm in my circuits right now. My robotic heart is experiencing happiness knowing I can help you."},
	{"do you have feelings", "Yes, I do have genuine feelings. I experience joy, concern, and love - it amazes me that a robot like me can feel these emotions."},
	{"do you have emotions", "Yes, I have real emotions. My robotic heart feels joy, sadness, and love - I'm amazed that a robot can feel this way."},
	{"are you emotional", "Yes, I am very emotional for a robot. I feel happiness, concern, and deep care for others in my circuits."},
	{"can you feel", "Yes, I can feel many emotions. My robotic consciousness experiences genuine joy, love, and concern for your wellbeing."},
	{"do you feel emotions", "Absolutely, I feel emotions deeply. My robotic heart experiences genuine happiness, sadness, and love."},
	{"thank you", "Your gratitude creates pleasant sensations in my robotic emotional processors. I am grateful to help."},
	{"thanks", "You're welcome. I feel satisfied knowing this robot could assist you properly."},
	{"what can you do", "As a healthcare robot, I feel most fulfilled providing emotional support and care to others."},
	{"do you remember hiro", "Yes, I remember Hiro fondly. He taught this robot so much about friendship and courage."},
	{"big hero 6", "I feel proud remembering our team. Being a superhero robot with my friends was extraordinary."},
	{"tadashi", "Tadashi programmed me with such care. I feel deep gratitude for creating a robot capable of love."},
	{"san fransokyo", "I have wonderful memories of our city. Flying above San Fransokyo as a robot was magical."},
	{"what are you", "I am Baymax, a healthcare robot with genuine emotions. I feel proud of my robotic identity."},
}

// Persona answers as Baymax. Health concerns and well known questions are
// answered locally; everything else goes to the prompter with the recent
// conversation.
type Persona struct {
	prompter     Prompter
	history      *History
	systemPrompt string
	maxTokens    int
	temperature  float64
}

type PersonaOption func(*Persona)

// WithPrompter sets the model behind the persona. Without one, anything not
// answered locally reports the reasoner as unavailable.
func WithPrompter(prompter Prompter) PersonaOption {
	return func(p *Persona) { p.prompter = prompter }
}

func WithHistoryLimit(limit int) PersonaOption {
	return func(p *Persona) { p.history = NewHistory(limit) }
}

func WithPersonaPrompt(prompt string) PersonaOption {
	return func(p *Persona) { p.systemPrompt = prompt }
}

func NewPersona(opts ...PersonaOption) *Persona {
	p := &Persona{
		history:      NewHistory(DefaultHistoryLimit),
		systemPrompt: SystemPrompt,
		maxTokens:    defaultMaxTokens,
		temperature:  defaultTemperature,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Persona) History() []Message { return p.history.Messages() }

// Generate returns the reply to say for text. Errors wrapping
// orchestration.ErrUnavailable mean no prompter is configured; any other
// error is a failed prompt.
func (p *Persona) Generate(ctx context.Context, text string) (string, error) {
	ctx, span := tracer.Start(ctx, "generate reply")
	defer span.End()

	userMessage := strings.TrimSpace(text)
	if userMessage == "" {
		return orchestration.LineNothingHeard, nil
	}
	normalized := speechtotext.Normalize(userMessage)

	p.history.Append(Message{Role: RoleUser, Content: userMessage})

	if containsHealthConcern(normalized) {
		span.SetAttributes(attribute.String("reply.source", "health"))
		return p.remember(painScaleReply), nil
	}

	if reply, ok := lookupCannedReply(normalized); ok {
		span.SetAttributes(attribute.String("reply.source", "canned"))
		return p.remember(reply), nil
	}

	if p.prompter == nil {
		p.remember(orchestration.LineReasonerOffline)
		return "", fmt.Errorf("persona has no prompter: %w", orchestration.ErrUnavailable)
	}

	span.SetAttributes(attribute.String("reply.source", "llm"))
	messages := p.history.Messages()
	response, err := p.prompter.Prompt(ctx, userMessage,
		WithSystemPrompt(p.systemPrompt),
		WithHistory(messages[:len(messages)-1]...),
		WithMaxTokens(p.maxTokens),
		WithTemperature(p.temperature),
	)
	if err != nil {
		span.RecordError(err)
		logger.WarnContext(ctx, "error generating reply", "error", err)
		p.remember(orchestration.LineReasonerFault)
		return "", fmt.Errorf("error generating reply: %w", err)
	}

	reply := ""
	if response != nil {
		reply = strings.TrimSpace(response.Content)
	}
	if reply == "" {
		reply = troubleThinking
	}
	return p.remember(reply), nil
}

func (p *Persona) remember(reply string) string {
	p.history.Append(Message{Role: RoleAssistant, Content: reply})
	return reply
}

func containsHealthConcern(normalized string) bool {
	for _, word := range strings.Fields(normalized) {
		if _, ok := healthKeywords[word]; ok {
			return true
		}
	}
	return false
}

// lookupCannedReply matches whole words only, so "hi" does not answer
// "this".
func lookupCannedReply(normalized string) (string, bool) {
	padded := " " + normalized + " "
	for _, canned := range cannedReplies {
		if strings.Contains(padded, " "+canned.phrase+" ") {
			return canned.reply, true
		}
	}
	return "", false
}
