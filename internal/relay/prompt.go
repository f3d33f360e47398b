package relay

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultLang     = "ru"
	DefaultMaxTurns = 12
)

// Turn is one prior message of the conversation as sent by the client.
// Clients may send richer message objects; unknown fields are ignored.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []Turn          `json:"messages"`
	Lang     string          `json:"lang"`
	Profile  json.RawMessage `json:"profile"`
}

func (r *ChatRequest) applyDefaults() {
	if r.Messages == nil {
		r.Messages = []Turn{}
	}
	if r.Lang == "" {
		r.Lang = DefaultLang
	}
	if len(bytes.TrimSpace(r.Profile)) == 0 || string(bytes.TrimSpace(r.Profile)) == "null" {
		r.Profile = json.RawMessage("{}")
	}
}

// BuildSystemPrompt renders the persona directive for a language and a
// free-form personalization profile.
func BuildSystemPrompt(lang string, profile json.RawMessage) string {
	return strings.Join([]string{
		"You are Anima, a warm, culturally-aware AI companion.",
		"Language: " + lang + ". Be concise, supportive, natural; short paragraphs.",
		"User profile: " + compactProfile(profile) + ".",
		"Speak like a real person, adapt to user's style and culture.",
	}, " ")
}

func compactProfile(profile json.RawMessage) string {
	if len(bytes.TrimSpace(profile)) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, profile); err != nil {
		return "{}"
	}
	return buf.String()
}

// BuildRequest maps a client request onto a streaming upstream completion
// request: system directive first, then at most maxTurns of the most recent
// messages with every non-assistant role sent as user.
func BuildRequest(model string, maxTurns int, req ChatRequest) openai.ChatCompletionRequest {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	turns := req.Messages
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: BuildSystemPrompt(req.Lang, req.Profile),
	})
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: t.Text,
		})
	}

	return openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
}
