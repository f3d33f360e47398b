package chat

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation thread. Only the assistant message
// currently being streamed changes after creation.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Text      string    `json:"text" yaml:"text"`
	Timestamp time.Time `json:"ts" yaml:"ts"`
}

// Thread is the metadata of one conversation.
type Thread struct {
	ID      string    `json:"id" yaml:"id"`
	Title   string    `json:"title" yaml:"title"`
	Created time.Time `json:"created" yaml:"created"`
}

func newID() string {
	return uuid.NewString()
}
