package domain

import (
	"fmt"
	"strings"
	"time"
)

// MessageRole identifies the author of a conversation message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one turn of a conversation
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// Conversation is the stored history of a thread
type Conversation struct {
	ThreadID  string    `json:"thread_id"`
	ProjectID string    `json:"project_id,omitempty"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks a message before it is stored
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("%w: unknown message role %q", ErrInvalidInput, m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: empty message content", ErrInvalidInput)
	}
	return nil
}
