package types

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a loop's conversation history.
type Message struct {
	Role      Role           `json:"role" yaml:"role"`
	Content   string         `json:"content" yaml:"content"`
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// NewMessage creates a message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now().UTC()}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewToolMessage creates a tool result message attributed to the named tool.
func NewToolMessage(name, content string) Message {
	m := NewMessage(RoleTool, content)
	m.Name = name
	return m
}

// WithMetadata returns a copy of the message with the key set in its metadata.
func (m Message) WithMetadata(key string, value any) Message {
	meta := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		meta[k] = v
	}
	meta[key] = value
	m.Metadata = meta
	return m
}

// IsSystem reports whether the message carries the system role.
func (m Message) IsSystem() bool {
	return m.Role == RoleSystem
}

// Clone returns a copy of the message with its metadata map duplicated.
func (m Message) Clone() Message {
	if m.Metadata != nil {
		meta := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			meta[k] = v
		}
		m.Metadata = meta
	}
	return m
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
