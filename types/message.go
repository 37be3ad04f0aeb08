// Package types provides core types used across GustoBot.
// This package has ZERO dependencies on other GustoBot packages to avoid circular imports.
package types

import (
	"strings"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ImageContent represents image data for multimodal messages.
type ImageContent struct {
	Type string `json:"type"` // "url" or "base64"
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"` // base64 encoded
}

// Message represents a conversation message.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content,omitempty"`
	Name      string         `json:"name,omitempty"`
	Images    []ImageContent `json:"images,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// WithImages adds images to the message.
func (m Message) WithImages(images []ImageContent) Message {
	m.Images = images
	return m
}

// WithMetadata adds metadata to the message.
func (m Message) WithMetadata(metadata map[string]any) Message {
	m.Metadata = metadata
	return m
}

// LastUserMessage returns the content of the most recent user message, or "".
func LastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return strings.TrimSpace(msgs[i].Content)
		}
	}
	return ""
}

// TrimToTurns keeps the last n human turns (a user message plus everything after it).
// n <= 0 means unlimited. Leading system messages are always kept.
func TrimToTurns(msgs []Message, n int) []Message {
	if n <= 0 {
		return msgs
	}
	var system []Message
	rest := msgs
	for len(rest) > 0 && rest[0].Role == RoleSystem {
		system = append(system, rest[0])
		rest = rest[1:]
	}
	seen := 0
	cut := 0
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i].Role == RoleUser {
			seen++
			if seen == n {
				cut = i
				break
			}
		}
	}
	out := make([]Message, 0, len(system)+len(rest)-cut)
	out = append(out, system...)
	return append(out, rest[cut:]...)
}
