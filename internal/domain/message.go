package domain

import "strings"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ChatMessage is one turn of the conversation. Timestamp is epoch milliseconds
// taken when the message was appended to the store.
type ChatMessage struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// StoredMessage is a chat message before it has been stamped by the store.
type StoredMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

const thinkCloseTag = "</think>"

// SplitThinking separates the reasoning preamble of an assistant reply from the
// answer. When the reply carries no closing think tag, reasoning is empty.
func SplitThinking(content string) (reasoning, answer string) {
	before, after, found := strings.Cut(content, thinkCloseTag)
	if !found {
		return "", content
	}
	return before, after
}
