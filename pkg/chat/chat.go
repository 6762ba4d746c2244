// Package chat holds the conversation types shared by the relay server and
// the session client.
package chat

import "errors"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    Role   `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// StreamChunk is one piece of a relayed reply.
type StreamChunk struct {
	Content string `json:"content"`
	IsFinal bool   `json:"-"`
}

// ChunkStream is a lazy, single-reader sequence of reply chunks. Next returns
// io.EOF once the reply is complete; any other error is terminal.
type ChunkStream interface {
	Next() (StreamChunk, error)
	Close() error
}

var (
	ErrEmptyHistory = errors.New("chat history is empty")
	ErrNotUserTurn  = errors.New("last message in chat history is not from the user")
	ErrUnknownRole  = errors.New("unknown chat role")
)

// AwaitingReply reports whether the last message was written by the user,
// which is the only case in which a reply should be generated.
func AwaitingReply(history []ChatMessage) bool {
	return len(history) > 0 && history[len(history)-1].Role == RoleUser
}

// ValidateHistory checks that history is non-empty, uses known roles and ends
// with a user turn.
func ValidateHistory(history []ChatMessage) error {
	if len(history) == 0 {
		return ErrEmptyHistory
	}
	for _, m := range history {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return ErrUnknownRole
		}
	}
	if !AwaitingReply(history) {
		return ErrNotUserTurn
	}
	return nil
}

// Clone returns a copy of history that the caller may hold on to after the
// original slice is modified.
func Clone(history []ChatMessage) []ChatMessage {
	if history == nil {
		return nil
	}
	out := make([]ChatMessage, len(history))
	copy(out, history)
	return out
}

// NormalizeRole maps anything that is not the user to the assistant role.
func NormalizeRole(role string) Role {
	if Role(role) == RoleUser {
		return RoleUser
	}
	return RoleAssistant
}
