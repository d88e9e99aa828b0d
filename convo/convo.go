// Package convo persists conversation history so follow-up questions can be
// answered in context. History is read back bounded: the last few messages,
// each truncated, keeps prompts small no matter how long a conversation
// runs.
package convo

import (
	"context"
	"time"
)

// History bounds.
const (
	// RecentLimit is how many trailing messages LoadRecent returns.
	RecentLimit = 10

	// MaxContentChars truncates each loaded message.
	MaxContentChars = 2000

	// DedupWindow suppresses duplicate assistant answers saved within it.
	DedupWindow = 30 * time.Second
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Store persists and recalls conversation turns.
type Store interface {
	// LoadRecent returns up to RecentLimit trailing messages in
	// chronological order, each capped at MaxContentChars.
	LoadRecent(ctx context.Context, conversationID string) ([]Message, error)

	// SaveUser appends a user turn.
	SaveUser(ctx context.Context, conversationID, content string) error

	// SaveAssistant appends an assistant turn with response metadata.
	// Implementations drop the write when an identical answer for the
	// same conversation landed within DedupWindow.
	SaveAssistant(ctx context.Context, conversationID, content string, metadata map[string]any) error
}

// Truncate caps content at MaxContentChars without splitting the cut
// marker.
func Truncate(content string) string {
	if len(content) <= MaxContentChars {
		return content
	}
	return content[:MaxContentChars-3] + "..."
}

// dedupKey identifies an assistant answer for duplicate suppression: the
// conversation plus a prefix of the answer text.
func dedupKey(conversationID, content string) string {
	prefix := content
	if len(prefix) > 120 {
		prefix = prefix[:120]
	}
	return conversationID + "\x00" + prefix
}
