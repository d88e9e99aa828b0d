package convo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mem is the in-process store used by tests and single-node deployments.
type Mem struct {
	mu       sync.Mutex
	messages map[string][]Message
	lastSave map[string]time.Time

	now func() time.Time
}

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		messages: make(map[string][]Message),
		lastSave: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (m *Mem) LoadRecent(_ context.Context, conversationID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.messages[conversationID]
	start := 0
	if len(all) > RecentLimit {
		start = len(all) - RecentLimit
	}
	out := make([]Message, 0, len(all)-start)
	for _, msg := range all[start:] {
		msg.Content = Truncate(msg.Content)
		out = append(out, msg)
	}
	return out, nil
}

func (m *Mem) SaveUser(_ context.Context, conversationID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.append(conversationID, RoleUser, content, nil)
	return nil
}

func (m *Mem) SaveAssistant(_ context.Context, conversationID, content string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dedupKey(conversationID, content)
	if last, ok := m.lastSave[key]; ok && m.now().Sub(last) < DedupWindow {
		return nil
	}
	m.lastSave[key] = m.now()
	m.append(conversationID, RoleAssistant, content, metadata)
	return nil
}

func (m *Mem) append(conversationID, role, content string, metadata map[string]any) {
	m.messages[conversationID] = append(m.messages[conversationID], Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      m.now(),
	})
}
