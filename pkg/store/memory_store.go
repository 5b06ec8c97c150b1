package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"guestbook/pkg/domain"
)

// ModerationEntry is the in-memory counterpart of the audit trail row.
type ModerationEntry struct {
	MessageID string
	Action    string
	Actor     string
	Visible   bool
	CreatedAt time.Time
}

// MemoryStore keeps the feed in-process. Used in dev mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]domain.Message
	audit    []ModerationEntry
	lastTS   time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]domain.Message),
	}
}

// Append persists a message under the write lock. Timestamps are forced
// strictly increasing so they stay usable as an ordering key on their own.
func (m *MemoryStore) Append(_ context.Context, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(m.lastTS) {
		now = m.lastTS.Add(time.Nanosecond)
	}
	m.lastTS = now
	msg.ID = uuid.NewString()
	msg.CreatedAt = now
	msg.Visible = true
	m.messages[msg.ID] = msg
	return msg, nil
}

// ListRecent returns up to limit messages, newest first.
func (m *MemoryStore) ListRecent(_ context.Context, limit int, visibleOnly bool) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	m.mu.RLock()
	all := make([]domain.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if visibleOnly && !msg.Visible {
			continue
		}
		all = append(all, msg)
	}
	m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return domain.MoreRecent(all[i], all[j]) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Get retrieves a message by id.
func (m *MemoryStore) Get(_ context.Context, id string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	return msg, ok, nil
}

// Delete removes a message; unknown ids are a silent no-op.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	return nil
}

// SetVisibility toggles soft suppression and records an audit entry.
func (m *MemoryStore) SetVisibility(_ context.Context, id string, visible bool, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil
	}
	msg.Visible = visible
	m.messages[id] = msg
	action := actionHide
	if visible {
		action = actionUnhide
	}
	m.audit = append(m.audit, ModerationEntry{
		MessageID: id,
		Action:    action,
		Actor:     actor,
		Visible:   visible,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// AuditTrail returns a copy of the recorded moderation entries.
func (m *MemoryStore) AuditTrail() []ModerationEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ModerationEntry, len(m.audit))
	copy(out, m.audit)
	return out
}
