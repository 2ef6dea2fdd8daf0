// ABOUTME: In-memory Store implementation for tests and ephemeral bots
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu         sync.RWMutex
	states     map[string]*ConversationState // keyed by state key
	references map[string]*Reference         // keyed by "channelID:userID"
	activities map[string][]*ActivityRecord  // keyed by conversation key

	// SaveStateErr, when set, fails every SaveState call.
	SaveStateErr error
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:     make(map[string]*ConversationState),
		references: make(map[string]*Reference),
		activities: make(map[string][]*ActivityRecord),
	}
}

// GetState returns a copy of the state stored under key.
func (m *MemoryStore) GetState(ctx context.Context, key string) (*ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[key]
	if !ok {
		return nil, ErrNotFound
	}
	result := *st
	result.State = append([]byte(nil), st.State...)
	return &result, nil
}

// SaveState stores a copy of state under key.
func (m *MemoryStore) SaveState(ctx context.Context, key string, state []byte) error {
	if m.SaveStateErr != nil {
		return m.SaveStateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[key] = &ConversationState{
		Key:       key,
		State:     append([]byte(nil), state...),
		UpdatedAt: time.Now(),
	}
	return nil
}

// DeleteState removes the state for key.
func (m *MemoryStore) DeleteState(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	return nil
}

// SaveReference stores a copy of ref.
func (m *MemoryStore) SaveReference(ctx context.Context, ref *Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := *ref
	r.Data = append([]byte(nil), ref.Data...)
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	m.references[ref.ChannelID+":"+ref.UserID] = &r
	return nil
}

// GetReference returns a copy of the reference for a channel and user.
func (m *MemoryStore) GetReference(ctx context.Context, channelID, userID string) (*Reference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ref, ok := m.references[channelID+":"+userID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *ref
	return &result, nil
}

// ListReferences returns references for a channel, most recently updated first.
func (m *MemoryStore) ListReferences(ctx context.Context, channelID string, limit int) ([]*Reference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var refs []*Reference
	for _, ref := range m.references {
		if ref.ChannelID != channelID {
			continue
		}
		r := *ref
		refs = append(refs, &r)
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].UpdatedAt.After(refs[j].UpdatedAt)
	})

	if limit = normalizeLimit(limit); len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

// SaveActivity appends a transcript entry.
func (m *MemoryStore) SaveActivity(ctx context.Context, rec *ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := *rec
	m.activities[r.ConversationKey] = append(m.activities[r.ConversationKey], &r)
	return nil
}

// ListActivities returns the most recent entries for a conversation in
// chronological order.
func (m *MemoryStore) ListActivities(ctx context.Context, conversationKey string, limit int) ([]*ActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.activities[conversationKey]
	sorted := make([]*ActivityRecord, len(all))
	for i, rec := range all {
		r := *rec
		sorted[i] = &r
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	if limit = normalizeLimit(limit); len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted, nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}
