// ABOUTME: Dialog registry that creates turn-bound dialog contexts
// ABOUTME: Loads and saves each conversation's dialog stack through the state store

package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/store"
	"github.com/2389/coven-botkit/internal/transport"
)

// persisted is the JSON document stored per conversation.
type persisted struct {
	DialogStack []*Instance `json:"dialogStack"`
}

// Set holds registered dialogs and the store their stacks live in.
type Set struct {
	mu      sync.RWMutex
	dialogs map[string]Dialog
	store   store.Store
	logger  *slog.Logger
}

// NewSet creates a dialog set persisting to st. If logger is nil, uses slog.Default().
func NewSet(st store.Store, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		dialogs: make(map[string]Dialog),
		store:   st,
		logger:  logger.With("component", "dialogs"),
	}
}

// Add registers d under id, replacing any dialog already registered there.
func (s *Set) Add(id string, d Dialog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dialogs[id]; exists {
		s.logger.Warn("replacing registered dialog", "dialog_id", id)
	}
	s.dialogs[id] = d
}

// Find returns the dialog registered under id.
func (s *Set) Find(id string) (Dialog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dialogs[id]
	return d, ok
}

func (s *Set) find(id string) (Dialog, error) {
	d, ok := s.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDialogNotFound, id)
	}
	return d, nil
}

// StateKey returns the key a conversation's state is stored under, or "" if
// the activity carries no conversation.
func StateKey(act *activity.Activity) string {
	if act == nil || act.Conversation == nil || act.Conversation.ID == "" {
		return ""
	}
	return act.ChannelID + "/conversations/" + act.Conversation.ID
}

// CreateContext binds turn to its conversation's persisted dialog stack.
// A conversation with no saved state starts with an empty stack.
func (s *Set) CreateContext(ctx context.Context, turn *transport.TurnContext) (*Context, error) {
	dc := &Context{
		Turn: turn,
		set:  s,
	}
	if turn != nil {
		dc.key = StateKey(turn.Activity)
	}
	if dc.key == "" || s.store == nil {
		return dc, nil
	}

	st, err := s.store.GetState(ctx, dc.key)
	if errors.Is(err, store.ErrNotFound) {
		return dc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading dialog state: %w", err)
	}

	var doc persisted
	if err := json.Unmarshal(st.State, &doc); err != nil {
		return nil, fmt.Errorf("decoding dialog state for %s: %w", dc.key, err)
	}
	for _, inst := range doc.DialogStack {
		if inst.State == nil {
			inst.State = make(map[string]any)
		}
	}
	dc.stack = doc.DialogStack
	return dc, nil
}

// Save persists dc's stack. Contexts without a conversation are not saved.
func (s *Set) Save(ctx context.Context, dc *Context) error {
	if dc == nil || dc.key == "" || s.store == nil {
		return nil
	}

	dc.mu.Lock()
	data, err := json.Marshal(persisted{DialogStack: dc.stack})
	dc.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding dialog state: %w", err)
	}

	if err := s.store.SaveState(ctx, dc.key, data); err != nil {
		return fmt.Errorf("saving dialog state: %w", err)
	}
	s.logger.Debug("saved dialog state", "key", dc.key, "depth", len(dc.Stack()))
	return nil
}
