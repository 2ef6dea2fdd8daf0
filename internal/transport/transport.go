// ABOUTME: Transport boundary between the bot worker and chat platform adapters
// ABOUTME: Defines TurnContext, turn state, Adapter and ConnectorClient contracts

package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/2389/coven-botkit/internal/activity"
)

// Turn state keys read by webhook ingress after a turn completes.
const (
	KeyHTTPStatus = "httpStatus"
	KeyHTTPBody   = "httpBody"
)

// ErrNoAdapter is returned when a turn context is not bound to an adapter.
var ErrNoAdapter = errors.New("turn context has no adapter")

// ResourceResponse is what a platform reports after delivering an activity.
type ResourceResponse struct {
	ID string `json:"id"`
}

// ConversationParameters describe a conversation to create.
type ConversationParameters struct {
	Bot         *activity.ChannelAccount   `json:"bot,omitempty"`
	Members     []*activity.ChannelAccount `json:"members,omitempty"`
	IsGroup     bool                       `json:"isGroup"`
	TopicName   string                     `json:"topicName,omitempty"`
	Activity    *activity.Activity         `json:"activity,omitempty"`
	ChannelData map[string]any             `json:"channelData,omitempty"`
	TenantID    string                     `json:"tenantId,omitempty"`
}

// ConversationResourceResponse is returned when a conversation is created.
type ConversationResourceResponse struct {
	ID         string `json:"id"`
	ActivityID string `json:"activityId,omitempty"`
	ServiceURL string `json:"serviceUrl,omitempty"`
}

// ConnectorClient performs platform API calls against one service URL.
type ConnectorClient interface {
	CreateConversation(ctx context.Context, params *ConversationParameters) (*ConversationResourceResponse, error)
}

// Adapter delivers activities for a platform and creates turn contexts.
type Adapter interface {
	// SendActivities delivers activities within the given turn and returns
	// one response per activity.
	SendActivities(ctx context.Context, turn *TurnContext, acts []*activity.Activity) ([]*ResourceResponse, error)

	// CreateTurnContext binds an activity to this adapter.
	CreateTurnContext(act *activity.Activity) *TurnContext

	// CreateConnectorClient returns a client for the given service URL.
	CreateConnectorClient(serviceURL string) (ConnectorClient, error)
}

// TurnState is a concurrency-safe bag of values scoped to one turn.
type TurnState struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewTurnState creates an empty TurnState.
func NewTurnState() *TurnState {
	return &TurnState{values: make(map[string]any)}
}

// Set stores a value.
func (s *TurnState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get returns a stored value.
func (s *TurnState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Delete removes a value.
func (s *TurnState) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// TurnContext represents one inbound-event-to-response cycle.
type TurnContext struct {
	Adapter   Adapter
	Activity  *activity.Activity
	TurnState *TurnState

	mu        sync.Mutex
	responded bool
}

// NewTurnContext binds act to adapter.
func NewTurnContext(adapter Adapter, act *activity.Activity) *TurnContext {
	return &TurnContext{
		Adapter:   adapter,
		Activity:  act,
		TurnState: NewTurnState(),
	}
}

// SendActivity delivers a single activity through the bound adapter. An
// activity without a conversation is addressed to the turn's conversation,
// from the bot to the user; one that already carries a conversation is sent
// where it points.
func (t *TurnContext) SendActivity(ctx context.Context, act *activity.Activity) (*ResourceResponse, error) {
	if t.Adapter == nil {
		return nil, ErrNoAdapter
	}
	out := act.Clone()
	if out == nil {
		out = &activity.Activity{}
	}
	if out.Type == "" {
		out.Type = activity.TypeMessage
	}
	if out.Conversation == nil {
		activity.ApplyConversationReference(out, t.Reference(), false)
	}
	resps, err := t.Adapter.SendActivities(ctx, t, []*activity.Activity{out})
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.responded = true
	t.mu.Unlock()
	if len(resps) == 0 || resps[0] == nil {
		return &ResourceResponse{}, nil
	}
	return resps[0], nil
}

// Responded reports whether anything was sent during this turn.
func (t *TurnContext) Responded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.responded
}

// Reference returns the conversation reference of the turn's activity.
func (t *TurnContext) Reference() *activity.ConversationReference {
	return activity.GetConversationReference(t.Activity)
}
