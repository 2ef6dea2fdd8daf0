// ABOUTME: Recording adapter for tests that exercise the transport boundary
// ABOUTME: Captures delivered activities and created conversations in memory

// Package transporttest provides an in-memory Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/transport"
)

// Recorder is a transport.Adapter that records everything it is asked to do.
type Recorder struct {
	mu            sync.Mutex
	sent          []*activity.Activity
	conversations []*transport.ConversationParameters
	clientURLs    []string

	// SendErr, when set, fails every delivery.
	SendErr error
	// CreateErr, when set, fails every conversation creation.
	CreateErr error
	// ServiceURL is returned by CreateConversation when non-empty.
	ServiceURL string
}

// New creates a Recorder.
func New() *Recorder {
	return &Recorder{}
}

// SendActivities records the activities and assigns them ids.
func (r *Recorder) SendActivities(ctx context.Context, turn *transport.TurnContext, acts []*activity.Activity) ([]*transport.ResourceResponse, error) {
	if r.SendErr != nil {
		return nil, r.SendErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	resps := make([]*transport.ResourceResponse, 0, len(acts))
	for _, act := range acts {
		sent := act.Clone()
		if sent.ID == "" {
			sent.ID = uuid.New().String()
		}
		r.sent = append(r.sent, sent)
		resps = append(resps, &transport.ResourceResponse{ID: sent.ID})
	}
	return resps, nil
}

// CreateTurnContext binds act to the recorder.
func (r *Recorder) CreateTurnContext(act *activity.Activity) *transport.TurnContext {
	return transport.NewTurnContext(r, act)
}

// CreateConnectorClient returns a client that records created conversations.
func (r *Recorder) CreateConnectorClient(serviceURL string) (transport.ConnectorClient, error) {
	r.mu.Lock()
	r.clientURLs = append(r.clientURLs, serviceURL)
	r.mu.Unlock()
	return &recordingClient{r: r}, nil
}

// Sent returns the delivered activities in order.
func (r *Recorder) Sent() []*activity.Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*activity.Activity, len(r.sent))
	copy(out, r.sent)
	return out
}

// Conversations returns the parameters of every created conversation.
func (r *Recorder) Conversations() []*transport.ConversationParameters {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*transport.ConversationParameters, len(r.conversations))
	copy(out, r.conversations)
	return out
}

// ClientURLs returns the service URLs connector clients were created for.
func (r *Recorder) ClientURLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.clientURLs))
	copy(out, r.clientURLs)
	return out
}

type recordingClient struct {
	r *Recorder
}

func (c *recordingClient) CreateConversation(ctx context.Context, params *transport.ConversationParameters) (*transport.ConversationResourceResponse, error) {
	if c.r.CreateErr != nil {
		return nil, c.r.CreateErr
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.conversations = append(c.r.conversations, params)
	return &transport.ConversationResourceResponse{
		ID:         "conv-" + uuid.New().String(),
		ServiceURL: c.r.ServiceURL,
	}, nil
}
