// ABOUTME: Tests for the Bot Framework adapter and connector against a fake service
// ABOUTME: Covers delivery routing, OAuth tokens, user agent, tenant relocation and channel listing

package botframework

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/transport"
)

type capturedRequest struct {
	Method    string
	Path      string
	UserAgent string
	Auth      string
	Body      map[string]any
}

// fakeService is a connector service plus OAuth token endpoint.
type fakeService struct {
	*httptest.Server

	mu         sync.Mutex
	requests   []capturedRequest
	tokenCalls atomic.Int32
	channels   string
	failWith   int
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	fs := &fakeService{channels: `{"conversations":[{"id":"19:general"},{"id":"19:random","name":"Random"}]}`}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		fs.tokenCalls.Add(1)
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		req := capturedRequest{
			Method:    r.Method,
			Path:      r.URL.Path,
			UserAgent: r.UserAgent(),
			Auth:      r.Header.Get("Authorization"),
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req.Body)
		}
		fs.mu.Lock()
		fs.requests = append(fs.requests, req)
		failWith := fs.failWith
		fs.mu.Unlock()

		if failWith != 0 {
			http.Error(w, "boom", failWith)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v3/conversations":
			_, _ = io.WriteString(w, `{"id":"a:new-conv","activityId":"act-0"}`)
		case strings.HasPrefix(r.URL.Path, "/v3/teams/"):
			_, _ = io.WriteString(w, fs.channels)
		default:
			_, _ = io.WriteString(w, `{"id":"sent-1"}`)
		}
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeService) Requests() []capturedRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]capturedRequest, len(fs.requests))
	copy(out, fs.requests)
	return out
}

func newTestAdapter(fs *fakeService, appID string) *Adapter {
	return New(Config{
		AppID:          appID,
		AppPassword:    "secret",
		TokenURL:       fs.URL + "/oauth/token",
		Scope:          "https://api.botframework.com/.default",
		RequestTimeout: 5 * time.Second,
		Version:        "1.2.3",
	}, nil)
}

func outbound(serviceURL string) *activity.Activity {
	return &activity.Activity{
		Type:         activity.TypeMessage,
		Text:         "hello",
		ServiceURL:   serviceURL,
		Conversation: &activity.ConversationAccount{ID: "conv-1"},
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent("1.2.3")
	assert.True(t, strings.HasPrefix(ua, "Microsoft-BotFramework/3.1 Botkit/1.2.3 (Go,Version=go"), ua)
}

func TestSendActivities_PostsToConversation(t *testing.T) {
	fs := newFakeService(t)
	a := newTestAdapter(fs, "app-1")

	resps, err := a.SendActivities(context.Background(), nil, []*activity.Activity{outbound(fs.URL + "/")})
	require.NoError(t, err)
	require.Len(t, resps, 1)
	assert.Equal(t, "sent-1", resps[0].ID)

	reqs := fs.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/v3/conversations/conv-1/activities", reqs[0].Path)
	assert.Equal(t, "Bearer tok-1", reqs[0].Auth)
	assert.Contains(t, reqs[0].UserAgent, "Botkit/1.2.3")
	assert.Equal(t, "hello", reqs[0].Body["text"])
}

func TestSendActivities_RepliesWhenReplyToIDSet(t *testing.T) {
	fs := newFakeService(t)
	a := newTestAdapter(fs, "app-1")

	act := outbound(fs.URL)
	act.ReplyToID = "in-1"
	_, err := a.SendActivities(context.Background(), nil, []*activity.Activity{act})
	require.NoError(t, err)

	reqs := fs.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v3/conversations/conv-1/activities/in-1", reqs[0].Path)
}

func TestSendActivities_TokenIsCachedAcrossConnectors(t *testing.T) {
	fs := newFakeService(t)
	a := newTestAdapter(fs, "app-1")

	for i := 0; i < 3; i++ {
		_, err := a.SendActivities(context.Background(), nil, []*activity.Activity{outbound(fs.URL)})
		require.NoError(t, err)
	}
	// A second service URL shares the token source.
	_, err := a.SendActivities(context.Background(), nil, []*activity.Activity{outbound(fs.URL + "/")})
	require.NoError(t, err)

	assert.Equal(t, int32(1), fs.tokenCalls.Load())
}

func TestSendActivities_NoAppIDSendsUnauthenticated(t *testing.T) {
	fs := newFakeService(t)
	a := newTestAdapter(fs, "")

	_, err := a.SendActivities(context.Background(), nil, []*activity.Activity{outbound(fs.URL)})
	require.NoError(t, err)

	assert.Empty(t, fs.Requests()[0].Auth)
	assert.Zero(t, fs.tokenCalls.Load())
}

func TestSendActivities_Errors(t *testing.T) {
	fs := newFakeService(t)
	a := newTestAdapter(fs, "")

	_, err := a.SendActivities(context.Background(), nil, []*activity.Activity{outbound("")})
	assert.ErrorIs(t, err, ErrNoServiceURL)

	noConv := outbound(fs.URL)
	noConv.Conversation = nil
	_, err = a.SendActivities(context.Background(), nil, []*activity.Activity{noConv})
	assert.Error(t, err)

	fs.mu.Lock()
	fs.failWith = http.StatusForbidden
	fs.mu.Unlock()
	_, err = a.SendActivities(context.Background(), nil, []*activity.Activity{outbound(fs.URL)})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "boom")
}

func TestSendActivities_DelayAndInvokeResponse(t *testing.T) {
	a := New(Config{}, nil)
	turn := a.CreateTurnContext(&activity.Activity{Type: activity.TypeInvoke})

	start := time.Now()
	resps, err := a.SendActivities(context.Background(), turn, []*activity.Activity{
		{Type: TypeDelay, Value: float64(20)},
		{Type: TypeInvokeResponse, Value: map[string]any{"status": float64(201), "body": map[string]any{"ok": true}}},
	})
	require.NoError(t, err)
	assert.Len(t, resps, 2)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	status, _ := turn.TurnState.Get(transport.KeyHTTPStatus)
	body, _ := turn.TurnState.Get(transport.KeyHTTPBody)
	assert.Equal(t, 201, status)
	assert.Equal(t, map[string]any{"ok": true}, body)
}

func TestSendActivities_DelayHonorsContext(t *testing.T) {
	a := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.SendActivities(ctx, nil, []*activity.Activity{{Type: TypeDelay, Value: float64(10_000)}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCreateConversation(t *testing.T) {
	fs := newFakeService(t)
	a := newTestAdapter(fs, "app-1")

	client, err := a.CreateConnectorClient(fs.URL)
	require.NoError(t, err)

	resp, err := client.CreateConversation(context.Background(), &transport.ConversationParameters{
		Bot:      &activity.ChannelAccount{ID: "bot-1"},
		Members:  []*activity.ChannelAccount{{ID: "user-1"}},
		TenantID: "tenant-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "a:new-conv", resp.ID)

	reqs := fs.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v3/conversations", reqs[0].Path)
	assert.Equal(t, false, reqs[0].Body["isGroup"])
	assert.Equal(t, "tenant-1", reqs[0].Body["tenantId"])

	_, err = a.CreateConnectorClient("")
	assert.ErrorIs(t, err, ErrNoServiceURL)
}

func TestTenantMiddleware(t *testing.T) {
	a := New(Config{}, nil)
	assert.Equal(t, []string{"tenant"}, a.Inbound().Names())

	act := &activity.Activity{
		Type:         activity.TypeMessage,
		Conversation: &activity.ConversationAccount{ID: "c1"},
		ChannelData:  map[string]any{"tenant": map[string]any{"id": "tenant-1"}},
	}
	_, err := a.ProcessActivity(context.Background(), act, nil)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", act.Conversation.TenantID)

	// An existing tenant id is kept.
	act = &activity.Activity{
		Type:         activity.TypeMessage,
		Conversation: &activity.ConversationAccount{ID: "c1", TenantID: "tenant-0"},
		ChannelData:  map[string]any{"tenant": map[string]any{"id": "tenant-1"}},
	}
	_, err = a.ProcessActivity(context.Background(), act, nil)
	require.NoError(t, err)
	assert.Equal(t, "tenant-0", act.Conversation.TenantID)

	// No conversation and no tenant are both fine.
	_, err = a.ProcessActivity(context.Background(), &activity.Activity{Type: activity.TypeMessage}, nil)
	assert.NoError(t, err)
}

func TestGetChannels(t *testing.T) {
	fs := newFakeService(t)
	a := newTestAdapter(fs, "app-1")

	turn := a.CreateTurnContext(&activity.Activity{
		Type:         activity.TypeMessage,
		ServiceURL:   fs.URL,
		Conversation: &activity.ConversationAccount{ID: "19:general"},
		ChannelData:  map[string]any{"team": map[string]any{"id": "team-1"}},
	})

	channels, err := a.GetChannels(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, []Channel{
		{ID: "19:general", Name: DefaultChannelName},
		{ID: "19:random", Name: "Random"},
	}, channels)
	assert.Equal(t, "/v3/teams/team-1/conversations", fs.Requests()[0].Path)
}

func TestGetChannels_OutsideTeam(t *testing.T) {
	fs := newFakeService(t)
	a := newTestAdapter(fs, "app-1")

	turn := a.CreateTurnContext(&activity.Activity{
		Type:         activity.TypeMessage,
		ServiceURL:   fs.URL,
		Conversation: &activity.ConversationAccount{ID: "a:personal"},
	})

	channels, err := a.GetChannels(context.Background(), turn)
	require.NoError(t, err)
	assert.NotNil(t, channels)
	assert.Empty(t, channels)
	assert.Empty(t, fs.Requests())
}

func TestChannelContextError(t *testing.T) {
	err := &ChannelContextError{ConversationID: "a:personal"}
	assert.ErrorIs(t, err, ErrNotInTeam)
	assert.Contains(t, err.Error(), "a:personal")
}
