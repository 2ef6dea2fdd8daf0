// ABOUTME: Tests for the gateway wiring of channels, controllers and HTTP routes
// ABOUTME: Drives the webhook end to end against a fake Bot Framework connector

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-botkit/internal/botkit"
	"github.com/2389/coven-botkit/internal/config"
	"github.com/2389/coven-botkit/internal/store"
)

type connectorCall struct {
	Path string
	Body map[string]any
}

func newFakeConnector(t *testing.T) (*httptest.Server, func() []connectorCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []connectorCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := connectorCall{Path: r.URL.Path}
		_ = json.NewDecoder(r.Body).Decode(&call.Body)
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"out-1"}`)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []connectorCall {
		mu.Lock()
		defer mu.Unlock()
		out := make([]connectorCall, len(calls))
		copy(out, calls)
		return out
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Server:       config.ServerConfig{HTTPAddr: "127.0.0.1:0", WebhookPath: "/api/messages"},
		Database:     config.DatabaseConfig{Path: ":memory:"},
		BotFramework: config.BotFrameworkConfig{Enabled: true, RequestTimeout: 5 * time.Second},
		Dedupe:       config.DedupeConfig{TTL: time.Minute, MaxSize: 100},
		Middleware:   config.MiddlewareConfig{Transcript: true},
		Logging:      config.LoggingConfig{Level: "info", Format: "text"},
	}
}

func echoSetup(bot *botkit.Controller) error {
	return bot.Hears(`^hello`, func(ctx context.Context, w *botkit.Worker, msg *botkit.Message) error {
		_, err := w.Reply(ctx, msg, "hi there")
		return err
	})
}

func inbound(serviceURL, id string) string {
	return `{
		"type": "message",
		"id": "` + id + `",
		"text": "hello bot",
		"channelId": "msteams",
		"serviceUrl": "` + serviceURL + `",
		"from": {"id": "user-1"},
		"recipient": {"id": "bot-1"},
		"conversation": {"id": "conv-1"}
	}`
}

func TestGateway_WebhookRepliesThroughConnector(t *testing.T) {
	connector, calls := newFakeConnector(t)
	s := store.NewMemoryStore()

	gw, err := newWithStore(testConfig(), s, nil, echoSetup)
	require.NoError(t, err)
	t.Cleanup(gw.closeControllers)
	require.Len(t, gw.Controllers(), 1)

	h := gw.Handler()
	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, post(inbound(connector.URL, "in-1")))

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "/v3/conversations/conv-1/activities/in-1", got[0].Path)
	assert.Equal(t, "hi there", got[0].Body["text"])
	assert.Equal(t, "bot-1", got[0].Body["from"].(map[string]any)["id"])

	// A redelivery is acknowledged without a second reply.
	require.Equal(t, http.StatusOK, post(inbound(connector.URL, "in-1")))
	assert.Len(t, calls(), 1)

	// The reference and the transcript were stored.
	ref, err := s.GetReference(context.Background(), "msteams", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", ref.ConversationID)

	recs, err := s.ListActivities(context.Background(), "msteams/conversations/conv-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, store.DirectionInbound, recs[0].Direction)
	assert.Equal(t, store.DirectionOutbound, recs[1].Direction)
	assert.Equal(t, "bot-1", recs[1].Author)
}

func TestGateway_HealthRoutes(t *testing.T) {
	gw, err := newWithStore(testConfig(), store.NewMemoryStore(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(gw.closeControllers)

	h := gw.Handler()
	for path, want := range map[string]string{
		"/health":       "OK",
		"/health/ready": "ready (botframework)",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, want, rec.Body.String(), path)
	}
}

func TestGateway_MatrixChannelGetsMarkdownStage(t *testing.T) {
	cfg := testConfig()
	cfg.BotFramework.Enabled = false
	cfg.Matrix = config.MatrixConfig{
		Enabled:     true,
		Homeserver:  "https://matrix.example.com",
		UserID:      "@bot:example.com",
		AccessToken: "token",
		MsgType:     "m.text",
	}
	cfg.Middleware.Markdown = true

	gw, err := newWithStore(cfg, store.NewMemoryStore(), nil, echoSetup)
	require.NoError(t, err)
	t.Cleanup(gw.closeControllers)

	bots := gw.Controllers()
	require.Len(t, bots, 1)
	assert.Equal(t, []string{"transcript", "markdown"}, bots[0].SendMiddleware().Names())

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code, "no webhook without botframework")
}

func TestGateway_SetupErrorFails(t *testing.T) {
	_, err := newWithStore(testConfig(), store.NewMemoryStore(), nil, func(bot *botkit.Controller) error {
		return bot.Hears(`(`, nil)
	})
	assert.Error(t, err)
}

func TestGateway_RunStopsOnCancel(t *testing.T) {
	gw, err := New(testConfig(), nil, echoSetup)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
