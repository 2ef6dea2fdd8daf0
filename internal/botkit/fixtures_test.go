// ABOUTME: Shared fixtures for bot worker and controller tests
// ABOUTME: Builds a controller over the recording transport and the memory store

package botkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/store"
	"github.com/2389/coven-botkit/internal/transport"
	"github.com/2389/coven-botkit/internal/transport/transporttest"
)

type fixture struct {
	controller *Controller
	recorder   *transporttest.Recorder
	store      *store.MemoryStore
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	rec := transporttest.New()
	st := store.NewMemoryStore()
	opts.Adapter = rec
	opts.Store = st
	c := New(opts)
	t.Cleanup(c.Close)
	return &fixture{controller: c, recorder: rec, store: st}
}

func inbound(id, conversationID, text string) *activity.Activity {
	return &activity.Activity{
		Type:         activity.TypeMessage,
		ID:           id,
		ChannelID:    "msteams",
		ServiceURL:   "https://smba.example.com",
		Text:         text,
		From:         &activity.ChannelAccount{ID: "user-1", Name: "Ada"},
		Recipient:    &activity.ChannelAccount{ID: "bot-1"},
		Conversation: &activity.ConversationAccount{ID: conversationID},
		ChannelData:  map[string]any{},
	}
}

func (f *fixture) turn(act *activity.Activity) *transport.TurnContext {
	return f.recorder.CreateTurnContext(act)
}

func (f *fixture) spawn(t *testing.T, act *activity.Activity) *Worker {
	t.Helper()
	bot, err := f.controller.Spawn(context.Background(), f.turn(act))
	require.NoError(t, err)
	return bot
}
