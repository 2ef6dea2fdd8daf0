// ABOUTME: Tests for the bot's handlers and feedback dialog
// ABOUTME: Runs turns through a controller over the recording transport

package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/botkit"
	"github.com/2389/coven-botkit/internal/middleware"
	"github.com/2389/coven-botkit/internal/store"
	"github.com/2389/coven-botkit/internal/transport/transporttest"
)

type botHarness struct {
	bot      *botkit.Controller
	recorder *transporttest.Recorder
	seq      int
}

func newBotHarness(t *testing.T) *botHarness {
	t.Helper()
	return newBotHarnessWith(t, botkit.Options{})
}

func newBotHarnessWith(t *testing.T, opts botkit.Options) *botHarness {
	t.Helper()
	rec := transporttest.New()
	opts.Adapter = rec
	opts.Store = store.NewMemoryStore()
	bot := botkit.New(opts)
	t.Cleanup(bot.Close)
	require.NoError(t, setupBot(bot))
	return &botHarness{bot: bot, recorder: rec}
}

func (h *botHarness) say(t *testing.T, text string) {
	t.Helper()
	h.seq++
	act := &activity.Activity{
		Type:         activity.TypeMessage,
		ID:           fmt.Sprintf("in-%d", h.seq),
		Text:         text,
		ChannelID:    "msteams",
		ServiceURL:   "https://smba.example.com",
		From:         &activity.ChannelAccount{ID: "user-1", Name: "Ada"},
		Recipient:    &activity.ChannelAccount{ID: "bot-1"},
		Conversation: &activity.ConversationAccount{ID: "conv-1"},
	}
	require.NoError(t, h.bot.ProcessTurn(context.Background(), h.recorder.CreateTurnContext(act)))
}

func (h *botHarness) lastText(t *testing.T) string {
	t.Helper()
	sent := h.recorder.Sent()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1].Text
}

func TestBot_Hello(t *testing.T) {
	h := newBotHarness(t)
	h.say(t, "Hello bot")

	sent := h.recorder.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hello, Ada! Say **help** to see what I can do.", sent[0].Text)
	assert.Equal(t, "in-1", sent[0].ReplyToID)
}

func TestBot_UnmatchedTextIsIgnored(t *testing.T) {
	h := newBotHarness(t)
	h.say(t, "what is the weather")
	assert.Empty(t, h.recorder.Sent())
}

func TestBot_FeedbackDialog(t *testing.T) {
	h := newBotHarness(t)

	h.say(t, "feedback")
	assert.Contains(t, h.lastText(t), "How would you rate me")

	// While the dialog is active, "hello" is an answer rather than a greeting.
	h.say(t, "4")
	assert.Equal(t, "Thanks! Anything else you would like to tell me?", h.lastText(t))

	h.say(t, "hello")
	assert.Equal(t, "Got it: rating 4. Thank you for the feedback!", h.lastText(t))

	// The dialog has ended, so greetings work again.
	h.say(t, "hello")
	assert.Contains(t, h.lastText(t), "Hello, Ada!")
}

func TestBot_FeedbackDialogPassesSendMiddleware(t *testing.T) {
	h := newBotHarnessWith(t, botkit.Options{Transcript: true})
	stageRuns := 0
	h.bot.SendMiddleware().Use("count", func(ctx context.Context, bot *botkit.Worker, act *activity.Activity, next middleware.Next) error {
		stageRuns++
		return next()
	})

	h.say(t, "feedback")
	h.say(t, "5")
	h.say(t, "great")

	require.Len(t, h.recorder.Sent(), 3)
	assert.Equal(t, 3, stageRuns)

	recs, err := h.bot.Transcript(context.Background(), &activity.Activity{
		ChannelID:    "msteams",
		Conversation: &activity.ConversationAccount{ID: "conv-1"},
	}, 20)
	require.NoError(t, err)
	outbound := 0
	for _, rec := range recs {
		if rec.Direction == store.DirectionOutbound {
			outbound++
		}
	}
	assert.Equal(t, 3, outbound)
}

func TestBot_FeedbackDialogCancel(t *testing.T) {
	h := newBotHarness(t)

	h.say(t, "feedback")
	h.say(t, "cancel")
	assert.Equal(t, "No problem, feedback cancelled.", h.lastText(t))

	h.say(t, "hi")
	assert.Contains(t, h.lastText(t), "Hello, Ada!")
}

func TestBot_ChannelsOutsideTeams(t *testing.T) {
	h := newBotHarness(t)
	h.say(t, "channels")
	assert.Equal(t, "Channel listing only works in Microsoft Teams.", h.lastText(t))
}

func TestBot_Form(t *testing.T) {
	h := newBotHarness(t)
	h.say(t, "form")

	sent := h.recorder.Sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Attachments, 1)
	att := sent[0].Attachments[0]
	assert.Equal(t, slackDialogContentType, att.ContentType)

	content, ok := att.Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "feedback_form", content["callback_id"])
	assert.Equal(t, "conv-1", content["state"])
	assert.Len(t, content["elements"], 2)
}

func TestBot_DirectMessage(t *testing.T) {
	h := newBotHarness(t)
	h.say(t, "dm me")

	convs := h.recorder.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "user-1", convs[0].Members[0].ID)
	assert.False(t, convs[0].IsGroup)

	sent := h.recorder.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "conv-1", sent[0].Conversation.ID)
	assert.Equal(t, "Hi! This is our private chat.", sent[1].Text)
	assert.NotEqual(t, "conv-1", sent[1].Conversation.ID)
	assert.Equal(t, "user-1", sent[1].Recipient.ID)
}

func TestBot_WelcomesNewMembers(t *testing.T) {
	h := newBotHarness(t)

	act := &activity.Activity{
		Type:         activity.TypeConversationUpdate,
		ID:           "upd-1",
		ChannelID:    "msteams",
		ServiceURL:   "https://smba.example.com",
		From:         &activity.ChannelAccount{ID: "user-1"},
		Recipient:    &activity.ChannelAccount{ID: "bot-1"},
		Conversation: &activity.ConversationAccount{ID: "conv-1"},
		MembersAdded: []activity.ChannelAccount{{ID: "bot-1"}, {ID: "user-2"}},
	}
	require.NoError(t, h.bot.ProcessTurn(context.Background(), h.recorder.CreateTurnContext(act)))

	sent := h.recorder.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Welcome!")
}
