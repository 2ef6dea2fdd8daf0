// ABOUTME: Tests for TurnContext delivery and turn state
// ABOUTME: Uses the transporttest recorder as the adapter

package transport_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/transport"
	"github.com/2389/coven-botkit/internal/transport/transporttest"
)

func TestTurnContext_SendActivity(t *testing.T) {
	rec := transporttest.New()
	turn := rec.CreateTurnContext(&activity.Activity{Type: activity.TypeMessage, Text: "in"})

	assert.False(t, turn.Responded())

	resp, err := turn.SendActivity(context.Background(), activity.Normalize("out"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.True(t, turn.Responded())

	sent := rec.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "out", sent[0].Text)
	assert.Equal(t, resp.ID, sent[0].ID)
}

func TestTurnContext_SendActivityAddressesToTurn(t *testing.T) {
	rec := transporttest.New()
	turn := rec.CreateTurnContext(&activity.Activity{
		Type:         activity.TypeMessage,
		ID:           "in-1",
		ChannelID:    "msteams",
		ServiceURL:   "https://smba.example.com",
		From:         &activity.ChannelAccount{ID: "user"},
		Recipient:    &activity.ChannelAccount{ID: "bot"},
		Conversation: &activity.ConversationAccount{ID: "c1"},
	})

	_, err := turn.SendActivity(context.Background(), &activity.Activity{Text: "out"})
	require.NoError(t, err)

	// Already addressed activities keep their conversation
	_, err = turn.SendActivity(context.Background(), &activity.Activity{
		Text:         "elsewhere",
		Conversation: &activity.ConversationAccount{ID: "c2"},
	})
	require.NoError(t, err)

	sent := rec.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, activity.TypeMessage, sent[0].Type)
	assert.Equal(t, "c1", sent[0].Conversation.ID)
	assert.Equal(t, "bot", sent[0].From.ID)
	assert.Equal(t, "user", sent[0].Recipient.ID)
	assert.Equal(t, "in-1", sent[0].ReplyToID)
	assert.Equal(t, "https://smba.example.com", sent[0].ServiceURL)
	assert.Equal(t, "c2", sent[1].Conversation.ID)
}

func TestTurnContext_SendActivityError(t *testing.T) {
	rec := transporttest.New()
	rec.SendErr = errors.New("network down")
	turn := rec.CreateTurnContext(&activity.Activity{})

	_, err := turn.SendActivity(context.Background(), activity.Normalize("out"))
	assert.ErrorIs(t, err, rec.SendErr)
	assert.False(t, turn.Responded())
}

func TestTurnContext_NoAdapter(t *testing.T) {
	turn := transport.NewTurnContext(nil, &activity.Activity{})
	_, err := turn.SendActivity(context.Background(), activity.Normalize("x"))
	assert.ErrorIs(t, err, transport.ErrNoAdapter)
}

func TestTurnState_Concurrent(t *testing.T) {
	state := transport.NewTurnState()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state.Set(transport.KeyHTTPStatus, i)
			state.Get(transport.KeyHTTPStatus)
		}(i)
	}
	wg.Wait()

	_, ok := state.Get(transport.KeyHTTPStatus)
	assert.True(t, ok)

	state.Delete(transport.KeyHTTPStatus)
	_, ok = state.Get(transport.KeyHTTPStatus)
	assert.False(t, ok)
}
