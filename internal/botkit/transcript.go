// ABOUTME: Transcript recording of inbound and outbound activities
// ABOUTME: Outbound entries are written by a send middleware stage

package botkit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/dialog"
	"github.com/2389/coven-botkit/internal/middleware"
	"github.com/2389/coven-botkit/internal/store"
)

// transcriptStage records an outbound activity once every later stage has
// accepted it. A stage that short circuits downstream leaves no entry.
func (c *Controller) transcriptStage(ctx context.Context, bot *Worker, act *activity.Activity, next middleware.Next) error {
	if err := next(); err != nil {
		return err
	}

	// Unaddressed activities go to the worker's bound conversation.
	addressed := act
	if act.Conversation == nil {
		addressed = bot.Config().Activity
	}
	c.record(ctx, store.DirectionOutbound, act, addressed)
	return nil
}

// record writes one transcript entry for act, keyed by the conversation of
// addressed. Failures are logged; a transcript gap never fails a turn.
func (c *Controller) record(ctx context.Context, direction string, act, addressed *activity.Activity) {
	key := dialog.StateKey(addressed)
	if key == "" {
		return
	}

	payload, err := json.Marshal(act)
	if err != nil {
		c.logger.Warn("failed to encode transcript entry", "error", err)
		return
	}

	author := ""
	switch {
	case direction == store.DirectionInbound && act.From != nil:
		author = act.From.ID
	case direction == store.DirectionOutbound && addressed == act && act.From != nil:
		author = act.From.ID
	case direction == store.DirectionOutbound && addressed != act && addressed.Recipient != nil:
		// The bound activity is inbound-oriented, so its recipient is the bot.
		author = addressed.Recipient.ID
	}
	if author == "" {
		author = "bot"
	}

	ts := time.Now()
	if act.Timestamp != nil && direction == store.DirectionInbound {
		ts = *act.Timestamp
	}

	err = c.store.SaveActivity(ctx, &store.ActivityRecord{
		ID:              uuid.New().String(),
		ConversationKey: key,
		Direction:       direction,
		ChannelID:       addressed.ChannelID,
		Type:            act.Type,
		Author:          author,
		Text:            act.Text,
		Payload:         payload,
		Timestamp:       ts,
	})
	if err != nil {
		c.logger.Warn("failed to record transcript entry", "direction", direction, "error", err)
	}
}

// Transcript returns the most recent entries for the conversation of act.
func (c *Controller) Transcript(ctx context.Context, act *activity.Activity, limit int) ([]*store.ActivityRecord, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.ListActivities(ctx, dialog.StateKey(act), limit)
}
