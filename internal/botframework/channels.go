// ABOUTME: Teams channel listing for turns that originate in a team
// ABOUTME: Outside a team the lookup is logged as a ChannelContextError and yields nothing

package botframework

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-botkit/internal/transport"
)

// DefaultChannelName names the team channel the service reports without a name.
const DefaultChannelName = "General"

// ErrNotInTeam is the cause of a ChannelContextError.
var ErrNotInTeam = errors.New("activity did not originate in a team")

// ChannelContextError reports a channel lookup made from a conversation that
// has no team.
type ChannelContextError struct {
	ConversationID string
}

func (e *ChannelContextError) Error() string {
	return fmt.Sprintf("getChannels cannot be called from conversation %q: %v", e.ConversationID, ErrNotInTeam)
}

func (e *ChannelContextError) Unwrap() error { return ErrNotInTeam }

// GetChannels lists the channels of the team the turn came from. A turn from
// outside a team (a 1:1 chat) has no team to list: the ChannelContextError is
// logged and an empty slice returned.
func (a *Adapter) GetChannels(ctx context.Context, turn *transport.TurnContext) ([]Channel, error) {
	if turn == nil || turn.Activity == nil {
		return []Channel{}, nil
	}
	act := turn.Activity

	teamID := act.ChannelString("team", "id")
	if teamID == "" {
		convID := ""
		if act.Conversation != nil {
			convID = act.Conversation.ID
		}
		a.logger.Error("channel lookup outside a team", "error", &ChannelContextError{ConversationID: convID})
		return []Channel{}, nil
	}

	c, err := a.connector(act.ServiceURL)
	if err != nil {
		return nil, err
	}
	channels, err := c.ListTeamChannels(ctx, teamID)
	if err != nil {
		return nil, err
	}

	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Name == "" {
			ch.Name = DefaultChannelName
		}
		out = append(out, ch)
	}
	return out, nil
}
