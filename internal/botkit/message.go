// ABOUTME: Handler-facing view of an inbound activity
// ABOUTME: Carries the flattened user/channel ids, regexp matches and the original activity

package botkit

import "github.com/2389/coven-botkit/internal/activity"

// Message is what handlers receive for an inbound activity.
type Message struct {
	Type    string
	Text    string
	User    string
	Channel string
	Value   any

	// Matches holds the submatches when the message was routed by Hears.
	Matches []string

	Reference       *activity.ConversationReference
	IncomingMessage *activity.Activity
}

// NewMessage wraps an inbound activity.
func NewMessage(act *activity.Activity) *Message {
	msg := &Message{
		Reference:       activity.GetConversationReference(act),
		IncomingMessage: act,
	}
	if act == nil {
		return msg
	}
	msg.Type = act.Type
	msg.Text = act.Text
	msg.Value = act.Value
	if act.From != nil {
		msg.User = act.From.ID
	}
	if act.Conversation != nil {
		msg.Channel = act.Conversation.ID
	}
	return msg
}
