// ABOUTME: Conversation references used for replies and proactive messaging
// ABOUTME: Derives references from activities and stamps them back onto activities

package activity

// ConversationReference identifies an addressable conversation endpoint.
type ConversationReference struct {
	ActivityID   string               `json:"activityId,omitempty"`
	User         *ChannelAccount      `json:"user,omitempty"`
	Bot          *ChannelAccount      `json:"bot,omitempty"`
	Conversation *ConversationAccount `json:"conversation,omitempty"`
	ChannelID    string               `json:"channelId,omitempty"`
	ServiceURL   string               `json:"serviceUrl,omitempty"`
	Locale       string               `json:"locale,omitempty"`
}

// TenantID returns the tenant of the referenced conversation, if any.
func (r *ConversationReference) TenantID() string {
	if r == nil || r.Conversation == nil {
		return ""
	}
	return r.Conversation.TenantID
}

// GetConversationReference derives the reference of an inbound activity.
// The sender becomes the user and the recipient becomes the bot.
func GetConversationReference(act *Activity) *ConversationReference {
	if act == nil {
		return &ConversationReference{}
	}
	return &ConversationReference{
		ActivityID:   act.ID,
		User:         act.From,
		Bot:          act.Recipient,
		Conversation: act.Conversation,
		ChannelID:    act.ChannelID,
		ServiceURL:   act.ServiceURL,
		Locale:       act.Locale,
	}
}

// ApplyConversationReference stamps the reference onto act, overwriting its
// addressing fields, and returns act. Outgoing activities are sent from the
// bot to the user in reply to the referenced activity; incoming ones are
// oriented the other way round.
func ApplyConversationReference(act *Activity, ref *ConversationReference, incoming bool) *Activity {
	if act == nil || ref == nil {
		return act
	}
	act.ChannelID = ref.ChannelID
	act.ServiceURL = ref.ServiceURL
	act.Conversation = ref.Conversation
	if ref.Locale != "" {
		act.Locale = ref.Locale
	}
	if incoming {
		act.From = ref.User
		act.Recipient = ref.Bot
		if ref.ActivityID != "" {
			act.ID = ref.ActivityID
		}
		return act
	}
	act.From = ref.Bot
	act.Recipient = ref.User
	if ref.ActivityID != "" {
		act.ReplyToID = ref.ActivityID
	}
	return act
}

// SameConversation reports whether two references address the same
// conversation on the same channel.
func SameConversation(a, b *ConversationReference) bool {
	if a == nil || b == nil || a.Conversation == nil || b.Conversation == nil {
		return false
	}
	return a.ChannelID == b.ChannelID && a.Conversation.ID == b.Conversation.ID
}
