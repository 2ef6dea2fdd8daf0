// ABOUTME: Canonical Activity schema exchanged with chat platforms
// ABOUTME: Mirrors the Bot Framework activity fields with camelCase JSON names

package activity

import (
	"encoding/json"
	"time"
)

// Activity types used by the worker and adapters.
const (
	TypeMessage            = "message"
	TypeEvent              = "event"
	TypeConversationUpdate = "conversationUpdate"
	TypeTyping             = "typing"
	TypeInvoke             = "invoke"
)

// ChannelAccount identifies a user or bot on a channel.
type ChannelAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
	Role        string `json:"role,omitempty"`
}

// ConversationAccount identifies a conversation on a channel.
type ConversationAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
}

// Attachment is a file or card attached to an activity.
type Attachment struct {
	ContentType  string `json:"contentType"`
	ContentURL   string `json:"contentUrl,omitempty"`
	Content      any    `json:"content,omitempty"`
	Name         string `json:"name,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// CardAction is a clickable action on a card or suggested action list.
type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
	Value any    `json:"value,omitempty"`
}

// SuggestedActions are quick replies offered to the recipients.
type SuggestedActions struct {
	To      []string     `json:"to,omitempty"`
	Actions []CardAction `json:"actions"`
}

// SemanticAction describes a programmatic action accompanying a request.
type SemanticAction struct {
	ID       string         `json:"id"`
	State    string         `json:"state,omitempty"`
	Entities map[string]any `json:"entities,omitempty"`
}

// MessageReaction is a reaction added to or removed from a message.
type MessageReaction struct {
	Type string `json:"type"`
}

// TextHighlight refers to a substring of content within another field.
type TextHighlight struct {
	Text       string `json:"text"`
	Occurrence int    `json:"occurrence,omitempty"`
}

// Activity is the canonical message record. Fields outside this schema travel
// in ChannelData.
type Activity struct {
	Type             string                 `json:"type"`
	ID               string                 `json:"id,omitempty"`
	Text             string                 `json:"text,omitempty"`
	Action           string                 `json:"action,omitempty"`
	AttachmentLayout string                 `json:"attachmentLayout,omitempty"`
	Attachments      []Attachment           `json:"attachments,omitempty"`
	ChannelData      map[string]any         `json:"channelData,omitempty"`
	ChannelID        string                 `json:"channelId,omitempty"`
	Code             string                 `json:"code,omitempty"`
	Conversation     *ConversationAccount   `json:"conversation,omitempty"`
	DeliveryMode     string                 `json:"deliveryMode,omitempty"`
	Entities         []map[string]any       `json:"entities,omitempty"`
	Expiration       *time.Time             `json:"expiration,omitempty"`
	From             *ChannelAccount        `json:"from,omitempty"`
	HistoryDisclosed *bool                  `json:"historyDisclosed,omitempty"`
	Importance       string                 `json:"importance,omitempty"`
	InputHint        string                 `json:"inputHint,omitempty"`
	Label            string                 `json:"label,omitempty"`
	ListenFor        []string               `json:"listenFor,omitempty"`
	Locale           string                 `json:"locale,omitempty"`
	LocalTimestamp   *time.Time             `json:"localTimestamp,omitempty"`
	LocalTimezone    string                 `json:"localTimezone,omitempty"`
	MembersAdded     []ChannelAccount       `json:"membersAdded,omitempty"`
	MembersRemoved   []ChannelAccount       `json:"membersRemoved,omitempty"`
	Name             string                 `json:"name,omitempty"`
	ReactionsAdded   []MessageReaction      `json:"reactionsAdded,omitempty"`
	ReactionsRemoved []MessageReaction      `json:"reactionsRemoved,omitempty"`
	Recipient        *ChannelAccount        `json:"recipient,omitempty"`
	RelatesTo        *ConversationReference `json:"relatesTo,omitempty"`
	ReplyToID        string                 `json:"replyToId,omitempty"`
	SemanticAction   *SemanticAction        `json:"semanticAction,omitempty"`
	ServiceURL       string                 `json:"serviceUrl,omitempty"`
	Speak            string                 `json:"speak,omitempty"`
	SuggestedActions *SuggestedActions      `json:"suggestedActions,omitempty"`
	Summary          string                 `json:"summary,omitempty"`
	TextFormat       string                 `json:"textFormat,omitempty"`
	TextHighlights   []TextHighlight        `json:"textHighlights,omitempty"`
	Timestamp        *time.Time             `json:"timestamp,omitempty"`
	TopicName        string                 `json:"topicName,omitempty"`
	Value            any                    `json:"value,omitempty"`
	ValueType        string                 `json:"valueType,omitempty"`
}

// Clone returns a copy of the activity with its own ChannelData map.
// Nested pointers are shared.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	c := *a
	c.ChannelData = copyMap(a.ChannelData)
	return &c
}

// ChannelValue returns the named ChannelData value.
func (a *Activity) ChannelValue(key string) (any, bool) {
	if a == nil || a.ChannelData == nil {
		return nil, false
	}
	v, ok := a.ChannelData[key]
	return v, ok
}

// ChannelString looks up a nested string inside ChannelData, e.g.
// ChannelString("tenant", "id").
func (a *Activity) ChannelString(path ...string) string {
	if a == nil || len(path) == 0 {
		return ""
	}
	var cur any = a.ChannelData
	for _, key := range path {
		m, ok := asMap(cur)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}

// asMap accepts both decoded JSON objects and typed string maps.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	case json.RawMessage:
		var out map[string]any
		if err := json.Unmarshal(m, &out); err != nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
