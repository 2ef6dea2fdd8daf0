// Package activity defines the canonical message record exchanged with chat
// platforms and the helpers that shape outbound messages.
//
// # Normalizer
//
// Handler code may send a plain string, a partial object decoded from JSON,
// or a fully formed Activity:
//
//	act := activity.Normalize("hello")
//	act := activity.Normalize(map[string]any{"text": "hi", "blocks": blocks})
//
// Keys that are not part of the Activity schema are moved into ChannelData
// under their original name. Keys already present in the input's own
// channelData win over relocated keys.
//
// # Conversation References
//
// A ConversationReference captures where a message should be delivered:
//
//	ref := activity.GetConversationReference(incoming)
//	reply := activity.ApplyConversationReference(activity.Normalize("ok"), ref, false)
//
// References are persisted by the controller so a bot can later message a
// user proactively.
package activity
