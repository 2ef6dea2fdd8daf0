// Package matrix runs the bot in Matrix rooms through mautrix.
//
// Run syncs with the homeserver and turns every text message from another
// user into a message activity on the "matrix" channel: the room is the
// conversation, the sender is the user and the event id is the activity id.
// Replies are posted as m.text (or m.notice) events, with an HTML body when
// channelData.formatted_body is set. MarkdownStage fills that in from the
// message text.
package matrix
