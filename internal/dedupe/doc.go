// Package dedupe drops repeated deliveries of the same inbound activity.
//
// Channels retry webhooks that time out and Matrix replays events after a
// sync restart, so the controller records every activity key it handles for
// a configurable window and ignores repeats inside it.
package dedupe
