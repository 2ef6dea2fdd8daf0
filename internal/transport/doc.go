// Package transport defines the boundary between the bot worker and the
// platform adapters that actually talk to a chat service.
//
// A TurnContext binds one activity to the Adapter that received it and
// carries per-turn state (TurnState). Workers send through
// TurnContext.SendActivity; ingress reads KeyHTTPStatus and KeyHTTPBody from
// the turn state after the bot logic finishes.
//
// Implementations live in the botframework and matrix packages; tests use
// transporttest.Recorder.
package transport
