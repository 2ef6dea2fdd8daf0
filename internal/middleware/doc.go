// Package middleware provides the ordered stage executor used for the send
// pipeline and for adapter inbound middleware.
//
// A Pipeline is parameterized by the bot handle and the payload it carries:
//
//	send := middleware.New[*botkit.Worker, *activity.Activity]()
//	send.Use("stamp", func(ctx context.Context, bot *botkit.Worker, act *activity.Activity, next middleware.Next) error {
//		act.ChannelData["sent_by"] = "botkit"
//		return next()
//	})
//
// Stages run strictly one after another. A stage stops the chain by
// returning an error (or panicking, or returning without calling next); Run
// then reports a *ShortCircuitError naming that stage.
package middleware
