// Package botkit is the bot runtime: a Controller that receives turns from a
// platform adapter and Workers that act within them.
//
// # Workers
//
// A Worker carries an addressing context (WorkerConfig): the turn it is bound
// to, the conversation reference, the dialog context and the activity. The
// context is swapped as a whole by ChangeContext and StartConversationWithUser,
// and Config returns a snapshot, so readers never see a mix of old and new.
//
// Say normalizes any message shape into an activity, runs the controller's
// send middleware and delivers through the turn. Reply addresses the message
// to the conversation of a source message regardless of the worker's context.
//
// # Dialogs
//
// BeginDialog, ReplaceDialog and CancelAllDialogs operate on the dialog stack
// of the bound conversation and save it immediately. Dialogs are registered
// with Controller.AddDialog and pushed under id + ":botkit-wrapper".
//
// # Errors
//
//   - *ConfigurationError: the worker lacks a capability (no dialog context,
//     no turn) or input is incomplete (no serviceUrl). errors.Is(err,
//     ErrConfiguration) holds.
//   - *middleware.ShortCircuitError: a send stage stopped delivery.
//   - *DeliveryError: the transport failed.
package botkit
