// Package dialog keeps a per-conversation stack of multi-turn dialogs.
//
// A Set registers dialogs by id and creates a Context for each turn. The
// Context loads the conversation's stack from the state store under
// "<channelId>/conversations/<conversationId>" and exposes begin, replace,
// continue, end and cancel. Set.Save writes the stack back as JSON; callers
// decide when.
//
// Func adapts one function to a Dialog. Waterfall runs one step per turn and
// ends itself after the last step.
package dialog
