// Package store provides persistent storage for bot conversations using SQLite.
//
// # Data Models
//
//   - ConversationState: an opaque state blob per conversation key, used for
//     the dialog stack. Keys look like "<channelId>/conversations/<conversationId>".
//   - Reference: the latest conversation reference seen for a channel and user,
//     used to reach the user again proactively.
//   - ActivityRecord: one inbound or outbound transcript entry.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// Schema creation and column migrations run on every open and are idempotent.
//
// # Error Handling
//
// ErrNotFound is returned for missing state and references. Other errors are
// wrapped with fmt.Errorf and %w.
//
// # Testing
//
// Use NewMemoryStore() for unit tests. Its SaveStateErr field forces state
// writes to fail. Use NewSQLiteStore(":memory:") for integration tests with
// real SQLite.
package store
