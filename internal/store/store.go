// ABOUTME: Store interface and data types for coven-botkit persistence
// ABOUTME: Defines conversation state, saved references and the activity transcript

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Direction of a transcript entry
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// ConversationState is the persisted state blob for one conversation, such as
// its dialog stack.
type ConversationState struct {
	Key       string
	State     []byte
	UpdatedAt time.Time
}

// Reference is a saved conversation reference used for proactive messaging.
// Data holds the JSON encoded reference.
type Reference struct {
	ChannelID      string
	UserID         string
	ConversationID string
	Data           []byte
	UpdatedAt      time.Time
}

// ActivityRecord is one transcript entry.
type ActivityRecord struct {
	ID              string
	ConversationKey string
	Direction       string
	ChannelID       string
	Type            string
	Author          string
	Text            string
	Payload         []byte // JSON encoded activity
	Timestamp       time.Time
}

// Store defines the interface for conversation persistence
type Store interface {
	// Conversation state (last write wins)
	GetState(ctx context.Context, key string) (*ConversationState, error)
	SaveState(ctx context.Context, key string, state []byte) error
	DeleteState(ctx context.Context, key string) error

	// Conversation references, one per channel+user
	SaveReference(ctx context.Context, ref *Reference) error
	GetReference(ctx context.Context, channelID, userID string) (*Reference, error)
	ListReferences(ctx context.Context, channelID string, limit int) ([]*Reference, error)

	// Transcript
	SaveActivity(ctx context.Context, rec *ActivityRecord) error
	ListActivities(ctx context.Context, conversationKey string, limit int) ([]*ActivityRecord, error)

	// Close releases any resources held by the store
	Close() error
}

// normalizeLimit clamps list limits the same way for every implementation.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
