package store

import (
	"context"
	"errors"
	"time"

	"github.com/pulsedate/realtime/src/types"
)

// Message kinds. Welcome messages are tagged structurally so consumers
// never have to match on translated text.
const (
	MessageKindChat          = "chat"
	MessageKindSystemWelcome = "system_welcome"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrUserNotFound         = errors.New("user not found")
)

// Message is a persisted chat message.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Content        string
	Kind           string
	CreatedAt      time.Time
	IsRead         bool
}

// Conversation is a persisted conversation between exactly two users.
type Conversation struct {
	ID           int64
	Participants []int64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Match is a persisted mutual-like record. UserA and UserB are stored in
// canonical order (UserA < UserB).
type Match struct {
	ID        int64
	UserA     int64
	UserB     int64
	IsActive  bool
	CreatedAt time.Time
}

// Canonical orders a user pair so a given pair always maps to a single
// match and conversation record.
func Canonical(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// ChatStore is the persistence collaborator consumed by the realtime
// core. Implementations are external; MemoryStore backs tests and dev.
type ChatStore interface {
	// Participants returns the user IDs of conversation members.
	Participants(ctx context.Context, conversationID int64) ([]int64, error)

	// CreateMessage persists a message, timestamping it at persistence time.
	CreateMessage(ctx context.Context, conversationID, senderID int64, content, kind string) (Message, error)

	// MarkRead records a (message, user) read marker. Idempotent.
	MarkRead(ctx context.Context, messageID, userID int64) error

	// GetOrCreateConversation returns the conversation whose participant
	// set is exactly {a, b}, creating it if absent. The bool reports
	// whether it was created by this call.
	GetOrCreateConversation(ctx context.Context, a, b int64) (Conversation, bool, error)

	// GetOrReactivateMatch returns the match for the canonical (a, b)
	// pair. The bool is true when the match was created or reactivated
	// from an inactive state by this call.
	GetOrReactivateMatch(ctx context.Context, a, b int64) (Match, bool, error)

	// DeactivateMatch marks the match for (a, b) inactive, as an unlike
	// does. Deactivating an absent match is a no-op.
	DeactivateMatch(ctx context.Context, a, b int64) error

	// UserSummary returns the public projection of a user.
	UserSummary(ctx context.Context, userID int64) (types.UserSummary, error)
}

// LikeStore records one-directional likes and reports mutual interest.
type LikeStore interface {
	// AddLike records liker -> liked and reports whether the reverse
	// like already exists.
	AddLike(ctx context.Context, likerID, likedID int64) (mutual bool, err error)
}
