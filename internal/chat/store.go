package chat

import (
	"context"
	"errors"
	"time"

	"floboats-messaging/internal/listing"
)

// ErrNotFound is returned by Store lookups that match no row.
var ErrNotFound = errors.New("chat: record not found")

// Store is the message store consumed by the service.
type Store interface {
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	FindConversation(ctx context.Context, boatID, buyerID, sellerID string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string, filter Filter) ([]ConversationListing, error)
	// LatestMessage returns nil, nil for a conversation without messages.
	LatestMessage(ctx context.Context, conversationID string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]MessageWithSender, error)
	GetMessage(ctx context.Context, id string) (*MessageWithSender, error)
	// MarkRead flips is_read on the given messages not sent by viewerID.
	MarkRead(ctx context.Context, viewerID string, messageIDs []string) (int64, error)
	TouchLastRead(ctx context.Context, conversationID string, role Role, at time.Time) error
	// SendMessage creates the conversation (when p.ConversationID is empty), the
	// message and the last_message_at bump atomically.
	SendMessage(ctx context.Context, p SendParams) (*Conversation, *MessageWithSender, error)
	Archive(ctx context.Context, conversationID string, role Role) error
}

type ListingLookup interface {
	GetListing(ctx context.Context, id string) (*listing.Listing, error)
}

const ChangeInsert = "INSERT"

// Change is a row-level notification. It carries keys only; consumers fetch
// the joined record themselves.
type Change struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type Subscription interface {
	Changes() <-chan Change
	// Close is idempotent.
	Close() error
}

// Feed is the change-notification feed, scoped per conversation.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context, conversationID string) (Subscription, error)
}

type EventPublisher interface {
	PublishMessage(ctx context.Context, key string, v interface{}) error
}
