package chat

import (
	"fmt"
	"time"

	"floboats-messaging/internal/apperr"
)

type Conversation struct {
	ID                 string     `json:"id"`
	BoatID             string     `json:"boat_id"`
	BuyerID            string     `json:"buyer_id"`
	SellerID           string     `json:"seller_id"`
	LastMessageAt      time.Time  `json:"last_message_at"`
	BuyerLastReadAt    *time.Time `json:"buyer_last_read_at"`
	SellerLastReadAt   *time.Time `json:"seller_last_read_at"`
	IsArchivedByBuyer  bool       `json:"is_archived_by_buyer"`
	IsArchivedBySeller bool       `json:"is_archived_by_seller"`
	CreatedAt          time.Time  `json:"created_at"`
}

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// RoleOf returns the side userID is on, or "" for outsiders.
func (c *Conversation) RoleOf(userID string) Role {
	switch userID {
	case c.BuyerID:
		return RoleBuyer
	case c.SellerID:
		return RoleSeller
	}
	return ""
}

func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && c.RoleOf(userID) != ""
}

func (c *Conversation) OtherParty(userID string) string {
	if userID == c.BuyerID {
		return c.SellerID
	}
	return c.BuyerID
}

func (c *Conversation) ArchivedFor(userID string) bool {
	switch c.RoleOf(userID) {
	case RoleBuyer:
		return c.IsArchivedByBuyer
	case RoleSeller:
		return c.IsArchivedBySeller
	}
	return false
}

type ConversationRef struct {
	ID string `json:"conversation_id"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"message"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Profile is the display identity joined onto messages and summaries.
type Profile struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url"`
}

type MessageWithSender struct {
	Message
	Sender Profile `json:"sender"`
}

type ListingSummary struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	DisplayTitle string   `json:"display_title"`
	Make         string   `json:"make"`
	Model        string   `json:"model"`
	Price        *float64 `json:"price"`
	PhotoURL     *string  `json:"photo_url"`
}

// ConversationListing is a conversation row with its display joins, as the store
// returns it for the inbox.
type ConversationListing struct {
	Conversation
	Listing ListingSummary
	Buyer   Profile
	Seller  Profile
}

type ConversationSummary struct {
	ID            string         `json:"id"`
	Listing       ListingSummary `json:"listing"`
	OtherParty    Profile        `json:"other_party"`
	Role          Role           `json:"role"`
	LastMessageAt time.Time      `json:"last_message_at"`
	LastMessage   *Message       `json:"last_message,omitempty"`
	Unread        bool           `json:"unread"`
}

// IsUnread reports whether last, the newest message of a conversation, is an
// unread message from the other party.
func IsUnread(last *Message, viewerID string) bool {
	if last == nil {
		return false
	}
	return last.SenderID != viewerID && !last.IsRead
}

type Filter string

const (
	FilterAll     Filter = "all"
	FilterBuying  Filter = "buying"
	FilterSelling Filter = "selling"
)

func ParseFilter(s string) (Filter, error) {
	switch Filter(s) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterBuying, FilterSelling:
		return Filter(s), nil
	}
	return "", apperr.Validation(fmt.Sprintf("unknown filter %q", s))
}

// SendCommand is the Composer input. ConversationID is empty for the first
// message a buyer sends about a listing.
type SendCommand struct {
	ConversationID string
	ListingID      string
	SenderID       string
	Text           string
}

// SendParams is what the store needs to persist one outbound message, creating
// the conversation first when ConversationID is empty.
type SendParams struct {
	ConversationID    string
	NewConversationID string
	BoatID            string
	BuyerID           string
	SellerID          string
	MessageID         string
	SenderID          string
	Text              string
}

// MessageSentEvent is published to the domain event topic after a send commits.
type MessageSentEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	BoatID         string    `json:"boat_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"created_at"`
}
