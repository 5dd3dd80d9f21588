package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"floboats-messaging/internal/apperr"
	"floboats-messaging/internal/listing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// inboxFanout bounds the concurrent last-message lookups of one inbox load.
const inboxFanout = 8

type Service struct {
	store    Store
	listings ListingLookup
	feed     Feed
	events   EventPublisher
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewService wires the messaging operations. events may be nil when no domain
// event topic is configured.
func NewService(store Store, listings ListingLookup, feed Feed, events EventPublisher, log *zap.SugaredLogger) *Service {
	return &Service{
		store:    store,
		listings: listings,
		feed:     feed,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

// availableListing loads a listing a requester may open a conversation about.
func (s *Service) availableListing(ctx context.Context, listingID, requesterID string) (*listing.Listing, error) {
	l, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return nil, apperr.NotFound("boat not found or no longer available")
		}
		s.log.Errorw("load listing failed", "listing_id", listingID, "err", err)
		return nil, apperr.Store("failed to load listing", err)
	}
	if !l.Active() {
		return nil, apperr.NotFound("boat not found or no longer available")
	}
	if l.OwnerID == requesterID {
		return nil, apperr.ErrSelfMessagingDenied
	}
	return l, nil
}

// ResolveConversation finds the buyer's existing conversation about a listing.
// found is false when none exists yet; creation waits for the first message.
func (s *Service) ResolveConversation(ctx context.Context, listingID, requesterID string) (ref ConversationRef, found bool, err error) {
	l, err := s.availableListing(ctx, listingID, requesterID)
	if err != nil {
		return ConversationRef{}, false, err
	}

	conv, err := s.store.FindConversation(ctx, l.ID, requesterID, l.OwnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ConversationRef{}, false, nil
		}
		s.log.Errorw("find conversation failed", "listing_id", listingID, "err", err)
		return ConversationRef{}, false, apperr.Store("failed to look up conversation", err)
	}
	return ConversationRef{ID: conv.ID}, true, nil
}

// authorize loads a conversation and checks userID takes part in it.
func (s *Service) authorize(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("conversation not found")
		}
		s.log.Errorw("load conversation failed", "conversation_id", conversationID, "err", err)
		return nil, apperr.Store("failed to load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.ErrForbidden
	}
	return conv, nil
}

// LoadFeed returns the conversation history in ascending time order and marks
// the other party's messages read.
func (s *Service) LoadFeed(ctx context.Context, conversationID, requesterID string) ([]MessageWithSender, error) {
	conv, err := s.authorize(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	return s.loadFeed(ctx, conv, requesterID)
}

func (s *Service) loadFeed(ctx context.Context, conv *Conversation, viewerID string) ([]MessageWithSender, error) {
	msgs, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		s.log.Errorw("load messages failed", "conversation_id", conv.ID, "err", err)
		return nil, apperr.Store("failed to load messages", err)
	}

	// Read state is a side effect of viewing; a failure here must not hide the history.
	if _, err := s.MarkRead(ctx, viewerID, msgs); err != nil {
		s.log.Warnw("mark read failed", "conversation_id", conv.ID, "err", err)
	}
	s.touchLastRead(ctx, conv, viewerID)
	return msgs, nil
}

// MarkRead flips is_read on every message in msgs that viewerID did not send.
// Marked entries are updated in place. Calling it again is a no-op.
func (s *Service) MarkRead(ctx context.Context, viewerID string, msgs []MessageWithSender) (int64, error) {
	var (
		ids []string
		idx []int
	)
	for i := range msgs {
		if msgs[i].SenderID != viewerID && !msgs[i].IsRead {
			ids = append(ids, msgs[i].ID)
			idx = append(idx, i)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := s.store.MarkRead(ctx, viewerID, ids)
	if err != nil {
		return 0, apperr.Store("failed to mark messages read", err)
	}
	for _, i := range idx {
		msgs[i].IsRead = true
	}
	return n, nil
}

func (s *Service) touchLastRead(ctx context.Context, conv *Conversation, viewerID string) {
	role := conv.RoleOf(viewerID)
	if role == "" {
		return
	}
	if err := s.store.TouchLastRead(ctx, conv.ID, role, s.now()); err != nil {
		s.log.Warnw("touch last read failed", "conversation_id", conv.ID, "err", err)
	}
}

// SendMessage is the Composer. Without a conversation id it opens the buyer's
// conversation about cmd.ListingID first, in the same write as the message.
func (s *Service) SendMessage(ctx context.Context, cmd SendCommand) (*MessageWithSender, error) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return nil, apperr.Validation("message can't be empty")
	}
	if cmd.SenderID == "" {
		return nil, apperr.ErrUnauthenticated
	}

	p := SendParams{
		ConversationID: cmd.ConversationID,
		MessageID:      uuid.NewString(),
		SenderID:       cmd.SenderID,
		Text:           text,
	}

	if cmd.ConversationID == "" {
		if cmd.ListingID == "" {
			return nil, apperr.Validation("listing_id is required to start a conversation")
		}
		l, err := s.availableListing(ctx, cmd.ListingID, cmd.SenderID)
		if err != nil {
			return nil, err
		}
		p.NewConversationID = uuid.NewString()
		p.BoatID, p.BuyerID, p.SellerID = l.ID, cmd.SenderID, l.OwnerID
	} else {
		conv, err := s.authorize(ctx, cmd.ConversationID, cmd.SenderID)
		if err != nil {
			return nil, err
		}
		if cmd.ListingID != "" && cmd.ListingID != conv.BoatID {
			return nil, apperr.Validation("conversation belongs to another listing")
		}
		p.BoatID, p.BuyerID, p.SellerID = conv.BoatID, conv.BuyerID, conv.SellerID
	}

	conv, msg, err := s.store.SendMessage(ctx, p)
	if err != nil {
		s.log.Errorw("send message failed",
			"conversation_id", p.ConversationID, "boat_id", p.BoatID, "sender_id", p.SenderID, "err", err)
		return nil, apperr.Store("failed to send message", err)
	}

	s.afterSend(ctx, conv, msg)
	return msg, nil
}

// afterSend fans a committed message out. The message is already durable, so
// failures are only logged.
func (s *Service) afterSend(ctx context.Context, conv *Conversation, msg *MessageWithSender) {
	change := Change{Type: ChangeInsert, ConversationID: conv.ID, MessageID: msg.ID}
	if err := s.feed.Publish(ctx, change); err != nil {
		s.log.Warnw("publish change failed", "conversation_id", conv.ID, "message_id", msg.ID, "err", err)
	}

	if s.events == nil {
		return
	}
	ev := MessageSentEvent{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		BoatID:         conv.BoatID,
		SenderID:       msg.SenderID,
		RecipientID:    conv.OtherParty(msg.SenderID),
		Preview:        preview(msg.Text),
		CreatedAt:      msg.CreatedAt,
	}
	if err := s.events.PublishMessage(ctx, conv.ID, ev); err != nil {
		s.log.Warnw("publish message.sent failed", "conversation_id", conv.ID, "message_id", msg.ID, "err", err)
	}
}

func preview(text string) string {
	const max = 140
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max]) + "…"
}

// ListConversations builds the inbox of userID, newest activity first.
func (s *Service) ListConversations(ctx context.Context, userID string, filter Filter) ([]ConversationSummary, error) {
	if _, err := ParseFilter(string(filter)); err != nil {
		return nil, err
	}

	rows, err := s.store.ListConversations(ctx, userID, filter)
	if err != nil {
		s.log.Errorw("list conversations failed", "user_id", userID, "err", err)
		return nil, apperr.Store("failed to load conversations", err)
	}

	// TODO: replace the per-conversation lookups with one DISTINCT ON (conversation_id)
	// query once inboxes grow past a page.
	last := make([]*Message, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inboxFanout)
	for i := range rows {
		i := i
		g.Go(func() error {
			m, err := s.store.LatestMessage(gctx, rows[i].ID)
			if err != nil {
				return err
			}
			last[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Errorw("load last messages failed", "user_id", userID, "err", err)
		return nil, apperr.Store("failed to load conversations", err)
	}

	out := make([]ConversationSummary, 0, len(rows))
	for i, row := range rows {
		out = append(out, summarize(row, last[i], userID))
	}
	return out, nil
}

func summarize(row ConversationListing, last *Message, viewerID string) ConversationSummary {
	other := row.Buyer
	if row.RoleOf(viewerID) == RoleBuyer {
		other = row.Seller
	}
	ls := row.Listing
	ls.DisplayTitle = listing.DisplayTitle(ls.Title, ls.Make, ls.Model)
	return ConversationSummary{
		ID:            row.ID,
		Listing:       ls,
		OtherParty:    other,
		Role:          row.RoleOf(viewerID),
		LastMessageAt: row.LastMessageAt,
		LastMessage:   last,
		Unread:        IsUnread(last, viewerID),
	}
}

// ArchiveConversation hides a conversation from userID's inbox. The other side
// keeps seeing it and the next message un-hides it.
func (s *Service) ArchiveConversation(ctx context.Context, conversationID, userID string) error {
	conv, err := s.authorize(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if conv.ArchivedFor(userID) {
		return nil
	}
	if err := s.store.Archive(ctx, conv.ID, conv.RoleOf(userID)); err != nil {
		s.log.Errorw("archive conversation failed", "conversation_id", conv.ID, "err", err)
		return apperr.Store("failed to archive conversation", err)
	}
	return nil
}
