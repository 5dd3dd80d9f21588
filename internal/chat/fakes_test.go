package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"floboats-messaging/internal/listing"
	"floboats-messaging/internal/logger"
)

const (
	buyerID  = "u-buyer"
	sellerID = "u-seller"
	otherID  = "u-other"

	boatID     = "boat-1"
	soldBoatID = "boat-sold"
)

var errInjected = errors.New("injected store failure")

// memStore is an in-memory Store with the same uniqueness and read-marking
// rules as the SQL repository.
type memStore struct {
	mu       sync.Mutex
	convs    map[string]*Conversation
	msgs     []MessageWithSender
	seq      int64
	profiles map[string]Profile
	listings map[string]*listing.Listing

	clock func() time.Time

	failSend     error
	failMarkRead error
	failLatest   error
	// unreadable message ids make GetMessage fail with errInjected.
	unreadable map[string]bool

	markReadCalls int
	archiveCalls  int
}

func newMemStore(listings map[string]*listing.Listing) *memStore {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var tick int
	return &memStore{
		convs: make(map[string]*Conversation),
		profiles: map[string]Profile{
			buyerID:  {ID: buyerID, Username: "bea"},
			sellerID: {ID: sellerID, Username: "sam"},
			otherID:  {ID: otherID, Username: "olli"},
		},
		listings: listings,
		clock: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
	}
}

func (s *memStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) FindConversation(_ context.Context, boat, buyer, seller string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.findLocked(boat, buyer, seller); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *memStore) findLocked(boat, buyer, seller string) *Conversation {
	for _, c := range s.convs {
		if c.BoatID == boat && c.BuyerID == buyer && c.SellerID == seller {
			return c
		}
	}
	return nil
}

func (s *memStore) ListConversations(_ context.Context, userID string, filter Filter) ([]ConversationListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ConversationListing
	for _, c := range s.convs {
		buying := c.BuyerID == userID && !c.IsArchivedByBuyer
		selling := c.SellerID == userID && !c.IsArchivedBySeller
		switch filter {
		case FilterBuying:
			if !buying {
				continue
			}
		case FilterSelling:
			if !selling {
				continue
			}
		default:
			if !buying && !selling {
				continue
			}
		}
		l := s.listings[c.BoatID]
		out = append(out, ConversationListing{
			Conversation: *c,
			Listing:      ListingSummary{ID: l.ID, Title: l.Title, Make: l.Make, Model: l.Model, Price: l.Price},
			Buyer:        s.profiles[c.BuyerID],
			Seller:       s.profiles[c.SellerID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *memStore) LatestMessage(_ context.Context, conversationID string) (*Message, error) {
	if s.failLatest != nil {
		return nil, s.failLatest
	}
	msgs := s.ordered(conversationID)
	if len(msgs) == 0 {
		return nil, nil
	}
	m := msgs[len(msgs)-1].Message
	return &m, nil
}

// ordered returns a conversation's messages by (created_at, seq).
func (s *memStore) ordered(conversationID string) []MessageWithSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MessageWithSender
	for _, m := range s.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	// msgs is kept in seq order, so a stable sort on created_at breaks ties by seq.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memStore) ListMessages(_ context.Context, conversationID string) ([]MessageWithSender, error) {
	out := s.ordered(conversationID)
	if out == nil {
		out = []MessageWithSender{}
	}
	return out, nil
}

func (s *memStore) GetMessage(_ context.Context, id string) (*MessageWithSender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unreadable[id] {
		return nil, errInjected
	}
	for _, m := range s.msgs {
		if m.ID == id {
			cp := m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) MarkRead(_ context.Context, viewerID string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markReadCalls++
	if s.failMarkRead != nil {
		return 0, s.failMarkRead
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for i := range s.msgs {
		m := &s.msgs[i]
		if want[m.ID] && m.SenderID != viewerID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) TouchLastRead(_ context.Context, conversationID string, role Role, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	if role == RoleBuyer {
		c.BuyerLastReadAt = &at
	} else {
		c.SellerLastReadAt = &at
	}
	return nil
}

func (s *memStore) SendMessage(_ context.Context, p SendParams) (*Conversation, *MessageWithSender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend != nil {
		return nil, nil, s.failSend
	}

	var conv *Conversation
	if p.ConversationID == "" {
		if p.BuyerID == p.SellerID {
			return nil, nil, errors.New("conversations_distinct_parties")
		}
		conv = s.findLocked(p.BoatID, p.BuyerID, p.SellerID)
		if conv == nil {
			conv = &Conversation{
				ID: p.NewConversationID, BoatID: p.BoatID, BuyerID: p.BuyerID, SellerID: p.SellerID,
			}
			s.convs[conv.ID] = conv
		}
	} else {
		var ok bool
		if conv, ok = s.convs[p.ConversationID]; !ok {
			return nil, nil, ErrNotFound
		}
	}

	now := s.clock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	s.seq++
	msg := MessageWithSender{
		Message: Message{
			ID: p.MessageID, ConversationID: conv.ID, SenderID: p.SenderID, Text: p.Text, CreatedAt: now,
		},
		Sender: s.profiles[p.SenderID],
	}
	s.msgs = append(s.msgs, msg)
	conv.LastMessageAt = now
	conv.IsArchivedByBuyer, conv.IsArchivedBySeller = false, false

	cp := *conv
	return &cp, &msg, nil
}

func (s *memStore) Archive(_ context.Context, conversationID string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiveCalls++
	c, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	if role == RoleBuyer {
		c.IsArchivedByBuyer = true
	} else {
		c.IsArchivedBySeller = true
	}
	return nil
}

func (s *memStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

func (s *memStore) messageCount(conversationID string) int {
	return len(s.ordered(conversationID))
}

// insertRaw stores a message with a fixed timestamp, bypassing the clock.
func (s *memStore) insertRaw(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.msgs = append(s.msgs, MessageWithSender{Message: m, Sender: s.profiles[m.SenderID]})
}

type fakeListings map[string]*listing.Listing

func (f fakeListings) GetListing(_ context.Context, id string) (*listing.Listing, error) {
	l, ok := f[id]
	if !ok {
		return nil, listing.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// memFeed is an in-process Feed. Every subscription gets its own buffered
// channel.
type memFeed struct {
	mu           sync.Mutex
	subs         map[string][]*memSub
	published    []Change
	failPublish  error
	failSub      error
	onSubscribed func()
}

func newMemFeed() *memFeed {
	return &memFeed{subs: make(map[string][]*memSub)}
}

type memSub struct {
	feed   *memFeed
	convID string
	ch     chan Change
	closed bool
}

func (f *memFeed) Publish(_ context.Context, c Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPublish != nil {
		return f.failPublish
	}
	f.published = append(f.published, c)
	for _, s := range f.subs[c.ConversationID] {
		s.ch <- c
	}
	return nil
}

// deliver pushes c straight onto every live subscription, whatever its
// conversation, to simulate a stale or misrouted event.
func (f *memFeed) deliver(c Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, subs := range f.subs {
		for _, s := range subs {
			s.ch <- c
		}
	}
}

func (f *memFeed) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	if f.failSub != nil {
		return nil, f.failSub
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	s := &memSub{feed: f, convID: conversationID, ch: make(chan Change, 64)}
	f.subs[conversationID] = append(f.subs[conversationID], s)
	hook := f.onSubscribed
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return s, nil
}

func (f *memFeed) active(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[conversationID])
}

func (f *memFeed) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (s *memSub) Changes() <-chan Change { return s.ch }

func (s *memSub) Close() error {
	f := s.feed
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	subs := f.subs[s.convID]
	for i, other := range subs {
		if other == s {
			f.subs[s.convID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(s.ch)
	return nil
}

type recordedEvent struct {
	key string
	v   interface{}
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (f *fakeEvents) PublishMessage(_ context.Context, key string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, recordedEvent{key: key, v: v})
	return nil
}

type fixture struct {
	svc      *Service
	store    *memStore
	feed     *memFeed
	events   *fakeEvents
	listings fakeListings
	// hub is set by newTestRouter.
	hub *Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	price := 42000.0
	listings := fakeListings{
		boatID:     {ID: boatID, OwnerID: sellerID, Title: "2019 Boston Whaler", Make: "Boston Whaler", Model: "Montauk", Price: &price, Status: listing.StatusActive},
		soldBoatID: {ID: soldBoatID, OwnerID: sellerID, Title: "Old skiff", Status: "sold"},
	}
	store := newMemStore(listings)
	feed := newMemFeed()
	events := &fakeEvents{}
	return &fixture{
		svc:      NewService(store, listings, feed, events, logger.Nop()),
		store:    store,
		feed:     feed,
		events:   events,
		listings: listings,
	}
}

// addListing registers an active listing; the store shares the same map.
func (f *fixture) addListing(id, ownerID, title string) {
	f.listings[id] = &listing.Listing{ID: id, OwnerID: ownerID, Title: title, Status: listing.StatusActive}
}

// startConversation has the buyer send the first message about boatID.
func (f *fixture) startConversation(t *testing.T, text string) *MessageWithSender {
	t.Helper()
	msg, err := f.svc.SendMessage(context.Background(), SendCommand{
		ListingID: boatID, SenderID: buyerID, Text: text,
	})
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	return msg
}
