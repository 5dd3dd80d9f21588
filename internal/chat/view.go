package chat

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"floboats-messaging/internal/apperr"
)

type ViewState int32

const (
	StateUnsubscribed ViewState = iota
	StateSubscribing
	StateSubscribed
	StateClosed
)

func (s ViewState) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// View is one viewer's live window onto a conversation: the loaded history plus
// every message inserted after it, kept in created_at order.
type View struct {
	svc       *Service
	conv      *Conversation
	viewerID  string
	onMessage func(MessageWithSender)

	mu    sync.Mutex
	state ViewState
	msgs  []MessageWithSender
	seen  map[string]struct{}

	sub       Subscription
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// OpenView authorizes viewerID, subscribes to the conversation's change feed and
// then loads its history, so no insert between the two is lost. onMessage runs on
// the view's pump goroutine for every new message; it must not call Close.
func (s *Service) OpenView(ctx context.Context, conversationID, viewerID string, onMessage func(MessageWithSender)) (*View, error) {
	conv, err := s.authorize(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}

	v := &View{
		svc:       s,
		conv:      conv,
		viewerID:  viewerID,
		onMessage: onMessage,
		seen:      make(map[string]struct{}),
		done:      make(chan struct{}),
	}
	v.setState(StateSubscribing)

	sub, err := s.feed.Subscribe(ctx, conv.ID)
	if err != nil {
		v.setState(StateUnsubscribed)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Errorw("subscribe failed", "conversation_id", conv.ID, "err", err)
		return nil, apperr.Store("failed to subscribe to conversation", err)
	}
	if err := ctx.Err(); err != nil {
		sub.Close()
		v.setState(StateUnsubscribed)
		return nil, err
	}

	history, err := s.loadFeed(ctx, conv, viewerID)
	if err != nil {
		sub.Close()
		v.setState(StateUnsubscribed)
		return nil, err
	}

	v.mu.Lock()
	v.msgs = history
	for _, m := range history {
		v.seen[m.ID] = struct{}{}
	}
	v.state = StateSubscribed
	v.sub = sub
	v.mu.Unlock()

	// The pump outlives the request that opened the view; Close stops it.
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v.cancel = cancel
	go v.pump(pumpCtx)
	return v, nil
}

func (v *View) pump(ctx context.Context) {
	defer close(v.done)
	changes := v.sub.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			v.apply(ctx, c)
		}
	}
}

func (v *View) apply(ctx context.Context, c Change) {
	if c.Type != ChangeInsert || c.ConversationID != v.conv.ID {
		return
	}
	if v.has(c.MessageID) {
		return
	}

	msg, err := v.svc.store.GetMessage(ctx, c.MessageID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && ctx.Err() == nil {
			v.svc.log.Warnw("fetch changed message failed",
				"conversation_id", c.ConversationID, "message_id", c.MessageID, "err", err)
		}
		return
	}
	if msg.ConversationID != v.conv.ID {
		return
	}

	if msg.SenderID != v.viewerID {
		one := []MessageWithSender{*msg}
		if _, err := v.svc.MarkRead(ctx, v.viewerID, one); err != nil {
			v.svc.log.Warnw("mark live message read failed", "message_id", msg.ID, "err", err)
		} else {
			*msg = one[0]
		}
	}

	if !v.insert(*msg) {
		return
	}
	if v.onMessage != nil {
		v.onMessage(*msg)
	}
}

func (v *View) has(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.seen[id]
	return ok
}

// insert places m after every message with an equal or earlier created_at.
// It reports false when m was already present or the view is closed.
func (v *View) insert(m MessageWithSender) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateClosed {
		return false
	}
	if _, ok := v.seen[m.ID]; ok {
		return false
	}
	i := sort.Search(len(v.msgs), func(i int) bool {
		return v.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	v.msgs = slices.Insert(v.msgs, i, m)
	v.seen[m.ID] = struct{}{}
	return true
}

func (v *View) ConversationID() string { return v.conv.ID }

// Messages returns a snapshot of the view's messages.
func (v *View) Messages() []MessageWithSender {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.msgs)
}

func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *View) setState(s ViewState) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

// Close unsubscribes and waits for the pump to stop. It is safe to call more
// than once.
func (v *View) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.setState(StateClosed)
		if v.cancel != nil {
			v.cancel()
		}
		if v.sub != nil {
			err = v.sub.Close()
			<-v.done
		}
	})
	return err
}
