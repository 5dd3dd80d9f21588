package chat

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisFeed publishes message changes on one pub/sub channel per conversation,
// so every instance serving a viewer of that conversation sees inserts made
// through any other instance.
type RedisFeed struct {
	redis *redis.Client
	log   *zap.SugaredLogger
}

func NewRedisFeed(redisClient *redis.Client, log *zap.SugaredLogger) *RedisFeed {
	return &RedisFeed{redis: redisClient, log: log}
}

func channelName(conversationID string) string {
	return "messages:" + conversationID
}

func (f *RedisFeed) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return f.redis.Publish(ctx, channelName(c.ConversationID), payload).Err()
}

// Subscribe returns once Redis has confirmed the subscription.
func (f *RedisFeed) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	pubsub := f.redis.Subscribe(ctx, channelName(conversationID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	s := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Change, 64),
		done:   make(chan struct{}),
	}
	go s.forward(pubsub.Channel(), f.log)
	return s, nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	out       chan Change
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *redisSubscription) forward(in <-chan *redis.Message, log *zap.SugaredLogger) {
	defer close(s.out)
	for msg := range in {
		var c Change
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			log.Warnw("dropping malformed change event", "channel", msg.Channel, "err", err)
			continue
		}
		select {
		case s.out <- c:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Changes() <-chan Change { return s.out }

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.pubsub.Close()
	})
	return s.closeErr
}
