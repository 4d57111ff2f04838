// Package events fans account session events out to SSE subscribers, with a
// redis pub/sub hop so every replica sees every event.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/chatbridge/session-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Subscriber struct {
	AccountID string
	Events    chan Event
	Done      chan struct{}
}

// accountStream is one account's subscriber set plus the redis pubsub
// goroutine feeding it. The goroutine lives exactly as long as the set is
// non-empty; a fresh subscription after the set empties starts a new one.
type accountStream struct {
	members map[*Subscriber]bool
	cancel  context.CancelFunc
	closed  chan struct{} // closed when the pubsub goroutine exits
}

type Broker struct {
	redis   *redisclient.Client
	streams map[string]*accountStream // accountID -> live stream
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		streams: make(map[string]*accountStream),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(accountID string) *Subscriber {
	sub := &Subscriber{
		AccountID: accountID,
		Events:    make(chan Event, 100),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	stream := b.streams[accountID]
	if stream == nil {
		ctx, cancel := context.WithCancel(b.ctx)
		stream = &accountStream{
			members: make(map[*Subscriber]bool),
			cancel:  cancel,
			closed:  make(chan struct{}),
		}
		b.streams[accountID] = stream
		go b.subscribeToRedis(ctx, accountID, stream.closed)
	}
	stream.members[sub] = true
	count := len(stream.members)
	b.mu.Unlock()

	log.Info().
		Str("accountId", accountID).
		Int("subscriberCount", count).
		Msg("event subscriber attached")

	return sub
}

func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if stream, ok := b.streams[sub.AccountID]; ok {
		delete(stream.members, sub)
		close(sub.Done)

		if len(stream.members) == 0 {
			stream.cancel()
			delete(b.streams, sub.AccountID)
		}

		log.Info().
			Str("accountId", sub.AccountID).
			Int("subscriberCount", len(stream.members)).
			Msg("event subscriber detached")
	}
}

// Publish pushes one event onto the account's redis channel. Data is
// marshaled here so every replica receives the same JSON body.
func (b *Broker) Publish(ctx context.Context, accountID string, eventType string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Event{Type: eventType, Data: body})
	if err != nil {
		return err
	}

	channel := redisclient.AccountChannel(accountID)
	return b.redis.Publish(ctx, channel, payload).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, accountID string, closed chan struct{}) {
	defer close(closed)

	channel := redisclient.AccountChannel(accountID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("accountId", accountID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(accountID, event)
		}
	}
}

func (b *Broker) broadcast(accountID string, event Event) {
	b.mu.RLock()
	var members []*Subscriber
	if stream, ok := b.streams[accountID]; ok {
		for sub := range stream.members {
			members = append(members, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range members {
		select {
		case sub.Events <- event:
		default:
			log.Warn().
				Str("accountId", accountID).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, stream := range b.streams {
		for sub := range stream.members {
			close(sub.Done)
		}
	}
	b.streams = make(map[string]*accountStream)
}

func (b *Broker) SubscriberCount(accountID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if stream, ok := b.streams[accountID]; ok {
		return len(stream.members)
	}
	return 0
}
