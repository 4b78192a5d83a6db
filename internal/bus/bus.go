package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go-chat-live/internal/chat"

	"github.com/redis/go-redis/v9"
)

// Channel carries REST-created messages to the socket core.
const Channel = "chat:fanout"

type Kind string

const (
	KindRoom    Kind = "room"
	KindPrivate Kind = "private"
)

type Envelope struct {
	Kind    Kind         `json:"kind"`
	Message chat.Message `json:"message"`
}

var ErrUnknownKind = errors.New("unknown envelope kind")

// Publishing is the part of the redis client the publisher needs.
type Publishing interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher is a chat.Broadcaster that relays through Redis pub/sub.
type Publisher struct {
	client  Publishing
	channel string
}

var _ chat.Broadcaster = (*Publisher)(nil)

func NewPublisher(client Publishing) *Publisher {
	return &Publisher{client: client, channel: Channel}
}

func (p *Publisher) BroadcastRoomMessage(ctx context.Context, msg chat.Message) error {
	if msg.IsPrivate() {
		return fmt.Errorf("%w: room relay of a private message", chat.ErrInvalidAddressing)
	}
	return p.publish(ctx, KindRoom, msg)
}

func (p *Publisher) BroadcastPrivateMessage(ctx context.Context, msg chat.Message) error {
	if !msg.IsPrivate() {
		return fmt.Errorf("%w: private relay of a room message", chat.ErrInvalidAddressing)
	}
	return p.publish(ctx, KindPrivate, msg)
}

func (p *Publisher) publish(ctx context.Context, kind Kind, msg chat.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(Envelope{Kind: kind, Message: msg})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscriber applies relayed envelopes to the in-process broadcaster.
type Subscriber struct {
	client  *redis.Client
	target  chat.Broadcaster
	channel string
	log     *slog.Logger
}

func NewSubscriber(client *redis.Client, target chat.Broadcaster, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		client:  client,
		target:  target,
		channel: Channel,
		log:     logger.With("component", "bus"),
	}
}

// Run blocks until ctx is done or the subscription fails.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.log.Info("Subscribed to fanout channel", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.apply(ctx, []byte(msg.Payload)); err != nil {
				s.log.Warn("Dropped relayed message", "error", err)
			}
		}
	}
}

func (s *Subscriber) apply(ctx context.Context, payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Kind {
	case KindRoom:
		return s.target.BroadcastRoomMessage(ctx, env.Message)
	case KindPrivate:
		return s.target.BroadcastPrivateMessage(ctx, env.Message)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}
