package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go-chat-live/internal/chat"
	"go-chat-live/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MessageStore persists socket messages and returns them enriched with the
// sender's display fields.
type MessageStore interface {
	PersistRoomMessage(ctx context.Context, senderID, roomID, content string) (chat.Message, error)
	PersistPrivateMessage(ctx context.Context, senderID, receiverID, content string) (chat.Message, error)
}

// Router dispatches inbound events and fans outbound ones to live
// connections. It implements chat.Broadcaster so REST-created messages
// reach recipients the same way socket ones do.
type Router struct {
	registry     *Registry
	store        MessageStore
	storeTimeout time.Duration
	metrics      *telemetry.Metrics
	log          *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[ConnectionID]*Connection
}

var _ chat.Broadcaster = (*Router)(nil)

func NewRouter(registry *Registry, store MessageStore, storeTimeout time.Duration, logger *slog.Logger, metrics *telemetry.Metrics) *Router {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Router{
		registry:     registry,
		store:        store,
		storeTimeout: storeTimeout,
		metrics:      metrics,
		log:          logger.With("component", "router"),
		rooms:        make(map[string]map[ConnectionID]*Connection),
	}
}

// Dispatch decodes one inbound frame from conn and handles it. Validation
// failures wrap ErrValidation and persistence failures wrap ErrPersistence;
// in both cases nothing was fanned out.
func (r *Router) Dispatch(ctx context.Context, conn *Connection, frame []byte) error {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Errorf("%w: malformed frame: %v", ErrValidation, err)
	}

	switch env.Event {
	case EventRoomJoin:
		roomID, err := decodeRoomID(env.Data)
		if err != nil {
			return err
		}
		r.Join(conn, roomID)
		return nil
	case EventRoomLeave:
		roomID, err := decodeRoomID(env.Data)
		if err != nil {
			return err
		}
		r.Leave(conn, roomID)
		return nil
	case EventMessageRoom:
		return r.handleRoomMessage(ctx, conn, env.Data)
	case EventMessagePrivate:
		return r.handlePrivateMessage(ctx, conn, env.Data)
	case EventTypingStart, EventTypingStop:
		return r.handleTyping(conn, env.Event, env.Data)
	default:
		return fmt.Errorf("%w: unknown event %q", ErrValidation, env.Event)
	}
}

func decodeRoomID(data json.RawMessage) (string, error) {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		return "", fmt.Errorf("%w: room id must be a string", ErrValidation)
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", fmt.Errorf("%w: room id is required", ErrValidation)
	}
	return roomID, nil
}

// Join subscribes conn to roomID. Joining twice is a no-op.
func (r *Router) Join(conn *Connection, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !conn.join(roomID) {
		return
	}
	subs, ok := r.rooms[roomID]
	if !ok {
		subs = make(map[ConnectionID]*Connection)
		r.rooms[roomID] = subs
	}
	subs[conn.ID] = conn
}

// Leave unsubscribes conn from roomID, whether or not it had joined.
func (r *Router) Leave(conn *Connection, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.leave(roomID)
	r.unindex(roomID, conn.ID)
}

// Drop removes every subscription of conn. Later joins are refused.
func (r *Router) Drop(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, roomID := range conn.detach() {
		r.unindex(roomID, conn.ID)
	}
}

func (r *Router) unindex(roomID string, id ConnectionID) {
	subs, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.rooms, roomID)
	}
}

// Subscribers snapshots the live subscribers of roomID.
func (r *Router) Subscribers(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.rooms[roomID]
	out := make([]*Connection, 0, len(subs))
	for _, c := range subs {
		out = append(out, c)
	}
	return out
}

func (r *Router) handleRoomMessage(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p roomMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return fmt.Errorf("%w: roomId is required", ErrValidation)
	}
	content, err := chat.NormalizeContent(p.Content)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	msg, err := r.store.PersistRoomMessage(storeCtx, conn.UserID(), roomID, content)
	if err != nil {
		return fmt.Errorf("%w: room message: %w", ErrPersistence, err)
	}
	r.metrics.MessagesPersisted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "room")))

	return r.BroadcastRoomMessage(ctx, msg)
}

func (r *Router) handlePrivateMessage(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var p privateMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	receiverID := strings.TrimSpace(p.ReceiverID)
	if receiverID == "" {
		return fmt.Errorf("%w: receiverId is required", ErrValidation)
	}
	content, err := chat.NormalizeContent(p.Content)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	msg, err := r.store.PersistPrivateMessage(storeCtx, conn.UserID(), receiverID, content)
	if err != nil {
		return fmt.Errorf("%w: private message: %w", ErrPersistence, err)
	}
	r.metrics.MessagesPersisted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "private")))

	return r.BroadcastPrivateMessage(ctx, msg)
}

// handleTyping relays a typing notice. A room notice skips the sending
// connection; a private notice goes to the receiver only.
func (r *Router) handleTyping(conn *Connection, event string, data json.RawMessage) error {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	roomID, receiverID := strings.TrimSpace(p.RoomID), strings.TrimSpace(p.ReceiverID)
	if (roomID == "") == (receiverID == "") {
		return fmt.Errorf("%w: typing needs exactly one of roomId or receiverId", ErrValidation)
	}

	notice := typingNotice{User: conn.Profile, RoomID: roomID}
	frame, err := encodeFrame(event, notice)
	if err != nil {
		return err
	}

	if roomID != "" {
		targets := r.Subscribers(roomID)
		kept := targets[:0]
		for _, c := range targets {
			if c.ID != conn.ID {
				kept = append(kept, c)
			}
		}
		r.deliver(context.Background(), event, kept, frame)
		return nil
	}
	r.deliver(context.Background(), event, r.registry.ConnectionsFor(receiverID), frame)
	return nil
}

// BroadcastRoomMessage fans msg out to every connection subscribed to its
// room at the time of the call.
func (r *Router) BroadcastRoomMessage(ctx context.Context, msg chat.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.IsPrivate() {
		return fmt.Errorf("%w: room broadcast of a private message", chat.ErrInvalidAddressing)
	}
	frame, err := encodeFrame(EventMessageRoom, msg)
	if err != nil {
		return err
	}
	r.deliver(ctx, EventMessageRoom, r.Subscribers(msg.RoomID), frame)
	return nil
}

// BroadcastPrivateMessage fans msg out to all connections of the receiver
// and the sender, each exactly once.
func (r *Router) BroadcastPrivateMessage(ctx context.Context, msg chat.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if !msg.IsPrivate() {
		return fmt.Errorf("%w: private broadcast of a room message", chat.ErrInvalidAddressing)
	}
	frame, err := encodeFrame(EventMessagePrivate, msg)
	if err != nil {
		return err
	}

	seen := make(map[ConnectionID]struct{})
	var targets []*Connection
	for _, uid := range []string{msg.ReceiverID, msg.SenderID} {
		for _, c := range r.registry.ConnectionsFor(uid) {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			targets = append(targets, c)
		}
	}
	r.deliver(ctx, EventMessagePrivate, targets, frame)
	return nil
}

func (r *Router) deliver(ctx context.Context, event string, targets []*Connection, frame []byte) {
	attrs := metric.WithAttributes(attribute.String("event", event))
	delivered := 0
	for _, c := range targets {
		if c.Deliver(frame) {
			delivered++
			continue
		}
		r.metrics.EventsDropped.Add(ctx, 1, attrs)
		r.log.Warn("Dropped frame for slow connection", "connection", c.ID, "user", c.UserID(), "event", event)
	}
	r.metrics.FanoutDeliveries.Add(ctx, int64(delivered), attrs)
}
