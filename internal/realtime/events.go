package realtime

import (
	"encoding/json"
	"fmt"

	"go-chat-live/internal/user"
)

// Event names shared by inbound and outbound frames.
const (
	EventRoomJoin       = "room:join"
	EventRoomLeave      = "room:leave"
	EventMessageRoom    = "message:room"
	EventMessagePrivate = "message:private"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
)

// Envelope is the JSON text frame carried in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomMessagePayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type privateMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type typingPayload struct {
	RoomID     string `json:"roomId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
}

type typingNotice struct {
	User   user.Profile `json:"user"`
	RoomID string       `json:"roomId,omitempty"`
}

type offlineNotice struct {
	ID string `json:"id"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
