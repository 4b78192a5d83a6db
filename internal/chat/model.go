package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentLength bounds message content, counted in runes after trimming.
const MaxContentLength = 1000

type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsPrivate   bool      `json:"is_private"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is either a room broadcast or a private message, never both.
// SenderName and SenderProfilePicture are joined in from users on read.
type Message struct {
	ID                   string    `json:"id"`
	Content              string    `json:"content"`
	SenderID             string    `json:"sender_id"`
	RoomID               string    `json:"room_id,omitempty"`
	ReceiverID           string    `json:"receiver_id,omitempty"`
	IsRead               bool      `json:"is_read"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	SenderName           string    `json:"sender_name"`
	SenderProfilePicture string    `json:"sender_profile_picture"`
}

var ErrInvalidAddressing = errors.New("message must target exactly one of room or receiver")

func (m *Message) IsPrivate() bool {
	return m.ReceiverID != ""
}

// Validate checks the room/receiver exclusivity.
func (m *Message) Validate() error {
	if (m.RoomID == "") == (m.ReceiverID == "") {
		return ErrInvalidAddressing
	}
	return nil
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"isPrivate"`
}

type CreateMessageRequest struct {
	Content string `json:"content"`
}

// Broadcaster fans a persisted message out to live connections. The socket
// core implements it directly; the Redis relay implements it for processes
// that do not own the registry.
type Broadcaster interface {
	BroadcastRoomMessage(ctx context.Context, msg Message) error
	BroadcastPrivateMessage(ctx context.Context, msg Message) error
}

var (
	ErrEmptyContent   = errors.New("message content is required")
	ErrContentTooLong = errors.New("message content exceeds 1000 characters")
)

// NormalizeContent trims content and enforces the length bounds shared by
// the socket and REST paths.
func NormalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return content, nil
}
