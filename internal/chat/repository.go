package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
	ErrUnknownPeer  = errors.New("referenced room or user does not exist")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const messageSelect = `
	SELECT m.id, m.content, m.sender_id, m.room_id, m.receiver_id, m.is_read,
	       m.created_at, m.updated_at, u.username, u.profile_picture
	FROM messages m
	JOIN users u ON m.sender_id = u.id`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var (
		msg        Message
		roomID     sql.NullString
		receiverID sql.NullString
	)
	err := row.Scan(&msg.ID, &msg.Content, &msg.SenderID, &roomID, &receiverID, &msg.IsRead,
		&msg.CreatedAt, &msg.UpdatedAt, &msg.SenderName, &msg.SenderProfilePicture)
	if err != nil {
		return Message{}, err
	}
	msg.RoomID = roomID.String
	msg.ReceiverID = receiverID.String
	return msg, nil
}

// PersistRoomMessage stores a room message and returns it enriched with the
// sender's display fields in a single round trip.
func (r *Repository) PersistRoomMessage(ctx context.Context, senderID, roomID, content string) (Message, error) {
	return r.insert(ctx, senderID, sql.NullString{String: roomID, Valid: true}, sql.NullString{}, content)
}

func (r *Repository) PersistPrivateMessage(ctx context.Context, senderID, receiverID, content string) (Message, error) {
	return r.insert(ctx, senderID, sql.NullString{}, sql.NullString{String: receiverID, Valid: true}, content)
}

func (r *Repository) insert(ctx context.Context, senderID string, roomID, receiverID sql.NullString, content string) (Message, error) {
	for _, id := range []sql.NullString{roomID, receiverID, {String: senderID, Valid: true}} {
		if id.Valid {
			if _, err := uuid.Parse(id.String); err != nil {
				return Message{}, ErrUnknownPeer
			}
		}
	}

	query := `
		WITH inserted AS (
			INSERT INTO messages (id, content, sender_id, room_id, receiver_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING *
		)
		SELECT m.id, m.content, m.sender_id, m.room_id, m.receiver_id, m.is_read,
		       m.created_at, m.updated_at, u.username, u.profile_picture
		FROM inserted m
		JOIN users u ON m.sender_id = u.id`

	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, uuid.NewString(), content, senderID, roomID, receiverID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Message{}, ErrUnknownPeer
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (r *Repository) GetRoomMessages(ctx context.Context, roomID string) ([]Message, error) {
	if _, err := uuid.Parse(roomID); err != nil {
		return nil, ErrRoomNotFound
	}
	query := messageSelect + ` WHERE m.room_id = $1 ORDER BY m.created_at ASC`
	return r.queryMessages(ctx, query, roomID)
}

// GetPrivateMessages returns the conversation between two users, oldest first.
func (r *Repository) GetPrivateMessages(ctx context.Context, userID, peerID string) ([]Message, error) {
	if _, err := uuid.Parse(peerID); err != nil {
		return nil, ErrUnknownPeer
	}
	query := messageSelect + `
		WHERE m.room_id IS NULL
		  AND ((m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1))
		ORDER BY m.created_at ASC`
	return r.queryMessages(ctx, query, userID, peerID)
}

// MarkRead flags every unread private message from senderID to receiverID.
func (r *Repository) MarkRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	query := `UPDATE messages SET is_read = TRUE, updated_at = NOW()
		WHERE room_id IS NULL AND sender_id = $1 AND receiver_id = $2 AND is_read = FALSE`
	res, err := r.db.ExecContext(ctx, query, senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *Repository) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description, is_private, created_at, updated_at FROM rooms ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []Room{}
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.Description, &room.IsPrivate, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *Repository) CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error) {
	room := Room{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		IsPrivate:   req.IsPrivate,
	}
	query := `INSERT INTO rooms (id, name, description, is_private) VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, room.ID, room.Name, room.Description, room.IsPrivate).Scan(&room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Room{}, ErrRoomExists
		}
		return Room{}, fmt.Errorf("insert room: %w", err)
	}
	return room, nil
}
