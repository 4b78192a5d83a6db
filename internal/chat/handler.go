package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	myMiddleware "go-chat-live/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// Store is what the REST handlers need from persistence.
type Store interface {
	PersistRoomMessage(ctx context.Context, senderID, roomID, content string) (Message, error)
	PersistPrivateMessage(ctx context.Context, senderID, receiverID, content string) (Message, error)
	GetRoomMessages(ctx context.Context, roomID string) ([]Message, error)
	GetPrivateMessages(ctx context.Context, userID, peerID string) ([]Message, error)
	MarkRead(ctx context.Context, senderID, receiverID string) (int64, error)
	ListRooms(ctx context.Context) ([]Room, error)
	CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error)
}

type Handler struct {
	repo        Store
	broadcaster Broadcaster
	log         *slog.Logger
}

func NewHandler(repo Store, broadcaster Broadcaster, logger *slog.Logger) *Handler {
	return &Handler{
		repo:        repo,
		broadcaster: broadcaster,
		log:         logger.With("component", "chat"),
	}
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.repo.ListRooms(r.Context())
	if err != nil {
		h.serverError(w, "List rooms failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]Room{"rooms": rooms})
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if n := utf8.RuneCountInString(req.Name); n < 3 || n > 50 {
		writeMessage(w, http.StatusBadRequest, "Room name must be between 3 and 50 characters")
		return
	}
	if utf8.RuneCountInString(req.Description) > 200 {
		writeMessage(w, http.StatusBadRequest, "Room description must be at most 200 characters")
		return
	}

	room, err := h.repo.CreateRoom(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrRoomExists) {
			writeMessage(w, http.StatusConflict, "Room already exists")
			return
		}
		h.serverError(w, "Create room failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Room created successfully", "room": room})
}

func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.repo.GetRoomMessages(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			writeMessage(w, http.StatusNotFound, "Room not found")
			return
		}
		h.serverError(w, "Get room messages failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]Message{"messages": messages})
}

// GetPrivateMessages returns the conversation and marks the peer's messages
// to the caller as read. Live delivery never marks read.
func (h *Handler) GetPrivateMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	peerID := chi.URLParam(r, "userId")

	messages, err := h.repo.GetPrivateMessages(r.Context(), userID, peerID)
	if err != nil {
		if errors.Is(err, ErrUnknownPeer) {
			writeMessage(w, http.StatusNotFound, "User not found")
			return
		}
		h.serverError(w, "Get private messages failed", err)
		return
	}

	if _, err := h.repo.MarkRead(r.Context(), peerID, userID); err != nil {
		h.log.Warn("Mark read failed", "user", userID, "peer", peerID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string][]Message{"messages": messages})
}

func (h *Handler) CreateRoomMessage(w http.ResponseWriter, r *http.Request) {
	h.createMessage(w, r, func(ctx context.Context, senderID, content string) (Message, error) {
		return h.repo.PersistRoomMessage(ctx, senderID, chi.URLParam(r, "roomId"), content)
	}, h.broadcaster.BroadcastRoomMessage, "Message sent successfully")
}

func (h *Handler) CreatePrivateMessage(w http.ResponseWriter, r *http.Request) {
	h.createMessage(w, r, func(ctx context.Context, senderID, content string) (Message, error) {
		return h.repo.PersistPrivateMessage(ctx, senderID, chi.URLParam(r, "userId"), content)
	}, h.broadcaster.BroadcastPrivateMessage, "Private message sent successfully")
}

// createMessage persists and then fans out, so a REST-created message reaches
// live recipients exactly as a socket-created one does.
func (h *Handler) createMessage(
	w http.ResponseWriter,
	r *http.Request,
	persist func(ctx context.Context, senderID, content string) (Message, error),
	broadcast func(ctx context.Context, msg Message) error,
	okMessage string,
) {
	senderID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content, err := NormalizeContent(req.Content)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := persist(r.Context(), senderID, content)
	if err != nil {
		if errors.Is(err, ErrUnknownPeer) {
			writeMessage(w, http.StatusNotFound, "Room or user not found")
			return
		}
		h.serverError(w, "Create message failed", err)
		return
	}

	if err := broadcast(r.Context(), msg); err != nil {
		h.log.Error("Broadcast of REST message failed", "message", msg.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"message": okMessage, "data": msg})
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	h.log.Error(msg, "error", err)
	writeMessage(w, http.StatusInternalServerError, "Server error")
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
