package user

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	myMiddleware "go-chat-live/internal/middleware"
)

// OnlineDirectory answers who is reachable right now.
type OnlineDirectory interface {
	OnlineUsers() []Profile
}

type Handler struct {
	Service      *Service
	online       OnlineDirectory
	secureCookie bool
	log          *slog.Logger
}

func NewHandler(s *Service, online OnlineDirectory, secureCookie bool, logger *slog.Logger) *Handler {
	return &Handler{
		Service:      s,
		online:       online,
		secureCookie: secureCookie,
		log:          logger.With("component", "user"),
	}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	u, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": verr.Error()})
		case errors.Is(err, ErrUserExists):
			writeJSON(w, http.StatusConflict, map[string]string{"message": "User already exists"})
		default:
			h.log.Error("Registration failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server error"})
		}
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{Message: "User registered successfully", User: u})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
			return
		}
		h.log.Error("Login failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     myMiddleware.TokenCookie,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, AuthResponse{Message: "Login successful", User: res.User})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     myMiddleware.TokenCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Authentication required"})
		return
	}

	u, err := h.Service.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "User not found"})
			return
		}
		h.log.Error("Get current user failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]*User{"user": u})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		h.log.Error("List users failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server error"})
		return
	}
	if users == nil {
		users = []*User{}
	}
	writeJSON(w, http.StatusOK, map[string][]*User{"users": users})
}

// OnlineUsers reads the live registry rather than the persisted flag.
func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	profiles := h.online.OnlineUsers()
	if profiles == nil {
		profiles = []Profile{}
	}
	writeJSON(w, http.StatusOK, map[string][]Profile{"users": profiles})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
