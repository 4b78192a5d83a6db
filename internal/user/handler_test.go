package user

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	myMiddleware "go-chat-live/internal/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticDirectory []Profile

func (d staticDirectory) OnlineUsers() []Profile { return d }

func newTestHandler(t *testing.T) (*Handler, *Service) {
	t.Helper()
	svc, _ := newTestService()
	return NewHandler(svc, staticDirectory{{ID: "u-1", Username: "alice"}}, false, slog.New(slog.NewTextHandler(io.Discard, nil))), svc
}

func TestHandler_RegisterThenLoginSetsCookie(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	body := `{"username":"alice","email":"alice@example.com","password":"secret1"}`
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"alice@example.com","password":"secret1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var token string
	for _, c := range rec.Result().Cookies() {
		if c.Name == myMiddleware.TokenCookie {
			token = c.Value
			assert.True(t, c.HttpOnly)
		}
	}
	assert.NotEmpty(t, token)
}

func TestHandler_RegisterConflict(t *testing.T) {
	h, _ := newTestHandler(t)
	body := `{"username":"alice","email":"alice@example.com","password":"secret1"}`

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_LoginBadCredentials(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"x@example.com","password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_Me(t *testing.T) {
	h, svc := newTestHandler(t)
	u, err := svc.Register(context.Background(), &RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	r = r.WithContext(context.WithValue(r.Context(), myMiddleware.UserKey, u.ID))
	rec := httptest.NewRecorder()
	h.Me(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		User User `json:"user"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "alice", resp.User.Username)
}

func TestHandler_OnlineUsers(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.OnlineUsers(rec, httptest.NewRequest(http.MethodGet, "/api/users/online", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Users []Profile `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Users, 1)
	assert.Equal(t, "alice", resp.Users[0].Username)
}
