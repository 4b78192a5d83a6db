package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go-chat-live/internal/chat"
	"go-chat-live/internal/telemetry"
	"go-chat-live/internal/user"
)

var (
	alice = user.Profile{ID: "u-alice", Username: "alice", ProfilePicture: "a.png"}
	bob   = user.Profile{ID: "u-bob", Username: "bob", ProfilePicture: "b.png"}
	carol = user.Profile{ID: "u-carol", Username: "carol", ProfilePicture: "c.png"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSink records frames. With capacity > 0 it behaves like a full queue
// once that many frames are held.
type fakeSink struct {
	mu       sync.Mutex
	frames   [][]byte
	capacity int
	closed   bool
}

func (s *fakeSink) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.capacity > 0 && len(s.frames) >= s.capacity {
		s.closed = true
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSink) events(name string) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, f := range s.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			panic(err)
		}
		if env.Event == name {
			out = append(out, env)
		}
	}
	return out
}

func (s *fakeSink) count(name string) int {
	return len(s.events(name))
}

type fakeMessages struct {
	mu       sync.Mutex
	profiles map[string]user.Profile
	err      error
	calls    int
	seq      int
}

func newFakeMessages(profiles ...user.Profile) *fakeMessages {
	m := &fakeMessages{profiles: make(map[string]user.Profile)}
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
	return m
}

func (m *fakeMessages) build(senderID, roomID, receiverID, content string) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return chat.Message{}, m.err
	}
	sender, ok := m.profiles[senderID]
	if !ok {
		return chat.Message{}, chat.ErrUnknownPeer
	}
	m.seq++
	now := time.Now()
	return chat.Message{
		ID:                   fmt.Sprintf("m-%d", m.seq),
		Content:              content,
		SenderID:             senderID,
		RoomID:               roomID,
		ReceiverID:           receiverID,
		CreatedAt:            now,
		UpdatedAt:            now,
		SenderName:           sender.Username,
		SenderProfilePicture: sender.ProfilePicture,
	}, nil
}

func (m *fakeMessages) PersistRoomMessage(_ context.Context, senderID, roomID, content string) (chat.Message, error) {
	return m.build(senderID, roomID, "", content)
}

func (m *fakeMessages) PersistPrivateMessage(_ context.Context, senderID, receiverID, content string) (chat.Message, error) {
	return m.build(senderID, "", receiverID, content)
}

func (m *fakeMessages) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type statusCall struct {
	userID string
	online bool
}

type fakeStatus struct {
	mu    sync.Mutex
	calls []statusCall
	err   error
}

func (s *fakeStatus) SetOnlineStatus(_ context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, statusCall{userID, online})
	return s.err
}

func (s *fakeStatus) snapshot() []statusCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusCall(nil), s.calls...)
}

type fakeVerifier map[string]user.Profile

func (v fakeVerifier) Verify(_ context.Context, token string) (user.Profile, error) {
	if token == "broken" {
		return user.Profile{}, errors.New("database unavailable")
	}
	p, ok := v[token]
	if !ok {
		return user.Profile{}, user.ErrInvalidToken
	}
	return p, nil
}

type testHub struct {
	*Hub
	messages *fakeMessages
	status   *fakeStatus
}

func newTestHub(t *testing.T, grace time.Duration) *testHub {
	t.Helper()
	messages := newFakeMessages(alice, bob, carol)
	status := &fakeStatus{}
	verifier := fakeVerifier{"alice-token": alice, "bob-token": bob, "carol-token": carol}
	h := NewHub(HubConfig{GracePeriod: grace, StoreTimeout: time.Second}, verifier, messages, status, discardLogger(), telemetry.Noop())
	t.Cleanup(h.Stop)
	return &testHub{Hub: h, messages: messages, status: status}
}

// connect admits a connection through the registry and tracker, the way an
// authenticated lifecycle does.
func (h *testHub) connect(t *testing.T, p user.Profile) (*Connection, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	conn := NewConnection(p, sink)
	first, err := h.Registry.Admit(conn)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	h.Presence.Connected(conn, first)
	return conn, sink
}

func (h *testHub) disconnect(conn *Connection) {
	res := h.Registry.Remove(conn.ID)
	h.Router.Drop(conn)
	h.Presence.Disconnected(res.UserID, res.WasLastConnection)
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	f, err := encodeFrame(event, data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return f
}
