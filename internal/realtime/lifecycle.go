package realtime

import (
	"context"
	"fmt"
	"sync"

	"go-chat-live/internal/user"
)

// Verifier resolves a session token to the user it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (user.Profile, error)
}

type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Lifecycle drives one transport through Connecting, Authenticating, Active
// and Closed. Closed is terminal.
type Lifecycle struct {
	hub *Hub

	mu    sync.Mutex
	state State
	token string
	conn  *Connection
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connection is nil until the lifecycle is Active.
func (l *Lifecycle) Connection() *Connection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// Handshake takes the credential read from the upgrade request. Without one
// the lifecycle closes immediately.
func (l *Lifecycle) Handshake(token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateConnecting {
		return fmt.Errorf("%w: handshake from %s", ErrIllegalTransition, l.state)
	}
	if token == "" {
		l.state = StateClosed
		return ErrAuthenticationRequired
	}
	l.token = token
	l.state = StateAuthenticating
	return nil
}

// Authenticate verifies the token, then calls attach to open the transport
// and admits the resulting connection. Any failure closes the lifecycle
// without admitting.
func (l *Lifecycle) Authenticate(ctx context.Context, attach func(user.Profile) (Sink, error)) (*Connection, error) {
	l.mu.Lock()
	if l.state != StateAuthenticating {
		state := l.state
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: authenticate from %s", ErrIllegalTransition, state)
	}
	token := l.token
	l.mu.Unlock()

	h := l.hub
	verifyCtx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	profile, err := h.verifier.Verify(verifyCtx, token)
	cancel()
	if err != nil {
		l.closeUnadmitted()
		return nil, err
	}

	sink, err := attach(profile)
	if err != nil {
		l.closeUnadmitted()
		return nil, fmt.Errorf("attach transport: %w", err)
	}
	conn := NewConnection(profile, sink)

	l.mu.Lock()
	if l.state != StateAuthenticating {
		l.mu.Unlock()
		sink.Close()
		return nil, fmt.Errorf("%w: closed during authentication", ErrIllegalTransition)
	}
	first, err := h.Registry.Admit(conn)
	if err != nil {
		l.state = StateClosed
		l.mu.Unlock()
		sink.Close()
		h.invariant(err)
		return nil, err
	}
	l.conn = conn
	l.state = StateActive
	l.mu.Unlock()

	h.metrics.ConnectionsActive.Add(ctx, 1)
	h.Presence.Connected(conn, first)
	h.log.Info("Connection active", "connection", conn.ID, "user", conn.UserID(), "username", conn.Profile.Username)
	return conn, nil
}

func (l *Lifecycle) closeUnadmitted() {
	l.mu.Lock()
	l.state = StateClosed
	l.token = ""
	l.mu.Unlock()
}

// Close tears the connection down on first call. Later calls are no-ops.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	prev, conn := l.state, l.conn
	l.state = StateClosed
	l.token = ""
	l.mu.Unlock()

	if prev != StateActive {
		return
	}

	h := l.hub
	res := h.Registry.Remove(conn.ID)
	h.Router.Drop(conn)
	conn.Close()
	if res.Connection == nil {
		return
	}
	h.metrics.ConnectionsActive.Add(context.Background(), -1)
	h.Presence.Disconnected(res.UserID, res.WasLastConnection)
	h.log.Info("Connection closed", "connection", conn.ID, "user", res.UserID, "last", res.WasLastConnection)
}
