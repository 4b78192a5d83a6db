package realtime

import (
	"fmt"
	"sort"
	"sync"

	"go-chat-live/internal/user"
)

// Registry is the authoritative map of user to live connections. Admit and
// Remove are the only mutators; a user with no connections has no entry.
type Registry struct {
	mu     sync.RWMutex
	byID   map[ConnectionID]*Connection
	byUser map[string]map[ConnectionID]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[ConnectionID]*Connection),
		byUser: make(map[string]map[ConnectionID]*Connection),
	}
}

// RemoveResult is the zero value when the connection was unknown.
type RemoveResult struct {
	UserID            string
	WasLastConnection bool
	Connection        *Connection
}

// Admit registers conn and reports whether it is the user's first live
// connection. Admitting a known ID leaves the registry untouched.
func (r *Registry) Admit(conn *Connection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[conn.ID]; exists {
		return false, fmt.Errorf("%w: connection %s already admitted", ErrInvariantViolation, conn.ID)
	}

	uid := conn.UserID()
	conns, ok := r.byUser[uid]
	if !ok {
		conns = make(map[ConnectionID]*Connection)
		r.byUser[uid] = conns
	}
	conns[conn.ID] = conn
	r.byID[conn.ID] = conn
	return !ok, nil
}

func (r *Registry) Remove(id ConnectionID) RemoveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byID[id]
	if !ok {
		return RemoveResult{}
	}
	delete(r.byID, id)

	uid := conn.UserID()
	res := RemoveResult{UserID: uid, Connection: conn}
	if conns, ok := r.byUser[uid]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(r.byUser, uid)
			res.WasLastConnection = true
		}
	}
	return res
}

func (r *Registry) ConnectionsFor(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	out := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) Lookup(id ConnectionID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// All returns every live connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// OnlineUsers returns one profile per online user, sorted by username.
func (r *Registry) OnlineUsers() []user.Profile {
	r.mu.RLock()
	out := make([]user.Profile, 0, len(r.byUser))
	for _, conns := range r.byUser {
		for _, c := range conns {
			out = append(out, c.Profile)
			break
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Len is the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
