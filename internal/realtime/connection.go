package realtime

import (
	"sort"
	"sync"

	"go-chat-live/internal/user"

	"github.com/google/uuid"
)

type ConnectionID string

// Sink is the outbound side of a transport. Send never blocks; it reports
// false when the frame was not queued. A sink whose queue is full closes
// itself.
type Sink interface {
	Send(frame []byte) bool
	Close()
}

// Connection is one authenticated transport. ID and Profile never change
// after construction; rooms are touched only by the owning read loop and
// teardown.
type Connection struct {
	ID      ConnectionID
	Profile user.Profile

	sink Sink

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

func NewConnection(profile user.Profile, sink Sink) *Connection {
	return &Connection{
		ID:      ConnectionID(uuid.NewString()),
		Profile: profile,
		sink:    sink,
		rooms:   make(map[string]struct{}),
	}
}

func (c *Connection) UserID() string {
	return c.Profile.ID
}

// Deliver queues a frame on the transport.
func (c *Connection) Deliver(frame []byte) bool {
	return c.sink.Send(frame)
}

func (c *Connection) Close() {
	c.sink.Close()
}

// Rooms returns the subscribed room IDs, sorted.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *Connection) Subscribed(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// join records a subscription. It refuses once the connection is torn down.
func (c *Connection) join(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.rooms[roomID] = struct{}{}
	return true
}

func (c *Connection) leave(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

// detach marks the connection closed and hands back its subscriptions.
func (c *Connection) detach() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.rooms = make(map[string]struct{})
	return rooms
}
