package realtime

import (
	"math/rand"
	"testing"

	"go-chat-live/internal/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AdmitAndRemove(t *testing.T) {
	r := NewRegistry()
	c1 := NewConnection(alice, &fakeSink{})
	c2 := NewConnection(alice, &fakeSink{})

	first, err := r.Admit(c1)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = r.Admit(c2)
	require.NoError(t, err)
	assert.False(t, first)

	assert.True(t, r.IsOnline(alice.ID))
	assert.Len(t, r.ConnectionsFor(alice.ID), 2)
	assert.Equal(t, 2, r.Len())

	res := r.Remove(c1.ID)
	assert.Equal(t, alice.ID, res.UserID)
	assert.False(t, res.WasLastConnection)
	assert.Same(t, c1, res.Connection)

	res = r.Remove(c2.ID)
	assert.True(t, res.WasLastConnection)
	assert.False(t, r.IsOnline(alice.ID))
	assert.Empty(t, r.ConnectionsFor(alice.ID))
	assert.Zero(t, r.Len())
}

func TestRegistry_DoubleAdmitIsInvariantViolation(t *testing.T) {
	r := NewRegistry()
	c := NewConnection(alice, &fakeSink{})

	_, err := r.Admit(c)
	require.NoError(t, err)

	_, err = r.Admit(c)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Len(t, r.ConnectionsFor(alice.ID), 1)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	c := NewConnection(alice, &fakeSink{})

	assert.Equal(t, RemoveResult{}, r.Remove("missing"))

	_, err := r.Admit(c)
	require.NoError(t, err)
	r.Remove(c.ID)
	assert.Equal(t, RemoveResult{}, r.Remove(c.ID))
}

func TestRegistry_LookupAndOnlineUsers(t *testing.T) {
	r := NewRegistry()
	cb := NewConnection(bob, &fakeSink{})
	ca1 := NewConnection(alice, &fakeSink{})
	ca2 := NewConnection(alice, &fakeSink{})
	for _, c := range []*Connection{cb, ca1, ca2} {
		_, err := r.Admit(c)
		require.NoError(t, err)
	}

	got, ok := r.Lookup(cb.ID)
	require.True(t, ok)
	assert.Same(t, cb, got)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	assert.Len(t, r.All(), 3)
	assert.Equal(t, []user.Profile{alice, bob}, r.OnlineUsers())
}

// Random admit/remove sequences never leave an empty entry behind and never
// index a connection under more than one user.
func TestRegistry_InvariantHoldsUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	profiles := []user.Profile{alice, bob, carol}
	r := NewRegistry()
	var live []*Connection

	for i := 0; i < 2000; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			c := NewConnection(profiles[rng.Intn(len(profiles))], &fakeSink{})
			_, err := r.Admit(c)
			require.NoError(t, err)
			live = append(live, c)
		} else {
			idx := rng.Intn(len(live))
			r.Remove(live[idx].ID)
			if rng.Intn(4) == 0 {
				r.Remove(live[idx].ID)
			}
			live = append(live[:idx], live[idx+1:]...)
		}

		r.mu.RLock()
		owners := make(map[ConnectionID]string)
		for uid, conns := range r.byUser {
			require.NotEmpty(t, conns, "empty entry for %s", uid)
			for id := range conns {
				_, dup := owners[id]
				require.False(t, dup, "connection %s under two users", id)
				owners[id] = uid
			}
		}
		require.Len(t, owners, len(r.byID))
		r.mu.RUnlock()
	}
}
