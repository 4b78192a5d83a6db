package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	byID map[string]*User
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]*User)}
}

func (m *memStore) CreateUser(_ context.Context, u *User) (*User, error) {
	for _, existing := range m.byID {
		if existing.Email == u.Email || existing.Username == u.Username {
			return nil, ErrUserExists
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	m.byID[u.ID] = u
	return u, nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*User, error) {
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, ErrUserNotFound
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memStore) ListUsers(_ context.Context) ([]*User, error) {
	users := make([]*User, 0, len(m.byID))
	for _, u := range m.byID {
		users = append(users, u)
	}
	return users, nil
}

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	return NewService(store, "test-secret", time.Hour), store
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr bool
	}{
		{"valid", RegisterRequest{Username: "alice", Email: "Alice@Example.com", Password: "secret1"}, false},
		{"missing fields", RegisterRequest{Username: "bob"}, true},
		{"short username", RegisterRequest{Username: "ab", Email: "ab@example.com", Password: "secret1"}, true},
		{"bad username chars", RegisterRequest{Username: "bob smith", Email: "bob@example.com", Password: "secret1"}, true},
		{"bad email", RegisterRequest{Username: "carol", Email: "carol", Password: "secret1"}, true},
		{"short password", RegisterRequest{Username: "dave", Email: "dave@example.com", Password: "123"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService()
			u, err := svc.Register(ctx, &tt.req)
			if tt.wantErr {
				var verr *ValidationError
				assert.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice@example.com", u.Email)
			assert.Equal(t, DefaultProfilePicture, u.ProfilePicture)
			assert.NotEqual(t, "secret1", u.Password)
		})
	}
}

func TestService_RegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, &RegisterRequest{Username: "alice", Email: "other@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestService_LoginAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	registered, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)

	res, err := svc.Login(ctx, &LoginRequest{Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)

	profile, err := svc.Verify(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, profile.ID)
	assert.Equal(t, "alice", profile.Username)

	_, err = svc.Login(ctx, &LoginRequest{Email: "alice@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, &LoginRequest{Email: "nobody@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_ValidateToken(t *testing.T) {
	svc, _ := newTestService()

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewService(newMemStore(), "other-secret", time.Hour)
		token, _, err := other.IssueToken("u-1")
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, _, err := svc.IssueToken("u-1")
		require.NoError(t, err)

		later := *svc
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err = later.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestService_VerifyUnknownUser(t *testing.T) {
	svc, _ := newTestService()
	token, _, err := svc.IssueToken(uuid.NewString())
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
