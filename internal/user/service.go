package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "go-chat-live"

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Store is the persistence the service needs; *Repository satisfies it.
type Store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
}

type Service struct {
	repo      Store
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

type MyJWTClaims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

func NewService(repo Store, secret string, tokenTTL time.Duration) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(secret),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	if err := validateRegister(req); err != nil {
		return nil, err
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	picture := strings.TrimSpace(req.ProfilePicture)
	if picture == "" {
		picture = DefaultProfilePicture
	}

	u := &User{
		Username:       strings.TrimSpace(req.Username),
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		Password:       string(hashedPwd),
		ProfilePicture: picture,
	}

	return s.repo.CreateUser(ctx, u)
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.IssueToken(u.ID)
	if err != nil {
		return nil, err
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

// IssueToken signs an HS256 session token for the given user.
func (s *Service) IssueToken(userID string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	ss, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return ss, expiresAt, nil
}

// ValidateToken checks the signature and expiry and returns the user id.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == "" {
		return "", ErrInvalidToken
	}
	return claims.ID, nil
}

// Verify resolves a session token to the profile of an existing user.
func (s *Service) Verify(ctx context.Context, tokenString string) (Profile, error) {
	userID, err := s.ValidateToken(tokenString)
	if err != nil {
		return Profile{}, err
	}
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return u.Profile(), nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.repo.ListUsers(ctx)
}

func validateRegister(req *RegisterRequest) error {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if username == "" || email == "" || req.Password == "" {
		return &ValidationError{Field: "body", Message: "all fields are required"}
	}
	if len(username) < 3 || len(username) > 20 {
		return &ValidationError{Field: "username", Message: "must be between 3 and 20 characters"}
	}
	if !usernamePattern.MatchString(username) {
		return &ValidationError{Field: "username", Message: "can only contain letters, numbers, and underscores"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &ValidationError{Field: "email", Message: "invalid email format"}
	}
	if len(req.Password) < 6 {
		return &ValidationError{Field: "password", Message: "must be at least 6 characters long"}
	}
	return nil
}
