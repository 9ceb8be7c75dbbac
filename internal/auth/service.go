// Package auth issues bearer tokens and answers access questions about entities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/a2v-stg/api-mock-lab/internal/models"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

type Service struct {
	users    UserStore
	sessions SessionStore
	ttl      time.Duration
	now      func() time.Time
}

func NewService(users UserStore, sessions SessionStore, ttl time.Duration) *Service {
	return &Service{users: users, sessions: sessions, ttl: ttl, now: time.Now}
}

// Register creates a user. Uniqueness violations come back as storage.ErrConflict.
func (s *Service) Register(ctx context.Context, email, username, password string, admin bool) (*models.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	u := &models.User{
		ID:           models.NewID("usr"),
		Email:        strings.TrimSpace(email),
		Username:     strings.TrimSpace(username),
		PasswordHash: hash,
		IsAdmin:      admin,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, "", err
	}
	if u == nil || !CheckPassword(password, u.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}

	token := models.NewToken()
	now := s.now().UTC()
	if err := s.sessions.Set(ctx, token, Session{UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}); err != nil {
		return nil, "", fmt.Errorf("storing session: %w", err)
	}
	return u, token, nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrSessionNotFound
	}
	return u, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// Cleanup drops expired sessions from the store.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	return s.sessions.Cleanup(ctx)
}
