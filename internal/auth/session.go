package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

type Session struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore keeps bearer tokens. Get returns ErrSessionNotFound for unknown or expired tokens.
type SessionStore interface {
	Set(ctx context.Context, token string, s Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	// Cleanup drops expired sessions and reports how many were removed.
	Cleanup(ctx context.Context) (int, error)
	Close() error
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session), now: time.Now}
}

func (m *MemoryStore) Set(ctx context.Context, token string, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = s
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, token string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok || !s.ExpiresAt.After(m.now()) {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *MemoryStore) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for token, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }
