package models

import (
	"strings"
	"time"
)

type Entity struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	APIKey     string    `json:"api_key,omitempty"`
	BasePath   string    `json:"base_path"`
	OwnerID    string    `json:"owner_id,omitempty"`
	IsPublic   bool      `json:"is_public"`
	SharedWith []string  `json:"shared_with"`
	CreatedAt  time.Time `json:"created_at"`
}

// Slug lowercases name and collapses every run of characters outside [a-z0-9]
// into a single "-". It returns "" when name has no usable characters.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// BasePathFor derives an entity base path from its name, e.g. "Order Service" -> "/api/order-service".
func BasePathFor(prefix, name string) string {
	return strings.TrimRight(prefix, "/") + "/" + Slug(name)
}

// PathsOverlap reports whether one base path is a textual prefix of the other.
// Overlapping base paths make prefix resolution ambiguous and are rejected at creation time.
func PathsOverlap(a, b string) bool {
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// IsSharedWith reports whether userID was granted access by the owner.
func (e *Entity) IsSharedWith(userID string) bool {
	for _, id := range e.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}
