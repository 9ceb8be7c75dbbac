package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/oklog/ulid/v2"
)

// NewID returns a time-sortable identifier such as "ent_01J9...".
func NewID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, ulid.Make().String())
}

func NewAPIKey() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 32)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		b[i] = charset[n.Int64()]
	}
	return fmt.Sprintf("mk_%s", string(b))
}

// NewToken returns an opaque URL-safe session token.
func NewToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
