// Package signing produces and checks the HMAC signature attached to outbound callbacks.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderTimestamp = "X-MockLab-Timestamp"
	HeaderSignature = "X-MockLab-Signature"
)

// Signer signs payloads with a shared secret. A Signer with an empty secret is disabled.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Apply sets the timestamp and signature headers for body. It is a no-op when disabled.
func (s *Signer) Apply(h http.Header, body []byte) {
	if !s.Enabled() {
		return
	}
	ts := s.now().Unix()
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(HeaderSignature, compute(s.secret, ts, body))
}

func compute(secret []byte, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Apply. Receivers use it to authenticate callbacks.
func Verify(secret string, body []byte, timestamp int64, signature string) bool {
	expected := compute([]byte(secret), timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
