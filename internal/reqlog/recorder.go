// Package reqlog persists one RequestLog per mock transaction and pushes it to live observers.
package reqlog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/a2v-stg/api-mock-lab/internal/live"
	"github.com/a2v-stg/api-mock-lab/internal/models"
)

type Writer interface {
	CreateRequestLog(ctx context.Context, l *models.RequestLog) error
}

type Publisher interface {
	Publish(entityID string, ev live.Event)
}

type Recorder struct {
	store Writer
	pub   Publisher
	log   zerolog.Logger
	now   func() time.Time
}

func NewRecorder(store Writer, pub Publisher, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, pub: pub, log: log, now: time.Now}
}

// Record stamps, stores, then publishes entry. Publishing happens only after the write succeeds.
func (r *Recorder) Record(ctx context.Context, entry *models.RequestLog) error {
	if entry.ID == "" {
		entry.ID = models.NewID("log")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if err := r.store.CreateRequestLog(ctx, entry); err != nil {
		return fmt.Errorf("storing request log: %w", err)
	}

	r.log.Debug().
		Str("entity_id", entry.EntityID).
		Str("log_id", entry.ID).
		Str("method", entry.Method).
		Str("path", entry.Path).
		Int("status", entry.ResponseCode).
		Msg("request logged")

	if r.pub != nil {
		r.pub.Publish(entry.EntityID, live.NewLogEvent(entry))
	}
	return nil
}

// Capture builds the request half of a log entry. Header names are lower-cased
// and repeated values are joined with ", ".
func Capture(req *http.Request, body []byte, entityID, subPath string) *models.RequestLog {
	entry := &models.RequestLog{
		EntityID:       entityID,
		Method:         req.Method,
		Path:           subPath,
		RequestHeaders: flatten(req.Header, true),
		QueryParams:    flatten(req.URL.Query(), false),
	}
	if len(body) > 0 {
		s := strings.ToValidUTF8(string(body), "�")
		entry.RequestBody = &s
	}
	return entry
}

func flatten(values map[string][]string, lowerKeys bool) string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if lowerKeys {
			k = strings.ToLower(k)
		}
		out[k] = strings.Join(v, ", ")
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(b)
}
