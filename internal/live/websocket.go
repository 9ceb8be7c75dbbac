package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownEntity = errors.New("entity not found")
	ErrForbidden     = errors.New("access denied")
)

// Authorizer decides whether r may subscribe to entityID. It returns
// ErrUnknownEntity or ErrForbidden to reject.
type Authorizer func(r *http.Request, entityID string) error

type Handler struct {
	hub          *Hub
	authorize    Authorizer
	writeTimeout time.Duration
	log          zerolog.Logger
}

func NewHandler(hub *Hub, authorize Authorizer, writeTimeout time.Duration, log zerolog.Logger) *Handler {
	return &Handler{hub: hub, authorize: authorize, writeTimeout: writeTimeout, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entity_id")

	// Reject before upgrading so a refused client never gets a half-open socket.
	if err := h.authorize(r, entityID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrUnknownEntity):
			status = http.StatusNotFound
		case errors.Is(err, ErrForbidden):
			status = http.StatusForbidden
		default:
			h.log.Error().Err(err).Str("entity_id", entityID).Msg("live subscription check failed")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	obs := &wsObserver{conn: conn, timeout: h.writeTimeout}

	h.hub.Subscribe(entityID, obs)
	defer func() {
		h.hub.Unsubscribe(entityID, obs)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	if err := obs.Send(ctx, Event{Type: EventConnected, EntityID: entityID, Message: "Connected to real-time logs"}); err != nil {
		return
	}
	h.log.Debug().Str("entity_id", entityID).Int("observers", h.hub.Count(entityID)).Msg("live observer connected")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageText && string(data) == "ping" {
			if err := obs.Send(ctx, Event{Type: EventPong}); err != nil {
				return
			}
		}
	}
}

type wsObserver struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (o *wsObserver) Send(ctx context.Context, ev Event) error {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	if err := wsjson.Write(ctx, o.conn, ev); err != nil {
		_ = o.conn.CloseNow()
		return err
	}
	return nil
}
