// Package live pushes request log events to websocket subscribers of an entity.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/a2v-stg/api-mock-lab/internal/models"
)

const (
	EventNewLog    = "new_log"
	EventConnected = "connected"
	EventPong      = "pong"
)

type Event struct {
	Type     string             `json:"type"`
	Log      *models.RequestLog `json:"log,omitempty"`
	EntityID string             `json:"entity_id,omitempty"`
	Message  string             `json:"message,omitempty"`
}

func NewLogEvent(l *models.RequestLog) Event {
	return Event{Type: EventNewLog, Log: l}
}

// Observer receives events for one entity. Implementations must be comparable.
type Observer interface {
	Send(ctx context.Context, ev Event) error
}

// Hub tracks observers per entity. Publishing never blocks the caller and a
// failing observer is dropped without affecting the others.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[Observer]struct{}
	fanout int
	log    zerolog.Logger

	inflight conc.WaitGroup
}

func NewHub(fanout int, log zerolog.Logger) *Hub {
	if fanout <= 0 {
		fanout = 1
	}
	return &Hub{
		subs:   make(map[string]map[Observer]struct{}),
		fanout: fanout,
		log:    log,
	}
}

func (h *Hub) Subscribe(entityID string, o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[entityID]
	if !ok {
		set = make(map[Observer]struct{})
		h.subs[entityID] = set
	}
	set[o] = struct{}{}
}

func (h *Hub) Unsubscribe(entityID string, o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[entityID]
	if !ok {
		return
	}
	delete(set, o)
	if len(set) == 0 {
		delete(h.subs, entityID)
	}
}

func (h *Hub) Count(entityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[entityID])
}

// Publish delivers ev to the entity's observers in the background.
func (h *Hub) Publish(entityID string, ev Event) {
	if h.Count(entityID) == 0 {
		return
	}
	h.inflight.Go(func() {
		h.Broadcast(context.Background(), entityID, ev)
	})
}

// Broadcast sends ev to a snapshot of the entity's observers and returns when every send has finished.
func (h *Hub) Broadcast(ctx context.Context, entityID string, ev Event) {
	h.mu.RLock()
	observers := make([]Observer, 0, len(h.subs[entityID]))
	for o := range h.subs[entityID] {
		observers = append(observers, o)
	}
	h.mu.RUnlock()

	p := pool.New().WithMaxGoroutines(h.fanout)
	for _, o := range observers {
		p.Go(func() {
			if err := o.Send(ctx, ev); err != nil {
				h.log.Debug().Err(err).Str("entity_id", entityID).Msg("dropping live observer")
				h.Unsubscribe(entityID, o)
			}
		})
	}
	p.Wait()
}

// Wait blocks until background publishes finish or timeout elapses.
func (h *Hub) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		h.log.Warn().Msg("live broadcasts still in flight at shutdown")
	}
}
