package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/a2v-stg/api-mock-lab/internal/models"
)

type fakeObserver struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	delay  time.Duration
}

func (f *fakeObserver) Send(ctx context.Context, ev Event) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return errors.New("connection reset")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeObserver) received() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func TestHub_FailedObserverIsIsolated(t *testing.T) {
	h := NewHub(4, zerolog.Nop())
	a, b := &fakeObserver{}, &fakeObserver{}
	broken := &fakeObserver{fail: true}
	h.Subscribe("ent_1", a)
	h.Subscribe("ent_1", broken)
	h.Subscribe("ent_1", b)

	log := &models.RequestLog{ID: "log_1", EntityID: "ent_1"}
	h.Broadcast(context.Background(), "ent_1", NewLogEvent(log))

	for _, o := range []*fakeObserver{a, b} {
		got := o.received()
		if assert.Len(t, got, 1) {
			assert.Equal(t, EventNewLog, got[0].Type)
			assert.Equal(t, "log_1", got[0].Log.ID)
		}
	}
	assert.Equal(t, 2, h.Count("ent_1"), "failed observer removed")

	h.Broadcast(context.Background(), "ent_1", NewLogEvent(log))
	assert.Len(t, a.received(), 2)
}

func TestHub_ScopedByEntity(t *testing.T) {
	h := NewHub(2, zerolog.Nop())
	mine, other := &fakeObserver{}, &fakeObserver{}
	h.Subscribe("ent_1", mine)
	h.Subscribe("ent_2", other)

	h.Broadcast(context.Background(), "ent_1", Event{Type: EventNewLog})

	assert.Len(t, mine.received(), 1)
	assert.Empty(t, other.received())
}

func TestHub_PublishDoesNotBlock(t *testing.T) {
	h := NewHub(1, zerolog.Nop())
	slow := &fakeObserver{delay: 200 * time.Millisecond}
	h.Subscribe("ent_1", slow)

	start := time.Now()
	h.Publish("ent_1", Event{Type: EventNewLog})
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	assert.Eventually(t, func() bool { return len(slow.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	h.Wait(time.Second)
}

func TestHub_UnsubscribeCleansUp(t *testing.T) {
	h := NewHub(1, zerolog.Nop())
	o := &fakeObserver{}
	h.Subscribe("ent_1", o)
	h.Unsubscribe("ent_1", o)
	h.Unsubscribe("ent_1", o)
	assert.Equal(t, 0, h.Count("ent_1"))

	h.Publish("ent_1", Event{Type: EventNewLog})
	h.Wait(time.Second)
	assert.Empty(t, o.received())
}

func TestHub_ConcurrentSubscribeAndBroadcast(t *testing.T) {
	h := NewHub(8, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			o := &fakeObserver{fail: i%3 == 0}
			h.Subscribe("ent_1", o)
		}()
		go func() {
			defer wg.Done()
			h.Broadcast(context.Background(), "ent_1", Event{Type: EventNewLog})
		}()
	}
	wg.Wait()
	h.Broadcast(context.Background(), "ent_1", Event{Type: EventNewLog})
	assert.LessOrEqual(t, h.Count("ent_1"), 50)
}
