package callback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

var (
	ErrQueueFull = errors.New("callback queue full")
	ErrStopped   = errors.New("callback dispatcher stopped")
)

// Dispatcher runs callbacks in the background. Schedule never blocks the caller.
type Dispatcher struct {
	sender  *Sender
	queue   chan Job
	workers int
	log     zerolog.Logger

	wg      conc.WaitGroup
	mu      sync.RWMutex
	stopped bool
	stop    chan struct{}
}

func NewDispatcher(sender *Sender, workers, queueSize int, log zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan Job, queueSize),
		workers: workers,
		log:     log,
		stop:    make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info().Int("workers", d.workers).Int("queue_size", cap(d.queue)).Msg("starting callback dispatcher")

	for i := 0; i < d.workers; i++ {
		d.wg.Go(func() {
			d.loop(ctx)
		})
	}
}

// Stop refuses new jobs and waits for workers to finish the callback they are sending.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.stop)
	d.mu.Unlock()

	d.log.Info().Msg("stopping callback dispatcher")
	d.wg.Wait()
	d.log.Info().Msg("callback dispatcher stopped")
}

// Schedule queues job to be sent after job.Delay. Errors are also logged; callers may ignore them.
func (d *Dispatcher) Schedule(job Job) error {
	if err := checkMethod(job.Method); err != nil {
		d.log.Warn().Err(err).Str("endpoint_id", job.EndpointID).Str("url", job.URL).Msg("callback rejected")
		return err
	}
	if job.Delay <= 0 {
		return d.enqueue(job)
	}
	time.AfterFunc(job.Delay, func() {
		_ = d.enqueue(job)
	})
	return nil
}

func (d *Dispatcher) enqueue(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.log.Warn().Str("endpoint_id", job.EndpointID).Str("url", job.URL).Msg("callback dropped, dispatcher stopped")
		return ErrStopped
	}
	select {
	case d.queue <- job:
		return nil
	default:
		d.log.Warn().Str("endpoint_id", job.EndpointID).Str("url", job.URL).Msg("callback dropped, queue full")
		return ErrQueueFull
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case job := <-d.queue:
			d.process(job)
		}
	}
}

func (d *Dispatcher) process(job Job) {
	var pc panics.Catcher
	pc.Try(func() {
		// Sends are bounded by the client timeout, not by server shutdown.
		result := d.sender.Send(context.Background(), job)
		d.report(job, result)
	})
	if r := pc.Recovered(); r != nil {
		d.log.Error().Str("endpoint_id", job.EndpointID).Str("panic", r.String()).Msg("callback worker panicked")
	}
}

func (d *Dispatcher) report(job Job, result *SendResult) {
	if result.Success() {
		d.log.Info().
			Str("entity_id", job.EntityID).
			Str("endpoint_id", job.EndpointID).
			Str("url", job.URL).
			Str("method", job.Method).
			Int("status_code", result.StatusCode).
			Int64("latency_ms", result.LatencyMs).
			Msg("callback sent")
		return
	}
	d.log.Warn().
		Str("entity_id", job.EntityID).
		Str("endpoint_id", job.EndpointID).
		Str("url", job.URL).
		Str("method", job.Method).
		Int("status_code", result.StatusCode).
		Int64("latency_ms", result.LatencyMs).
		Str("error", result.Error).
		Msg("callback failed")
}
