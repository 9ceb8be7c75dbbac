// Package janitor runs periodic housekeeping: log retention and session expiry.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one periodic job. Run reports how many records it removed.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
}

type Janitor struct {
	tasks []Task
	log   zerolog.Logger
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func New(log zerolog.Logger, tasks ...Task) *Janitor {
	return &Janitor{tasks: tasks, log: log, stop: make(chan struct{})}
}

// Start launches one loop per task. Tasks with a non-positive interval are skipped.
func (j *Janitor) Start(ctx context.Context) {
	for _, t := range j.tasks {
		if t.Interval <= 0 || t.Run == nil {
			continue
		}
		j.wg.Add(1)
		go func() {
			defer j.wg.Done()
			j.loop(ctx, t)
		}()
	}
}

func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stop) })
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := t.Run(ctx)
			if err != nil {
				j.log.Error().Err(err).Str("task", t.Name).Msg("housekeeping failed")
				continue
			}
			if n > 0 {
				j.log.Info().Str("task", t.Name).Int64("removed", n).Msg("housekeeping done")
			}
		}
	}
}

// LogPruner deletes request logs older than a cutoff.
type LogPruner interface {
	DeleteRequestLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

// LogRetention builds the task that keeps request logs within ttl.
func LogRetention(store LogPruner, ttl, interval time.Duration) Task {
	return Task{
		Name:     "log_retention",
		Interval: interval,
		Run: func(ctx context.Context) (int64, error) {
			return store.DeleteRequestLogsBefore(ctx, time.Now().UTC().Add(-ttl))
		},
	}
}

// SessionCleaner drops expired sessions.
type SessionCleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

func SessionExpiry(sessions SessionCleaner, interval time.Duration) Task {
	return Task{
		Name:     "session_expiry",
		Interval: interval,
		Run: func(ctx context.Context) (int64, error) {
			n, err := sessions.Cleanup(ctx)
			return int64(n), err
		},
	}
}
