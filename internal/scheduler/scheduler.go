package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is a handle to a pending delayed or periodic job.
type Task interface {
	// Stop cancels the task. It reports whether the task was still active.
	Stop() bool
}

// Scheduler hands out cancellable delayed and periodic tasks and owns the
// clock that the engine reads. Every timer in the engine goes through it.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Task
	Every(interval time.Duration, fn func()) Task
}

// Real schedules work on runtime timers.
type Real struct {
	logger zerolog.Logger
}

// New constructs a Real scheduler.
func New(logger zerolog.Logger) *Real {
	return &Real{logger: logger.With().Str("component", "scheduler").Logger()}
}

// Now returns the wall clock in UTC.
func (r *Real) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc runs fn once after d on its own goroutine.
func (r *Real) AfterFunc(d time.Duration, fn func()) Task {
	return &timerTask{timer: time.AfterFunc(d, r.guard(fn))}
}

// Every runs fn each interval until the task is stopped.
func (r *Real) Every(interval time.Duration, fn func()) Task {
	if interval <= 0 {
		panic("scheduler interval must be positive")
	}

	task := &tickerTask{done: make(chan struct{})}
	ticker := time.NewTicker(interval)
	run := r.guard(fn)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-task.done:
				return
			case <-ticker.C:
				run()
			}
		}
	}()

	return task
}

func (r *Real) guard(fn func()) func() {
	return func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().Interface("panic", rec).Msg("scheduled task panicked")
			}
		}()
		fn()
	}
}

type timerTask struct {
	timer *time.Timer
}

func (t *timerTask) Stop() bool {
	return t.timer.Stop()
}

type tickerTask struct {
	once sync.Once
	done chan struct{}
}

func (t *tickerTask) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.done)
		stopped = true
	})
	return stopped
}

var _ Scheduler = (*Real)(nil)
