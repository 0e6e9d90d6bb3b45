// Package scheduler runs functions on a fixed interval behind an interface, so
// loops that would otherwise hang off wall-clock timers can be stepped by hand
// in tests.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Task is a handle to a repeating job.
type Task interface {
	// Stop prevents further runs. A run already in progress is not interrupted.
	// Stop is safe to call more than once.
	Stop()
	// Done is closed once the task is stopped or its context is done and no
	// run is in progress. Waiting on it from inside the task's own run blocks forever.
	Done() <-chan struct{}
}

// Scheduler starts repeating jobs.
type Scheduler interface {
	// Every runs fn each interval until the task is stopped or ctx is done.
	// The first run happens one interval after the call.
	Every(ctx context.Context, interval time.Duration, fn func(context.Context)) Task
}

// Ticker is the production Scheduler backed by time.Ticker. Runs of one task
// never overlap; ticks that arrive while fn is running are dropped.
type Ticker struct{}

// NewTicker returns the wall-clock scheduler.
func NewTicker() *Ticker { return &Ticker{} }

func (Ticker) Every(ctx context.Context, interval time.Duration, fn func(context.Context)) Task {
	t := &tickerTask{done: make(chan struct{}), exited: make(chan struct{})}
	go t.loop(ctx, interval, fn)
	return t
}

type tickerTask struct {
	once   sync.Once
	done   chan struct{}
	exited chan struct{}
}

func (t *tickerTask) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer close(t.exited)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			// Stop may have raced with the tick.
			select {
			case <-t.done:
				return
			default:
			}
			fn(ctx)
		}
	}
}

func (t *tickerTask) Stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *tickerTask) Done() <-chan struct{} { return t.exited }
