package scheduler

import (
	"context"
	"sync"
	"time"
)

// Manual is a Scheduler driven by explicit Tick calls. Tests use it to run loops
// one cycle at a time.
type Manual struct {
	mu      sync.Mutex
	tasks   []*manualTask
	started int
}

// NewManual returns an empty manual scheduler.
func NewManual() *Manual { return &Manual{} }

type manualTask struct {
	mu       sync.Mutex
	ctx      context.Context
	interval time.Duration
	fn       func(context.Context)
	stopped  bool
	done     chan struct{}
}

func (t *manualTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		close(t.done)
	}
}

// Done is closed by Stop or when the task's context ends. Runs happen inside
// Tick, so none is in progress once Tick returns.
func (t *manualTask) Done() <-chan struct{} { return t.done }

func (t *manualTask) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && t.ctx.Err() == nil
}

func (m *Manual) Every(ctx context.Context, interval time.Duration, fn func(context.Context)) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTask{ctx: ctx, interval: interval, fn: fn, done: make(chan struct{})}
	context.AfterFunc(ctx, t.Stop)
	m.tasks = append(m.tasks, t)
	m.started++
	return t
}

// Tick runs every active task once, synchronously, in registration order.
// It returns the number of tasks run.
func (m *Manual) Tick() int {
	m.mu.Lock()
	tasks := append([]*manualTask(nil), m.tasks...)
	m.mu.Unlock()

	ran := 0
	for _, t := range tasks {
		if !t.active() {
			continue
		}
		t.fn(t.ctx)
		ran++
	}
	return ran
}

// Active returns the number of tasks that have not been stopped.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.active() {
			n++
		}
	}
	return n
}

// Started returns how many tasks were ever scheduled.
func (m *Manual) Started() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Intervals returns the interval of each active task.
func (m *Manual) Intervals() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Duration
	for _, t := range m.tasks {
		if t.active() {
			out = append(out, t.interval)
		}
	}
	return out
}
