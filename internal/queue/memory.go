package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hahimniane/alluvial-academy-sub002/internal/clock"
	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

// Memory dispatches tasks from in-process one-shot timers. It is the only
// queue driver; a hosted queue would sit behind the same interface.
type Memory struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]Task
	closed  bool

	handler Handler
	limiter *rate.Limiter
	clock   clock.Clock
	log     logx.Logger
}

// NewMemory builds a queue dispatching to handler. Creates are rate-limited
// so a bulk reschedule cannot flood the dispatcher.
func NewMemory(handler Handler, clk clock.Clock, log logx.Logger) *Memory {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Memory{
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]Task),
		handler: handler,
		limiter: rate.NewLimiter(rate.Limit(100), 100),
		clock:   clk,
		log:     log,
	}
}

func (m *Memory) CreateTask(ctx context.Context, task Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id is empty")
	}
	now := m.clock.Now()
	if task.ScheduleAt.Sub(now) > MaxDeferral {
		return fmt.Errorf("%w: %s at %s", ErrTooFarInFuture, task.ID, task.ScheduleAt.Format(time.RFC3339))
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.timers[task.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, task.ID)
	}

	delay := task.ScheduleAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	id := task.ID
	m.pending[id] = task
	m.timers[id] = time.AfterFunc(delay, func() { m.fire(id) })
	m.log.Debug("task queued",
		logx.String("task", id),
		logx.Duration("delay", delay))
	return nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	timer, ok := m.timers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	timer.Stop()
	delete(m.timers, id)
	delete(m.pending, id)
	m.log.Debug("task deleted", logx.String("task", id))
	return nil
}

// Close stops every pending timer. Already-fired handlers finish on their
// own goroutines.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
		delete(m.pending, id)
	}
	return nil
}

func (m *Memory) fire(id string) {
	m.mu.Lock()
	task, ok := m.pending[id]
	delete(m.timers, id)
	delete(m.pending, id)
	closed := m.closed
	m.mu.Unlock()
	if !ok || closed {
		return
	}
	m.log.Debug("task firing", logx.String("task", id))
	m.handler(context.Background(), task)
}

// Pending reports the queued task ids, for tests and status output.
func (m *Memory) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pending))
	for id := range m.pending {
		out = append(out, id)
	}
	return out
}
