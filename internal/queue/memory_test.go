package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

func TestCreateTaskIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewMemory(func(context.Context, Task) {}, nil, logx.Nop())
	defer q.Close()

	task := Task{ID: "shift-s1-start-1000", ScheduleAt: time.Now().Add(time.Hour)}
	if err := q.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	err := q.CreateTask(ctx, task)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create error = %v, want ErrAlreadyExists", err)
	}
	if got := len(q.Pending()); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
}

func TestCreateTaskDeferralLimit(t *testing.T) {
	t.Parallel()
	q := NewMemory(func(context.Context, Task) {}, nil, logx.Nop())
	defer q.Close()

	err := q.CreateTask(context.Background(), Task{
		ID:         "far",
		ScheduleAt: time.Now().Add(MaxDeferral + time.Hour),
	})
	if !errors.Is(err, ErrTooFarInFuture) {
		t.Fatalf("error = %v, want ErrTooFarInFuture", err)
	}
}

func TestDeleteTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewMemory(func(context.Context, Task) {}, nil, logx.Nop())
	defer q.Close()

	if err := q.DeleteTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing error = %v, want ErrNotFound", err)
	}
	if err := q.CreateTask(ctx, Task{ID: "t1", ScheduleAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := q.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if got := len(q.Pending()); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}

func TestDispatch(t *testing.T) {
	t.Parallel()
	fired := make(chan Task, 1)
	q := NewMemory(func(_ context.Context, task Task) { fired <- task }, nil, logx.Nop())
	defer q.Close()

	task := Task{
		ID:         "soon",
		ScheduleAt: time.Now().Add(20 * time.Millisecond),
		Payload:    map[string]string{"shift_id": "s1", "phase": "start"},
	}
	if err := q.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	select {
	case got := <-fired:
		if got.Payload["shift_id"] != "s1" {
			t.Fatalf("payload = %v", got.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never dispatched")
	}
	if got := len(q.Pending()); got != 0 {
		t.Fatalf("pending after dispatch = %d, want 0", got)
	}
}

func TestPastTaskFiresImmediately(t *testing.T) {
	t.Parallel()
	fired := make(chan struct{}, 1)
	q := NewMemory(func(context.Context, Task) { fired <- struct{}{} }, nil, logx.Nop())
	defer q.Close()

	err := q.CreateTask(context.Background(), Task{ID: "late", ScheduleAt: time.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("past task never dispatched")
	}
}
