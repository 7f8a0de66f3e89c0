// Package queue is the deferred-task collaborator used by the lifecycle
// scheduler. Error kinds are part of the contract: callers branch on
// AlreadyExists and NotFound instead of transport codes.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyExists signals a create with an id that is already
	// queued. Callers treat it as success, which is what makes task
	// creation idempotent.
	ErrAlreadyExists = errors.New("task already exists")

	// ErrNotFound signals a delete for a task that is already gone.
	ErrNotFound = errors.New("task not found")

	// ErrTooFarInFuture signals a schedule time beyond the queue's
	// deferral limit. Reported, never retried.
	ErrTooFarInFuture = errors.New("task scheduled too far in the future")

	// ErrClosed signals use after Close.
	ErrClosed = errors.New("queue closed")
)

// MaxDeferral is how far ahead a task may be scheduled.
const MaxDeferral = 30 * 24 * time.Hour

// Task is one deferred invocation. The id carries the identity; creating
// the same id twice fails with ErrAlreadyExists.
type Task struct {
	ID         string
	ScheduleAt time.Time
	Payload    map[string]string
}

// Handler receives a task when its schedule time arrives.
type Handler func(ctx context.Context, task Task)

// Queue schedules and cancels deferred tasks.
type Queue interface {
	CreateTask(ctx context.Context, task Task) error
	DeleteTask(ctx context.Context, id string) error
	Close() error
}
