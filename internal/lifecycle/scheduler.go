package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hahimniane/alluvial-academy-sub002/internal/clock"
	"github.com/hahimniane/alluvial-academy-sub002/internal/conflict"
	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
	"github.com/hahimniane/alluvial-academy-sub002/internal/queue"
	"github.com/hahimniane/alluvial-academy-sub002/internal/reconcile"
	"github.com/hahimniane/alluvial-academy-sub002/internal/store"
	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

// startBuffer is the clamp target for tasks whose instant already passed:
// they fire shortly after now instead of being rejected.
const startBuffer = 2 * time.Second

// TaskID is the deterministic identity of one lifecycle task. The epoch is
// always the scheduled instant before any past-clamping, so retries after a
// clamp still collide with the original task.
func TaskID(occurrenceID string, phase domain.TaskPhase, epoch int64) string {
	return fmt.Sprintf("shift-%s-%s-%d", occurrenceID, phase, epoch)
}

// Ref describes one scheduled (or skipped) phase task.
type Ref struct {
	TaskID     string
	Phase      domain.TaskPhase
	ScheduleAt time.Time
	Skipped    bool
	SkipReason string
}

// Scheduler wires occurrences to the task queue and runs the handlers the
// queue dispatches back.
type Scheduler struct {
	queue  queue.Queue
	store  store.Store
	clock  clock.Clock
	engine *reconcile.Engine
	log    logx.Logger
}

func New(q queue.Queue, st store.Store, clk clock.Clock, engine *reconcile.Engine, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{queue: q, store: st, clock: clk, engine: engine, log: log}
}

// Schedule creates the start and end tasks for one occurrence. Creating a
// task that already exists is success; tasks beyond the queue's deferral
// limit are skipped with a reason, not errors.
func (s *Scheduler) Schedule(ctx context.Context, occ *domain.ShiftOccurrence) (start, end Ref, err error) {
	start, err = s.schedulePhase(ctx, occ, domain.PhaseStart, occ.StartInstant)
	if err != nil {
		return start, end, err
	}
	end, err = s.schedulePhase(ctx, occ, domain.PhaseEnd, occ.EndInstant)
	return start, end, err
}

func (s *Scheduler) schedulePhase(ctx context.Context, occ *domain.ShiftOccurrence, phase domain.TaskPhase, at time.Time) (Ref, error) {
	now := s.clock.Now()
	ref := Ref{
		TaskID:     TaskID(occ.ID, phase, at.Unix()),
		Phase:      phase,
		ScheduleAt: at,
	}
	if at.Sub(now) > queue.MaxDeferral {
		ref.Skipped = true
		ref.SkipReason = fmt.Sprintf("scheduled %s beyond the %s deferral limit", at.Format(time.RFC3339), queue.MaxDeferral)
		s.log.Info("lifecycle task skipped",
			logx.String("task", ref.TaskID),
			logx.String("reason", ref.SkipReason))
		return ref, nil
	}
	if at.Before(now) {
		ref.ScheduleAt = now.Add(startBuffer)
	}

	err := s.queue.CreateTask(ctx, queue.Task{
		ID:         ref.TaskID,
		ScheduleAt: ref.ScheduleAt,
		Payload: map[string]string{
			"shift_id": occ.ID,
			"phase":    string(phase),
		},
	})
	switch {
	case errors.Is(err, queue.ErrAlreadyExists):
		s.log.Debug("lifecycle task already queued", logx.String("task", ref.TaskID))
	case errors.Is(err, queue.ErrTooFarInFuture):
		ref.Skipped = true
		ref.SkipReason = err.Error()
	case err != nil:
		return ref, fmt.Errorf("create %s task for shift %s: %w", phase, occ.ID, err)
	}
	return ref, nil
}

// Reschedule moves an occurrence to a new window: it guards against new
// overlaps with the teacher's other shifts, deletes the old-identity tasks,
// writes the new window, and queues tasks at the new instants. Any conflict
// aborts the whole reschedule before the first mutation, reporting every
// overlap found.
func (s *Scheduler) Reschedule(ctx context.Context, occ *domain.ShiftOccurrence, newStart, newEnd time.Time) (start, end Ref, err error) {
	if !newEnd.After(newStart) {
		return start, end, fmt.Errorf("shift %s: new end is not after new start", occ.ID)
	}
	if err := s.guard(ctx, occ, newStart, newEnd); err != nil {
		return start, end, err
	}

	for _, old := range []struct {
		phase domain.TaskPhase
		at    time.Time
	}{
		{domain.PhaseStart, occ.StartInstant},
		{domain.PhaseEnd, occ.EndInstant},
	} {
		id := TaskID(occ.ID, old.phase, old.at.Unix())
		if err := s.queue.DeleteTask(ctx, id); err != nil && !errors.Is(err, queue.ErrNotFound) {
			return start, end, fmt.Errorf("delete task %s: %w", id, err)
		}
	}

	occ.StartInstant = newStart
	occ.EndInstant = newEnd
	occ.LastModified = s.clock.Now()
	err = s.store.BatchWrite(ctx, []store.Op{
		store.Put(domain.CollectionShifts, occ.ID, store.EncodeOccurrence(occ)),
	})
	if err != nil {
		return start, end, fmt.Errorf("store shift %s: %w", occ.ID, err)
	}
	return s.Schedule(ctx, occ)
}

// guard rejects a new window that overlaps any other non-terminal shift of
// the same teacher.
func (s *Scheduler) guard(ctx context.Context, occ *domain.ShiftOccurrence, newStart, newEnd time.Time) error {
	docs, err := s.store.Query(ctx, domain.CollectionShifts, store.Eq("teacher_id", occ.TeacherID))
	if err != nil {
		return fmt.Errorf("query teacher shifts: %w", err)
	}
	var others []*domain.ShiftOccurrence
	for _, doc := range docs {
		other, err := store.DecodeOccurrence(doc)
		if err != nil || other.ID == occ.ID || other.Status.Terminal() {
			continue
		}
		others = append(others, other)
	}
	clashes := conflict.Overlapping(newStart, newEnd, others)
	if len(clashes) == 0 {
		return nil
	}
	ids := make([]string, 0, len(clashes))
	for _, c := range clashes {
		ids = append(ids, c.ID)
	}
	return fmt.Errorf("%w: shift %s would overlap %s", conflict.ErrConflict, occ.ID, strings.Join(ids, ", "))
}

// HandleTask is the queue callback. The start phase flips a scheduled shift
// to active; the end phase settles the shift through the reconciliation
// engine. Unknown shifts are logged and dropped, not retried.
func (s *Scheduler) HandleTask(ctx context.Context, task queue.Task) {
	shiftID := task.Payload["shift_id"]
	phase := domain.TaskPhase(task.Payload["phase"])
	log := s.log.With(logx.String("task", task.ID), logx.String("shift", shiftID))

	switch phase {
	case domain.PhaseStart:
		if err := s.handleStart(ctx, shiftID); err != nil {
			log.Warn("start task failed", logx.Err(err))
			return
		}
		log.Info("shift started")
	case domain.PhaseEnd:
		if _, err := s.engine.ReconcileShift(ctx, shiftID, domain.Apply); err != nil {
			log.Warn("end task failed", logx.Err(err))
			return
		}
		log.Info("shift settled")
	default:
		log.Warn("unknown task phase", logx.String("phase", string(phase)))
	}
}

func (s *Scheduler) handleStart(ctx context.Context, shiftID string) error {
	doc, err := s.store.Get(ctx, domain.CollectionShifts, shiftID)
	if err != nil {
		return fmt.Errorf("load shift: %w", err)
	}
	occ, err := store.DecodeOccurrence(doc)
	if err != nil {
		return err
	}
	if occ.Status != domain.StatusScheduled {
		return nil
	}
	occ.Status = domain.StatusActive
	occ.LastModified = s.clock.Now()
	return s.store.BatchWrite(ctx, []store.Op{
		store.Put(domain.CollectionShifts, occ.ID, store.EncodeOccurrence(occ)),
	})
}
