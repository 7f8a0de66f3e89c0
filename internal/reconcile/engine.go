package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hahimniane/alluvial-academy-sub002/internal/clock"
	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
	"github.com/hahimniane/alluvial-academy-sub002/internal/store"
	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

const writeChunk = 450

// Report aggregates one sweep. Per-record problems are counted and logged;
// only store failures abort the sweep.
type Report struct {
	Mode domain.Mode

	ScannedShifts  int
	Activated      int
	FullyCompleted int
	PartiallyDone  int
	Missed         int
	AutoClockOuts  int

	ScannedEntries    int
	CorrectedEntries  int
	CorrectedApproved int
	Orphans           int
	DeletedOrphans    int
	SkippedNoRate     int
	SkippedNoWindow   int
	Errors            int
}

// Engine drives reconciliation over the store.
type Engine struct {
	store store.Store
	clock clock.Clock
	log   logx.Logger
}

func New(st store.Store, clk clock.Clock, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{store: st, clock: clk, log: log}
}

// ReconcileShift settles one shift by id: flips scheduled→active while a
// clock-in is open inside the window, settles once the scheduled end has
// passed, and upserts the timesheet entry for worked shifts. Terminal
// shifts, cancelled ones included, are never rewritten.
func (e *Engine) ReconcileShift(ctx context.Context, shiftID string, mode domain.Mode) (*Outcome, error) {
	doc, err := e.store.Get(ctx, domain.CollectionShifts, shiftID)
	if err != nil {
		return nil, fmt.Errorf("load shift %s: %w", shiftID, err)
	}
	occ, err := store.DecodeOccurrence(doc)
	if err != nil {
		return nil, err
	}
	ops, outcome, err := e.shiftOps(ctx, occ)
	if err != nil {
		return nil, err
	}
	if mode == domain.Apply && len(ops) > 0 {
		if err := e.store.BatchWrite(ctx, ops); err != nil {
			return nil, fmt.Errorf("settle shift %s: %w", shiftID, err)
		}
	}
	return outcome, nil
}

// shiftOps computes the writes settling one shift. A nil outcome means the
// shift is not ready to settle (still running or already terminal).
func (e *Engine) shiftOps(ctx context.Context, occ *domain.ShiftOccurrence) ([]store.Op, *Outcome, error) {
	if occ.Status.Terminal() {
		return nil, nil, nil
	}
	now := e.clock.Now()

	if now.Before(occ.EndInstant) {
		// Mid-shift: only the scheduled→active flip applies.
		if occ.Status == domain.StatusScheduled && occ.ClockIn != nil {
			occ.Status = domain.StatusActive
			occ.LastModified = now
			return []store.Op{store.Put(domain.CollectionShifts, occ.ID, store.EncodeOccurrence(occ))}, nil, nil
		}
		return nil, nil, nil
	}

	outcome, err := Settle(occ)
	if err != nil {
		return nil, nil, err
	}
	occ.Status = outcome.Status
	occ.WorkedMinutes = outcome.BillableMinutes
	occ.ClockOut = outcome.ClockOut
	occ.AutoClockOut = outcome.AutoClockOut
	if outcome.Status == domain.StatusMissed {
		occ.MissedReason = "no clock-in before scheduled end"
	}
	occ.LastModified = now
	ops := []store.Op{store.Put(domain.CollectionShifts, occ.ID, store.EncodeOccurrence(occ))}

	if occ.ClockIn != nil {
		entryOps, err := e.entryOps(ctx, occ, outcome, now)
		if err != nil {
			return nil, nil, err
		}
		ops = append(ops, entryOps...)
	}
	return ops, &outcome, nil
}

// entryOps upserts the timesheet entry for a settled shift. The generated
// id is derived from the shift id so re-settling never duplicates entries;
// entries created by the client app are found by their shift reference.
func (e *Engine) entryOps(ctx context.Context, occ *domain.ShiftOccurrence, out Outcome, now time.Time) ([]store.Op, error) {
	existing, err := e.store.Query(ctx, domain.CollectionTimesheets, store.Eq("shift_id", occ.ID))
	if err != nil {
		return nil, fmt.Errorf("query entries for shift %s: %w", occ.ID, err)
	}

	entry := &domain.TimesheetEntry{
		ID:           "ts_" + occ.ID,
		OccurrenceID: occ.ID,
		TeacherID:    occ.TeacherID,
		Status:       domain.EntryPending,
		CreatedAt:    now,
	}
	if len(existing) > 0 {
		entry, err = store.DecodeEntry(existing[0])
		if err != nil {
			return nil, err
		}
	}
	entry.HourlyRate = occ.HourlyRate
	entry.ClockIn = occ.ClockIn
	entry.ClockOut = out.ClockOut
	entry.BillableMinutes = out.BillableMinutes
	entry.PaymentAmount = out.PaymentAmount
	entry.CompletionMethod = "manual"
	if out.AutoClockOut {
		entry.CompletionMethod = "auto"
	}
	entry.LastModified = now
	return []store.Op{store.Put(domain.CollectionTimesheets, entry.ID, store.EncodeEntry(entry))}, nil
}

// Sweep settles every shift whose scheduled end has passed, then validates
// all timesheet entries against their shifts, correcting pay that drifted.
// Orphaned entries are deleted only when deleteOrphans is set.
func (e *Engine) Sweep(ctx context.Context, mode domain.Mode, deleteOrphans bool) (*Report, error) {
	rep := &Report{Mode: mode}
	now := e.clock.Now()

	var batch []store.Op
	flush := func() error {
		if len(batch) == 0 || mode != domain.Apply {
			batch = nil
			return nil
		}
		if err := e.store.BatchWrite(ctx, batch); err != nil {
			return fmt.Errorf("apply reconciliation: %w", err)
		}
		batch = nil
		return nil
	}
	push := func(ops []store.Op) error {
		if len(batch)+len(ops) > writeChunk {
			if err := flush(); err != nil {
				return err
			}
		}
		batch = append(batch, ops...)
		return nil
	}

	// Pass 1: settle finished shifts, activate running ones.
	docs, err := e.store.Query(ctx, domain.CollectionShifts, store.Lt("shift_start", now))
	if err != nil {
		return nil, fmt.Errorf("query shifts: %w", err)
	}
	for _, doc := range docs {
		occ, err := store.DecodeOccurrence(doc)
		if err != nil {
			rep.Errors++
			e.log.Warn("skipping undecodable shift", logx.Err(err))
			continue
		}
		if occ.Status.Terminal() {
			continue
		}
		rep.ScannedShifts++
		ops, outcome, err := e.shiftOps(ctx, occ)
		if err != nil {
			if errors.Is(err, ErrInvariant) {
				return nil, err
			}
			rep.Errors++
			e.log.Warn("shift settlement failed", logx.String("shift", occ.ID), logx.Err(err))
			continue
		}
		if err := push(ops); err != nil {
			return nil, err
		}
		switch {
		case outcome == nil && len(ops) > 0:
			rep.Activated++
		case outcome == nil:
		case outcome.Status == domain.StatusFullyCompleted:
			rep.FullyCompleted++
		case outcome.Status == domain.StatusPartiallyCompleted:
			rep.PartiallyDone++
		case outcome.Status == domain.StatusMissed:
			rep.Missed++
		}
		if outcome != nil && outcome.AutoClockOut {
			rep.AutoClockOuts++
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	// Pass 2: validate every entry against its shift.
	entries, err := e.store.Query(ctx, domain.CollectionTimesheets)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	for _, doc := range entries {
		entry, err := store.DecodeEntry(doc)
		if err != nil {
			rep.Errors++
			e.log.Warn("skipping undecodable entry", logx.Err(err))
			continue
		}
		rep.ScannedEntries++
		ops, err := e.validateEntry(ctx, entry, rep, deleteOrphans, now)
		if err != nil {
			rep.Errors++
			e.log.Warn("entry validation failed", logx.String("entry", entry.ID), logx.Err(err))
			continue
		}
		if err := push(ops); err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	e.log.Info("reconcile sweep complete",
		logx.String("mode", mode.String()),
		logx.Int("shifts", rep.ScannedShifts),
		logx.Int("completed", rep.FullyCompleted),
		logx.Int("partial", rep.PartiallyDone),
		logx.Int("missed", rep.Missed),
		logx.Int("entries", rep.ScannedEntries),
		logx.Int("corrected", rep.CorrectedEntries),
		logx.Int("orphans", rep.Orphans))
	return rep, nil
}

// validateEntry recomputes billing for one entry from its shift's scheduled
// window and corrects any drift, regardless of approval status. Approved
// entries that needed correction are stamped with CorrectedAt so the drift
// is auditable.
func (e *Engine) validateEntry(ctx context.Context, entry *domain.TimesheetEntry, rep *Report, deleteOrphans bool, now time.Time) ([]store.Op, error) {
	occDoc, err := e.store.Get(ctx, domain.CollectionShifts, entry.OccurrenceID)
	if errors.Is(err, store.ErrNotFound) {
		rep.Orphans++
		if deleteOrphans {
			rep.DeletedOrphans++
			return []store.Op{store.Delete(domain.CollectionTimesheets, entry.ID)}, nil
		}
		e.log.Warn("orphaned entry", logx.String("entry", entry.ID),
			logx.String("shift", entry.OccurrenceID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	occ, err := store.DecodeOccurrence(occDoc)
	if err != nil {
		return nil, err
	}
	if occ.HourlyRate <= 0 {
		rep.SkippedNoRate++
		e.log.Warn("entry skipped: non-positive hourly rate",
			logx.String("entry", entry.ID), logx.Float64("rate", occ.HourlyRate))
		return nil, nil
	}
	if occ.StartInstant.IsZero() || occ.EndInstant.IsZero() {
		rep.SkippedNoWindow++
		return nil, nil
	}

	check := *occ
	check.ClockIn = entry.ClockIn
	check.ClockOut = entry.ClockOut
	out, err := Settle(&check)
	if err != nil {
		return nil, err
	}

	if entry.BillableMinutes == out.BillableMinutes &&
		entry.HourlyRate == occ.HourlyRate &&
		moneyEqual(entry.PaymentAmount, out.PaymentAmount) {
		return nil, nil
	}

	wasApproved := entry.Status == domain.EntryApproved
	entry.HourlyRate = occ.HourlyRate
	entry.BillableMinutes = out.BillableMinutes
	entry.PaymentAmount = out.PaymentAmount
	entry.LastModified = now
	rep.CorrectedEntries++
	if wasApproved {
		entry.CorrectedAt = &now
		rep.CorrectedApproved++
		e.log.Warn("corrected approved entry",
			logx.String("entry", entry.ID),
			logx.Float64("payment", out.PaymentAmount))
	}
	return []store.Op{store.Put(domain.CollectionTimesheets, entry.ID, store.EncodeEntry(entry))}, nil
}

func moneyEqual(a, b float64) bool { return math.Abs(a-b) < 0.005 }
