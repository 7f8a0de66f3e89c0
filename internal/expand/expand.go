package expand

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hahimniane/alluvial-academy-sub002/internal/clock"
	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
	"github.com/hahimniane/alluvial-academy-sub002/internal/store"
	"github.com/hahimniane/alluvial-academy-sub002/internal/timeutil"
	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

// ErrConfiguration marks a template that cannot be expanded as-is. It is not
// retryable; an operator has to fix the template.
var ErrConfiguration = errors.New("template configuration error")

// writeChunk caps the number of ops per BatchWrite call.
const writeChunk = 450

// Result reports one expansion pass over one template.
type Result struct {
	TemplateID string
	Mode       domain.Mode

	Created         int
	SkippedExisting int
	SkippedPast     int
	SkippedBase     int
	SkippedEnd      int
	SkippedExcluded int
	SkippedNoMatch  int

	Warnings    []string
	Occurrences []*domain.ShiftOccurrence // the newly created ones
}

type Expander struct {
	store store.Store
	clock clock.Clock
	log   logx.Logger
}

func New(st store.Store, clk clock.Clock, log logx.Logger) *Expander {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Expander{store: st, clock: clk, log: log}
}

// OccurrenceID derives the deterministic id for a template slot. Using the
// start epoch keeps re-expansion idempotent: the same slot always maps to
// the same document.
func OccurrenceID(templateID string, start time.Time) string {
	return fmt.Sprintf("tpl_%s_%d", templateID, start.Unix())
}

// Expand materializes occurrences for the template between windowStart and
// windowEnd (inclusive, calendar days in the admin timezone). In DryRun mode
// the result is computed and reported with zero writes.
func (e *Expander) Expand(ctx context.Context, tpl *domain.ShiftTemplate, windowStart, windowEnd time.Time, mode domain.Mode) (*Result, error) {
	res := &Result{TemplateID: tpl.ID, Mode: mode}

	window, warn, err := templateWindow(tpl)
	if err != nil {
		return nil, err
	}
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
		e.log.Warn("template end precedes start, treating as overnight",
			logx.String("template_id", tpl.ID),
			logx.String("start", tpl.StartTime),
			logx.String("end", tpl.EndTime))
	}

	loc, err := timeutil.LoadZone(tpl.AdminTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: template %s: %v", ErrConfiguration, tpl.ID, err)
	}

	existing, err := e.existingStarts(ctx, tpl.ID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	selected := weekdaySet(tpl.Weekdays, tpl.ExcludedWeekdays)
	excludedDates := dateKeySet(tpl.ExcludedDates, loc)

	var baseDay, endDay time.Time
	if tpl.BaseDate != nil {
		baseDay = timeutil.StartOfDay(*tpl.BaseDate, loc)
	}
	if tpl.EndDate != nil {
		endDay = timeutil.StartOfDay(*tpl.EndDate, loc)
	}

	day := timeutil.StartOfDay(windowStart, loc)
	last := timeutil.StartOfDay(windowEnd, loc)

	for !day.After(last) {
		cur := day
		day = nextDay(cur, loc)

		if !baseDay.IsZero() && cur.Before(baseDay) {
			res.SkippedBase++
			continue
		}
		if !endDay.IsZero() && cur.After(endDay) {
			res.SkippedEnd++
			continue
		}
		if !selected[timeutil.WeekdayInZone(cur, loc)] {
			res.SkippedNoMatch++
			continue
		}
		if excludedDates[timeutil.DateKey(cur, loc)] {
			res.SkippedExcluded++
			continue
		}

		start, err := timeutil.WallClockToInstant(cur.Year(), cur.Month(), cur.Day(), tpl.StartTime, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: template %s: %v", ErrConfiguration, tpl.ID, err)
		}
		end := start.Add(window)

		if !start.After(now) {
			res.SkippedPast++
			continue
		}
		if existing[start.Unix()] {
			res.SkippedExisting++
			continue
		}

		occ := &domain.ShiftOccurrence{
			ID:                    OccurrenceID(tpl.ID, start),
			TemplateID:            tpl.ID,
			TeacherID:             tpl.TeacherID,
			TeacherName:           tpl.TeacherName,
			StudentIDs:            append([]string(nil), tpl.StudentIDs...),
			StudentNames:          append([]string(nil), tpl.StudentNames...),
			StartInstant:          start,
			EndInstant:            end,
			AdminTimezone:         tpl.AdminTimezone,
			HourlyRate:            tpl.HourlyRate,
			Subject:               tpl.Subject,
			Status:                domain.StatusScheduled,
			GeneratedFromTemplate: true,
			CreatedAt:             now,
			LastModified:          now,
		}
		res.Occurrences = append(res.Occurrences, occ)
		res.Created++
	}

	if mode == domain.Apply {
		if err := e.write(ctx, tpl, res.Occurrences, now, loc); err != nil {
			return nil, err
		}
	}

	e.log.Info("template expanded",
		logx.String("template_id", tpl.ID),
		logx.String("mode", mode.String()),
		logx.Int("created", res.Created),
		logx.Int("skipped_existing", res.SkippedExisting),
		logx.Int("skipped_past", res.SkippedPast))
	return res, nil
}

// templateWindow validates the template's wall-clock fields and returns the
// session length. A non-positive end-start difference is resolved by
// crossing midnight and reported as a warning, since it may equally be a
// swapped start/end.
func templateWindow(tpl *domain.ShiftTemplate) (time.Duration, string, error) {
	if tpl.Active && len(tpl.Weekdays) == 0 {
		return 0, "", fmt.Errorf("%w: template %s has no weekdays", ErrConfiguration, tpl.ID)
	}
	if tpl.StartTime == "" {
		return 0, "", fmt.Errorf("%w: template %s has no start time", ErrConfiguration, tpl.ID)
	}
	startMin, err := timeutil.MinutesOfDay(tpl.StartTime)
	if err != nil {
		return 0, "", fmt.Errorf("%w: template %s: %v", ErrConfiguration, tpl.ID, err)
	}

	if tpl.EndTime == "" {
		if tpl.DurationMinutes <= 0 {
			return 0, "", fmt.Errorf("%w: template %s has neither end time nor duration", ErrConfiguration, tpl.ID)
		}
		return time.Duration(tpl.DurationMinutes) * time.Minute, "", nil
	}

	endMin, err := timeutil.MinutesOfDay(tpl.EndTime)
	if err != nil {
		return 0, "", fmt.Errorf("%w: template %s: %v", ErrConfiguration, tpl.ID, err)
	}
	warn := ""
	if endMin <= startMin {
		endMin += 24 * 60
		warn = fmt.Sprintf("end %s <= start %s: treated as overnight (+24h)", tpl.EndTime, tpl.StartTime)
	}
	return time.Duration(endMin-startMin) * time.Minute, warn, nil
}

func (e *Expander) existingStarts(ctx context.Context, templateID string) (map[int64]bool, error) {
	docs, err := e.store.Query(ctx, domain.CollectionShifts, store.Eq("template_id", templateID))
	if err != nil {
		return nil, fmt.Errorf("query existing occurrences: %w", err)
	}
	out := make(map[int64]bool, len(docs))
	for _, doc := range docs {
		occ, err := store.DecodeOccurrence(doc)
		if err != nil {
			return nil, err
		}
		out[occ.StartInstant.Unix()] = true
	}
	return out, nil
}

func (e *Expander) write(ctx context.Context, tpl *domain.ShiftTemplate, occs []*domain.ShiftOccurrence, now time.Time, loc *time.Location) error {
	ops := make([]store.Op, 0, len(occs)+1)
	for _, occ := range occs {
		ops = append(ops, store.Put(domain.CollectionShifts, occ.ID, store.EncodeOccurrence(occ)))
	}

	// Stamp the template so operators can see when it last generated.
	stamped := *tpl
	stamped.LastGeneratedDate = timeutil.DateKey(now, loc)
	stamped.LastModified = now
	ops = append(ops, store.Put(domain.CollectionTemplates, tpl.ID, store.EncodeTemplate(&stamped)))

	for len(ops) > 0 {
		n := min(len(ops), writeChunk)
		if err := e.store.BatchWrite(ctx, ops[:n]); err != nil {
			return fmt.Errorf("write occurrences: %w", err)
		}
		ops = ops[n:]
	}
	return nil
}

// nextDay advances one calendar day in the zone (not 24h, which drifts
// across DST transitions).
func nextDay(day time.Time, loc *time.Location) time.Time {
	t := day.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
}

func weekdaySet(selected, excluded []domain.Weekday) map[domain.Weekday]bool {
	out := make(map[domain.Weekday]bool, len(selected))
	for _, w := range selected {
		out[w] = true
	}
	for _, w := range excluded {
		delete(out, w)
	}
	return out
}

func dateKeySet(dates []time.Time, loc *time.Location) map[string]bool {
	if len(dates) == 0 {
		return nil
	}
	out := make(map[string]bool, len(dates))
	for _, d := range dates {
		out[timeutil.DateKey(d, loc)] = true
	}
	return out
}
