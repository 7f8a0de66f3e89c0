package expand

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hahimniane/alluvial-academy-sub002/internal/clock"
	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
	"github.com/hahimniane/alluvial-academy-sub002/internal/store"
	"github.com/hahimniane/alluvial-academy-sub002/internal/timeutil"
	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

func nyZone(t *testing.T) *time.Location {
	t.Helper()
	loc, err := timeutil.LoadZone("America/New_York")
	if err != nil {
		t.Fatalf("LoadZone: %v", err)
	}
	return loc
}

func weekendTemplate() *domain.ShiftTemplate {
	return &domain.ShiftTemplate{
		ID:            "tpl_weekend",
		TeacherID:     "teacher1",
		StudentIDs:    []string{"stu1"},
		StudentNames:  []string{"Student One"},
		Weekdays:      []domain.Weekday{domain.Saturday, domain.Sunday},
		StartTime:     "09:00",
		EndTime:       "10:00",
		AdminTimezone: "America/New_York",
		HorizonDays:   14,
		HourlyRate:    4,
		Active:        true,
	}
}

func TestExpandWeekendScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ny := nyZone(t)

	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, ny) // Friday noon
	clk := clock.NewFake(now)
	st := store.NewMemory()
	e := New(st, clk, logx.Nop())

	tpl := weekendTemplate()
	res, err := e.Expand(ctx, tpl, now, now.AddDate(0, 0, tpl.HorizonDays), domain.Apply)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if res.Created != 4 {
		t.Fatalf("created = %d, want 4", res.Created)
	}

	wantDates := []string{"2026-01-03", "2026-01-04", "2026-01-10", "2026-01-11"}
	for i, occ := range res.Occurrences {
		local := occ.StartInstant.In(ny)
		if got := local.Format("2006-01-02"); got != wantDates[i] {
			t.Fatalf("occurrence %d date = %s, want %s", i, got, wantDates[i])
		}
		if got := local.Format("15:04"); got != "09:00" {
			t.Fatalf("occurrence %d wall clock = %s, want 09:00", i, got)
		}
		if occ.ScheduledMinutes() != 60 {
			t.Fatalf("occurrence %d duration = %d min", i, occ.ScheduledMinutes())
		}
		if !occ.StartInstant.After(now) {
			t.Fatalf("occurrence %d not in the future: %v", i, occ.StartInstant)
		}
	}

	docs, err := st.Query(ctx, domain.CollectionShifts)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 4 {
		t.Fatalf("stored %d occurrences, want 4", len(docs))
	}

	// Template stamped with the generation date.
	tplDoc, err := st.Get(ctx, domain.CollectionTemplates, tpl.ID)
	if err != nil {
		t.Fatalf("Get template: %v", err)
	}
	stamped, err := store.DecodeTemplate(tplDoc)
	if err != nil {
		t.Fatalf("DecodeTemplate: %v", err)
	}
	if stamped.LastGeneratedDate != "2026-01-02" {
		t.Fatalf("last generated = %s", stamped.LastGeneratedDate)
	}
}

func TestExpandIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ny := nyZone(t)
	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, ny)
	clk := clock.NewFake(now)
	st := store.NewMemory()
	e := New(st, clk, logx.Nop())

	tpl := weekendTemplate()
	first, err := e.Expand(ctx, tpl, now, now.AddDate(0, 0, 14), domain.Apply)
	if err != nil {
		t.Fatalf("first Expand: %v", err)
	}
	second, err := e.Expand(ctx, tpl, now, now.AddDate(0, 0, 14), domain.Apply)
	if err != nil {
		t.Fatalf("second Expand: %v", err)
	}
	if second.Created != 0 {
		t.Fatalf("second pass created %d, want 0", second.Created)
	}
	if second.SkippedExisting != first.Created {
		t.Fatalf("second pass skipped %d existing, want %d", second.SkippedExisting, first.Created)
	}
	docs, _ := st.Query(ctx, domain.CollectionShifts)
	if len(docs) != first.Created {
		t.Fatalf("store holds %d occurrences, want %d", len(docs), first.Created)
	}
}

func TestExpandDryRunWritesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ny := nyZone(t)
	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, ny)
	st := store.NewMemory()
	e := New(st, clock.NewFake(now), logx.Nop())

	res, err := e.Expand(ctx, weekendTemplate(), now, now.AddDate(0, 0, 14), domain.DryRun)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if res.Created != 4 {
		t.Fatalf("created = %d, want 4", res.Created)
	}
	docs, _ := st.Query(ctx, domain.CollectionShifts)
	if len(docs) != 0 {
		t.Fatalf("dry run wrote %d documents", len(docs))
	}
}

func TestExpandAcrossDST(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ny := nyZone(t)

	tpl := weekendTemplate()
	tpl.Weekdays = []domain.Weekday{domain.Sunday}
	tpl.StartTime = "02:30"
	tpl.EndTime = "03:30"

	// Spring forward: 2026-03-08 has no 02:30 local; expansion must still
	// produce an instant on that Sunday instead of failing.
	now := time.Date(2026, time.March, 6, 12, 0, 0, 0, ny)
	e := New(store.NewMemory(), clock.NewFake(now), logx.Nop())
	res, err := e.Expand(ctx, tpl, now, now.AddDate(0, 0, 7), domain.DryRun)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(res.Occurrences) == 0 {
		t.Fatal("no occurrences across spring-forward boundary")
	}
	first := res.Occurrences[0].StartInstant.In(ny)
	if first.Format("2006-01-02") != "2026-03-08" {
		t.Fatalf("occurrence date = %s, want 2026-03-08", first.Format("2006-01-02"))
	}

	// Fall back: 2026-11-01 has a real 02:30; wall clock must hold exactly.
	now = time.Date(2026, time.October, 30, 12, 0, 0, 0, ny)
	res, err = e.Expand(ctx, tpl, now, now.AddDate(0, 0, 7), domain.DryRun)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(res.Occurrences) == 0 {
		t.Fatal("no occurrences across fall-back boundary")
	}
	local := res.Occurrences[0].StartInstant.In(ny)
	if local.Format("2006-01-02 15:04") != "2026-11-01 02:30" {
		t.Fatalf("local start = %s, want 2026-11-01 02:30", local.Format("2006-01-02 15:04"))
	}
}

func TestExpandConfigurationErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ny := nyZone(t)
	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, ny)
	e := New(store.NewMemory(), clock.NewFake(now), logx.Nop())

	tests := []struct {
		name   string
		mutate func(*domain.ShiftTemplate)
	}{
		{name: "no weekdays", mutate: func(t *domain.ShiftTemplate) { t.Weekdays = nil }},
		{name: "no start time", mutate: func(t *domain.ShiftTemplate) { t.StartTime = "" }},
		{name: "bad start time", mutate: func(t *domain.ShiftTemplate) { t.StartTime = "25:00" }},
		{name: "no end no duration", mutate: func(t *domain.ShiftTemplate) {
			t.EndTime = ""
			t.DurationMinutes = 0
		}},
		{name: "bad timezone", mutate: func(t *domain.ShiftTemplate) { t.AdminTimezone = "Nowhere/Null" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tpl := weekendTemplate()
			tt.mutate(tpl)
			_, err := e.Expand(ctx, tpl, now, now.AddDate(0, 0, 14), domain.DryRun)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestExpandOvernightWarning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ny := nyZone(t)
	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, ny)
	e := New(store.NewMemory(), clock.NewFake(now), logx.Nop())

	tpl := weekendTemplate()
	tpl.StartTime = "23:00"
	tpl.EndTime = "01:00"
	res, err := e.Expand(ctx, tpl, now, now.AddDate(0, 0, 7), domain.DryRun)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected an overnight warning")
	}
	if len(res.Occurrences) == 0 {
		t.Fatal("expected occurrences")
	}
	if got := res.Occurrences[0].ScheduledMinutes(); got != 120 {
		t.Fatalf("overnight duration = %d min, want 120", got)
	}
}

func TestExpandSkipRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ny := nyZone(t)
	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, ny)
	e := New(store.NewMemory(), clock.NewFake(now), logx.Nop())

	base := time.Date(2026, time.January, 9, 0, 0, 0, 0, ny)
	end := time.Date(2026, time.January, 10, 0, 0, 0, 0, ny)
	tpl := weekendTemplate()
	tpl.BaseDate = &base
	tpl.EndDate = &end

	res, err := e.Expand(ctx, tpl, now, now.AddDate(0, 0, 14), domain.DryRun)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	// Only Sat 01-10 falls between base (01-09) and end (01-10).
	if res.Created != 1 {
		t.Fatalf("created = %d, want 1", res.Created)
	}
	if res.SkippedBase == 0 || res.SkippedEnd == 0 {
		t.Fatalf("skip counters = base %d end %d", res.SkippedBase, res.SkippedEnd)
	}

	// Excluding Saturdays drops the remaining occurrence.
	tpl.ExcludedWeekdays = []domain.Weekday{domain.Saturday}
	res, err = e.Expand(ctx, tpl, now, now.AddDate(0, 0, 14), domain.DryRun)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if res.Created != 0 {
		t.Fatalf("created = %d, want 0 with Saturday excluded", res.Created)
	}

	// Excluded dates skip individual days.
	tpl2 := weekendTemplate()
	skip := time.Date(2026, time.January, 4, 0, 0, 0, 0, ny)
	tpl2.ExcludedDates = []time.Time{skip}
	res, err = e.Expand(ctx, tpl2, now, now.AddDate(0, 0, 14), domain.DryRun)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if res.Created != 3 || res.SkippedExcluded != 1 {
		t.Fatalf("created = %d excluded = %d, want 3/1", res.Created, res.SkippedExcluded)
	}
}
