package conflict

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hahimniane/alluvial-academy-sub002/internal/clock"
	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
	"github.com/hahimniane/alluvial-academy-sub002/internal/store"
	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

func TestOverlaps(t *testing.T) {
	t.Parallel()
	at := func(h int) time.Time { return time.Date(2026, 1, 3, h, 0, 0, 0, time.UTC) }
	tests := []struct {
		name                   string
		aS, aE, bS, bE         time.Time
		want                   bool
	}{
		{"disjoint", at(9), at(10), at(11), at(12), false},
		{"adjacent", at(9), at(10), at(10), at(11), false},
		{"partial", at(9), at(10), at(9).Add(30 * time.Minute), at(11), true},
		{"contained", at(9), at(12), at(10), at(11), true},
		{"identical", at(9), at(10), at(9), at(10), true},
		{"zero length", at(9), at(9), at(8), at(12), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.aS, tt.aE, tt.bS, tt.bE); got != tt.want {
				t.Fatalf("Overlaps = %v, want %v", got, tt.want)
			}
			if got := Overlaps(tt.bS, tt.bE, tt.aS, tt.aE); got != tt.want {
				t.Fatalf("Overlaps not symmetric: reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func occAt(id string, students []string, start time.Time, minutes int) *domain.ShiftOccurrence {
	return &domain.ShiftOccurrence{
		ID:            id,
		TeacherID:     "teacher1",
		StudentIDs:    students,
		StartInstant:  start,
		EndInstant:    start.Add(time.Duration(minutes) * time.Minute),
		AdminTimezone: "America/New_York",
		HourlyRate:    4,
		Status:        domain.StatusScheduled,
	}
}

func TestFindConflictsClassification(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 3, 14, 0, 0, 0, time.UTC) // 09:00 New York

	t.Run("same category singles", func(t *testing.T) {
		pairs := FindConflicts("stuX", []*domain.ShiftOccurrence{
			occAt("s1", []string{"stuX"}, start, 60),
			occAt("s2", []string{"stuX"}, start.Add(30*time.Minute), 60),
		})
		if len(pairs) != 1 || pairs[0].Kind != KindSameCategory {
			t.Fatalf("pairs = %+v, want one same_category", pairs)
		}
	})

	t.Run("single vs group occurrence", func(t *testing.T) {
		group := occAt("g1", []string{"stuX", "stuY"}, start, 30)
		single := occAt("s1", []string{"stuX"}, start, 60)
		pairs := FindConflicts("stuX", []*domain.ShiftOccurrence{group, single})
		if len(pairs) != 1 {
			t.Fatalf("got %d pairs, want 1", len(pairs))
		}
		p := pairs[0]
		if p.Kind != KindSingleOverlapsGroup {
			t.Fatalf("kind = %s", p.Kind)
		}
		if p.A.ID != "s1" || p.B.ID != "g1" {
			t.Fatalf("single side = %s, group side = %s", p.A.ID, p.B.ID)
		}
	})

	t.Run("ordered by earlier start", func(t *testing.T) {
		occs := []*domain.ShiftOccurrence{
			occAt("late", []string{"stuX"}, start.Add(2*time.Hour), 60),
			occAt("late2", []string{"stuX"}, start.Add(150*time.Minute), 60),
			occAt("early", []string{"stuX"}, start, 60),
			occAt("early2", []string{"stuX"}, start.Add(30*time.Minute), 60),
		}
		pairs := FindConflicts("stuX", occs)
		if len(pairs) != 2 {
			t.Fatalf("got %d pairs, want 2", len(pairs))
		}
		if pairs[0].A.ID != "early" {
			t.Fatalf("first pair starts with %s, want early", pairs[0].A.ID)
		}
	})
}

// seed writes templates and occurrences for the detector tests.
func seed(t *testing.T, st store.Store, tpls []*domain.ShiftTemplate, occs []*domain.ShiftOccurrence) {
	t.Helper()
	var ops []store.Op
	for _, tpl := range tpls {
		ops = append(ops, store.Put(domain.CollectionTemplates, tpl.ID, store.EncodeTemplate(tpl)))
	}
	for _, occ := range occs {
		ops = append(ops, store.Put(domain.CollectionShifts, occ.ID, store.EncodeOccurrence(occ)))
	}
	if err := st.BatchWrite(context.Background(), ops); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestFixSingleOverlapsGroupTemplate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, ny)
	st := store.NewMemory()

	singleTpl := &domain.ShiftTemplate{
		ID:            "tpl_single",
		TeacherID:     "teacher1",
		StudentIDs:    []string{"stuX"},
		Weekdays:      []domain.Weekday{domain.Saturday},
		StartTime:     "09:00",
		EndTime:       "10:00",
		AdminTimezone: "America/New_York",
		Active:        true,
	}
	groupTpl := &domain.ShiftTemplate{
		ID:            "tpl_group",
		TeacherID:     "teacher2",
		StudentIDs:    []string{"stuX", "stuY"},
		Weekdays:      []domain.Weekday{domain.Saturday},
		StartTime:     "09:00",
		EndTime:       "09:30",
		AdminTimezone: "America/New_York",
		Active:        true,
	}
	single := occAt("shift_single", []string{"stuX"},
		time.Date(2026, time.January, 3, 9, 0, 0, 0, ny), 60)
	single.TemplateID = "tpl_single"

	seed(t, st, []*domain.ShiftTemplate{singleTpl, groupTpl}, []*domain.ShiftOccurrence{single})
	d := New(st, clock.NewFake(now), logx.Nop())

	rep, err := d.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if rep.SingleOverlapsGroup != 1 {
		t.Fatalf("single_overlaps_group = %d, want 1", rep.SingleOverlapsGroup)
	}
	p := rep.Pairs[0]
	if p.StudentID != "stuX" || p.GroupTemplate == nil || p.GroupTemplate.ID != "tpl_group" {
		t.Fatalf("pair = %+v", p)
	}

	dir := t.TempDir()
	rep, err = d.Fix(ctx, domain.Apply, dir)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if rep.DeletedShifts != 1 || rep.DeactivatedTemplates != 1 {
		t.Fatalf("deleted = %d deactivated = %d", rep.DeletedShifts, rep.DeactivatedTemplates)
	}
	if _, err := os.Stat(rep.SnapshotPath); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	if _, err := st.Get(ctx, domain.CollectionShifts, "shift_single"); err == nil {
		t.Fatal("single shift still present after fix")
	}
	doc, err := st.Get(ctx, domain.CollectionTemplates, "tpl_single")
	if err != nil {
		t.Fatalf("Get tpl_single: %v", err)
	}
	got, err := store.DecodeTemplate(doc)
	if err != nil {
		t.Fatalf("DecodeTemplate: %v", err)
	}
	if got.Active || got.DeactivatedReason == "" {
		t.Fatalf("tpl_single not deactivated: %+v", got)
	}
	doc, err = st.Get(ctx, domain.CollectionTemplates, "tpl_group")
	if err != nil {
		t.Fatalf("Get tpl_group: %v", err)
	}
	if gt, _ := store.DecodeTemplate(doc); !gt.Active {
		t.Fatal("group template was touched by the fix")
	}
}

func TestFixDryRunWritesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, ny)
	st := store.NewMemory()

	group := occAt("shift_group", []string{"stuX", "stuY"},
		time.Date(2026, time.January, 3, 9, 0, 0, 0, ny), 30)
	single := occAt("shift_single", []string{"stuX"},
		time.Date(2026, time.January, 3, 9, 0, 0, 0, ny), 60)
	seed(t, st, nil, []*domain.ShiftOccurrence{group, single})

	d := New(st, clock.NewFake(now), logx.Nop())
	rep, err := d.Fix(ctx, domain.DryRun, t.TempDir())
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if rep.SingleOverlapsGroup != 1 || rep.DeletedShifts != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.SnapshotPath != "" {
		t.Fatalf("dry run wrote a snapshot at %s", rep.SnapshotPath)
	}
	if _, err := st.Get(ctx, domain.CollectionShifts, "shift_single"); err != nil {
		t.Fatal("dry run deleted the single shift")
	}
}

func TestFixLeavesSameCategoryAlone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, ny)
	st := store.NewMemory()

	a := occAt("shift_a", []string{"stuX"},
		time.Date(2026, time.January, 3, 9, 0, 0, 0, ny), 60)
	b := occAt("shift_b", []string{"stuX"},
		time.Date(2026, time.January, 3, 9, 30, 0, 0, ny), 60)
	seed(t, st, nil, []*domain.ShiftOccurrence{a, b})

	d := New(st, clock.NewFake(now), logx.Nop())
	rep, err := d.Fix(ctx, domain.Apply, t.TempDir())
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if rep.SameCategory != 1 {
		t.Fatalf("same_category = %d, want 1", rep.SameCategory)
	}
	if rep.DeletedShifts != 0 {
		t.Fatalf("fix deleted %d shifts for a same-category pair", rep.DeletedShifts)
	}
	for _, id := range []string{"shift_a", "shift_b"} {
		if _, err := st.Get(ctx, domain.CollectionShifts, id); err != nil {
			t.Fatalf("shift %s missing after fix", id)
		}
	}
}
