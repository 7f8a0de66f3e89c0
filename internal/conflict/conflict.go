package conflict

import (
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
	"github.com/hahimniane/alluvial-academy-sub002/internal/timeutil"
)

// ErrConflict marks operations aborted because they would create or keep an
// overlapping pair of shifts.
var ErrConflict = errors.New("schedule conflict")

// Kind classifies a detected conflict.
type Kind string

const (
	// KindSameCategory is two sessions of the same shape overlapping:
	// both single-student, or both groups sharing the student. Reported
	// for manual review, never auto-fixed.
	KindSameCategory Kind = "same_category"

	// KindSingleOverlapsGroup is a single-student session overlapping a
	// group session that includes the same student. The single side is
	// redundant and fix mode removes it.
	KindSingleOverlapsGroup Kind = "single_overlaps_group"
)

// Pair is one conflict found for one student. A is always an occurrence; the
// counterpart is either another occurrence (B) or, when a single session
// collides with a not-yet-expanded group rule, a template (GroupTemplate).
// For KindSingleOverlapsGroup, A is always the single-student side.
type Pair struct {
	Kind      Kind
	StudentID string

	A             *domain.ShiftOccurrence
	B             *domain.ShiftOccurrence
	GroupTemplate *domain.ShiftTemplate
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Adjacent intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Overlapping returns the occurrences whose scheduled window intersects
// [start, end), preserving input order.
func Overlapping(start, end time.Time, occs []*domain.ShiftOccurrence) []*domain.ShiftOccurrence {
	var out []*domain.ShiftOccurrence
	for _, o := range occs {
		if Overlaps(start, end, o.StartInstant, o.EndInstant) {
			out = append(out, o)
		}
	}
	return out
}

// FindConflicts scans one student's occurrences for overlapping pairs.
// The input is sorted by start instant (id as tie-break) so the result is
// deterministic for the same set; pairs come out ordered by the earlier
// start.
func FindConflicts(studentID string, occs []*domain.ShiftOccurrence) []Pair {
	sorted := append([]*domain.ShiftOccurrence(nil), occs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].StartInstant.Equal(sorted[j].StartInstant) {
			return sorted[i].StartInstant.Before(sorted[j].StartInstant)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var pairs []Pair
	for i := 0; i < len(sorted); i++ {
		a := sorted[i]
		for j := i + 1; j < len(sorted); j++ {
			b := sorted[j]
			if !b.StartInstant.Before(a.EndInstant) {
				break // sorted by start: nothing later can overlap a
			}
			if !Overlaps(a.StartInstant, a.EndInstant, b.StartInstant, b.EndInstant) {
				continue
			}
			pairs = append(pairs, classify(studentID, a, b))
		}
	}
	return pairs
}

func classify(studentID string, a, b *domain.ShiftOccurrence) Pair {
	if a.Group() == b.Group() {
		return Pair{Kind: KindSameCategory, StudentID: studentID, A: a, B: b}
	}
	single, group := a, b
	if single.Group() {
		single, group = b, a
	}
	return Pair{Kind: KindSingleOverlapsGroup, StudentID: studentID, A: single, B: group}
}

// templateWindow is one recurring group slot: a wall-clock window on one
// weekday in the template's own timezone. End minutes may exceed 24h for
// overnight windows.
type templateWindow struct {
	tpl      *domain.ShiftTemplate
	startMin int
	endMin   int
}

// templateIndex maps "studentID|weekday" to the group slots covering it.
type templateIndex map[string][]templateWindow

func indexKey(studentID string, wd domain.Weekday) string {
	return studentID + "|" + strconv.Itoa(int(wd))
}

// buildTemplateIndex indexes active group templates by student and weekday.
// Templates with malformed times are skipped and counted.
func buildTemplateIndex(tpls []*domain.ShiftTemplate) (templateIndex, int) {
	idx := make(templateIndex)
	skipped := 0
	for _, tpl := range tpls {
		if !tpl.Active || !tpl.Group() {
			continue
		}
		startMin, err := timeutil.MinutesOfDay(tpl.StartTime)
		if err != nil {
			skipped++
			continue
		}
		var endMin int
		if tpl.EndTime == "" {
			if tpl.DurationMinutes <= 0 {
				skipped++
				continue
			}
			endMin = startMin + tpl.DurationMinutes
		} else {
			endMin, err = timeutil.MinutesOfDay(tpl.EndTime)
			if err != nil {
				skipped++
				continue
			}
			if endMin <= startMin {
				endMin += 24 * 60
			}
		}
		excluded := make(map[domain.Weekday]bool, len(tpl.ExcludedWeekdays))
		for _, wd := range tpl.ExcludedWeekdays {
			excluded[wd] = true
		}
		win := templateWindow{tpl: tpl, startMin: startMin, endMin: endMin}
		for _, wd := range tpl.Weekdays {
			if excluded[wd] {
				continue
			}
			for _, sid := range tpl.StudentIDs {
				idx[indexKey(sid, wd)] = append(idx[indexKey(sid, wd)], win)
			}
		}
	}
	return idx, skipped
}

// matchTemplates compares one single-student occurrence against the group
// slots of its students: weekday and minutes-of-day are computed in the
// occurrence's own timezone, the slot in the template's.
func matchTemplates(occ *domain.ShiftOccurrence, idx templateIndex) ([]Pair, error) {
	loc, err := timeutil.LoadZone(occ.AdminTimezone)
	if err != nil {
		return nil, err
	}
	local := occ.StartInstant.In(loc)
	wd := timeutil.WeekdayInZone(occ.StartInstant, loc)
	startMin := local.Hour()*60 + local.Minute()
	endMin := startMin + occ.ScheduledMinutes()

	var pairs []Pair
	for _, sid := range occ.StudentIDs {
		for _, win := range idx[indexKey(sid, wd)] {
			if win.tpl.ID == occ.TemplateID {
				continue
			}
			if startMin < win.endMin && win.startMin < endMin {
				pairs = append(pairs, Pair{
					Kind:          KindSingleOverlapsGroup,
					StudentID:     sid,
					A:             occ,
					GroupTemplate: win.tpl,
				})
			}
		}
	}
	return pairs, nil
}
