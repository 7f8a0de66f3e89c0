package conflict

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hahimniane/alluvial-academy-sub002/internal/clock"
	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
	"github.com/hahimniane/alluvial-academy-sub002/internal/store"
	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

const writeChunk = 450

// Report aggregates one detection or remediation pass. Per-record problems
// are counted, never fatal; only store failures abort a pass.
type Report struct {
	Mode domain.Mode

	ScannedShifts    int
	ScannedTemplates int

	SameCategory        int
	SingleOverlapsGroup int
	Pairs               []Pair

	DeletedShifts        int
	DeactivatedTemplates int
	SkippedErrors        int
	SnapshotPath         string
}

// Detector runs conflict scans over the whole store.
type Detector struct {
	store store.Store
	clock clock.Clock
	log   logx.Logger
}

func New(st store.Store, clk clock.Clock, log logx.Logger) *Detector {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Detector{store: st, clock: clk, log: log}
}

// Scan detects conflicts among shifts that have not yet ended, plus single
// shifts colliding with active group templates. It never writes.
func (d *Detector) Scan(ctx context.Context) (*Report, error) {
	rep := &Report{}
	now := d.clock.Now()

	docs, err := d.store.Query(ctx, domain.CollectionShifts, store.Gte("shift_end", now))
	if err != nil {
		return nil, fmt.Errorf("query shifts: %w", err)
	}
	byStudent := make(map[string][]*domain.ShiftOccurrence)
	var singles []*domain.ShiftOccurrence
	for _, doc := range docs {
		occ, err := store.DecodeOccurrence(doc)
		if err != nil {
			rep.SkippedErrors++
			d.log.Warn("skipping undecodable shift", logx.Err(err))
			continue
		}
		if occ.Status.Terminal() {
			continue
		}
		rep.ScannedShifts++
		for _, sid := range occ.StudentIDs {
			byStudent[sid] = append(byStudent[sid], occ)
		}
		if !occ.Group() {
			singles = append(singles, occ)
		}
	}

	students := make([]string, 0, len(byStudent))
	for sid := range byStudent {
		students = append(students, sid)
	}
	sort.Strings(students)
	for _, sid := range students {
		rep.add(FindConflicts(sid, byStudent[sid]))
	}

	tplDocs, err := d.store.Query(ctx, domain.CollectionTemplates, store.Eq("active", true))
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	tpls := make([]*domain.ShiftTemplate, 0, len(tplDocs))
	for _, doc := range tplDocs {
		tpl, err := store.DecodeTemplate(doc)
		if err != nil {
			rep.SkippedErrors++
			d.log.Warn("skipping undecodable template", logx.Err(err))
			continue
		}
		tpls = append(tpls, tpl)
	}
	rep.ScannedTemplates = len(tpls)

	idx, skipped := buildTemplateIndex(tpls)
	rep.SkippedErrors += skipped

	// A single shift already paired with a materialized occurrence of a
	// template contributes nothing new when it also matches the template.
	seen := make(map[string]bool)
	for _, p := range rep.Pairs {
		if p.Kind == KindSingleOverlapsGroup && p.B != nil && p.B.TemplateID != "" {
			seen[p.A.ID+"|"+p.B.TemplateID] = true
		}
	}
	for _, occ := range singles {
		matched, err := matchTemplates(occ, idx)
		if err != nil {
			rep.SkippedErrors++
			d.log.Warn("skipping shift with bad timezone",
				logx.String("shift", occ.ID), logx.Err(err))
			continue
		}
		for _, p := range matched {
			if seen[p.A.ID+"|"+p.GroupTemplate.ID] {
				continue
			}
			seen[p.A.ID+"|"+p.GroupTemplate.ID] = true
			rep.add([]Pair{p})
		}
	}

	d.log.Info("conflict scan complete",
		logx.Int("shifts", rep.ScannedShifts),
		logx.Int("templates", rep.ScannedTemplates),
		logx.Int("same_category", rep.SameCategory),
		logx.Int("single_overlaps_group", rep.SingleOverlapsGroup))
	return rep, nil
}

// Fix scans and then removes the single side of every single-vs-group
// conflict: the occurrence is deleted and its originating template
// deactivated, in one atomic batch per template. Group records are never
// touched. In apply mode a CSV snapshot of the affected records is written
// under snapshotDir before the first mutation; in dry-run mode nothing is
// written anywhere.
func (d *Detector) Fix(ctx context.Context, mode domain.Mode, snapshotDir string) (*Report, error) {
	rep, err := d.Scan(ctx)
	if err != nil {
		return nil, err
	}
	rep.Mode = mode

	// One delete list per originating template, so the deletes and the
	// deactivation commit together. Template-less shifts go under "".
	byTemplate := make(map[string][]*domain.ShiftOccurrence)
	seen := make(map[string]bool)
	for _, p := range rep.Pairs {
		if p.Kind != KindSingleOverlapsGroup || seen[p.A.ID] {
			continue
		}
		seen[p.A.ID] = true
		byTemplate[p.A.TemplateID] = append(byTemplate[p.A.TemplateID], p.A)
	}
	if len(seen) == 0 {
		return rep, nil
	}

	tplIDs := make([]string, 0, len(byTemplate))
	for id := range byTemplate {
		tplIDs = append(tplIDs, id)
	}
	sort.Strings(tplIDs)

	if mode == domain.Apply {
		path, err := d.snapshot(snapshotDir, rep, tplIDs, byTemplate)
		if err != nil {
			return nil, fmt.Errorf("write snapshot: %w", err)
		}
		rep.SnapshotPath = path
	}

	now := d.clock.Now()
	var batch []store.Op
	flush := func() error {
		if len(batch) == 0 || mode != domain.Apply {
			batch = nil
			return nil
		}
		if err := d.store.BatchWrite(ctx, batch); err != nil {
			return fmt.Errorf("apply conflict fixes: %w", err)
		}
		batch = nil
		return nil
	}

	for _, tplID := range tplIDs {
		occs := byTemplate[tplID]
		group := make([]store.Op, 0, len(occs)+1)
		for _, occ := range occs {
			group = append(group, store.Delete(domain.CollectionShifts, occ.ID))
		}
		if tplID != "" {
			tpl, err := d.loadTemplate(ctx, tplID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				// already gone, just drop the occurrences
			case err != nil:
				return nil, err
			case tpl.Active:
				tpl.Active = false
				tpl.DeactivatedReason = "single-student sessions overlap a group session"
				tpl.LastModified = now
				group = append(group, store.Put(domain.CollectionTemplates, tpl.ID, store.EncodeTemplate(tpl)))
				rep.DeactivatedTemplates++
			}
		}
		if len(batch)+len(group) > writeChunk {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, group...)
		rep.DeletedShifts += len(occs)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	d.log.Info("conflict fix complete",
		logx.String("mode", mode.String()),
		logx.Int("deleted", rep.DeletedShifts),
		logx.Int("deactivated", rep.DeactivatedTemplates))
	return rep, nil
}

func (r *Report) add(pairs []Pair) {
	for _, p := range pairs {
		switch p.Kind {
		case KindSameCategory:
			r.SameCategory++
		case KindSingleOverlapsGroup:
			r.SingleOverlapsGroup++
		}
	}
	r.Pairs = append(r.Pairs, pairs...)
}

func (d *Detector) loadTemplate(ctx context.Context, id string) (*domain.ShiftTemplate, error) {
	doc, err := d.store.Get(ctx, domain.CollectionTemplates, id)
	if err != nil {
		return nil, err
	}
	return store.DecodeTemplate(doc)
}

// snapshot writes the records the fix is about to mutate as CSV, one row per
// deleted shift and per deactivated template.
func (d *Detector) snapshot(dir string, rep *Report, tplIDs []string, byTemplate map[string][]*domain.ShiftOccurrence) (string, error) {
	if dir == "" {
		dir = "snapshots"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	// Timestamp plus a random suffix so two runs in the same second never
	// clobber each other's snapshot.
	name := fmt.Sprintf("conflict_fix_%s_%s.csv",
		d.clock.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"action", "record", "id", "teacher_id", "student_ids", "start", "end", "template_id", "hourly_rate"}); err != nil {
		return "", err
	}
	for _, tplID := range tplIDs {
		for _, occ := range byTemplate[tplID] {
			row := []string{
				"delete", "shift", occ.ID, occ.TeacherID,
				strings.Join(occ.StudentIDs, ";"),
				occ.StartInstant.UTC().Format("2006-01-02T15:04:05Z"),
				occ.EndInstant.UTC().Format("2006-01-02T15:04:05Z"),
				occ.TemplateID,
				strconv.FormatFloat(occ.HourlyRate, 'f', 2, 64),
			}
			if err := w.Write(row); err != nil {
				return "", err
			}
		}
		if tplID != "" {
			if err := w.Write([]string{"deactivate", "template", tplID, "", "", "", "", "", ""}); err != nil {
				return "", err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return path, nil
}
