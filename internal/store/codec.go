package store

import (
	"fmt"
	"time"

	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
)

// The codec is the only place ambiguous stored values are resolved into
// typed instants. Algorithms above this boundary see *time.Time, never a
// maybe-timestamp.

func EncodeTemplate(t *domain.ShiftTemplate) Doc {
	return Doc{
		"teacher_id":         t.TeacherID,
		"teacher_name":       t.TeacherName,
		"student_ids":        append([]string(nil), t.StudentIDs...),
		"student_names":      append([]string(nil), t.StudentNames...),
		"selected_weekdays":  encodeWeekdays(t.Weekdays),
		"excluded_weekdays":  encodeWeekdays(t.ExcludedWeekdays),
		"excluded_dates":     encodeInstants(t.ExcludedDates),
		"start_time":         t.StartTime,
		"end_time":           t.EndTime,
		"duration_minutes":   t.DurationMinutes,
		"admin_timezone":     t.AdminTimezone,
		"horizon_days":       t.HorizonDays,
		"base_date":          EncodeInstant(t.BaseDate),
		"end_date":           EncodeInstant(t.EndDate),
		"hourly_rate":        t.HourlyRate,
		"subject":            t.Subject,
		"active":             t.Active,
		"deactivated_reason": t.DeactivatedReason,
		"last_generated":     t.LastGeneratedDate,
		"created_at":         EncodeInstant(nonZero(t.CreatedAt)),
		"last_modified":      EncodeInstant(nonZero(t.LastModified)),
	}
}

func DecodeTemplate(doc Doc) (*domain.ShiftTemplate, error) {
	t := &domain.ShiftTemplate{
		ID:                getString(doc, "id"),
		TeacherID:         getString(doc, "teacher_id"),
		TeacherName:       getString(doc, "teacher_name"),
		StudentIDs:        getStrings(doc, "student_ids"),
		StudentNames:      getStrings(doc, "student_names"),
		Weekdays:          getWeekdays(doc, "selected_weekdays"),
		ExcludedWeekdays:  getWeekdays(doc, "excluded_weekdays"),
		StartTime:         getString(doc, "start_time"),
		EndTime:           getString(doc, "end_time"),
		DurationMinutes:   getInt(doc, "duration_minutes"),
		AdminTimezone:     getString(doc, "admin_timezone"),
		HorizonDays:       getInt(doc, "horizon_days"),
		HourlyRate:        getFloat(doc, "hourly_rate"),
		Subject:           getString(doc, "subject"),
		Active:            getBool(doc, "active"),
		DeactivatedReason: getString(doc, "deactivated_reason"),
		LastGeneratedDate: getString(doc, "last_generated"),
	}
	var err error
	if t.BaseDate, err = DecodeInstant(doc["base_date"]); err != nil {
		return nil, fmt.Errorf("template %s base_date: %w", t.ID, err)
	}
	if t.EndDate, err = DecodeInstant(doc["end_date"]); err != nil {
		return nil, fmt.Errorf("template %s end_date: %w", t.ID, err)
	}
	if t.ExcludedDates, err = decodeInstants(doc["excluded_dates"]); err != nil {
		return nil, fmt.Errorf("template %s excluded_dates: %w", t.ID, err)
	}
	t.CreatedAt = instantOrZero(doc["created_at"])
	t.LastModified = instantOrZero(doc["last_modified"])
	return t, nil
}

func EncodeOccurrence(o *domain.ShiftOccurrence) Doc {
	start := o.StartInstant
	end := o.EndInstant
	return Doc{
		"template_id":             o.TemplateID,
		"teacher_id":              o.TeacherID,
		"teacher_name":            o.TeacherName,
		"student_ids":             append([]string(nil), o.StudentIDs...),
		"student_names":           append([]string(nil), o.StudentNames...),
		"shift_start":             EncodeInstant(&start),
		"shift_end":               EncodeInstant(&end),
		"admin_timezone":          o.AdminTimezone,
		"hourly_rate":             o.HourlyRate,
		"subject":                 o.Subject,
		"status":                  string(o.Status),
		"generated_from_template": o.GeneratedFromTemplate,
		"clock_in_timestamp":      EncodeInstant(o.ClockIn),
		"clock_out_timestamp":     EncodeInstant(o.ClockOut),
		"worked_minutes":          o.WorkedMinutes,
		"auto_clock_out":          o.AutoClockOut,
		"missed_reason":           o.MissedReason,
		"created_at":              EncodeInstant(nonZero(o.CreatedAt)),
		"last_modified":           EncodeInstant(nonZero(o.LastModified)),
	}
}

func DecodeOccurrence(doc Doc) (*domain.ShiftOccurrence, error) {
	o := &domain.ShiftOccurrence{
		ID:                    getString(doc, "id"),
		TemplateID:            getString(doc, "template_id"),
		TeacherID:             getString(doc, "teacher_id"),
		TeacherName:           getString(doc, "teacher_name"),
		StudentIDs:            getStrings(doc, "student_ids"),
		StudentNames:          getStrings(doc, "student_names"),
		AdminTimezone:         getString(doc, "admin_timezone"),
		HourlyRate:            getFloat(doc, "hourly_rate"),
		Subject:               getString(doc, "subject"),
		Status:                domain.OccurrenceStatus(getString(doc, "status")),
		GeneratedFromTemplate: getBool(doc, "generated_from_template"),
		WorkedMinutes:         getInt(doc, "worked_minutes"),
		AutoClockOut:          getBool(doc, "auto_clock_out"),
		MissedReason:          getString(doc, "missed_reason"),
	}
	start, err := DecodeInstant(doc["shift_start"])
	if err != nil {
		return nil, fmt.Errorf("shift %s shift_start: %w", o.ID, err)
	}
	end, err := DecodeInstant(doc["shift_end"])
	if err != nil {
		return nil, fmt.Errorf("shift %s shift_end: %w", o.ID, err)
	}
	if start == nil || end == nil {
		return nil, fmt.Errorf("shift %s: missing scheduled window", o.ID)
	}
	o.StartInstant = *start
	o.EndInstant = *end
	if o.ClockIn, err = DecodeInstant(doc["clock_in_timestamp"]); err != nil {
		return nil, fmt.Errorf("shift %s clock_in: %w", o.ID, err)
	}
	if o.ClockOut, err = DecodeInstant(doc["clock_out_timestamp"]); err != nil {
		return nil, fmt.Errorf("shift %s clock_out: %w", o.ID, err)
	}
	o.CreatedAt = instantOrZero(doc["created_at"])
	o.LastModified = instantOrZero(doc["last_modified"])
	return o, nil
}

func EncodeEntry(e *domain.TimesheetEntry) Doc {
	return Doc{
		"shift_id":            e.OccurrenceID,
		"teacher_id":          e.TeacherID,
		"hourly_rate":         e.HourlyRate,
		"clock_in_timestamp":  EncodeInstant(e.ClockIn),
		"clock_out_timestamp": EncodeInstant(e.ClockOut),
		"billable_minutes":    e.BillableMinutes,
		"payment_amount":      e.PaymentAmount,
		"status":              string(e.Status),
		"completion_method":   e.CompletionMethod,
		"corrected_at":        EncodeInstant(e.CorrectedAt),
		"created_at":          EncodeInstant(nonZero(e.CreatedAt)),
		"last_modified":       EncodeInstant(nonZero(e.LastModified)),
	}
}

func DecodeEntry(doc Doc) (*domain.TimesheetEntry, error) {
	e := &domain.TimesheetEntry{
		ID:               getString(doc, "id"),
		OccurrenceID:     getString(doc, "shift_id"),
		TeacherID:        getString(doc, "teacher_id"),
		HourlyRate:       getFloat(doc, "hourly_rate"),
		BillableMinutes:  getInt(doc, "billable_minutes"),
		PaymentAmount:    getFloat(doc, "payment_amount"),
		Status:           domain.EntryStatus(getString(doc, "status")),
		CompletionMethod: getString(doc, "completion_method"),
	}
	var err error
	if e.ClockIn, err = DecodeInstant(doc["clock_in_timestamp"]); err != nil {
		return nil, fmt.Errorf("entry %s clock_in: %w", e.ID, err)
	}
	if e.ClockOut, err = DecodeInstant(doc["clock_out_timestamp"]); err != nil {
		return nil, fmt.Errorf("entry %s clock_out: %w", e.ID, err)
	}
	if e.CorrectedAt, err = DecodeInstant(doc["corrected_at"]); err != nil {
		return nil, fmt.Errorf("entry %s corrected_at: %w", e.ID, err)
	}
	e.CreatedAt = instantOrZero(doc["created_at"])
	e.LastModified = instantOrZero(doc["last_modified"])
	return e, nil
}

// ---- helpers ----

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func instantOrZero(v any) time.Time {
	t, err := DecodeInstant(v)
	if err != nil || t == nil {
		return time.Time{}
	}
	return *t
}

func encodeWeekdays(ws []domain.Weekday) []int {
	out := make([]int, 0, len(ws))
	for _, w := range ws {
		out = append(out, int(w))
	}
	return out
}

func encodeInstants(ts []time.Time) []any {
	out := make([]any, 0, len(ts))
	for i := range ts {
		out = append(out, EncodeInstant(&ts[i]))
	}
	return out
}

func decodeInstants(v any) ([]time.Time, error) {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil, nil
	}
	out := make([]time.Time, 0, len(items))
	for _, it := range items {
		t, err := DecodeInstant(it)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func getString(doc Doc, key string) string {
	s, _ := doc[key].(string)
	return s
}

func getBool(doc Doc, key string) bool {
	b, _ := doc[key].(bool)
	return b
}

func getInt(doc Doc, key string) int {
	f, ok := toFloat(doc[key])
	if !ok {
		return 0
	}
	return int(f)
}

func getFloat(doc Doc, key string) float64 {
	f, _ := toFloat(doc[key])
	return f
}

func getStrings(doc Doc, key string) []string {
	switch v := doc[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func getWeekdays(doc Doc, key string) []domain.Weekday {
	switch v := doc[key].(type) {
	case []int:
		out := make([]domain.Weekday, 0, len(v))
		for _, n := range v {
			out = append(out, domain.Weekday(n))
		}
		return out
	case []any:
		out := make([]domain.Weekday, 0, len(v))
		for _, it := range v {
			if f, ok := toFloat(it); ok {
				out = append(out, domain.Weekday(int(f)))
			}
		}
		return out
	}
	return nil
}
