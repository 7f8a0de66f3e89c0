package domain

import "time"

// Collection names in the document store.
const (
	CollectionTemplates   = "shift_templates"
	CollectionShifts      = "teaching_shifts"
	CollectionTimesheets  = "timesheet_entries"
	CollectionAuditTrails = "audit_trails"
)

// Weekday follows ISO-8601: Monday=1 .. Sunday=7.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// Mode selects between previewing and applying mutations.
// DryRun is the zero value so forgetting to set it never writes.
type Mode int

const (
	DryRun Mode = iota
	Apply
)

func (m Mode) String() string {
	if m == Apply {
		return "apply"
	}
	return "dry-run"
}

// OccurrenceStatus is the lifecycle state of one materialized shift.
type OccurrenceStatus string

const (
	StatusScheduled          OccurrenceStatus = "scheduled"
	StatusActive             OccurrenceStatus = "active"
	StatusFullyCompleted     OccurrenceStatus = "fullyCompleted"
	StatusPartiallyCompleted OccurrenceStatus = "partiallyCompleted"
	StatusMissed             OccurrenceStatus = "missed"
	StatusCancelled          OccurrenceStatus = "cancelled"
)

// Terminal reports whether the status can no longer transition.
func (s OccurrenceStatus) Terminal() bool {
	switch s {
	case StatusFullyCompleted, StatusPartiallyCompleted, StatusMissed, StatusCancelled:
		return true
	}
	return false
}

// EntryStatus is the approval state of a timesheet entry.
type EntryStatus string

const (
	EntryDraft    EntryStatus = "draft"
	EntryPending  EntryStatus = "pending"
	EntryApproved EntryStatus = "approved"
	EntryRejected EntryStatus = "rejected"
)

// ShiftTemplate is the recurrence rule that generates occurrences: a set of
// weekdays plus a local wall-clock window in the admin timezone.
type ShiftTemplate struct {
	ID           string
	TeacherID    string
	TeacherName  string
	StudentIDs   []string
	StudentNames []string // index-aligned with StudentIDs

	Weekdays        []Weekday
	StartTime       string // "HH:MM" local wall clock
	EndTime         string // "HH:MM"; empty means derived from duration
	DurationMinutes int
	AdminTimezone   string // IANA id
	HorizonDays     int

	// Optional bounds and skip rules.
	BaseDate         *time.Time  // no occurrences before this calendar day
	EndDate          *time.Time  // no occurrences after this calendar day
	ExcludedWeekdays []Weekday   // generated on Weekdays minus these
	ExcludedDates    []time.Time // calendar days (admin zone) to skip

	HourlyRate float64
	Subject    string

	Active            bool
	DeactivatedReason string
	LastGeneratedDate string // ISO date of the last expansion pass, admin zone
	CreatedAt         time.Time
	LastModified      time.Time
}

// Group reports whether the template describes a multi-student session.
func (t *ShiftTemplate) Group() bool { return len(t.StudentIDs) > 1 }

// ShiftOccurrence is one concrete, dated instance of a teaching session.
// StartInstant/EndInstant are absolute; AdminTimezone records the zone the
// wall-clock window was resolved in.
type ShiftOccurrence struct {
	ID           string
	TemplateID   string // empty for ad-hoc shifts
	TeacherID    string
	TeacherName  string
	StudentIDs   []string
	StudentNames []string

	StartInstant  time.Time
	EndInstant    time.Time
	AdminTimezone string

	HourlyRate float64
	Subject    string

	Status                OccurrenceStatus
	GeneratedFromTemplate bool

	// Clock events reported by the client app. Nil means absent.
	ClockIn  *time.Time
	ClockOut *time.Time

	WorkedMinutes int
	AutoClockOut  bool
	MissedReason  string

	CreatedAt    time.Time
	LastModified time.Time
}

// Group reports whether the occurrence is a multi-student session.
func (o *ShiftOccurrence) Group() bool { return len(o.StudentIDs) > 1 }

// ScheduledMinutes is the scheduled window length, in whole minutes.
func (o *ShiftOccurrence) ScheduledMinutes() int {
	return int(o.EndInstant.Sub(o.StartInstant) / time.Minute)
}

// TimesheetEntry records clocked time against one occurrence.
// PaymentAmount must always equal BillableMinutes/60 * HourlyRate to the
// cent; the reconcile package enforces this regardless of Status.
type TimesheetEntry struct {
	ID           string
	OccurrenceID string
	TeacherID    string

	HourlyRate float64
	ClockIn    *time.Time
	ClockOut   *time.Time // nil while open

	BillableMinutes int
	PaymentAmount   float64

	Status           EntryStatus
	CompletionMethod string // "manual" or "auto"
	CorrectedAt      *time.Time

	CreatedAt    time.Time
	LastModified time.Time
}

// TaskPhase identifies which shift boundary a lifecycle task fires at.
type TaskPhase string

const (
	PhaseStart TaskPhase = "start"
	PhaseEnd   TaskPhase = "end"
)

// LifecycleTask is a deferred invocation keyed by occurrence, phase and the
// epoch second of the scheduled instant. Re-creating a task with the same key
// is a no-op, which keeps scheduling safe to re-run.
type LifecycleTask struct {
	OccurrenceID string
	Phase        TaskPhase
	Epoch        int64
	ScheduleAt   time.Time
}
