package reconcile

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
)

// ErrInvariant marks arithmetic that should be impossible on well-formed
// data, like a scheduled end before the start. Callers treat it as a data
// corruption signal, not a skippable record.
var ErrInvariant = errors.New("reconciliation invariant violated")

// ToleranceMinutes is the slack granted when deciding full completion: a
// teacher a minute short of the scheduled length still completed the shift.
const ToleranceMinutes = 1

// Outcome is the settled state of one finished shift.
type Outcome struct {
	Status          domain.OccurrenceStatus
	BillableMinutes int
	PaymentAmount   float64

	// ClockOut is the effective clock-out, synthesized at the scheduled
	// end when the clock-in was left open.
	ClockOut     *time.Time
	AutoClockOut bool
}

// Settle computes the terminal status and billing for a shift whose
// scheduled end has passed. Clock events outside the scheduled window never
// extend billable time in either direction.
func Settle(occ *domain.ShiftOccurrence) (Outcome, error) {
	scheduled := occ.ScheduledMinutes()
	if scheduled < 0 {
		return Outcome{}, fmt.Errorf("%w: shift %s ends before it starts", ErrInvariant, occ.ID)
	}

	if occ.ClockIn == nil {
		return Outcome{Status: domain.StatusMissed}, nil
	}

	out := Outcome{ClockOut: occ.ClockOut}
	if out.ClockOut == nil {
		end := occ.EndInstant
		out.ClockOut = &end
		out.AutoClockOut = true
	}

	effStart := *occ.ClockIn
	if effStart.Before(occ.StartInstant) {
		effStart = occ.StartInstant
	}
	effEnd := *out.ClockOut
	if effEnd.After(occ.EndInstant) {
		effEnd = occ.EndInstant
	}

	billable := int(effEnd.Sub(effStart) / time.Minute)
	if billable < 0 {
		billable = 0
	}
	if billable > scheduled {
		billable = scheduled
	}
	out.BillableMinutes = billable
	out.PaymentAmount = Payment(billable, occ.HourlyRate)

	if billable+ToleranceMinutes >= scheduled {
		out.Status = domain.StatusFullyCompleted
	} else {
		out.Status = domain.StatusPartiallyCompleted
	}
	return out, nil
}

// Payment is billable time priced at the hourly rate, rounded to the cent.
func Payment(billableMinutes int, hourlyRate float64) float64 {
	return math.Round(float64(billableMinutes)/60*hourlyRate*100) / 100
}
