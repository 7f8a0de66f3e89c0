// Package reconcile settles finished shifts: it derives the terminal status
// from the scheduled window and the observed clock events, computes capped
// billable time and pay, and corrects timesheet entries that drifted from
// the arithmetic. Already-approved entries are corrected too, and flagged
// rather than left stale.
package reconcile
