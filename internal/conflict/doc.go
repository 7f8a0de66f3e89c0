// Package conflict finds time-overlapping shift occurrences per student and,
// in fix mode, removes redundant single-student occurrences that sit on top
// of group sessions. Detection never mutates; remediation is a separate
// operation gated by domain.Mode and preceded by a CSV snapshot of every
// record it is about to change.
package conflict
