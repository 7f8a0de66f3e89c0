// Package domain holds the shared data model for the shift scheduling core:
// recurrence templates, materialized shift occurrences, timesheet entries and
// the deferred lifecycle tasks that fire at shift boundaries.
//
// Nothing in this package performs I/O; the store package maps these types to
// and from documents.
package domain
