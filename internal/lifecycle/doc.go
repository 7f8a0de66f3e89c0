// Package lifecycle schedules the deferred start and end invocations for
// shift occurrences. Task identity is derived from the occurrence id, the
// phase, and the epoch second of the scheduled instant, so re-scheduling
// after a partial failure re-creates the same tasks instead of duplicates.
package lifecycle
