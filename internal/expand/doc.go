// Package expand materializes shift templates into concrete dated
// occurrences: one candidate per calendar day in the admin timezone, kept
// when the weekday matches, the date passes the template's skip rules, and
// the slot is still in the future. Re-running an expansion never duplicates
// occurrences; already-stored slots are skipped by deterministic id.
package expand
