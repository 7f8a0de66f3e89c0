// Package timeutil converts between admin-timezone wall clock values and
// absolute instants, and computes weekdays in arbitrary IANA zones.
package timeutil

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
)

var (
	ErrInvalidTime = errors.New("invalid time format")
	ErrInvalidZone = errors.New("invalid timezone")
)

var hhmmRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseHHMM parses a "HH:MM" wall-clock string.
func ParseHHMM(raw string) (hour, minute int, err error) {
	m := hhmmRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q (expected HH:MM)", ErrInvalidTime, raw)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	return hour, minute, nil
}

// MinutesOfDay parses "HH:MM" into minutes since midnight.
func MinutesOfDay(raw string) (int, error) {
	h, m, err := ParseHHMM(raw)
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// LoadZone resolves an IANA zone id.
func LoadZone(id string) (*time.Location, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidZone)
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidZone, id)
	}
	return loc, nil
}

// WeekdayInZone returns the ISO weekday (Mon=1..Sun=7) of the instant as seen
// on the zone's local calendar, not UTC.
func WeekdayInZone(instant time.Time, loc *time.Location) domain.Weekday {
	wd := instant.In(loc).Weekday()
	if wd == time.Sunday {
		return domain.Sunday
	}
	return domain.Weekday(wd)
}

// WallClockToInstant interprets "HH:MM" as the zone's local time on the given
// calendar date and returns the absolute instant.
//
// time.Date applies the zone's own forward-resolution rule around DST gaps
// and folds, so a skipped or ambiguous local time resolves instead of failing.
func WallClockToInstant(year int, month time.Month, day int, hhmm string, loc *time.Location) (time.Time, error) {
	h, m, err := ParseHHMM(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, month, day, h, m, 0, 0, loc), nil
}

// DateKey formats the instant's calendar date in the zone as YYYY-MM-DD.
// Used for excluded-date matching and last-generated stamps.
func DateKey(instant time.Time, loc *time.Location) string {
	return instant.In(loc).Format("2006-01-02")
}

// StartOfDay returns midnight of the instant's calendar date in the zone.
func StartOfDay(instant time.Time, loc *time.Location) time.Time {
	t := instant.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
