package timeutil

import (
	"errors"
	"testing"
	"time"

	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
)

func TestParseHHMMVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		hour   int
		minute int
		ok     bool
	}{
		{raw: "09:00", hour: 9, minute: 0, ok: true},
		{raw: "9:05", hour: 9, minute: 5, ok: true},
		{raw: "23:59", hour: 23, minute: 59, ok: true},
		{raw: "00:00", hour: 0, minute: 0, ok: true},
		{raw: "24:00", ok: false},
		{raw: "12:60", ok: false},
		{raw: "noon", ok: false},
		{raw: "12", ok: false},
		{raw: "", ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			h, m, err := ParseHHMM(tt.raw)
			if tt.ok {
				if err != nil {
					t.Fatalf("ParseHHMM(%q) error: %v", tt.raw, err)
				}
				if h != tt.hour || m != tt.minute {
					t.Fatalf("ParseHHMM(%q) = %d:%d, want %d:%d", tt.raw, h, m, tt.hour, tt.minute)
				}
				return
			}
			if err == nil {
				t.Fatalf("ParseHHMM(%q) expected error", tt.raw)
			}
			if !errors.Is(err, ErrInvalidTime) {
				t.Fatalf("error = %v, want ErrInvalidTime", err)
			}
		})
	}
}

func TestLoadZoneUnknown(t *testing.T) {
	t.Parallel()
	if _, err := LoadZone("Mars/Olympus_Mons"); !errors.Is(err, ErrInvalidZone) {
		t.Fatalf("expected ErrInvalidZone, got %v", err)
	}
	if _, err := LoadZone(""); !errors.Is(err, ErrInvalidZone) {
		t.Fatalf("expected ErrInvalidZone for empty id, got %v", err)
	}
}

func TestWeekdayInZoneUsesLocalCalendar(t *testing.T) {
	t.Parallel()
	ny, err := LoadZone("America/New_York")
	if err != nil {
		t.Fatalf("LoadZone: %v", err)
	}
	// 01:00 UTC Sunday is still Saturday evening in New York.
	instant := time.Date(2026, time.January, 4, 1, 0, 0, 0, time.UTC)
	if got := WeekdayInZone(instant, ny); got != domain.Saturday {
		t.Fatalf("WeekdayInZone = %d, want Saturday(6)", got)
	}
	if got := WeekdayInZone(instant, time.UTC); got != domain.Sunday {
		t.Fatalf("WeekdayInZone UTC = %d, want Sunday(7)", got)
	}
}

func TestWallClockToInstantDST(t *testing.T) {
	t.Parallel()
	ny, err := LoadZone("America/New_York")
	if err != nil {
		t.Fatalf("LoadZone: %v", err)
	}

	// Spring forward (2026-03-08): 02:30 local does not exist; the zone rule
	// must resolve it forward rather than fail.
	skipped, err := WallClockToInstant(2026, time.March, 8, "02:30", ny)
	if err != nil {
		t.Fatalf("WallClockToInstant: %v", err)
	}
	if skipped.IsZero() {
		t.Fatal("expected a resolved instant for skipped local time")
	}

	// Fall back (2026-11-01): 02:30 is unambiguous again after the fold.
	fold, err := WallClockToInstant(2026, time.November, 1, "02:30", ny)
	if err != nil {
		t.Fatalf("WallClockToInstant: %v", err)
	}
	local := fold.In(ny)
	if local.Hour() != 2 || local.Minute() != 30 {
		t.Fatalf("local wall clock = %02d:%02d, want 02:30", local.Hour(), local.Minute())
	}

	// A plain winter date round-trips exactly.
	jan, err := WallClockToInstant(2026, time.January, 3, "09:00", ny)
	if err != nil {
		t.Fatalf("WallClockToInstant: %v", err)
	}
	if got := jan.In(ny).Format("15:04"); got != "09:00" {
		t.Fatalf("wall clock = %s, want 09:00", got)
	}
	if jan.UTC().Hour() != 14 {
		t.Fatalf("UTC hour = %d, want 14 (EST offset -5)", jan.UTC().Hour())
	}
}

func TestDateKeyAndStartOfDay(t *testing.T) {
	t.Parallel()
	ny, _ := LoadZone("America/New_York")
	instant := time.Date(2026, time.January, 4, 1, 0, 0, 0, time.UTC)
	if got := DateKey(instant, ny); got != "2026-01-03" {
		t.Fatalf("DateKey = %s, want 2026-01-03", got)
	}
	sod := StartOfDay(instant, ny)
	if got := sod.In(ny).Format("2006-01-02 15:04"); got != "2026-01-03 00:00" {
		t.Fatalf("StartOfDay = %s", got)
	}
}
