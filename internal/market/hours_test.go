package market

import (
	"strings"
	"testing"
	"time"
)

func fixedClock(t *testing.T, value string) *Clock {
	t.Helper()

	clock := NewClock()
	parsed, err := time.ParseInLocation("2006-01-02 15:04", value, clock.location)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	clock.Now = func() time.Time { return parsed }
	return clock
}

func TestIsOpen(t *testing.T) {
	tests := []struct {
		name string
		now  string
		want bool
	}{
		{"weekday mid session", "2026-08-26 12:00", true},
		{"weekday exactly at open", "2026-08-26 09:30", true},
		{"weekday just after open", "2026-08-26 09:31", true},
		{"weekday before open", "2026-08-26 09:00", false},
		{"weekday exactly at close", "2026-08-26 16:00", false},
		{"weekday after close", "2026-08-26 16:30", false},
		{"saturday", "2026-08-29 12:00", false},
		{"sunday", "2026-08-30 12:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := fixedClock(t, tt.now)
			if got := clock.IsOpen(); got != tt.want {
				t.Errorf("IsOpen() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusOpen(t *testing.T) {
	clock := fixedClock(t, "2026-08-26 12:00")

	got := clock.Status()
	want := "Market is open, closing in 4 hours and 0 minutes"
	if got != want {
		t.Errorf("Status() = %q, want %q", got, want)
	}
}

func TestStatusClosedBeforeOpen(t *testing.T) {
	clock := fixedClock(t, "2026-08-26 08:30")

	got := clock.Status()
	want := "Market is closed, opening in 1 hours and 0 minutes"
	if got != want {
		t.Errorf("Status() = %q, want %q", got, want)
	}
}

func TestStatusWeekendSkipsToMonday(t *testing.T) {
	// Friday 2026-08-28 17:00 -> next open is Monday 2026-08-31 09:30.
	clock := fixedClock(t, "2026-08-28 17:00")

	got := clock.Status()
	if !strings.HasPrefix(got, "Market is closed, opening in 64 hours") {
		t.Errorf("Status() = %q, want 64.5 hours until Monday open", got)
	}
}
