package market

import (
	"fmt"
	"time"
)

// NYSE regular session, America/New_York.
const (
	openHour    = 9
	openMinute  = 30
	closeHour   = 16
	closeMinute = 0
)

// Clock reports market-hours state for the regular US equities session.
// Now is injectable for tests and defaults to time.Now.
type Clock struct {
	Now      func() time.Time
	location *time.Location
}

func NewClock() *Clock {
	location, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Fall back to a fixed eastern offset when the zone database
		// is unavailable, e.g. minimal containers.
		location = time.FixedZone("ET", -5*60*60)
	}
	return &Clock{Now: time.Now, location: location}
}

// IsOpen reports whether the regular session is currently trading.
// Weekends are closed; holidays are not modeled, matching the vendor-side
// rejection the order would get anyway.
func (c *Clock) IsOpen() bool {
	now := c.Now().In(c.location)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}

	open, close := c.sessionBounds(now)
	return !now.Before(open) && now.Before(close)
}

// Status describes how long until the session opens or closes.
func (c *Clock) Status() string {
	now := c.Now().In(c.location)
	open, close := c.sessionBounds(now)

	if c.IsOpen() {
		hours, minutes := splitDuration(close.Sub(now))
		return fmt.Sprintf("Market is open, closing in %d hours and %d minutes", hours, minutes)
	}

	next := open
	if !now.Before(close) || now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		next = nextSessionOpen(now, c.location)
	}
	hours, minutes := splitDuration(next.Sub(now))
	return fmt.Sprintf("Market is closed, opening in %d hours and %d minutes", hours, minutes)
}

func (c *Clock) sessionBounds(now time.Time) (time.Time, time.Time) {
	open := time.Date(now.Year(), now.Month(), now.Day(), openHour, openMinute, 0, 0, c.location)
	close := time.Date(now.Year(), now.Month(), now.Day(), closeHour, closeMinute, 0, 0, c.location)
	return open, close
}

func nextSessionOpen(now time.Time, location *time.Location) time.Time {
	day := now
	for {
		day = day.AddDate(0, 0, 1)
		if day.Weekday() != time.Saturday && day.Weekday() != time.Sunday {
			break
		}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), openHour, openMinute, 0, 0, location)
}

func splitDuration(d time.Duration) (int, int) {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int(d/time.Minute) % 60
	return hours, minutes
}
