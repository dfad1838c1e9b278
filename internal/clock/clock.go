// Package clock anchors every "today" computation to one civil timezone.
package clock

import (
	"fmt"
	"time"
)

// Clock produces instants and civil dates in a fixed zone. Every instant,
// whatever zone it was expressed in, names one absolute moment and converts
// to that zone.
type Clock struct {
	loc *time.Location
}

// New loads the named zone; an unknown name is a config error.
func New(zone string) (*Clock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return &Clock{loc: loc}, nil
}

// NewFixed wraps an already-loaded location, mainly for tests.
func NewFixed(loc *time.Location) *Clock {
	return &Clock{loc: loc}
}

// Location returns the civil zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current instant in the civil zone.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// CivilDate formats an instant as YYYY-MM-DD in the civil zone. This is the
// partition key for attendance records and notices.
func (c *Clock) CivilDate(t time.Time) string {
	return c.In(t).Format("2006-01-02")
}

// In converts an instant to the civil zone. The columns are all TIMESTAMPTZ
// and request timestamps are RFC3339, so inputs are always zoned; this is a
// plain conversion, never a wall-clock reinterpretation.
func (c *Clock) In(t time.Time) time.Time {
	return t.In(c.loc)
}

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour, Minute, Second int
}

// ParseTimeOfDay accepts exactly HH:MM:SS. Malformed input is a config error
// and the caller is expected to fail fast on it.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var tod TimeOfDay
	if len(s) != 8 || s[2] != ':' || s[5] != ':' {
		return tod, fmt.Errorf("time of day %q: want HH:MM:SS", s)
	}
	if _, err := fmt.Sscanf(s, "%02d:%02d:%02d", &tod.Hour, &tod.Minute, &tod.Second); err != nil {
		return tod, fmt.Errorf("time of day %q: %w", s, err)
	}
	if tod.Hour > 23 || tod.Minute > 59 || tod.Second > 59 || tod.Hour < 0 || tod.Minute < 0 || tod.Second < 0 {
		return tod, fmt.Errorf("time of day %q: out of range", s)
	}
	return tod, nil
}

// CombineWithToday resolves a time-of-day against the civil date of ref.
// It never rolls past midnight: 23:50:00 near midnight still lands on ref's
// own civil day, so callers must pass a reference from the day they mean.
func (c *Clock) CombineWithToday(tod TimeOfDay, ref time.Time) time.Time {
	r := c.In(ref)
	return time.Date(r.Year(), r.Month(), r.Day(), tod.Hour, tod.Minute, tod.Second, 0, c.loc)
}

// SecondsLate is actual minus expected, truncated to whole seconds.
func (c *Clock) SecondsLate(actual, expected time.Time) int {
	return int(c.In(actual).Sub(c.In(expected)) / time.Second)
}
