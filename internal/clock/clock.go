package clock

import "time"

// Clock abstracts wall time so deadline math can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type System struct{}

func (System) Now() time.Time                         { return time.Now() }
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NextMidnight returns the start of the day after t, in t's location.
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// UntilMidnight is the delay from now to the next local midnight.
func UntilMidnight(now time.Time) time.Duration {
	return NextMidnight(now).Sub(now)
}

// Date strips the wall clock part of t, keeping its calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole calendar days from now's date to date's date.
// now should already be in the operating timezone; date is a calendar date.
func DaysBetween(now, date time.Time) int {
	return int(Date(date).Sub(Date(now)).Hours() / 24)
}
