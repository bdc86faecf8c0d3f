// Package calendar converts instants to local calendar day keys and
// local-midnight boundaries. All instants are Unix milliseconds.
package calendar

import (
	"fmt"
	"math"
	"time"
)

// DayKeyLayout is the zero-padded format of a day key, so keys sort
// lexicographically in date order.
const DayKeyLayout = "2006-01-02"

const millisPerHour = 1000.0 * 60.0 * 60.0

// Clock returns the current wall-clock time. It is called on every use and
// never cached, so a process left running across midnight observes the new day.
type Clock func() time.Time

// System is the real wall clock.
var System Clock = time.Now

// Now returns the current time, falling back to the system clock.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// DayKey returns today's day key in the clock's location.
func (c Clock) DayKey() string {
	return CurrentDayKey(c.Now)
}

// DayKeyOffset returns the day key n days from today.
func (c Clock) DayKeyOffset(n int) string {
	return DayKeyOffset(c.Now, n)
}

// CurrentDayKey returns the local date of now() as YYYY-MM-DD.
func CurrentDayKey(now func() time.Time) string {
	return DayKey(now())
}

// DayKeyOffset returns the local date n days from now() (negative = past).
func DayKeyOffset(now func() time.Time, n int) string {
	return DayKey(now().AddDate(0, 0, n))
}

// DayKey formats t as a day key in t's own location.
func DayKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), int(t.Month()), t.Day())
}

// ParseDayKey parses a YYYY-MM-DD key in loc.
func ParseDayKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DayKeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day key %q: %w", key, err)
	}
	return t, nil
}

// StartOfDay returns 00:00:00.000 of the same day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfDayMillis returns the local midnight at or before ms, in loc.
func StartOfDayMillis(ms int64, loc *time.Location) int64 {
	if loc == nil {
		loc = time.Local
	}
	return StartOfDay(time.UnixMilli(ms).In(loc)).UnixMilli()
}

// HoursBetween returns max(0, b-a) converted from milliseconds to hours.
func HoursBetween(a, b int64) float64 {
	if b <= a {
		return 0
	}
	return float64(b-a) / millisPerHour
}

// RoundTenth rounds h to one decimal place, half away from zero.
func RoundTenth(h float64) float64 {
	return math.Round(h*10) / 10
}

// FormatDuration formats seconds as "1h 40m", "45m" or "30s".
func FormatDuration(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatDurationHHMMSS formats seconds as HH:MM:SS.
func FormatDurationHHMMSS(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatHours renders a stored shift total, e.g. "7.5h".
func FormatHours(h float64) string {
	return fmt.Sprintf("%.1fh", h)
}
