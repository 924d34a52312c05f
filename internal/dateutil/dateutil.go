// Package dateutil holds the civil-date arithmetic shared by the expander,
// the week packer and the grid views. All helpers work on wall-clock dates in
// the location of their argument, so DST transitions never shift a day.
package dateutil

import (
	"strings"
	"time"
)

// DaysPerWeek is the number of columns in a week row.
const DaysPerWeek = 7

// DayStart truncates t to midnight in its own location.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween returns the number of civil days from a to b (negative if b is
// earlier). b is interpreted in a's location.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	// UTC midnights have no DST gaps, so the division is exact.
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / (24 * time.Hour))
}

// AddDays moves t by n civil days keeping its wall-clock time.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonthsClamped adds n calendar months to t. When the target month is
// shorter than t's day of month the result lands on its last day, so
// Jan 31 + 1 month is Feb 28 (or 29).
func AddMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + n
	ty := y + floorDiv(total, 12)
	tm := time.Month(total - floorDiv(total, 12)*12 + 1)
	if last := DaysInMonth(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// MonthsBetween counts whole calendar-month boundaries from a to b.
func MonthsBetween(a, b time.Time) int {
	b = b.In(a.Location())
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// StartOfWeek returns midnight of the first day of the week containing t.
func StartOfWeek(t time.Time, firstDay time.Weekday) time.Time {
	offset := (int(t.Weekday()) - int(firstDay) + DaysPerWeek) % DaysPerWeek
	return AddDays(DayStart(t), -offset)
}

// EndOfDay returns the last representable instant of t's civil day.
func EndOfDay(t time.Time) time.Time {
	return AddDays(DayStart(t), 1).Add(-time.Nanosecond)
}

// ParseWeekday maps "monday"/"sunday" style names to a time.Weekday,
// defaulting to Monday.
func ParseWeekday(s string) time.Weekday {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(strings.TrimSpace(s), d.String()) {
			return d
		}
	}
	return time.Monday
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
