// Package recur materializes recurring base events into the concrete
// occurrences that fall inside a visible window.
package recur

import (
	"errors"
	"time"

	"plancal/internal/dateutil"
	appLog "plancal/internal/log"
	"plancal/internal/model"
)

const (
	defaultMaxIterations = 5000
)

// ErrInvalidWindow is returned when the window end precedes its start.
var ErrInvalidWindow = errors.New("expand: window end is before window start")

// Options controls how expansion is performed.
type Options struct {
	// MaxIterations caps the number of steps taken for a single recurring
	// event. If zero, defaultMaxIterations is used.
	MaxIterations int
}

// Result wraps the expanded events and the series that hit the step cap.
type Result struct {
	Events []model.Event
	// Truncated records base event IDs whose expansion stopped at
	// MaxIterations before reaching the window end.
	Truncated []string
}

// Expand returns every non-recurring event intersecting [windowStart,
// windowEnd] plus one generated instance per occurrence of every recurring
// event that intersects it. Recurring base events themselves are never
// part of the output. Inputs are not modified.
//
// Malformed rules are coerced (unknown frequency steps daily, interval <= 0
// steps by one); only an inverted window is an error.
func Expand(events []model.Event, windowStart, windowEnd time.Time, opts Options) (Result, error) {
	var result Result

	if windowEnd.Before(windowStart) {
		return result, ErrInvalidWindow
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if !ev.IsRecurring() {
			if ev.Overlaps(windowStart, windowEnd) {
				// Instances never recurse, even if one was handed in with a rule.
				ev.Rule = nil
				out = append(out, ev)
			}
			continue
		}

		occ, hitCap := expandSeries(ev, windowStart, windowEnd, opts.MaxIterations)
		if hitCap {
			result.Truncated = append(result.Truncated, ev.ID)
			appLog.Error("expand: truncated occurrences due to cap",
				errors.New("max iterations reached"),
				"event_id", ev.ID,
				"cap", opts.MaxIterations,
			)
		}
		out = append(out, occ...)
	}

	result.Events = out
	return result, nil
}

func expandSeries(ev model.Event, windowStart, windowEnd time.Time, maxIter int) ([]model.Event, bool) {
	out := make([]model.Event, 0)
	if ev.Start.After(windowEnd) {
		return out, false
	}

	rule := *ev.Rule
	freq := normalizeFrequency(rule.Freq)
	if freq != rule.Freq {
		appLog.Debug("expand: unknown frequency, stepping daily", "event_id", ev.ID, "freq", rule.Freq)
	}
	step := rule.Step()

	// Whole civil days between start and end; each instance keeps the same
	// day count and the base end's time of day.
	dayDiff := dateutil.DaysBetween(ev.Start, ev.End)
	endClock := ev.End.In(ev.Start.Location())

	k := firstUsefulStep(ev.Start, windowStart, freq, step, dayDiff)
	var prev time.Time
	for i := 0; ; i++ {
		start := advance(ev.Start, freq, k*step)
		// Candidates must move strictly forward from the series start.
		if start.Before(ev.Start) || (i > 0 && !start.After(prev)) {
			appLog.Error("expand: recurrence stopped advancing",
				errors.New("non-increasing occurrence start"),
				"event_id", ev.ID,
				"interval", rule.Interval,
			)
			break
		}
		prev = start
		if start.After(windowEnd) {
			break
		}
		if rule.Until != nil && start.After(*rule.Until) {
			break
		}
		if i >= maxIter {
			return out, true
		}

		end := instanceEnd(start, endClock, dayDiff)
		if !end.Before(windowStart) {
			out = append(out, newInstance(ev, start, end))
		}
		k++
	}
	return out, false
}

func normalizeFrequency(f model.Frequency) model.Frequency {
	switch f {
	case model.FreqDaily, model.FreqWeekly, model.FreqMonthly, model.FreqYearly:
		return f
	default:
		return model.FreqDaily
	}
}

// advance returns base moved by n units of freq. Occurrences are always
// computed from the series start, so month clamping never accumulates.
func advance(base time.Time, freq model.Frequency, n int) time.Time {
	switch freq {
	case model.FreqWeekly:
		return dateutil.AddDays(base, 7*n)
	case model.FreqMonthly:
		return dateutil.AddMonthsClamped(base, n)
	case model.FreqYearly:
		return dateutil.AddMonthsClamped(base, 12*n)
	default:
		return dateutil.AddDays(base, n)
	}
}

// firstUsefulStep returns a step index k such that every occurrence before
// k provably ends before windowStart. It is conservative: occurrence k may
// itself still end before the window.
func firstUsefulStep(start, windowStart time.Time, freq model.Frequency, step, dayDiff int) int {
	span := dayDiff + 1
	if span < 1 {
		span = 1
	}

	switch freq {
	case model.FreqMonthly, model.FreqYearly:
		unit := step
		if freq == model.FreqYearly {
			unit = 12 * step
		}
		// A month holds at least 28 days, so starting c+1 months before the
		// window month leaves room for a span of up to 28*c days.
		c := (span + 27) / 28
		gap := dateutil.MonthsBetween(start, windowStart) - 1 - c
		if gap <= 0 {
			return 0
		}
		return gap / unit
	default:
		unit := step
		if freq == model.FreqWeekly {
			unit = 7 * step
		}
		gap := dateutil.DaysBetween(start, windowStart) - span
		if gap <= 0 {
			return 0
		}
		return gap / unit
	}
}

func instanceEnd(start, endClock time.Time, dayDiff int) time.Time {
	d := dateutil.AddDays(dateutil.DayStart(start), dayDiff)
	return time.Date(d.Year(), d.Month(), d.Day(),
		endClock.Hour(), endClock.Minute(), endClock.Second(), endClock.Nanosecond(),
		start.Location())
}

func newInstance(base model.Event, start, end time.Time) model.Event {
	inst := base
	inst.ID = model.InstanceID(base.ID, start)
	inst.Start = start
	inst.End = end
	inst.Rule = nil
	inst.Instance = &model.InstanceOf{
		ParentID:      base.ID,
		OriginalStart: start,
	}
	return inst
}
