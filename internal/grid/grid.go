// Package grid drives the month, multi-month and year views: it expands the
// visible window once and packs every displayed week with the same rules.
package grid

import (
	"sort"
	"time"

	"plancal/internal/dateutil"
	"plancal/internal/layout"
	"plancal/internal/model"
	"plancal/internal/recur"
)

// Density selects how many event rows a week cell shows before "+N more".
type Density string

const (
	DensityCompact Density = "compact"
	DensityRegular Density = "regular"
)

// MaxRows returns the visible row cap for the density.
func (d Density) MaxRows() int {
	if d == DensityCompact {
		return 2
	}
	return 3
}

// ParseDensity maps config/query input to a Density, defaulting to regular.
func ParseDensity(s string) Density {
	if Density(s) == DensityCompact {
		return DensityCompact
	}
	return DensityRegular
}

// Window is a week-aligned range of civil days rendered by a view.
type Window struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	FirstDay time.Weekday
}

// MonthWindow pads a month out to whole weeks.
func MonthWindow(year int, month time.Month, firstDay time.Weekday, loc *time.Location) Window {
	return MultiMonthWindow(year, month, 1, firstDay, loc)
}

// MultiMonthWindow covers n consecutive months starting at year/month,
// padded out to whole weeks.
func MultiMonthWindow(year int, month time.Month, n int, firstDay time.Weekday, loc *time.Location) Window {
	if n < 1 {
		n = 1
	}
	if loc == nil {
		loc = time.Local
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := dateutil.AddDays(dateutil.AddMonthsClamped(first, n), -1)

	start := dateutil.StartOfWeek(first, firstDay)
	end := dateutil.EndOfDay(dateutil.AddDays(dateutil.StartOfWeek(last, firstDay), dateutil.DaysPerWeek-1))
	return Window{Start: start, End: end, FirstDay: firstDay}
}

// YearWindow covers all twelve months of year.
func YearWindow(year int, firstDay time.Weekday, loc *time.Location) Window {
	return MultiMonthWindow(year, time.January, 12, firstDay, loc)
}

// WeekStarts lists the first day of every week in the window.
func (w Window) WeekStarts() []time.Time {
	out := make([]time.Time, 0)
	for ws := dateutil.StartOfWeek(w.Start, w.FirstDay); !ws.After(w.End); ws = dateutil.AddDays(ws, dateutil.DaysPerWeek) {
		out = append(out, ws)
	}
	return out
}

// Options configures Build.
type Options struct {
	Density       Density
	MaxIterations int
}

// Grid is the render-ready result for one view.
type Grid struct {
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Weeks     []layout.Week `json:"weeks"`
	Truncated []string      `json:"truncated,omitempty"`
}

// Build expands events over the window, then packs each week. overrides
// carries the in-flight gesture preview, if any.
func Build(events []model.Event, win Window, overrides map[string]model.Span, opts Options) (Grid, error) {
	res, err := recur.Expand(events, win.Start, win.End, recur.Options{MaxIterations: opts.MaxIterations})
	if err != nil {
		return Grid{}, err
	}

	occ := res.Events
	sort.SliceStable(occ, func(i, j int) bool { return occ[i].Start.Before(occ[j].Start) })

	g := Grid{Start: win.Start, End: win.End, Truncated: res.Truncated}
	packOpts := layout.Options{MaxRows: opts.Density.MaxRows()}

	for _, ws := range win.WeekStarts() {
		we := dateutil.EndOfDay(dateutil.AddDays(ws, dateutil.DaysPerWeek-1))
		week := make([]model.Event, 0)
		for _, ev := range occ {
			start, end := ev.Start, ev.End
			if sp, ok := overrides[ev.ID]; ok {
				start, end = sp.Start, sp.End
			}
			if !start.After(we) && !end.Before(ws) {
				week = append(week, ev)
			}
		}
		g.Weeks = append(g.Weeks, layout.PackWeek(week, ws, we, overrides, packOpts))
	}
	return g, nil
}

// Occurrences flattens the visible slots of every week, deduplicated by
// event ID, in first-seen order.
func (g Grid) Occurrences() []model.Event {
	seen := make(map[string]bool)
	out := make([]model.Event, 0)
	for _, w := range g.Weeks {
		for _, s := range w.Slots {
			if seen[s.Event.ID] {
				continue
			}
			seen[s.Event.ID] = true
			out = append(out, s.Event)
		}
	}
	return out
}
