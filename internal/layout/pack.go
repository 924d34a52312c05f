// Package layout assigns calendar occurrences to rows and columns of a
// displayed week so that multi-day bars never collide.
package layout

import (
	"sort"
	"time"

	"plancal/internal/dateutil"
	"plancal/internal/model"
)

// Options tunes a packing pass.
type Options struct {
	// MaxRows is the number of visible rows; occurrences placed at or beyond
	// it are counted in Week.Hidden instead. Zero means unlimited.
	MaxRows int
}

// Slot positions one occurrence inside a week row.
type Slot struct {
	// Event carries the effective start/end, i.e. after any preview override.
	Event           model.Event `json:"event"`
	StartCol        int         `json:"start_col"`
	Span            int         `json:"span"`
	Row             int         `json:"row"`
	ContinuesBefore bool        `json:"continues_before"`
	ContinuesAfter  bool        `json:"continues_after"`
}

// Week is the packed layout for one displayed week.
type Week struct {
	Start time.Time `json:"start"`
	Days  int       `json:"days"`
	Slots []Slot    `json:"slots"`
	// Hidden counts, per day column, the occurrences that did not fit in
	// MaxRows. Surfaced as "+N more".
	Hidden [dateutil.DaysPerWeek]int `json:"hidden"`
	// Rows is the number of visible rows in use.
	Rows int `json:"rows"`
}

type placement struct {
	ev       model.Event
	startDay int // unclipped, relative to the week start
	days     int // unclipped civil days covered
	startCol int
	endCol   int
	before   bool
	after    bool
}

// PackWeek lays out occurrences over [weekStart, weekEnd] (at most seven
// civil days). overrides substitutes the effective start/end of the events
// with matching IDs, typically the one being dragged or resized; inputs are
// never modified.
//
// Occurrences are placed in order of effective start day, then the one
// covering more days first, then start instant, each in the lowest row whose
// columns are all free. An inverted week
// yields an empty Week.
func PackWeek(occurrences []model.Event, weekStart, weekEnd time.Time, overrides map[string]model.Span, opts Options) Week {
	ws := dateutil.DayStart(weekStart)
	week := Week{Start: ws, Slots: []Slot{}}
	if weekEnd.Before(weekStart) {
		return week
	}

	days := dateutil.DaysBetween(ws, weekEnd) + 1
	if days > dateutil.DaysPerWeek {
		days = dateutil.DaysPerWeek
	}
	week.Days = days

	items := make([]placement, 0, len(occurrences))
	for _, ev := range occurrences {
		if sp, ok := overrides[ev.ID]; ok {
			ev.Start, ev.End = sp.Start, sp.End
		}

		startCol := dateutil.DaysBetween(ws, ev.Start)
		endCol := dateutil.DaysBetween(ws, lastInstant(ev))

		p := placement{
			ev:       ev,
			startDay: startCol,
			days:     endCol - startCol + 1,
			before:   startCol < 0,
			after:    endCol > days-1,
		}
		if p.before {
			startCol = 0
		}
		if p.after {
			endCol = days - 1
		}
		if endCol-startCol+1 <= 0 {
			continue
		}
		p.startCol, p.endCol = startCol, endCol
		items = append(items, p)
	}

	sort.SliceStable(items, func(i, j int) bool {
		pa, pb := items[i], items[j]
		if pa.startDay != pb.startDay {
			return pa.startDay < pb.startDay
		}
		if pa.days != pb.days {
			return pa.days > pb.days
		}
		a, b := pa.ev, pb.ev
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if da, db := a.Duration(), b.Duration(); da != db {
			return da > db
		}
		return a.ID < b.ID
	})

	var occupied [][dateutil.DaysPerWeek]bool
	for _, p := range items {
		row := 0
		for ; row < len(occupied); row++ {
			if free(occupied[row], p.startCol, p.endCol) {
				break
			}
		}
		if row == len(occupied) {
			occupied = append(occupied, [dateutil.DaysPerWeek]bool{})
		}
		for c := p.startCol; c <= p.endCol; c++ {
			occupied[row][c] = true
		}

		if opts.MaxRows > 0 && row >= opts.MaxRows {
			for c := p.startCol; c <= p.endCol; c++ {
				week.Hidden[c]++
			}
			continue
		}

		week.Slots = append(week.Slots, Slot{
			Event:           p.ev,
			StartCol:        p.startCol,
			Span:            p.endCol - p.startCol + 1,
			Row:             row,
			ContinuesBefore: p.before,
			ContinuesAfter:  p.after,
		})
		if row+1 > week.Rows {
			week.Rows = row + 1
		}
	}

	return week
}

// HiddenTotal sums the per-day hidden counters.
func (w Week) HiddenTotal() int {
	n := 0
	for _, h := range w.Hidden {
		n += h
	}
	return n
}

// SlotsInRow returns the visible slots of one row, ordered by column.
func (w Week) SlotsInRow(row int) []Slot {
	out := make([]Slot, 0)
	for _, s := range w.Slots {
		if s.Row == row {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartCol < out[j].StartCol })
	return out
}

// lastInstant is the instant used to pick an occurrence's last column. An
// end exactly at midnight (the usual exclusive all-day end) belongs to the
// previous day.
func lastInstant(ev model.Event) time.Time {
	if ev.End.After(ev.Start) && ev.End.Equal(dateutil.DayStart(ev.End)) {
		return ev.End.Add(-time.Nanosecond)
	}
	return ev.End
}

func free(row [dateutil.DaysPerWeek]bool, from, to int) bool {
	for c := from; c <= to; c++ {
		if row[c] {
			return false
		}
	}
	return true
}
