// Package gesture tracks one in-flight pointer gesture over a calendar grid
// and turns it into preview overrides for layout and, on release, into a
// commit against the event series.
package gesture

import (
	"errors"
	"time"

	"plancal/internal/dateutil"
	"plancal/internal/model"
)

var (
	ErrGestureActive = errors.New("gesture: another gesture is in progress")
	ErrNoGesture     = errors.New("gesture: no gesture in progress")
)

// Mode is the state of a Machine.
type Mode int

const (
	Idle Mode = iota
	Selecting
	Dragging
	Resizing
)

func (m Mode) String() string {
	switch m {
	case Selecting:
		return "selecting"
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	default:
		return "idle"
	}
}

// Edge picks which end of an event a resize moves.
type Edge int

const (
	EdgeEnd Edge = iota
	EdgeStart
)

// Commit is the outcome of a released gesture.
type Commit struct {
	Mode Mode `json:"mode"`
	// EventID is the event the pointer acted on; it may be a generated
	// instance. TargetID is the stored event the edit must be applied to.
	EventID  string `json:"event_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	// Span is the new span of the acted-on event, or the selected range.
	Span model.Span `json:"span"`
	// StartShift and EndShift are the civil-day moves of each edge.
	StartShift int  `json:"start_shift"`
	EndShift   int  `json:"end_shift"`
	Changed    bool `json:"changed"`
}

// ApplyTo returns target with the commit applied. For a plain event the
// committed span is used as is; for an instance the whole series is shifted
// by the same number of days.
func (c Commit) ApplyTo(target model.Event) model.Event {
	if target.ID == c.EventID {
		target.Start, target.End = c.Span.Start, c.Span.End
		return target
	}
	target.Start = dateutil.AddDays(target.Start, c.StartShift)
	target.End = dateutil.AddDays(target.End, c.EndShift)
	if target.End.Before(target.Start) {
		target.End = target.Start
	}
	return target
}

// CommitFor builds the commit that moves ev to span, as if a gesture had
// produced it.
func CommitFor(ev model.Event, span model.Span) Commit {
	mode := Dragging
	if dateutil.DaysBetween(ev.Start, span.Start) != dateutil.DaysBetween(ev.End, span.End) {
		mode = Resizing
	}
	return newCommit(mode, ev, span)
}

func newCommit(mode Mode, ev model.Event, span model.Span) Commit {
	c := Commit{
		Mode:       mode,
		EventID:    ev.ID,
		TargetID:   ev.SeriesID(),
		Span:       span,
		StartShift: dateutil.DaysBetween(ev.Start, span.Start),
		EndShift:   dateutil.DaysBetween(ev.End, span.End),
	}
	c.Changed = !span.Start.Equal(ev.Start) || !span.End.Equal(ev.End)
	return c
}

// Machine holds at most one active gesture. The zero value is idle and
// ready to use. It is not safe for concurrent use.
type Machine struct {
	mode   Mode
	ev     model.Event
	edge   Edge
	anchor time.Time
	hover  time.Time
}

func (m *Machine) Mode() Mode { return m.mode }

// BeginSelect starts a marquee selection at day.
func (m *Machine) BeginSelect(day time.Time) error {
	if m.mode != Idle {
		return ErrGestureActive
	}
	m.mode = Selecting
	m.anchor, m.hover = day, day
	return nil
}

// BeginDrag starts moving ev; day is the grid day under the pointer.
func (m *Machine) BeginDrag(ev model.Event, day time.Time) error {
	if m.mode != Idle {
		return ErrGestureActive
	}
	m.mode = Dragging
	m.ev = ev
	m.anchor, m.hover = day, day
	return nil
}

// BeginResize starts moving one edge of ev.
func (m *Machine) BeginResize(ev model.Event, edge Edge, day time.Time) error {
	if m.mode != Idle {
		return ErrGestureActive
	}
	m.mode = Resizing
	m.ev = ev
	m.edge = edge
	m.anchor, m.hover = day, day
	return nil
}

// Move records the day now under the pointer. It is a no-op when idle.
func (m *Machine) Move(day time.Time) {
	if m.mode == Idle {
		return
	}
	m.hover = day
}

// Preview returns the override for the event being dragged or resized, or
// nil when no event is in flight.
func (m *Machine) Preview() map[string]model.Span {
	if m.mode != Dragging && m.mode != Resizing {
		return nil
	}
	return map[string]model.Span{m.ev.ID: m.span()}
}

// Selection returns the selected day range while selecting.
func (m *Machine) Selection() (model.Span, bool) {
	if m.mode != Selecting {
		return model.Span{}, false
	}
	return m.selection(), true
}

// Release ends the gesture at day and reports what it did.
func (m *Machine) Release(day time.Time) (Commit, error) {
	if m.mode == Idle {
		return Commit{}, ErrNoGesture
	}
	m.hover = day
	defer m.reset()

	if m.mode == Selecting {
		return Commit{Mode: Selecting, Span: m.selection(), Changed: true}, nil
	}
	return newCommit(m.mode, m.ev, m.span()), nil
}

// Cancel drops the gesture without committing anything.
func (m *Machine) Cancel() {
	m.reset()
}

func (m *Machine) reset() {
	*m = Machine{}
}

func (m *Machine) shift() int {
	return dateutil.DaysBetween(m.anchor, m.hover)
}

func (m *Machine) span() model.Span {
	start, end := m.ev.Start, m.ev.End
	n := m.shift()

	switch m.mode {
	case Dragging:
		return model.Span{Start: dateutil.AddDays(start, n), End: dateutil.AddDays(end, n)}
	case Resizing:
		if m.edge == EdgeStart {
			s := dateutil.AddDays(start, n)
			if s.After(end) {
				if s = onDay(end, start); s.After(end) {
					s = end
				}
			}
			return model.Span{Start: s, End: end}
		}
		e := dateutil.AddDays(end, n)
		if e.Before(start) {
			if e = onDay(start, end); e.Before(start) {
				e = start
			}
		}
		return model.Span{Start: start, End: e}
	}
	return model.Span{Start: start, End: end}
}

// onDay puts clock's time of day on day's date.
func onDay(day, clock time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), day.Location())
}

func (m *Machine) selection() model.Span {
	a, b := m.anchor, m.hover
	if b.Before(a) {
		a, b = b, a
	}
	return model.Span{Start: dateutil.DayStart(a), End: dateutil.EndOfDay(b)}
}
