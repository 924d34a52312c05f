package web

import (
	"bytes"
	"net/http"
	"time"

	"plancal/internal/dateutil"
	"plancal/internal/grid"
	appLog "plancal/internal/log"
)

type calendarPage struct {
	Title    string
	Weekdays []string
	Weeks    []calendarWeek
	Prev     string
	Next     string
	Density  string
}

type calendarWeek struct {
	Days  []calendarDay
	Slots []calendarSlot
	Rows  int
}

type calendarDay struct {
	Col     int
	Label   int
	InMonth bool
	Today   bool
	Hidden  int
}

type calendarSlot struct {
	Title  string
	Kind   string
	Color  string
	Col    int
	Span   int
	Row    int
	Before bool
	After  bool
}

// handleCalendar renders a month grid as plain HTML. The root element
// carries data-ready="true" once rendered so headless capture can wait on it.
//
// GET /calendar?year=2024&month=3&density=compact
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	win, err := s.windowFor("month", q.Get("year"), q.Get("month"), "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	density := grid.ParseDensity(s.cfg.Density)
	if d := q.Get("density"); d != "" {
		density = grid.ParseDensity(d)
	}

	g, err := s.buildGrid(r.Context(), win, density, q.Get("plan_type"), q.Get("project"))
	if err != nil {
		appLog.Error("calendar: build failed", err)
		http.Error(w, "failed to build calendar", http.StatusInternalServerError)
		return
	}

	now := s.now().In(s.loc)
	year, month := now.Year(), now.Month()
	if v := q.Get("year"); v != "" {
		year = parseIntDefault(v, year)
	}
	if v := q.Get("month"); v != "" {
		month = time.Month(parseIntDefault(v, int(month)))
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, s.loc)
	page := newCalendarPage(g, first, dateutil.DayStart(now), s.firstDay)
	page.Density = string(density)

	var buf bytes.Buffer
	if err := s.page.Execute(&buf, page); err != nil {
		appLog.Error("calendar: render failed", err)
		http.Error(w, "failed to render calendar", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func newCalendarPage(g grid.Grid, first, today time.Time, firstDay time.Weekday) calendarPage {
	prev := dateutil.AddMonthsClamped(first, -1)
	next := dateutil.AddMonthsClamped(first, 1)
	page := calendarPage{
		Title: first.Format("January 2006"),
		Prev:  "/calendar?year=" + prev.Format("2006") + "&month=" + prev.Format("1"),
		Next:  "/calendar?year=" + next.Format("2006") + "&month=" + next.Format("1"),
	}
	for i := 0; i < dateutil.DaysPerWeek; i++ {
		page.Weekdays = append(page.Weekdays, time.Weekday((int(firstDay) + i) % dateutil.DaysPerWeek).String()[:3])
	}

	for _, wk := range g.Weeks {
		cw := calendarWeek{Rows: wk.Rows}
		for col := 0; col < wk.Days; col++ {
			day := dateutil.AddDays(wk.Start, col)
			cw.Days = append(cw.Days, calendarDay{
				Col:     col,
				Label:   day.Day(),
				InMonth: day.Month() == first.Month(),
				Today:   day.Equal(today),
				Hidden:  wk.Hidden[col],
			})
		}
		// Row by row, left to right, so the markup reads in display order.
		for row := 0; row < wk.Rows; row++ {
			for _, sl := range wk.SlotsInRow(row) {
				cw.Slots = append(cw.Slots, calendarSlot{
					Title:  sl.Event.Title,
					Kind:   string(sl.Event.Kind),
					Color:  sl.Event.Color,
					Col:    sl.StartCol,
					Span:   sl.Span,
					Row:    sl.Row,
					Before: sl.ContinuesBefore,
					After:  sl.ContinuesAfter,
				})
			}
		}
		page.Weeks = append(page.Weeks, cw)
	}
	return page
}
