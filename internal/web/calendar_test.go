package web

import (
	"testing"
	"time"

	"plancal/internal/grid"
	"plancal/internal/layout"
	"plancal/internal/model"
)

func TestNewCalendarPageOrdersSlotsByRow(t *testing.T) {
	ws := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	week := layout.Week{
		Start: ws,
		Days:  7,
		Rows:  2,
		Slots: []layout.Slot{
			{Event: model.Event{ID: "late", Title: "Late"}, StartCol: 4, Span: 1, Row: 0},
			{Event: model.Event{ID: "second", Title: "Second"}, StartCol: 0, Span: 2, Row: 1},
			{Event: model.Event{ID: "early", Title: "Early"}, StartCol: 1, Span: 3, Row: 0},
		},
	}
	week.Hidden[2] = 1

	first := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	page := newCalendarPage(grid.Grid{Weeks: []layout.Week{week}}, first, ws, time.Sunday)

	if page.Title != "March 2024" || page.Weekdays[0] != "Sun" || page.Weekdays[6] != "Sat" {
		t.Errorf("header = %q %v", page.Title, page.Weekdays)
	}
	if page.Prev != "/calendar?year=2024&month=2" || page.Next != "/calendar?year=2024&month=4" {
		t.Errorf("links = %q %q", page.Prev, page.Next)
	}

	got := page.Weeks[0].Slots
	want := []string{"Early", "Late", "Second"}
	if len(got) != len(want) {
		t.Fatalf("slots = %+v", got)
	}
	for i, title := range want {
		if got[i].Title != title {
			t.Errorf("slot %d = %s, want %s", i, got[i].Title, title)
		}
	}

	days := page.Weeks[0].Days
	if !days[0].Today || days[2].Hidden != 1 || days[0].Label != 4 {
		t.Errorf("days = %+v", days)
	}
}
