package recur

import (
	"errors"
	"math"
	"sort"
	"testing"
	"time"

	"plancal/internal/dateutil"
	"plancal/internal/model"
)

func day(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func recurring(id string, start, end time.Time, freq model.Frequency, interval int, until *time.Time) model.Event {
	return model.Event{
		ID:    id,
		Title: id,
		Kind:  model.KindEvent,
		Start: start,
		End:   end,
		Rule:  &model.RecurrenceRule{Freq: freq, Interval: interval, Until: until},
	}
}

func starts(events []model.Event) []time.Time {
	out := make([]time.Time, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Start)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func assertStarts(t *testing.T, got []model.Event, want ...time.Time) {
	t.Helper()
	gs := starts(got)
	if len(gs) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %v", len(want), len(gs), gs)
	}
	for i := range want {
		if !gs[i].Equal(want[i]) {
			t.Errorf("occurrence %d: want %s, got %s", i, want[i], gs[i])
		}
	}
}

func TestExpand_WeeklyInMonth(t *testing.T) {
	// 2024-01-01 is a Monday.
	ev := recurring("standup", day(2024, 1, 1, 9, 0), day(2024, 1, 1, 10, 0), model.FreqWeekly, 1, nil)
	res, err := Expand([]model.Event{ev}, day(2024, 1, 1, 0, 0), dateutil.EndOfDay(day(2024, 1, 31, 0, 0)), Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	assertStarts(t, res.Events,
		day(2024, 1, 1, 9, 0), day(2024, 1, 8, 9, 0), day(2024, 1, 15, 9, 0),
		day(2024, 1, 22, 9, 0), day(2024, 1, 29, 9, 0))
}

func TestExpand_MonthlyClampsToMonthEnd(t *testing.T) {
	ev := recurring("rent", day(2023, 1, 31, 10, 0), day(2023, 1, 31, 11, 0), model.FreqMonthly, 1, nil)
	res, err := Expand([]model.Event{ev}, day(2023, 1, 1, 0, 0), dateutil.EndOfDay(day(2023, 4, 30, 0, 0)), Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	assertStarts(t, res.Events,
		day(2023, 1, 31, 10, 0), day(2023, 2, 28, 10, 0), day(2023, 3, 31, 10, 0), day(2023, 4, 30, 10, 0))

	leap := recurring("rent", day(2024, 1, 31, 10, 0), day(2024, 1, 31, 11, 0), model.FreqMonthly, 1, nil)
	res, err = Expand([]model.Event{leap}, day(2024, 2, 1, 0, 0), dateutil.EndOfDay(day(2024, 2, 29, 0, 0)), Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	assertStarts(t, res.Events, day(2024, 2, 29, 10, 0))
}

func TestExpand_UntilBeforeWindow(t *testing.T) {
	until := day(2024, 1, 10, 0, 0)
	ev := recurring("old", day(2024, 1, 1, 9, 0), day(2024, 1, 1, 10, 0), model.FreqDaily, 1, &until)
	res, err := Expand([]model.Event{ev}, day(2024, 2, 1, 0, 0), day(2024, 2, 29, 0, 0), Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(res.Events) != 0 {
		t.Fatalf("expected no occurrences, got %d", len(res.Events))
	}
}

func TestExpand_UntilBoundsLastOccurrence(t *testing.T) {
	until := day(2024, 1, 3, 9, 0)
	ev := recurring("short", day(2024, 1, 1, 9, 0), day(2024, 1, 1, 10, 0), model.FreqDaily, 1, &until)
	res, err := Expand([]model.Event{ev}, day(2024, 1, 1, 0, 0), day(2024, 1, 31, 0, 0), Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	assertStarts(t, res.Events, day(2024, 1, 1, 9, 0), day(2024, 1, 2, 9, 0), day(2024, 1, 3, 9, 0))
}

func TestExpand_StartAfterWindow(t *testing.T) {
	ev := recurring("future", day(2025, 1, 1, 9, 0), day(2025, 1, 1, 10, 0), model.FreqDaily, 1, nil)
	res, err := Expand([]model.Event{ev}, day(2024, 1, 1, 0, 0), day(2024, 12, 31, 0, 0), Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(res.Events) != 0 {
		t.Fatalf("expected no occurrences, got %d", len(res.Events))
	}
}

func TestExpand_NonRecurringOverlap(t *testing.T) {
	ws, we := day(2024, 1, 10, 0, 0), day(2024, 1, 20, 0, 0)
	events := []model.Event{
		{ID: "before", Start: day(2024, 1, 1, 0, 0), End: day(2024, 1, 9, 23, 0)},
		{ID: "touch-start", Start: day(2024, 1, 8, 0, 0), End: ws},
		{ID: "inside", Start: day(2024, 1, 12, 0, 0), End: day(2024, 1, 13, 0, 0)},
		{ID: "touch-end", Start: we, End: day(2024, 1, 22, 0, 0)},
		{ID: "after", Start: day(2024, 1, 21, 0, 0), End: day(2024, 1, 22, 0, 0)},
		{ID: "covering", Start: day(2023, 12, 1, 0, 0), End: day(2024, 2, 1, 0, 0)},
	}
	res, err := Expand(events, ws, we, Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	got := map[string]bool{}
	for _, ev := range res.Events {
		got[ev.ID] = true
		if ev.IsInstance() {
			t.Errorf("%s should not be marked as instance", ev.ID)
		}
	}
	for _, id := range []string{"touch-start", "inside", "touch-end", "covering"} {
		if !got[id] {
			t.Errorf("expected %s in output", id)
		}
	}
	for _, id := range []string{"before", "after"} {
		if got[id] {
			t.Errorf("did not expect %s in output", id)
		}
	}
}

func TestExpand_InstanceProperties(t *testing.T) {
	// Three-day event repeating every two weeks.
	base := recurring("retreat", day(2024, 1, 5, 18, 0), day(2024, 1, 7, 12, 0), model.FreqWeekly, 2, nil)
	base.Color = "green"
	ws, we := day(2024, 1, 1, 0, 0), day(2024, 3, 31, 0, 0)

	res, err := Expand([]model.Event{base}, ws, we, Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(res.Events) != 7 {
		t.Fatalf("expected 7 occurrences, got %d", len(res.Events))
	}

	baseDays := dateutil.DaysBetween(base.Start, base.End)
	for _, inst := range res.Events {
		if inst.Rule != nil {
			t.Errorf("%s carries a recurrence rule", inst.ID)
		}
		if !inst.IsInstance() || inst.Instance.ParentID != "retreat" || inst.SeriesID() != "retreat" {
			t.Errorf("%s has wrong parent reference: %+v", inst.ID, inst.Instance)
		}
		if inst.ID != model.InstanceID("retreat", inst.Start) {
			t.Errorf("unexpected instance id %s", inst.ID)
		}
		if d := dateutil.DaysBetween(inst.Start, inst.End); d != baseDays {
			t.Errorf("%s spans %d days, want %d", inst.ID, d, baseDays)
		}
		if inst.Duration() != base.Duration() {
			t.Errorf("%s duration %s, want %s", inst.ID, inst.Duration(), base.Duration())
		}
		if !inst.Overlaps(ws, we) {
			t.Errorf("%s lies outside the window", inst.ID)
		}
		if inst.Color != "green" {
			t.Errorf("payload not carried through: %q", inst.Color)
		}
	}
	if base.Rule == nil || base.Instance != nil {
		t.Error("input event was mutated")
	}
}

func TestExpand_InstanceStartingBeforeWindowIsIncluded(t *testing.T) {
	ev := recurring("weekend", day(2024, 1, 6, 9, 0), day(2024, 1, 8, 9, 0), model.FreqWeekly, 1, nil)
	res, err := Expand([]model.Event{ev}, day(2024, 1, 14, 0, 0), day(2024, 1, 14, 23, 0), Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	assertStarts(t, res.Events, day(2024, 1, 13, 9, 0))
}

func TestExpand_Deterministic(t *testing.T) {
	events := []model.Event{
		recurring("a", day(2024, 1, 1, 9, 0), day(2024, 1, 1, 10, 0), model.FreqDaily, 3, nil),
		recurring("b", day(2023, 6, 15, 9, 0), day(2023, 6, 16, 10, 0), model.FreqMonthly, 1, nil),
		{ID: "c", Start: day(2024, 1, 20, 0, 0), End: day(2024, 1, 20, 1, 0)},
	}
	ws, we := day(2024, 1, 1, 0, 0), day(2024, 2, 29, 0, 0)
	first, err := Expand(events, ws, we, Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	second, err := Expand(events, ws, we, Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(first.Events) != len(second.Events) {
		t.Fatalf("lengths differ: %d vs %d", len(first.Events), len(second.Events))
	}
	ids := map[string]bool{}
	for _, ev := range first.Events {
		ids[ev.ID] = true
	}
	for _, ev := range second.Events {
		if !ids[ev.ID] {
			t.Errorf("second run produced unknown id %s", ev.ID)
		}
	}
}

func TestExpand_MalformedRulesAreCoerced(t *testing.T) {
	zero := recurring("zero", day(2024, 1, 1, 9, 0), day(2024, 1, 1, 10, 0), model.FreqDaily, 0, nil)
	odd := recurring("odd", day(2024, 1, 1, 9, 0), day(2024, 1, 1, 10, 0), model.Frequency("fortnightly"), -4, nil)
	res, err := Expand([]model.Event{zero, odd}, day(2024, 1, 1, 0, 0), dateutil.EndOfDay(day(2024, 1, 5, 0, 0)), Options{})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(res.Events) != 10 {
		t.Fatalf("expected 10 daily occurrences, got %d", len(res.Events))
	}
}

func TestExpand_InvalidWindow(t *testing.T) {
	_, err := Expand(nil, day(2024, 2, 1, 0, 0), day(2024, 1, 1, 0, 0), Options{})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestExpand_IterationCeiling(t *testing.T) {
	ev := recurring("busy", day(2024, 1, 1, 0, 0), day(2024, 1, 1, 0, 30), model.FreqDaily, 1, nil)
	res, err := Expand([]model.Event{ev}, day(2024, 1, 1, 0, 0), day(2034, 1, 1, 0, 0), Options{MaxIterations: 100})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(res.Events) != 100 {
		t.Errorf("expected 100 occurrences, got %d", len(res.Events))
	}
	if len(res.Truncated) != 1 || res.Truncated[0] != "busy" {
		t.Errorf("expected busy to be reported truncated, got %v", res.Truncated)
	}
}

func TestExpand_FarPastSeriesMatchesStepping(t *testing.T) {
	// A series that started long ago must produce the same in-window
	// occurrences as naive stepping, without tripping the ceiling.
	cases := []model.Event{
		recurring("daily", day(1990, 3, 7, 8, 0), day(1990, 3, 8, 9, 0), model.FreqDaily, 3, nil),
		recurring("weekly", day(1995, 5, 5, 8, 0), day(1995, 5, 9, 9, 0), model.FreqWeekly, 2, nil),
		recurring("monthly", day(1980, 1, 31, 8, 0), day(1980, 2, 2, 9, 0), model.FreqMonthly, 1, nil),
		recurring("long-monthly", day(1980, 1, 31, 8, 0), day(1980, 3, 15, 9, 0), model.FreqMonthly, 1, nil),
		recurring("yearly", day(1960, 2, 29, 8, 0), day(1960, 2, 29, 9, 0), model.FreqYearly, 1, nil),
	}
	ws, we := day(2024, 1, 1, 0, 0), day(2024, 6, 30, 0, 0)
	for _, ev := range cases {
		t.Run(ev.ID, func(t *testing.T) {
			res, err := Expand([]model.Event{ev}, ws, we, Options{})
			if err != nil {
				t.Fatalf("Expand failed: %v", err)
			}
			if len(res.Truncated) != 0 {
				t.Fatalf("unexpected truncation")
			}

			var want []time.Time
			dayDiff := dateutil.DaysBetween(ev.Start, ev.End)
			for k := 0; ; k++ {
				s := advance(ev.Start, ev.Rule.Freq, k*ev.Rule.Step())
				if s.After(we) {
					break
				}
				e := instanceEnd(s, ev.End, dayDiff)
				if !e.Before(ws) {
					want = append(want, s)
				}
			}
			assertStarts(t, res.Events, want...)
		})
	}
}

func TestExpand_HugeIntervalYieldsOnlyFirstOccurrence(t *testing.T) {
	start := day(2024, 1, 1, 9, 0)
	cases := []struct {
		freq     model.Frequency
		interval int
	}{
		{model.FreqDaily, math.MaxInt64},
		{model.FreqWeekly, 1 << 61},
		{model.FreqMonthly, 1 << 62},
		{model.FreqYearly, 1 << 61},
		{model.FreqYearly, model.MaxInterval + 1},
	}
	for _, tc := range cases {
		base := recurring("huge", start, day(2024, 1, 1, 10, 0), tc.freq, tc.interval, nil)
		res, err := Expand([]model.Event{base}, day(2023, 1, 1, 0, 0), day(2025, 12, 31, 0, 0), Options{})
		if err != nil {
			t.Fatalf("%s/%d: %v", tc.freq, tc.interval, err)
		}
		if len(res.Truncated) != 0 {
			t.Errorf("%s/%d: unexpectedly truncated", tc.freq, tc.interval)
		}
		assertStarts(t, res.Events, start)
		for _, inst := range res.Events {
			if inst.End.Before(inst.Start) {
				t.Errorf("%s/%d: end %s before start %s", tc.freq, tc.interval, inst.End, inst.Start)
			}
		}
	}

	// A window far after the start reaches the clamped second step without overflow.
	base := recurring("huge", start, day(2024, 1, 1, 10, 0), model.FreqDaily, math.MaxInt64, nil)
	res, err := Expand([]model.Event{base}, day(2030, 1, 1, 0, 0), day(2031, 1, 1, 0, 0), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 0 {
		t.Errorf("expected no occurrences, got %d", len(res.Events))
	}
}
