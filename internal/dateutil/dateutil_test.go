package dateutil

import (
	"testing"
	"time"
)

func TestAddMonthsClamped(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		n    int
		want time.Time
	}{
		{"jan31 to feb", time.Date(2023, 1, 31, 9, 30, 0, 0, time.UTC), 1, time.Date(2023, 2, 28, 9, 30, 0, 0, time.UTC)},
		{"jan31 to feb leap", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"jan31 to mar", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 2, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)},
		{"jan31 to apr", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 3, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)},
		{"across year", time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC), 3, time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)},
		{"backwards", time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), -1, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"backwards across year", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), -13, time.Date(2022, 12, 10, 0, 0, 0, 0, time.UTC)},
		{"leap day yearly", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), 12, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AddMonthsClamped(tc.in, tc.n)
			if !got.Equal(tc.want) {
				t.Errorf("AddMonthsClamped(%s, %d) = %s, want %s", tc.in, tc.n, got, tc.want)
			}
		})
	}
}

func TestDaysBetweenAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	a := time.Date(2024, 3, 30, 12, 0, 0, 0, loc)
	b := time.Date(2024, 4, 1, 1, 0, 0, 0, loc)
	if got := DaysBetween(a, b); got != 2 {
		t.Errorf("DaysBetween = %d, want 2", got)
	}
	if got := DaysBetween(b, a); got != -2 {
		t.Errorf("DaysBetween reversed = %d, want -2", got)
	}
}

func TestStartOfWeek(t *testing.T) {
	wed := time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC)
	if got := StartOfWeek(wed, time.Monday); !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monday start = %s", got)
	}
	if got := StartOfWeek(wed, time.Sunday); !got.Equal(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("sunday start = %s", got)
	}
	sun := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	if got := StartOfWeek(sun, time.Monday); !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("sunday under monday start = %s", got)
	}
}

func TestParseWeekday(t *testing.T) {
	if ParseWeekday("sunday") != time.Sunday {
		t.Error("sunday not parsed")
	}
	if ParseWeekday(" Monday ") != time.Monday {
		t.Error("Monday not parsed")
	}
	if ParseWeekday("someday") != time.Monday {
		t.Error("unknown should default to monday")
	}
}
