package ics

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "plancal/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT. Recurrence is
// kept as raw RRULE text; ToEvents decides how to turn it into base events.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	Status      string
	Priority    int
	Categories  []string
	Color       string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on override VEVENTs
}

// IsOverride reports whether the VEVENT replaces one instance of a series.
func (p ParsedEvent) IsOverride() bool { return p.Recurrence != nil }

// ParseICS parses a single ICS payload. VEVENTs that cannot be parsed are
// logged and skipped.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, fmt.Errorf("parse calendar %s: %w", src.ID, err)
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "id", src.ID)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid

	if n, err := strconv.Atoi(propValue(ve, ical.ComponentPropertySequence)); err == nil {
		out.Seq = n
	}
	if n, err := strconv.Atoi(propValue(ve, ical.ComponentPropertyPriority)); err == nil {
		out.Priority = n
	}
	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.Status = strings.ToLower(propValue(ve, ical.ComponentPropertyStatus))
	out.Color = propValue(ve, ical.ComponentPropertyColor)
	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("uid %s: missing DTSTART", uid)
	}
	out.AllDay = isDateValue(dtStart)

	loc := src.location()
	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("uid %s: DTSTART: %w", uid, err)
	}
	start = reanchor(start, dtStart, loc)
	out.Start = start

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		end, err := ve.GetEndAt()
		if err != nil {
			return out, fmt.Errorf("uid %s: DTEND: %w", uid, err)
		}
		out.End = reanchor(end, ve.GetProperty(ical.ComponentPropertyDtEnd), loc)
	case propValue(ve, ical.ComponentPropertyDuration) != "":
		d, err := parseDuration(propValue(ve, ical.ComponentPropertyDuration))
		if err != nil {
			return out, fmt.Errorf("uid %s: DURATION: %w", uid, err)
		}
		out.End = start.Add(d)
	case out.AllDay:
		// RFC 5545: an all-day event without DTEND lasts one day.
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}
	if out.End.Before(out.Start) {
		return out, fmt.Errorf("uid %s: DTEND before DTSTART", uid)
	}

	out.RawRRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			t, err := parseICSTime(part, p.ICalParameters, start.Location())
			if err != nil {
				appLog.Debug("ics exdate ignored", "uid", uid, "value", part, "error", err.Error())
				continue
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		t, err := parseICSTime(rid.Value, rid.ICalParameters, start.Location())
		if err != nil {
			return out, fmt.Errorf("uid %s: RECURRENCE-ID: %w", uid, err)
		}
		out.Recurrence = &t
	}

	return out, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// reanchor moves floating times and dates (no TZID, no UTC marker) from
// the process zone into loc, keeping the wall clock.
func reanchor(t time.Time, p *ical.IANAProperty, loc *time.Location) time.Time {
	if p == nil || strings.HasSuffix(p.Value, "Z") {
		return t
	}
	if _, ok := p.ICalParameters["TZID"]; ok {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// parseICSTime parses DATE / DATE-TIME values honoring the TZID parameter.
// Floating times are interpreted in fallback.
func parseICSTime(v string, params map[string][]string, fallback *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	loc := fallback
	if tz, ok := params["TZID"]; ok && len(tz) > 0 {
		if l, err := time.LoadLocation(strings.Trim(tz[0], `"`)); err == nil {
			loc = l
		}
	}
	if loc == nil {
		loc = time.UTC
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

var durationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseDuration parses an RFC 5545 DURATION value such as "PT1H30M" or "P2D".
func parseDuration(v string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(v)))
	if m == nil || v == "P" || v == "PT" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d += time.Duration(n) * unit
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}
