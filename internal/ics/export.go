package ics

import (
	"os"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"plancal/internal/model"
)

// Export serializes base events as a VCALENDAR. Recurring events carry an
// RRULE with their DTSTART pinned to the event's zone so DST steps survive
// a round trip.
func Export(events []model.Event, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//plancal//EN")
	cal.SetName("plancal")

	for _, ev := range events {
		if ev.IsInstance() {
			continue
		}
		uid := ev.UID
		if uid == "" {
			uid = ev.ID + "@plancal"
		}
		ve := cal.AddEvent(uid)
		ve.SetDtStampTime(now)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Status != "" {
			ve.SetProperty(ical.ComponentPropertyStatus, strings.ToUpper(ev.Status))
		}
		if ev.Priority != 0 {
			ve.SetPriority(ev.Priority)
		}
		if ev.Color != "" {
			ve.SetProperty(ical.ComponentPropertyColor, ev.Color)
		}
		if ev.Kind != "" && ev.Kind != model.KindEvent {
			ve.SetProperty(ical.ComponentPropertyCategories, strings.ToUpper(string(ev.Kind)))
		}

		switch {
		case ev.AllDay:
			ve.SetAllDayStartAt(ev.Start)
			ve.SetAllDayEndAt(ev.End)
		case ev.Rule != nil && zoneName(ev.Start.Location()) != "":
			loc := ev.Start.Location()
			tz := zoneName(loc)
			if loc == time.Local {
				loc, _ = time.LoadLocation(tz)
			}
			ve.SetProperty(ical.ComponentPropertyDtStart, ev.Start.In(loc).Format("20060102T150405"), ical.WithTZID(tz))
			ve.SetProperty(ical.ComponentPropertyDtEnd, ev.End.In(loc).Format("20060102T150405"), ical.WithTZID(tz))
		default:
			ve.SetStartAt(ev.Start)
			ve.SetEndAt(ev.End)
		}

		if ev.Rule != nil {
			ve.SetProperty(ical.ComponentPropertyRrule, RRuleString(*ev.Rule))
		}
	}
	return cal.Serialize()
}

// RRuleString renders a RecurrenceRule as an RRULE value.
func RRuleString(r model.RecurrenceRule) string {
	var b strings.Builder
	b.WriteString("FREQ=")
	b.WriteString(strings.ToUpper(string(r.Freq)))
	if step := r.Step(); step > 1 {
		b.WriteString(";INTERVAL=")
		b.WriteString(strconv.Itoa(step))
	}
	if r.Until != nil {
		b.WriteString(";UNTIL=")
		b.WriteString(r.Until.UTC().Format("20060102T150405Z"))
	}
	return b.String()
}

// zoneName returns the IANA name to put in a TZID parameter, or "" when the
// event should be written in UTC. time.Local resolves through $TZ; fixed
// zones and names the tz database does not know fall back to UTC.
func zoneName(loc *time.Location) string {
	name := loc.String()
	if loc == time.Local {
		name = strings.TrimPrefix(os.Getenv("TZ"), ":")
	}
	if name == "" || name == "UTC" || name == "Local" {
		return ""
	}
	if _, err := time.LoadLocation(name); err != nil {
		return ""
	}
	return name
}
