package ics

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"plancal/internal/dateutil"
	appLog "plancal/internal/log"
	"plancal/internal/model"
)

// MaxOccurrencesPerSeries caps how many instances one materialized RRULE
// may contribute within the horizon.
const MaxOccurrencesPerSeries = 5000

var idSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("plancal:ics"))

// EventID derives a stable base event ID so re-imports of an unchanged feed
// produce the same rows.
func EventID(sourceID, uid string, start time.Time) string {
	key := sourceID + "\x00" + uid + "\x00" + start.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(idSpace, []byte(key)).String()
}

// ToEvents converts parsed VEVENTs to base events.
//
// An RRULE that only uses FREQ (daily..yearly), INTERVAL and UNTIL becomes a
// model.RecurrenceRule and is expanded on demand like any stored series.
// Everything else (COUNT, BY* parts, EXDATE, RECURRENCE-ID overrides, and
// month-end days whose RFC semantics differ from clamped stepping) is
// materialized into one-off events within [horizonStart, horizonEnd].
func ToEvents(parsed []ParsedEvent, horizonStart, horizonEnd time.Time) ([]model.Event, error) {
	if horizonEnd.Before(horizonStart) {
		return nil, errors.New("ics: horizon end before start")
	}

	bases := make([]ParsedEvent, 0, len(parsed))
	overrides := make(map[string]map[int64]ParsedEvent)
	for _, p := range parsed {
		if p.IsOverride() {
			if overrides[p.UID] == nil {
				overrides[p.UID] = make(map[int64]ParsedEvent)
			}
			overrides[p.UID][p.Recurrence.Unix()] = p
			continue
		}
		bases = append(bases, p)
	}

	out := make([]model.Event, 0, len(bases))
	seenUID := make(map[string]bool, len(bases))
	for _, p := range bases {
		seenUID[p.UID] = true
		ov := overrides[p.UID]

		if p.RawRRule == "" {
			if o, ok := ov[p.Start.Unix()]; ok {
				delete(ov, p.Start.Unix())
				out = append(out, toEvent(o, p.Start))
				continue
			}
			out = append(out, toEvent(p, p.Start))
			continue
		}

		opt, err := rrule.StrToROptionInLocation(p.RawRRule, p.Start.Location())
		if err != nil {
			appLog.Error("ics rrule parse failed, importing first occurrence only", err, "uid", p.UID, "rrule", p.RawRRule)
			out = append(out, toEvent(p, p.Start))
			continue
		}

		if rule, ok := simpleRule(opt, p); ok && len(ov) == 0 {
			ev := toEvent(p, p.Start)
			ev.Rule = rule
			out = append(out, ev)
			continue
		}

		out = append(out, materialize(p, opt, ov, horizonStart, horizonEnd)...)
	}

	// Overrides left over were moved away from an occurrence outside the
	// horizon or belong to a UID without a base.
	for uid, ov := range overrides {
		for _, o := range ov {
			if seenUID[uid] && !spanOverlaps(o.Start, o.End, horizonStart, horizonEnd) {
				continue
			}
			out = append(out, toEvent(o, *o.Recurrence))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func simpleRule(opt *rrule.ROption, p ParsedEvent) (*model.RecurrenceRule, bool) {
	if opt.Count != 0 || len(p.ExDates) > 0 {
		return nil, false
	}
	if len(opt.Bysetpos)+len(opt.Bymonth)+len(opt.Bymonthday)+len(opt.Byyearday)+len(opt.Byweekno)+
		len(opt.Byweekday)+len(opt.Byhour)+len(opt.Byminute)+len(opt.Bysecond)+len(opt.Byeaster) > 0 {
		return nil, false
	}

	var freq model.Frequency
	switch opt.Freq {
	case rrule.DAILY:
		freq = model.FreqDaily
	case rrule.WEEKLY:
		freq = model.FreqWeekly
	case rrule.MONTHLY:
		// RFC 5545 skips months without the day; clamped stepping would not.
		if p.Start.Day() > 28 {
			return nil, false
		}
		freq = model.FreqMonthly
	case rrule.YEARLY:
		if p.Start.Month() == time.February && p.Start.Day() == 29 {
			return nil, false
		}
		freq = model.FreqYearly
	default:
		return nil, false
	}

	rule := &model.RecurrenceRule{Freq: freq, Interval: opt.Interval}
	if rule.Interval <= 0 {
		rule.Interval = 1
	}
	if !opt.Until.IsZero() {
		u := opt.Until
		rule.Until = &u
	}
	return rule, true
}

func materialize(p ParsedEvent, opt *rrule.ROption, ov map[int64]ParsedEvent, horizonStart, horizonEnd time.Time) []model.Event {
	opt.Dtstart = p.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Error("ics rrule invalid, importing first occurrence only", err, "uid", p.UID, "rrule", p.RawRRule)
		return []model.Event{toEvent(p, p.Start)}
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range p.ExDates {
		set.ExDate(ex)
	}

	dur := p.End.Sub(p.Start)
	days := dateutil.DaysBetween(p.Start, p.End)

	// Widen the lower bound so occurrences running into the horizon count.
	times := set.Between(horizonStart.Add(-dur), horizonEnd, true)
	if len(times) > MaxOccurrencesPerSeries {
		appLog.Error("ics rrule truncated", errors.New("max occurrences reached"),
			"uid", p.UID, "cap", MaxOccurrencesPerSeries, "total", len(times))
		times = times[:MaxOccurrencesPerSeries]
	}

	out := make([]model.Event, 0, len(times))
	for _, t := range times {
		if o, ok := ov[t.Unix()]; ok {
			delete(ov, t.Unix())
			out = append(out, toEvent(o, t))
			continue
		}
		inst := p
		inst.Start = t
		if p.AllDay {
			inst.End = dateutil.AddDays(t, days)
		} else {
			inst.End = t.Add(dur)
		}
		out = append(out, toEvent(inst, t))
	}
	return out
}

// toEvent maps a VEVENT to a base event. identity is the occurrence start
// the stable ID is derived from.
func toEvent(p ParsedEvent, identity time.Time) model.Event {
	return model.Event{
		ID:          EventID(p.Source.ID, p.UID, identity),
		Title:       p.Summary,
		Description: p.Description,
		Kind:        kindFromCategories(p.Categories),
		PlanType:    p.Source.PlanType,
		Project:     p.Source.Project,
		Color:       p.Color,
		Status:      p.Status,
		Priority:    p.Priority,
		Start:       p.Start,
		End:         p.End,
		AllDay:      p.AllDay,
		SourceID:    p.Source.ID,
		UID:         p.UID,
	}
}

func kindFromCategories(cats []string) model.Kind {
	for _, c := range cats {
		if k := model.ParseKind(strings.ToLower(c)); k != model.KindEvent {
			return k
		}
	}
	return model.KindEvent
}

func spanOverlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
