package model

import "time"

// Kind classifies what a calendar item represents for the planner.
type Kind string

const (
	KindEvent    Kind = "event"
	KindTask     Kind = "task"
	KindDecision Kind = "decision"
)

// ParseKind maps free-form input to a Kind, defaulting to KindEvent.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindTask, KindDecision:
		return Kind(s)
	default:
		return KindEvent
	}
}

// Frequency is the unit a recurrence rule steps by.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

// RecurrenceRule describes "start, then add Interval units, repeat".
type RecurrenceRule struct {
	Freq     Frequency  `json:"freq"`
	Interval int        `json:"interval"`
	Until    *time.Time `json:"until,omitempty"`
}

// MaxInterval bounds Step. Even daily, one step of this size lands past
// year 9999, so larger intervals only ever yield the first occurrence and
// clamping keeps step arithmetic far from int overflow.
const MaxInterval = 1 << 22

// Step returns the interval, coerced into [1, MaxInterval].
func (r RecurrenceRule) Step() int {
	switch {
	case r.Interval <= 0:
		return 1
	case r.Interval > MaxInterval:
		return MaxInterval
	}
	return r.Interval
}

// InstanceOf marks an Event as a generated occurrence of a recurring series.
type InstanceOf struct {
	ParentID      string    `json:"parent_id"`
	OriginalStart time.Time `json:"original_start"`
}

// Event is either a stored base event (Instance == nil) or an ephemeral
// generated instance (Instance != nil, Rule == nil).
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"kind"`
	PlanType    string `json:"plan_type,omitempty"`
	Project     string `json:"project,omitempty"`
	Color       string `json:"color,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    int    `json:"priority,omitempty"`

	// Start and End are both inclusive.
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`

	Rule     *RecurrenceRule `json:"rule,omitempty"`
	Instance *InstanceOf     `json:"instance,omitempty"`

	// SourceID and UID are set for events imported from an ICS feed.
	SourceID string `json:"source_id,omitempty"`
	UID      string `json:"uid,omitempty"`
}

func (e Event) IsRecurring() bool { return e.Rule != nil && e.Instance == nil }

func (e Event) IsInstance() bool { return e.Instance != nil }

// SeriesID is the ID edits should be applied to: the parent for generated
// instances, the event itself otherwise.
func (e Event) SeriesID() string {
	if e.Instance != nil {
		return e.Instance.ParentID
	}
	return e.ID
}

func (e Event) Duration() time.Duration { return e.End.Sub(e.Start) }

// Overlaps reports whether [Start, End] intersects [start, end], both inclusive.
func (e Event) Overlaps(start, end time.Time) bool {
	return !e.Start.After(end) && !e.End.Before(start)
}

// Span is an effective start/end pair, used for preview overrides and edits.
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// InstanceID derives the stable identity of a generated instance.
func InstanceID(parentID string, start time.Time) string {
	return parentID + "@" + start.UTC().Format(time.RFC3339)
}
