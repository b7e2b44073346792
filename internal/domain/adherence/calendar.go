package adherence

import (
	"fmt"
	"sort"
	"time"
)

const dayKeyLayout = "2006-01-02"

// DayKey identifies a civil date, formatted YYYY-MM-DD.
type DayKey string

// DayKeyOf converts t into loc and strips the time of day. A nil loc means UTC.
func DayKeyOf(t time.Time, loc *time.Location) DayKey {
	if loc == nil {
		loc = time.UTC
	}
	return DayKey(t.In(loc).Format(dayKeyLayout))
}

// civilDayKey returns the date of t as written when civil is set, and the
// date of t in loc otherwise.
func civilDayKey(t time.Time, civil bool, loc *time.Location) DayKey {
	if civil {
		return DayKey(t.Format(dayKeyLayout))
	}
	return DayKeyOf(t, loc)
}

// IssuedDay is the civil date the prescription was issued on.
func (p Prescription) IssuedDay(loc *time.Location) DayKey {
	return civilDayKey(p.IssuedAt, p.IssuedCivil, loc)
}

// Day is the civil date the dose is scheduled on.
func (d DoseEvent) Day(loc *time.Location) DayKey {
	return civilDayKey(d.ScheduledAt, d.Civil, loc)
}

// inZone keeps t's wall clock and moves it into loc.
func inZone(t time.Time, loc *time.Location) time.Time {
	y, mo, d := t.Date()
	h, mi, sec := t.Clock()
	return time.Date(y, mo, d, h, mi, sec, t.Nanosecond(), loc)
}

// AnchorCivil returns a copy of prescriptions with every civil timestamp
// pinned to loc, so window checks and day keys agree on the same instant.
func AnchorCivil(prescriptions []Prescription, loc *time.Location) []Prescription {
	if loc == nil {
		loc = time.UTC
	}
	out := clonePrescriptions(prescriptions)
	for i := range out {
		if out[i].IssuedCivil {
			out[i].IssuedAt = inZone(out[i].IssuedAt, loc)
			out[i].IssuedCivil = false
		}
		for j := range out[i].Items {
			doses := out[i].Items[j].Doses
			for k := range doses {
				if doses[k].Civil {
					doses[k].ScheduledAt = inZone(doses[k].ScheduledAt, loc)
					doses[k].Civil = false
				}
			}
		}
	}
	return out
}

// ParseDayKey validates a YYYY-MM-DD string.
func ParseDayKey(s string) (DayKey, error) {
	if _, err := time.Parse(dayKeyLayout, s); err != nil {
		return "", validationError("parse day", fmt.Sprintf("invalid day %q, expected YYYY-MM-DD", s))
	}
	return DayKey(s), nil
}

// Marker is the single activity marker shown on a calendar day.
type Marker int

const (
	MarkerNone Marker = iota
	MarkerIssued
	MarkerActionable
)

func (m Marker) String() string {
	switch m {
	case MarkerIssued:
		return "issued"
	case MarkerActionable:
		return "actionable"
	}
	return "none"
}

// MarshalText renders the marker by name.
func (m Marker) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// DayMark is the state of one calendar day. Selected is tracked apart from
// the marker precedence.
type DayMark struct {
	Day      DayKey `json:"day"`
	Marker   Marker `json:"marker"`
	Selected bool   `json:"selected"`
}

// Calendar holds one mark per day and at most one selected day.
type Calendar struct {
	marks    map[DayKey]*DayMark
	selected DayKey
}

func newCalendar() *Calendar {
	return &Calendar{marks: make(map[DayKey]*DayMark)}
}

func (c *Calendar) entry(day DayKey) *DayMark {
	m, ok := c.marks[day]
	if !ok {
		m = &DayMark{Day: day}
		c.marks[day] = m
	}
	return m
}

// upgrade raises the day's marker to m; it never lowers it.
func (c *Calendar) upgrade(day DayKey, m Marker) {
	e := c.entry(day)
	if m > e.Marker {
		e.Marker = m
	}
}

// Select moves the selection to day, clearing the previous one.
func (c *Calendar) Select(day DayKey) {
	if c.selected != "" {
		if prev, ok := c.marks[c.selected]; ok {
			prev.Selected = false
		}
	}
	c.selected = day
	if day != "" {
		c.entry(day).Selected = true
	}
}

// Selected returns the selected day, or "" if none.
func (c *Calendar) Selected() DayKey {
	return c.selected
}

// Mark returns the mark for day. Days without activity report MarkerNone.
func (c *Calendar) Mark(day DayKey) DayMark {
	if m, ok := c.marks[day]; ok {
		return *m
	}
	return DayMark{Day: day}
}

// Days returns every tracked day sorted by date.
func (c *Calendar) Days() []DayMark {
	out := make([]DayMark, 0, len(c.marks))
	for _, m := range c.marks {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// Aggregator derives calendar views. Location decides which civil date an
// instant belongs to.
type Aggregator struct {
	Location *time.Location
}

// NewAggregator returns an aggregator for loc (nil means UTC).
func NewAggregator(loc *time.Location) Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return Aggregator{Location: loc}
}

// Aggregate builds the marker calendar for annotated prescriptions. Issue
// dates mark their day as issued; an eligible, untaken dose marks its day as
// actionable, which takes precedence over issued.
func (a Aggregator) Aggregate(prescriptions []Prescription, selected DayKey) *Calendar {
	cal := newCalendar()
	for _, p := range prescriptions {
		cal.upgrade(p.IssuedDay(a.Location), MarkerIssued)
		for _, it := range p.Items {
			for _, d := range it.Doses {
				if d.Eligible && !d.Taken {
					cal.upgrade(d.Day(a.Location), MarkerActionable)
				}
			}
		}
	}
	cal.Select(selected)
	return cal
}

// FilterByDay returns the prescriptions issued on day or holding at least one
// dose scheduled on day, in their original order.
func (a Aggregator) FilterByDay(prescriptions []Prescription, day DayKey) []Prescription {
	out := make([]Prescription, 0)
	for _, p := range prescriptions {
		if a.touchesDay(p, day) {
			out = append(out, p)
		}
	}
	return out
}

func (a Aggregator) touchesDay(p Prescription, day DayKey) bool {
	if p.IssuedDay(a.Location) == day {
		return true
	}
	for _, it := range p.Items {
		for _, d := range it.Doses {
			if d.Day(a.Location) == day {
				return true
			}
		}
	}
	return false
}
