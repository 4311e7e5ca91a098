package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"matimeline/internal/model"
	"matimeline/internal/timeline"
)

// Extension properties carrying what iCalendar has no field for. RFC 7986
// COLOR only takes CSS3 color names, so hex colors go in their own property.
const (
	propColor = "X-MATIMELINE-COLOR"
	propKind  = "X-MATIMELINE-KIND"
)

// ExportOptions controls calendar-level metadata of an export.
type ExportOptions struct {
	// Name is written as X-WR-CALNAME.
	Name string
	// Now stamps DTSTAMP on every VEVENT. Zero means time.Now().
	Now time.Time
}

// Export renders every event of every product as a VCALENDAR feed.
//
// Recurring single events are not materialized: they carry an RRULE so that
// subscribing clients expand them themselves. Colors follow the projected
// entry, so kind defaults apply to events without overrides.
func Export(products []model.Product, opts ExportOptions) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//matimeline//timeline//EN")
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, p := range products {
		for _, ev := range p.Events {
			entry := timeline.Project(ev, p.Name, p.Category.Name, p.ID)
			addEvent(cal, ev, entry, now)
		}
	}

	return cal.Serialize()
}

func addEvent(cal *ical.Calendar, ev model.Event, entry model.CalendarEntry, now time.Time) {
	ve := cal.AddEvent(entry.ID)
	ve.SetDtStampTime(now.UTC())

	if entry.AllDay {
		ve.SetAllDayStartAt(entry.Start)
		end := entry.End
		// DTEND is exclusive for all-day events.
		if !end.After(entry.Start) {
			end = entry.Start.AddDate(0, 0, 1)
		}
		ve.SetAllDayEndAt(end)
	} else {
		ve.SetStartAt(entry.Start.UTC())
		ve.SetEndAt(entry.End.UTC())
	}

	ve.SetSummary(entry.Title)
	if entry.ExtendedProps.ProductName != "" {
		ve.SetDescription(entry.ExtendedProps.ProductName)
	}
	if entry.ExtendedProps.Category != "" {
		ve.SetProperty(ical.ComponentPropertyCategories, entry.ExtendedProps.Category)
	}
	ve.SetProperty(ical.ComponentProperty(propColor), entry.BackgroundColor)
	ve.SetProperty(ical.ComponentProperty(propKind), string(ev.Kind))

	if rule := rrule(ev); rule != "" {
		ve.AddRrule(rule)
	}
}

// rrule maps the stored recurrence annotation to an RRULE value.
func rrule(ev model.Event) string {
	if ev.Kind != model.KindSingle || !ev.Recurring {
		return ""
	}
	switch ev.RecurrenceUnit {
	case model.RecurWeeks:
		return "FREQ=WEEKLY"
	case model.RecurMonths:
		return "FREQ=MONTHLY"
	case model.RecurYears:
		return "FREQ=YEARLY"
	}
	return ""
}

// recurrenceUnit is the inverse of rrule, ignoring any BY*/COUNT parts.
func recurrenceUnit(raw string) (model.RecurrenceUnit, bool) {
	for _, part := range strings.Split(strings.ToUpper(raw), ";") {
		switch part {
		case "FREQ=WEEKLY":
			return model.RecurWeeks, true
		case "FREQ=MONTHLY":
			return model.RecurMonths, true
		case "FREQ=YEARLY":
			return model.RecurYears, true
		}
	}
	return "", false
}
