package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "matimeline/internal/log"
	"matimeline/internal/model"
)

// Import converts the VEVENTs of an ICS payload into events owned by
// productID.
//
//   - A VEVENT whose DTEND is after DTSTART becomes a duration event;
//     its DurationValue/Unit are expressed in whole days.
//   - An all-day VEVENT spanning exactly one day, or one marked single
//     by X-MATIMELINE-KIND, and anything else becomes a single event.
//   - A WEEKLY/MONTHLY/YEARLY RRULE marks the event recurring; other
//     frequencies are ignored.
//   - X-MATIMELINE-COLOR (or a hex COLOR) sets the background color override.
//
// VEVENTs without UID or DTSTART are logged and skipped.
func Import(productID string, body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "product_id", productID)
		return nil, err
	}

	events := make([]model.Event, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(productID, comp)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "product_id", productID)
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics import completed", "product_id", productID, "event_count", len(events))
	return events, nil
}

func parseVEvent(productID string, ve *ical.VEvent) (model.Event, error) {
	out := model.Event{ProductID: productID, Kind: model.KindSingle}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.ID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentProperty(propColor)); p != nil {
		out.BackgroundColor = p.Value
	} else if p := ve.GetProperty(ical.ComponentProperty("COLOR")); p != nil && strings.HasPrefix(p.Value, "#") {
		out.BackgroundColor = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isAllDay(dtStart)

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start
	out.End = start

	if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
		if end, err := ve.GetEndAt(); err == nil && end.After(start) {
			out.End = end
		}
	}

	// A one-day all-day VEVENT is a plain date; the kind marker written by
	// Export takes precedence over that guess.
	single := out.AllDay && out.End.Equal(out.Start.AddDate(0, 0, 1))
	if p := ve.GetProperty(ical.ComponentProperty(propKind)); p != nil {
		switch model.Kind(p.Value) {
		case model.KindSingle:
			single = true
		case model.KindDuration:
			single = false
		}
	}
	if single {
		out.End = out.Start
	}

	if out.End.After(out.Start) {
		days := int(out.End.Sub(out.Start) / (24 * time.Hour))
		if days < 1 {
			days = 1
		}
		out.Kind = model.KindDuration
		out.DurationValue = days
		out.DurationUnit = model.UnitDays
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && out.Kind == model.KindSingle {
		if unit, ok := recurrenceUnit(p.Value); ok {
			out.Recurring = true
			out.RecurrenceUnit = unit
		}
	}

	return out, nil
}

// isAllDay detects VALUE=DATE or a date-only DTSTART value.
func isAllDay(p *ical.IANAProperty) bool {
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}
