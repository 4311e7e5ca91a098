package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ErrUnknownDurationUnit is returned when a duration unit is outside
// days|weeks|months|years.
var ErrUnknownDurationUnit = errors.New("unknown duration unit")

// ParseInstant accepts RFC 3339 timestamps as well as bare calendar dates
// (the upstream API serializes LocalDate values as "2006-01-02"). Bare
// dates are interpreted at midnight in loc (UTC when nil).
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty instant")
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse instant %q: %w", s, err)
	}
	return t, nil
}

// ResolveEnd computes the end instant of an event starting at start.
// Duration events add value×unit with calendar arithmetic; everything
// else ends where it starts.
func ResolveEnd(kind Kind, start time.Time, value int, unit DurationUnit) (time.Time, error) {
	if kind != KindDuration {
		return start, nil
	}
	switch unit {
	case UnitDays:
		return start.AddDate(0, 0, value), nil
	case UnitWeeks:
		return start.AddDate(0, 0, 7*value), nil
	case UnitMonths:
		return start.AddDate(0, value, 0), nil
	case UnitYears:
		return start.AddDate(value, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownDurationUnit, unit)
	}
}

// UnmarshalJSON decodes startDate/endDate with ParseInstant so that both
// date-only and full timestamps are accepted. Unparseable or missing
// values leave the zero time.
func (e *Event) UnmarshalJSON(b []byte) error {
	type alias Event
	aux := struct {
		*alias
		Start string `json:"startDate"`
		End   string `json:"endDate"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if t, err := ParseInstant(aux.Start, nil); err == nil {
		e.Start = t
	}
	if t, err := ParseInstant(aux.End, nil); err == nil {
		e.End = t
	}
	return nil
}
