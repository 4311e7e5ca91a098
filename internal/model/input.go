package model

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidationError lists every field that failed validation, keyed by the
// field's wire name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type validator struct {
	fields map[string]string
}

func (v *validator) check(ok bool, field, msg string) {
	if ok {
		return
	}
	if v.fields == nil {
		v.fields = make(map[string]string)
	}
	if _, seen := v.fields[field]; !seen {
		v.fields[field] = msg
	}
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

func minLen(s string, n int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(s)) >= n
}

func validDurationUnit(u DurationUnit) bool {
	switch u {
	case UnitDays, UnitWeeks, UnitMonths, UnitYears:
		return true
	}
	return false
}

func validRecurrenceUnit(u RecurrenceUnit) bool {
	switch u {
	case RecurWeeks, RecurMonths, RecurYears:
		return true
	}
	return false
}

// Credentials is the login form.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c Credentials) Validate() error {
	var v validator
	v.check(minLen(c.Username, 3), "username", "must be at least 3 characters")
	v.check(len(c.Password) >= 6, "password", "must be at least 6 characters")
	return v.err()
}

// Registration is the sign-up form.
type Registration struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r Registration) Validate() error {
	var v validator
	v.check(minLen(r.Username, 3), "username", "must be at least 3 characters")
	v.check(strings.Contains(r.Email, "@"), "email", "invalid email")
	v.check(len(r.Password) >= 6, "password", "must be at least 6 characters")
	return v.err()
}

// EventInput is the event creation form. Date is the start; when nil the
// event starts on the day it is built.
type EventInput struct {
	Name           string         `json:"name" yaml:"name"`
	Kind           Kind           `json:"type" yaml:"type"`
	Date           *time.Time     `json:"date,omitempty" yaml:"date,omitempty"`
	DurationValue  int            `json:"durationValue,omitempty" yaml:"duration_value,omitempty"`
	DurationUnit   DurationUnit   `json:"durationUnit,omitempty" yaml:"duration_unit,omitempty"`
	Recurring      bool           `json:"isRecurring,omitempty" yaml:"recurring,omitempty"`
	RecurrenceUnit RecurrenceUnit `json:"recurrenceUnit,omitempty" yaml:"recurrence_unit,omitempty"`
	AllDay         bool           `json:"isAllDay,omitempty" yaml:"all_day,omitempty"`
}

func (in EventInput) Validate() error {
	var v validator
	v.validateInto(in, "")
	return v.err()
}

func (v *validator) validateInto(in EventInput, prefix string) {
	v.check(minLen(in.Name, 3), prefix+"name", "event name is required")
	v.check(in.Kind == KindDuration || in.Kind == KindSingle, prefix+"type", "must be duration or single")
	if in.Kind == KindDuration {
		v.check(in.DurationValue > 0, prefix+"durationValue", "duration must be greater than 0")
		v.check(validDurationUnit(in.DurationUnit), prefix+"durationUnit", "must be days, weeks, months or years")
	}
	if in.Recurring {
		v.check(validRecurrenceUnit(in.RecurrenceUnit), prefix+"recurrenceUnit", "must be weeks, months or years")
	}
}

// Build turns a validated input into an Event with a fresh ID and resolved
// instants. now supplies the default start day.
func (in EventInput) Build(productID string, now time.Time) (Event, error) {
	if err := in.Validate(); err != nil {
		return Event{}, err
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if in.Date != nil && !in.Date.IsZero() {
		start = *in.Date
	}
	end, err := ResolveEnd(in.Kind, start, in.DurationValue, in.DurationUnit)
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(in.Name),
		Kind:      in.Kind,
		Start:     start,
		End:       end,
		ProductID: productID,
		AllDay:    in.AllDay,
	}
	if in.Kind == KindDuration {
		ev.DurationValue = in.DurationValue
		ev.DurationUnit = in.DurationUnit
	}
	if in.Recurring {
		ev.Recurring = true
		ev.RecurrenceUnit = in.RecurrenceUnit
	}
	return ev, nil
}

// ProductInput is the product creation form, carrying its initial events.
type ProductInput struct {
	Name     string       `json:"name" yaml:"name"`
	Category string       `json:"category" yaml:"category"`
	Events   []EventInput `json:"events" yaml:"events"`
}

func (in ProductInput) Validate() error {
	var v validator
	v.check(minLen(in.Name, 3), "name", "must be at least 3 characters")
	v.check(strings.TrimSpace(in.Category) != "", "category", "a category is required")
	for i, ev := range in.Events {
		v.validateInto(ev, fmt.Sprintf("events[%d].", i))
	}
	return v.err()
}

// EventEdit is the partial update form for an existing event.
type EventEdit struct {
	Title           string         `json:"title"`
	Kind            Kind           `json:"type"`
	DurationValue   *int           `json:"durationValue,omitempty"`
	DurationUnit    DurationUnit   `json:"durationUnit,omitempty"`
	Recurring       bool           `json:"isRecurring"`
	RecurrenceUnit  RecurrenceUnit `json:"recurrenceUnit,omitempty"`
	BackgroundColor string         `json:"backgroundColor,omitempty"`
}

func (in EventEdit) Validate() error {
	var v validator
	v.check(minLen(in.Title, 3), "title", "must be at least 3 characters")
	if in.DurationValue != nil {
		v.check(*in.DurationValue >= 1, "durationValue", "must be at least 1")
	}
	if in.DurationUnit != "" {
		v.check(validDurationUnit(in.DurationUnit), "durationUnit", "must be days, weeks, months or years")
	}
	if in.RecurrenceUnit != "" {
		v.check(validRecurrenceUnit(in.RecurrenceUnit), "recurrenceUnit", "must be weeks, months or years")
	}
	return v.err()
}

// IsValidation reports whether err carries field-level validation errors.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
