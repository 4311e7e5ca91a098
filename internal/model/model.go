package model

import "time"

// Kind distinguishes span-based events from point-in-time ones.
type Kind string

const (
	KindDuration Kind = "duration"
	KindSingle   Kind = "single"
)

// DurationUnit is the unit of Event.DurationValue.
type DurationUnit string

const (
	UnitDays   DurationUnit = "days"
	UnitWeeks  DurationUnit = "weeks"
	UnitMonths DurationUnit = "months"
	UnitYears  DurationUnit = "years"
)

// RecurrenceUnit is the cadence of a recurring single event.
type RecurrenceUnit string

const (
	RecurWeeks  RecurrenceUnit = "weeks"
	RecurMonths RecurrenceUnit = "months"
	RecurYears  RecurrenceUnit = "years"
)

// VisualStyle holds optional color overrides. An empty field means
// "use the kind default".
type VisualStyle struct {
	BackgroundColor string `json:"backgroundColor,omitempty" yaml:"background_color,omitempty"`
	BorderColor     string `json:"borderColor,omitempty" yaml:"border_color,omitempty"`
	TextColor       string `json:"textColor,omitempty" yaml:"text_color,omitempty"`
}

// Event is a tracked deadline or duration window owned by a Product.
//
// Field names on the wire follow the upstream API so that payloads decode
// without an intermediate DTO.
type Event struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Kind  Kind   `json:"type" yaml:"type"`

	// Duration events only.
	DurationValue int          `json:"durationValue,omitempty" yaml:"duration_value,omitempty"`
	DurationUnit  DurationUnit `json:"durationUnit,omitempty" yaml:"duration_unit,omitempty"`

	// Single events only. Recurrence is stored, not materialized, unless
	// expansion is explicitly requested (see timeline.ExpandRecurring).
	Recurring      bool           `json:"isRecurring,omitempty" yaml:"recurring,omitempty"`
	RecurrenceUnit RecurrenceUnit `json:"recurrenceUnit,omitempty" yaml:"recurrence_unit,omitempty"`

	// Resolved instants used for timeline placement. End >= Start.
	Start time.Time `json:"startDate" yaml:"start"`
	End   time.Time `json:"endDate" yaml:"end"`

	ProductID string `json:"productId" yaml:"product_id"`
	AllDay    bool   `json:"allDay" yaml:"all_day"`

	VisualStyle `yaml:",inline"`
}

// Category groups products on the timeline.
type Category struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Product is a user-defined tracked item; it owns its events.
type Product struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Category Category `json:"category" yaml:"category"`
	Events   []Event  `json:"events" yaml:"events"`
}

// ExtendedProps carries product context alongside a CalendarEntry.
type ExtendedProps struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Category    string `json:"category"`
	Kind        Kind   `json:"type"`
}

// CalendarEntry is the display-ready projection of an Event. It is
// rebuilt on every fetch and never persisted.
type CalendarEntry struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	AllDay     bool      `json:"allDay"`
	ResourceID string    `json:"resourceId"`
	VisualStyle
	ExtendedProps ExtendedProps `json:"extendedProps"`
}

// Resource is a timeline row; one per Product.
type Resource struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// User is the authenticated account as returned by the API.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}
