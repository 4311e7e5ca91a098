package timeline

import (
	"strconv"
	"strings"
	"time"
)

// Translation keys used when formatting a RemainingTime.
const (
	KeyExpired = "common.time.expired"
	KeyYear    = "common.time.year"
	KeyYears   = "common.time.years"
	KeyMonth   = "common.time.month"
	KeyMonths  = "common.time.months"
	KeyDay     = "common.time.day"
	KeyDays    = "common.time.days"
)

const day = 24 * time.Hour

// Translator resolves a label key into display text.
type Translator interface {
	T(key string) string
}

// TranslatorFunc adapts a plain function to Translator.
type TranslatorFunc func(key string) string

func (f TranslatorFunc) T(key string) string { return f(key) }

// RemainingTime is either expired or a (years, months, days) countdown.
//
// The decomposition uses fixed 365-day years and 30-day months, takes the
// days from what is left after both, and adds one to the day count. It is
// an approximation, not calendar arithmetic, and displayed countdowns
// depend on it staying that way.
type RemainingTime struct {
	Expired bool `json:"expired"`
	Years   int  `json:"years"`
	Months  int  `json:"months"`
	Days    int  `json:"days"`
}

// Remaining computes the countdown from now until target. A nil or zero
// target, or one at or before now, is expired.
func Remaining(target *time.Time, now time.Time) RemainingTime {
	if target == nil || target.IsZero() {
		return RemainingTime{Expired: true}
	}
	diff := target.Sub(now)
	if diff <= 0 {
		return RemainingTime{Expired: true}
	}

	diffDays := int(diff / day)
	rest := diffDays % 365
	return RemainingTime{
		Years:  diffDays / 365,
		Months: rest / 30,
		Days:   rest%30 + 1,
	}
}

// Components returns the (value, singular key, plural key) triples to
// display. Once a larger unit is shown every smaller unit is shown too,
// even when zero.
func (r RemainingTime) Components() []Component {
	if r.Expired {
		return nil
	}
	var out []Component
	if r.Years > 0 {
		out = append(out, Component{r.Years, KeyYear, KeyYears})
	}
	if r.Months > 0 || len(out) > 0 {
		out = append(out, Component{r.Months, KeyMonth, KeyMonths})
	}
	if r.Days > 0 || len(out) > 0 {
		out = append(out, Component{r.Days, KeyDay, KeyDays})
	}
	return out
}

// Component is one numeric unit of a countdown.
type Component struct {
	Value    int
	Singular string
	Plural   string
}

// Key picks the singular key when Value is exactly 1.
func (c Component) Key() string {
	if c.Value == 1 {
		return c.Singular
	}
	return c.Plural
}

// Format renders r with labels from t, e.g. "1 year 1 month 6 days".
func (r RemainingTime) Format(t Translator) string {
	if r.Expired {
		return t.T(KeyExpired)
	}
	comps := r.Components()
	parts := make([]string, 0, len(comps))
	for _, c := range comps {
		parts = append(parts, strconv.Itoa(c.Value)+" "+t.T(c.Key()))
	}
	return strings.Join(parts, " ")
}
