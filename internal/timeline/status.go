package timeline

import (
	"strings"
	"time"

	"matimeline/internal/model"
)

// Status is the position of an event relative to now. For a fixed
// (start, end) it only ever moves Upcoming -> Ongoing -> Expired.
type Status int

const (
	Upcoming Status = iota
	Ongoing
	Expired
)

func (s Status) String() string {
	switch s {
	case Ongoing:
		return "ongoing"
	case Expired:
		return "expired"
	default:
		return "upcoming"
	}
}

// ClassName is the CSS class the timeline front-end expects.
func (s Status) ClassName() string {
	return "events-" + s.String()
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Classify places now relative to [start, end]. Both boundaries count as
// ongoing.
func Classify(start, end, now time.Time) Status {
	switch {
	case end.Before(now):
		return Expired
	case !start.After(now):
		return Ongoing
	default:
		return Upcoming
	}
}

// StyleClass is the gradient treatment for an entry in a given status.
type StyleClass struct {
	Background string `json:"background"`
	Border     string `json:"border"`
	Glow       string `json:"glow"`
}

// StyleClasses picks the gradient classes for an entry: expired entries
// are gray, single events emerald, warranties indigo, everything else blue.
func StyleClasses(entry model.CalendarEntry, status Status) StyleClass {
	switch {
	case status == Expired:
		return StyleClass{"from-gray-600 to-gray-700", "border-gray-700", "after:bg-gray-400/10"}
	case entry.ExtendedProps.Kind == model.KindSingle:
		return StyleClass{"from-emerald-500 to-emerald-600", "border-emerald-700", "after:bg-emerald-400/10"}
	case strings.Contains(strings.ToLower(entry.Title), "garantie"):
		return StyleClass{"from-indigo-500 to-indigo-600", "border-indigo-700", "after:bg-indigo-400/10"}
	default:
		return StyleClass{"from-blue-500 to-blue-600", "border-blue-700", "after:bg-blue-400/10"}
	}
}
