package timeline

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "matimeline/internal/log"
	"matimeline/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// ExpandConfig controls opt-in materialization of recurring single events.
type ExpandConfig struct {
	// RangeStart / RangeEnd bound the occurrences (inclusive).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single event's expansion. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the projected entries and the IDs of events that hit
// the occurrence cap.
type ExpandResult struct {
	Entries         []model.CalendarEntry
	TruncatedEvents []string
}

// ExpandRecurring projects every event like ProjectAll, except that
// recurring single events yield one entry per occurrence inside the range.
// Occurrence IDs are the event ID suffixed with the occurrence date.
// Non-recurring events are projected unchanged whether or not they fall in
// the range.
func ExpandRecurring(products []model.Product, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	for _, p := range products {
		for _, ev := range p.Events {
			base := Project(ev, p.Name, p.Category.Name, p.ID)

			freq, ok := recurrenceFreq(ev)
			if !ok {
				result.Entries = append(result.Entries, base)
				continue
			}

			occ, hitCap, err := occurrences(ev, freq, cfg)
			if err != nil {
				appLog.Error("expand: failed to build recurrence rule", err, "event_id", ev.ID, "unit", ev.RecurrenceUnit)
				result.Entries = append(result.Entries, base)
				continue
			}
			if hitCap {
				result.TruncatedEvents = append(result.TruncatedEvents, ev.ID)
				appLog.Error("expand: truncated occurrences for event due to cap",
					errors.New("max occurrences reached"),
					"event_id", ev.ID,
					"cap", cfg.MaxOccurrencesPerEvent,
				)
			}

			span := ev.End.Sub(ev.Start)
			for _, start := range occ {
				e := base
				e.ID = ev.ID + "@" + start.Format("2006-01-02")
				e.Start = start
				e.End = start.Add(span)
				result.Entries = append(result.Entries, e)
			}
		}
	}

	return result, nil
}

func recurrenceFreq(ev model.Event) (rrule.Frequency, bool) {
	if ev.Kind != model.KindSingle || !ev.Recurring || ev.Start.IsZero() {
		return 0, false
	}
	switch ev.RecurrenceUnit {
	case model.RecurWeeks:
		return rrule.WEEKLY, true
	case model.RecurMonths:
		return rrule.MONTHLY, true
	case model.RecurYears:
		return rrule.YEARLY, true
	}
	return 0, false
}

func occurrences(ev model.Event, freq rrule.Frequency, cfg ExpandConfig) ([]time.Time, bool, error) {
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     freq,
		Interval: 1,
		Dtstart:  ev.Start,
	})
	if err != nil {
		return nil, false, err
	}

	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	times := r.Between(rangeStart, rangeEnd, true)
	if len(times) > cfg.MaxOccurrencesPerEvent {
		return times[:cfg.MaxOccurrencesPerEvent], true, nil
	}
	return times, false, nil
}
