package timeline

import (
	"testing"
	"time"

	"matimeline/internal/model"
)

var labels = TranslatorFunc(func(key string) string {
	switch key {
	case KeyExpired:
		return "expired"
	case KeyYear:
		return "year"
	case KeyYears:
		return "years"
	case KeyMonth:
		return "month"
	case KeyMonths:
		return "months"
	case KeyDay:
		return "day"
	case KeyDays:
		return "days"
	}
	return key
})

func at(ts string) time.Time {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return t
}

func TestRemainingFourHundredDays(t *testing.T) {
	now := at("2025-01-01T12:00:00Z")
	target := now.Add(400 * day)

	got := Remaining(&target, now)
	want := RemainingTime{Years: 1, Months: 1, Days: 6}
	if got != want {
		t.Fatalf("want %+v, got %+v", want, got)
	}
	if s := got.Format(labels); s != "1 year 1 month 6 days" {
		t.Fatalf("unexpected format %q", s)
	}
}

func TestRemainingDaysAfterYearsAndMonths(t *testing.T) {
	now := at("2025-01-01T12:00:00Z")
	// 791 = 2*365 + 2*30 + 1; days count what is left after both.
	target := now.Add(791 * day)

	got := Remaining(&target, now)
	want := RemainingTime{Years: 2, Months: 2, Days: 2}
	if got != want {
		t.Fatalf("want %+v, got %+v", want, got)
	}
}

func TestRemainingExpired(t *testing.T) {
	now := at("2025-01-01T12:00:00Z")

	past := now.Add(-time.Second)
	if r := Remaining(&past, now); !r.Expired {
		t.Fatalf("past target should be expired: %+v", r)
	}
	if r := Remaining(&now, now); !r.Expired {
		t.Fatalf("zero diff should be expired: %+v", r)
	}
	if r := Remaining(nil, now); !r.Expired {
		t.Fatalf("nil target should be expired")
	}
	var zero time.Time
	if r := Remaining(&zero, now); !r.Expired {
		t.Fatalf("zero target should be expired")
	}
	if s := (RemainingTime{Expired: true}).Format(labels); s != "expired" {
		t.Fatalf("unexpected expired label %q", s)
	}
}

func TestRemainingCascade(t *testing.T) {
	now := at("2025-01-01T00:00:00Z")

	cases := []struct {
		name string
		in   time.Duration
		want string
	}{
		{"under a day", 3 * time.Hour, "1 day"},
		{"days only", 10 * day, "11 days"},
		{"months and days", 45 * day, "1 month 16 days"},
		// 365 days: months is zero but still shown because years is.
		{"years show zero months", 365 * day, "1 year 0 months 1 day"},
		{"plural years", 2*365*day + 61*day, "2 years 2 months 2 days"},
	}
	for _, c := range cases {
		target := now.Add(c.in)
		got := Remaining(&target, now).Format(labels)
		if got != c.want {
			t.Fatalf("%s: want %q, got %q", c.name, c.want, got)
		}
	}
}

func TestRemainingDaysOnlyHasOneComponent(t *testing.T) {
	now := at("2025-01-01T00:00:00Z")
	for d := 0; d < 30; d++ {
		target := now.Add(time.Duration(d)*day + time.Minute)
		comps := Remaining(&target, now).Components()
		if len(comps) != 1 || comps[0].Singular != KeyDay {
			t.Fatalf("%d days: expected a single day component, got %+v", d, comps)
		}
	}
}

func TestClassifyBoundaries(t *testing.T) {
	start := at("2025-03-01T00:00:00Z")
	end := at("2025-03-10T00:00:00Z")

	cases := []struct {
		now  time.Time
		want Status
	}{
		{start.Add(-time.Nanosecond), Upcoming},
		{start, Ongoing},
		{start.Add(48 * time.Hour), Ongoing},
		{end, Ongoing},
		{end.Add(time.Nanosecond), Expired},
	}
	for _, c := range cases {
		if got := Classify(start, end, c.now); got != c.want {
			t.Fatalf("now=%v: want %v, got %v", c.now, c.want, got)
		}
	}
}

func TestClassifyAroundNow(t *testing.T) {
	now := at("2025-06-15T08:00:00Z")
	if got := Classify(now.Add(-day), now.Add(day), now); got != Ongoing {
		t.Fatalf("want ongoing, got %v", got)
	}
}

func TestClassifyMonotonic(t *testing.T) {
	start := at("2025-03-01T00:00:00Z")
	end := start.Add(36 * time.Hour)

	prev := Upcoming
	for now := start.Add(-72 * time.Hour); now.Before(end.Add(72 * time.Hour)); now = now.Add(time.Hour) {
		got := Classify(start, end, now)
		if got < prev {
			t.Fatalf("status regressed from %v to %v at %v", prev, got, now)
		}
		prev = got
	}
	if prev != Expired {
		t.Fatalf("expected to end expired, got %v", prev)
	}
}

func TestStatusNames(t *testing.T) {
	if Ongoing.ClassName() != "events-ongoing" || Expired.String() != "expired" || Upcoming.String() != "upcoming" {
		t.Fatalf("unexpected status names")
	}
	b, _ := Expired.MarshalText()
	if string(b) != "expired" {
		t.Fatalf("unexpected text %q", b)
	}
}

func TestProjectDurationDefaults(t *testing.T) {
	ev := model.Event{
		ID:        "e1",
		Title:     "Warranty",
		Kind:      model.KindDuration,
		Start:     at("2025-01-01T00:00:00Z"),
		End:       at("2027-01-01T00:00:00Z"),
		ProductID: "p1",
		AllDay:    true,
	}
	got := Project(ev, "Car", "Vehicles", "p1")

	want := model.VisualStyle{BackgroundColor: "#6366f1", BorderColor: "#4f46e5", TextColor: "#ffffff"}
	if got.VisualStyle != want {
		t.Fatalf("want %+v, got %+v", want, got.VisualStyle)
	}
	if got.ResourceID != "p1" || got.ExtendedProps.ProductName != "Car" || got.ExtendedProps.Category != "Vehicles" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if !got.Start.Equal(ev.Start) || !got.End.Equal(ev.End) || !got.AllDay {
		t.Fatalf("instants not carried over: %+v", got)
	}
}

func TestProjectSingleOverride(t *testing.T) {
	ev := model.Event{
		ID:          "e2",
		Title:       "Insurance",
		Kind:        model.KindSingle,
		VisualStyle: model.VisualStyle{BackgroundColor: "#123456"},
	}
	got := Project(ev, "House", "Home", "p2")

	if got.BackgroundColor != "#123456" {
		t.Fatalf("override lost: %q", got.BackgroundColor)
	}
	if got.BorderColor != SingleStyle.BorderColor || got.TextColor != SingleStyle.TextColor {
		t.Fatalf("expected single defaults, got %+v", got.VisualStyle)
	}
}

func TestProjectUnknownKindUsesDurationPalette(t *testing.T) {
	got := Project(model.Event{ID: "e3", Kind: "mystery"}, "X", "Y", "p3")
	if got.VisualStyle != DurationStyle {
		t.Fatalf("want duration palette, got %+v", got.VisualStyle)
	}
}

func TestProjectAllAndResources(t *testing.T) {
	products := []model.Product{
		{ID: "p1", Name: "Car", Category: model.Category{ID: "c1", Name: "Vehicles"}, Events: []model.Event{
			{ID: "e1", Kind: model.KindDuration, ProductID: "p1"},
			{ID: "e2", Kind: model.KindSingle, ProductID: "p1"},
		}},
		{ID: "p2", Name: "Laptop", Category: model.Category{ID: "c2", Name: "Electronics"}},
		{ID: "p3", Name: "House", Category: model.Category{ID: "c3", Name: "Home"}, Events: []model.Event{
			{ID: "e3", Kind: model.KindSingle, ProductID: "p3"},
		}},
	}

	entries := ProjectAll(products)
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}
	byID := make(map[string]model.CalendarEntry)
	for _, e := range entries {
		byID[e.ID] = e
	}
	if byID["e2"].ResourceID != "p1" || byID["e3"].ResourceID != "p3" {
		t.Fatalf("entries bound to wrong resources: %+v", byID)
	}

	res := Resources(products)
	if len(res) != 3 || res[1].ID != "p2" || res[1].Title != "Laptop" || res[1].Category != "Electronics" {
		t.Fatalf("unexpected resources: %+v", res)
	}
}

func TestStyleClasses(t *testing.T) {
	single := model.CalendarEntry{Title: "x", ExtendedProps: model.ExtendedProps{Kind: model.KindSingle}}
	warranty := model.CalendarEntry{Title: "Garantie TV", ExtendedProps: model.ExtendedProps{Kind: model.KindDuration}}
	plain := model.CalendarEntry{Title: "Lease", ExtendedProps: model.ExtendedProps{Kind: model.KindDuration}}

	if got := StyleClasses(single, Expired).Border; got != "border-gray-700" {
		t.Fatalf("expired wins over kind, got %q", got)
	}
	if got := StyleClasses(single, Upcoming).Border; got != "border-emerald-700" {
		t.Fatalf("single: %q", got)
	}
	if got := StyleClasses(warranty, Ongoing).Border; got != "border-indigo-700" {
		t.Fatalf("warranty: %q", got)
	}
	if got := StyleClasses(plain, Ongoing).Border; got != "border-blue-700" {
		t.Fatalf("plain: %q", got)
	}
}

func TestExpandRecurring(t *testing.T) {
	start := at("2025-01-15T09:00:00Z")
	products := []model.Product{{
		ID: "p1", Name: "Car", Category: model.Category{Name: "Vehicles"},
		Events: []model.Event{
			{ID: "inspection", Kind: model.KindSingle, Recurring: true, RecurrenceUnit: model.RecurMonths, Start: start, End: start},
			{ID: "warranty", Kind: model.KindDuration, Start: start, End: start.AddDate(1, 0, 0)},
		},
	}}

	res, err := ExpandRecurring(products, ExpandConfig{
		RangeStart: at("2025-03-01T00:00:00Z"),
		RangeEnd:   at("2025-06-30T00:00:00Z"),
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	var occ []model.CalendarEntry
	var other int
	for _, e := range res.Entries {
		if e.ID == "warranty" {
			other++
			continue
		}
		occ = append(occ, e)
	}
	if other != 1 {
		t.Fatalf("non-recurring event must be projected once, got %d", other)
	}
	if len(occ) != 4 {
		t.Fatalf("want 4 monthly occurrences (Mar-Jun), got %d: %+v", len(occ), occ)
	}
	if occ[0].ID != "inspection@2025-03-15" || occ[0].ResourceID != "p1" {
		t.Fatalf("unexpected first occurrence: %+v", occ[0])
	}
	if !occ[0].Start.Equal(at("2025-03-15T09:00:00Z")) {
		t.Fatalf("unexpected first start: %v", occ[0].Start)
	}
}

func TestExpandRecurringCap(t *testing.T) {
	start := at("2020-01-06T00:00:00Z")
	products := []model.Product{{ID: "p1", Events: []model.Event{
		{ID: "weekly", Kind: model.KindSingle, Recurring: true, RecurrenceUnit: model.RecurWeeks, Start: start, End: start},
	}}}

	res, err := ExpandRecurring(products, ExpandConfig{
		RangeStart:             start,
		RangeEnd:               start.AddDate(1, 0, 0),
		MaxOccurrencesPerEvent: 10,
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.Entries) != 10 || len(res.TruncatedEvents) != 1 || res.TruncatedEvents[0] != "weekly" {
		t.Fatalf("cap not applied: %d entries, truncated %v", len(res.Entries), res.TruncatedEvents)
	}

	if _, err := ExpandRecurring(products, ExpandConfig{RangeStart: start, RangeEnd: start.Add(-time.Hour)}); err == nil {
		t.Fatalf("inverted range must fail")
	}
}
