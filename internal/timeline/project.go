package timeline

import "matimeline/internal/model"

// Default palettes per event kind. Unknown kinds use the duration palette.
var (
	DurationStyle = model.VisualStyle{
		BackgroundColor: "#6366f1",
		BorderColor:     "#4f46e5",
		TextColor:       "#ffffff",
	}
	SingleStyle = model.VisualStyle{
		BackgroundColor: "#ec4899",
		BorderColor:     "#db2777",
		TextColor:       "#ffffff",
	}
)

// DefaultStyle returns the palette for kind.
func DefaultStyle(kind model.Kind) model.VisualStyle {
	if kind == model.KindSingle {
		return SingleStyle
	}
	return DurationStyle
}

// Project maps ev onto the timeline row of its product. Each style field
// falls back to the kind default independently.
func Project(ev model.Event, productName, category, productID string) model.CalendarEntry {
	def := DefaultStyle(ev.Kind)

	return model.CalendarEntry{
		ID:         ev.ID,
		Title:      ev.Title,
		Start:      ev.Start,
		End:        ev.End,
		AllDay:     ev.AllDay,
		ResourceID: productID,
		VisualStyle: model.VisualStyle{
			BackgroundColor: orDefault(ev.BackgroundColor, def.BackgroundColor),
			BorderColor:     orDefault(ev.BorderColor, def.BorderColor),
			TextColor:       orDefault(ev.TextColor, def.TextColor),
		},
		ExtendedProps: model.ExtendedProps{
			ProductID:   ev.ProductID,
			ProductName: productName,
			Category:    category,
			Kind:        ev.Kind,
		},
	}
}

// ProjectAll flattens every event of every product into calendar entries.
// Output order follows input order but callers must not rely on it.
func ProjectAll(products []model.Product) []model.CalendarEntry {
	n := 0
	for _, p := range products {
		n += len(p.Events)
	}
	out := make([]model.CalendarEntry, 0, n)
	for _, p := range products {
		for _, ev := range p.Events {
			out = append(out, Project(ev, p.Name, p.Category.Name, p.ID))
		}
	}
	return out
}

// Resources returns one timeline row per product.
func Resources(products []model.Product) []model.Resource {
	out := make([]model.Resource, 0, len(products))
	for _, p := range products {
		out = append(out, model.Resource{
			ID:       p.ID,
			Title:    p.Name,
			Category: p.Category.Name,
		})
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
