package source

import (
	"context"
	"errors"
	"fmt"

	"matimeline/internal/ics"
	appLog "matimeline/internal/log"
	"matimeline/internal/model"
)

// Feed maps one ICS calendar onto a product of a user.
type Feed struct {
	User      string
	ProductID string
	Name      string
	Category  model.Category
	// Location is an http(s) URL or a file path.
	Location string
}

// ICSSource builds products from ICS feeds, one product per feed.
type ICSSource struct {
	feeds   []Feed
	fetcher *ics.Fetcher
}

func NewICSSource(feeds []Feed, fetcher *ics.Fetcher) *ICSSource {
	if fetcher == nil {
		fetcher = ics.NewFetcher(0)
	}
	return &ICSSource{feeds: feeds, fetcher: fetcher}
}

// Products returns one product per feed of userID. A feed that fails to
// load is logged and skipped unless every feed failed.
func (s *ICSSource) Products(ctx context.Context, userID string) ([]model.Product, error) {
	var (
		products []model.Product
		errs     []error
		matched  int
	)
	for _, f := range s.feeds {
		if f.User != userID {
			continue
		}
		matched++

		body, err := s.fetcher.Fetch(ctx, f.Location)
		if err != nil {
			appLog.Error("ics source: fetch failed", err, "product_id", f.ProductID)
			errs = append(errs, fmt.Errorf("feed %s: %w", f.ProductID, err))
			continue
		}
		events, err := ics.Import(f.ProductID, body)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", f.ProductID, err))
			continue
		}
		products = append(products, model.Product{
			ID:       f.ProductID,
			Name:     f.Name,
			Category: f.Category,
			Events:   events,
		})
	}

	if matched == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	if len(products) == 0 {
		return nil, errors.Join(errs...)
	}
	return products, nil
}

// Multi concatenates the products of several sources. Sources that do not
// know the user are ignored; other errors abort.
type Multi []Source

func (m Multi) Products(ctx context.Context, userID string) ([]model.Product, error) {
	var (
		out   []model.Product
		known bool
	)
	for _, src := range m {
		p, err := src.Products(ctx, userID)
		if errors.Is(err, ErrUnknownUser) {
			continue
		}
		if err != nil {
			return nil, err
		}
		known = true
		out = append(out, p...)
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return out, nil
}
