package source

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	appLog "matimeline/internal/log"
	"matimeline/internal/model"
)

// Source returns the products, with nested events, owned by a user.
type Source interface {
	Products(ctx context.Context, userID string) ([]model.Product, error)
}

// ErrUnknownUser is returned by FileSource when the file has no entry for
// the requested user.
var ErrUnknownUser = errors.New("unknown user")

// fileDocument is the on-disk layout:
//
//	users:
//	  <user-id>:
//	    - id: p1
//	      name: Car
//	      category: {id: c1, name: Vehicles}
//	      events: [...]
type fileDocument struct {
	Users map[string][]model.Product `yaml:"users"`
}

// FileSource serves products from a local YAML file. The file is re-read
// on every call so that edits show up on the next refresh.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Products(ctx context.Context, userID string) ([]model.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.path == "" {
		return nil, errors.New("products file path is empty")
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}

	products, ok := doc.Users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	for i := range products {
		fillEnds(&products[i])
	}

	appLog.Debug("file source loaded", "path", f.path, "user", userID, "product_count", len(products))
	return products, nil
}

// fillEnds resolves missing end instants and owner IDs from each event's
// duration, so hand-written files only need a start.
func fillEnds(p *model.Product) {
	for j := range p.Events {
		ev := &p.Events[j]
		if ev.ProductID == "" {
			ev.ProductID = p.ID
		}
		if !ev.End.IsZero() || ev.Start.IsZero() {
			continue
		}
		end, err := model.ResolveEnd(ev.Kind, ev.Start, ev.DurationValue, ev.DurationUnit)
		if err != nil {
			appLog.Error("file source: cannot resolve end", err, "event_id", ev.ID)
			end = ev.Start
		}
		ev.End = end
	}
}

// Static is an in-memory Source, handy for tests and demos.
type Static map[string][]model.Product

func (s Static) Products(_ context.Context, userID string) ([]model.Product, error) {
	p, ok := s[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return p, nil
}
