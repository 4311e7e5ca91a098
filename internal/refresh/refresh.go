// Package refresh keeps a per-user cache of products up to date on a cron
// schedule so that HTTP requests never wait on the upstream source.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "matimeline/internal/log"
	"matimeline/internal/model"
	"matimeline/internal/source"
)

// ErrNotLoaded is returned by Snapshot before the first successful fetch.
var ErrNotLoaded = errors.New("products not loaded yet")

// Snapshot is the last successful fetch for one user.
type Snapshot struct {
	Products  []model.Product
	FetchedAt time.Time
}

// Refresher fetches products for a fixed set of users.
type Refresher struct {
	src   source.Source
	users []string
	now   func() time.Time

	mu        sync.RWMutex
	snapshots map[string]Snapshot

	cron *cron.Cron
}

// New returns a Refresher for users. now may be nil to use time.Now.
func New(src source.Source, users []string, now func() time.Time) *Refresher {
	if now == nil {
		now = time.Now
	}
	return &Refresher{
		src:       src,
		users:     append([]string(nil), users...),
		now:       now,
		snapshots: make(map[string]Snapshot),
	}
}

// RefreshAll fetches every configured user plus every user loaded on a
// cache miss. A failing user keeps its previous snapshot; the errors are
// joined.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, u := range r.knownUsers() {
		if err := r.RefreshUser(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// knownUsers returns the configured users followed by the other cached
// users in sorted order.
func (r *Refresher) knownUsers() []string {
	seen := make(map[string]bool, len(r.users))
	out := make([]string, 0, len(r.users))
	for _, u := range r.users {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	r.mu.RLock()
	extra := make([]string, 0, len(r.snapshots))
	for u := range r.snapshots {
		if !seen[u] {
			extra = append(extra, u)
		}
	}
	r.mu.RUnlock()

	slices.Sort(extra)
	return append(out, extra...)
}

// RefreshUser fetches one user and replaces its snapshot on success.
func (r *Refresher) RefreshUser(ctx context.Context, userID string) error {
	products, err := r.src.Products(ctx, userID)
	if err != nil {
		appLog.Error("refresh: fetch failed; keeping previous snapshot", err, "user", userID)
		return fmt.Errorf("refresh %s: %w", userID, err)
	}

	r.mu.Lock()
	r.snapshots[userID] = Snapshot{Products: products, FetchedAt: r.now()}
	r.mu.Unlock()

	appLog.Info("refresh: products updated", "user", userID, "product_count", len(products))
	return nil
}

// Snapshot returns the cached products of userID.
func (r *Refresher) Snapshot(userID string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshots[userID]
	if !ok {
		return Snapshot{}, ErrNotLoaded
	}
	return s, nil
}

// Products returns the cached products, fetching on a cache miss. It lets a
// Refresher stand in for a source.Source.
func (r *Refresher) Products(ctx context.Context, userID string) ([]model.Product, error) {
	if s, err := r.Snapshot(userID); err == nil {
		return s.Products, nil
	}
	if err := r.RefreshUser(ctx, userID); err != nil {
		return nil, err
	}
	s, err := r.Snapshot(userID)
	return s.Products, err
}

// Start schedules RefreshAll on spec (standard 5-field cron syntax) in loc
// until ctx is canceled or Stop is called.
func (r *Refresher) Start(ctx context.Context, spec string, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		if err := r.RefreshAll(ctx); err != nil {
			appLog.Error("refresh: scheduled run had failures", err)
		}
	}); err != nil {
		return fmt.Errorf("refresh: invalid cron spec %q: %w", spec, err)
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	c.Start()
	appLog.Info("refresh: scheduler started", "spec", spec, "timezone", loc.String(), "users", len(r.users))

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Info("refresh: scheduler stopped")
}
