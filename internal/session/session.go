// Package session holds the logged-in user and its bearer token as an
// explicit object instead of ambient browser/global state.
//
// Lifecycle: created at login, cleared at logout or when the API answers
// 401/403.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"matimeline/internal/model"
)

// ErrNoSession is returned when no valid session is active.
var ErrNoSession = errors.New("no active session")

// Session is an authenticated user plus the token the API issued.
type Session struct {
	User      model.User
	Token     string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Expired reports whether the token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// New builds a Session, reading the expiry from the token's exp claim.
// The token is issued and verified upstream, so its signature is not
// checked here.
func New(user model.User, token string) (Session, error) {
	s := Session{User: user, Token: token}
	if token == "" {
		return s, nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Session{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Session{}, err
	}
	if exp != nil {
		s.ExpiresAt = exp.Time
	}
	return s, nil
}

// Store is a concurrency-safe holder for the current session.
type Store struct {
	mu      sync.Mutex
	current *Session
	now     func() time.Time
}

// NewStore returns an empty store. now may be nil to use time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now}
}

// Set installs s as the current session.
func (st *Store) Set(s Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.current = &s
}

// Current returns the active session. An expired session is cleared and
// reported as ErrNoSession. The expiry check and the clear happen under one
// lock so that a session Set concurrently is never dropped.
func (st *Store) Current() (Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil {
		return Session{}, ErrNoSession
	}
	if st.current.Expired(st.now()) {
		st.current = nil
		return Session{}, ErrNoSession
	}
	return *st.current, nil
}

// Token returns the current bearer token or "".
func (st *Store) Token() string {
	s, err := st.Current()
	if err != nil {
		return ""
	}
	return s.Token
}

// Clear drops the current session.
func (st *Store) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.current = nil
}
