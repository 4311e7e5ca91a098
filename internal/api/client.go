// Package api is a client for the upstream product/event REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	appLog "matimeline/internal/log"
	"matimeline/internal/model"
	"matimeline/internal/session"
	"matimeline/internal/source"
)

var (
	// ErrUnauthorized is returned for 401/403 answers; the session has
	// already been cleared when it is returned.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation is returned for 400 answers.
	ErrValidation = errors.New("validation error")
	// ErrServer is returned for 5xx answers after retries are exhausted.
	ErrServer = errors.New("server error")
	// ErrNotFound is returned for 404 answers.
	ErrNotFound = errors.New("not found")
)

// StatusError carries the HTTP status and the server's message.
type StatusError struct {
	Status  int
	Message string
	kind    error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error { return e.kind }

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. "http://localhost:8080/api".
	BaseURL string
	// Timeout bounds a single attempt. Defaults to 15s.
	Timeout time.Duration
	// RetryMax is the number of retries for idempotent failures. Defaults to 3.
	RetryMax int
	// RetryWaitMin / RetryWaitMax bound the backoff between attempts.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client talks to the upstream API on behalf of the session in store.
// After a successful Login it remembers the credentials and logs in again,
// once per call, when the token has expired or is rejected.
type Client struct {
	base     *url.URL
	http     *retryablehttp.Client
	sessions *session.Store

	mu    sync.Mutex
	creds *model.Credentials
}

// New builds a Client. sessions receives the session created at Login and
// is cleared on Logout or on any 401/403.
func New(opts Options, sessions *session.Store) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("api base URL is empty")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.HTTPClient.Timeout = opts.Timeout
	rc.RetryMax = 3
	if opts.RetryMax > 0 {
		rc.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	// Hand the last response back instead of a generic "giving up" error
	// so that status handling stays in one place.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if sessions == nil {
		sessions = session.NewStore(nil)
	}
	return &Client{base: base, http: rc, sessions: sessions}, nil
}

// Sessions exposes the store the client authenticates with.
func (c *Client) Sessions() *session.Store { return c.sessions }

// Login authenticates, fetches the profile and installs the session.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (session.Session, error) {
	if err := creds.Validate(); err != nil {
		return session.Session{}, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/auth/login", creds, "")
	if err != nil {
		return session.Session{}, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return session.Session{}, err
	}

	token := tokenFrom(resp, body)
	if token == "" {
		return session.Session{}, errors.New("api: login response carried no token")
	}

	user, err := c.me(ctx, token)
	if err != nil {
		return session.Session{}, err
	}

	s, err := session.New(user, token)
	if err != nil {
		return session.Session{}, fmt.Errorf("api: token: %w", err)
	}
	c.sessions.Set(s)
	c.mu.Lock()
	c.creds = &creds
	c.mu.Unlock()

	appLog.Info("api login succeeded", "user", user.Username)
	return s, nil
}

func (c *Client) credentials() (model.Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds == nil {
		return model.Credentials{}, false
	}
	return *c.creds, true
}

// withSession runs call with the current token. With remembered
// credentials, a missing token or a 401/403 answer leads to one re-login
// and one more attempt.
func (c *Client) withSession(ctx context.Context, call func(token string) error) error {
	creds, ok := c.credentials()
	token := c.sessions.Token()
	relogged := false
	if token == "" && ok {
		if _, err := c.Login(ctx, creds); err != nil {
			return fmt.Errorf("api: re-login: %w", err)
		}
		token = c.sessions.Token()
		relogged = true
	}

	err := call(token)
	if err == nil || !ok || relogged || !errors.Is(err, ErrUnauthorized) {
		return err
	}
	appLog.Info("api token rejected; logging in again", "user", creds.Username)
	if _, lerr := c.Login(ctx, creds); lerr != nil {
		return fmt.Errorf("api: re-login: %w", lerr)
	}
	return call(c.sessions.Token())
}

// tokenFrom reads the JWT from the "jwt" cookie, falling back to the body
// which is either the bare token or a JSON string.
func tokenFrom(resp *http.Response, body []byte) string {
	for _, ck := range resp.Cookies() {
		if ck.Name == "jwt" && ck.Value != "" {
			return ck.Value
		}
	}
	b := bytes.TrimSpace(body)
	if gjson.ValidBytes(b) {
		if r := gjson.ParseBytes(b); r.Type == gjson.String {
			return r.String()
		} else if tok := r.Get("token"); tok.Exists() {
			return tok.String()
		}
	}
	return string(b)
}

// Me returns the profile of the current session.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var u model.User
	err := c.withSession(ctx, func(token string) error {
		var err error
		u, err = c.me(ctx, token)
		return err
	})
	return u, err
}

func (c *Client) me(ctx context.Context, token string) (model.User, error) {
	var u model.User
	err := c.getJSON(ctx, "/auth/me", token, &u)
	return u, err
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, reg model.Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/auth/register", reg, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Logout ends the session upstream and locally, and forgets the
// credentials. The local session is cleared even if the upstream call
// fails.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.creds = nil
	c.mu.Unlock()
	defer c.sessions.Clear()
	resp, err := c.do(ctx, http.MethodPost, "/auth/logout", nil, c.sessions.Token())
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Products implements source.Source. A 404 means the upstream does not know
// the user.
func (c *Client) Products(ctx context.Context, userID string) ([]model.Product, error) {
	var out []model.Product
	p := "/users/" + url.PathEscape(userID) + "/products"
	if err := c.withSession(ctx, func(token string) error { return c.getJSON(ctx, p, token, &out) }); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", source.ErrUnknownUser, userID, err)
		}
		return nil, err
	}
	return out, nil
}

// Events lists the events of one product.
func (c *Client) Events(ctx context.Context, userID, productID string) ([]model.Event, error) {
	var out []model.Event
	p := "/users/" + url.PathEscape(userID) + "/products/" + url.PathEscape(productID) + "/events"
	if err := c.withSession(ctx, func(token string) error { return c.getJSON(ctx, p, token, &out) }); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProduct validates and submits a product with its initial events.
func (c *Client) CreateProduct(ctx context.Context, userID string, in model.ProductInput) (model.Product, error) {
	var out model.Product
	if err := in.Validate(); err != nil {
		return out, err
	}
	err := c.sendJSON(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/products", in, &out)
	return out, err
}

// UpdateEvent applies an edit form to an event.
func (c *Client) UpdateEvent(ctx context.Context, eventID string, edit model.EventEdit) (model.Event, error) {
	var out model.Event
	if err := edit.Validate(); err != nil {
		return out, err
	}
	err := c.sendJSON(ctx, http.MethodPatch, "/events/"+url.PathEscape(eventID), edit, &out)
	return out, err
}

// UpdateEventColor changes only the background color of an event.
func (c *Client) UpdateEventColor(ctx context.Context, eventID, color string) (model.Event, error) {
	var out model.Event
	payload := map[string]string{"backgroundColor": color}
	err := c.sendJSON(ctx, http.MethodPatch, "/events/"+url.PathEscape(eventID), payload, &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path, token string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, token)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}

// sendJSON sends in with the session token and decodes the answer into
// out when out is not nil.
func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	return c.withSession(ctx, func(token string) error {
		resp, err := c.do(ctx, method, path, in, token)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("api: decode %s: %w", path, err)
		}
		return nil
	})
}

// do sends one request (with retries for transport errors and 5xx) and
// maps non-2xx answers to StatusError. The caller owns the body on success.
func (c *Client) do(ctx context.Context, method, path string, in any, token string) (*http.Response, error) {
	var body any
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = b
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// With the passthrough handler an exhausted 5xx comes back as the last
	// response plus the retry policy's error; the status is what matters.
	resp, err := c.http.Do(req)
	if resp == nil {
		if err == nil {
			err = errors.New("api: empty response")
		}
		return nil, err
	}
	if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	serr := &StatusError{Status: resp.StatusCode, Message: errorMessage(raw)}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		serr.kind = ErrUnauthorized
		c.sessions.Clear()
		appLog.Info("api session cleared", "status", resp.StatusCode, "path", path)
	case resp.StatusCode == http.StatusBadRequest:
		serr.kind = ErrValidation
	case resp.StatusCode == http.StatusNotFound:
		serr.kind = ErrNotFound
	case resp.StatusCode >= 500:
		serr.kind = ErrServer
	}
	appLog.Error("api request failed", serr, "method", method, "path", path)
	return nil, serr
}

// errorMessage pulls a human readable message out of an error body, which
// may be JSON ({"message": ...} or {"error": ...}) or plain text.
func errorMessage(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if gjson.ValidBytes(raw) {
		for _, p := range []string{"message", "error", "detail"} {
			if r := gjson.GetBytes(raw, p); r.Exists() && r.String() != "" {
				return r.String()
			}
		}
		if r := gjson.ParseBytes(raw); r.Type == gjson.String {
			return r.String()
		}
	}
	return string(raw)
}
