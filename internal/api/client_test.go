package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"matimeline/internal/model"
	"matimeline/internal/session"
	"matimeline/internal/source"
)

func testToken(t *testing.T) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "bob",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{
		BaseURL:      srv.URL + "/api",
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	}, session.NewStore(nil))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestLoginInstallsSession(t *testing.T) {
	tok := testToken(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds model.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Username != "bob" || creds.Password != "secret" {
			http.Error(w, "Invalid username or password", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(tok))
	})
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+tok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(model.User{ID: "u1", Username: "bob"})
	})

	c := newClient(t, mux)
	s, err := c.Login(context.Background(), model.Credentials{Username: "bob", Password: "secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.User.ID != "u1" || s.Token != tok || s.ExpiresAt.IsZero() {
		t.Fatalf("unexpected session: %+v", s)
	}
	if cur, err := c.Sessions().Current(); err != nil || cur.User.Username != "bob" {
		t.Fatalf("session not installed: %+v %v", cur, err)
	}

	_, err = c.Login(context.Background(), model.Credentials{Username: "bob", Password: "wrong!"})
	var serr *StatusError
	if !errors.As(err, &serr) || !errors.Is(err, ErrUnauthorized) || serr.Message != "Invalid username or password" {
		t.Fatalf("want unauthorized status error, got %v", err)
	}
	if _, err := c.Sessions().Current(); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("401 must clear the session")
	}
}

func TestLoginValidatesLocally(t *testing.T) {
	var hits int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	if _, err := c.Login(context.Background(), model.Credentials{Username: "b", Password: "x"}); !model.IsValidation(err) {
		t.Fatalf("want validation error, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("invalid form must not reach the server")
	}
}

func TestProductsDecodesUpstreamPayload(t *testing.T) {
	payload := `[{"id":"p1","name":"Car","category":{"id":"c1","name":"Vehicles"},"events":[
		{"id":"e1","title":"Warranty","type":"duration","durationValue":2,"durationUnit":"years",
		 "startDate":"2025-01-15","endDate":"2027-01-15","productId":"p1","allDay":true}]}]`

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/u1/products" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))

	products, err := c.Products(context.Background(), "u1")
	if err != nil {
		t.Fatalf("products: %v", err)
	}
	if len(products) != 1 || len(products[0].Events) != 1 {
		t.Fatalf("unexpected products %+v", products)
	}
	ev := products[0].Events[0]
	if !ev.End.Equal(time.Date(2027, time.January, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end: %v", ev.End)
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var hits int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))

	if _, err := c.Products(context.Background(), "u1"); err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("want 3 attempts, got %d", got)
	}
}

func TestStatusMapping(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/events/bad":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"title too short"}`))
		case "/api/events/boom":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"database down"}`))
		case "/api/events/forbidden":
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	c.Sessions().Set(session.Session{User: model.User{ID: "u1"}, Token: "t"})

	_, err := c.UpdateEventColor(context.Background(), "bad", "#fff")
	var serr *StatusError
	if !errors.Is(err, ErrValidation) || !errors.As(err, &serr) || serr.Message != "title too short" {
		t.Fatalf("400: %v", err)
	}

	_, err = c.UpdateEventColor(context.Background(), "boom", "#fff")
	if !errors.Is(err, ErrServer) || !errors.As(err, &serr) || serr.Message != "database down" {
		t.Fatalf("500: %v", err)
	}

	if _, err := c.Sessions().Current(); err != nil {
		t.Fatalf("non-auth errors must keep the session")
	}
	_, err = c.UpdateEventColor(context.Background(), "forbidden", "#fff")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("403: %v", err)
	}
	if _, err := c.Sessions().Current(); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("403 must clear the session")
	}
}

func TestProductsUnknownUser(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"user not found"}`))
	}))

	_, err := c.Products(context.Background(), "ghost")
	if !errors.Is(err, source.ErrUnknownUser) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("404 should read as an unknown user: %v", err)
	}
}

func TestLogoutAlwaysClears(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	c.Sessions().Set(session.Session{User: model.User{ID: "u1"}})

	if err := c.Logout(context.Background()); err == nil {
		t.Fatalf("expected upstream error")
	}
	if _, err := c.Sessions().Current(); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("logout must clear the local session")
	}
}

func TestErrorMessage(t *testing.T) {
	cases := map[string]string{
		``:                    "",
		`plain failure`:       "plain failure",
		`"quoted failure"`:    "quoted failure",
		`{"detail":"nested"}`: "nested",
	}
	for in, want := range cases {
		if got := errorMessage([]byte(in)); got != want {
			t.Fatalf("%q: want %q, got %q", in, want, got)
		}
	}
}

func TestReloginOnRejectedOrMissingToken(t *testing.T) {
	tok := testToken(t)
	var logins, productCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		_, _ = w.Write([]byte(tok))
	})
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.User{ID: "u1", Username: "bob"})
	})
	mux.HandleFunc("/api/users/u1/products", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&productCalls, 1) == 1 || r.Header.Get("Authorization") != "Bearer "+tok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	c := newClient(t, mux)
	ctx := context.Background()
	if _, err := c.Login(ctx, model.Credentials{Username: "bob", Password: "secret"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := c.Products(ctx, "u1"); err != nil {
		t.Fatalf("rejected token should be renewed: %v", err)
	}
	if got := atomic.LoadInt32(&logins); got != 2 {
		t.Fatalf("want one re-login, got %d logins", got)
	}

	c.Sessions().Clear()
	if _, err := c.Products(ctx, "u1"); err != nil {
		t.Fatalf("missing token should be renewed: %v", err)
	}
	if got := atomic.LoadInt32(&logins); got != 3 {
		t.Fatalf("want a login for the missing token, got %d logins", got)
	}

	_ = c.Logout(ctx)
	if _, err := c.Products(ctx, "u1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("after logout the credentials are forgotten: %v", err)
	}
	if got := atomic.LoadInt32(&logins); got != 3 {
		t.Fatalf("no login expected after logout, got %d", got)
	}
}

func TestReloginGivesUpAfterOneAttempt(t *testing.T) {
	tok := testToken(t)
	var logins int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		_, _ = w.Write([]byte(tok))
	})
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.User{ID: "u1", Username: "bob"})
	})
	mux.HandleFunc("/api/events/e1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	c := newClient(t, mux)
	if _, err := c.Login(context.Background(), model.Credentials{Username: "bob", Password: "secret"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := c.UpdateEventColor(context.Background(), "e1", "#fff"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want unauthorized, got %v", err)
	}
	if got := atomic.LoadInt32(&logins); got != 2 {
		t.Fatalf("want exactly one re-login, got %d logins", got)
	}
}
