package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"

	"matimeline/internal/api"
	"matimeline/internal/config"
	"matimeline/internal/i18n"
	"matimeline/internal/ics"
	appLog "matimeline/internal/log"
	"matimeline/internal/model"
	"matimeline/internal/source"
	"matimeline/internal/timeline"
)

// Upstream is the account and editing side of the upstream API.
// *api.Client implements it.
type Upstream interface {
	Me(ctx context.Context) (model.User, error)
	Register(ctx context.Context, reg model.Registration) error
	Events(ctx context.Context, userID, productID string) ([]model.Event, error)
	CreateProduct(ctx context.Context, userID string, in model.ProductInput) (model.Product, error)
	UpdateEvent(ctx context.Context, eventID string, edit model.EventEdit) (model.Event, error)
	UpdateEventColor(ctx context.Context, eventID, color string) (model.Event, error)
}

// userRefresher is implemented by sources that cache per user.
type userRefresher interface {
	RefreshUser(ctx context.Context, userID string) error
}

// Options wires a Server to its collaborators.
type Options struct {
	Config  *config.Config
	Source  source.Source
	Catalog *i18n.Catalog
	// Upstream is optional; without it account and edit routes answer 501.
	Upstream Upstream
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server serves the timeline API for the browser front-end.
type Server struct {
	cfg     *config.Config
	src     source.Source
	catalog *i18n.Catalog
	upstream Upstream
	now     func() time.Time
	loc     *time.Location
	mux     *http.ServeMux

	// Short-lived cache of /api/timeline responses keyed by query.
	timelineMu    sync.RWMutex
	timelineCache map[string]timelineCache
}

type timelineCache struct {
	resp      timelineResponse
	updatedAt time.Time
}

const (
	timelineCacheTTL = 30 * time.Second
	defaultBackfill  = 30
	maxBackfill      = 366
)

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		cfg:           cfg,
		src:           opts.Source,
		catalog:       opts.Catalog,
		upstream:      opts.Upstream,
		now:           now,
		loc:           resolveLocationOrLocal(cfg.Timezone),
		mux:           http.NewServeMux(),
		timelineCache: make(map[string]timelineCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the server's handler chain: CORS, basic auth, locale
// redirect, then the mux.
func (s *Server) Handler() http.Handler {
	h := s.localeMiddleware(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	if len(s.cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language"},
			AllowCredentials: true,
		}).Handler(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="matimeline", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// localeMiddleware redirects page paths without a locale prefix to
// /{locale}/... using Accept-Language. API, asset and health paths pass
// through untouched.
func (s *Server) localeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if s.catalog == nil || skipLocale(path) || s.localeOf(path) != "" {
			next.ServeHTTP(w, r)
			return
		}

		locale := s.catalog.NegotiateOr(r.Header.Get("Accept-Language"), s.cfg.DefaultLocale)
		target := "/" + locale + path
		if path == "/" {
			target = "/" + locale
		}
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	})
}

func skipLocale(path string) bool {
	switch {
	case path == "/health",
		path == "/api", strings.HasPrefix(path, "/api/"),
		path == "/_next", strings.HasPrefix(path, "/_next/"),
		strings.Contains(path, "."):
		return true
	}
	return false
}

// localeOf returns the supported locale path starts with, or "".
func (s *Server) localeOf(path string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if seg != "" && s.catalog.Supported(seg) {
		return seg
	}
	return ""
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/timeline", s.handleTimeline)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("PATCH /api/events/{id}/color", s.handleEventColor)
	s.mux.HandleFunc("PATCH /api/events/{id}", s.handleEventUpdate)
	s.mux.HandleFunc("POST /api/events/preview", s.handleEventPreview)
	s.mux.HandleFunc("GET /api/me", s.handleMe)
	s.mux.HandleFunc("POST /api/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/products", s.handleCreateProduct)
	s.mux.HandleFunc("GET /api/products/{pid}/events", s.handleProductEvents)
	s.mux.HandleFunc("GET /{locale}/", s.handleLocaleRoot)
	s.mux.HandleFunc("GET /{locale}", s.handleLocaleRoot)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// localeResponse gives the front-end its locale and status labels.
type localeResponse struct {
	Locale  string            `json:"locale"`
	Locales []string          `json:"locales"`
	Labels  map[string]string `json:"labels"`
}

var pageLabels = []string{
	"dashboard.products",
	"common.status.upcoming",
	"common.status.ongoing",
	"common.status.expired",
	timeline.KeyExpired,
}

func (s *Server) handleLocaleRoot(w http.ResponseWriter, r *http.Request) {
	locale := r.PathValue("locale")
	if s.catalog == nil || !s.catalog.Supported(locale) {
		http.NotFound(w, r)
		return
	}
	tr := s.catalog.Translator(locale)
	labels := make(map[string]string, len(pageLabels))
	for _, k := range pageLabels {
		labels[k] = tr.T(k)
	}
	writeJSON(w, http.StatusOK, localeResponse{
		Locale:  locale,
		Locales: s.catalog.Locales(),
		Labels:  labels,
	})
}

// timelineResponse is the JSON response shape for /api/timeline.
type timelineResponse struct {
	User            string           `json:"user"`
	Locale          string           `json:"locale"`
	Now             time.Time        `json:"now"`
	Resources       []model.Resource `json:"resources"`
	Entries         []entryDTO       `json:"entries"`
	TruncatedEvents []string         `json:"truncated_events,omitempty"`
	RangeStart      *time.Time       `json:"range_start,omitempty"`
	RangeEnd        *time.Time       `json:"range_end,omitempty"`
}

// entryDTO is a calendar entry decorated for display at a given instant.
type entryDTO struct {
	model.CalendarEntry
	Status       timeline.Status        `json:"status"`
	ClassName    string                 `json:"className"`
	StyleClasses timeline.StyleClass    `json:"styleClasses"`
	Remaining    timeline.RemainingTime `json:"remaining"`
	Countdown    string                 `json:"countdown"`
}

// handleTimeline returns the projected entries of a user's products.
//
// GET /api/timeline?user=ID&locale=fr&backfill=30
//   - user:     required owner ID
//   - locale:   label locale; defaults to Accept-Language negotiation
//   - backfill: past days included when recurrence expansion is on
//     (default 30, at most 366)
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user parameter")
		return
	}
	locale := s.resolveLocale(q.Get("locale"), r.Header.Get("Accept-Language"))
	backfill := min(max(parseIntDefault(q.Get("backfill"), defaultBackfill), 0), maxBackfill)

	now := s.now()
	cacheKey := userID + "|" + locale
	if s.cfg.ExpandRecurrence {
		cacheKey += "|" + strconv.Itoa(backfill)
	}

	s.timelineMu.RLock()
	tc, ok := s.timelineCache[cacheKey]
	s.timelineMu.RUnlock()
	if ok && now.Sub(tc.updatedAt) < timelineCacheTTL {
		writeJSON(w, http.StatusOK, tc.resp)
		return
	}

	products, status, err := s.products(r.Context(), userID)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	resp := timelineResponse{
		User:      userID,
		Locale:    locale,
		Now:       now,
		Resources: timeline.Resources(products),
	}

	var entries []model.CalendarEntry
	if s.cfg.ExpandRecurrence {
		rangeStart := now.In(s.loc).AddDate(0, 0, -backfill)
		rangeEnd := now.In(s.loc).AddDate(0, 0, s.cfg.HorizonDays)
		res, err := timeline.ExpandRecurring(products, timeline.ExpandConfig{
			RangeStart:             rangeStart,
			RangeEnd:               rangeEnd,
			MaxOccurrencesPerEvent: s.cfg.MaxOccurrences,
		})
		if err != nil {
			appLog.Error("api timeline: expand failed", err, "user", userID)
			writeError(w, http.StatusInternalServerError, "failed to expand events")
			return
		}
		entries = res.Entries
		resp.TruncatedEvents = res.TruncatedEvents
		resp.RangeStart = &rangeStart
		resp.RangeEnd = &rangeEnd
	} else {
		entries = timeline.ProjectAll(products)
	}

	tr := s.translator(locale)
	resp.Entries = make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		resp.Entries = append(resp.Entries, decorate(e, now, tr))
	}

	appLog.Debug("api timeline request",
		"user", userID,
		"locale", locale,
		"entry_count", len(resp.Entries),
		"expand", s.cfg.ExpandRecurrence,
	)

	s.storeTimeline(cacheKey, resp, now)

	writeJSON(w, http.StatusOK, resp)
}

// decorate attaches status, style and countdown to e. An entry without an
// end is treated as ending at its start, for the status and the countdown
// alike.
func decorate(e model.CalendarEntry, now time.Time, tr timeline.Translator) entryDTO {
	end := e.End
	if end.IsZero() {
		end = e.Start
	}
	st := timeline.Classify(e.Start, end, now)
	rem := timeline.Remaining(&end, now)
	return entryDTO{
		CalendarEntry: e,
		Status:        st,
		ClassName:     st.ClassName(),
		StyleClasses:  timeline.StyleClasses(e, st),
		Remaining:     rem,
		Countdown:     rem.Format(tr),
	}
}

// handleCalendar serves a user's events as an ICS feed.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user parameter")
		return
	}
	products, status, err := s.products(r.Context(), userID)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	body := ics.Export(products, ics.ExportOptions{Name: "matimeline " + userID, Now: s.now()})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type colorRequest struct {
	Color string `json:"backgroundColor"`
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// handleEventColor forwards a background color change upstream.
//
// PATCH /api/events/{id}/color?user=ID  {"backgroundColor":"#ff0000"}
func (s *Server) handleEventColor(w http.ResponseWriter, r *http.Request) {
	if !s.requireUpstream(w) {
		return
	}

	var req colorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !hexColor.MatchString(req.Color) {
		writeError(w, http.StatusBadRequest, "backgroundColor must be a hex color")
		return
	}

	ev, err := s.upstream.UpdateEventColor(r.Context(), r.PathValue("id"), req.Color)
	if err != nil {
		appLog.Error("api event color update failed", err, "event_id", r.PathValue("id"))
		writeFailure(w, err)
		return
	}

	s.afterEdit(r.Context(), r.URL.Query().Get("user"))
	writeJSON(w, http.StatusOK, ev)
}

// handleEventUpdate applies an edit form to an event upstream.
//
// PATCH /api/events/{id}?user=ID  {"title":"...","durationValue":3,...}
func (s *Server) handleEventUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.requireUpstream(w) {
		return
	}
	var edit model.EventEdit
	if !decodeBody(w, r, &edit) {
		return
	}
	if edit.BackgroundColor != "" && !hexColor.MatchString(edit.BackgroundColor) {
		writeError(w, http.StatusBadRequest, "backgroundColor must be a hex color")
		return
	}

	ev, err := s.upstream.UpdateEvent(r.Context(), r.PathValue("id"), edit)
	if err != nil {
		appLog.Error("api event update failed", err, "event_id", r.PathValue("id"))
		writeFailure(w, err)
		return
	}

	s.afterEdit(r.Context(), r.URL.Query().Get("user"))
	writeJSON(w, http.StatusOK, ev)
}

// handleEventPreview builds an event from a creation form without storing
// it and returns it decorated as the timeline would show it. A form without
// a date starts today in the configured timezone.
//
// POST /api/events/preview?locale=en  {"name":"Warranty","type":"duration",...}
func (s *Server) handleEventPreview(w http.ResponseWriter, r *http.Request) {
	var in model.EventInput
	if !decodeBody(w, r, &in) {
		return
	}
	now := s.now()
	ev, err := in.Build("", now.In(s.loc))
	if err != nil {
		writeFailure(w, err)
		return
	}
	locale := s.resolveLocale(r.URL.Query().Get("locale"), r.Header.Get("Accept-Language"))
	entry := timeline.Project(ev, "", "", "")
	writeJSON(w, http.StatusOK, decorate(entry, now, s.translator(locale)))
}

// handleMe returns the profile of the upstream session.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if !s.requireUpstream(w) {
		return
	}
	u, err := s.upstream.Me(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleRegister creates an upstream account.
//
// POST /api/register  {"name":"...","username":"...","email":"...","password":"..."}
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.requireUpstream(w) {
		return
	}
	var reg model.Registration
	if !decodeBody(w, r, &reg) {
		return
	}
	if err := s.upstream.Register(r.Context(), reg); err != nil {
		appLog.Error("api register failed", err, "username", reg.Username)
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleCreateProduct creates a product with its initial events.
//
// POST /api/products?user=ID  {"name":"Car","category":"c1","events":[...]}
func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	if !s.requireUpstream(w) {
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user parameter")
		return
	}
	var in model.ProductInput
	if !decodeBody(w, r, &in) {
		return
	}

	p, err := s.upstream.CreateProduct(r.Context(), userID, in)
	if err != nil {
		appLog.Error("api create product failed", err, "user", userID)
		writeFailure(w, err)
		return
	}

	s.afterEdit(r.Context(), userID)
	writeJSON(w, http.StatusCreated, p)
}

// handleProductEvents lists the events of one product straight from the
// upstream, bypassing the refresh cache.
//
// GET /api/products/{pid}/events?user=ID
func (s *Server) handleProductEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireUpstream(w) {
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user parameter")
		return
	}
	events, err := s.upstream.Events(r.Context(), userID, r.PathValue("pid"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) requireUpstream(w http.ResponseWriter) bool {
	if s.upstream == nil {
		writeError(w, http.StatusNotImplemented, "upstream API is not configured")
		return false
	}
	return true
}

// afterEdit drops cached timelines and refreshes userID when the source
// caches per user.
func (s *Server) afterEdit(ctx context.Context, userID string) {
	s.invalidate()
	if userID == "" {
		return
	}
	if rf, ok := s.src.(userRefresher); ok {
		if err := rf.RefreshUser(ctx, userID); err != nil {
			appLog.Error("api: refresh after edit failed", err, "user", userID)
		}
	}
}

func (s *Server) products(ctx context.Context, userID string) ([]model.Product, int, error) {
	if s.src == nil {
		return nil, http.StatusServiceUnavailable, errors.New("no product source configured")
	}
	products, err := s.src.Products(ctx, userID)
	if err != nil {
		appLog.Error("api: load products failed", err, "user", userID)
		return nil, statusFor(err), err
	}
	return products, http.StatusOK, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, source.ErrUnknownUser), errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case model.IsValidation(err), errors.Is(err, api.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// storeTimeline caches resp and drops every entry that has expired.
func (s *Server) storeTimeline(key string, resp timelineResponse, now time.Time) {
	s.timelineMu.Lock()
	defer s.timelineMu.Unlock()
	for k, c := range s.timelineCache {
		if now.Sub(c.updatedAt) >= timelineCacheTTL {
			delete(s.timelineCache, k)
		}
	}
	s.timelineCache[key] = timelineCache{resp: resp, updatedAt: now}
}

func (s *Server) invalidate() {
	s.timelineMu.Lock()
	clear(s.timelineCache)
	s.timelineMu.Unlock()
}

func (s *Server) resolveLocale(explicit, acceptLanguage string) string {
	if s.catalog == nil {
		return i18n.DefaultLocale
	}
	if explicit != "" && s.catalog.Supported(explicit) {
		return explicit
	}
	return s.catalog.NegotiateOr(acceptLanguage, s.cfg.DefaultLocale)
}

func (s *Server) translator(locale string) timeline.Translator {
	if s.catalog == nil {
		return timeline.TranslatorFunc(func(key string) string { return key })
	}
	return s.catalog.Translator(locale)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure answers with the status statusFor picks for err. Field
// validation errors list the offending fields.
func writeFailure(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = ve.Fields
	}
	writeJSON(w, statusFor(err), resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
