package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"plancal/internal/config"
	"plancal/internal/dateutil"
	"plancal/internal/gesture"
	"plancal/internal/grid"
	"plancal/internal/ics"
	appLog "plancal/internal/log"
	"plancal/internal/model"
	"plancal/internal/recur"
	"plancal/internal/store"
)

// EventStore is the persistence the server reads and edits.
type EventStore interface {
	List(ctx context.Context, f store.Filter) ([]model.Event, error)
	Get(ctx context.Context, id string) (model.Event, error)
	Update(ctx context.Context, ev model.Event) error
}

const responseCacheTTL = 30 * time.Second

// Server provides the planner HTTP API and the server-rendered calendar.
type Server struct {
	cfg      *config.Config
	store    EventStore
	loc      *time.Location
	firstDay time.Weekday
	mux      *http.ServeMux
	page     *template.Template
	now      func() time.Time

	// Short-lived cache of rendered read responses keyed by path and query.
	// Any write through the server or a feed refresh purges it.
	cacheMu sync.RWMutex
	cache   map[string]cachedResponse
}

type cachedResponse struct {
	body        []byte
	contentType string
	updatedAt   time.Time
}

//go:embed templates/*.html
var templates embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st EventStore) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		loc:      resolveLocationOrLocal(cfg.Timezone),
		firstDay: dateutil.ParseWeekday(cfg.WeekStart),
		mux:      http.NewServeMux(),
		now:      time.Now,
		cache:    make(map[string]cachedResponse),
	}
	s.page = template.Must(template.New("calendar.html").Funcs(template.FuncMap{
		"add": func(a, b int) int { return a + b },
	}).ParseFS(templates, "templates/calendar.html"))
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Purge drops all cached responses.
func (s *Server) Purge() {
	s.cacheMu.Lock()
	s.cache = make(map[string]cachedResponse)
	s.cacheMu.Unlock()
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
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
			w.Header().Set("WWW-Authenticate", `Basic realm="plancal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/occurrences", s.cached(s.handleOccurrences))
	s.mux.HandleFunc("/api/grid", s.cached(s.handleGrid))
	s.mux.HandleFunc("/api/reschedule", s.handleReschedule)
	s.mux.HandleFunc("/api/export.ics", s.cached(s.handleExport))
	s.mux.HandleFunc("/calendar", s.cached(s.handleCalendar))
	s.mux.HandleFunc("/preview.png", s.handlePreview)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/calendar", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// cached serves GET responses from the TTL cache and fills it from
// successful handler output.
func (s *Server) cached(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		key := r.URL.Path + "?" + r.URL.RawQuery
		now := s.now()

		s.cacheMu.RLock()
		c, ok := s.cache[key]
		s.cacheMu.RUnlock()
		if ok && now.Sub(c.updatedAt) < responseCacheTTL {
			w.Header().Set("Content-Type", c.contentType)
			w.Header().Set("X-Cache", "hit")
			_, _ = w.Write(c.body)
			return
		}

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if rec.status == http.StatusOK {
			s.cacheMu.Lock()
			s.cache[key] = cachedResponse{body: rec.body, contentType: rec.Header().Get("Content-Type"), updatedAt: now}
			s.cacheMu.Unlock()
		}
	}
}

type recorder struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

type occurrencesResponse struct {
	Occurrences []model.Event `json:"occurrences"`
	Truncated   []string      `json:"truncated,omitempty"`
	RangeStart  time.Time     `json:"range_start"`
	RangeEnd    time.Time     `json:"range_end"`
	TimeZone    string        `json:"timezone"`
}

// handleOccurrences returns expanded occurrences in a window of civil days.
//
// GET /api/occurrences?start=2024-01-01&end=2024-01-31[&plan_type=&project=]
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := s.parseDate(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	endDay, err := s.parseDate(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}
	end := dateutil.EndOfDay(endDay)

	events, err := s.store.List(r.Context(), store.Filter{
		PlanType: q.Get("plan_type"),
		Project:  q.Get("project"),
		From:     &start,
		To:       &end,
	})
	if err != nil {
		appLog.Error("api occurrences: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	res, err := recur.Expand(events, start, end, recur.Options{MaxIterations: s.cfg.MaxIterations})
	if err != nil {
		if errors.Is(err, recur.ErrInvalidWindow) {
			writeError(w, http.StatusBadRequest, "end is before start")
			return
		}
		appLog.Error("api occurrences: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}

	occ := res.Events
	sort.SliceStable(occ, func(i, j int) bool {
		if !occ[i].Start.Equal(occ[j].Start) {
			return occ[i].Start.Before(occ[j].Start)
		}
		return occ[i].ID < occ[j].ID
	})
	for i := range occ {
		occ[i].Start = occ[i].Start.In(s.loc)
		occ[i].End = occ[i].End.In(s.loc)
	}

	writeJSON(w, http.StatusOK, occurrencesResponse{
		Occurrences: occ,
		Truncated:   res.Truncated,
		RangeStart:  start,
		RangeEnd:    end,
		TimeZone:    s.loc.String(),
	})
}

type gridResponse struct {
	View     string `json:"view"`
	Density  string `json:"density"`
	TimeZone string `json:"timezone"`
	grid.Grid
}

// handleGrid returns packed weeks for a month, multi-month or year view.
//
// GET /api/grid?view=month|multi|year&year=2024&month=3&months=3&density=compact
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view := q.Get("view")
	if view == "" {
		view = "month"
	}
	density := grid.ParseDensity(s.cfg.Density)
	if d := q.Get("density"); d != "" {
		density = grid.ParseDensity(d)
	}

	win, err := s.windowFor(view, q.Get("year"), q.Get("month"), q.Get("months"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	g, err := s.buildGrid(r.Context(), win, density, q.Get("plan_type"), q.Get("project"))
	if err != nil {
		appLog.Error("api grid: build failed", err, "view", view)
		writeError(w, http.StatusInternalServerError, "failed to build grid")
		return
	}
	writeJSON(w, http.StatusOK, gridResponse{View: view, Density: string(density), TimeZone: s.loc.String(), Grid: g})
}

func (s *Server) buildGrid(ctx context.Context, win grid.Window, density grid.Density, planType, project string) (grid.Grid, error) {
	events, err := s.store.List(ctx, store.Filter{PlanType: planType, Project: project, From: &win.Start, To: &win.End})
	if err != nil {
		return grid.Grid{}, err
	}
	return grid.Build(events, win, nil, grid.Options{Density: density, MaxIterations: s.cfg.MaxIterations})
}

func (s *Server) windowFor(view, yearStr, monthStr, monthsStr string) (grid.Window, error) {
	now := s.now().In(s.loc)
	year := parseIntDefault(yearStr, now.Year())
	month := parseIntDefault(monthStr, int(now.Month()))
	if month < 1 || month > 12 {
		return grid.Window{}, errors.New("month must be 1-12")
	}
	switch view {
	case "month":
		return grid.MonthWindow(year, time.Month(month), s.firstDay, s.loc), nil
	case "multi":
		n := parseIntDefault(monthsStr, 3)
		if n < 1 || n > 12 {
			return grid.Window{}, errors.New("months must be 1-12")
		}
		return grid.MultiMonthWindow(year, time.Month(month), n, s.firstDay, s.loc), nil
	case "year":
		return grid.YearWindow(year, s.firstDay, s.loc), nil
	default:
		return grid.Window{}, errors.New("view must be month, multi or year")
	}
}

var errMissingOriginalStart = errors.New("original_start is required with parent_id")

type rescheduleRequest struct {
	EventID       string     `json:"event_id"`
	ParentID      string     `json:"parent_id,omitempty"`
	OriginalStart *time.Time `json:"original_start,omitempty"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
}

type rescheduleResponse struct {
	Commit gesture.Commit `json:"commit"`
	Event  model.Event    `json:"event"`
}

// handleReschedule applies a drag or resize. Generated instances are
// redirected to their series, which moves by the same number of days; the
// client echoes the instance's parent_id and original_start for them.
//
// POST /api/reschedule {"event_id": "...", "parent_id": "...", "original_start": "...", "start": "...", "end": "..."}
func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req rescheduleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.EventID == "" {
		writeError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	if req.Start.IsZero() || req.End.IsZero() || req.End.Before(req.Start) {
		writeError(w, http.StatusBadRequest, "start and end are required and end must not precede start")
		return
	}

	ctx := r.Context()
	acted, target, err := s.resolveTarget(ctx, req)
	if err != nil {
		if errors.Is(err, errMissingOriginalStart) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		appLog.Error("api reschedule: resolve failed", err, "event_id", req.EventID)
		writeError(w, http.StatusInternalServerError, "failed to load event")
		return
	}

	span := model.Span{Start: req.Start.In(acted.Start.Location()), End: req.End.In(acted.Start.Location())}
	commit := gesture.CommitFor(acted, span)
	updated := commit.ApplyTo(target)
	if commit.Changed {
		if err := s.store.Update(ctx, updated); err != nil {
			if errors.Is(err, store.ErrInvalidSpan) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			appLog.Error("api reschedule: update failed", err, "target_id", commit.TargetID)
			writeError(w, http.StatusInternalServerError, "failed to save event")
			return
		}
		s.Purge()
		appLog.Info("event rescheduled",
			"event_id", commit.EventID,
			"target_id", commit.TargetID,
			"start_shift", commit.StartShift,
			"end_shift", commit.EndShift,
		)
	}
	writeJSON(w, http.StatusOK, rescheduleResponse{Commit: commit, Event: updated})
}

// resolveTarget returns the event the user acted on and the stored event an
// edit must be written to. They differ only for generated instances.
func (s *Server) resolveTarget(ctx context.Context, req rescheduleRequest) (model.Event, model.Event, error) {
	parentID, original := req.ParentID, req.OriginalStart
	if parentID == "" {
		ev, err := s.store.Get(ctx, req.EventID)
		if err != nil {
			return model.Event{}, model.Event{}, err
		}
		return ev, ev, nil
	}
	if original == nil {
		return model.Event{}, model.Event{}, errMissingOriginalStart
	}

	base, err := s.store.Get(ctx, parentID)
	if err != nil {
		return model.Event{}, model.Event{}, err
	}
	if !base.IsRecurring() {
		return model.Event{}, model.Event{}, store.ErrNotFound
	}
	res, err := recur.Expand([]model.Event{base}, *original, *original, recur.Options{MaxIterations: s.cfg.MaxIterations})
	if err != nil {
		return model.Event{}, model.Event{}, err
	}
	want := model.InstanceID(parentID, *original)
	for _, inst := range res.Events {
		if inst.ID == want {
			return inst, base, nil
		}
	}
	return model.Event{}, model.Event{}, store.ErrNotFound
}

// handleExport serves every stored base event as an ICS calendar.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.List(r.Context(), store.Filter{})
	if err != nil {
		appLog.Error("api export: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.Export(events, s.now())))
}

// handlePreview serves the last captured calendar PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.cfg.Preview.Output)
}

func (s *Server) parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("missing date")
	}
	return time.ParseInLocation("2006-01-02", v, s.loc)
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

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
