package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gorilla/csrf"

	"licensure/internal/adapters/http/binder"
	"licensure/internal/adapters/http/middleware"
	"licensure/internal/application/filters"
	"licensure/internal/domain/filter"
	"licensure/internal/domain/flow"
)

// fieldFrom carries the path the visitor reached the page from.
const fieldFrom = "from"

// internalError logs the real error and returns a generic message to the client.
// This prevents leaking internal details per OWASP A05.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// storeFor returns the filter store of the requesting visitor.
func (s *server) storeFor(w http.ResponseWriter, r *http.Request) (*filters.Store, bool) {
	id, ok := middleware.VisitorFromContext(r.Context())
	if !ok {
		http.Error(w, "visitor cookie required", http.StatusBadRequest)
		return nil, false
	}
	return s.deps.Filters.For(r.Context(), id), true
}

// pagePath is the URL path of a wizard page.
func pagePath(page string) string {
	if page == flow.EntryPage {
		return "/"
	}
	return "/" + page
}

// localPath returns the path of raw when it names a path on this site.
func localPath(raw, host string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Host != "" && u.Host != host {
		return "", false
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return "", false
	}
	return u.Path, true
}

// destination turns a navigation target from markup into a redirect location.
func destination(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "/"
	}
	if u.Scheme != "" || u.Host != "" || strings.HasPrefix(target, "/") {
		return target
	}
	return pagePath(flow.NormalizePage(target))
}

// handlePage renders a wizard page with its controls bound and decorated.
// Routes: GET / and GET /{page}
func (s *server) handlePage(w http.ResponseWriter, r *http.Request) {
	page := flow.NormalizePage(r.PathValue("page"))
	if !s.pages.has(page) {
		http.NotFound(w, r)
		return
	}
	store, ok := s.storeFor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	state := store.Get(ctx)

	markup, err := s.pages.render(page, state, s.deps.Resolver)
	if err != nil {
		internalError(w, err)
		return
	}

	hidden := map[string]string{CSRFFieldName: csrf.Token(r)}
	if from, ok := localPath(r.Referer(), r.Host); ok && from != r.URL.Path && from != "/activate" {
		hidden[fieldFrom] = from
	}
	out, added, err := s.deps.Binder.Render(page, bytes.NewReader(markup), state, hidden)
	if err != nil {
		internalError(w, err)
		return
	}
	if added > 0 {
		slog.Info("page_event", "event", "controls_wired", "page", page, "added", added)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(out))
}

// rebind wires the controls of page from its template. Pages opened before
// a restart post ids this process has not bound yet.
// POST: Returns true if any control was newly wired
func (s *server) rebind(ctx context.Context, store *filters.Store, page string) bool {
	if !s.pages.has(page) {
		return false
	}
	markup, err := s.pages.render(page, store.Get(ctx), s.deps.Resolver)
	if err != nil {
		slog.Warn("rebind_failed", "page", page, "error", err)
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		slog.Warn("rebind_failed", "page", page, "error", err)
		return false
	}
	added := s.deps.Binder.Bind(page, doc)
	if added > 0 {
		slog.Info("page_event", "event", "controls_rebound", "page", page, "added", added)
	}
	return added > 0
}

// activationResponse is the JSON form of a binder.Outcome.
type activationResponse struct {
	Kind       string       `json:"kind"`
	Navigation string       `json:"navigation"`
	Location   string       `json:"location"`
	Pressed    *bool        `json:"pressed,omitempty"`
	State      filter.State `json:"state"`
}

// handleActivate performs a control activation posted by a decorated page.
// Routes: POST /activate (form fields page, control)
func (s *server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	page := flow.NormalizePage(r.PostFormValue(binder.FieldPage))
	controlID := r.PostFormValue(binder.FieldControl)
	if controlID == "" {
		http.Error(w, "control is required", http.StatusBadRequest)
		return
	}
	store, ok := s.storeFor(w, r)
	if !ok {
		return
	}

	out, err := s.deps.Binder.Activate(r.Context(), store, page, controlID)
	if errors.Is(err, binder.ErrUnknownControl) && s.rebind(r.Context(), store, page) {
		out, err = s.deps.Binder.Activate(r.Context(), store, page, controlID)
	}
	if errors.Is(err, binder.ErrUnknownControl) {
		slog.Warn("activation_rejected", "page", page, "control", controlID)
		http.Error(w, "unknown control", http.StatusBadRequest)
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}

	location := pagePath(page)
	switch out.Navigation {
	case binder.NavigateTo, binder.FollowLink:
		location = destination(out.Target)
	case binder.HistoryBack:
		location = pagePath(flow.EntryPage)
		if from, ok := localPath(r.PostFormValue(fieldFrom), r.Host); ok {
			location = from
		}
	}

	if wantsJSON(r) {
		resp := activationResponse{
			Kind:       string(out.Control.Kind),
			Navigation: out.Navigation.String(),
			Location:   location,
			State:      out.State,
		}
		if out.Multi {
			resp.Pressed = &out.Pressed
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// handleGetFilters returns the visitor's filter state.
// Routes: GET /api/filters
func (s *server) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	store, ok := s.storeFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, store.Get(r.Context()))
}

// handleReplaceFilters overwrites the visitor's filter state.
// Routes: PUT /api/filters (JSON object body)
func (s *server) handleReplaceFilters(w http.ResponseWriter, r *http.Request) {
	store, ok := s.storeFor(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var next map[string]any
	if err := strictDecode(r, &next); err != nil {
		http.Error(w, "body must be a JSON object", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, store.Replace(r.Context(), filter.State(next)))
}

// handleClearFilters empties the visitor's filter state.
// Routes: DELETE /api/filters
func (s *server) handleClearFilters(w http.ResponseWriter, r *http.Request) {
	store, ok := s.storeFor(w, r)
	if !ok {
		return
	}
	store.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// flowsResponse describes the compiled wizard.
type flowsResponse struct {
	Entry     string        `json:"entry"`
	Flows     flow.Table    `json:"flows"`
	PageKeys  flow.PageKeys `json:"page_keys"`
	BackClear string        `json:"back_clear"`
}

// handleFlows returns the flow table and page keys.
// Routes: GET /api/flows
func (s *server) handleFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, flowsResponse{
		Entry:     flow.EntryPage,
		Flows:     s.deps.Resolver.Table(),
		PageKeys:  s.deps.Resolver.Keys(),
		BackClear: string(s.deps.Binder.Convention()),
	})
}

// handlePerf returns a perf snapshot.
// Routes: GET /admin/perf?window=15m&top=10
func (s *server) handlePerf(w http.ResponseWriter, r *http.Request) {
	if s.deps.Collector == nil {
		http.Error(w, "perf collection disabled", http.StatusNotFound)
		return
	}
	window := 15 * time.Minute
	if v := r.URL.Query().Get("window"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			window = d
		}
	}
	top := 10
	if v := r.URL.Query().Get("top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			top = n
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Collector.Snapshot(time.Now().Add(-window), top))
}
