// Package ui serves the browser page: a query editor, the catalog, the
// recent history and the selected result, rendered on the server.
package ui

import (
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"maragu.dev/gomponents"

	"queryflow/internal/router"
	"queryflow/internal/session"
)

const (
	keySessionID = "session_id"
	keyTheme     = "theme"

	themeLight = "light"
	themeDark  = "dark"
)

// toast kinds double as flash keys in the cookie session.
var toastKinds = []string{"error", "warning", "success", "info"}

// Handler serves the page and its form posts. Each browser is tied to one
// query session through a cookie.
type Handler struct {
	sessions *session.Manager
	catalog  *router.Catalog
	store    sessions.Store
	cookie   string
	logger   *slog.Logger
}

// NewHandler creates the UI handler. cookieName names the browser cookie
// holding the session ID and theme.
func NewHandler(mgr *session.Manager, catalog *router.Catalog, store sessions.Store, cookieName string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions: mgr,
		catalog:  catalog,
		store:    store,
		cookie:   cookieName,
		logger:   logger,
	}
}

// NewCookieStore returns a cookie store signed with secret. An empty secret
// gets a random key, so cookies do not survive a restart.
func NewCookieStore(secret string) *sessions.CookieStore {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	store := sessions.NewCookieStore(key)
	store.MaxAge(86400)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode
	return store
}

// Routes registers the page and its actions.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Page)
	r.Route("/ui", func(r chi.Router) {
		r.Post("/run", h.Run)
		r.Post("/select", h.Select)
		r.Post("/clear", h.Clear)
		r.Post("/theme", h.Theme)
		r.Get("/export.csv", h.ExportCSV)
	})
}

// Page renders the current state. ?q= filters the history and ?offset=
// pages through large results.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	sess, cs, err := h.current(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	toasts := make([]toast, 0)
	for _, kind := range toastKinds {
		for _, f := range cs.Flashes(kind) {
			if msg, ok := f.(string); ok {
				toasts = append(toasts, toast{Kind: kind, Message: msg})
			}
		}
	}
	if err := cs.Save(r, w); err != nil {
		h.logger.Warn("failed to save ui cookie", "error", err)
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	renderHTML(w, http.StatusOK, page(pageState{
		Snapshot: sess.Snapshot(),
		Catalog:  h.catalog.Queries(),
		History:  sess.History(term),
		Term:     term,
		Offset:   max(offset, 0),
		Theme:    themeOf(cs),
		Toasts:   toasts,
	}))
}

// Run submits the posted query.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	sess, cs, err := h.current(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	res, err := sess.Submit(r.Context(), r.PostForm.Get("query"))
	switch {
	case errors.Is(err, session.ErrRateLimited):
		cs.AddFlash(sess.Snapshot().RateLimit.Message, "warning")
	case errors.Is(err, session.ErrQueryInFlight):
		cs.AddFlash("A query is already running.", "warning")
	case errors.Is(err, router.ErrEmptyQuery):
		// shown inline
	case err != nil:
		h.fail(w, err)
		return
	case res.Status == router.StatusGeneric:
		cs.AddFlash(session.MsgGeneric, "info")
	case res.OK():
		cs.AddFlash(session.MsgExecuted, "success")
	default:
		cs.AddFlash(res.Record.Text, "error")
	}
	h.redirect(w, r, cs)
}

// Select shows a catalog query.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	sess, cs, err := h.current(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	id, err := strconv.Atoi(r.PostForm.Get("id"))
	if err == nil {
		_, err = sess.Select(id)
	}
	if err != nil {
		cs.AddFlash("Query not found.", "error")
	}
	h.redirect(w, r, cs)
}

// Clear empties the editor.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	sess, cs, err := h.current(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := sess.Clear(); err != nil {
		h.fail(w, err)
		return
	}
	cs.AddFlash(session.MsgCleared, "info")
	h.redirect(w, r, cs)
}

// Theme toggles between the light and dark themes.
func (h *Handler) Theme(w http.ResponseWriter, r *http.Request) {
	cs, err := h.cookieSession(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	next := themeDark
	if themeOf(cs) == themeDark {
		next = themeLight
	}
	cs.Values[keyTheme] = next
	h.redirect(w, r, cs)
}

// ExportCSV downloads the selected result. A failed export returns to the
// page with an error toast.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	sess, cs, err := h.current(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	name, data, err := sess.ExportCSV()
	if err != nil {
		cs.AddFlash(session.MsgExportFailed, "error")
		h.redirect(w, r, cs)
		return
	}
	if err := cs.Save(r, w); err != nil {
		h.logger.Warn("failed to save ui cookie", "error", err)
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// current returns the browser's query session, starting a new one when the
// cookie names none or names one that has ended.
func (h *Handler) current(r *http.Request) (*session.Session, *sessions.Session, error) {
	cs, err := h.cookieSession(r)
	if err != nil {
		return nil, nil, err
	}
	if id, ok := cs.Values[keySessionID].(string); ok {
		if sess, err := h.sessions.GetSession(id); err == nil {
			return sess, cs, nil
		}
	}

	sess, err := h.sessions.CreateSession(r.Context())
	if err != nil {
		return nil, nil, err
	}
	cs.Values[keySessionID] = sess.ID()
	return sess, cs, nil
}

func (h *Handler) cookieSession(r *http.Request) (*sessions.Session, error) {
	cs, err := h.store.Get(r, h.cookie)
	if cs == nil {
		return nil, err
	}
	if err != nil {
		// undecodable cookie, e.g. after a key change: start over
		h.logger.Debug("discarding ui cookie", "error", err)
	}
	return cs, nil
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, cs *sessions.Session) {
	if err := cs.Save(r, w); err != nil {
		h.logger.Warn("failed to save ui cookie", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrTooManySessions) {
		http.Error(w, "Too many active sessions, try again later", http.StatusServiceUnavailable)
		return
	}
	h.logger.Error("ui request failed", "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func themeOf(cs *sessions.Session) string {
	if theme, ok := cs.Values[keyTheme].(string); ok && theme == themeDark {
		return themeDark
	}
	return themeLight
}

func renderHTML(w http.ResponseWriter, status int, node gomponents.Node) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = node.Render(w)
}
