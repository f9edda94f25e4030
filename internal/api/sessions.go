package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"queryflow/internal/ratelimit"
	"queryflow/internal/render"
	"queryflow/internal/router"
	"queryflow/internal/session"
	"queryflow/pkg/types"
)

type QuerySummary struct {
	ID       int      `json:"id"`
	Query    string   `json:"query"`
	Table    string   `json:"table"`
	Columns  []string `json:"columns"`
	RowCount int      `json:"row_count"`
}

type SessionResponse struct {
	Session         session.Snapshot `json:"session"`
	ConnectionCount int              `json:"connection_count"`
}

type SessionWithConnections struct {
	session.Summary
	ConnectionCount int `json:"connection_count"`
}

type ListSessionsResponse struct {
	Sessions []SessionWithConnections `json:"sessions"`
	Count    int                      `json:"count"`
}

type RunRequest struct {
	Query string `json:"query"`
}

type RunResponse struct {
	Status    router.Status       `json:"status"`
	Table     string              `json:"table,omitempty"`
	Message   string              `json:"message"`
	Result    render.Page         `json:"result"`
	History   []types.QueryRecord `json:"history"`
	RateLimit ratelimit.Status    `json:"rate_limit"`
}

type SelectRequest struct {
	ID int `json:"id"`
}

type HistoryResponse struct {
	History []types.QueryRecord `json:"history"`
	Count   int                 `json:"count"`
}

// GET /api/queries
func (s *Server) listQueries(w http.ResponseWriter, r *http.Request) {
	queries := s.deps.Catalog.Queries()
	out := make([]QuerySummary, 0, len(queries))
	for _, q := range queries {
		table, _ := router.ExtractTable(q.Text)
		out = append(out, QuerySummary{
			ID:       q.ID,
			Query:    q.Text,
			Table:    table,
			Columns:  q.Columns,
			RowCount: q.RowCount(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": out})
}

// POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.CreateSession(r.Context())
	if err != nil {
		s.sendSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Session: sess.Snapshot()})
}

// GET /api/sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	summaries := s.deps.Sessions.ListSessions()
	out := make([]SessionWithConnections, len(summaries))
	for i, sum := range summaries {
		out[i] = SessionWithConnections{
			Summary:         sum,
			ConnectionCount: s.connectionCount(sum.ID),
		}
	}
	writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: out, Count: len(out)})
}

// GET /api/sessions/{id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Session:         sess.Snapshot(),
		ConnectionCount: s.connectionCount(sess.ID()),
	})
}

// DELETE /api/sessions/{id}
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := s.deps.Sessions.EndSession(sess.ID()); err != nil {
		s.sendSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": session.MsgSessionClosed})
}

// POST /api/sessions/{id}/run
//
// Matched and unmatched queries both answer 200 with the status field set;
// refusals answer 400, 409 or 429 and leave the session untouched.
func (s *Server) runQuery(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	res, err := sess.Submit(r.Context(), req.Query)
	if errors.Is(err, session.ErrRateLimited) {
		st := sess.Snapshot().RateLimit
		w.Header().Set("Retry-After", strconv.Itoa(max(st.ResetIn, 1)))
		sendError(w, st.Message, http.StatusTooManyRequests)
		return
	}
	if err != nil {
		s.sendSessionError(w, r, err)
		return
	}

	snap := sess.Snapshot()
	msg := session.MsgExecuted
	switch {
	case res.Status == router.StatusGeneric:
		msg = session.MsgGeneric
	case !res.OK():
		msg = res.Record.Text
	}
	writeJSON(w, http.StatusOK, RunResponse{
		Status:    res.Status,
		Table:     res.Table,
		Message:   msg,
		Result:    render.Window(res.Record, 0, 0),
		History:   snap.History,
		RateLimit: snap.RateLimit,
	})
}

// POST /api/sessions/{id}/select
func (s *Server) selectQuery(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if _, err := sess.Select(req.ID); err != nil {
		s.sendSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: sess.Snapshot()})
}

// POST /api/sessions/{id}/clear
func (s *Server) clearInput(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Clear(); err != nil {
		s.sendSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: sess.Snapshot()})
}

// GET /api/sessions/{id}/history?q=
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	hist := sess.History(r.URL.Query().Get("q"))
	if hist == nil {
		hist = router.History{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{History: hist, Count: len(hist)})
}

// GET /api/sessions/{id}/result?offset=&limit=
func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	offset, err := intParam(r, "offset")
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, ok := sess.Current()
	if !ok {
		sendError(w, "No result selected", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, render.Window(rec, offset, limit))
}

// GET /api/sessions/{id}/export.csv
func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	name, data, err := sess.ExportCSV()
	if err != nil {
		s.sendSessionError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.deps.Sessions.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		s.sendSessionError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) connectionCount(sessionID string) int {
	if s.deps.Registry == nil {
		return 0
	}
	return len(s.deps.Registry.Subscribers(sessionID))
}
