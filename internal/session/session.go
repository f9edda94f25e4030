package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"queryflow/internal/export"
	"queryflow/internal/ratelimit"
	"queryflow/internal/router"
	"queryflow/pkg/interfaces"
	"queryflow/pkg/types"
)

// Messages shown to the user. The rate limit advisory comes from ratelimit.LimitMessage.
const (
	MsgEmptyQuery    = "Query cannot be empty"
	MsgExecuted      = "Query executed successfully"
	MsgGeneric       = "No predefined query matched, showing sample data"
	MsgCleared       = "Query cleared"
	MsgExported      = "CSV file downloaded successfully."
	MsgExportFailed  = "Failed to download CSV file."
	MsgSessionClosed = "Session ended"
)

// Delayer simulates query latency. It returns early with ctx.Err() when ctx
// is done.
type Delayer func(ctx context.Context) error

// Sleep returns a Delayer that waits for d.
func Sleep(d time.Duration) Delayer {
	return func(ctx context.Context) error {
		if d <= 0 {
			return nil
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// NoDelay completes immediately.
func NoDelay(context.Context) error { return nil }

// Session is one user's query workspace: the current input, the selected
// result, a bounded history and a rate limiter. All methods are safe for
// concurrent use.
type Session struct {
	id       string
	router   *router.Router
	limiter  *ratelimit.Limiter
	monitor  *ratelimit.Monitor
	notifier interfaces.Notifier
	delay    Delayer
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	input      string
	selected   types.QueryRecord
	hasResult  bool
	history    router.History
	errMsg     string
	loading    bool
	limited    bool
	ended      bool
	createdAt  time.Time
	lastActive time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Snapshot is a consistent copy of a session's visible state.
type Snapshot struct {
	ID         string              `json:"id"`
	Input      string              `json:"input"`
	Selected   *types.QueryRecord  `json:"selected,omitempty"`
	History    []types.QueryRecord `json:"history"`
	Error      string              `json:"error,omitempty"`
	Loading    bool                `json:"loading"`
	RateLimit  ratelimit.Status    `json:"rate_limit"`
	CreatedAt  time.Time           `json:"created_at"`
	LastActive time.Time           `json:"last_active"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID           string    `json:"id"`
	HistoryCount int       `json:"history_count"`
	Loading      bool      `json:"loading"`
	Limited      bool      `json:"rate_limited"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Submit runs text through the router.
//
// A submission is refused without side effects while the limit is reached or
// another query is in flight. Blank text sets the inline error and is not
// counted against the limit. Anything else is counted, waits for the
// simulated latency and then lands in the history, matched or not.
func (s *Session) Submit(ctx context.Context, text string) (router.Result, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return router.Result{}, ErrSessionEnded
	}
	if s.loading {
		s.mu.Unlock()
		return router.Result{}, ErrQueryInFlight
	}
	if !s.limiter.CanMakeRequest() {
		warned := s.limited
		s.mu.Unlock()
		if msg := s.monitor.Evaluate(); warned {
			s.emit(types.EventWarning, msg)
		}
		return router.Result{}, fmt.Errorf("%w: retry in %ds", ErrRateLimited, s.limiter.SecondsUntilReset())
	}

	s.input = text
	s.lastActive = s.now()
	if strings.TrimSpace(text) == "" {
		s.errMsg = MsgEmptyQuery
		s.mu.Unlock()
		s.emit(types.EventError, MsgEmptyQuery)
		return router.Result{Status: router.StatusEmpty, Err: router.ErrEmptyQuery}, router.ErrEmptyQuery
	}

	s.errMsg = ""
	s.loading = true
	s.limiter.Record()
	s.mu.Unlock()

	s.monitor.Evaluate()

	if err := s.delay(ctx); err != nil {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		return router.Result{}, err
	}

	s.mu.Lock()
	if s.ended {
		s.loading = false
		s.mu.Unlock()
		return router.Result{}, ErrSessionEnded
	}
	res, hist := s.router.Run(text, s.history)
	s.history = hist
	s.selected = res.Record
	s.hasResult = true
	s.loading = false
	s.lastActive = s.now()
	s.mu.Unlock()

	s.logger.Debug("query submitted",
		"session_id", s.id,
		"status", res.Status,
		"table", res.Table,
		"rows", res.Record.RowCount())

	switch {
	case res.Status == router.StatusGeneric:
		s.emit(types.EventInfo, MsgGeneric)
	case res.OK():
		s.emit(types.EventSuccess, MsgExecuted)
	default:
		s.emit(types.EventError, res.Record.Text)
	}
	return res, nil
}

// Select shows the catalog query with the given ID and copies its text into
// the input. It clears the inline error.
func (s *Session) Select(id int) (types.QueryRecord, error) {
	rec, err := s.router.Select(id)
	if err != nil {
		return types.QueryRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return types.QueryRecord{}, ErrSessionEnded
	}
	s.selected = rec
	s.hasResult = true
	s.input = rec.Text
	s.errMsg = ""
	s.lastActive = s.now()
	return rec, nil
}

// Clear empties the input.
func (s *Session) Clear() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.input = ""
	s.lastActive = s.now()
	s.mu.Unlock()

	s.emit(types.EventInfo, MsgCleared)
	return nil
}

// History returns the history entries matching term. A blank term returns
// all of them.
func (s *Session) History(term string) router.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Filter(term)
}

// Current returns the selected record.
func (s *Session) Current() (types.QueryRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.hasResult
}

// ExportCSV encodes the selected record. The outcome is also reported as a
// notification.
func (s *Session) ExportCSV() (string, []byte, error) {
	rec, ok := s.Current()
	if !ok {
		s.emit(types.EventError, MsgExportFailed)
		return "", nil, export.ErrNoRows
	}

	name, data, err := export.CSV(rec)
	if err != nil {
		s.emit(types.EventError, MsgExportFailed)
		return "", nil, err
	}
	s.emit(types.EventSuccess, MsgExported)
	return name, data, nil
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		Input:      s.input,
		History:    append([]types.QueryRecord{}, s.history...),
		Error:      s.errMsg,
		Loading:    s.loading,
		RateLimit:  s.limiter.Status(),
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
	}
	if s.hasResult {
		rec := s.selected
		snap.Selected = &rec
	}
	return snap
}

// Summary returns the listing view of the session.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:           s.id,
		HistoryCount: len(s.history),
		Loading:      s.loading,
		Limited:      !s.limiter.CanMakeRequest(),
		CreatedAt:    s.createdAt,
		LastActive:   s.lastActive,
	}
}

func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, s.loading
}

// start launches the limiter monitor. It runs until end is called.
func (s *Session) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.monitor.Run(ctx)
	}()
}

// end stops the monitor and rejects further calls. It reports whether the
// session was still live.
func (s *Session) end() bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.ended = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return true
}

// onLimitChange is the monitor callback. It raises a warning when the limit
// is first reached; the per-second countdown is visible through Snapshot only.
func (s *Session) onLimitChange(msg string) {
	s.mu.Lock()
	first := msg != "" && !s.limited
	s.limited = msg != ""
	s.mu.Unlock()

	if first {
		s.emit(types.EventWarning, msg)
	}
}

func (s *Session) emit(kind, message string) {
	if s.notifier == nil || message == "" {
		return
	}
	s.notifier.Notify(types.Event{
		SessionID: s.id,
		Kind:      kind,
		Message:   message,
		Timestamp: s.now().UTC(),
	})
}

// IsRejection reports whether err refused a submission without running it.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrQueryInFlight) || errors.Is(err, router.ErrEmptyQuery)
}
