package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryflow/internal/export"
	"queryflow/internal/router"
	"queryflow/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []types.Event
}

func (n *recordingNotifier) Notify(ev types.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds(kind string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, ev := range n.events {
		if ev.Kind == kind {
			out = append(out, ev.Message)
		}
	}
	return out
}

func testRouter(t *testing.T, policy router.Policy) *router.Router {
	t.Helper()
	var records []types.QueryRecord
	for i, table := range []string{"employees", "customers", "products", "suppliers", "orders"} {
		records = append(records, types.QueryRecord{
			ID:      i + 1,
			Text:    fmt.Sprintf("SELECT * FROM %s;", table),
			Columns: []string{"id", "name"},
			Rows:    []types.Row{{"id": int64(1), "name": table}},
		})
	}
	catalog, err := router.NewCatalog(records)
	require.NoError(t, err)
	return router.NewRouter(catalog, policy)
}

type fixture struct {
	manager  *Manager
	clock    *fakeClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T, limit int, opts ...Option) *fixture {
	t.Helper()
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.RateLimit = limit
	cfg.TickInterval = time.Hour
	opts = append([]Option{WithDelayer(NoDelay), WithClock(clock.Now)}, opts...)

	m := NewManager(testRouter(t, router.PolicyStrict), notifier, cfg, nil, opts...)
	t.Cleanup(func() { _ = m.Close() })
	return &fixture{manager: m, clock: clock, notifier: notifier}
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	s, err := f.manager.CreateSession(context.Background())
	require.NoError(t, err)
	return s
}

func TestSession_InitialState(t *testing.T) {
	f := newFixture(t, 10)
	snap := f.session(t).Snapshot()

	require.NotNil(t, snap.Selected)
	assert.Equal(t, 1, snap.Selected.ID)
	assert.Equal(t, "SELECT * FROM employees;", snap.Input)
	assert.Empty(t, snap.History)
	assert.False(t, snap.Loading)
	assert.Equal(t, 10, snap.RateLimit.Remaining)
}

func TestSession_SubmitMatched(t *testing.T) {
	f := newFixture(t, 10)
	s := f.session(t)

	res, err := s.Submit(context.Background(), "select * from orders")
	require.NoError(t, err)
	assert.Equal(t, router.StatusMatched, res.Status)

	snap := s.Snapshot()
	assert.Equal(t, 5, snap.Selected.ID)
	assert.Equal(t, "select * from orders", snap.Input)
	require.Len(t, snap.History, 1)
	assert.Equal(t, 1, snap.RateLimit.Recent)
	assert.Equal(t, []string{MsgExecuted}, f.notifier.kinds(types.EventSuccess))
}

func TestSession_SubmitFailuresLandInHistory(t *testing.T) {
	f := newFixture(t, 10)
	s := f.session(t)

	res, err := s.Submit(context.Background(), "DROP TABLE employees")
	require.NoError(t, err, "a failed match is a result, not a rejection")
	assert.ErrorIs(t, res.Err, router.ErrInvalidFormat)

	res, err = s.Submit(context.Background(), "select * from invoices")
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, router.ErrUnknownTable)

	snap := s.Snapshot()
	require.Len(t, snap.History, 2)
	assert.Equal(t, router.UnknownTableText, snap.History[0].Text)
	assert.Equal(t, router.InvalidFormatText, snap.History[1].Text)
	assert.Equal(t, router.UnknownTableText, snap.Selected.Text)
	assert.Empty(t, snap.Error)
	assert.Equal(t, []string{router.InvalidFormatText, router.UnknownTableText}, f.notifier.kinds(types.EventError))
}

func TestSession_SubmitEmptyIsNotCounted(t *testing.T) {
	f := newFixture(t, 10)
	s := f.session(t)
	_, err := s.Submit(context.Background(), "select * from products")
	require.NoError(t, err)

	res, err := s.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, router.ErrEmptyQuery)
	assert.Equal(t, router.StatusEmpty, res.Status)
	assert.True(t, IsRejection(err))

	snap := s.Snapshot()
	assert.Equal(t, MsgEmptyQuery, snap.Error)
	assert.Len(t, snap.History, 1)
	assert.Equal(t, 1, snap.RateLimit.Recent)
	assert.Equal(t, 3, snap.Selected.ID, "previous result stays visible")

	_, err = s.Submit(context.Background(), "select * from products")
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Error, "a real submission clears the inline error")
}

func TestSession_RateLimit(t *testing.T) {
	f := newFixture(t, 5)
	s := f.session(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Submit(ctx, "select * from customers")
		require.NoError(t, err, "submission %d", i+1)
		f.clock.Advance(time.Second)
	}

	_, err := s.Submit(ctx, "select * from customers")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, IsRejection(err))

	snap := s.Snapshot()
	assert.Len(t, snap.History, 5, "a refused submission leaves history alone")
	assert.True(t, snap.RateLimit.Limited)
	assert.Equal(t, 55, snap.RateLimit.ResetIn)
	assert.Equal(t, "Rate limit reached (5 requests per minute). Please wait 55 seconds to try again.", snap.RateLimit.Message)

	warnings := f.notifier.kinds(types.EventWarning)
	require.Len(t, warnings, 2, "one when the limit is reached, one for the refused submission")
	assert.True(t, strings.HasPrefix(warnings[1], "Rate limit reached (5 requests per minute)"))

	f.clock.Advance(55 * time.Second)
	_, err = s.Submit(ctx, "select * from customers")
	assert.NoError(t, err, "the oldest request has left the window")
}

func TestSession_QueryInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}
	f := newFixture(t, 10, WithDelayer(blocking))
	s := f.session(t)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "select * from suppliers")
		done <- err
	}()
	<-started

	assert.True(t, s.Snapshot().Loading)
	_, err := s.Submit(context.Background(), "select * from orders")
	assert.ErrorIs(t, err, ErrQueryInFlight)

	close(release)
	require.NoError(t, <-done)

	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	assert.Equal(t, 4, snap.Selected.ID)
	assert.Equal(t, 1, snap.RateLimit.Recent, "the refused submission was not counted")
}

func TestSession_EndedDuringDelay(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}
	f := newFixture(t, 10, WithDelayer(blocking))
	s := f.session(t)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "select * from customers")
		done <- err
	}()
	<-started

	require.NoError(t, f.manager.EndSession(s.ID()))
	close(release)
	assert.ErrorIs(t, <-done, ErrSessionEnded)

	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.History, "an ended session keeps its last state")
	assert.Equal(t, 1, snap.Selected.ID)
	assert.Empty(t, f.notifier.kinds(types.EventSuccess))
}

func TestSession_CancelledDelay(t *testing.T) {
	f := newFixture(t, 10, WithDelayer(Sleep(time.Hour)))
	s := f.session(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Submit(ctx, "select * from orders")
	assert.ErrorIs(t, err, context.Canceled)

	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.History)
	assert.Equal(t, 1, snap.RateLimit.Recent)
}

func TestSession_SelectAndClear(t *testing.T) {
	f := newFixture(t, 10)
	s := f.session(t)
	_, _ = s.Submit(context.Background(), "")
	require.NotEmpty(t, s.Snapshot().Error)

	rec, err := s.Select(4)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM suppliers;", rec.Text)

	snap := s.Snapshot()
	assert.Equal(t, rec.Text, snap.Input)
	assert.Empty(t, snap.Error)
	assert.Empty(t, snap.History, "selecting is not a submission")

	_, err = s.Select(9)
	assert.ErrorIs(t, err, router.ErrQueryNotFound)

	require.NoError(t, s.Clear())
	assert.Empty(t, s.Snapshot().Input)
	assert.Equal(t, 4, s.Snapshot().Selected.ID, "clearing keeps the result")
	assert.Equal(t, []string{MsgCleared}, f.notifier.kinds(types.EventInfo))
}

func TestSession_ExportCSV(t *testing.T) {
	f := newFixture(t, 10)
	s := f.session(t)

	name, data, err := s.ExportCSV()
	require.NoError(t, err)
	assert.Equal(t, "employees.csv", name)
	assert.Equal(t, "id,name\n1,employees\n", string(data))

	_, _ = s.Submit(context.Background(), "nonsense")
	_, _, err = s.ExportCSV()
	assert.ErrorIs(t, err, export.ErrNoRows)

	assert.Equal(t, []string{MsgExported}, f.notifier.kinds(types.EventSuccess))
	assert.Contains(t, f.notifier.kinds(types.EventError), MsgExportFailed)
}

func TestSession_HistoryFilter(t *testing.T) {
	f := newFixture(t, 10)
	s := f.session(t)
	for _, q := range []string{"select * from orders", "bogus", "select * from customers"} {
		_, err := s.Submit(context.Background(), q)
		require.NoError(t, err)
	}

	assert.Len(t, s.History(""), 3)
	assert.Len(t, s.History("FROM"), 2)
	assert.Len(t, s.History("invalid"), 1)
}

func TestSession_GenericPolicy(t *testing.T) {
	notifier := &recordingNotifier{}
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour
	m := NewManager(testRouter(t, router.PolicyGeneric), notifier, cfg, nil, WithDelayer(NoDelay))
	defer m.Close()

	s, err := m.CreateSession(context.Background())
	require.NoError(t, err)

	res, err := s.Submit(context.Background(), "how many pipelines failed?")
	require.NoError(t, err)
	assert.Equal(t, router.StatusGeneric, res.Status)
	assert.Len(t, s.Snapshot().Selected.Rows, 5)
	assert.Equal(t, []string{MsgGeneric}, notifier.kinds(types.EventInfo))
}
