package ui

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryflow/internal/router"
	"queryflow/internal/session"
	"queryflow/pkg/types"
)

type browser struct {
	t       *testing.T
	handler http.Handler
	cookies []*http.Cookie
}

func newBrowser(t *testing.T, limit int) (*browser, *session.Manager) {
	t.Helper()
	var records []types.QueryRecord
	for i, table := range []string{"employees", "customers", "products", "suppliers", "orders"} {
		n := 2
		if table == "orders" {
			n = 130
		}
		rows := make([]types.Row, n)
		for j := range rows {
			rows[j] = types.Row{"id": j + 1, "name": fmt.Sprintf("%s-%d", table, j+1)}
		}
		records = append(records, types.QueryRecord{
			ID:      i + 1,
			Text:    fmt.Sprintf("SELECT * FROM %s;", table),
			Columns: []string{"id", "name"},
			Rows:    rows,
		})
	}
	catalog, err := router.NewCatalog(records)
	require.NoError(t, err)

	cfg := session.DefaultConfig()
	cfg.RateLimit = limit
	cfg.TickInterval = time.Hour
	mgr := session.NewManager(router.NewRouter(catalog, router.PolicyStrict), nil, cfg, nil, session.WithDelayer(session.NoDelay))
	t.Cleanup(func() { _ = mgr.Close() })

	h := NewHandler(mgr, catalog, NewCookieStore("test-secret-key-32-bytes-long!!"), "queryflow", nil)
	r := chi.NewRouter()
	h.Routes(r)
	return &browser{t: t, handler: r}, mgr
}

func (b *browser) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	b.handler.ServeHTTP(w, req)
	if set := w.Result().Cookies(); len(set) > 0 {
		b.cookies = set
	}
	return w
}

func (b *browser) page() string {
	b.t.Helper()
	w := b.do(http.MethodGet, "/", nil)
	require.Equal(b.t, http.StatusOK, w.Code)
	return w.Body.String()
}

func (b *browser) post(target string, form url.Values) {
	b.t.Helper()
	w := b.do(http.MethodPost, target, form)
	require.Equal(b.t, http.StatusSeeOther, w.Code, w.Body.String())
	require.Equal(b.t, "/", w.Header().Get("Location"))
}

func TestPage_InitialRender(t *testing.T) {
	b, mgr := newBrowser(t, 10)

	w := b.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	require.NotEmpty(t, b.cookies, "the page sets the session cookie")

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "<!doctype html>"))
	assert.Contains(t, body, `data-theme="light"`)
	assert.Contains(t, body, "SELECT * FROM employees;")
	assert.Contains(t, body, "employees-2")
	assert.Contains(t, body, "<th>Name</th>")
	assert.Contains(t, body, "10 of 10 queries left this minute")
	assert.Contains(t, body, "No queries yet.")

	b.page()
	assert.Len(t, mgr.ListSessions(), 1, "the cookie keeps the browser on one session")
}

func TestPage_RunQuery(t *testing.T) {
	b, _ := newBrowser(t, 10)
	b.page()

	b.post("/ui/run", url.Values{"query": {"select * from customers"}})
	body := b.page()
	assert.Contains(t, body, "customers-1")
	assert.Contains(t, body, session.MsgExecuted)
	assert.Contains(t, body, "9 of 10 queries left this minute")

	assert.NotContains(t, b.page(), session.MsgExecuted, "toasts are shown once")
}

func TestPage_RunFailures(t *testing.T) {
	b, _ := newBrowser(t, 10)

	b.post("/ui/run", url.Values{"query": {"DROP TABLE orders"}})
	body := b.page()
	assert.Contains(t, body, `class="toast error"`)
	assert.Contains(t, body, router.InvalidFormatText)
	assert.Contains(t, body, "No rows.")

	b.post("/ui/run", url.Values{"query": {"   "}})
	body = b.page()
	assert.Contains(t, body, `class="inline-error"`)
	assert.Contains(t, body, session.MsgEmptyQuery)
}

func TestPage_RateLimited(t *testing.T) {
	b, _ := newBrowser(t, 1)

	b.post("/ui/run", url.Values{"query": {"select * from products"}})
	b.post("/ui/run", url.Values{"query": {"select * from suppliers"}})

	body := b.page()
	assert.Contains(t, body, "Rate limit reached (1 requests per minute). Please wait")
	assert.Contains(t, body, `http-equiv="refresh"`)
	assert.Contains(t, body, "disabled")
	assert.Contains(t, body, "products-1", "the refused query did not replace the result")
}

func TestPage_SelectClearAndHistory(t *testing.T) {
	b, _ := newBrowser(t, 10)

	b.post("/ui/select", url.Values{"id": {"4"}})
	assert.Contains(t, b.page(), "suppliers-1")

	b.post("/ui/select", url.Values{"id": {"x"}})
	assert.Contains(t, b.page(), "Query not found.")

	b.post("/ui/clear", url.Values{})
	body := b.page()
	assert.Contains(t, body, session.MsgCleared)
	assert.Contains(t, body, `placeholder="SELECT * FROM employees;"></textarea>`)

	b.post("/ui/run", url.Values{"query": {"select * from orders"}})
	b.post("/ui/run", url.Values{"query": {"nope"}})
	w := b.do(http.MethodGet, "/?q=orders", nil)
	history := historyPanel(t, w.Body.String())
	assert.Contains(t, history, `class="history"`)
	assert.Contains(t, history, "SELECT * FROM orders;")
	assert.NotContains(t, history, router.InvalidFormatText, "the filter hides the failed entry")

	w = b.do(http.MethodGet, "/", nil)
	assert.Contains(t, historyPanel(t, w.Body.String()), router.InvalidFormatText)
}

// historyPanel cuts the history sidebar panel out of a rendered page.
func historyPanel(t *testing.T, body string) string {
	t.Helper()
	start := strings.Index(body, "<h2>History</h2>")
	require.GreaterOrEqual(t, start, 0, "page has a history panel")
	end := strings.Index(body[start:], "</aside>")
	require.GreaterOrEqual(t, end, 0, "history panel sits in the sidebar")
	return body[start : start+end]
}

func TestPage_LargeResultPages(t *testing.T) {
	b, _ := newBrowser(t, 10)
	b.post("/ui/select", url.Values{"id": {"5"}})

	body := b.page()
	assert.Contains(t, body, "130 rows, showing 1 to 50")
	assert.Contains(t, body, `href="/?offset=50"`)
	assert.NotContains(t, body, "orders-51")

	w := b.do(http.MethodGet, "/?offset=100", nil)
	assert.Contains(t, w.Body.String(), "130 rows, showing 101 to 130")
	assert.Contains(t, w.Body.String(), "orders-130")
	assert.NotContains(t, w.Body.String(), ">Next<")
}

func TestPage_Theme(t *testing.T) {
	b, _ := newBrowser(t, 10)

	b.post("/ui/theme", url.Values{})
	assert.Contains(t, b.page(), `data-theme="dark"`)

	b.post("/ui/theme", url.Values{})
	assert.Contains(t, b.page(), `data-theme="light"`)
}

func TestPage_ExportCSV(t *testing.T) {
	b, _ := newBrowser(t, 10)

	w := b.do(http.MethodGet, "/ui/export.csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="employees.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "id,name\n1,employees-1\n2,employees-2\n", w.Body.String())

	b.post("/ui/run", url.Values{"query": {"select * from nowhere"}})
	w = b.do(http.MethodGet, "/ui/export.csv", nil)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Contains(t, b.page(), session.MsgExportFailed)
}

func TestPage_EndedSessionIsReplaced(t *testing.T) {
	b, mgr := newBrowser(t, 10)
	b.page()
	first := mgr.ListSessions()[0].ID
	require.NoError(t, mgr.EndSession(first))

	b.page()
	list := mgr.ListSessions()
	require.Len(t, list, 1)
	assert.NotEqual(t, first, list[0].ID)
}
