package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryflow/internal/config"
	"queryflow/internal/router"
	"queryflow/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "queryflow.db")
	cfg.Query.Latency = 0
	cfg.Ingress.Enabled = false
	cfg.Session.CookieSecret = "test-secret"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenCatalog(t *testing.T) {
	cfg := testConfig(t)

	db, qr, err := OpenCatalog(context.Background(), cfg.Database, "strict", quietLogger())
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 5, qr.Catalog().Len())
	assert.Equal(t, []string{"employees", "customers", "products", "suppliers", "orders"}, qr.Catalog().Tables())

	orders, err := qr.Select(5)
	require.NoError(t, err)
	assert.Greater(t, len(orders.Rows), 100, "orders is large enough to page")

	_, _, err = OpenCatalog(context.Background(), cfg.Database, "lenient", quietLogger())
	assert.Error(t, err)
}

type stubProvider struct {
	queries []types.QueryRecord
	err     error
}

func (p stubProvider) LoadQueries(context.Context) ([]types.QueryRecord, error) {
	return p.queries, p.err
}
func (stubProvider) HealthCheck(context.Context) error { return nil }
func (stubProvider) Close() error                      { return nil }

func TestNewQueryRouter(t *testing.T) {
	tables := []string{"employees", "customers", "products", "suppliers", "orders"}
	queries := make([]types.QueryRecord, len(tables))
	for i, table := range tables {
		queries[i] = types.QueryRecord{
			ID:      i + 1,
			Text:    "SELECT * FROM " + table + ";",
			Columns: []string{"id"},
			Rows:    []types.Row{{"id": 1}},
		}
	}

	qr, err := NewQueryRouter(context.Background(), stubProvider{queries: queries}, router.PolicyGeneric)
	require.NoError(t, err)
	assert.Equal(t, router.PolicyGeneric, qr.Policy())
	assert.Equal(t, tables, qr.Catalog().Tables())

	_, err = NewQueryRouter(context.Background(), stubProvider{queries: queries[:3]}, router.PolicyStrict)
	assert.ErrorIs(t, err, router.ErrCatalogSize)

	_, err = NewQueryRouter(context.Background(), stubProvider{err: errors.New("disk gone")}, router.PolicyStrict)
	assert.ErrorContains(t, err, "disk gone")
}

func TestSessionConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limiter.Limit = 5

	sc := SessionConfig(cfg)
	assert.Equal(t, 5, sc.RateLimit)
	assert.Equal(t, time.Minute, sc.RateWindow)
	assert.Equal(t, time.Duration(0), sc.Latency)
	assert.Equal(t, cfg.Session.MaxSessions, sc.MaxSessions)
}

func TestApplication_ServesAPIAndUI(t *testing.T) {
	app, err := NewApplication(context.Background(), testConfig(t), quietLogger())
	require.NoError(t, err)
	require.NoError(t, app.Hub().Start(context.Background()))
	t.Cleanup(func() { _ = app.Stop(context.Background()) })

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", nil)
	require.NoError(t, err)
	var created struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/sessions/"+created.Session.ID+"/run", "application/json",
		strings.NewReader(`{"query":"select * from suppliers"}`))
	require.NoError(t, err)
	var run struct {
		Status string `json:"status"`
		Result struct {
			Total int `json:"total"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	resp.Body.Close()
	assert.Equal(t, "matched", run.Status)
	assert.Equal(t, 8, run.Result.Total)

	resp, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "QueryFlow")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplication_RunAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := testConfig(t)
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = port

	app, err := NewApplication(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", port), app.GetAddr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + app.GetAddr() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	_, err = app.Sessions().CreateSession(context.Background())
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("application did not shut down")
	}
	assert.Empty(t, app.Sessions().ListSessions(), "shutdown ends every session")
}

func TestOriginChecker(t *testing.T) {
	assert.Nil(t, originChecker(nil))

	check := originChecker([]string{"http://app.test"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "http://app.test")
	assert.True(t, check(r))

	r.Header.Set("Origin", "http://evil.test")
	assert.False(t, check(r))
}
