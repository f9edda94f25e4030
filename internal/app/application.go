// Package app wires the catalog store, sessions, notifications and the HTTP
// surface into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"queryflow/internal/api"
	"queryflow/internal/config"
	"queryflow/internal/database"
	"queryflow/internal/hub"
	"queryflow/internal/router"
	"queryflow/internal/session"
	"queryflow/internal/ui"
	"queryflow/internal/websocket"
	"queryflow/pkg/interfaces"
	dbconfig "queryflow/pkg/database"
)

// Application owns every long-lived component.
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	db         *database.Manager
	router     *router.Router
	sessions   *session.Manager
	registry   *websocket.Registry
	hub        *hub.Hub
	server     *api.Server
	httpServer *http.Server
	sweeper    *cron.Cron
}

// OpenCatalog opens the catalog store, applies migrations and returns a
// query router over the predefined queries.
func OpenCatalog(ctx context.Context, dbCfg *dbconfig.Config, policy string, logger *slog.Logger) (*database.Manager, *router.Router, error) {
	p, err := router.ParsePolicy(policy)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.NewManager(ctx, dbCfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	qr, err := NewQueryRouter(ctx, db, p)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, qr, nil
}

// NewQueryRouter loads the predefined queries from provider and builds a
// router over them.
func NewQueryRouter(ctx context.Context, provider interfaces.CatalogProvider, policy router.Policy) (*router.Router, error) {
	queries, err := provider.LoadQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load query catalog: %w", err)
	}
	catalog, err := router.NewCatalog(queries)
	if err != nil {
		return nil, fmt.Errorf("invalid query catalog: %w", err)
	}
	return router.NewRouter(catalog, policy), nil
}

// SessionConfig converts the loaded settings into session manager settings.
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		RateLimit:    cfg.Limiter.Limit,
		RateWindow:   cfg.Limiter.Window,
		TickInterval: cfg.Limiter.TickInterval,
		Latency:      cfg.Query.Latency,
		IdleTimeout:  cfg.Session.IdleTimeout,
		MaxSessions:  cfg.Session.MaxSessions,
	}
}

// NewApplication builds every component in dependency order:
// database, router, registry, hub, sessions, HTTP.
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, qr, err := OpenCatalog(ctx, cfg.Database, cfg.Query.Policy, logger)
	if err != nil {
		return nil, err
	}

	registry := websocket.NewRegistry()
	notifications := hub.NewHub(registry, logger, cfg.WebSocket.HubBuffer)
	sessions := session.NewManager(qr, notifications, SessionConfig(cfg), logger,
		session.WithEndHook(func(id string) { registry.CloseSession(id) }))

	wsHandler := websocket.NewHandler(registry, sessions, originChecker(cfg.WebSocket.AllowedOrigins), logger)
	uiHandler := ui.NewHandler(sessions, qr.Catalog(), ui.NewCookieStore(cfg.Session.CookieSecret), cfg.Session.CookieName, logger)

	var ingress *api.IngressConfig
	if cfg.Ingress.Enabled {
		ingress = &api.IngressConfig{
			RequestsPerSecond: cfg.Ingress.RequestsPerSecond,
			Burst:             cfg.Ingress.Burst,
		}
	}
	server := api.NewServer(api.Deps{
		Sessions:  sessions,
		Catalog:   qr.Catalog(),
		Database:  db,
		Registry:  registry,
		Hub:       notifications,
		WebSocket: http.HandlerFunc(wsHandler.HandleWebSocket),
		UI:        uiHandler,
		Logger:    logger,
	}, api.Options{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Ingress:     ingress,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           server,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		db:         db,
		router:     qr,
		sessions:   sessions,
		registry:   registry,
		hub:        notifications,
		server:     server,
		httpServer: httpServer,
	}, nil
}

// Run serves until ctx is cancelled or the listener fails, then shuts
// everything down.
func (app *Application) Run(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	if err := app.hub.Start(egctx); err != nil {
		return fmt.Errorf("failed to start notification hub: %w", err)
	}
	if err := app.startSweeper(); err != nil {
		_ = app.hub.Stop()
		return err
	}

	app.httpServer.BaseContext = func(net.Listener) context.Context { return egctx }

	eg.Go(func() error {
		app.logger.Info("starting QueryFlow",
			"addr", app.httpServer.Addr,
			"catalog_queries", app.router.Catalog().Len(),
			"policy", app.router.Policy(),
			"rate_limit", app.config.Limiter.Limit)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
		defer cancel()
		return app.Stop(shutdownCtx)
	})

	return eg.Wait()
}

// Stop shuts down in reverse dependency order: HTTP, sweeper, sessions,
// hub, database.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down QueryFlow")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}
	if app.sweeper != nil {
		select {
		case <-app.sweeper.Stop().Done():
		case <-ctx.Done():
		}
	}
	if err := app.sessions.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if err := app.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.logger.Info("QueryFlow shutdown complete")
	return errors.Join(errs...)
}

// startSweeper schedules the idle-session sweep. An empty schedule disables it.
func (app *Application) startSweeper() error {
	schedule := app.config.Session.SweepSchedule
	if schedule == "" || app.config.Session.IdleTimeout <= 0 {
		return nil
	}

	app.sweeper = cron.New()
	if _, err := app.sweeper.AddFunc(schedule, func() { app.sessions.SweepIdle() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	app.sweeper.Start()
	app.logger.Debug("idle session sweep scheduled", "schedule", schedule, "idle_timeout", app.config.Session.IdleTimeout)
	return nil
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.server
}

// Sessions returns the session manager.
func (app *Application) Sessions() *session.Manager {
	return app.sessions
}

// Hub returns the notification hub.
func (app *Application) Hub() *hub.Hub {
	return app.hub
}

// GetAddr returns the configured listen address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// originChecker accepts requests without an Origin header and those whose
// Origin is listed. An empty list accepts everything.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
