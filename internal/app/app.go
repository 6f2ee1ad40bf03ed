package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/001Space/cartsync/internal/config"
	"github.com/001Space/cartsync/internal/engine"
	handler "github.com/001Space/cartsync/internal/handler/http"
	"github.com/001Space/cartsync/internal/session"
	"github.com/001Space/cartsync/internal/store/api"
	"github.com/001Space/cartsync/internal/store/sqlite"
	"github.com/001Space/cartsync/pkg/health"
	"github.com/001Space/cartsync/pkg/httpclient"
	"github.com/001Space/cartsync/pkg/tracing"
)

// App wires together all dependencies and runs the cartsync daemon.
type App struct {
	cfg             *config.Config
	logger          *slog.Logger
	store           *sqlite.Store
	engine          *engine.Engine
	httpServer      *http.Server
	tracingShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Tracing is optional; a disabled config yields a no-op shutdown.
	tracingShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "cartsyncd",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSample,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	// Durable fallback snapshot store. Unlike a server-side dependency,
	// a failure here is fatal: without it a backend outage loses the cart.
	store, err := sqlite.Open(cfg.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	logger.Info("snapshot store opened", slog.String("path", cfg.SnapshotPath))

	// Session credential; a token from config is installed up front.
	sessionMgr := session.NewManager()
	if cfg.AuthToken != "" {
		sessionMgr.Install(cfg.AuthToken)
	}

	// Remote cart backend client behind retry and a circuit breaker.
	cbClient := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("cart-backend"),
		logger,
	)
	remote := api.New(cfg.BackendURL, cbClient, sessionMgr, logger)

	// The sync engine.
	eng := engine.New(remote, store, sessionMgr, logger,
		engine.WithRemoteTimeout(cfg.RemoteTimeout),
	)

	// Seed the in-memory cart. Any remote failure here degrades to the
	// persisted snapshot, so only a programming error can surface.
	if _, err := eng.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize cart: %w", err)
	}

	// Health checks. The local store gates readiness; the remote backend
	// is informational only, since serving through the fallback while the
	// backend is down is exactly what this daemon is for.
	healthHandler := health.NewHandler()
	healthHandler.Register("local_store", store.Ping)
	healthHandler.RegisterInformational("cart_backend", func(ctx context.Context) error {
		if state := cbClient.State(); state == gobreaker.StateOpen {
			return fmt.Errorf("circuit breaker open: backend unavailable")
		}
		return nil
	})

	router := handler.NewRouter(eng, sessionMgr, healthHandler, logger, cfg.AllowedOrigins, cfg.Environment)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:             cfg,
		logger:          logger,
		store:           store,
		engine:          eng,
		httpServer:      httpServer,
		tracingShutdown: tracingShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP facade",
			slog.String("addr", a.httpServer.Addr),
			slog.String("backend", a.cfg.BackendURL),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if err := a.tracingShutdown(shutdownCtx); err != nil {
		a.logger.Error("tracing shutdown error", slog.String("error", err.Error()))
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("snapshot store close error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
