package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intercompbx/intercompbx/internal/api"
	"github.com/intercompbx/intercompbx/internal/api/middleware"
	"github.com/intercompbx/intercompbx/internal/config"
	"github.com/intercompbx/intercompbx/internal/database"
	"github.com/intercompbx/intercompbx/internal/dialplan"
	"github.com/intercompbx/intercompbx/internal/fsapi"
	"github.com/intercompbx/intercompbx/internal/intercom"
	"github.com/intercompbx/intercompbx/internal/metrics"
	"github.com/intercompbx/intercompbx/internal/provisioning"
	"github.com/intercompbx/intercompbx/internal/render"
)

// sweepInterval is how often expired digest nonces and stale failure
// records are dropped.
const sweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stderr))
	slog.SetDefault(logger)

	startTime := time.Now()
	slog.Info("starting intercompbx",
		"hostname", cfg.Hostname,
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"fsapi_auth", cfg.FSAPIAuth,
	)

	db, err := openDatabase(cfg)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	store := database.NewStore(db, logger)
	collector := metrics.NewCollector(store, startTime, logger)

	tmpl, err := render.New()
	if err != nil {
		slog.Error("failed to parse templates", "error", err)
		os.Exit(1)
	}

	router, err := buildDispatch(appCtx, cfg, store, tmpl, dispatchSinks{
		name:     "live",
		presence: store,
		routes:   collector,
		verto:    collector,
		recorder: collector,
		auditAll: cfg.AuditDocuments,
	}, logger)
	if err != nil {
		slog.Error("failed to build dispatch table", "error", err)
		os.Exit(1)
	}
	preview, err := buildDispatch(appCtx, cfg, store, tmpl, dispatchSinks{
		name:     "preview",
		presence: provisioning.DiscardPresence{},
	}, logger)
	if err != nil {
		slog.Error("failed to build preview dispatch table", "error", err)
		os.Exit(1)
	}
	collector.SetDispatch(router)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	guard := middleware.NewFailureGuard(middleware.DefaultGuardConfig(), logger)
	fsapiAuth, err := middleware.NewFSAPIAuthenticator(middleware.FSAPIAuthConfig{
		Scheme:       cfg.FSAPIAuth,
		Username:     cfg.FSAPIUsername,
		Password:     cfg.FSAPIPassword,
		PasswordHash: cfg.FSAPIPasswordHash,
	}, guard, logger)
	if err != nil {
		slog.Error("failed to configure fsapi authentication", "error", err)
		os.Exit(1)
	}

	limiter := middleware.NewIPRateLimiter(middleware.AdminRateLimitConfig(), logger)
	defer limiter.Stop()

	adminSecret, err := cfg.AdminJWTSecretBytes()
	if err != nil {
		slog.Error("failed to load admin jwt secret", "error", err)
		os.Exit(1)
	}

	go sweepLoop(appCtx, fsapiAuth, guard)

	handler := api.NewServer(api.Deps{
		Dispatcher:  router,
		Preview:     preview,
		Renderer:    tmpl,
		Store:       store,
		FSAPIAuth:   fsapiAuth,
		Guard:       guard,
		Limiter:     limiter,
		AdminSecret: adminSecret,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:      logger,
		StartTime:   startTime,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	appCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("intercompbx stopped")
}

// openDatabase opens PostgreSQL when a URL is configured and the embedded
// SQLite database otherwise.
func openDatabase(cfg *config.Config) (*database.DB, error) {
	if cfg.DatabaseURL != "" {
		return database.OpenPostgres(cfg.DatabaseURL)
	}
	return database.Open(cfg.DataDir)
}

// dispatchSinks are where a dispatch table's side effects go. The preview
// table leaves every sink but presence nil.
type dispatchSinks struct {
	name     string
	presence provisioning.ClientPresence
	routes   intercom.RouteRecorder
	verto    intercom.VertoRecorder
	recorder fsapi.Recorder
	auditAll bool
}

// buildDispatch assembles an immutable dispatch table from the provisioning
// state at startup. Gateways and domains added later need a restart.
func buildDispatch(ctx context.Context, cfg *config.Config, store *database.Store, tmpl render.Renderer, sinks dispatchSinks, logger *slog.Logger) (*fsapi.Router, error) {
	actions, err := dialplan.NewActionRegistry(cfg.ActionKindList())
	if err != nil {
		return nil, fmt.Errorf("action kinds: %w", err)
	}
	slog.Info("dialplan actions enabled", "kinds", actions.Kinds())
	didCtx, err := dialplan.ParseDIDContext(cfg.DIDContext)
	if err != nil {
		return nil, err
	}

	gateways, err := store.Gateways(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading gateways: %w", err)
	}
	if len(gateways) == 0 {
		slog.Warn("no gateways provisioned, outbound and outside-line calls will not be routed")
	}

	resolver := dialplan.NewResolver(store, actions, logger,
		dialplan.WithDIDContext(didCtx),
		dialplan.WithInboundDIDNormalization(cfg.NormalizeInboundDID),
	)

	b := fsapi.NewBuilder(cfg.Hostname, logger)
	err = intercom.Register(ctx, b, &intercom.Deps{
		Hostname:  cfg.Hostname,
		Store:     store,
		Presence:  sinks.presence,
		Resolver:  resolver,
		Dialer:    dialplan.NewBuilder(cfg.Hostname, gateways),
		Renderer:  tmpl,
		Logger:    logger,
		Routes:    sinks.routes,
		Verto:     sinks.verto,
		VertoPort: cfg.VertoPort,
		STUNPort:  cfg.STUNPort,
	})
	if err != nil {
		return nil, err
	}

	router, err := b.Build(fsapi.WithRecorder(sinks.recorder), fsapi.WithAuditAll(sinks.auditAll))
	if err != nil {
		return nil, err
	}
	slog.Info("dispatch table built",
		"table", sinks.name,
		"routes", len(router.Routes()),
		"gateways", len(gateways),
	)
	return router, nil
}

// sweepLoop periodically drops expired digest nonces and failure records
// until ctx is cancelled.
func sweepLoop(ctx context.Context, fsapiAuth *middleware.FSAPIAuthenticator, guard *middleware.FailureGuard) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fsapiAuth.SweepNonces()
			guard.Sweep()
		}
	}
}
