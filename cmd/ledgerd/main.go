// ledgerd serves the governance integrity ledger over HTTP and runs the
// scheduled federation verification.
//
// Usage:
//
//	ledgerd
//	ledgerd -config configs/ledger.yaml
//	LEDGER_LEDGER_BACKEND=postgres LEDGER_LEDGER_DATABASE_URL=postgres://... ledgerd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/IntegrityLedger/internal/app"
	"github.com/jmerrifield20/IntegrityLedger/internal/config"
	"github.com/jmerrifield20/IntegrityLedger/internal/handler"
	"github.com/jmerrifield20/IntegrityLedger/internal/health"
	"github.com/jmerrifield20/IntegrityLedger/internal/telemetry"
	"github.com/jmerrifield20/IntegrityLedger/internal/webhooks"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default: configs/ledger.yaml or ./ledger.yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledgerd:", err)
		os.Exit(1)
	}
	logger, err := config.InitLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledgerd:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Tracing ──────────────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	// ── Ledger and services ──────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close ledger", zap.Error(err))
		}
	}()

	// ── Integrity monitor ────────────────────────────────────────────────────
	monitor := health.New(a.Ledger, health.Config{CheckInterval: cfg.Ledger.VerifyInterval}, logger)
	monitor.SetMetricsRecord(handler.RecordVerification)
	monitor.SetAlert(func(ctx context.Context, st health.State) {
		a.Alerts.Dispatch(ctx, webhooks.EventIntegrityDegraded, map[string]string{
			"entries":          strconv.Itoa(st.Entries),
			"first_divergence": st.FirstDivergence,
			"error":            st.Error,
		})
	})
	a.Alerts.SetMetricsRecorder(handler.RecordWebhookDelivery)
	state := monitor.Check(ctx)
	switch state.Status {
	case health.StatusHealthy:
		logger.Info("ledger verified",
			zap.String("backend", cfg.Ledger.Backend),
			zap.Int("entries", state.Entries),
			zap.String("root", state.MerkleRoot),
		)
	case health.StatusDegraded:
		// Keep serving so the divergence can be inspected over the API.
		logger.Error("ledger integrity check FAILED", zap.String("first_divergence", state.FirstDivergence))
	default:
		return fmt.Errorf("verify ledger: %s", state.Error)
	}
	go monitor.Start(ctx)

	// ── Federation scheduler ─────────────────────────────────────────────────
	a.Verifier.SetMetricsRecord(handler.RecordPartnerCheck)
	if cfg.Federation.Enabled {
		go a.Verifier.Start(ctx)
		logger.Info("federation verification scheduled",
			zap.Duration("interval", cfg.Federation.Interval),
			zap.String("partners", cfg.Federation.PartnersPath),
		)
	}

	// ── HTTP ─────────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(a, monitor, cfg.Server, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledgerd HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down ledgerd...")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("ledgerd stopped")
	return nil
}

// newRouter builds the HTTP surface for a. /healthz reports 503 while the
// monitor considers the ledger degraded.
func newRouter(a *app.App, monitor *health.Monitor, cfg config.ServerConfig, logger *zap.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: !containsWildcard(cfg.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}
	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit(handler.MaxBodyBytes))
	if cfg.RateLimitRPS > 0 {
		router.Use(handler.RateLimiter(cfg.RateLimitRPS, int(cfg.RateLimitRPS*2)))
	}
	router.Use(handler.RequestLogger(logger))
	router.Use(handler.PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		state := monitor.State()
		if state.Status == health.StatusDegraded {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "ledger": state})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ledger": state})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	handler.NewLedgerHandler(a.Ledger, logger).Register(v1)
	handler.NewFeedbackHandler(a.Feedback, a.Scorer, logger).Register(v1)
	handler.NewEIIHandler(a.EII, logger).Register(v1)
	handler.NewFederationHandler(a.Verifier, logger).Register(v1)
	return router
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
