package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// audit-worker periodically rescans every doctor's schedule and reports any
// overlapping appointments. The booking path makes these impossible, so a
// non-zero result points at data written around the service.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		fmt.Fprintln(os.Stderr, "audit-worker requires STORE_DRIVER=postgres")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("audit-worker starting up", zap.String("env", cfg.Env), zap.Duration("interval", cfg.AuditInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	m := metrics.NewCollector()
	if metricsAddr := os.Getenv("AUDIT_METRICS_ADDR"); metricsAddr != "" {
		go serveMetrics(rootCtx, log, metricsAddr, m)
	}

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, nil, log.Named("scheduling"))

	// Run once at startup
	runOnce(rootCtx, log, svc, m)

	ticker := time.NewTicker(cfg.AuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping audit worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, log, svc, m)
		}
	}
}

func runOnce(ctx context.Context, log *zap.Logger, svc *appointment.Service, m *metrics.Collector) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	pairs, err := svc.AuditSchedules(runCtx)
	if err != nil {
		m.AuditRunsTotal.WithLabelValues("error").Inc()
		log.Error("audit run failed", zap.Error(err))
		return
	}

	m.AuditOverlaps.Set(float64(len(pairs)))
	if len(pairs) == 0 {
		m.AuditRunsTotal.WithLabelValues("clean").Inc()
		log.Info("audit run complete", zap.Duration("took", time.Since(start)))
		return
	}

	m.AuditRunsTotal.WithLabelValues("overlaps").Inc()
	for _, p := range pairs {
		log.Error("overlapping appointments",
			zap.Int64("doctor_id", p.DoctorID),
			zap.Int64("first_id", p.First.ID),
			zap.Time("first_start", p.First.StartTimeUTC),
			zap.Int64("second_id", p.Second.ID),
			zap.Time("second_start", p.Second.StartTimeUTC))
	}
	log.Warn("audit run found overlaps", zap.Int("pairs", len(pairs)), zap.Duration("took", time.Since(start)))
}

func serveMetrics(ctx context.Context, log *zap.Logger, addr string, m *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server", zap.Error(err))
	}
}
