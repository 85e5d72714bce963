package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("api-server exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.Bool("redis_lock", cfg.RedisEnabled()),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewCollector()

	var (
		repo   appointment.Repository
		pgPool *pgxpool.Pool
	)

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		defer pool.Close()
		log.Info("connected to Postgres")

		if cfg.AutoMigrate {
			if err := db.Migrate(rootCtx, pool); err != nil {
				return err
			}
			log.Info("schema applied")
		}

		pgPool = pool
		repo = appointment.NewPgRepository(pool)
		go reportPoolStats(rootCtx, pool, m)
	case config.StoreDriverMemory:
		log.Warn("using in-memory store, data is lost on restart")
		repo = appointment.NewMemoryRepository()
	}

	var (
		rdb    *redis.Client
		locker redisclient.Locker
	)
	if cfg.RedisEnabled() {
		client, err := redisclient.NewRedisClient(rootCtx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		log.Info("connected to Redis", zap.Duration("lock_ttl", cfg.LockTTL), zap.Duration("lock_wait", cfg.LockWait))

		rdb = client
		locker = redisclient.NewRedisScheduleLocker(client, cfg.LockTTL, cfg.LockWait, log.Named("lock"))
	}

	svc := appointment.NewService(repo, locker, log.Named("scheduling"))

	var limiter *api.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	router := api.NewRouter(api.RouterConfig{
		Service:     svc,
		PgPool:      pgPool,
		Redis:       rdb,
		Logger:      log.Named("http"),
		Metrics:     m,
		RateLimiter: limiter,
		StoreDriver: cfg.StoreDriver,
		Env:         cfg.Env,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("api-server stopped")
	return nil
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool, m *metrics.Collector) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		m.DBConnections.Set(float64(pool.Stat().TotalConns()))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
