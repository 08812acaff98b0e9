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

	"github.com/geocoder89/loanhub/internal/auth"
	"github.com/geocoder89/loanhub/internal/config"
	"github.com/geocoder89/loanhub/internal/db"
	"github.com/geocoder89/loanhub/internal/events"
	httpx "github.com/geocoder89/loanhub/internal/http"
	"github.com/geocoder89/loanhub/internal/http/handlers"
	"github.com/geocoder89/loanhub/internal/http/middlewares"
	"github.com/geocoder89/loanhub/internal/observability"
	"github.com/geocoder89/loanhub/internal/queue/redisclient"
	"github.com/geocoder89/loanhub/internal/repo/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// Load the config set up
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(rootCtx, observability.TracerConfig{
		ServiceName: "loanhub-api",
		Environment: cfg.Env,
		Endpoint:    cfg.OTELEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	pool, err := db.NewPool(cfg.DBURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	bootCtx, cancelBoot := config.WithTimeout(30 * time.Second)
	defer cancelBoot()

	if err := db.Migrate(bootCtx, pool); err != nil {
		return err
	}
	if err := db.EnsureAdminUser(bootCtx, pool, cfg); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	ready := map[string]handlers.Pinger{"postgres": pool}

	var rdb *redis.Client
	var authLimiter middlewares.Limiter = middlewares.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow)
	var writeLimiter middlewares.Limiter = middlewares.NewRateLimiter(cfg.WriteRateLimit, cfg.WriteRateWindow)

	if cfg.RedisAddr != "" {
		rc, err := redisclient.Connect(rootCtx, redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, 3*time.Second)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()

		rdb = rc.Raw()
		authLimiter = middlewares.NewRedisRateLimiter(rdb, "loanhub:rate_limit", cfg.AuthRateLimit, cfg.AuthRateWindow)
		writeLimiter = middlewares.NewRedisRateLimiter(rdb, "loanhub:rate_limit", cfg.WriteRateLimit, cfg.WriteRateWindow)
		ready["redis"] = rc
		log.Info("redis connected", "addr", cfg.RedisAddr)
	}

	var publisher events.Publisher = events.NewLogPublisher(log)
	if cfg.NATSURL != "" {
		np, err := events.ConnectNATS(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			return err
		}
		defer func() { _ = np.Close() }()

		publisher = np
		ready["nats"] = np
		log.Info("nats connected", "url", cfg.NATSURL, "subject_prefix", cfg.NATSSubjectPrefix)
	}
	emitter := events.NewEmitter(
		events.NewProtectedPublisher(publisher, events.ProtectedPublisherConfig{Timeout: 2 * time.Second}),
		log,
		prom.ObserveEvent,
	)

	jwtManager, err := auth.NewManager(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return err
	}

	usersRepo := postgres.NewUsersRepo(pool, prom)
	loansRepo := postgres.NewLoansRepo(pool, prom)

	router := httpx.NewRouter(httpx.Deps{
		Log:                log,
		Env:                cfg.Env,
		JWT:                jwtManager,
		Users:              usersRepo,
		Roles:              usersRepo,
		Loans:              loansRepo,
		Payments:           postgres.NewPaymentsRepo(pool, prom),
		Admin:              loansRepo,
		KYC:                postgres.NewKYCRepo(pool, prom),
		Ready:              ready,
		Events:             emitter,
		Prom:               prom,
		Gatherer:           reg,
		Redis:              rdb,
		IdempotencyTTL:     cfg.IdempotencyTTL,
		AuthLimiter:        authLimiter,
		WriteLimiter:       writeLimiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		TracingEnabled:     cfg.OTELEndpoint != "",
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-rootCtx.Done():
	}

	log.Info("server shutting down")

	ctx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}
