package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/app/migrate"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/docker"
	httpx "github.com/Wiesenwischer/ReadyStackGo-sub000/internal/http"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/repository/postgres"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/service/deploy"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/service/health"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/service/lifecycle"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/service/selfupgrade"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/ws"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/pkg/config"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/pkg/logger"
)

func main() {
	cfg := config.LoadServerConfig()
	log := logger.New("server", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()

	creds := docker.RegistryCredentials{
		Server:   cfg.RegistryServer,
		Username: cfg.RegistryUser,
		Password: cfg.RegistryPassword,
	}

	executor := deploy.NewExecutor(dockerClient, creds, repo, hub, log, cfg)
	controller := lifecycle.NewController(repo, repo, repo, executor, dockerClient, log, cfg.StopTimeout)

	var bus health.BusChecker
	if addr := strings.TrimSpace(cfg.BusRedisAddr); addr != "" {
		bus = health.NewRedisBusChecker(addr, cfg.BusRedisPassword, cfg.BusRedisDB)
	}
	prober := &health.HTTPProber{Client: &http.Client{Timeout: cfg.HealthProbeTimeout}}
	aggregator := health.NewAggregator(repo, repo, repo, dockerClient, prober, bus, log, cfg.HealthInterval)
	go aggregator.Run(ctx)

	coordinator := selfupgrade.NewCoordinator(dockerClient, creds, log, cfg.SwapperImage)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, controller, aggregator, coordinator, repo, repo, hub, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
