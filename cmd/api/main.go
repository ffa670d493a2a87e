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

	"github.com/strideclub/tracker/internal/app/migrate"
	"github.com/strideclub/tracker/internal/cache"
	httpx "github.com/strideclub/tracker/internal/http"
	"github.com/strideclub/tracker/internal/repository/postgres"
	"github.com/strideclub/tracker/internal/service/participant"
	syncsvc "github.com/strideclub/tracker/internal/service/sync"
	"github.com/strideclub/tracker/internal/service/team"
	"github.com/strideclub/tracker/internal/ws"
	"github.com/strideclub/tracker/pkg/config"
	"github.com/strideclub/tracker/pkg/logger"
)

func main() {
	cfg := config.LoadTrackerConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	snapshotCache, err := cache.Open(cfg.CachePath)
	if err != nil {
		log.Warn("snapshot cache unavailable, continuing without fallback", "path", cfg.CachePath, "error", err)
		snapshotCache = nil
	} else {
		defer snapshotCache.Close()
	}

	var cacheIface syncsvc.SnapshotCache
	if snapshotCache != nil {
		cacheIface = snapshotCache
	}
	syncSvc := syncsvc.NewService(repo, repo, repo, repo, cacheIface, log, syncsvc.Options{
		FreshnessWindow:    cfg.FreshnessWindow,
		SafetyTimeout:      cfg.LoadSafetyTimeout,
		DebounceWindow:     cfg.DebounceWindow,
		RefreshBaseTimeout: cfg.RefreshBaseTimeout,
		RefreshMaxTimeout:  cfg.RefreshMaxTimeout,
	})

	feed := postgres.NewListener(pool, cfg.ChangeChannelName, log)
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("change feed stopped", "error", err)
		}
	}()
	go syncSvc.Watch(ctx, feed)

	// Warm the snapshot; a cold database is not fatal thanks to the cache
	// fallback.
	if !syncSvc.Load(ctx, false) {
		syncSvc.LoadFallback(ctx)
	}

	hub := ws.NewHub()
	bridge := ws.NewBridge(syncSvc, hub, log)
	defer bridge.Stop()

	participantSvc := participant.New(repo, repo, log)
	teamSvc := team.New(repo, repo, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, participantSvc, teamSvc, syncSvc, hub, limiter, cfg.MetricsEnabled, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
