package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"grit-ledger-api/internal/cache"
	"grit-ledger-api/internal/config"
	"grit-ledger-api/internal/handler"
	"grit-ledger-api/internal/lock"
	"grit-ledger-api/internal/middleware"
	"grit-ledger-api/internal/repository"
	"grit-ledger-api/internal/router"
	"grit-ledger-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.App.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting", "app", cfg.App.Name, "env", cfg.App.Environment)

	store, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store initialized", "type", cfg.Store.Type)

	// Redis is only dialled when a component asks for it.
	var redisClient *redis.Client
	if cfg.Cache.Type == "redis" || cfg.Lock.Type == "redis" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err = cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		cancel()
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("redis client initialized", "addr", cfg.Cache.RedisAddress())
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Lock.Type == "redis" {
		locker = lock.NewRedisLocker(redisClient, lock.RedisLockerConfig{
			LeaseTTL:   cfg.Lock.LeaseTTL,
			RetryDelay: cfg.Lock.RetryDelay,
		}, logger)
	}

	var idemCache cache.Cache
	if cfg.Cache.Type == "redis" {
		idemCache = cache.NewRedisCache(redisClient, "")
	} else {
		mc := cache.NewMemoryCache()
		defer mc.Close()
		idemCache = mc
	}

	policy, err := buildPolicy(cfg.Ledger)
	if err != nil {
		return err
	}

	wallet := service.NewWalletService(store, locker, policy, logger)
	auction := service.NewAuctionService(store, locker, policy, logger)
	barter := service.NewBarterService(store, locker, policy, logger)
	squad := service.NewSquadService(store, locker, policy, logger)
	loans := service.NewLoanService(store, locker, policy, logger)
	clock := service.SystemClock{}

	var sweeper *service.MaturitySweeper
	if cfg.Sweeper.Enabled {
		sweeper = service.NewMaturitySweeper(auction, loans, clock, service.SweeperConfig{
			Interval: cfg.Sweeper.Interval,
			Timeout:  cfg.Sweeper.Timeout,
		}, logger)
		sweeper.Start()
	}

	r := router.New(router.Config{
		Handler:       handler.New(store),
		AdminHandler:  handler.NewAdminHandler(store, idemCache, cfg.Store.Type, cfg.Cache.Type),
		PlayerHandler: handler.NewPlayerHandler(wallet, clock, logger),
		WaiverHandler: handler.NewWaiverHandler(auction, clock, logger),
		TradeHandler:  handler.NewTradeHandler(barter, clock, logger),
		RideHandler:   handler.NewRideHandler(squad, clock, logger),
		LoanHandler:   handler.NewLoanHandler(loans, clock, logger),
		AuthMiddleware: middleware.NewAuthMiddleware(middleware.AuthConfig{
			APIKeys: cfg.App.Keys(),
		}),
		Idempotency: middleware.Idempotency(middleware.IdempotencyConfig{
			Cache:  idemCache,
			TTL:    cfg.Cache.IdempotencyTTL,
			Logger: logger,
		}),
		Logger: logger,
	})
	if len(cfg.App.Keys()) == 0 {
		logger.Warn("API_KEYS is empty, authentication disabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down server")

	if sweeper != nil {
		sweeper.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (repository.Store, error) {
	switch cfg.Type {
	case "memory":
		return repository.NewMemoryStore(), nil
	case "postgres", "postgresql":
		return repository.NewPostgresStore(cfg.PostgresDSN(), logger)
	case "mysql":
		return repository.NewMySQLStore(cfg.MySQLDSN(), logger)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		return repository.NewSQLiteStore(cfg.Path, logger)
	}
}

func buildPolicy(l config.LedgerConfig) (service.Policy, error) {
	d, err := l.Decimals()
	if err != nil {
		return service.Policy{}, err
	}
	return service.Policy{
		WaiverWindow:   l.WaiverWindow,
		OwnerShare:     d.OwnerShare,
		MinRideStake:   d.MinRideStake,
		MinRideOdds:    l.MinRideOdds,
		MaxRideOdds:    l.MaxRideOdds,
		MercyThreshold: d.MercyThreshold,
		LoanPrincipal:  d.LoanPrincipal,
		LoanRate:       d.LoanRate,
		LoanTerm:       l.LoanTerm,
	}, nil
}
