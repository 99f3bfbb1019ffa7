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

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"kitchenops/backend/internal/cache"
	"kitchenops/backend/internal/config"
	"kitchenops/backend/internal/events"
	"kitchenops/backend/internal/httpapi"
	"kitchenops/backend/internal/lock"
	"kitchenops/backend/internal/logging"
	"kitchenops/backend/internal/service"
	"kitchenops/backend/internal/store"
	"kitchenops/backend/internal/store/memory"
	pgstore "kitchenops/backend/internal/store/postgres"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)
	bootstrap := false

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatalf("migrate: %v", err)
			}
			logger.Info("migrations applied")
		}
		repo = pg
		closers = append(closers, pg.Close)
		bootstrap = cfg.BootstrapAdminPass != ""
		if !bootstrap {
			logger.Warn("BOOTSTRAP_ADMIN_PASSWORD not set; an empty database will have no users")
		}
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory (seeded)")
	}

	stockCache := cache.StockCache(cache.NewMemoryStockCache())
	locker := lock.Locker(lock.NewLocalLocker(5 * time.Second))
	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis unavailable (%v), using in-process cache and locks", err)
			_ = rdb.Close()
		} else {
			stockCache = cache.NewRedisStockCache(rdb)
			locker = lock.NewRedisLocker(rdb, cfg.UnitLockTTL())
			closers = append(closers, rdb.Close)
			logger.Info("cache and unit locks: redis")
		}
	} else {
		logger.Info("cache and unit locks: in-process")
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaStockTopic, logger)
		publisher = kp
		closers = append(closers, kp.Close)
		logger.WithField("topic", cfg.KafkaStockTopic).Info("stock events: kafka")
	} else {
		logger.Info("stock events: disabled")
	}

	svc := service.New(repo, service.Options{
		StockCache:    stockCache,
		StockCacheTTL: cfg.StockCacheTTL(),
		Locker:        locker,
		Events:        publisher,
		Logger:        logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)

	if bootstrap {
		created, err := auth.EnsureBootstrapAdmin(ctx, cfg.BootstrapAdminUser, cfg.BootstrapAdminPass)
		if err != nil {
			logger.Fatalf("bootstrap admin: %v", err)
		}
		if created {
			logger.WithField("username", cfg.BootstrapAdminUser).Info("bootstrap admin created")
		}
	}

	api := httpapi.New(svc, auth, logger, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("kitchenops backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Errorf("close error: %v", err)
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BootstrapAdminPass != "" && len(cfg.BootstrapAdminPass) < 12 {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least 12 characters")
	}
	return nil
}
