package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/leonardo-lacerda/InstanciaEvo/internal/ratelimit"
	"github.com/leonardo-lacerda/InstanciaEvo/internal/util"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/kvstore"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/storage"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/webhook"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/analytics"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/auth"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/backup"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/business"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/config"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/diagnostics"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/jobs"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/lifecycle"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/messages"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/navigation"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/notify"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		redisClient *redis.Client
		purger      jobs.Purger
		backend     kvstore.Backend
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}
	switch cfg.StorageBackend {
	case "redis":
		backend = kvstore.NewRedisBackend(redisClient, "console:")
	case "postgres":
		pg, err := kvstore.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		backend, purger = pg, pg
	default:
		backend = kvstore.NewMemoryBackend()
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
	}

	var publisher notify.Publisher
	if cfg.AMQPURL != "" {
		amqpPub, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to connect to broker: %v", err)
		}
		defer amqpPub.Close()
		publisher = amqpPub
	}

	appCore, err := app.New(app.Config{
		Version:                cfg.Version,
		KV:                     kvstore.New(backend),
		Gateway:                evolution.NewClient(cfg.EvolutionAPIURL, cfg.EvolutionAPIKey, config.MustDuration(cfg.RequestTimeout)),
		Webhooks:               webhook.NewSender(config.MustDuration(cfg.WebhookTimeout)),
		Objects:                objects,
		Notifications:          notify.NewFeed(notify.DefaultCapacity, publisher),
		MaxMessagesPerInstance: cfg.MaxMessagesPerInstance,
		MaxMessageHistory:      cfg.MaxMessageHistory,
		SessionWindow:          config.MustDuration(cfg.SessionWindow),
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if err := appCore.Load(ctx); err != nil {
		log.Fatalf("failed to load state: %v", err)
	}

	authSvc, err := auth.New(appCore, auth.Config{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
		Secret:   cfg.SessionSecret,
	})
	if err != nil {
		log.Fatalf("failed to init auth: %v", err)
	}
	if _, err := authSvc.Restore(ctx); err != nil {
		logger.Warn("restore session failed", "err", err)
	}

	tracker := lifecycle.New(appCore, lifecycle.RetryPolicy{
		MaxAttempts:    cfg.QRMaxAttempts,
		InitialBackoff: config.MustDuration(cfg.QRInitialBackoff),
		MaxBackoff:     config.MustDuration(cfg.QRMaxBackoff),
		Multiplier:     2,
	})
	bizSvc := business.NewService(appCore)
	backups := backup.NewService(appCore, bizSvc)
	stats := analytics.NewService(appCore)

	var loginLimiter *ratelimit.FixedWindowLimiter
	if redisClient != nil && cfg.LoginRateLimitPerMinute > 0 {
		loginLimiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "console:ratelimit:login", cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Auth:           authSvc,
		Tracker:        tracker,
		Messages:       messages.NewService(appCore),
		Business:       bizSvc,
		Analytics:      stats,
		Backups:        backups,
		Navigator:      navigation.New(appCore),
		Diagnostics:    diagnostics.NewService(appCore),
		LoginLimiter:   loginLimiter,
		TrustedOrigins: cfg.TrustedOrigins,
		TrustedProxies: proxies,
		WebhookToken:   cfg.WebhookToken,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	scheduler, err := jobs.New(jobs.Config{
		BackupInterval: config.MustDuration(cfg.BackupInterval),
		HealthInterval: config.MustDuration(cfg.HealthCheckInterval),
		QRInterval:     config.MustDuration(cfg.QRRefreshInterval),
	}, tracker, backups, stats, purger)
	if err != nil {
		log.Fatalf("failed to init scheduler: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr, "gateway", cfg.EvolutionAPIURL, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := backups.Snapshot(shutdownCtx); err != nil {
			logger.Warn("final backup failed", "err", err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
