package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixel-hosting/dtr/internal/api"
	"github.com/pixel-hosting/dtr/internal/broadcast"
	"github.com/pixel-hosting/dtr/internal/config"
	"github.com/pixel-hosting/dtr/internal/jobs"
	"github.com/pixel-hosting/dtr/internal/ledger"
	"github.com/pixel-hosting/dtr/internal/publish"
	"github.com/pixel-hosting/dtr/internal/store"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub, err := newPublisher(cfg)
	if err != nil {
		log.Fatalf("init publisher: %v", err)
	}

	led := ledger.New()
	disp := broadcast.NewDispatcher(pub, broadcast.Options{
		Concurrency: cfg.PublishConcurrency,
		Timeout:     time.Duration(cfg.PublishTimeoutSeconds) * time.Second,
	})

	var audit *store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect db: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("ping db: %v", err)
		}
		audit = store.New(pool)
	}

	var auditAPI api.AuditStore
	var auditJobs jobs.AuditStore
	if audit != nil {
		auditAPI = audit
		auditJobs = audit
	}

	jobs.NewRunner(led, auditJobs, jobs.Options{
		SweepInterval:  time.Duration(cfg.BanSweepIntervalSeconds) * time.Second,
		AuditRetention: time.Duration(cfg.AuditRetentionDays) * 24 * time.Hour,
	}).Start(ctx)

	handler := api.NewRouter(cfg, led, disp, auditAPI)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("dtr moderation relay listening on %s universes=%d publisher=%s", cfg.ListenAddr, len(cfg.UniverseIDs), cfg.Publisher)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
}

func newPublisher(cfg config.Config) (publish.Publisher, error) {
	switch cfg.Publisher {
	case "roblox":
		return publish.NewRobloxPublisher(publish.RobloxPublisherOptions{
			APIKey:  cfg.RobloxAPIKey,
			Topic:   cfg.MessagingTopic,
			Timeout: time.Duration(cfg.PublishTimeoutSeconds) * time.Second,
		})
	default:
		return publish.NewFakePublisher(), nil
	}
}
