package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agora/internal/archive"
	"github.com/agora/internal/cache"
	"github.com/agora/internal/config"
	"github.com/agora/internal/db"
	"github.com/agora/internal/handler"
	"github.com/agora/internal/jobs"
	"github.com/agora/internal/logging"
	"github.com/agora/internal/realtime"
	"github.com/agora/internal/router"
	"github.com/agora/internal/service"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(cfg.GinMode)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("invalid timezone: %v", err)
	}
	clock := func() time.Time { return time.Now().In(loc) }

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	gdb, err := db.Init(db.Options{Driver: cfg.DBDriver, Path: cfg.DatabasePath, URL: cfg.DatabaseURL})
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	if err := db.EnsureAdmin(gdb, cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		log.Fatalf("failed to ensure admin account: %v", err)
	}

	opts := service.Options{
		Clock:            clock,
		TokenTTL:         cfg.TokenTTL,
		BatchItemTimeout: cfg.BatchItemTimeout,
	}

	hub := realtime.NewHub()
	opts.Publisher = hub

	if cfg.RedisEnabled() {
		client, err := cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, leaderboard falls back to database")
		} else {
			defer client.Close()
			opts.Board = cache.NewLeaderboard(client, cache.DefaultLeaderboardKey)
		}
	}

	if cfg.ArchiveEnabled() {
		sink, err := archive.NewS3Sink(ctx, archive.S3Options{
			Bucket:          cfg.ArchiveBucket,
			Endpoint:        cfg.ArchiveEndpoint,
			Region:          cfg.ArchiveRegion,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
		})
		if err != nil {
			log.Fatalf("failed to configure ledger archive: %v", err)
		}
		opts.Archive = sink
	}

	reg, err := service.NewRegistry(gdb, opts)
	if err != nil {
		log.Fatalf("failed to build services: %v", err)
	}
	if opts.Board != nil {
		if err := reg.Leaderboard.Rebuild(ctx); err != nil {
			log.WithError(err).Warn("rebuild leaderboard failed")
		}
	}

	scheduler, err := jobs.New(jobs.Options{
		Location:           loc,
		SweepInterval:      cfg.PunishmentSweepInterval,
		Sweeper:            reg.Punishments,
		Retention:          time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour,
		CleanupCron:        cfg.HistoryCleanupCron,
		Cleaner:            reg.Ledger,
		TokenPurgeInterval: time.Hour,
		Tokens:             reg.Auth,
	})
	if err != nil {
		log.Fatalf("failed to create scheduler: %v", err)
	}
	scheduler.Start()

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(handler.NewAPI(reg, hub))
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to run server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown failed")
	}
	if err := scheduler.Shutdown(); err != nil {
		log.WithError(err).Error("scheduler shutdown failed")
	}
	reg.Batches.Wait()
	log.Info("server stopped")
}
