package main

import (
	"campuschat/backend/internal/api/handler"
	"campuschat/backend/internal/chat"
	"campuschat/backend/internal/chathub"
	"campuschat/backend/internal/config"
	"campuschat/backend/internal/profile"
	"campuschat/backend/internal/storage"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type dependencies struct {
	store    storage.Storage
	profiles profile.Directory
	presence chathub.Presence
	fanout   chathub.Fanout
	closers  []func() error
}

func (d *dependencies) close(log *logrus.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.WithError(err).Warn("shutdown: close failed")
		}
	}
}

func setupDependencies(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*dependencies, error) {
	deps := &dependencies{}

	var rdb *redis.Client
	if cfg.Presence.Driver == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, rdb.Close)
		deps.presence = chathub.NewRedisPresence(rdb, cfg.Presence.HashKey)
		deps.fanout = chathub.NewRedisFanout(rdb, cfg.Presence.Channel, log)
		log.WithField("addr", cfg.Redis.Addr).Info("redis presence enabled")
	} else {
		deps.presence = chathub.NewMemoryPresence()
		deps.fanout = chathub.NewLocalFanout()
	}

	switch cfg.Store.Driver {
	case "memory":
		deps.store = storage.NewMemoryStore()
		deps.profiles = profile.NewStaticDirectory()
		log.Warn("using in-memory store; nothing survives a restart")
	default:
		db, err := storage.OpenPostgres(cfg.DB.DSN(), cfg.DB.MaxOpenConns, cfg.DB.MaxIdleConns, cfg.DB.ConnMaxLifetime)
		if err != nil {
			return nil, err
		}
		svc := storage.NewStorageService(db, log)
		if err := svc.Migrate(); err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			deps.closers = append(deps.closers, sqlDB.Close)
		}
		deps.store = svc

		var dir profile.Directory = profile.NewGormDirectory(db)
		if rdb != nil && cfg.Profile.CacheTTL > 0 {
			dir = profile.NewCachedDirectory(dir, rdb, cfg.Profile.CacheTTL, log)
		}
		deps.profiles = dir
		log.WithField("host", cfg.DB.Host).Info("postgres connected, migrations complete")
	}
	return deps, nil
}

func main() {
	cfg, err := config.Load(".", "./config")
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := cfg.Log.NewLogger()
	log.Info("starting chat backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setupDependencies(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("dependencies unavailable")
	}
	defer deps.close(log)

	chatSvc := chat.NewService(deps.store, deps.profiles, cfg.Chat, cfg.DB.QueryTimeout, log)
	hub := chathub.NewManagerService(chatSvc, deps.presence, deps.fanout, cfg.Typing.ServerTTL, log)
	chatSvc.SetNotifier(hub.Broadcaster)

	hubErr := make(chan error, 1)
	go func() { hubErr <- hub.Run(ctx) }()

	if log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	auth := handler.NewAuthenticator(cfg.Auth)
	h := handler.NewHandler(chatSvc, hub, auth, cfg.Server.AllowedOrigins, cfg.Chat.SendBuffer, log)
	if cfg.Auth.DevIssuer {
		log.Warn("development token issuer enabled at POST /auth/token")
	}

	server := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        handler.NewRouter(h, cfg.Server.AllowedOrigins, cfg.Auth.DevIssuer),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-hubErr:
		if err != nil {
			log.WithError(err).Error("hub stopped")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
	<-hub.Done()
	log.Info("stopped")
}
