package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gmartinelli/pedidos/internal/bus"
	"github.com/gmartinelli/pedidos/internal/cache"
	"github.com/gmartinelli/pedidos/internal/config"
	"github.com/gmartinelli/pedidos/internal/db"
	"github.com/gmartinelli/pedidos/internal/gateway"
	"github.com/gmartinelli/pedidos/internal/logger"
	"github.com/gmartinelli/pedidos/internal/server"
	"github.com/gmartinelli/pedidos/internal/service"
	"github.com/gmartinelli/pedidos/internal/syncer"
)

func main() {
	log := logger.New()
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config error", zap.Error(err))
	}

	orderCache := cache.New(cfg.CacheWindow)
	eventBus := bus.New(log)
	session := gateway.NewSessionStore(cfg.SessionUserFile)

	var (
		gw   gateway.Gateway
		auth server.AuthFunc
		sync *syncer.Syncer

		// Started after the service has registered its refresh observer.
		startSync func()
	)

	options := syncer.Options{
		ActiveFetchMax: cfg.ActiveFetchMax,
		FullFetchMax:   cfg.FullFetchMax,
		PollInterval:   cfg.PollInterval,
		Debounce:       cfg.RefetchDebounce,
	}

	switch cfg.Mode {
	case config.ModeRemote:
		database, err := db.NewDB(ctx, cfg.DatabaseDSN)
		if err != nil {
			log.Fatal("database init error", zap.Error(err))
		}
		defer database.Close()

		remote := gateway.NewRemote(database, log)
		gw = remote
		auth = remote.ValidateUser
		sync = syncer.New(gw, orderCache, log, options)

		listener := syncer.NewListener(database, sync, log)
		startSync = func() { go listener.Run(ctx) }
		log.Info("running in remote mode")

	default:
		local, err := gateway.NewLocal(cfg.DataFile, log)
		if err != nil {
			log.Fatal("local storage init error", zap.Error(err))
		}
		gw = local
		// Local mode is single-device: any reference-list user gets in.
		auth = func(ctx context.Context, username, _ string) (bool, error) {
			users, err := gw.FetchUsers(ctx)
			if err != nil {
				return false, err
			}
			for _, u := range users {
				if u.Name == username {
					return true, nil
				}
			}
			return false, nil
		}
		sync = syncer.New(gw, orderCache, log, options)

		startSync = func() { go sync.RunPolling(ctx) }
		log.Info("running in local mode", zap.String("data_file", cfg.DataFile))
	}

	svc := service.New(gw, orderCache, sync, eventBus, session, log)
	startSync()
	srv := server.New(svc, eventBus, auth, log)

	go func() {
		if err := srv.Run(ctx, cfg.HTTPPort); err != nil {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()
	log.Info("server started", zap.String("port", cfg.HTTPPort))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	sync.Shutdown()
	eventBus.Close()

	log.Info("stopped cleanly")
}
