/*
Package main is the entry point for the relaychat server.

It is responsible for loading configuration, initializing the global logging system,
opening the durable store, starting the realtime hub (and its Redis relay when
configured), serving HTTP and gracefully handling operating system interrupt signals
(SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"relaychat/internal/app/realtime"
	"relaychat/internal/app/relay"
	"relaychat/internal/app/storage"
	"relaychat/internal/app/store"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/pow"
)

func openStore(ctx context.Context, cfg *configs.AppConfig) (store.Store, error) {
	switch cfg.StoreDriver {
	case configs.StoreDriverMongo:
		return store.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case configs.StoreDriverMemory:
		logx.Warn("Using the in-memory store; data is lost on restart")
		return store.NewMemory(), nil
	default:
		return store.NewPostgres(ctx, cfg.DatabaseDSN)
	}
}

func instanceID(cfg *configs.AppConfig) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "relaychat"
	}
	return host + "-" + uuid.NewString()[:8]
}

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("pow_difficulty", cfg.PowDifficulty).
		Str("store_driver", cfg.StoreDriver).
		Bool("relay", cfg.RedisURL != "").
		Bool("storage", cfg.StorageEnabled()).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open store")
	}

	var files storage.Service
	if cfg.StorageEnabled() {
		files, err = storage.NewService(ctx, storage.ConfigFrom(cfg))
		if err != nil {
			logx.Fatal(err, "Failed to initialize storage")
		}
	}

	id := instanceID(cfg)

	var fanout *relay.Redis
	if cfg.RedisURL != "" {
		client, err := relay.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logx.Fatal(err, "Failed to connect to Redis")
		}
		defer client.Close()
		fanout = relay.NewRedis(client, relay.DefaultChannel, id)
	}

	opts := realtime.HubOptions{InstanceID: id}
	if fanout != nil {
		opts.Relay = fanout
	}
	hub := realtime.NewHub(opts)
	go hub.Run()

	// background holds the relay subscriber; it outlives ctx until the hub has stopped.
	var background errgroup.Group
	relayCtx, stopRelay := context.WithCancel(context.Background())
	if fanout != nil {
		background.Go(func() error {
			return fanout.Run(relayCtx, hub.Relayed)
		})
	}

	powManager := pow.NewManager(cfg.PowDifficulty)

	router, stopLimiters := handler.Router(&handler.AppDeps{
		Config:  cfg,
		Store:   db,
		Hub:     hub,
		Storage: files,
		Pow:     powManager,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("relaychat server starting on http://localhost%s", serverAddr), "instance_id", id)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	hub.Stop()
	<-hub.Done()

	stopRelay()
	if err := background.Wait(); err != nil {
		logx.Error(err, "Relay stopped")
	}

	stopLimiters()
	powManager.Stop()

	if err := db.Close(shutdownCtx); err != nil {
		logx.Error(err, "Failed to close store")
	}

	logx.Info("Server gracefully stopped.")
}
