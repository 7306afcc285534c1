package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portalwatch/portalwatch/app/api"
	"github.com/portalwatch/portalwatch/app/cache"
	"github.com/portalwatch/portalwatch/app/cfg"
	"github.com/portalwatch/portalwatch/app/database"
	"github.com/portalwatch/portalwatch/app/sync"
	"github.com/portalwatch/portalwatch/app/upstream"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	setupLogging(appCfg.Debug)
	slog.Info("Starting Portalwatch server", "version", appCfg.Version)

	// Database connection and migrations
	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	repo := database.NewCharacterRepository(db)

	// Cache is optional: the service serves reads without it.
	cacheClient, err := cache.New(appCfg.RedisAddr, appCfg.CachePrefix)
	if err != nil {
		slog.Warn("Cache unavailable, continuing without cache", "addr", appCfg.RedisAddr, "error", err)
		cacheClient = nil
	}
	defer cacheClient.Close()

	// Upstream client: transport wrapped with retry and circuit breaking.
	transport := upstream.NewTransport(upstream.TransportOptions{
		BaseURL:           appCfg.UpstreamURL,
		Timeout:           time.Duration(appCfg.UpstreamTimeout) * time.Second,
		RateLimitCooldown: time.Duration(appCfg.RateLimitCooldown) * time.Second,
		MaxIdleConns:      appCfg.MaxIdleConns,
		MaxConnsPerHost:   appCfg.MaxConnsPerHost,
		UserAgent:         fmt.Sprintf("%s/%s", appCfg.UserAgent, appCfg.Version),
	})
	resilient := upstream.NewResilientClient(transport, upstream.ResilienceOptions{
		MaxAttempts:       appCfg.MaxRetries,
		BackoffMultiplier: appCfg.BackoffMultiplier,
		BackoffMin:        time.Duration(appCfg.BackoffMin) * time.Second,
		BackoffMax:        time.Duration(appCfg.BackoffMax) * time.Second,
		BreakerThreshold:  uint32(appCfg.BreakerThreshold),
		BreakerRecovery:   time.Duration(appCfg.BreakerRecovery) * time.Second,
	})
	client := upstream.NewClient(resilient, time.Duration(appCfg.PageDelayMS)*time.Millisecond)

	// Sync pipeline
	syncer := sync.NewSyncer(client, repo, cacheClient)
	scheduler := sync.NewScheduler(syncer,
		time.Duration(appCfg.SyncInterval)*time.Second,
		time.Duration(appCfg.StartupDelay)*time.Second)
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP server
	handler := api.NewHandler(db, repo, cacheClient, client, syncer)
	server := api.NewServer(handler, appCfg.Version)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("Portalwatch server started")

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// Scheduler and cache are stopped via defer
	slog.Info("Portalwatch server shutdown complete")
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
