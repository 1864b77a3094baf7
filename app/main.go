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

	"github.com/lysyi3m/manga-reader/app/api"
	"github.com/lysyi3m/manga-reader/app/auth"
	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/cache"
	"github.com/lysyi3m/manga-reader/app/cfg"
	"github.com/lysyi3m/manga-reader/app/database"
	"github.com/lysyi3m/manga-reader/app/feed"
	"github.com/lysyi3m/manga-reader/app/ingest"
	"github.com/lysyi3m/manga-reader/app/ratelimit"
	"github.com/lysyi3m/manga-reader/app/reconcile"
	"github.com/lysyi3m/manga-reader/app/tasks"
)

const sessionTTL = 14 * 24 * time.Hour

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}
	cfg.Set(appCfg)

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(appCfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting manga reader", "version", appCfg.Version)

	sites := cfg.NewSites(appCfg.SitesFile, appCfg.SiteDomain)
	if err := sites.Load(); err != nil {
		return err
	}

	db, err := database.NewConnection(appCfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Info("Database ready", "schema_version", version, "dirty", dirty)

	blobs, err := openBlobs(appCfg)
	if err != nil {
		return err
	}
	urls := blob.NewResolver(appCfg.MediaURL, appCfg.SiteDomain, appCfg.UseCDN)

	backend, limiter, closeRedis, err := openCache(appCfg)
	if err != nil {
		return err
	}
	defer closeRedis()
	readerCache := cache.New(backend, appCfg.SecretKey)

	sources := feed.NewSources(db, blobs, urls, feed.Options{
		BaseURL:        appCfg.BaseURL(),
		SiteName:       sites.ForHost(appCfg.SiteDomain).Name,
		Language:       appCfg.LangCode,
		MaxReleases:    appCfg.MaxReleases,
		AllowDownloads: appCfg.AllowDownloads,
	})

	handler := api.NewHandler(api.Deps{
		Config:   appCfg,
		Sites:    sites,
		DB:       db,
		Blobs:    blobs,
		URLs:     urls,
		Cache:    readerCache,
		Auth:     auth.NewService(db, appCfg.SecretKey, sessionTTL),
		Store:    reconcile.NewStore(db, blobs, sites, readerCache),
		Pipeline: ingest.NewPipeline(db, blobs, readerCache, appCfg.MaxUploadSize),
		Feeds:    feed.NewService(sources, feed.NewGenerator(appCfg.Version), readerCache),
		Limiter:  limiter,
	})

	scheduler := tasks.NewScheduler(db, blobs, readerCache)
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:              ":" + appCfg.Port,
		Handler:           api.NewServer(handler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port, "site", appCfg.BaseURL())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case serveErr = <-serverErrChan:
	}

	slog.Info("Shutting down server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	return serveErr
}

// openBlobs returns the MinIO store when an endpoint is configured and the
// media directory otherwise.
func openBlobs(appCfg *cfg.Cfg) (blob.Storage, error) {
	if appCfg.S3Endpoint != "" {
		storage, err := blob.NewMinioStorage(appCfg.S3Endpoint, appCfg.S3AccessKey, appCfg.S3SecretKey, appCfg.S3Bucket, appCfg.S3UseSSL)
		if err != nil {
			return nil, err
		}
		slog.Info("Using object storage", "endpoint", appCfg.S3Endpoint, "bucket", appCfg.S3Bucket)
		return storage, nil
	}
	storage, err := blob.NewFileStorage(appCfg.MediaRoot)
	if err != nil {
		return nil, err
	}
	return storage, nil
}

// openCache returns the cache backend and throttle limiter, both backed by
// Redis when REDIS_URL is set and in memory otherwise.
func openCache(appCfg *cfg.Cfg) (cache.Backend, ratelimit.Limiter, func(), error) {
	if appCfg.RedisURL == "" {
		limiter, err := ratelimit.NewMemoryLimiter(appCfg.ThrottleAnon, time.Minute)
		if err != nil {
			return nil, nil, nil, err
		}
		return cache.NewMemoryBackend(), limiter, func() {}, nil
	}

	backend, err := cache.NewRedisBackend(appCfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	limiter, err := ratelimit.NewRedisLimiter(backend.Client(), "throttle:anon", appCfg.ThrottleAnon, time.Minute)
	if err != nil {
		backend.Close()
		return nil, nil, nil, err
	}
	return backend, limiter, func() { backend.Close() }, nil
}
