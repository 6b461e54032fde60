package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/star/keplertrack/internal/api"
	"github.com/star/keplertrack/internal/auth"
	"github.com/star/keplertrack/internal/config"
	"github.com/star/keplertrack/internal/metrics"
	"github.com/star/keplertrack/internal/propagation"
	"github.com/star/keplertrack/internal/stream"
	"github.com/star/keplertrack/internal/tle"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.LogLevel)

	store := tle.NewStore()
	fetcher := tle.NewFetcher(cfg.Catalog.SourceURL, logger, cfg.Catalog.ExtraSourceURLs...)
	fetcher.SetMinInterval(cfg.Catalog.MinFetchInterval)
	loader := tle.NewLoader(store, fetcher, tle.NewCache(cfg.Catalog.CacheDir, cfg.Catalog.MaxFiles), logger)
	loader.OnLoad = func(c *tle.Catalog) {
		metrics.SetCatalogObjects(c.Len())
		metrics.SetCatalogAge(time.Since(c.FetchedAt).Seconds())
	}

	// Serve the newest cached catalog until the first fetch completes.
	if _, err := loader.WarmStart(); err != nil {
		logger.Info("no cached catalog, starting empty", "error", err)
	}

	prop := propagation.NewPropagator(store, cfg.Propagation, logger)

	deps := api.Deps{
		Store:         store,
		Propagator:    prop,
		PassDefaults:  cfg.Passes.Defaults,
		MaxPassWindow: cfg.Passes.MaxWindow,
		Auth:          auth.Config{Token: cfg.Server.AuthToken},
		TrustProxy:    cfg.Server.TrustProxy,
	}
	if cfg.Catalog.EnableFetch {
		deps.Refresher = loader
	}
	if cfg.Stream.Enabled {
		deps.Stream = stream.NewHandler(prop, cfg.Stream.Limits, cfg.Propagation.StaleAfter, logger)
	}
	srv := api.NewServer(cfg.Server.Addr, logger, deps)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Catalog.EnableFetch {
		go refreshLoop(ctx, loader, cfg.Catalog.RefreshInterval, logger)
	}

	// Background goroutine to update the catalog age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				age := store.AgeSeconds(time.Now())
				if age >= 0 {
					metrics.SetCatalogAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr, "auth_enabled", deps.Auth.Enabled(), "fetch_enabled", cfg.Catalog.EnableFetch)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// refreshLoop fetches the catalog once at startup and then every interval.
// An interval of zero fetches only once.
func refreshLoop(ctx context.Context, loader *tle.Loader, interval time.Duration, logger *slog.Logger) {
	refresh := func() {
		fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if _, err := loader.Refresh(fetchCtx); err != nil && ctx.Err() == nil {
			logger.Warn("scheduled catalog refresh failed", "error", err)
		}
	}

	refresh()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			refresh()
		case <-ctx.Done():
			return
		}
	}
}
