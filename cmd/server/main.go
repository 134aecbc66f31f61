package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/campa/internal/archive"
	"github.com/JonMunkholm/campa/internal/auth"
	"github.com/JonMunkholm/campa/internal/config"
	"github.com/JonMunkholm/campa/internal/core"
	"github.com/JonMunkholm/campa/internal/live"
	"github.com/JonMunkholm/campa/internal/logging"
	"github.com/JonMunkholm/campa/internal/metrics"
	"github.com/JonMunkholm/campa/internal/store"
	"github.com/JonMunkholm/campa/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"retention_days", cfg.Retention.Days,
		"archive", cfg.Archive.Kind,
	)

	loc, err := cfg.App.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database and apply migrations
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL, store.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return err
	}
	defer st.Close()
	logConnected(cfg.Database.Driver, cfg.Database.URL)

	m, err := metrics.New()
	if err != nil {
		return err
	}

	hub := live.NewHub()
	defer hub.Close()

	service := core.NewService(st, core.ServiceOptions{
		Location:      loc,
		Limiter:       core.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		Publisher:     hub,
		Metrics:       m,
		ImportTimeout: cfg.Import.Timeout,
	})

	authService, err := auth.NewService(st, service, auth.Config{
		Secret:   []byte(cfg.Auth.JWTSecret),
		TokenTTL: cfg.Auth.TokenTTL,
	})
	if err != nil {
		return err
	}

	if cfg.Auth.AdminEmail != "" {
		created, err := authService.Bootstrap(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, cfg.Auth.AdminName)
		if err != nil {
			return err
		}
		if created {
			slog.Info("initial admin created", "email", cfg.Auth.AdminEmail)
		}
	}

	sink, err := archive.New(ctx, archive.Config{
		Kind:      cfg.Archive.Kind,
		Dir:       cfg.Archive.Dir,
		Bucket:    cfg.Archive.Bucket,
		Prefix:    cfg.Archive.Prefix,
		Region:    cfg.Archive.Region,
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
	})
	if err != nil {
		return err
	}

	// A nil archive.Sink must stay a nil core.ArchiveSink
	var archiveSink core.ArchiveSink
	if sink != nil {
		archiveSink = sink
	}

	retention, err := service.NewRetentionScheduler(archiveSink, core.RetentionConfig{
		Schedule: cfg.Retention.Schedule,
		Days:     cfg.Retention.Days,
	})
	if err != nil {
		return err
	}

	server := web.NewServer(ctx, web.Options{
		Service: service,
		Auth:    authService,
		Hub:     hub,
		Metrics: m,
		Store:   st,
		Archive: archiveSink,
		Config:  cfg,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if retention != nil {
		g.Go(func() error {
			return retention.Run(gctx)
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active imports to complete (with timeout)
		if status := service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		// Live subscribers hold hijacked connections Shutdown does not wait for
		hub.Close()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("server stopped")
	return err
}

// logConnected logs which database we connected to without credentials.
func logConnected(driver, dsn string) {
	if driver == store.DriverSQLite {
		slog.Info("connected to database", "driver", driver, "path", dsn)
		return
	}
	if u, err := url.Parse(dsn); err == nil {
		slog.Info("connected to database", "driver", driver, "name", strings.TrimPrefix(u.Path, "/"))
		return
	}
	slog.Info("connected to database", "driver", driver)
}
