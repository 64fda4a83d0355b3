package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/cache"
	"github.com/geocoder89/userhub/internal/config"
	httpx "github.com/geocoder89/userhub/internal/http"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/geocoder89/userhub/internal/service/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := config.LoadDotEnv("."); err != nil {
		fmt.Fprintln(os.Stderr, "read .env:", err)
		os.Exit(1)
	}

	// Load the config set up, flags win over env
	cfg := config.Load()
	if err := cfg.ParseFlags(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(2)
	}

	log := observability.NewLogger(cfg.Env, cfg.ServiceName)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var toClose closers

	if cfg.OTelEnabled {
		shutdown, err := observability.InitTracer(ctx, observability.TracerOptions{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OTelEndpoint,
			SampleRatio: cfg.OTelSampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		toClose = append(toClose, shutdown)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	store, closeStore, err := openStore(ctx, cfg, prom, log)
	if err != nil {
		return err
	}
	if closeStore != nil {
		toClose = append(toClose, closeStore)
	}

	cacheStore, err := openCache(ctx, cfg, log)
	if err != nil {
		toClose.closeAll(context.Background(), log)
		return err
	}
	toClose = append(toClose, func(context.Context) error { return cacheStore.Close() })

	jwt := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL)
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty, tokens are signed with an empty key (dev only)")
	}

	svc := users.NewService(store, cache.NewAside(cacheStore, cfg.CacheTTL, log, prom), jwt, log, users.Options{
		InvalidateProfileOnUpdate: cfg.ProfileInvalidateOnUpdate,
	})

	router := httpx.NewRouter(log, cfg, httpx.Deps{
		Users:     svc,
		JWT:       jwt,
		Prom:      prom,
		CachePing: cacheStore.Ping,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreDriver, "cache", cfg.CacheDriver)
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		toClose.closeAll(context.Background(), log)
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown
	log.Info("server shutting down")

	shutdownCtx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}

	toClose.closeAll(shutdownCtx, log)
	log.Info("shutdown complete")
	return nil
}
