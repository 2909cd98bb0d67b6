package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kvgate/config"
	"kvgate/logging"
	"kvgate/server"
	"kvgate/store"

	"golang.org/x/sync/errgroup"
)

// components is everything main wires together for either serving mode.
type components struct {
	store   *store.Store
	hub     *server.WSHub
	metrics *server.Metrics
	app     *server.App
}

func newComponents(cfg *config.Config, logger *slog.Logger) *components {
	kv := store.New()
	hub := server.NewWSHub(logger)
	metrics := server.NewMetrics(kv.Len)

	router := server.NewRouter(kv, server.RouterConfig{
		CollectionPath:   cfg.CollectionPath,
		SnapshotEncoding: server.SnapshotEncoding(cfg.SnapshotEncoding),
		Notifier:         hub,
	})

	lifespan := &server.Lifespan{
		OnStartup: func(ctx context.Context) error {
			logger.Info("store ready", "component", "lifespan")
			return nil
		},
		OnShutdown: func(ctx context.Context) error {
			logger.Info("store discarded", "component", "lifespan", "keys", kv.Len())
			return nil
		},
	}

	return &components{
		store:   kv,
		hub:     hub,
		metrics: metrics,
		app:     server.NewApp(router, lifespan, logger, metrics),
	}
}

// newMux routes the app at / and the operational endpoints under /__kv/.
func newMux(c *components, host *server.Host, cfg *config.Config, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/__kv/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"lifespan": c.app.Lifespan().State().String(),
			"keys":     c.store.Len(),
		}); err != nil {
			http.Error(w, "failed to encode health summary", http.StatusInternalServerError)
		}
	})

	mux.Handle("/__kv/metrics", c.metrics.Handler())
	mux.Handle("/__kv/watch", watchHandler(c.hub, []byte(cfg.WatchJWTSecret), logger))
	mux.Handle("/", host)

	return mux
}

func main() {
	configPath := flag.String("config", config.DefaultFile, "path to the JSON or YAML configuration file")
	stdio := flag.Bool("stdio", false, "serve the frame protocol on stdin/stdout instead of HTTP")
	flag.Parse()

	logger, level := logging.New(os.Stderr, slog.LevelInfo)
	cfg := config.Load(*configPath, logger)
	if lvl, err := config.ParseLevel(cfg.LogLevel); err == nil {
		level.Set(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.Watch(ctx, *configPath, logger, func(next *config.Config) {
		if lvl, err := config.ParseLevel(next.LogLevel); err == nil {
			level.Set(lvl)
		}
	}); err != nil {
		logger.Warn("config reload disabled", "error", err)
	}

	c := newComponents(cfg, logger)

	var err error
	if *stdio {
		err = server.ServeStream(ctx, c.app, os.Stdin, os.Stdout)
	} else {
		err = serveHTTP(ctx, c, cfg, logger)
	}
	if err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func serveHTTP(ctx context.Context, c *components, cfg *config.Config, logger *slog.Logger) error {
	host := server.NewHost(c.app, server.HostConfig{
		ChunkSize: cfg.ChunkSize,
		Logger:    logger,
		Metrics:   c.metrics,
	})

	if err := host.Startup(ctx); err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: newMux(c, host, cfg, logger),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening",
			"addr", cfg.Addr,
			"collection_path", cfg.CollectionPath,
			"chunk_size", cfg.ChunkSize,
			"snapshot_encoding", cfg.SnapshotEncoding,
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutMs)*time.Millisecond)
		defer cancel()

		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Error("http server shutdown", "error", err)
		}
		return host.Shutdown(sctx)
	})

	return g.Wait()
}
