package server

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// App is the entry point a host calls once per connection.
type App struct {
	router   *Router
	lifespan *Lifespan
	logger   *slog.Logger
	metrics  *Metrics
}

// NewApp wires the router and lifespan machine together. metrics may be nil.
func NewApp(router *Router, lifespan *Lifespan, logger *slog.Logger, metrics *Metrics) *App {
	if lifespan == nil {
		lifespan = &Lifespan{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		router:   router,
		lifespan: lifespan,
		logger:   logger.With("component", "app"),
		metrics:  metrics,
	}
}

func (a *App) Lifespan() *Lifespan { return a.lifespan }

// Serve handles one connection described by scope. Errors stop here: they
// are logged and counted, never returned and never retried. When nothing
// was sent the host is expected to drop the connection.
func (a *App) Serve(ctx context.Context, scope Scope, t Transport) {
	switch scope.Type {
	case ScopeLifespan:
		if err := a.lifespan.Run(ctx, t); err != nil {
			a.fail(scope, err)
			return
		}
		a.logger.Info("lifespan complete", "state", a.lifespan.State().String())

	case ScopeHTTP:
		start := time.Now()
		status, err := a.router.Handle(ctx, scope, t)
		elapsed := time.Since(start)
		if err != nil {
			a.fail(scope, err)
			return
		}
		a.metrics.ObserveRequest(scope.Method, status, elapsed)
		a.logger.Info("request",
			"request_id", scope.ID,
			"method", scope.Method,
			"path", scope.Path,
			"status", status,
			"duration_ms", float64(elapsed.Microseconds())/1000,
		)

	default:
		a.fail(scope, &ProtocolError{Kind: ErrUnknownScope, Op: "serve", Detail: string(scope.Type)})
	}
}

func (a *App) fail(scope Scope, err error) {
	kind := Classify(err)
	a.metrics.ObserveError(kind)

	attrs := []any{
		"scope", string(scope.Type),
		"request_id", scope.ID,
		"method", scope.Method,
		"path", scope.Path,
		"kind", kind,
		"error", err,
	}
	if errors.Is(err, ErrPeerDisconnected) {
		a.logger.Debug("request aborted", attrs...)
		return
	}
	a.logger.Error("connection failed", attrs...)
}
