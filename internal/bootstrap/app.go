package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/config"
	appgrpc "gitlab.com/timkado/api/loanguard-gateway/internal/adapters/grpc"
	apphttp "gitlab.com/timkado/api/loanguard-gateway/internal/adapters/http"
	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/middleware"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
	"gitlab.com/timkado/api/loanguard-gateway/pkg/contextkeys"
	"gitlab.com/timkado/api/loanguard-gateway/pkg/safego"
)

// NOTE: The App struct and NewApp function are defined in providers.go for Wire.

// Run installs the configured shell generation, serves HTTP until a signal or
// ctx cancellation arrives and then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	cfg := a.configProvider.Get()
	a.logger.Info(ctx, "Starting application", "service_name", cfg.App.ServiceName, "version", cfg.App.Version)

	a.registerRoutes(ctx)

	if err := a.grpcServer.Start(); err != nil && !errors.Is(err, appgrpc.ErrPortNotConfigured) {
		return fmt.Errorf("failed to start gRPC server: %w", err)
	}

	genCtx := context.WithValue(ctx, contextkeys.GenerationKey, cfg.Shell.Generation)
	if err := a.controller.Start(genCtx, cfg.Shell.Generation); err != nil {
		a.logger.Error(genCtx, "Initial shell install failed", "error", err.Error())
		return fmt.Errorf("failed to install shell generation %s: %w", cfg.Shell.Generation, err)
	}
	a.grpcServer.SetServing(true)

	if a.events != nil {
		if err := a.events.Subscribe(a.adoptPeerGeneration); err != nil {
			a.logger.Error(ctx, "Failed to subscribe to generation events", "error", err.Error())
		}
	}
	a.configProvider.OnReload(func(old, updated *config.Config) {
		a.onConfigReload(ctx, old, updated)
	})

	safego.Execute(ctx, a.logger, "SignalListenerAndGracefulShutdown", func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			a.logger.Info(context.Background(), "Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
		case <-ctx.Done():
			a.logger.Info(context.Background(), "Application context cancelled, initiating graceful shutdown...")
		}
		a.shutdown()
	})

	a.logger.Info(ctx, fmt.Sprintf("HTTP server listening on port %d", cfg.Server.HTTPPort))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "HTTP server ListenAndServe error", "error", err.Error())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	a.logger.Info(ctx, "Application shut down gracefully or server closed.")
	return nil
}

func (a *App) registerRoutes(ctx context.Context) {
	a.httpServeMux.Handle("GET /health", middleware.RequestIDMiddleware(http.HandlerFunc(a.health)))
	a.httpServeMux.Handle("GET /ready", middleware.RequestIDMiddleware(http.HandlerFunc(a.ready)))
	a.httpServeMux.Handle("GET /metrics", middleware.RequestIDMiddleware(promhttp.Handler()))
	a.logger.Info(ctx, "Prometheus metrics endpoint registered at /metrics")

	a.httpServeMux.Handle("GET /_gateway/cache/generations", middleware.Chain(
		apphttp.GenerationsHandler(a.store, a.controller, a.logger),
		middleware.RequestIDMiddleware, a.adminAuth,
	))
	a.httpServeMux.Handle("POST /_gateway/cache/rollover", middleware.Chain(
		apphttp.RolloverHandler(a.controller, a.logger),
		middleware.RequestIDMiddleware, a.adminAuth,
	))
	a.logger.Info(ctx, "Cache admin endpoints registered", "prefix", "/_gateway/cache")

	a.wsRouter.RegisterRoutes(ctx, a.httpServeMux)

	// Everything else is intercepted.
	a.httpServeMux.Handle("/", middleware.RequestIDMiddleware(a.gateway))
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug(r.Context(), "Health check endpoint hit")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"OK"}`)
}

// ReadinessResponse is the body of GET /ready.
type ReadinessResponse struct {
	Status       string            `json:"status"`
	Generation   string            `json:"generation"`
	Dependencies map[string]string `json:"dependencies"`
}

func (a *App) ready(w http.ResponseWriter, r *http.Request) {
	ready := true
	deps := make(map[string]string)

	if a.controller.Ready() {
		deps["cache"] = "active"
	} else {
		deps["cache"] = "installing"
		ready = false
	}

	if a.redisClient != nil {
		if err := a.redisClient.Ping(r.Context()).Err(); err == nil {
			deps["redis"] = "connected"
		} else {
			deps["redis"] = "disconnected"
			ready = false
			a.logger.Warn(r.Context(), "Readiness check failed: Redis ping failed", "error", err.Error())
		}
	} else {
		deps["redis"] = "not_configured"
	}

	if a.events != nil {
		if a.events.IsConnected() {
			deps["nats"] = "connected"
		} else {
			deps["nats"] = "disconnected"
			ready = false
			a.logger.Warn(r.Context(), "Readiness check failed: NATS disconnected")
		}
	} else {
		deps["nats"] = "not_configured"
	}

	resp := ReadinessResponse{Generation: a.controller.Generation(), Dependencies: deps}
	status := http.StatusOK
	if ready {
		resp.Status = "READY"
	} else {
		resp.Status = "NOT_READY"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Error(r.Context(), "Failed to encode readiness response", "error", err.Error())
	}
}

func (a *App) adoptPeerGeneration(ctx context.Context, event domain.GenerationEvent) {
	ctx = context.WithValue(ctx, contextkeys.GenerationKey, event.Generation)
	a.logger.Info(ctx, "Peer pod activated a generation, adopting it", "peer_pod_id", event.PodID)
	if err := a.controller.Adopt(ctx, event.Generation); err != nil {
		a.logger.Error(ctx, "Failed to adopt peer generation", "error", err.Error())
	}
}

func (a *App) onConfigReload(ctx context.Context, old, updated *config.Config) {
	if old != nil && old.Shell.Generation == updated.Shell.Generation {
		return
	}
	generation := updated.Shell.Generation
	safego.Execute(ctx, a.logger, "ConfigReloadRollover", func() {
		rolloverCtx := context.WithValue(ctx, contextkeys.GenerationKey, generation)
		a.logger.Info(rolloverCtx, "Shell generation changed in configuration, rolling over")
		if err := a.controller.Rollover(rolloverCtx, generation); err != nil {
			a.logger.Error(rolloverCtx, "Rollover after config reload failed", "error", err.Error())
		}
	})
}

func (a *App) shutdown() {
	shutdownTimeout := 30 * time.Second
	if s := a.configProvider.Get().App.ShutdownTimeoutSeconds; s > 0 {
		shutdownTimeout = time.Duration(s) * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.grpcServer.SetServing(false)

	a.logger.Info(shutdownCtx, "Closing all client WebSocket connections gracefully...")
	a.registry.GracefullyCloseAll(shutdownCtx)

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error(shutdownCtx, "HTTP server graceful shutdown failed", "error", err.Error())
	}
	a.logger.Info(shutdownCtx, "HTTP server shut down.")
}
