package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/config"
	appgrpc "gitlab.com/timkado/api/loanguard-gateway/internal/adapters/grpc"
	apphttp "gitlab.com/timkado/api/loanguard-gateway/internal/adapters/http"
	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/logger"
	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/memory"
	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/middleware"
	appnats "gitlab.com/timkado/api/loanguard-gateway/internal/adapters/nats"
	appredis "gitlab.com/timkado/api/loanguard-gateway/internal/adapters/redis"
	wsadapter "gitlab.com/timkado/api/loanguard-gateway/internal/adapters/websocket"
	"gitlab.com/timkado/api/loanguard-gateway/internal/application"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

// AdminAuthMiddleware guards the /_gateway/cache endpoints.
type AdminAuthMiddleware func(http.Handler) http.Handler

// InitialZapLoggerProvider provides a basic *zap.Logger instance, primarily for config initialization.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger, err = zap.NewDevelopment()
		if err != nil {
			logger = zap.NewExample()
			fmt.Fprintf(os.Stderr, "Failed to create initial zap logger, falling back to example: %v\n", err)
		}
	}

	cleanup := func() {
		// Sync on stderr returns EINVAL on some platforms; nothing to do about it.
		_ = logger.Sync()
	}
	return logger, cleanup, nil
}

// App holds everything Run needs. Built by Wire.
type App struct {
	configProvider config.Provider
	logger         domain.Logger
	httpServeMux   *http.ServeMux
	httpServer     *http.Server
	grpcServer     *appgrpc.Server
	wsRouter       *wsadapter.Router
	registry       *application.ClientRegistry
	controller     *application.Controller
	store          domain.CacheStore
	redisClient    *redis.Client                     // nil when the in-process store is used
	events         *appnats.GenerationEventsAdapter // nil when NATS is not configured
	gateway        *apphttp.GatewayHandler
	adminAuth      AdminAuthMiddleware
}

// NewApp is the constructor for App, also for Wire.
func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	grpcSrv *appgrpc.Server,
	wsRouter *wsadapter.Router,
	registry *application.ClientRegistry,
	controller *application.Controller,
	store domain.CacheStore,
	redisClient *redis.Client,
	events *appnats.GenerationEventsAdapter,
	gateway *apphttp.GatewayHandler,
	adminAuth AdminAuthMiddleware,
) (*App, func(), error) {
	app := &App{
		configProvider: cfgProvider,
		logger:         appLogger,
		httpServeMux:   mux,
		httpServer:     server,
		grpcServer:     grpcSrv,
		wsRouter:       wsRouter,
		registry:       registry,
		controller:     controller,
		store:          store,
		redisClient:    redisClient,
		events:         events,
		gateway:        gateway,
		adminAuth:      adminAuth,
	}

	cleanup := func() {
		app.logger.Info(context.Background(), "Running app cleanup...")
		if app.grpcServer != nil {
			app.grpcServer.GracefulStop()
		}
	}
	return app, cleanup, nil
}

// ConfigProvider provides the application configuration.
// appCtx bounds the SIGHUP reload goroutine.
func ConfigProvider(appCtx context.Context, logger *zap.Logger) (config.Provider, error) {
	return config.NewViperProvider(appCtx, logger)
}

// LoggerProvider provides the application logger.
func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	return logger.NewZapAdapter(cfgProvider, cfgProvider.Get().App.ServiceName)
}

// HTTPServeMuxProvider provides the main HTTP multiplexer.
func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

// HTTPGracefulServerProvider provides a new HTTP server configured for graceful shutdown.
// The write timeout covers the upstream budget so proxied responses are not cut short.
func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	appCfg := cfgProvider.Get()

	writeTimeout := appCfg.UpstreamTimeout() + 5*time.Second
	if w := time.Duration(appCfg.App.WriteTimeoutSeconds) * time.Second; w > writeTimeout {
		writeTimeout = w
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", appCfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

// RedisClientProvider connects to Redis when redis.address is set. Without an
// address it returns a nil client and the in-process store is used.
func RedisClientProvider(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*redis.Client, func(), error) {
	redisCfg := cfgProvider.Get().Redis
	if redisCfg.Address == "" {
		appLogger.Warn(ctx, "Redis address not configured, cache generations are kept in process memory")
		return nil, func() {}, nil
	}

	client, err := appredis.NewClient(ctx, redisCfg)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to Redis", "error", err.Error(), "address", redisCfg.Address)
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
		appLogger.Info(context.Background(), "Redis connection closed")
	}
	appLogger.Info(ctx, "Successfully connected to Redis", "address", redisCfg.Address)
	return client, cleanup, nil
}

// CacheStoreProvider picks the Redis store when a client exists, the in-process one otherwise.
func CacheStoreProvider(redisClient *redis.Client, logger domain.Logger) domain.CacheStore {
	if redisClient == nil {
		return memory.NewCacheStore()
	}
	return appredis.NewCacheStoreAdapter(redisClient, logger)
}

// GenerationEventsProvider connects to NATS when nats.url is set. Without a URL
// activations stay local to this pod.
func GenerationEventsProvider(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*appnats.GenerationEventsAdapter, func(), error) {
	if cfgProvider.Get().NATS.URL == "" {
		appLogger.Warn(ctx, "NATS URL not configured, generation activations are not shared between pods")
		return nil, func() {}, nil
	}
	return appnats.NewGenerationEventsAdapter(ctx, cfgProvider, appLogger)
}

// ShellOriginProvider parses shell.origin.
func ShellOriginProvider(cfgProvider config.Provider) (*url.URL, error) {
	origin, err := url.Parse(cfgProvider.Get().Shell.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("shell.origin %q must be an absolute URL", cfgProvider.Get().Shell.Origin)
	}
	return origin, nil
}

// UpstreamClientProvider provides the client every network fetch goes through.
func UpstreamClientProvider(cfgProvider config.Provider) *http.Client {
	return &http.Client{Timeout: cfgProvider.Get().UpstreamTimeout()}
}

// ClientRegistryProvider provides the registry of connected shell pages.
func ClientRegistryProvider(logger domain.Logger) *application.ClientRegistry {
	return application.NewClientRegistry(logger)
}

// WorkerFactoryProvider builds cache workers from the configuration current at
// the time of each rollover, so reloaded assets and API hosts take effect.
func WorkerFactoryProvider(
	cfgProvider config.Provider,
	store domain.CacheStore,
	client *http.Client,
	shellOrigin *url.URL,
	registry *application.ClientRegistry,
	events *appnats.GenerationEventsAdapter,
	logger domain.Logger,
) application.WorkerFactory {
	// A nil *GenerationEventsAdapter must not become a non-nil interface.
	var publisher domain.GenerationPublisher
	if events != nil {
		publisher = events
	}
	clock := clockwork.NewRealClock()

	return func(generation string) *application.CacheWorker {
		cfg := cfgProvider.Get()
		return application.NewCacheWorker(generation, application.WorkerOptions{
			Store:       store,
			Network:     client,
			API:         application.APIMatcher{Hosts: cfg.API.Hosts, Ports: cfg.API.Ports},
			ShellOrigin: shellOrigin,
			Assets:      cfg.Shell.Assets,
			Clients:     registry,
			Publisher:   publisher,
			PodID:       cfg.Server.PodID,
			Clock:       clock,
			Logger:      logger,
		})
	}
}

// ControllerProvider provides the controller with no active generation yet.
func ControllerProvider(logger domain.Logger, newWorker application.WorkerFactory) *application.Controller {
	return application.NewController(logger, newWorker)
}

// GatewayHandlerProvider provides the catch-all interception handler.
func GatewayHandlerProvider(controller *application.Controller, shellOrigin *url.URL, logger domain.Logger) *apphttp.GatewayHandler {
	return apphttp.NewGatewayHandler(controller, shellOrigin, logger)
}

// AdminAuthMiddlewareProvider provides the X-API-Key middleware.
func AdminAuthMiddlewareProvider(cfgProvider config.Provider, logger domain.Logger) AdminAuthMiddleware {
	return middleware.APIKeyAuthMiddleware(cfgProvider, logger)
}

// WebsocketHandlerProvider provides the clients websocket handler.
func WebsocketHandlerProvider(logger domain.Logger, cfgProvider config.Provider, registry *application.ClientRegistry, controller *application.Controller) *wsadapter.Handler {
	return wsadapter.NewHandler(logger, cfgProvider, registry, controller)
}

// WebsocketRouterProvider provides the websocket router.
func WebsocketRouterProvider(logger domain.Logger, wsHandler *wsadapter.Handler) *wsadapter.Router {
	return wsadapter.NewRouter(logger, wsHandler)
}

// GRPCServerProvider provides the gRPC health server.
func GRPCServerProvider(appCtx context.Context, logger domain.Logger, cfgProvider config.Provider) (*appgrpc.Server, error) {
	return appgrpc.NewServer(appCtx, logger, cfgProvider)
}

// ProviderSet is the Wire provider set for the entire application.
var ProviderSet = wire.NewSet(
	InitialZapLoggerProvider,
	ConfigProvider,
	LoggerProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,

	// Infrastructure Adapters
	RedisClientProvider,
	CacheStoreProvider,
	GenerationEventsProvider,
	UpstreamClientProvider,
	ShellOriginProvider,

	// Application Services
	ClientRegistryProvider,
	WorkerFactoryProvider,
	ControllerProvider,

	// Transport
	GatewayHandlerProvider,
	AdminAuthMiddlewareProvider,
	WebsocketHandlerProvider,
	WebsocketRouterProvider,
	GRPCServerProvider,

	NewApp,
)
