package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "LOANGUARD_GW"

// DefaultShellAssets is the fixed manifest of the dashboard shell.
var DefaultShellAssets = []string{
	"/",
	"/index.html",
	"/static/js/main.chunk.js",
	"/static/js/0.chunk.js",
	"/static/js/bundle.js",
	"/manifest.json",
	"/favicon.ico",
	"/logo192.png",
	"/logo512.png",
}

// ServerConfig holds server-related configurations.
// Note: Fields should be exported (start with uppercase) to be unmarshalled by Viper.
type ServerConfig struct {
	HTTPPort int    `mapstructure:"http_port"`
	GRPCPort int    `mapstructure:"grpc_port"`
	PodID    string `mapstructure:"pod_id"` // Expected from ENV (e.g., POD_NAME via Downward API)
}

// NATSConfig holds NATS-related configurations. An empty URL disables
// cross-pod generation events.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// RedisConfig holds Redis-related configurations. An empty Address selects the
// in-process cache store.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"` // Optional
	DB       int    `mapstructure:"db"`       // Optional
}

// LogConfig holds logging-related configurations.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AuthConfig holds authentication-related configurations.
type AuthConfig struct {
	AdminAPIKey string `mapstructure:"admin_api_key"` // Should primarily come from ENV
}

// AppConfig holds application-specific configurations.
type AppConfig struct {
	ServiceName            string `mapstructure:"service_name"`
	Version                string `mapstructure:"version"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	PingIntervalSeconds    int    `mapstructure:"ping_interval_seconds"`
	WriteTimeoutSeconds    int    `mapstructure:"write_timeout_seconds"`
	UpstreamTimeoutSeconds int    `mapstructure:"upstream_timeout_seconds"`
}

// ShellConfig describes the cached dashboard shell.
type ShellConfig struct {
	Origin     string   `mapstructure:"origin"`
	Generation string   `mapstructure:"generation"`
	Assets     []string `mapstructure:"assets"`
}

// APIConfig identifies requests bound for the risk API.
type APIConfig struct {
	Hosts []string `mapstructure:"hosts"`
	Ports []string `mapstructure:"ports"`
}

// Config holds all configuration for the application.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	NATS   NATSConfig   `mapstructure:"nats"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Log    LogConfig    `mapstructure:"log"`
	Auth   AuthConfig   `mapstructure:"auth"`
	App    AppConfig    `mapstructure:"app"`
	Shell  ShellConfig  `mapstructure:"shell"`
	API    APIConfig    `mapstructure:"api"`
}

// UpstreamTimeout is the per-request budget for network fetches.
func (c *Config) UpstreamTimeout() time.Duration {
	if c.App.UpstreamTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.App.UpstreamTimeoutSeconds) * time.Second
}

// ReloadFunc is called after a successful reload with the previous and the new configuration.
type ReloadFunc func(old, updated *Config)

// Provider defines an interface for accessing application configuration.
// This allows for easy mocking in tests and decouples the app from Viper.
type Provider interface {
	Get() *Config
	// OnReload registers fn to run after every successful reload.
	OnReload(fn ReloadFunc)
}

// reloadHub stores the current config and fans reloads out to subscribers.
type reloadHub struct {
	current atomic.Pointer[Config]

	mu          sync.Mutex
	subscribers []ReloadFunc
}

func (h *reloadHub) Get() *Config {
	return h.current.Load()
}

func (h *reloadHub) OnReload(fn ReloadFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, fn)
}

func (h *reloadHub) swap(updated *Config) {
	old := h.current.Swap(updated)

	h.mu.Lock()
	subs := make([]ReloadFunc, len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(old, updated)
	}
}

// StaticProvider serves a fixed configuration. Set replaces it and notifies
// subscribers the same way a file reload would.
type StaticProvider struct {
	reloadHub
}

// NewStaticProvider wraps cfg.
func NewStaticProvider(cfg *Config) *StaticProvider {
	p := &StaticProvider{}
	p.current.Store(cfg)
	return p
}

// Set replaces the configuration.
func (p *StaticProvider) Set(cfg *Config) {
	p.swap(cfg)
}

// viperProvider implements the Provider interface using Viper.
type viperProvider struct {
	reloadHub
	v      *viper.Viper
	logger *zap.Logger // Using zap.Logger directly for config internal logging, not domain.Logger to avoid circular deps
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.pod_id", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "loanguard.shell.generations")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("auth.admin_api_key", "")
	v.SetDefault("app.service_name", "loanguard-gateway")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.shutdown_timeout_seconds", 30)
	v.SetDefault("app.ping_interval_seconds", 20)
	v.SetDefault("app.write_timeout_seconds", 10)
	v.SetDefault("app.upstream_timeout_seconds", 15)
	v.SetDefault("shell.origin", "http://localhost:3000")
	v.SetDefault("shell.generation", "loanguard-cache-v1")
	v.SetDefault("shell.assets", DefaultShellAssets)
	v.SetDefault("api.hosts", []string{"127.0.0.1"})
	v.SetDefault("api.ports", []string{"5000"})
}

// NewViperProvider creates and initializes a new configuration provider using Viper.
// It loads configuration from file and environment variables, and sets up hot-reloading.
// appCtx is the application lifecycle context used for graceful shutdown of background tasks.
func NewViperProvider(appCtx context.Context, logger *zap.Logger) (Provider, error) {
	v := viper.New()
	setDefaults(v)

	// Configure Viper to read from YAML file
	v.SetConfigName(os.Getenv("VIPER_CONFIG_NAME")) // e.g., "config"
	v.SetConfigType("yaml")
	v.AddConfigPath(os.Getenv("VIPER_CONFIG_PATH")) // e.g., "/app/config" or "./config" for local dev
	v.AddConfigPath(".")

	// Configure Viper to read from environment variables
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")) // e.g., shell.generation becomes LOANGUARD_GW_SHELL_GENERATION

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, err
	}

	p := &viperProvider{v: v, logger: logger}
	p.current.Store(cfg)

	// Set up SIGHUP for hot-reloading configuration
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigChan)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in SIGHUP handler goroutine",
					zap.String("goroutine_name", "SIGHUPConfigReloader"),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		for {
			select {
			case sig := <-sigChan:
				p.logger.Info("SIGHUP received, attempting to reload configuration...", zap.String("signal", sig.String()))
				if err := v.ReadInConfig(); err != nil {
					p.logger.Error("Failed to re-read config file on SIGHUP", zap.Error(err))
					continue
				}
				p.reload("sighup")
			case <-appCtx.Done():
				p.logger.Info("SIGHUPConfigReloader goroutine shutting down due to context cancellation.")
				return
			}
		}
	}()

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Panic recovered in OnConfigChange callback",
						zap.String("event_name", e.Name),
						zap.String("event_op", e.Op.String()),
						zap.Any("panic_info", r),
						zap.String("stacktrace", string(debug.Stack())),
					)
				}
			}()
			p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
			p.reload("file_change")
		})
		v.WatchConfig()
	}

	p.logger.Info("Configuration loaded successfully", zap.String("config_file_used", v.ConfigFileUsed()))
	return p, nil
}

func (p *viperProvider) reload(trigger string) {
	newCfg, err := decode(p.v)
	if err != nil {
		p.logger.Error("Failed to unmarshal reloaded config", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	p.swap(newCfg)
	p.logger.Info("Configuration reloaded successfully", zap.String("trigger", trigger))
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Shell.Origin) == "" {
		return fmt.Errorf("shell.origin must be set")
	}
	if strings.TrimSpace(c.Shell.Generation) == "" {
		return fmt.Errorf("shell.generation must be set")
	}
	return nil
}
