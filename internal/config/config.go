package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/raaihank/bolahunter/internal/settings"
)

var (
	mu     sync.Mutex
	active *viper.Viper
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/bolahunter/")
	v.AddConfigPath("$HOME/.bolahunter/")

	// Environment variable overrides, e.g. BOLA_ATTACK_ARMED=true
	v.SetEnvPrefix("BOLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v, "", reflect.ValueOf(config).Elem())

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.Lock()
	active = v
	mu.Unlock()

	return config, nil
}

// registerDefaults makes every leaf key known to viper so that environment
// overrides apply even when the config file omits the key.
func registerDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Time{}) {
			registerDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Proxy.Port <= 0 || config.Proxy.Port > 65535 {
		return fmt.Errorf("invalid proxy port: %d", config.Proxy.Port)
	}

	if config.API.Port <= 0 || config.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", config.API.Port)
	}

	if config.Proxy.Port == config.API.Port {
		return fmt.Errorf("proxy and api cannot share port %d", config.Proxy.Port)
	}

	if (config.Proxy.CACert == "") != (config.Proxy.CAKey == "") {
		return fmt.Errorf("proxy ca_cert and ca_key must be set together")
	}

	if strings.TrimSpace(config.Proxy.ReplayHeader) == "" {
		return fmt.Errorf("proxy replay_header cannot be empty")
	}

	if config.API.RateLimit.Enabled && (config.API.RateLimit.RequestsPerSecond <= 0 || config.API.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid api rate limit: %v rps, burst %d", config.API.RateLimit.RequestsPerSecond, config.API.RateLimit.Burst)
	}

	switch config.Settings.Backend {
	case settings.BackendMemory, settings.BackendRedis, settings.BackendPostgres:
	default:
		return fmt.Errorf("invalid settings backend: %s (must be memory, redis, or postgres)", config.Settings.Backend)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.WebSocket.Auth.Enabled && config.WebSocket.Auth.Username == "" {
		return fmt.Errorf("websocket auth enabled without a username")
	}

	return nil
}

// Watch starts watching the configuration file loaded by the last Load call
// and hands every valid revision to callback.
func Watch(callback func(*Config), logger *zap.Logger) error {
	mu.Lock()
	v := active
	mu.Unlock()

	if v == nil {
		return fmt.Errorf("no configuration loaded")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			logger.Error("Failed to reload configuration", zap.String("file", e.Name), zap.Error(err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			logger.Error("Ignoring invalid configuration", zap.String("file", e.Name), zap.Error(err))
			return
		}

		logger.Info("Configuration reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
