// Package config provides configuration management for Shepherd.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Shepherd.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Supervisor    SupervisorConfig    `mapstructure:"supervisor"`
	Tmux          TmuxConfig          `mapstructure:"tmux"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds the SQLite task store configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// SupervisorConfig holds the supervision loop configuration.
type SupervisorConfig struct {
	// MaxIterationsDefault is the iteration budget applied to tasks
	// that don't carry their own limit.
	MaxIterationsDefault int `mapstructure:"maxIterationsDefault"`

	// ConfirmationWindowMs bounds how long a delivery waits for the
	// session to show evidence of having consumed the input.
	ConfirmationWindowMs int `mapstructure:"confirmationWindowMs"`

	// SettleIntervalMs is the pause between writing a payload and
	// sending the submit signal, so multi-line pastes land as one block.
	SettleIntervalMs int `mapstructure:"settleIntervalMs"`

	// MaxDeliveryAttempts caps submit-signal resends before a delivery
	// is declared failed.
	MaxDeliveryAttempts int `mapstructure:"maxDeliveryAttempts"`

	// BackoffBaseMs is the base for exponential backoff between
	// submit-signal resends.
	BackoffBaseMs int `mapstructure:"backoffBaseMs"`

	// OutputWindowBytes bounds the recent-output window passed to the
	// evidence extractor on each observation.
	OutputWindowBytes int `mapstructure:"outputWindowBytes"`

	// TerminalCols and TerminalRows set the virtual terminal geometry
	// used by the local PTY transport.
	TerminalCols int `mapstructure:"terminalCols"`
	TerminalRows int `mapstructure:"terminalRows"`

	// MonitorIntervalMs is the poll cadence of the session idle monitor.
	MonitorIntervalMs int `mapstructure:"monitorIntervalMs"`

	// IdleThreshold is how many consecutive unchanged polls mark a
	// session as idle.
	IdleThreshold int `mapstructure:"idleThreshold"`
}

// TmuxConfig holds the tmux session transport configuration.
type TmuxConfig struct {
	// SocketName selects a non-default tmux server socket (-L). Empty uses the default server.
	SocketName string `mapstructure:"socketName"`

	// CaptureLines is how many lines of scrollback capture-pane reads per observation.
	CaptureLines int `mapstructure:"captureLines"`
}

// NotificationsConfig holds owner notification settings.
type NotificationsConfig struct {
	// AppriseURLs are the notification targets passed to the apprise CLI.
	// Empty disables the apprise provider.
	AppriseURLs []string `mapstructure:"appriseUrls"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// ConfirmationWindow returns the delivery confirmation window as a time.Duration.
func (s *SupervisorConfig) ConfirmationWindow() time.Duration {
	return time.Duration(s.ConfirmationWindowMs) * time.Millisecond
}

// SettleInterval returns the paste settle interval as a time.Duration.
func (s *SupervisorConfig) SettleInterval() time.Duration {
	return time.Duration(s.SettleIntervalMs) * time.Millisecond
}

// BackoffBase returns the retry backoff base as a time.Duration.
func (s *SupervisorConfig) BackoffBase() time.Duration {
	return time.Duration(s.BackoffBaseMs) * time.Millisecond
}

// MonitorInterval returns the idle monitor poll cadence as a time.Duration.
func (s *SupervisorConfig) MonitorInterval() time.Duration {
	return time.Duration(s.MonitorIntervalMs) * time.Millisecond
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.path", "~/.shepherd/shepherd.db")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "shepherd")
	v.SetDefault("nats.maxReconnects", 10)

	// Supervisor defaults
	v.SetDefault("supervisor.maxIterationsDefault", 10)
	v.SetDefault("supervisor.confirmationWindowMs", 2000)
	v.SetDefault("supervisor.settleIntervalMs", 200)
	v.SetDefault("supervisor.maxDeliveryAttempts", 3)
	v.SetDefault("supervisor.backoffBaseMs", 500)
	v.SetDefault("supervisor.outputWindowBytes", 64*1024)
	v.SetDefault("supervisor.terminalCols", 80)
	v.SetDefault("supervisor.terminalRows", 24)
	v.SetDefault("supervisor.monitorIntervalMs", 1000)
	v.SetDefault("supervisor.idleThreshold", 3)

	// Tmux defaults
	v.SetDefault("tmux.socketName", "")
	v.SetDefault("tmux.captureLines", 200)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// detectDefaultLogFormat returns "json" for production environments and
// "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("SHEPHERD_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix SHEPHERD_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/shepherd/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("SHEPHERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("supervisor.maxIterationsDefault", "SHEPHERD_SUPERVISOR_MAX_ITERATIONS_DEFAULT")
	_ = v.BindEnv("supervisor.confirmationWindowMs", "SHEPHERD_SUPERVISOR_CONFIRMATION_WINDOW_MS")
	_ = v.BindEnv("supervisor.settleIntervalMs", "SHEPHERD_SUPERVISOR_SETTLE_INTERVAL_MS")
	_ = v.BindEnv("supervisor.maxDeliveryAttempts", "SHEPHERD_SUPERVISOR_MAX_DELIVERY_ATTEMPTS")
	_ = v.BindEnv("supervisor.backoffBaseMs", "SHEPHERD_SUPERVISOR_BACKOFF_BASE_MS")
	_ = v.BindEnv("database.path", "SHEPHERD_DATABASE_PATH")
	_ = v.BindEnv("tmux.socketName", "SHEPHERD_TMUX_SOCKET_NAME")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/shepherd/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Supervisor.MaxIterationsDefault <= 0 {
		errs = append(errs, "supervisor.maxIterationsDefault must be positive")
	}
	if cfg.Supervisor.MaxDeliveryAttempts <= 0 {
		errs = append(errs, "supervisor.maxDeliveryAttempts must be positive")
	}
	if cfg.Supervisor.ConfirmationWindowMs <= 0 {
		errs = append(errs, "supervisor.confirmationWindowMs must be positive")
	}
	if cfg.Supervisor.SettleIntervalMs < 0 {
		errs = append(errs, "supervisor.settleIntervalMs must not be negative")
	}
	if cfg.Supervisor.BackoffBaseMs <= 0 {
		errs = append(errs, "supervisor.backoffBaseMs must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
