// Package config provides configuration management using Viper.
// It loads configuration from environment variables, .env files, and config files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerPort                = 8080
	defaultServerHost                = "0.0.0.0"
	defaultReadTimeout               = 30 * time.Second
	defaultWriteTimeout              = 0 * time.Second // streaming responses must not be cut off
	defaultDatabasePath              = "./data/telecast.db"
	defaultDatabaseConnectionTimeout = 5 * time.Second
	defaultLogLevel                  = "info"
	defaultLogPretty                 = false
	defaultScheduleDir               = "./schedules"
	defaultFFmpegPath                = "ffmpeg"
	defaultResolveTimeout            = 10 * time.Second
	defaultResolveRetries            = 3
	defaultStartupTimeout            = 15 * time.Second
	defaultBreakerThreshold          = 3
	defaultBreakerResetTimeout       = 60 * time.Second
	defaultDriftTolerance            = 5 * time.Second
	defaultBufferChunks              = 256
	defaultDiscardSlack              = 30 * time.Second
	envPrefix                        = "TELECAST"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Schedules ScheduleConfig
	Playout   PlayoutConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Path              string
	MigrationsPath    string
	ConnectionTimeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// ScheduleConfig holds schedule document configuration
type ScheduleConfig struct {
	Dir          string        // directory containing schedule YAML documents
	DiscardSlack time.Duration // overshoot tolerance before duration directives discard an item
}

// PlayoutConfig holds playout session and transcoder configuration
type PlayoutConfig struct {
	FFmpegPath          string
	StaticSource        string // optional source streamed during hold segments
	AutoStart           bool   // start every enabled channel at boot
	ResolveTimeout      time.Duration
	ResolveRetries      int
	StartupTimeout      time.Duration
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
	DriftTolerance      time.Duration
	BufferChunks        int
}

// Load reads configuration from .env file, config files, environment variables, and defaults
func Load() (*Config, error) {
	// .env files are optional in production and CI where env vars are set directly
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/telecast")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.host", defaultServerHost)
	v.SetDefault("server.readtimeout", defaultReadTimeout)
	v.SetDefault("server.writetimeout", defaultWriteTimeout)

	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("database.migrationspath", "file://./migrations")
	v.SetDefault("database.connectiontimeout", defaultDatabaseConnectionTimeout)

	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.pretty", defaultLogPretty)

	v.SetDefault("schedules.dir", defaultScheduleDir)
	v.SetDefault("schedules.discardslack", defaultDiscardSlack)

	v.SetDefault("playout.ffmpegpath", defaultFFmpegPath)
	v.SetDefault("playout.staticsource", "")
	v.SetDefault("playout.autostart", true)
	v.SetDefault("playout.resolvetimeout", defaultResolveTimeout)
	v.SetDefault("playout.resolveretries", defaultResolveRetries)
	v.SetDefault("playout.startuptimeout", defaultStartupTimeout)
	v.SetDefault("playout.breakerthreshold", defaultBreakerThreshold)
	v.SetDefault("playout.breakerresettimeout", defaultBreakerResetTimeout)
	v.SetDefault("playout.drifttolerance", defaultDriftTolerance)
	v.SetDefault("playout.bufferchunks", defaultBufferChunks)
}

// Validate checks that configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("invalid read timeout: %v (must be > 0)", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("invalid write timeout: %v (must be >= 0)", c.Server.WriteTimeout)
	}
	if c.Database.ConnectionTimeout <= 0 {
		return fmt.Errorf("invalid database connection timeout: %v (must be > 0)", c.Database.ConnectionTimeout)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.Logging.Level, strings.Join(validLevels, ", "))
	}

	if c.Schedules.Dir == "" {
		return fmt.Errorf("schedule directory cannot be empty")
	}
	if c.Schedules.DiscardSlack < 0 {
		return fmt.Errorf("invalid discard slack: %v (must be >= 0)", c.Schedules.DiscardSlack)
	}

	if c.Playout.ResolveTimeout <= 0 {
		return fmt.Errorf("invalid resolve timeout: %v (must be > 0)", c.Playout.ResolveTimeout)
	}
	if c.Playout.ResolveRetries < 1 {
		return fmt.Errorf("invalid resolve retries: %d (must be >= 1)", c.Playout.ResolveRetries)
	}
	if c.Playout.StartupTimeout <= 0 {
		return fmt.Errorf("invalid startup timeout: %v (must be > 0)", c.Playout.StartupTimeout)
	}
	if c.Playout.BreakerThreshold < 1 {
		return fmt.Errorf("invalid breaker threshold: %d (must be >= 1)", c.Playout.BreakerThreshold)
	}
	if c.Playout.BufferChunks < 1 {
		return fmt.Errorf("invalid buffer chunks: %d (must be >= 1)", c.Playout.BufferChunks)
	}

	return nil
}

// contains checks if a string slice contains a specific value
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
