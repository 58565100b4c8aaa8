package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when no config file is given and it exists.
const DefaultConfigPath = "configs/relay.yaml"

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Relay listener
	Host string `env:"RELAY_HOST" default:"0.0.0.0"`
	Port int    `env:"RELAY_PORT" default:"10000"`

	// Per-connection behaviour
	Framing        string        `env:"RELAY_FRAMING" default:"single-read"`
	ReadBufferSize int           `env:"RELAY_READ_BUFFER" default:"1024"`
	IdleTimeout    time.Duration `env:"RELAY_IDLE_TIMEOUT" default:"0"`
	RateLimit      float64       `env:"RELAY_RATE_LIMIT" default:"0"`
	RateBurst      int           `env:"RELAY_RATE_BURST" default:"20"`

	// Admin HTTP (health, roles, metrics), disabled when empty
	AdminAddr string `env:"ADMIN_ADDR"`

	// Redis telemetry, disabled when empty
	RedisURL       string        `env:"REDIS_URL"`
	RedisChannel   string        `env:"REDIS_CHANNEL" default:"stayalert:readings"`
	RedisLatestTTL time.Duration `env:"REDIS_LATEST_TTL" default:"1h"`

	// PostgreSQL telemetry, disabled when empty
	DatabaseURL     string        `env:"DATABASE_URL"`
	DBFlushInterval time.Duration `env:"DB_FLUSH_INTERVAL" default:"5s"`

	// Development
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`
}

// fileConfig mirrors Config in the YAML file; zero values mean "not set".
type fileConfig struct {
	Relay struct {
		Host           string        `yaml:"host"`
		Port           int           `yaml:"port"`
		Framing        string        `yaml:"framing"`
		ReadBufferSize int           `yaml:"readBufferSize"`
		IdleTimeout    time.Duration `yaml:"idleTimeout"`
		RateLimit      float64       `yaml:"rateLimit"`
		RateBurst      int           `yaml:"rateBurst"`
	} `yaml:"relay"`
	Admin struct {
		Addr string `yaml:"addr"`
	} `yaml:"admin"`
	Redis struct {
		URL       string        `yaml:"url"`
		Channel   string        `yaml:"channel"`
		LatestTTL time.Duration `yaml:"latestTTL"`
	} `yaml:"redis"`
	Database struct {
		URL           string        `yaml:"url"`
		FlushInterval time.Duration `yaml:"flushInterval"`
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		GoEnv:           "development",
		Host:            "0.0.0.0",
		Port:            10000,
		Framing:         "single-read",
		ReadBufferSize:  1024,
		RateBurst:       20,
		RedisChannel:    "stayalert:readings",
		RedisLatestTTL:  time.Hour,
		DBFlushInterval: 5 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// (or DefaultConfigPath when path is empty and the file exists), a .env file
// and the process environment, each layer overriding the previous one.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if err := loadFile(config, path); err != nil {
		return nil, err
	}

	// Try to load .env file from the working directory
	// If .env file doesn't exist, that's OK - we can still use system env vars
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func loadFile(config *Config, path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	merge(config, parsed)
	return nil
}

// merge copies every field set in the file over config.
func merge(dst *Config, src fileConfig) {
	if src.Relay.Host != "" {
		dst.Host = src.Relay.Host
	}
	if src.Relay.Port != 0 {
		dst.Port = src.Relay.Port
	}
	if src.Relay.Framing != "" {
		dst.Framing = src.Relay.Framing
	}
	if src.Relay.ReadBufferSize != 0 {
		dst.ReadBufferSize = src.Relay.ReadBufferSize
	}
	if src.Relay.IdleTimeout != 0 {
		dst.IdleTimeout = src.Relay.IdleTimeout
	}
	if src.Relay.RateLimit != 0 {
		dst.RateLimit = src.Relay.RateLimit
	}
	if src.Relay.RateBurst != 0 {
		dst.RateBurst = src.Relay.RateBurst
	}
	if src.Admin.Addr != "" {
		dst.AdminAddr = src.Admin.Addr
	}
	if src.Redis.URL != "" {
		dst.RedisURL = src.Redis.URL
	}
	if src.Redis.Channel != "" {
		dst.RedisChannel = src.Redis.Channel
	}
	if src.Redis.LatestTTL != 0 {
		dst.RedisLatestTTL = src.Redis.LatestTTL
	}
	if src.Database.URL != "" {
		dst.DatabaseURL = src.Database.URL
	}
	if src.Database.FlushInterval != 0 {
		dst.DBFlushInterval = src.Database.FlushInterval
	}
	if src.Log.Level != "" {
		dst.LogLevel = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.LogFormat = src.Log.Format
	}
}

func applyEnv(config *Config) error {
	loadEnvString(&config.GoEnv, "GO_ENV")
	loadEnvString(&config.Host, "RELAY_HOST")
	if err := loadEnvInt(&config.Port, "RELAY_PORT"); err != nil {
		return err
	}

	loadEnvString(&config.Framing, "RELAY_FRAMING")
	if err := loadEnvInt(&config.ReadBufferSize, "RELAY_READ_BUFFER"); err != nil {
		return err
	}
	if err := loadEnvDuration(&config.IdleTimeout, "RELAY_IDLE_TIMEOUT"); err != nil {
		return err
	}
	if err := loadEnvFloat(&config.RateLimit, "RELAY_RATE_LIMIT"); err != nil {
		return err
	}
	if err := loadEnvInt(&config.RateBurst, "RELAY_RATE_BURST"); err != nil {
		return err
	}

	loadEnvString(&config.AdminAddr, "ADMIN_ADDR")

	// Redis
	loadEnvString(&config.RedisURL, "REDIS_URL")
	loadEnvString(&config.RedisChannel, "REDIS_CHANNEL")
	if err := loadEnvDuration(&config.RedisLatestTTL, "REDIS_LATEST_TTL"); err != nil {
		return err
	}

	// Database
	loadEnvString(&config.DatabaseURL, "DATABASE_URL")
	if err := loadEnvDuration(&config.DBFlushInterval, "DB_FLUSH_INTERVAL"); err != nil {
		return err
	}

	// Development
	loadEnvString(&config.LogLevel, "LOG_LEVEL")
	loadEnvString(&config.LogFormat, "LOG_FORMAT")
	return nil
}

// Helper functions for type conversion; a missing variable leaves target as is
func loadEnvString(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func loadEnvInt(target *int, key string) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	}
	return nil
}

func loadEnvFloat(target *float64, key string) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	}
	return nil
}

// RegisterFlags defines the command-line flags that can override the config.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to a YAML config file")
	fs.String("host", "0.0.0.0", "address to bind the relay to")
	fs.IntP("port", "p", 10000, "TCP port to listen on")
	fs.String("admin-addr", "", "address for the admin HTTP server (disabled when empty)")
}

// ApplyFlags copies the flags that were set explicitly over the config.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	if fs.Changed("host") {
		host, err := fs.GetString("host")
		if err != nil {
			return err
		}
		c.Host = host
	}
	if fs.Changed("port") {
		port, err := fs.GetInt("port")
		if err != nil {
			return err
		}
		c.Port = port
	}
	if fs.Changed("admin-addr") {
		addr, err := fs.GetString("admin-addr")
		if err != nil {
			return err
		}
		c.AdminAddr = addr
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.Port < 0 || c.Port > 65535 {
		errors = append(errors, "RELAY_PORT must be between 0 and 65535")
	}
	if !contains([]string{"single-read", "line"}, c.Framing) {
		errors = append(errors, "RELAY_FRAMING must be one of: single-read, line")
	}
	if c.ReadBufferSize <= 0 {
		errors = append(errors, "RELAY_READ_BUFFER must be positive")
	}
	if c.IdleTimeout < 0 {
		errors = append(errors, "RELAY_IDLE_TIMEOUT must not be negative")
	}
	if c.RateLimit < 0 {
		errors = append(errors, "RELAY_RATE_LIMIT must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		errors = append(errors, "RELAY_RATE_BURST must be positive when RELAY_RATE_LIMIT is set")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
