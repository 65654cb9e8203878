// Package config provides unified configuration loading: defaults, then
// a YAML file, then environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("INTERFLOW").
//	    Load()
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Store      StoreConfig      `yaml:"store" env:"STORE"`
	Redis      RedisConfig      `yaml:"redis" env:"REDIS"`
	Database   DatabaseConfig   `yaml:"database" env:"DATABASE"`
	Completion CompletionConfig `yaml:"completion" env:"COMPLETION"`
	Executor   ExecutorConfig   `yaml:"executor" env:"EXECUTOR"`
	Uploads    UploadsConfig    `yaml:"uploads" env:"UPLOADS"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// StoreConfig selects the run store backend.
type StoreConfig struct {
	// Backend is one of memory, redis, database.
	Backend string `yaml:"backend" env:"BACKEND"`
}

// RedisConfig configures the Redis run store.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	PoolSize int           `yaml:"pool_size" env:"POOL_SIZE"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// DatabaseConfig configures the SQL run store.
type DatabaseConfig struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver          string        `yaml:"driver" env:"DRIVER"`
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// CompletionConfig configures the model provider.
type CompletionConfig struct {
	// Provider is scripted or an OpenAI-compatible provider name.
	Provider      string        `yaml:"provider" env:"PROVIDER"`
	APIKey        string        `yaml:"api_key" env:"API_KEY"`
	BaseURL       string        `yaml:"base_url" env:"BASE_URL"`
	Model         string        `yaml:"model" env:"MODEL"`
	Temperature   float64       `yaml:"temperature" env:"TEMPERATURE"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ContextTokens int           `yaml:"context_tokens" env:"CONTEXT_TOKENS"`
}

// ExecutorConfig configures the analysis code executor.
type ExecutorConfig struct {
	// Mode is scripted or remote.
	Mode     string        `yaml:"mode" env:"MODE"`
	Endpoint string        `yaml:"endpoint" env:"ENDPOINT"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// UploadsConfig configures attachment storage.
type UploadsConfig struct {
	Dir      string `yaml:"dir" env:"DIR"`
	MaxBytes int64  `yaml:"max_bytes" env:"MAX_BYTES"`
}

// TelemetryConfig configures the OpenTelemetry SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			HTTPPort:        8000,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			TTL:      24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "interflow.db",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		Completion: CompletionConfig{
			Provider:      "scripted",
			Model:         "gpt-4o-mini",
			Temperature:   0.7,
			Timeout:       2 * time.Minute,
			ContextTokens: 3000,
		},
		Executor: ExecutorConfig{
			Mode:    "scripted",
			Timeout: 2 * time.Minute,
		},
		Uploads: UploadsConfig{
			Dir:      "uploads",
			MaxBytes: 50 << 20,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "interflow",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// Validate checks cross-field coherence.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}
	switch c.Store.Backend {
	case "memory", "redis", "database":
	default:
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	switch c.Executor.Mode {
	case "scripted":
	case "remote":
		if c.Executor.Endpoint == "" {
			return fmt.Errorf("executor endpoint required in remote mode")
		}
	default:
		return fmt.Errorf("invalid executor mode: %s", c.Executor.Mode)
	}
	if c.Completion.Provider != "scripted" && c.Completion.APIKey == "" {
		return fmt.Errorf("completion api key required for provider %s", c.Completion.Provider)
	}
	return nil
}
