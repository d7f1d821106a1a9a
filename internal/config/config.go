package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tdurouchoux/home-monitoring-display/pkg/influx"
	"github.com/tdurouchoux/home-monitoring-display/pkg/storage"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Timezone  string          `yaml:"timezone"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
	// Connectors declares the InfluxDB databases by source name
	Connectors map[string]ConnectorConfig `yaml:"connectors"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StorageConfig holds the local store configuration
type StorageConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Name             string `yaml:"name"`
	Path             string `yaml:"path"`
	CompressionLevel int    `yaml:"compression_level"`
	EnableWAL        bool   `yaml:"enable_wal"`
}

// SessionConfig bounds the dashboard sessions
type SessionConfig struct {
	Capacity int           `yaml:"capacity"`
	IdleTTL  time.Duration `yaml:"idle_ttl"`
}

// SchedulerConfig holds the intervals of background jobs
type SchedulerConfig struct {
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	WALFlushInterval time.Duration `yaml:"wal_flush_interval"`
}

// ConnectorConfig describes one InfluxDB 1.x database
type ConnectorConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Database string        `yaml:"database"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
	// Timezone defaults to the application timezone
	Timezone       string            `yaml:"timezone"`
	DefaultGroupBy map[string]string `yaml:"default_group_measurement"`
	Aggregation    string            `yaml:"aggregation"`
}

const defaultInfluxTimeout = 20 * time.Second

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
			Timeout:    getEnvDuration("SERVER_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Enabled:          getEnvBool("STORAGE_ENABLED", true),
			Name:             getEnv("LOCAL_SOURCE_NAME", "local"),
			Path:             getEnv("STORAGE_PATH", "./data"),
			CompressionLevel: getEnvInt("COMPRESSION_LEVEL", 3),
			EnableWAL:        getEnvBool("ENABLE_WAL", true),
		},
		Sessions: SessionConfig{
			Capacity: getEnvInt("SESSION_CAPACITY", 64),
			IdleTTL:  getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		},
		Scheduler: SchedulerConfig{
			SweepInterval:    getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
			WALFlushInterval: getEnvDuration("WAL_FLUSH_INTERVAL", time.Second),
		},
		Timezone:   getEnv("TIMEZONE", "Europe/Paris"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "json"),
		Connectors: make(map[string]ConnectorConfig),
	}

	// A single connector can be declared through the environment
	if db := os.Getenv("INFLUX_DATABASE"); db != "" {
		cfg.Connectors[getEnv("INFLUX_NAME", "influx")] = ConnectorConfig{
			Host:     getEnv("INFLUX_HOST", "localhost"),
			Port:     getEnvInt("INFLUX_PORT", 8086),
			Database: db,
			Username: os.Getenv("INFLUX_USERNAME"),
			Password: os.Getenv("INFLUX_PASSWORD"),
			Timeout:  getEnvDuration("INFLUX_TIMEOUT", defaultInfluxTimeout),
		}
	}

	return cfg
}

// LoadFile overlays the YAML file at path on the defaults
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Location returns the application timezone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		CompressionLevel: c.Storage.CompressionLevel,
		EnableWAL:        c.Storage.EnableWAL,
	}
}

// ToInfluxConfig converts the named connector to influx.Config
func (c *Config) ToInfluxConfig(name string) (influx.Config, error) {
	conn, ok := c.Connectors[name]
	if !ok {
		return influx.Config{}, fmt.Errorf("unknown connector %q", name)
	}

	host := conn.Host
	if host == "" {
		host = "localhost"
	}
	port := conn.Port
	if port == 0 {
		port = 8086
	}
	tz := conn.Timezone
	if tz == "" {
		tz = c.Timezone
	}
	timeout := conn.Timeout
	if timeout == 0 {
		timeout = defaultInfluxTimeout
	}

	return influx.Config{
		Addr:           fmt.Sprintf("http://%s:%d", host, port),
		Database:       conn.Database,
		Username:       conn.Username,
		Password:       conn.Password,
		Timeout:        timeout,
		Timezone:       tz,
		DefaultGroupBy: conn.DefaultGroupBy,
		Aggregation:    conn.Aggregation,
	}, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}

	if c.Storage.Enabled {
		if c.Storage.Name == "" {
			return fmt.Errorf("local source name is required")
		}
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
			return fmt.Errorf("compression level must be between 1 and 4")
		}
		if _, ok := c.Connectors[c.Storage.Name]; ok {
			return fmt.Errorf("connector %q clashes with the local source name", c.Storage.Name)
		}
	}

	if !c.Storage.Enabled && len(c.Connectors) == 0 {
		return fmt.Errorf("at least one connector or the local store must be configured")
	}

	for name := range c.Connectors {
		ic, err := c.ToInfluxConfig(name)
		if err != nil {
			return err
		}
		if err := ic.Validate(); err != nil {
			return fmt.Errorf("connector %s: %w", name, err)
		}
	}

	if c.Sessions.Capacity < 0 {
		return fmt.Errorf("session capacity must not be negative")
	}

	if c.Scheduler.SweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive")
	}
	if c.Storage.Enabled && c.Storage.EnableWAL && c.Scheduler.WALFlushInterval <= 0 {
		return fmt.Errorf("WAL flush interval must be positive")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
