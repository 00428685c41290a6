package config

import (
	"errors"
	"time"
)

// Config represents the gateway service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Transport TransportConfig `mapstructure:"transport"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents the HTTP/websocket listener configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents the PostgreSQL tenant store configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// RedisConfig represents the counter/session store configuration
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// CacheConfig represents the tenant-settings cache configuration
type CacheConfig struct {
	TenantSettingsTTL time.Duration `mapstructure:"tenant_settings_ttl"`
	MaxSize           int           `mapstructure:"max_size"`
}

// TransportConfig represents per-connection websocket tuning
type TransportConfig struct {
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	SendBufferSize    int           `mapstructure:"send_buffer_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MessagesPerSecond float64       `mapstructure:"messages_per_second"`
	MessageBurst      int           `mapstructure:"message_burst"`
}

// SweeperConfig represents the session expiry sweep configuration
type SweeperConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int64         `mapstructure:"batch_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Database == "" {
		return errors.New("database.database is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Cache.TenantSettingsTTL <= 0 {
		return errors.New("cache.tenant_settings_ttl must be positive")
	}
	if c.Transport.MaxMessageSize <= 0 {
		return errors.New("transport.max_message_size must be positive")
	}
	if c.Transport.PongTimeout <= c.Transport.PingInterval {
		return errors.New("transport.pong_timeout must exceed transport.ping_interval")
	}
	if c.Sweeper.Interval <= 0 {
		return errors.New("sweeper.interval must be positive")
	}
	if c.Sweeper.BatchSize <= 0 {
		return errors.New("sweeper.batch_size must be positive")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "gateway_tenants",
			User:           "gateway",
			Password:       "",
			MaxConnections: 20,
			MinConnections: 5,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			Password:     "",
			DB:           0,
			PoolSize:     100,
			MinIdleConns: 10,
		},
		Cache: CacheConfig{
			TenantSettingsTTL: 5 * time.Minute,
			MaxSize:           10000,
		},
		Transport: TransportConfig{
			MaxMessageSize:    64 * 1024,
			SendBufferSize:    256,
			PingInterval:      54 * time.Second,
			PongTimeout:       60 * time.Second,
			WriteTimeout:      10 * time.Second,
			MessagesPerSecond: 50,
			MessageBurst:      100,
		},
		Sweeper: SweeperConfig{
			Interval:  10 * time.Second,
			BatchSize: 100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
