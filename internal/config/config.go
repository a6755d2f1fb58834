package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	GRPC       GRPCConfig
	DB         DatabaseConfig
	Logging    LoggingConfig
	Alerts     AlertsConfig
	Enrichment EnrichmentConfig
	Auth       AuthConfig
	WebSocket  WebSocketConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	RateLimitRPS float64
	DashboardDir string
}

type GRPCConfig struct {
	Enabled bool
	Port    int
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

type AlertsConfig struct {
	BacklogSize      int
	DefaultListLimit int
	MaxListLimit     int
	SubscriberBuffer int
}

type EnrichmentConfig struct {
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

type AuthConfig struct {
	AdminUsername string
	AdminPassword string
	AdminName     string
	AdminAPIKey   string
	JWTSecret     string
	TokenTTL      time.Duration
}

type WebSocketConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 3001),
			RateLimitRPS: getEnvFloat("RATE_LIMIT_RPS", 20),
			DashboardDir: getEnv("DASHBOARD_DIR", "./web/admin"),
		},
		GRPC: GRPCConfig{
			Enabled: getEnvBool("GRPC_ENABLED", true),
			Port:    getEnvInt("GRPC_PORT", 50051),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/campus-alerts.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Alerts: AlertsConfig{
			BacklogSize:      getEnvInt("BACKLOG_SIZE", 10),
			DefaultListLimit: getEnvInt("DEFAULT_LIST_LIMIT", 50),
			MaxListLimit:     getEnvInt("MAX_LIST_LIMIT", 500),
			SubscriberBuffer: getEnvInt("SUBSCRIBER_BUFFER", 100),
		},
		Enrichment: EnrichmentConfig{
			Timeout:   getEnvDuration("ENRICHMENT_TIMEOUT", 2*time.Second),
			CacheSize: getEnvInt("PROFILE_CACHE_SIZE", 512),
			CacheTTL:  getEnvDuration("PROFILE_CACHE_TTL", 5*time.Minute),
		},
		Auth: AuthConfig{
			AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
			AdminPassword: os.Getenv("ADMIN_PASSWORD"),
			AdminName:     getEnv("ADMIN_NAME", "Campus Security"),
			AdminAPIKey:   os.Getenv("ADMIN_API_KEY"),
			JWTSecret:     getEnv("JWT_SECRET", "change-me-in-production"),
			TokenTTL:      getEnvDuration("TOKEN_TTL", 12*time.Hour),
		},
		WebSocket: WebSocketConfig{
			WriteTimeout: getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			PingInterval: getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Enabled && (c.GRPC.Port < 1 || c.GRPC.Port > 65535) {
		return fmt.Errorf("invalid grpc port: %d", c.GRPC.Port)
	}
	if c.GRPC.Enabled && c.GRPC.Port == c.Server.Port {
		return fmt.Errorf("grpc port must differ from server port")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Alerts.BacklogSize < 1 {
		return fmt.Errorf("backlog size must be positive")
	}
	if c.Alerts.DefaultListLimit < 1 || c.Alerts.DefaultListLimit > c.Alerts.MaxListLimit {
		return fmt.Errorf("default list limit must be between 1 and %d", c.Alerts.MaxListLimit)
	}
	if c.Alerts.SubscriberBuffer < 1 {
		return fmt.Errorf("subscriber buffer must be positive")
	}
	if c.Enrichment.Timeout <= 0 {
		return fmt.Errorf("enrichment timeout must be positive")
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret must not be empty")
	}
	if c.WebSocket.PingInterval < time.Second {
		return fmt.Errorf("websocket ping interval must be at least 1 second")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
