package config

import (
	"os"
	"regexp"
	"time"

	"github.com/KumarDeepankar/mcp-gateway/pkg/trace"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// GatewayConfig is the root configuration tree for the gateway process
	GatewayConfig struct {
		Port      int             `yaml:"port"`
		Logger    LoggerConfig    `yaml:"logger"`
		Session   SessionConfig   `yaml:"session"`
		Registry  RegistryConfig  `yaml:"registry"`
		Discovery DiscoveryConfig `yaml:"discovery"`
		Forward   ForwardConfig   `yaml:"forward"`
		Origin    OriginConfig    `yaml:"origin"`
		Metrics   MetricsConfig   `yaml:"metrics"`
		Tracing   trace.Config    `yaml:"tracing"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
	}

	// SessionConfig represents the session storage configuration
	SessionConfig struct {
		Type  string             `yaml:"type"`  // "memory" or "redis"
		Redis SessionRedisConfig `yaml:"redis"` // Redis configuration
	}

	// SessionRedisConfig represents the Redis configuration for session storage
	SessionRedisConfig struct {
		Addr     string        `yaml:"addr"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"` // TTL for session data in Redis
	}

	// RegistryConfig configures where the list of backend servers comes from
	RegistryConfig struct {
		Type    string         `yaml:"type"` // "memory" or "disk"
		Path    string         `yaml:"path"` // yaml file for the disk store
		Servers []ServerConfig `yaml:"servers"`
	}

	// ServerConfig is one registered backend tool server
	ServerConfig struct {
		URL       string `yaml:"url"`
		Transport string `yaml:"transport"` // "http" or "sse"
	}

	// DiscoveryConfig tunes the tool discovery and health monitoring loop
	DiscoveryConfig struct {
		RefreshInterval     time.Duration `yaml:"refresh_interval"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
		StaleThreshold      time.Duration `yaml:"stale_threshold"`
		FailureThreshold    int           `yaml:"failure_threshold"`
		FetchTimeout        time.Duration `yaml:"fetch_timeout"`
	}

	// ForwardConfig tunes outbound backend connectivity
	ForwardConfig struct {
		CallTimeout       time.Duration `yaml:"call_timeout"`
		ConnectTimeout    time.Duration `yaml:"connect_timeout"`
		SSEConnectTimeout time.Duration `yaml:"sse_connect_timeout"`
		SSECallTimeout    time.Duration `yaml:"sse_call_timeout"`
		MaxIdleConns      int           `yaml:"max_idle_conns"`
		MaxConnsPerHost   int           `yaml:"max_conns_per_host"`
	}

	// OriginConfig controls Origin header validation (DNS-rebinding defense)
	OriginConfig struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		AllowNgrok     bool     `yaml:"allow_ngrok"`
		AllowHTTPS     bool     `yaml:"allow_https"`
	}

	// MetricsConfig configures the prometheus registry
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}
)

// LoadConfig loads configuration from a YAML file with environment variable
// support: ${VAR} and ${VAR:default} placeholders are resolved before
// unmarshalling, and a .env file is loaded when present.
func LoadConfig(path string) (*GatewayConfig, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = resolveEnv(data)
	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults fills zero values with operational defaults.
func (c *GatewayConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Session.Type == "" {
		c.Session.Type = "memory"
	}
	if c.Registry.Type == "" {
		c.Registry.Type = "memory"
	}
	d := &c.Discovery
	if d.RefreshInterval <= 0 {
		d.RefreshInterval = 5 * time.Minute
	}
	if d.HealthCheckInterval <= 0 {
		d.HealthCheckInterval = 30 * time.Second
	}
	if d.StaleThreshold <= 0 {
		d.StaleThreshold = 2 * time.Minute
	}
	if d.FailureThreshold <= 0 {
		d.FailureThreshold = 3
	}
	if d.FetchTimeout <= 0 {
		d.FetchTimeout = 15 * time.Second
	}
	f := &c.Forward
	if f.CallTimeout <= 0 {
		f.CallTimeout = 30 * time.Second
	}
	if f.ConnectTimeout <= 0 {
		f.ConnectTimeout = 10 * time.Second
	}
	if f.SSEConnectTimeout <= 0 {
		f.SSEConnectTimeout = 10 * time.Second
	}
	if f.SSECallTimeout <= 0 {
		f.SSECallTimeout = 30 * time.Second
	}
	if f.MaxIdleConns <= 0 {
		f.MaxIdleConns = 100
	}
	if f.MaxConnsPerHost <= 0 {
		f.MaxConnsPerHost = 10
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
