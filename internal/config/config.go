package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/models"
	"github.com/netmap-platform/netmap/internal/telemetry"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	EventBus  EventBusConfig   `mapstructure:"eventbus"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Logging   logging.Config   `mapstructure:"logging"`
	Coverage  CoverageConfig   `mapstructure:"coverage"`
	Catalog   CatalogConfig    `mapstructure:"catalog"`
	RateLimit RateLimitConfig  `mapstructure:"ratelimit"`
}

// ServerConfig holds listener settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig selects the topology store
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig configures the coverage result cache. An empty address
// disables caching.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// EventBusConfig configures NATS. An empty URL disables change events.
type EventBusConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

// CoverageConfig tunes the coverage check
type CoverageConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Scoring  ScoringConfig `mapstructure:"scoring"`
}

// ScoringConfig holds the candidate ranking weights
type ScoringConfig struct {
	PrimaryBonus          float64 `mapstructure:"primary_bonus"`
	MaintenanceFactor     float64 `mapstructure:"maintenance_factor"`
	DegradedFactor        float64 `mapstructure:"degraded_factor"`
	DownFactor            float64 `mapstructure:"down_factor"`
	HighUtilizationPct    float64 `mapstructure:"high_utilization_pct"`
	HighUtilizationFactor float64 `mapstructure:"high_utilization_factor"`
}

// CatalogConfig lists purchasable packages and the eligibility rules
type CatalogConfig struct {
	RulesFile string           `mapstructure:"rules_file"`
	Packages  []models.Package `mapstructure:"packages"`
}

// RateLimitConfig limits requests per client address
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFromFile("")
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/netmap")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	v.SetEnvPrefix("NETMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be memory or postgres, got %q", c.Database.Driver)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Coverage.Timeout <= 0 {
		return fmt.Errorf("coverage.timeout must be positive")
	}
	s := c.Coverage.Scoring
	if s.PrimaryBonus <= 0 {
		return fmt.Errorf("coverage.scoring.primary_bonus must be positive")
	}
	for name, f := range map[string]float64{
		"maintenance_factor":      s.MaintenanceFactor,
		"degraded_factor":         s.DegradedFactor,
		"down_factor":             s.DownFactor,
		"high_utilization_factor": s.HighUtilizationFactor,
	} {
		if f <= 0 || f > 1 {
			return fmt.Errorf("coverage.scoring.%s must be within (0, 1], got %v", name, f)
		}
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("ratelimit requires positive requests_per_second and burst")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "netmap")

	v.SetDefault("eventbus.url", "")
	v.SetDefault("eventbus.name", "netmap")
	v.SetDefault("eventbus.subject_prefix", "netmap.events")
	v.SetDefault("eventbus.reconnect_wait", "2s")
	v.SetDefault("eventbus.max_reconnects", 60)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.metrics_port", 9091)
	v.SetDefault("telemetry.jaeger_endpoint", "")
	v.SetDefault("telemetry.service_name", "netmap")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.sample_rate", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")

	v.SetDefault("coverage.timeout", "2s")
	v.SetDefault("coverage.cache_ttl", "5m")
	v.SetDefault("coverage.scoring.primary_bonus", 50.0)
	v.SetDefault("coverage.scoring.maintenance_factor", 0.1)
	v.SetDefault("coverage.scoring.degraded_factor", 0.6)
	v.SetDefault("coverage.scoring.down_factor", 0.2)
	v.SetDefault("coverage.scoring.high_utilization_pct", 90.0)
	v.SetDefault("coverage.scoring.high_utilization_factor", 0.8)

	v.SetDefault("catalog.rules_file", "")
	v.SetDefault("catalog.packages", []map[string]any{
		{
			"id": "home-30", "name": "Home 30", "download_mbps": 30, "upload_mbps": 30,
			"monthly_price": 250000, "currency": "IDR", "customer_types": []string{"residential"}, "active": true,
		},
		{
			"id": "home-100", "name": "Home 100", "download_mbps": 100, "upload_mbps": 100,
			"monthly_price": 450000, "currency": "IDR", "customer_types": []string{"residential"}, "active": true,
		},
		{
			"id": "biz-300", "name": "Business 300", "download_mbps": 300, "upload_mbps": 300,
			"monthly_price": 1500000, "currency": "IDR", "customer_types": []string{"business"}, "active": true,
		},
	})

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests_per_second", 50.0)
	v.SetDefault("ratelimit.burst", 100)
}
