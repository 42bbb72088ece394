package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the venture daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Decision  DecisionConfig  `yaml:"decision"`
	Reinvest  ReinvestConfig  `yaml:"reinvest"`
	Channels  ChannelsConfig  `yaml:"channels"`
	NATS      NATSConfig      `yaml:"nats"`
	Security  SecurityConfig  `yaml:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures persistence
type DatabaseConfig struct {
	Type string `yaml:"type"` // "sqlite", "postgres"
	Path string `yaml:"path"` // For SQLite
	DSN  string `yaml:"dsn"`  // For Postgres
}

// CacheConfig configures the strategy cache fast-path index
type CacheConfig struct {
	Backend          string        `yaml:"backend"` // "memory" or "redis"
	RedisURL         string        `yaml:"redis_url"`
	RetentionHorizon time.Duration `yaml:"retention_horizon"` // idle time before eviction is considered
	MinScore         float64       `yaml:"min_score"`         // entries below this and idle past the horizon are evicted
	MaxEntries       int           `yaml:"max_entries"`
}

// SchedulerConfig configures per-tenant cycle scheduling
type SchedulerConfig struct {
	Interval       time.Duration `yaml:"interval"`        // default tick interval, overridable per tenant
	MaxConcurrent  int           `yaml:"max_concurrent"`  // cycles running at once across tenants
	CycleDeadline  time.Duration `yaml:"cycle_deadline"`  // global per-cycle deadline
	LeaseTTL       time.Duration `yaml:"lease_ttl"`       // single-flight lease lifetime
	FailureBackoff time.Duration `yaml:"failure_backoff"` // base backoff after a FAILED cycle
	BackoffCap     time.Duration `yaml:"backoff_cap"`
}

// DispatchConfig configures per-task execution
type DispatchConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	PoolSize    int           `yaml:"pool_size"` // concurrent channel calls across all tenants
}

// DecisionConfig tunes strategy ranking
type DecisionConfig struct {
	SuccessWeight     float64 `yaml:"success_weight"`
	ProfitWeight      float64 `yaml:"profit_weight"`
	RecencyWeight     float64 `yaml:"recency_weight"`
	RecencyHalfLife   int     `yaml:"recency_half_life_days"`
	PriorWeight       float64 `yaml:"prior_weight"`       // shrinkage pseudo-count toward the global prior
	MinSamples        int64   `yaml:"min_samples"`        // usage below this is shrunk
	ExploitThreshold  float64 `yaml:"exploit_threshold"`  // pattern match score needed to exploit
	ExploreConfidence float64 `yaml:"explore_confidence"` // confidence tag on exploration attempts
}

// ReinvestConfig defaults the per-tenant reinvestment policy
type ReinvestConfig struct {
	DefaultThreshold float64 `yaml:"default_threshold"`
	DefaultRate      float64 `yaml:"default_rate"`
	MaxTestBudget    float64 `yaml:"max_test_budget"`
	WindowDays       int     `yaml:"window_days"`
}

// ChannelsConfig selects collaborator implementations
type ChannelsConfig struct {
	Mode            string        `yaml:"mode"` // "sim" is the only built-in; live adapters register externally
	SimSeed         int64         `yaml:"sim_seed"`
	SimFailureRate  float64       `yaml:"sim_failure_rate"`
	SocialPlatforms []string      `yaml:"social_platforms"`
	SocialStagger   time.Duration `yaml:"social_stagger"` // delay between scheduled posts
}

// NATSConfig configures the optional event mirror
type NATSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	StreamName string `yaml:"stream_name"`
}

// SecurityConfig configures admin API authentication
type SecurityConfig struct {
	EnableAuth bool   `yaml:"enable_auth"`
	JWTSecret  string `yaml:"jwt_secret"`
}

// TelemetryConfig configures OpenTelemetry export
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LoadFromFile loads configuration from a YAML file. Environment variables
// in the file (e.g. ${VENTURE_DB_DSN}) are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration that runs standalone: sqlite
// storage, in-memory cache, simulated channels, auth enabled.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "./venture.db",
		},
		Cache: CacheConfig{
			Backend:          "memory",
			RetentionHorizon: 14 * 24 * time.Hour,
			MinScore:         0.2,
			MaxEntries:       10000,
		},
		Scheduler: SchedulerConfig{
			Interval:       30 * time.Minute,
			MaxConcurrent:  3,
			CycleDeadline:  10 * time.Minute,
			LeaseTTL:       15 * time.Minute,
			FailureBackoff: 1 * time.Minute,
			BackoffCap:     4 * time.Hour,
		},
		Dispatch: DispatchConfig{
			MaxAttempts: 3,
			TaskTimeout: 60 * time.Second,
			BaseBackoff: 500 * time.Millisecond,
			MaxBackoff:  30 * time.Second,
			PoolSize:    12,
		},
		Decision: DecisionConfig{
			SuccessWeight:     0.5,
			ProfitWeight:      0.3,
			RecencyWeight:     0.2,
			RecencyHalfLife:   7,
			PriorWeight:       5,
			MinSamples:        3,
			ExploitThreshold:  0.5,
			ExploreConfidence: 0.3,
		},
		Reinvest: ReinvestConfig{
			DefaultThreshold: 1.0,
			DefaultRate:      0.5,
			MaxTestBudget:    25.0,
			WindowDays:       30,
		},
		Channels: ChannelsConfig{
			Mode:            "sim",
			SimFailureRate:  0.1,
			SocialPlatforms: []string{"facebook", "instagram", "twitter", "linkedin"},
			SocialStagger:   time.Hour,
		},
		NATS: NATSConfig{
			Enabled:    false,
			URL:        "nats://localhost:4222",
			StreamName: "VENTURE",
		},
		Security: SecurityConfig{
			EnableAuth: true,
			JWTSecret:  "",
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Endpoint: "otel-collector:4317",
		},
	}
}
