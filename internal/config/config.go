package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the KPI pipeline.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Retention  RetentionConfig  `yaml:"retention"`
	Validation ValidationConfig `yaml:"validation"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Staleness  StalenessConfig  `yaml:"staleness"`
	Rules      RulesConfig      `yaml:"rules"`
	Cache      CacheConfig      `yaml:"cache"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Slices     []SliceConfig    `yaml:"slices"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP/WebSocket listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// IngestConfig groups the producer-facing transports.
type IngestConfig struct {
	UDPAddress string  `yaml:"udpAddress"`
	RateLimit  float64 `yaml:"rateLimit"`
	RateBurst  int     `yaml:"rateBurst"`
}

// RetentionConfig bounds the per-slice history. Whichever of count and age
// is tighter wins.
type RetentionConfig struct {
	MaxSamples int           `yaml:"maxSamples"`
	MaxAge     time.Duration `yaml:"maxAge"`
}

// ValidationConfig holds the skew tolerances applied to inbound timestamps.
// PastSkew of zero means strict non-decreasing per slice.
type ValidationConfig struct {
	PastSkew   time.Duration `yaml:"pastSkew"`
	FutureSkew time.Duration `yaml:"futureSkew"`
}

// DispatchConfig controls the per-connection outbound path.
type DispatchConfig struct {
	QueueDepth   int           `yaml:"queueDepth"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	PingInterval time.Duration `yaml:"pingInterval"`
}

// StalenessConfig controls the producer-idle watcher.
type StalenessConfig struct {
	CheckInterval time.Duration `yaml:"checkInterval"`
	StaleAfter    time.Duration `yaml:"staleAfter"`
}

// RulesConfig points at the SLA rule source. Path loads a YAML rule file;
// BaseURL fetches per-slice rule sets from the slice-manager API. When both
// are set the HTTP source wins and the file acts as a fallback.
type RulesConfig struct {
	Path     string        `yaml:"path"`
	BaseURL  string        `yaml:"baseURL"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// CacheConfig controls Valkey-backed caching of rule lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	RulesTTL     time.Duration `yaml:"rulesTTL"`
}

// AlertsConfig controls the rolling violation summary.
type AlertsConfig struct {
	Window time.Duration `yaml:"window"`
}

// SliceConfig declares a slice the pipeline accepts samples for.
type SliceConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
}

// SimulatorConfig controls the built-in KPI generator used for local
// development when no real probe is attached.
type SimulatorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SLICEWATCH_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{
			UDPAddress: "",
			RateLimit:  500,
			RateBurst:  100,
		},
		Retention: RetentionConfig{
			MaxSamples: 1000,
			MaxAge:     time.Hour,
		},
		Validation: ValidationConfig{
			PastSkew:   0,
			FutureSkew: 2 * time.Second,
		},
		Dispatch: DispatchConfig{
			QueueDepth:   64,
			WriteTimeout: 5 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Staleness: StalenessConfig{
			CheckInterval: 10 * time.Second,
			StaleAfter:    30 * time.Second,
		},
		Rules: RulesConfig{
			Path:     "configs/rules/default.yaml",
			Timeout:  5 * time.Second,
			CacheTTL: time.Minute,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			RulesTTL:     5 * time.Minute,
		},
		Alerts:    AlertsConfig{Window: 15 * time.Minute},
		Simulator: SimulatorConfig{Enabled: false, Interval: 5 * time.Second},
		Logging:   LoggingConfig{Level: "info", JSON: false},
	}
}

func validate(cfg *Config) error {
	if cfg.Retention.MaxSamples <= 0 && cfg.Retention.MaxAge <= 0 {
		return fmt.Errorf("retention: at least one of maxSamples and maxAge must be positive")
	}
	if cfg.Dispatch.QueueDepth <= 0 {
		return fmt.Errorf("dispatch: queueDepth must be positive")
	}
	if cfg.Validation.PastSkew < 0 || cfg.Validation.FutureSkew < 0 {
		return fmt.Errorf("validation: skew tolerances must not be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Slices))
	for _, slice := range cfg.Slices {
		if slice.ID == "" {
			return fmt.Errorf("slices: id must not be empty")
		}
		if _, dup := seen[slice.ID]; dup {
			return fmt.Errorf("slices: duplicate id %q", slice.ID)
		}
		seen[slice.ID] = struct{}{}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SLICEWATCH_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SLICEWATCH_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SLICEWATCH_INGEST_UDP_ADDRESS"); v != "" {
		cfg.Ingest.UDPAddress = v
	}
	if v := os.Getenv("SLICEWATCH_RETENTION_MAX_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.MaxSamples = n
		}
	}
	if v := os.Getenv("SLICEWATCH_RETENTION_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.MaxAge = d
		}
	}
	if v := os.Getenv("SLICEWATCH_VALIDATION_PAST_SKEW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Validation.PastSkew = d
		}
	}
	if v := os.Getenv("SLICEWATCH_VALIDATION_FUTURE_SKEW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Validation.FutureSkew = d
		}
	}
	if v := os.Getenv("SLICEWATCH_DISPATCH_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.QueueDepth = n
		}
	}
	if v := os.Getenv("SLICEWATCH_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Staleness.StaleAfter = d
		}
	}
	if v := os.Getenv("SLICEWATCH_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("SLICEWATCH_RULES_BASE_URL"); v != "" {
		cfg.Rules.BaseURL = v
	}
	if v := os.Getenv("SLICEWATCH_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SLICEWATCH_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SLICEWATCH_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SLICEWATCH_SIMULATOR_ENABLED"); v != "" {
		cfg.Simulator.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SLICEWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SLICEWATCH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
