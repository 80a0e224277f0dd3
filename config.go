/*
File: config.go
Version: 4.0.0
Description: YAML configuration structures, defaults and loading.
             Durations are given as strings and parsed once into unexported fields; an invalid
             value logs a warning and falls back to the default instead of failing startup.
*/

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// --- Configuration Structures ---

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Model     ModelConfig     `yaml:"model"`
	Cache     CacheConfig     `yaml:"cache"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Training  TrainingConfig  `yaml:"training"`
}

type ServerConfig struct {
	Listeners []ListenerConfig `yaml:"listeners"`

	TLS struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`

	Timeout         string        `yaml:"timeout"`          // per-request deadline (default "5s", "0s" = none)
	ShutdownTimeout string        `yaml:"shutdown_timeout"` // graceful drain (default "10s")
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`   // request body cap (default 64KiB)
	CORSOrigins     []string      `yaml:"cors_origins"`     // default ["*"]
	AllowedNetworks StringOrSlice `yaml:"allowed_networks"` // CIDRs, empty = everyone
	TrustedProxies  StringOrSlice `yaml:"trusted_proxies"`  // peers allowed to set X-Forwarded-For
	AccessLog       bool          `yaml:"access_log"`

	parsedTimeout         time.Duration
	parsedShutdownTimeout time.Duration
}

type ListenerConfig struct {
	Address  StringOrSlice `yaml:"address"`
	Port     IntOrSlice    `yaml:"port"`
	Protocol string        `yaml:"protocol"` // "http" (default), "https", "h3"
}

type LoggingConfig struct {
	Level   string   `yaml:"level"`
	Format  string   `yaml:"format"` // "text" (default) or "json"
	Outputs []string `yaml:"outputs"`

	File struct {
		Path        string `yaml:"path"`
		Permissions uint32 `yaml:"permissions"`
	} `yaml:"file"`

	Syslog struct {
		Network  string `yaml:"network"` // "" / "unix" = local daemon, "udp" / "tcp" = remote
		Address  string `yaml:"address"`
		Tag      string `yaml:"tag"`
		Facility int    `yaml:"facility"`
	} `yaml:"syslog"`
}

type ModelConfig struct {
	Path string `yaml:"path"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	Size    int  `yaml:"size"`
}

type FeedbackConfig struct {
	Path        string `yaml:"path"`
	Permissions uint32 `yaml:"permissions"`
}

type RateLimitConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ClientQPS         int    `yaml:"client_qps"`
	ClientBurst       int    `yaml:"client_burst"`
	MaxGoroutines     int    `yaml:"max_goroutines"`
	HardMaxGoroutines int    `yaml:"hard_max_goroutines"`
	BaseDelay         string `yaml:"base_delay"`
	MaxDelay          string `yaml:"max_delay"`
	CleanupInterval   string `yaml:"cleanup_interval"`
	ClientExpiration  string `yaml:"client_expiration"`

	parsedBaseDelay        time.Duration
	parsedMaxDelay         time.Duration
	parsedCleanupInterval  time.Duration
	parsedClientExpiration time.Duration
}

type TrainingConfig struct {
	Dataset         string  `yaml:"dataset"`
	Trees           int     `yaml:"trees"`
	Seed            int64   `yaml:"seed"`
	TestSize        float64 `yaml:"test_size"`
	MaxDepth        int     `yaml:"max_depth"`
	MinSamplesSplit int     `yaml:"min_samples_split"`
	Workers         int     `yaml:"workers"`
}

type StringOrSlice []string

func (s *StringOrSlice) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		*s = []string{single}
		return nil
	}
	var slice []string
	if err := value.Decode(&slice); err != nil {
		return err
	}
	*s = slice
	return nil
}

type IntOrSlice []int

func (s *IntOrSlice) UnmarshalYAML(value *yaml.Node) error {
	var single int
	if err := value.Decode(&single); err == nil {
		*s = []int{single}
		return nil
	}
	var slice []int
	if err := value.Decode(&slice); err != nil {
		return err
	}
	*s = slice
	return nil
}

// --- Configuration Loading ---

const (
	defaultPort         = 5001
	defaultModelPath    = "phishing_model.gob"
	defaultFeedbackPath = "feedback.csv"
	defaultDatasetPath  = "dataset_phishing.csv"
)

// LoadConfig reads the YAML file at path. An empty path yields the built-in defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides honours PORT (first listener) the way hosted platforms expect.
func applyEnvOverrides(cfg *Config) {
	portStr := os.Getenv("PORT")
	if portStr == "" {
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		LogWarn("[CONFIG] Ignoring invalid PORT '%s'", portStr)
		return
	}
	if len(cfg.Server.Listeners) == 0 {
		cfg.Server.Listeners = append(cfg.Server.Listeners, ListenerConfig{})
	}
	cfg.Server.Listeners[0].Port = IntOrSlice{port}
}

func applyDefaults(cfg *Config) error {
	// Server
	if len(cfg.Server.Listeners) == 0 {
		cfg.Server.Listeners = append(cfg.Server.Listeners, ListenerConfig{})
	}
	for i := range cfg.Server.Listeners {
		l := &cfg.Server.Listeners[i]
		if len(l.Address) == 0 {
			l.Address = StringOrSlice{"127.0.0.1"}
		}
		if len(l.Port) == 0 {
			l.Port = IntOrSlice{defaultPort}
		}
		l.Protocol = strings.ToLower(strings.TrimSpace(l.Protocol))
		switch l.Protocol {
		case "":
			l.Protocol = "http"
		case "http", "https", "h3":
		default:
			return fmt.Errorf("listener %d: unknown protocol '%s'", i, l.Protocol)
		}
		if l.Protocol != "http" && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
			return fmt.Errorf("listener %d: protocol '%s' requires server.tls.cert_file and key_file", i, l.Protocol)
		}
	}
	cfg.Server.parsedTimeout = parseDurationOr("server.timeout", cfg.Server.Timeout, 5*time.Second)
	cfg.Server.parsedShutdownTimeout = parseDurationOr("server.shutdown_timeout", cfg.Server.ShutdownTimeout, 10*time.Second)
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = 64 << 10
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if len(cfg.Logging.Outputs) == 0 {
		cfg.Logging.Outputs = []string{"console"}
	}
	if cfg.Logging.Syslog.Tag == "" {
		cfg.Logging.Syslog.Tag = "phishguard"
	}

	// Model / Feedback
	if cfg.Model.Path == "" {
		cfg.Model.Path = defaultModelPath
	}
	if cfg.Feedback.Path == "" {
		cfg.Feedback.Path = defaultFeedbackPath
	}

	// Cache
	if cfg.Cache.Enabled && cfg.Cache.Size <= 0 {
		cfg.Cache.Size = 65536
	}

	// Rate limiting
	rl := &cfg.RateLimit
	if rl.Enabled {
		if rl.ClientQPS <= 0 {
			rl.ClientQPS = 20
		}
		if rl.ClientBurst <= 0 {
			rl.ClientBurst = rl.ClientQPS * 2
		}
		if rl.MaxGoroutines <= 0 {
			rl.MaxGoroutines = 5000
		}
		if rl.HardMaxGoroutines <= rl.MaxGoroutines {
			rl.HardMaxGoroutines = rl.MaxGoroutines * 2
		}
	}
	rl.parsedBaseDelay = parseDurationOr("rate_limit.base_delay", rl.BaseDelay, 10*time.Millisecond)
	rl.parsedMaxDelay = parseDurationOr("rate_limit.max_delay", rl.MaxDelay, 500*time.Millisecond)
	rl.parsedCleanupInterval = parseDurationOr("rate_limit.cleanup_interval", rl.CleanupInterval, time.Minute)
	rl.parsedClientExpiration = parseDurationOr("rate_limit.client_expiration", rl.ClientExpiration, 5*time.Minute)

	// Training
	t := &cfg.Training
	if t.Dataset == "" {
		t.Dataset = defaultDatasetPath
	}
	if t.Trees <= 0 {
		t.Trees = 100
	}
	if t.Seed == 0 {
		t.Seed = 42
	}
	if t.TestSize < 0 || t.TestSize >= 1 {
		return fmt.Errorf("training.test_size must be in [0,1), got %v", t.TestSize)
	}
	if t.TestSize == 0 {
		t.TestSize = 0.2
	}

	return nil
}

func parseDurationOr(name, value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		LogWarn("[CONFIG] Invalid %s '%s', defaulting to %v", name, value, def)
		return def
	}
	return d
}
