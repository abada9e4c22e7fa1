// Package config loads framework configuration from YAML with environment
// overrides. All fields have working defaults; an empty file is a valid
// configuration.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blyfast/blyfast/logging"
)

// Config is the full framework configuration tree.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Pools     PoolsConfig     `yaml:"pools"`
	Logging   logging.Config  `yaml:"logging"`
}

// ServerConfig tunes the HTTP transport.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	EnableH2C       bool          `yaml:"enable_h2c"`
	MetricsPath     string        `yaml:"metrics_path"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SchedulerConfig tunes the worker pool.
type SchedulerConfig struct {
	CorePoolSize           int           `yaml:"core_pool_size"`
	MaxPoolSize            int           `yaml:"max_pool_size"`
	QueueCapacity          int           `yaml:"queue_capacity"`
	KeepAliveTime          time.Duration `yaml:"keep_alive_time"`
	UseWorkStealing        bool          `yaml:"use_work_stealing"`
	UseSynchronousHandoff  bool          `yaml:"use_synchronous_handoff"`
	PrestartCoreThreads    bool          `yaml:"prestart_core_threads"`
	CallerRunsWhenRejected bool          `yaml:"caller_runs_when_rejected"`
	EnableDynamicScaling   bool          `yaml:"enable_dynamic_scaling"`
	TargetUtilization      float64       `yaml:"target_utilization"`
	ScalingInterval        time.Duration `yaml:"scaling_interval"`
	CollectMetrics         bool          `yaml:"collect_metrics"`
}

// BreakerConfig tunes the circuit breaker overlay.
type BreakerConfig struct {
	Enabled              bool          `yaml:"enabled"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold"`
	MinSamples           int           `yaml:"min_samples"`
	Window               time.Duration `yaml:"window"`
	ResetTimeout         time.Duration `yaml:"reset_timeout"`
}

// PoolsConfig tunes object pooling and GC behavior.
type PoolsConfig struct {
	ContextWarmup    int           `yaml:"context_warmup"`
	TargetHitRate    float64       `yaml:"target_hit_rate"`
	AutoOptimize     bool          `yaml:"auto_optimize"`
	OptimizeInterval time.Duration `yaml:"optimize_interval"`
	GCPercent        int           `yaml:"gc_percent"`
}

// Default returns the stock configuration: an IO-leaning pool sized off the
// CPU count, breaker on, JSON logs at info.
func Default() Config {
	cpus := runtime.NumCPU()
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    4 << 20,
			MetricsPath:     "/metrics",
		},
		Scheduler: SchedulerConfig{
			CorePoolSize:           cpus * 8,
			MaxPoolSize:            cpus * 16,
			QueueCapacity:          200000,
			KeepAliveTime:          30 * time.Second,
			PrestartCoreThreads:    true,
			CallerRunsWhenRejected: true,
			EnableDynamicScaling:   true,
			TargetUtilization:      0.85,
			ScalingInterval:        2 * time.Second,
			CollectMetrics:         true,
		},
		Breaker: BreakerConfig{
			Enabled:              true,
			FailureRateThreshold: 0.5,
			MinSamples:           20,
			Window:               10 * time.Second,
			ResetTimeout:         5 * time.Second,
		},
		Pools: PoolsConfig{
			ContextWarmup:    512,
			TargetHitRate:    0.90,
			AutoOptimize:     true,
			OptimizeInterval: 30 * time.Second,
			GCPercent:        200,
		},
		Logging: logging.Config{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error; the defaults plus environment apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers BLYFAST_* variables over the loaded file. Only the knobs
// that differ per deployment are exposed this way.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BLYFAST_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := envInt("BLYFAST_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("BLYFAST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := envInt("BLYFAST_CORE_POOL_SIZE"); ok {
		cfg.Scheduler.CorePoolSize = v
	}
	if v, ok := envInt("BLYFAST_MAX_POOL_SIZE"); ok {
		cfg.Scheduler.MaxPoolSize = v
	}
	if v, ok := envInt("BLYFAST_QUEUE_CAPACITY"); ok {
		cfg.Scheduler.QueueCapacity = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Scheduler.CorePoolSize < 1 {
		return fmt.Errorf("scheduler core_pool_size must be at least 1, got %d", c.Scheduler.CorePoolSize)
	}
	if c.Scheduler.MaxPoolSize < c.Scheduler.CorePoolSize {
		return fmt.Errorf("scheduler max_pool_size %d below core_pool_size %d",
			c.Scheduler.MaxPoolSize, c.Scheduler.CorePoolSize)
	}
	if c.Scheduler.QueueCapacity < 0 {
		return fmt.Errorf("scheduler queue_capacity must not be negative, got %d", c.Scheduler.QueueCapacity)
	}
	if c.Breaker.Enabled {
		if c.Breaker.FailureRateThreshold <= 0 || c.Breaker.FailureRateThreshold > 1 {
			return fmt.Errorf("breaker failure_rate_threshold %v out of (0, 1]", c.Breaker.FailureRateThreshold)
		}
	}
	return nil
}
