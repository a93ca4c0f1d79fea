// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/flowlens/internal/core"
	"firestige.xyz/flowlens/internal/flow"
)

// Config represents the top-level configuration.
// Maps to the `flowlens:` root key in YAML.
type Config struct {
	Capture     CaptureConfig     `mapstructure:"capture"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Render      RenderConfig      `mapstructure:"render"`
	API         APIConfig         `mapstructure:"api"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Log         LogConfig         `mapstructure:"log"`
}

// ─── Capture ───

// CaptureConfig selects and tunes the frame source.
type CaptureConfig struct {
	Source       string         `mapstructure:"source"`         // pcap | afpacket | file
	Interface    string         `mapstructure:"interface"`      // live sources
	File         string         `mapstructure:"file"`           // file source
	Filter       string         `mapstructure:"filter"`         // libpcap filter syntax
	SnapLen      int            `mapstructure:"snap_len"`       // bytes captured per frame
	Promiscuous  bool           `mapstructure:"promiscuous"`    // live sources
	ReadTimeout  time.Duration  `mapstructure:"read_timeout"`   // upper bound of one read
	BufferSizeMB int            `mapstructure:"buffer_size_mb"` // kernel / ring buffer
	Speed        float64        `mapstructure:"speed"`          // file replay multiplier, 0 = unpaced
	Extra        map[string]any `mapstructure:"extra"`          // source-specific tunables
}

// Validate checks that a capture target is named.
func (c *CaptureConfig) Validate() error {
	switch c.Source {
	case "pcap", "afpacket":
		if c.Interface == "" {
			return fmt.Errorf("%w: capture.interface is required for source %q", core.ErrConfigInvalid, c.Source)
		}
	case "file":
		if c.File == "" {
			return fmt.Errorf("%w: capture.file is required for source \"file\"", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown capture.source %q (must be pcap/afpacket/file)", core.ErrConfigInvalid, c.Source)
	}
	if c.SnapLen <= 0 {
		return fmt.Errorf("%w: capture.snap_len must be positive, got %d", core.ErrConfigInvalid, c.SnapLen)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: capture.read_timeout must be positive, got %s", core.ErrConfigInvalid, c.ReadTimeout)
	}
	if c.Speed < 0 {
		return fmt.Errorf("%w: capture.speed must not be negative", core.ErrConfigInvalid)
	}
	return nil
}

// ─── Aggregation ───

// AggregationConfig controls the flow table.
type AggregationConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	HalfLife      time.Duration `mapstructure:"half_life"`
	IdleThreshold time.Duration `mapstructure:"idle_threshold"` // 0 = 3 × half_life
	MaxFlows      int           `mapstructure:"max_flows"`      // 0 = unbounded
	KeyMode       string        `mapstructure:"key_mode"`       // endpoints | hosts
}

// ─── Render ───

// RenderConfig controls the console renderer.
type RenderConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Top      int           `mapstructure:"top"`
}

// ─── API ───

// APIConfig configures the HTTP command surface.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings. Metrics are served
// by the API listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ─── Relay ───

// RelayConfig configures snapshot forwarding over NATS.
type RelayConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Subject  string        `mapstructure:"subject"`
	Interval time.Duration `mapstructure:"interval"`
	Top      int           `mapstructure:"top"`      // flows per message, 0 = all
	Encoding string        `mapstructure:"encoding"` // json | protobuf
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string           `mapstructure:"level"`       // trace / debug / info / warn / error
	Format     string           `mapstructure:"format"`      // text / json / pattern
	Pattern    string           `mapstructure:"pattern"`     // used by format=pattern
	TimeFormat string           `mapstructure:"time_format"` // Go reference layout
	File       FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `flowlens: ...`.
type configRoot struct {
	Flowlens Config `mapstructure:"flowlens"`
}

// Load loads configuration from file. An empty path yields the defaults,
// still subject to environment overrides.
// The YAML file uses `flowlens:` as root key; env vars use the FLOWLENS_ prefix
// (e.g., FLOWLENS_CAPTURE_INTERFACE).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `flowlens.` key prefix maps to `FLOWLENS_` via the key replacer
	// (e.g., key "flowlens.log.level" → env "FLOWLENS_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Flowlens

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "flowlens." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("flowlens.capture.source", "pcap")
	v.SetDefault("flowlens.capture.interface", "")
	v.SetDefault("flowlens.capture.file", "")
	v.SetDefault("flowlens.capture.filter", "")
	v.SetDefault("flowlens.capture.snap_len", 262144)
	v.SetDefault("flowlens.capture.promiscuous", true)
	v.SetDefault("flowlens.capture.read_timeout", "100ms")
	v.SetDefault("flowlens.capture.buffer_size_mb", 64)
	v.SetDefault("flowlens.capture.speed", 1.0)

	// Aggregation defaults
	v.SetDefault("flowlens.aggregation.tick_interval", "250ms")
	v.SetDefault("flowlens.aggregation.half_life", "2s")
	v.SetDefault("flowlens.aggregation.idle_threshold", "0s")
	v.SetDefault("flowlens.aggregation.max_flows", 4096)
	v.SetDefault("flowlens.aggregation.key_mode", "endpoints")

	// Render defaults
	v.SetDefault("flowlens.render.enabled", true)
	v.SetDefault("flowlens.render.interval", "1s")
	v.SetDefault("flowlens.render.top", 20)

	// API and metrics defaults
	v.SetDefault("flowlens.api.enabled", false)
	v.SetDefault("flowlens.api.listen", "127.0.0.1:9470")
	v.SetDefault("flowlens.metrics.enabled", true)
	v.SetDefault("flowlens.metrics.path", "/metrics")

	// Relay defaults
	v.SetDefault("flowlens.relay.enabled", false)
	v.SetDefault("flowlens.relay.url", "nats://127.0.0.1:4222")
	v.SetDefault("flowlens.relay.subject", "flowlens.snapshots")
	v.SetDefault("flowlens.relay.interval", "1s")
	v.SetDefault("flowlens.relay.top", 100)
	v.SetDefault("flowlens.relay.encoding", "json")

	// Log defaults
	v.SetDefault("flowlens.log.level", "info")
	v.SetDefault("flowlens.log.format", "text")
	v.SetDefault("flowlens.log.pattern", "%time [%level] %field: %msg\n")
	v.SetDefault("flowlens.log.time_format", "2006-01-02 15:04:05.000")
	v.SetDefault("flowlens.log.file.enabled", false)
	v.SetDefault("flowlens.log.file.path", "/var/log/flowlens/flowlens.log")
	v.SetDefault("flowlens.log.file.rotation.max_size_mb", 100)
	v.SetDefault("flowlens.log.file.rotation.max_age_days", 30)
	v.SetDefault("flowlens.log.file.rotation.max_backups", 5)
	v.SetDefault("flowlens.log.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies derived defaults.
// The capture target is checked separately by CaptureConfig.Validate, since the
// CLI may still supply it.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	case "pattern":
		if cfg.Log.Pattern == "" {
			return fmt.Errorf("%w: log.pattern is required when log.format=pattern", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: invalid log format: %s (must be text/json/pattern)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("%w: log.file.path is required when log.file.enabled=true", core.ErrConfigInvalid)
	}

	// ── Aggregation ──
	agg := &cfg.Aggregation
	if agg.TickInterval <= 0 || agg.HalfLife <= 0 {
		return fmt.Errorf("%w: aggregation.tick_interval and aggregation.half_life must be positive", core.ErrConfigInvalid)
	}
	if agg.IdleThreshold == 0 {
		agg.IdleThreshold = 3 * agg.HalfLife
	}
	if agg.IdleThreshold < agg.TickInterval {
		return fmt.Errorf("%w: aggregation.idle_threshold %s is shorter than tick_interval %s",
			core.ErrConfigInvalid, agg.IdleThreshold, agg.TickInterval)
	}
	if agg.MaxFlows < 0 {
		return fmt.Errorf("%w: aggregation.max_flows must not be negative", core.ErrConfigInvalid)
	}
	if step := 1 - (flow.Policy{TickInterval: agg.TickInterval, HalfLife: agg.HalfLife}).DecayFactor(); step < flow.MinDecayStep {
		return fmt.Errorf("%w: aggregation.half_life %s is too long for tick_interval %s",
			core.ErrConfigInvalid, agg.HalfLife, agg.TickInterval)
	}
	if agg.KeyMode != "endpoints" && agg.KeyMode != "hosts" {
		return fmt.Errorf("%w: invalid aggregation.key_mode: %s (must be endpoints/hosts)", core.ErrConfigInvalid, agg.KeyMode)
	}

	// ── Capture ──
	// Commands and ticks are serviced between reads, so one read must not
	// outlast a tick.
	if cfg.Capture.ReadTimeout <= 0 {
		return fmt.Errorf("%w: capture.read_timeout must be positive", core.ErrConfigInvalid)
	}
	if cfg.Capture.ReadTimeout > agg.TickInterval {
		return fmt.Errorf("%w: capture.read_timeout %s exceeds aggregation.tick_interval %s",
			core.ErrConfigInvalid, cfg.Capture.ReadTimeout, agg.TickInterval)
	}

	// ── Render / relay ──
	if cfg.Render.Enabled && cfg.Render.Interval <= 0 {
		return fmt.Errorf("%w: render.interval must be positive", core.ErrConfigInvalid)
	}
	if cfg.Relay.Enabled {
		if cfg.Relay.URL == "" || cfg.Relay.Subject == "" {
			return fmt.Errorf("%w: relay.url and relay.subject are required when relay.enabled=true", core.ErrConfigInvalid)
		}
		if cfg.Relay.Interval <= 0 {
			return fmt.Errorf("%w: relay.interval must be positive", core.ErrConfigInvalid)
		}
		if cfg.Relay.Encoding != "json" && cfg.Relay.Encoding != "protobuf" {
			return fmt.Errorf("%w: invalid relay.encoding: %s (must be json/protobuf)", core.ErrConfigInvalid, cfg.Relay.Encoding)
		}
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("%w: api.listen is required when api.enabled=true", core.ErrConfigInvalid)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return nil
}
