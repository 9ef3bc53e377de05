// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/pcapminer/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `pcapminer:` root key in YAML.
type GlobalConfig struct {
	Node        NodeConfig        `mapstructure:"node"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Output      OutputConfig      `mapstructure:"output"`
	Enrichment  EnrichmentConfig  `mapstructure:"enrichment"`
	Services    ServicesConfig    `mapstructure:"services"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         LogConfig         `mapstructure:"log"`

	// Analyzers holds per-analyzer option maps keyed by analyzer ID.
	// Keys are case-folded by viper; use AnalyzerOptions for lookups.
	Analyzers map[string]map[string]any `mapstructure:"analyzers"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Hostname string            `mapstructure:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags"`
}

// ─── Coordinator ───

// CoordinatorConfig configures the aggregation server.
type CoordinatorConfig struct {
	Listen      string        `mapstructure:"listen"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"` // per-connection silence limit
	QueueSize   int           `mapstructure:"queue_size"`   // submissions waiting for aggregation
	PIDFile     string        `mapstructure:"pid_file"`
}

// ─── Worker ───

// WorkerConfig configures a worker session.
type WorkerConfig struct {
	ID            string        `mapstructure:"id"` // Empty = random UUID
	Coordinator   string        `mapstructure:"coordinator"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	FinalizeLocal bool          `mapstructure:"finalize_local"`
	OutDir        string        `mapstructure:"out_dir"`
	ParseHTTP     bool          `mapstructure:"parse_http"`

	// HeartbeatInterval must stay well below coordinator.idle_timeout.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// ─── Output ───

// OutputConfig configures where artifacts go.
type OutputConfig struct {
	Dir     string      `mapstructure:"dir"`
	Console bool        `mapstructure:"console"` // one summary line per artifact on stdout
	Kafka   KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig configures the Kafka artifact sink.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Compression  string        `mapstructure:"compression"` // none | gzip | snappy | lz4 | zstd
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// ─── Enrichment ───

// EnrichmentConfig configures IP origin lookups.
type EnrichmentConfig struct {
	Whois    WhoisConfig         `mapstructure:"whois"`
	CacheTTL time.Duration       `mapstructure:"cache_ttl"`
	Static   []StaticOriginEntry `mapstructure:"static"`
}

// WhoisConfig configures the bulk whois client.
type WhoisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Address string        `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StaticOriginEntry is a fixed origin record for one address.
// A list is used because viper splits map keys on dots.
type StaticOriginEntry struct {
	Address     string `mapstructure:"address"`
	CountryCode string `mapstructure:"country_code"`
	ASN         string `mapstructure:"asn"`
	Range       string `mapstructure:"range"`
}

// ─── Services ───

// ServicesConfig configures port service naming.
type ServicesConfig struct {
	OverrideFile string `mapstructure:"override_file"`
}

// ─── Ledger ───

// LedgerConfig configures the submission history database.
type LedgerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
	Loki LokiOutputConfig `mapstructure:"loki"`
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

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Endpoint     string            `mapstructure:"endpoint"`
	Labels       map[string]string `mapstructure:"labels"`
	BatchSize    int               `mapstructure:"batch_size"`
	BatchTimeout string            `mapstructure:"batch_timeout"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `pcapminer: ...`.
type configRoot struct {
	PcapMiner GlobalConfig `mapstructure:"pcapminer"`
}

// Load loads configuration from file. An empty path loads defaults only.
// Env vars map through the key replacer, e.g. PCAPMINER_LOG_LEVEL.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.PcapMiner

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "pcapminer." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Coordinator defaults
	v.SetDefault("pcapminer.coordinator.listen", ":3000")
	v.SetDefault("pcapminer.coordinator.idle_timeout", "60s")
	v.SetDefault("pcapminer.coordinator.queue_size", 16)
	v.SetDefault("pcapminer.coordinator.pid_file", "/var/run/pcapminer.pid")

	// Worker defaults
	v.SetDefault("pcapminer.worker.coordinator", "127.0.0.1:3000")
	v.SetDefault("pcapminer.worker.dial_timeout", "5s")
	v.SetDefault("pcapminer.worker.heartbeat_interval", "5s")
	v.SetDefault("pcapminer.worker.finalize_local", false)
	v.SetDefault("pcapminer.worker.out_dir", "./output")
	v.SetDefault("pcapminer.worker.parse_http", true)

	// Output defaults
	v.SetDefault("pcapminer.output.dir", "./output")
	v.SetDefault("pcapminer.output.console", false)
	v.SetDefault("pcapminer.output.kafka.enabled", false)
	v.SetDefault("pcapminer.output.kafka.topic", "pcapminer-artifacts")
	v.SetDefault("pcapminer.output.kafka.compression", "snappy")
	v.SetDefault("pcapminer.output.kafka.batch_timeout", "100ms")
	v.SetDefault("pcapminer.output.kafka.max_attempts", 3)

	// Enrichment defaults
	v.SetDefault("pcapminer.enrichment.whois.enabled", false)
	v.SetDefault("pcapminer.enrichment.whois.address", "whois.cymru.com:43")
	v.SetDefault("pcapminer.enrichment.whois.timeout", "10s")
	v.SetDefault("pcapminer.enrichment.cache_ttl", "1h")

	// Ledger defaults
	v.SetDefault("pcapminer.ledger.enabled", true)
	v.SetDefault("pcapminer.ledger.path", "./output/ledger.db")

	// Log defaults
	v.SetDefault("pcapminer.log.level", "info")
	v.SetDefault("pcapminer.log.format", "json")
	v.SetDefault("pcapminer.log.outputs.file.enabled", false)
	v.SetDefault("pcapminer.log.outputs.file.path", "/var/log/pcapminer/pcapminer.log")
	v.SetDefault("pcapminer.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("pcapminer.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("pcapminer.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("pcapminer.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("pcapminer.metrics.enabled", true)
	v.SetDefault("pcapminer.metrics.listen", ":9091")
	v.SetDefault("pcapminer.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log level %q (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: log format %q (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Coordinator ──
	if cfg.Coordinator.IdleTimeout <= 0 {
		return fmt.Errorf("%w: coordinator.idle_timeout must be positive", core.ErrConfigInvalid)
	}
	if cfg.Coordinator.QueueSize < 1 {
		cfg.Coordinator.QueueSize = 1
	}

	// ── Worker ──
	if cfg.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: worker.heartbeat_interval must be positive", core.ErrConfigInvalid)
	}

	// ── Output ──
	if cfg.Output.Dir == "" {
		return fmt.Errorf("%w: output.dir is required", core.ErrConfigInvalid)
	}
	if k := cfg.Output.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("%w: output.kafka.brokers is required when output.kafka.enabled=true", core.ErrConfigInvalid)
		}
		if k.Topic == "" {
			return fmt.Errorf("%w: output.kafka.topic is required when output.kafka.enabled=true", core.ErrConfigInvalid)
		}
		switch k.Compression {
		case "", "none", "gzip", "snappy", "lz4", "zstd":
		default:
			return fmt.Errorf("%w: output.kafka.compression %q", core.ErrConfigInvalid, k.Compression)
		}
	}

	// ── Enrichment ──
	if cfg.Enrichment.Whois.Enabled && cfg.Enrichment.Whois.Address == "" {
		return fmt.Errorf("%w: enrichment.whois.address is required when whois is enabled", core.ErrConfigInvalid)
	}
	for i, e := range cfg.Enrichment.Static {
		if _, err := netip.ParseAddr(e.Address); err != nil {
			return fmt.Errorf("%w: enrichment.static[%d].address: %v", core.ErrConfigInvalid, i, err)
		}
	}

	// ── Ledger ──
	if cfg.Ledger.Enabled && cfg.Ledger.Path == "" {
		return fmt.Errorf("%w: ledger.path is required when ledger.enabled=true", core.ErrConfigInvalid)
	}

	// ── Metrics ──
	if cfg.Metrics.Path != "" && (!strings.HasPrefix(cfg.Metrics.Path, "/") || cfg.Metrics.Path == "/status") {
		return fmt.Errorf("%w: metrics.path %q (must start with / and differ from /status)", core.ErrConfigInvalid, cfg.Metrics.Path)
	}

	return nil
}

// AnalyzerOptions returns the option map configured for an analyzer ID,
// or nil. Matching ignores case.
func (cfg *GlobalConfig) AnalyzerOptions(id string) map[string]any {
	if opts, ok := cfg.Analyzers[id]; ok {
		return opts
	}
	for k, opts := range cfg.Analyzers {
		if strings.EqualFold(k, id) {
			return opts
		}
	}
	return nil
}
