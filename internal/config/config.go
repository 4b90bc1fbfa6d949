// Package config loads flexcore's YAML configuration, following the
// nested-struct-with-yaml-tags shape and load-then-default pattern the
// wider ubersdr codebase uses for its own config.go.
package config

import (
	"fmt"
	"os"

	goversion "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"
)

// MinSchemaVersion is the oldest config schema this build accepts.
const MinSchemaVersion = "1.0.0"

// Config is the top-level flexcore configuration.
type Config struct {
	SchemaVersion string        `yaml:"schema_version"`
	Decoder       DecoderConfig `yaml:"decoder"`
	MQTT          MQTTConfig    `yaml:"mqtt"`
	WebSocket     WSConfig      `yaml:"websocket"`
	Metrics       MetricsConfig `yaml:"metrics"`
	MCP           MCPConfig     `yaml:"mcp"`
	Logging       LoggingConfig `yaml:"logging"`
}

// DecoderConfig configures the demodulator/decoder core itself.
type DecoderConfig struct {
	SampleFrequency uint32 `yaml:"sample_frequency"` // Input sample rate in Hz (default: 22050)
	Verbosity       int    `yaml:"verbosity"`        // higher is chattier; 0 or unset becomes 1 (default: 1)
}

// MQTTConfig configures the MQTT publish sink.
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Broker          string        `yaml:"broker"`            // e.g. tcp://mqtt.example.com:1883
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TopicPrefix     string        `yaml:"topic_prefix"`      // default: flexcore/messages
	QoS             byte          `yaml:"qos"`               // 0, 1, or 2
	Retain          bool          `yaml:"retain"`
	ClientIDPrefix  string        `yaml:"client_id_prefix"`  // default: flexcore
	CompressPayload bool          `yaml:"compress_payload"`  // zstd-compress above CompressThresholdBytes
	CompressThresholdBytes int    `yaml:"compress_threshold_bytes"` // default: 1024
	TLS             MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig configures TLS for the MQTT connection.
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// WSConfig configures the websocket broadcaster.
type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // default: :8090
	Path    string `yaml:"path"`   // default: /ws
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // default: :9090
	Path    string `yaml:"path"`   // default: /metrics
}

// MCPConfig configures the MCP control-plane server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // default: :8091
}

// LoggingConfig configures stdlib log verbosity/format.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error, default: info
}

// LoadConfig reads filename, unmarshals it, checks the schema version, and
// fills in defaults for anything left unset.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", filename, err)
	}

	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = MinSchemaVersion
	}
	if err := checkSchemaVersion(cfg.SchemaVersion); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// checkSchemaVersion rejects a config file older than MinSchemaVersion.
func checkSchemaVersion(schemaVersion string) error {
	got, err := goversion.NewVersion(schemaVersion)
	if err != nil {
		return fmt.Errorf("config: invalid schema_version %q: %w", schemaVersion, err)
	}
	min, err := goversion.NewVersion(MinSchemaVersion)
	if err != nil {
		return fmt.Errorf("config: invalid MinSchemaVersion %q: %w", MinSchemaVersion, err)
	}
	if got.LessThan(min) {
		return fmt.Errorf("config: schema_version %s is older than the minimum supported %s", got, min)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Decoder.SampleFrequency == 0 {
		cfg.Decoder.SampleFrequency = 22050
	}
	if cfg.Decoder.Verbosity == 0 {
		cfg.Decoder.Verbosity = 1
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "flexcore/messages"
	}
	if cfg.MQTT.ClientIDPrefix == "" {
		cfg.MQTT.ClientIDPrefix = "flexcore"
	}
	if cfg.MQTT.CompressThresholdBytes == 0 {
		cfg.MQTT.CompressThresholdBytes = 1024
	}
	if cfg.WebSocket.Listen == "" {
		cfg.WebSocket.Listen = ":8090"
	}
	if cfg.WebSocket.Path == "" {
		cfg.WebSocket.Path = "/ws"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.MCP.Listen == "" {
		cfg.MCP.Listen = ":8091"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks invariants LoadConfig's defaulting cannot fix on its own.
func (c *Config) Validate() error {
	if c.Decoder.SampleFrequency < 8000 {
		return fmt.Errorf("config: decoder.sample_frequency must be at least 8000")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("config: mqtt.broker is required when mqtt.enabled is true")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt.qos must be 0, 1, or 2")
	}
	return nil
}
