package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/skellyctl/internal/ble"
	"github.com/chaz8081/skellyctl/internal/ble/protocol"
	"github.com/chaz8081/skellyctl/internal/catalog"
	"github.com/chaz8081/skellyctl/internal/transfer"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Transfer TransferConfig `yaml:"transfer"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	LogLevel string         `yaml:"log_level"`
}

// DeviceConfig selects the appliance and how to reach it.
type DeviceConfig struct {
	Address        string        `yaml:"address"`     // MAC on Linux and Windows, CoreBluetooth UUID on macOS
	NamePrefix     string        `yaml:"name_prefix"` // scan filter; empty accepts all
	ServiceUUID    string        `yaml:"service_uuid"`
	WriteUUID      string        `yaml:"write_uuid"`
	NotifyUUID     string        `yaml:"notify_uuid"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ConnectRetries int           `yaml:"connect_retries"`
	ReconnectMax   int           `yaml:"reconnect_max"` // backoff cap in seconds
}

// TransferConfig tunes uploads.
type TransferConfig struct {
	ChunkSize       int           `yaml:"chunk_size"` // 0 picks 500, or 160 when conservative
	Conservative    bool          `yaml:"conservative"`
	Pace            time.Duration `yaml:"pace"` // inter-chunk gap; 0 keeps the mode's default
	AckTimeout      time.Duration `yaml:"ack_timeout"`    // 0 keeps 5s, or 8s when conservative
	CommitTimeout   time.Duration `yaml:"commit_timeout"` // 0 keeps 15s
	MaxEndAttempts  int           `yaml:"max_end_attempts"`
	MaxChunkResends int           `yaml:"max_chunk_resends"`
}

// CatalogConfig tunes file list fetches.
type CatalogConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"` // idle time between entries before giving up
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "skellyctl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ServiceUUID:    ble.ServiceUUID.String(),
			WriteUUID:      ble.WriteUUID.String(),
			NotifyUUID:     ble.NotifyUUID.String(),
			ScanTimeout:    5 * time.Second,
			ConnectTimeout: 10 * time.Second,
			ConnectRetries: 2,
			ReconnectMax:   30,
		},
		Transfer: TransferConfig{
			MaxEndAttempts:  100,
			MaxChunkResends: 6,
		},
		Catalog: CatalogConfig{
			FetchTimeout: 6 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. A leading ~ in path is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Device.Address = strings.TrimSpace(cfg.Device.Address)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"device.service_uuid", c.Device.ServiceUUID},
		{"device.write_uuid", c.Device.WriteUUID},
		{"device.notify_uuid", c.Device.NotifyUUID},
	} {
		if _, err := uuid.Parse(f.value); err != nil {
			return fmt.Errorf("%s must be a UUID, got %q: %w", f.name, f.value, err)
		}
	}

	if c.Device.ScanTimeout <= 0 {
		return fmt.Errorf("device.scan_timeout must be > 0")
	}
	if c.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device.connect_timeout must be > 0")
	}
	if c.Device.ConnectRetries < 0 {
		return fmt.Errorf("device.connect_retries must be >= 0")
	}
	if c.Device.ReconnectMax <= 0 {
		return fmt.Errorf("device.reconnect_max must be > 0")
	}

	// A chunk frame carries a 2-byte index; the device buffers 500 data bytes.
	if c.Transfer.ChunkSize < 0 || c.Transfer.ChunkSize > protocol.DefaultChunkSize {
		return fmt.Errorf("transfer.chunk_size must be between 1 and %d (0 for default), got %d",
			protocol.DefaultChunkSize, c.Transfer.ChunkSize)
	}
	if c.Transfer.Pace < 0 {
		return fmt.Errorf("transfer.pace must be >= 0")
	}
	if c.Transfer.AckTimeout < 0 || c.Transfer.CommitTimeout < 0 {
		return fmt.Errorf("transfer timeouts must be >= 0")
	}
	if c.Transfer.MaxEndAttempts < 0 || c.Transfer.MaxChunkResends < 0 {
		return fmt.Errorf("transfer retry bounds must be >= 0")
	}

	if c.Catalog.FetchTimeout <= 0 {
		return fmt.Errorf("catalog.fetch_timeout must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// Options converts the transfer section to engine options. Zero fields
// keep the defaults of the selected mode.
func (t TransferConfig) Options() transfer.Options {
	o := transfer.DefaultOptions()
	if t.Conservative {
		o = transfer.ConservativeOptions()
	}
	if t.ChunkSize > 0 {
		o.ChunkSize = t.ChunkSize
	}
	if t.Pace > 0 {
		o.Pacing.Base = t.Pace
	}
	if t.AckTimeout > 0 {
		o.AckTimeout = t.AckTimeout
	}
	if t.CommitTimeout > 0 {
		o.CommitTimeout = t.CommitTimeout
	}
	if t.MaxEndAttempts > 0 {
		o.MaxEndAttempts = t.MaxEndAttempts
	}
	if t.MaxChunkResends > 0 {
		o.MaxChunkResends = t.MaxChunkResends
	}
	return o
}

// Options converts the catalog section.
func (c CatalogConfig) Options() catalog.Options {
	o := catalog.DefaultOptions()
	if c.FetchTimeout > 0 {
		o.IdleTimeout = c.FetchTimeout
	}
	return o
}

// Profile returns the GATT UUIDs to use. Call Validate first.
func (d DeviceConfig) Profile() (ble.GATTProfile, error) {
	var p ble.GATTProfile
	var err error
	if p.Service, err = uuid.Parse(d.ServiceUUID); err != nil {
		return p, fmt.Errorf("device.service_uuid: %w", err)
	}
	if p.Write, err = uuid.Parse(d.WriteUUID); err != nil {
		return p, fmt.Errorf("device.write_uuid: %w", err)
	}
	if p.Notify, err = uuid.Parse(d.NotifyUUID); err != nil {
		return p, fmt.Errorf("device.notify_uuid: %w", err)
	}
	return p, nil
}

// SessionOptions assembles ble.SessionOptions from every section.
func (c *Config) SessionOptions() (ble.SessionOptions, error) {
	o := ble.DefaultSessionOptions()
	profile, err := c.Device.Profile()
	if err != nil {
		return o, err
	}
	o.Profile = profile
	o.ConnectTimeout = c.Device.ConnectTimeout
	o.ConnectRetries = c.Device.ConnectRetries
	o.ReconnectMax = c.Device.ReconnectMax
	o.Conservative = c.Transfer.Conservative
	o.Transfer = c.Transfer.Options()
	o.Catalog = c.Catalog.Options()
	return o, nil
}

// ParseLogLevel maps a log_level string to a slog level. Unknown values
// fall back to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

const defaultHeader = `# skellyctl configuration
# Durations accept Go syntax: 500ms, 5s, 1m.
# Set device.address after running "skellyctl scan".
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" with no error when a config already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
