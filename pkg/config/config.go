// Package config provides YAML-driven configuration loading and
// validation for a bacstackd router: its transport ports, optional
// BBMD, TSM tuning, and the optional API/storage surfaces.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level bacstackd configuration.
type Config struct {
	Ports   []Port   `yaml:"ports"`
	BBMD    *BBMD    `yaml:"bbmd,omitempty"`
	TSM     TSM      `yaml:"tsm"`
	API     *API     `yaml:"api,omitempty"`
	Storage *Storage `yaml:"storage,omitempty"`
}

// Port describes one local network port: either a BACnet/IP UDP bind,
// or a BACnet/SC WebSocket listen/dial endpoint.
type Port struct {
	Network uint16 `yaml:"network"`

	// BIP fields; mutually exclusive with SC fields.
	BIPBindAddress string `yaml:"bip_bind_address,omitempty"`
	BIPBroadcast   string `yaml:"bip_broadcast_address,omitempty"`

	// SC fields.
	SCListenURL string `yaml:"sc_listen_url,omitempty"`
	SCDialURL   string `yaml:"sc_dial_url,omitempty"`
	SCHubMode   bool   `yaml:"sc_hub_mode,omitempty"`
}

// Kind reports which transport a Port configures.
func (p Port) Kind() string {
	if p.BIPBindAddress != "" {
		return "bip"
	}
	if p.SCListenURL != "" || p.SCDialURL != "" {
		return "sc"
	}
	return ""
}

// BBMD configures this daemon's Broadcast Distribution Management
// Device behavior on its BACnet/IP port.
type BBMD struct {
	BDT                 []string      `yaml:"bdt,omitempty"` // "a.b.c.d:port" entries
	AcceptRegistrations bool          `yaml:"accept_registrations"`
	MaxFDTEntries       int           `yaml:"max_fdt_entries,omitempty"`
	GracePeriod         time.Duration `yaml:"grace_period,omitempty"`
}

// TSM tunes the transaction state machine's timers and retry counts.
type TSM struct {
	APDUTimeout    time.Duration `yaml:"apdu_timeout,omitempty"`
	APDURetries    int           `yaml:"apdu_retries,omitempty"`
	SegmentTimeout time.Duration `yaml:"segment_timeout,omitempty"`
	SegmentRetries int           `yaml:"segment_retries,omitempty"`
	MaxAPDULength  uint32        `yaml:"max_apdu_length,omitempty"`
	MaxSegments    uint8         `yaml:"max_segments_accepted,omitempty"`
}

// API configures the optional HTTP status/control surface.
type API struct {
	ListenAddr string `yaml:"listen_address"`
	Token      string `yaml:"token,omitempty"`
}

// Storage configures the optional BoltDB persistence layer.
type Storage struct {
	Path string `yaml:"path"` // "disabled" turns storage off
}

// Load reads and parses a YAML configuration file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadYAMLBytes(data)
}

// LoadYAMLBytes parses in-memory YAML, e.g. for tests or an inline
// config passed on the command line.
func LoadYAMLBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	applyDefaults(&cfg)

	if errs := NewValidator(filepath.Base("<config>")).Validate(&cfg); errs.HasErrors() {
		return nil, errs
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.TSM.APDUTimeout == 0 {
		cfg.TSM.APDUTimeout = 3 * time.Second
	}
	if cfg.TSM.APDURetries == 0 {
		cfg.TSM.APDURetries = 3
	}
	if cfg.TSM.SegmentTimeout == 0 {
		cfg.TSM.SegmentTimeout = 2 * time.Second
	}
	if cfg.TSM.SegmentRetries == 0 {
		cfg.TSM.SegmentRetries = 4
	}
	if cfg.TSM.MaxAPDULength == 0 {
		cfg.TSM.MaxAPDULength = 1476
	}
	if cfg.TSM.MaxSegments == 0 {
		cfg.TSM.MaxSegments = 64
	}
	if cfg.BBMD != nil && cfg.BBMD.MaxFDTEntries == 0 {
		cfg.BBMD.MaxFDTEntries = 64
	}
	if cfg.BBMD != nil && cfg.BBMD.GracePeriod == 0 {
		cfg.BBMD.GracePeriod = 30 * time.Second
	}
}

// ValidateHostPort reports whether s parses as a "host:port" pair with
// a valid IPv4 host, the form every BACnet/IP MAC and bind address uses.
func ValidateHostPort(s string) error {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("invalid host:port %q: %w", s, err)
	}
	if net.ParseIP(host).To4() == nil {
		return fmt.Errorf("invalid host:port %q: host is not an IPv4 address", s)
	}
	return nil
}

// IsDisabled reports whether a storage path string means "do not open
// storage".
func (s *Storage) IsDisabled() bool {
	return s == nil || strings.EqualFold(s.Path, "disabled") || s.Path == ""
}
