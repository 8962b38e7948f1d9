// Package config manages the netsim daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete netsimd configuration.
type Config struct {
	GRPC     GRPCConfig     `koanf:"grpc"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Topology TopologyConfig `koanf:"topology"`
}

// GRPCConfig holds the control-plane (Connect/health) server configuration.
type GRPCConfig struct {
	// Addr is the control server listen address (e.g., ":50051").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// TopologyConfig declaratively describes the machines, hubs, and NATs that
// cmd/netsimd wires together at startup (spec.md has no config surface of
// its own — the original is a library, not a daemon — so this section is a
// supplement, not a restatement).
type TopologyConfig struct {
	Machines []MachineConfig `koanf:"machines"`
	Hubs     []HubConfig     `koanf:"hubs"`
	NATs     []NATConfig     `koanf:"nats"`
}

// MachineConfig describes one simulated host: a namespace plus one or more
// TUN interfaces, each optionally wired to a hub or NAT by name.
type MachineConfig struct {
	Name       string        `koanf:"name"`
	Interfaces []IfaceConfig `koanf:"interfaces"`
}

// IfaceConfig describes a single TUN interface on a machine.
type IfaceConfig struct {
	Name          string `koanf:"name"`
	IPv4          string `koanf:"ipv4"`
	IPv4PrefixLen int    `koanf:"ipv4_prefix_len"`
	IPv6          string `koanf:"ipv6"`
	IPv6PrefixLen int    `koanf:"ipv6_prefix_len"`
	DefaultRoute  bool   `koanf:"default_route"`
	// AttachTo names a hub or NAT (by its Name field below) that this
	// interface is inserted into / connected to.
	AttachTo string `koanf:"attach_to"`
}

// IPv4Addr parses IPv4 as a netip.Addr, returning the zero value if unset.
func (c IfaceConfig) IPv4Addr() (netip.Addr, error) {
	if c.IPv4 == "" {
		return netip.Addr{}, nil
	}
	addr, err := netip.ParseAddr(c.IPv4)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse iface ipv4 %q: %w", c.IPv4, err)
	}
	return addr, nil
}

// IPv6Addr parses IPv6 as a netip.Addr, returning the zero value if unset.
func (c IfaceConfig) IPv6Addr() (netip.Addr, error) {
	if c.IPv6 == "" {
		return netip.Addr{}, nil
	}
	addr, err := netip.ParseAddr(c.IPv6)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse iface ipv6 %q: %w", c.IPv6, err)
	}
	return addr, nil
}

// HubConfig names a hub that zero or more interfaces attach to.
type HubConfig struct {
	Name string `koanf:"name"`
}

// NATConfig describes a NAT's external address, internal network, and
// policy flags (spec §4.7's Builder surface, restated declaratively).
type NATConfig struct {
	Name                        string `koanf:"name"`
	ExternalIPv4                string `koanf:"external_ipv4"`
	InternalIPv4Network         string `koanf:"internal_ipv4_network"`
	HairPinning                 bool   `koanf:"hair_pinning"`
	AddressRestricted           bool   `koanf:"address_restricted"`
	PortRestricted              bool   `koanf:"port_restricted"`
	ReplyWithRSTToUnexpectedTCP bool   `koanf:"reply_with_rst_to_unexpected_tcp"`
	// AttachTo names the hub this NAT's external interface attaches to, if
	// any; empty means the NAT's external side stands alone (e.g. as the
	// topology's internet-facing edge).
	AttachTo string `koanf:"attach_to"`
}

// ExternalAddr parses ExternalIPv4 as a netip.Addr.
func (c NATConfig) ExternalAddr() (netip.Addr, error) {
	addr, err := netip.ParseAddr(c.ExternalIPv4)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse nat external_ipv4 %q: %w", c.ExternalIPv4, err)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GRPC: GRPCConfig{
			Addr: ":50051",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for netsim configuration.
// Variables are named NETSIM_<section>_<key>, e.g., NETSIM_GRPC_ADDR.
const envPrefix = "NETSIM_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (NETSIM_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	NETSIM_GRPC_ADDR     -> grpc.addr
//	NETSIM_METRICS_ADDR  -> metrics.addr
//	NETSIM_METRICS_PATH  -> metrics.path
//	NETSIM_LOG_LEVEL     -> log.level
//	NETSIM_LOG_FORMAT    -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms NETSIM_GRPC_ADDR -> grpc.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"grpc.addr":    defaults.GRPC.Addr,
		"metrics.addr": defaults.Metrics.Addr,
		"metrics.path": defaults.Metrics.Path,
		"log.level":    defaults.Log.Level,
		"log.format":   defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyGRPCAddr indicates the control server listen address is empty.
	ErrEmptyGRPCAddr = errors.New("grpc.addr must not be empty")

	// ErrDuplicateName indicates two topology entries share a name.
	ErrDuplicateName = errors.New("duplicate topology entry name")

	// ErrUnknownAttachTarget indicates an attach_to target that is not
	// declared: a NAT's must name a hub, an interface's a hub or a NAT.
	ErrUnknownAttachTarget = errors.New("attach_to names an undeclared target")

	// ErrInvalidNATNetwork indicates a NAT's internal network CIDR is
	// malformed.
	ErrInvalidNATNetwork = errors.New("nat internal_ipv4_network is invalid")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.GRPC.Addr == "" {
		return ErrEmptyGRPCAddr
	}

	if err := validateTopology(cfg.Topology); err != nil {
		return err
	}

	return nil
}

func validateTopology(t TopologyConfig) error {
	hubNames := make(map[string]struct{}, len(t.Hubs))
	seen := make(map[string]struct{})

	for _, h := range t.Hubs {
		if _, dup := seen[h.Name]; dup {
			return fmt.Errorf("hub %q: %w", h.Name, ErrDuplicateName)
		}
		seen[h.Name] = struct{}{}
		hubNames[h.Name] = struct{}{}
	}

	for _, n := range t.NATs {
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("nat %q: %w", n.Name, ErrDuplicateName)
		}
		seen[n.Name] = struct{}{}

		if _, err := netip.ParsePrefix(n.InternalIPv4Network); err != nil {
			return fmt.Errorf("nat %q: %w: %w", n.Name, ErrInvalidNATNetwork, err)
		}
		if n.AttachTo != "" {
			if _, ok := hubNames[n.AttachTo]; !ok {
				return fmt.Errorf("nat %q attach_to %q: %w", n.Name, n.AttachTo, ErrUnknownAttachTarget)
			}
		}
	}

	for _, m := range t.Machines {
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("machine %q: %w", m.Name, ErrDuplicateName)
		}
		seen[m.Name] = struct{}{}

		for _, i := range m.Interfaces {
			if i.AttachTo == "" {
				continue
			}
			if _, ok := hubNames[i.AttachTo]; ok {
				continue
			}
			natFound := false
			for _, n := range t.NATs {
				if n.Name == i.AttachTo {
					natFound = true
					break
				}
			}
			if !natFound {
				return fmt.Errorf("machine %q interface %q attach_to %q: %w", m.Name, i.Name, i.AttachTo, ErrUnknownAttachTarget)
			}
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
