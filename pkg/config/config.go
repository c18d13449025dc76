// Package config loads the daemon's YAML configuration file (§6 of the
// specification) and applies the documented defaults, the way the
// teacher's cmd/warren/apply.go loads declarative manifests with
// gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every value the specification enumerates as configuration.
type Config struct {
	IfacePrefix       string   `yaml:"iface_prefix"`
	ServerPortStart   int      `yaml:"server_port_start"`
	AllowedAddresses  []string `yaml:"allowed_vpn_addresses"`
	ExcludedAddresses []string `yaml:"excluded_vpn_addresses"`
	ReservedAddresses []string `yaml:"reserved_vpn_addresses"`
	RemoteAddress     string   `yaml:"vpn_server_remote_address"`
	SourceCIDRs       []string `yaml:"source_cidrs"`

	DataDir             string `yaml:"data_dir"`
	OpenVPNDir          string `yaml:"openvpn_dir"`
	RTTablesPath        string `yaml:"rt_tables_path"`
	ListenAddr          string `yaml:"listen_addr"`
	RetentionTTLSeconds int    `yaml:"retention_ttl_seconds"`
}

// Default returns the configuration described by §6 before the YAML file
// is applied; there are no environment-variable overrides.
func Default() *Config {
	return &Config{
		IfacePrefix:         "vpn-proxy-tun",
		ServerPortStart:     1195,
		AllowedAddresses:    []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
		ExcludedAddresses:   nil,
		ReservedAddresses:   nil,
		RemoteAddress:       "",
		SourceCIDRs:         []string{"0.0.0.0/0"},
		DataDir:             "/var/lib/vpn-proxy",
		OpenVPNDir:          "/etc/openvpn",
		RTTablesPath:        "/etc/iproute2/rt_tables",
		ListenAddr:          ":8080",
		RetentionTTLSeconds: 86400,
	}
}

// Load reads a YAML file at path, merging its values onto Default(). An
// empty path is not an error: the caller runs on defaults alone (suitable
// for tests and for the common single-tenant deployment).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every CIDR the config names actually parses, since
// the allocator trusts these values without re-validating them per call.
func (c *Config) Validate() error {
	for _, group := range [][]string{c.AllowedAddresses, c.ExcludedAddresses, c.ReservedAddresses, c.SourceCIDRs} {
		for _, cidr := range group {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("invalid CIDR %q: %w", cidr, err)
			}
		}
	}
	if c.ServerPortStart <= 0 || c.ServerPortStart > 65535 {
		return fmt.Errorf("server_port_start %d out of range", c.ServerPortStart)
	}
	if c.IfacePrefix == "" {
		return fmt.Errorf("iface_prefix must not be empty")
	}
	return nil
}
