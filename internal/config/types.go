package config

import (
	"strings"
	"time"

	"github.com/rileyhilliard/gpueye/internal/host"
)

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Transports understood by the transport setting.
const (
	TransportNative  = "native"
	TransportOpenSSH = "openssh"
)

// SSHConfigDisabled turns off host discovery from ssh_config files.
const SSHConfigDisabled = "none"

// Config represents the complete .gpueye.yaml configuration file.
type Config struct {
	Version int `yaml:"version" mapstructure:"version"`

	// Interval between poll cycles.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`

	// ConnectTimeout bounds SSH session establishment.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// CommandTimeout bounds each host's whole poll, connection included.
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout"`

	// Concurrency caps how many hosts are polled at once.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`

	// Transport is "native" (built-in SSH client) or "openssh" (the ssh binary).
	Transport string `yaml:"transport" mapstructure:"transport"`

	StrictHostKeyChecking bool `yaml:"strict_host_key_checking" mapstructure:"strict_host_key_checking"`

	// SSHConfig is the ssh_config file hosts are discovered from. Empty
	// means ~/.ssh/config then /etc/ssh/ssh_config; "none" disables discovery.
	SSHConfig string `yaml:"ssh_config" mapstructure:"ssh_config"`

	// Hosts are monitored in addition to anything discovered.
	Hosts []HostConfig `yaml:"hosts" mapstructure:"hosts"`

	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
}

// HostConfig is one explicitly configured host.
type HostConfig struct {
	// ID is optional; a stable one is derived from the name when empty.
	ID        string   `yaml:"id,omitempty" mapstructure:"id"`
	Name      string   `yaml:"name" mapstructure:"name"`
	Hostname  string   `yaml:"hostname,omitempty" mapstructure:"hostname"`
	Port      int      `yaml:"port,omitempty" mapstructure:"port"`
	User      string   `yaml:"user,omitempty" mapstructure:"user"`
	ProxyJump string   `yaml:"proxy_jump,omitempty" mapstructure:"proxy_jump"`
	Aliases   []string `yaml:"aliases,omitempty" mapstructure:"aliases"`
}

// Descriptor converts the entry into a host descriptor. Hostname defaults to
// the name and port to 22.
func (h HostConfig) Descriptor() host.Descriptor {
	name := strings.TrimSpace(h.Name)
	hostname := strings.TrimSpace(h.Hostname)
	if hostname == "" {
		hostname = name
	}
	port := h.Port
	if port == 0 {
		port = host.DefaultPort
	}
	id := h.ID
	if id == "" {
		key := name
		if key == "" {
			key = hostname
		}
		id = host.StableID(key)
	}
	return host.Descriptor{
		ID:        id,
		Name:      name,
		Hostname:  hostname,
		Port:      port,
		User:      h.User,
		ProxyJump: h.ProxyJump,
		Aliases:   h.Aliases,
	}
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address to serve /metrics on. Empty disables it.
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// OutputConfig controls terminal output formatting.
type OutputConfig struct {
	// Color mode: "auto", "always", or "never".
	// "auto" disables color when output is piped.
	Color string `yaml:"color" mapstructure:"color"`

	// Format for snapshots: "table", "json" or "yaml".
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:               CurrentConfigVersion,
		Interval:              5 * time.Second,
		ConnectTimeout:        10 * time.Second,
		CommandTimeout:        30 * time.Second,
		Concurrency:           8,
		Transport:             TransportNative,
		StrictHostKeyChecking: true,
		Hosts:                 []HostConfig{},
		Output: OutputConfig{
			Color:  "auto",
			Format: FormatTable,
		},
	}
}

// Descriptors returns descriptors for the explicitly configured hosts.
func (c *Config) Descriptors() []host.Descriptor {
	out := make([]host.Descriptor, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		out = append(out, h.Descriptor())
	}
	return out
}
