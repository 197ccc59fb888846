package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rileyhilliard/gpueye/internal/errors"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ValidFormats are the snapshot output formats.
var ValidFormats = map[string]bool{
	FormatTable: true,
	FormatJSON:  true,
	FormatYAML:  true,
}

var validColors = map[string]bool{
	"auto":   true,
	"always": true,
	"never":  true,
}

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig,
			"Config is nil",
			"This is unexpected - try reloading the configuration.")
	}

	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but gpueye only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Grab the latest gpueye release.")
	}

	if cfg.Interval <= 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("'interval' must be positive, got %s", cfg.Interval),
			"Use a duration like 5s or 1m.")
	}
	if cfg.ConnectTimeout <= 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("'connect_timeout' must be positive, got %s", cfg.ConnectTimeout),
			"Use a duration like 10s.")
	}
	if cfg.CommandTimeout <= 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("'command_timeout' must be positive, got %s", cfg.CommandTimeout),
			"Use a duration like 30s.")
	}
	if cfg.Concurrency < 1 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("'concurrency' must be at least 1, got %d", cfg.Concurrency),
			"Set concurrency: 1 to poll hosts one at a time.")
	}

	if cfg.Transport != TransportNative && cfg.Transport != TransportOpenSSH {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown transport '%s'", cfg.Transport),
			"Use 'native' or 'openssh'.")
	}

	if err := validateHosts(cfg.Hosts); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'hosts' section in your .gpueye.yaml.")
	}

	if err := validateOutput(cfg.Output); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'output' section in your .gpueye.yaml.")
	}

	if cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("'metrics.listen' isn't a host:port address: %s", cfg.Metrics.Listen),
				"Use something like :9400 or 127.0.0.1:9400.")
		}
	}

	return nil
}

// validateHosts checks the explicitly configured hosts.
func validateHosts(hosts []HostConfig) error {
	seen := make(map[string]bool, len(hosts))
	for i, h := range hosts {
		name := strings.TrimSpace(h.Name)
		if name == "" && strings.TrimSpace(h.Hostname) == "" {
			return fmt.Errorf("host at position %d needs a 'name' or 'hostname'", i)
		}
		if name == "" {
			name = strings.TrimSpace(h.Hostname)
		}
		if seen[name] {
			return fmt.Errorf("host '%s' is listed more than once", name)
		}
		seen[name] = true

		if h.Port < 0 || h.Port > 65535 {
			return fmt.Errorf("host '%s' has port %d, which isn't between 1 and 65535", name, h.Port)
		}
		if strings.Contains(h.Hostname, "@") {
			return fmt.Errorf("host '%s' has a user in its hostname; put it under 'user' instead", name)
		}
	}
	return nil
}

// validateOutput checks the output settings.
func validateOutput(o OutputConfig) error {
	if o.Format != "" && !ValidFormats[o.Format] {
		return fmt.Errorf("output format '%s' isn't one of table, json, yaml", o.Format)
	}
	if o.Color != "" && !validColors[o.Color] {
		return fmt.Errorf("output color '%s' isn't one of auto, always, never", o.Color)
	}
	return nil
}
