package doctor

import (
	stderrors "errors"
	"fmt"

	"github.com/rileyhilliard/gpueye/internal/config"
	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/rileyhilliard/gpueye/internal/util"
)

// ConfigFileCheck reports which config file is in effect. Running without
// one is allowed, so a missing file only warns.
type ConfigFileCheck struct {
	ConfigPath string // Explicit path, or empty to search
}

func (c *ConfigFileCheck) Name() string     { return "config_file" }
func (c *ConfigFileCheck) Category() string { return "CONFIG" }

func (c *ConfigFileCheck) Run() CheckResult {
	path, err := config.Find(c.ConfigPath)
	if err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    errors.Summary(err),
			Suggestion: "Check the --config path, or run 'gpueye init' to create a config",
		}
	}

	if path == "" {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "No config file found, using defaults and ~/.ssh/config",
			Suggestion: "Run 'gpueye init' to create a .gpueye.yaml config file",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: "Config file: " + path,
	}
}

func (c *ConfigFileCheck) Fix() error { return nil }

// ConfigSchemaCheck loads and validates the config in effect.
type ConfigSchemaCheck struct {
	ConfigPath string
}

func (c *ConfigSchemaCheck) Name() string     { return "config_schema" }
func (c *ConfigSchemaCheck) Category() string { return "CONFIG" }

func (c *ConfigSchemaCheck) Run() CheckResult {
	cfg, _, err := config.LoadOrDefault(c.ConfigPath)
	if err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    "Failed to load config: " + errors.Summary(err),
			Suggestion: "Check the YAML syntax in your config file",
		}
	}

	if err := config.Validate(cfg); err != nil {
		var suggestion string
		var gErr *errors.Error
		if stderrors.As(err, &gErr) {
			suggestion = gErr.Suggestion
		}
		return CheckResult{
			Status:     StatusFail,
			Message:    "Schema error: " + errors.Summary(err),
			Suggestion: suggestion,
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: "Schema valid",
	}
}

func (c *ConfigSchemaCheck) Fix() error { return nil }

// HostListCheck verifies there is at least one host to monitor and that
// every discovered host can be scheduled.
type HostListCheck struct {
	Hosts []host.Descriptor
}

func (c *HostListCheck) Name() string     { return "config_hosts" }
func (c *HostListCheck) Category() string { return "CONFIG" }

func (c *HostListCheck) Run() CheckResult {
	if len(c.Hosts) == 0 {
		return CheckResult{
			Status:     StatusFail,
			Message:    "No hosts to monitor",
			Suggestion: "Add hosts with 'gpueye hosts add <name>' or define them in ~/.ssh/config",
		}
	}

	var invalid []string
	for _, d := range c.Hosts {
		if !d.Valid() {
			invalid = append(invalid, d.DisplayName())
		}
	}
	valid := len(c.Hosts) - len(invalid)

	if len(invalid) > 0 {
		return CheckResult{
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%d of %d hosts can't be polled: %s", len(invalid), len(c.Hosts), util.JoinOrNone(invalid)),
			Suggestion: "Each host needs a hostname and a port between 1 and 65535",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d %s to monitor", valid, util.Pluralize(valid, "host", "hosts")),
	}
}

func (c *HostListCheck) Fix() error { return nil }

// NewConfigChecks creates the config-related checks.
func NewConfigChecks(configPath string, hosts []host.Descriptor) []Check {
	return []Check{
		&ConfigFileCheck{ConfigPath: configPath},
		&ConfigSchemaCheck{ConfigPath: configPath},
		&HostListCheck{Hosts: hosts},
	}
}
