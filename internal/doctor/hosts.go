package doctor

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/gpu"
	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/rileyhilliard/gpueye/internal/remote"
	"github.com/rileyhilliard/gpueye/internal/util"
)

// DefaultProbeTimeout bounds the TCP reachability probe.
const DefaultProbeTimeout = 5 * time.Second

// HostConnectivityCheck verifies the host's SSH port accepts connections.
type HostConnectivityCheck struct {
	Host    host.Descriptor
	Timeout time.Duration
	Result  host.ProbeResult // Populated after Run()
}

func (c *HostConnectivityCheck) Name() string     { return "host_" + c.Host.DisplayName() }
func (c *HostConnectivityCheck) Category() string { return "HOSTS" }

func (c *HostConnectivityCheck) Run() CheckResult {
	name := c.Host.DisplayName()
	if !c.Host.Valid() {
		return CheckResult{
			Status:     StatusFail,
			Message:    name + ": not a pollable host",
			Suggestion: "Set a hostname and a port between 1 and 65535",
		}
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}
	c.Result = host.Probe(c.Host, timeout)

	if c.Result.OK() {
		if c.Host.ProxyJump != "" {
			return CheckResult{
				Status:  StatusPass,
				Message: fmt.Sprintf("%s: behind %s, not probed directly", name, c.Host.ProxyJump),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("%s: reachable (%s)", name, c.Result.Latency.Round(time.Millisecond)),
		}
	}

	suggestion := fmt.Sprintf("%s may be offline or firewalled", name)
	var probeErr *host.ProbeError
	if stderrors.As(c.Result.Error, &probeErr) {
		switch probeErr.Reason {
		case host.ProbeFailRefused:
			suggestion = "SSH server may not be running on the host"
		case host.ProbeFailTimeout:
			suggestion = "Host may be offline or blocked by firewall"
		case host.ProbeFailDNS:
			suggestion = "Check hostname spelling and SSH config"
		}
	}

	return CheckResult{
		Status:     StatusFail,
		Message:    fmt.Sprintf("%s: %v", name, c.Result.Error),
		Suggestion: suggestion,
	}
}

func (c *HostConnectivityCheck) Fix() error {
	return nil // Network issues can't be auto-fixed
}

// TelemetryCheck runs the real telemetry query on a host and reports how
// many GPUs answered.
type TelemetryCheck struct {
	Host     host.Descriptor
	Executor remote.Executor
	Timeout  time.Duration
}

func (c *TelemetryCheck) Name() string     { return "telemetry_" + c.Host.DisplayName() }
func (c *TelemetryCheck) Category() string { return "REMOTE" }

func (c *TelemetryCheck) Run() CheckResult {
	name := c.Host.DisplayName()
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := c.Executor.Execute(ctx, gpu.QueryCommand, c.Host)
	if err != nil {
		suggestion := "Check that nvidia-smi is installed and on PATH for non-interactive shells"
		if errors.IsCode(err, errors.ErrExecution) {
			suggestion = "Check your local SSH setup with the SSH checks above"
		}
		return CheckResult{
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s: %s", name, errors.Summary(err)),
			Suggestion: suggestion,
		}
	}

	readings, err := gpu.Parse(out)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s: %s", name, errors.Summary(err)),
		}
	}
	if len(readings) == 0 {
		return CheckResult{
			Status:     StatusWarn,
			Message:    name + ": nvidia-smi answered but reported no GPUs",
			Suggestion: "Check the NVIDIA driver on the host: nvidia-smi -L",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s: %d %s reporting", name, len(readings), util.Pluralize(len(readings), "GPU", "GPUs")),
	}
}

func (c *TelemetryCheck) Fix() error { return nil }

// NewHostsChecks creates a connectivity check per host, plus a telemetry
// check per host when exec is non-nil.
func NewHostsChecks(hosts []host.Descriptor, exec remote.Executor, timeout time.Duration) []Check {
	checks := make([]Check, 0, 2*len(hosts))
	for _, d := range hosts {
		checks = append(checks, &HostConnectivityCheck{Host: d})
		if exec != nil && d.Valid() {
			checks = append(checks, &TelemetryCheck{Host: d, Executor: exec, Timeout: timeout})
		}
	}
	return checks
}
