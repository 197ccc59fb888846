package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rileyhilliard/gpueye/internal/config"
	"github.com/rileyhilliard/gpueye/internal/doctor"
	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/host"
)

// Host sources shown in listings.
const (
	sourceConfig    = "config"
	sourceSSHConfig = "ssh_config"
)

var (
	hostsProbe        bool
	hostsProbeTimeout string
	hostsFormat       string

	addHostname  string
	addPort      int
	addUser      string
	addProxyJump string
	addAliases   []string
)

var hostsCmd = &cobra.Command{
	Use:     "hosts",
	Aliases: []string{"host"},
	Short:   "List monitored hosts",
	Long: `List every host gpueye would monitor: hosts from .gpueye.yaml first,
then hosts discovered in ssh_config.

Examples:
  gpueye hosts
  gpueye hosts --probe
  gpueye hosts --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostsListCommand(cmd.OutOrStdout(), hostsListOptions{
			Probe:        hostsProbe,
			ProbeTimeout: hostsProbeTimeout,
			Format:       hostsFormat,
		})
	},
}

var hostsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a host to the config file",
	Long: `Add a host to the nearest .gpueye.yaml, keeping existing comments.
A new .gpueye.yaml is created in the current directory when none exists.

Examples:
  gpueye hosts add dgx-01 --hostname 10.0.0.5
  gpueye hosts add trainer --hostname trainer.internal --user ml --proxy-jump bastion`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostsAddCommand(cmd.OutOrStdout(), config.HostConfig{
			Name:      args[0],
			Hostname:  addHostname,
			Port:      addPort,
			User:      addUser,
			ProxyJump: addProxyJump,
			Aliases:   addAliases,
		})
	},
}

func init() {
	hostsCmd.Flags().BoolVar(&hostsProbe, "probe", false, "check each host's SSH port is reachable")
	hostsCmd.Flags().StringVar(&hostsProbeTimeout, "probe-timeout", "", "probe timeout (default 5s)")
	hostsCmd.Flags().StringVar(&hostsFormat, "format", "", "output format: table, json, yaml")

	hostsAddCmd.Flags().StringVar(&addHostname, "hostname", "", "address to connect to (default: the name)")
	hostsAddCmd.Flags().IntVar(&addPort, "port", 0, "SSH port (default 22)")
	hostsAddCmd.Flags().StringVar(&addUser, "user", "", "SSH user")
	hostsAddCmd.Flags().StringVar(&addProxyJump, "proxy-jump", "", "jump host to connect through")
	hostsAddCmd.Flags().StringSliceVar(&addAliases, "alias", nil, "extra names for the host")

	hostsCmd.AddCommand(hostsAddCmd)
	rootCmd.AddCommand(hostsCmd)
}

type hostsListOptions struct {
	Probe        bool
	ProbeTimeout string
	Format       string
}

// hostEntry is one row of the host listing.
type hostEntry struct {
	host.Descriptor `yaml:",inline"`
	Source          string `json:"source" yaml:"source"`
	Valid           bool   `json:"valid" yaml:"valid"`
	Probed          bool   `json:"probed" yaml:"probed"`
	LatencyMS       int64  `json:"latency_ms,omitempty" yaml:"latency_ms,omitempty"`
	ProbeError      string `json:"probe_error,omitempty" yaml:"probe_error,omitempty"`
}

// hostsListCommand prints every discovered host, optionally probing them.
func hostsListCommand(out io.Writer, opts hostsListOptions) error {
	timeout, err := parseDurationFlag("--probe-timeout", opts.ProbeTimeout)
	if err != nil {
		return err
	}
	if timeout == 0 {
		timeout = doctor.DefaultProbeTimeout
	}

	cfg, _, err := loadConfig(func(c *config.Config) error {
		if opts.Format != "" {
			c.Output.Format = strings.ToLower(opts.Format)
		}
		return nil
	})
	if err != nil {
		return err
	}

	all, err := cfg.DiscoverHosts()
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Can't read hosts from ssh_config",
			"Fix the ssh_config file, or set ssh_config: none in .gpueye.yaml")
	}

	entries := buildHostEntries(cfg, all)
	if opts.Probe {
		probeEntries(entries, timeout)
	}

	switch cfg.Output.Format {
	case config.FormatJSON, config.FormatYAML:
		return writeStructured(out, cfg.Output.Format, entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No hosts configured")
		fmt.Fprintln(out, "Add one with: gpueye hosts add <name> --hostname <address>")
		return nil
	}
	return renderHostTable(out, entries, opts.Probe)
}

func buildHostEntries(cfg *config.Config, all []host.Descriptor) []hostEntry {
	configured := make(map[string]bool, len(cfg.Hosts))
	for _, d := range cfg.Descriptors() {
		configured[d.ID] = true
	}

	entries := make([]hostEntry, 0, len(all))
	for _, d := range all {
		source := sourceSSHConfig
		if configured[d.ID] {
			source = sourceConfig
		}
		entries = append(entries, hostEntry{Descriptor: d, Source: source, Valid: d.Valid()})
	}
	return entries
}

// probeEntries probes valid hosts concurrently and records the outcome.
func probeEntries(entries []hostEntry, timeout time.Duration) {
	var targets []host.Descriptor
	var index []int
	for i, e := range entries {
		if e.Valid {
			targets = append(targets, e.Descriptor)
			index = append(index, i)
		}
	}

	for i, result := range host.ProbeAll(targets, timeout) {
		e := &entries[index[i]]
		e.Probed = true
		if result.Error != nil {
			e.ProbeError = result.Error.Error()
			continue
		}
		e.LatencyMS = result.Latency.Milliseconds()
	}
}

func renderHostTable(out io.Writer, entries []hostEntry, probed bool) error {
	table := tablewriter.NewWriter(out)
	table.Header("NAME", "ADDRESS", "USER", "VIA", "SOURCE", "STATUS")

	for _, e := range entries {
		user := e.User
		if user == "" {
			user = "-"
		}
		via := e.ProxyJump
		if via == "" {
			via = "-"
		}
		if err := table.Append([]string{
			e.AllNames(),
			e.Address(),
			user,
			via,
			e.Source,
			hostStatus(e, probed),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func hostStatus(e hostEntry, probed bool) string {
	switch {
	case !e.Valid:
		return "invalid"
	case !probed:
		return "-"
	case e.ProbeError != "":
		return "unreachable"
	case e.ProxyJump != "":
		return "via " + e.ProxyJump
	default:
		return fmt.Sprintf("ok (%dms)", e.LatencyMS)
	}
}

// hostsAddCommand adds h to the nearest config file, creating one in the
// working directory when none exists.
func hostsAddCommand(out io.Writer, h config.HostConfig) error {
	h.Name = strings.TrimSpace(h.Name)
	if d := h.Descriptor(); !d.Valid() {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host '%s' has no usable address", h.Name),
			"Pass --hostname and a --port between 1 and 65535")
	}

	path, err := config.Find(cfgFile)
	if err != nil {
		return err
	}

	if path == "" {
		path = config.ConfigFileName
		cfg := config.DefaultConfig()
		cfg.Hosts = []config.HostConfig{h}
		if err := config.Save(path, cfg); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Can't create "+path,
				"Check you can write to the current directory")
		}
		fmt.Fprintf(out, "Created %s with host %s\n", path, h.Name)
		return nil
	}

	existing, err := config.Load(path)
	if err != nil {
		return err
	}
	for _, c := range existing.Hosts {
		if c.Name == h.Name {
			fmt.Fprintf(out, "Host %s is already in %s\n", h.Name, path)
			return nil
		}
	}

	if err := config.AddHost(path, h); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Can't update "+path,
			"Check the file is valid YAML")
	}
	fmt.Fprintf(out, "Added %s to %s\n", h.Name, path)
	return nil
}
