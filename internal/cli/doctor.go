package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/gpueye/internal/config"
	"github.com/rileyhilliard/gpueye/internal/doctor"
	"github.com/rileyhilliard/gpueye/internal/logger"
	"github.com/rileyhilliard/gpueye/internal/remote"
	"github.com/rileyhilliard/gpueye/internal/ui"
)

var (
	doctorFix      bool
	doctorFormat   string
	doctorNoRemote bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose config, SSH and host problems",
	Long: `Run checks on the config file, local SSH setup and every host,
including a real nvidia-smi query per host.

Examples:
  gpueye doctor
  gpueye doctor --fix
  gpueye doctor --no-remote
  gpueye doctor --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		err := doctorCommand(out, doctorOptions{
			Fix:      doctorFix,
			Format:   doctorFormat,
			NoRemote: doctorNoRemote,
		})
		return reportJSONError(out, doctorFormat, err)
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "attempt automatic fixes where possible")
	doctorCmd.Flags().StringVar(&doctorFormat, "format", "", "output format: table, json, yaml")
	doctorCmd.Flags().BoolVar(&doctorNoRemote, "no-remote", false, "skip the nvidia-smi query on each host")
	rootCmd.AddCommand(doctorCmd)
}

type doctorOptions struct {
	Fix      bool
	Format   string
	NoRemote bool

	// Executor replaces the configured SSH transport.
	Executor remote.Executor
}

// DoctorOutput is the structured form of a doctor run.
type DoctorOutput struct {
	Results []doctor.CheckResult `json:"results" yaml:"results"`
	Summary SummaryOutput        `json:"summary" yaml:"summary"`
}

// SummaryOutput summarizes the check results.
type SummaryOutput struct {
	Pass     int  `json:"pass" yaml:"pass"`
	Warn     int  `json:"warn" yaml:"warn"`
	Fail     int  `json:"fail" yaml:"fail"`
	Fixable  int  `json:"fixable" yaml:"fixable"`
	Fixed    int  `json:"fixed,omitempty" yaml:"fixed,omitempty"`
	AllClear bool `json:"all_clear" yaml:"all_clear"`
}

// doctorCommand runs every check and reports. Failing checks make it return
// errSilent once the report is written.
func doctorCommand(out io.Writer, opts doctorOptions) error {
	// A broken config is itself a finding, so fall back to defaults.
	cfg, path, err := config.LoadOrDefault(cfgFile)
	if err != nil || cfg == nil {
		cfg = config.DefaultConfig()
	}
	if path == "" {
		path = cfgFile
	}

	format := strings.ToLower(opts.Format)
	if format == "" {
		format = cfg.Output.Format
	}
	if !config.ValidFormats[format] {
		format = config.FormatTable
	}

	hosts, _ := cfg.DiscoverHosts()

	exec := opts.Executor
	if exec == nil && !opts.NoRemote {
		exec = newExecutor(cfg, logger.Noop())
		if c, ok := exec.(io.Closer); ok {
			defer c.Close()
		}
	}
	if opts.NoRemote {
		exec = nil
	}

	var checks []doctor.Check
	checks = append(checks, doctor.NewConfigChecks(path, hosts)...)
	checks = append(checks, doctor.NewSSHChecks(cfg.StrictHostKeyChecking, cfg.Transport == config.TransportOpenSSH)...)
	checks = append(checks, doctor.NewHostsChecks(hosts, exec, cfg.CommandTimeout)...)

	results := doctor.RunAllParallel(checks)

	fixed := 0
	if opts.Fix && doctor.FixableCount(results) > 0 {
		var fixErr error
		fixed, fixErr = doctor.FixAll(checks, results)
		if format == config.FormatTable {
			fmt.Fprintf(out, "Fixed %d issue(s)\n", fixed)
			if fixErr != nil {
				printError(out, fixErr)
			}
			fmt.Fprintln(out)
		}
		results = doctor.RunAllParallel(checks)
	}

	if format == config.FormatTable {
		fmt.Fprint(out, ui.RenderChecks(results))
	} else {
		counts := doctor.CountByStatus(results)
		report := DoctorOutput{
			Results: results,
			Summary: SummaryOutput{
				Pass:     counts[doctor.StatusPass],
				Warn:     counts[doctor.StatusWarn],
				Fail:     counts[doctor.StatusFail],
				Fixable:  doctor.FixableCount(results),
				Fixed:    fixed,
				AllClear: !doctor.HasFailures(results) && counts[doctor.StatusWarn] == 0,
			},
		}
		if err := writeStructured(out, format, report); err != nil {
			return err
		}
	}

	if doctor.HasFailures(results) {
		return errSilent
	}
	return nil
}
