package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/gpueye/internal/config"
	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/logger"
	"github.com/rileyhilliard/gpueye/pkg/sshutil"
)

// Global flags
var (
	cfgFile   string
	colorFlag string
	verbose   bool
)

// errSilent marks a failure that has already been reported to the user.
var errSilent = stderrors.New("silent failure")

var rootCmd = &cobra.Command{
	Use:   "gpueye",
	Short: "Watch GPU telemetry across SSH hosts",
	Long: `gpueye polls nvidia-smi on remote machines over SSH and shows
utilization, memory, temperature and power for every GPU in one place.

Hosts come from .gpueye.yaml and your ssh_config.

Examples:
  gpueye watch
  gpueye watch --hosts dgx-01,dgx-02 --interval 2s
  gpueye watch --once --format json
  gpueye doctor`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			_ = os.Setenv(logger.DebugEnv, "1")
		}
		log := logger.NewEnvLogger("[gpueye]")
		logger.SetDefault(log)
		sshutil.WarningHandler = func(message string) {
			log.Warn("%s", message)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: nearest .gpueye.yaml, then ~/.config/gpueye/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&colorFlag, "color", "", "color output: auto, always, never")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug logs")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !stderrors.Is(err, errSilent) {
			printError(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// printError writes err in the structured terminal format.
func printError(w io.Writer, err error) {
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		fmt.Fprint(w, structured.Error())
		return
	}
	fmt.Fprintf(w, "✗ %s\n", err)
}

// loadConfig finds and loads the config, applies flag overrides in order,
// then validates the result. A missing file yields defaults.
func loadConfig(overrides ...func(*config.Config) error) (*config.Config, string, error) {
	cfg, path, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, "", err
	}
	if colorFlag != "" {
		cfg.Output.Color = strings.ToLower(colorFlag)
	}
	for _, apply := range overrides {
		if err := apply(cfg); err != nil {
			return nil, path, err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// parseDurationFlag parses a duration flag value. Empty means unset.
func parseDurationFlag(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid duration for %s", value, name),
			"Try something like 5s, 2m, or 500ms.")
	}
	return d, nil
}
