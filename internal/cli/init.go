package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/gpueye/internal/config"
	"github.com/rileyhilliard/gpueye/internal/errors"
)

var (
	initGlobal bool
	initForce  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a .gpueye.yaml config file",
	Long: `Write a config file with default settings and an empty host list.

Examples:
  gpueye init
  gpueye init --global
  gpueye init --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand(cmd.OutOrStdout(), initGlobal, initForce)
	},
}

func init() {
	initCmd.Flags().BoolVar(&initGlobal, "global", false, "write ~/.config/gpueye/config.yaml instead")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

// initCommand writes the default config to the project or global path.
func initCommand(out io.Writer, global, force bool) error {
	path := config.ConfigFileName
	if global {
		path = config.GlobalConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !force {
		return errors.New(errors.ErrConfig,
			path+" already exists",
			"Use --force to overwrite it")
	}

	if err := config.Save(path, config.DefaultConfig()); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Can't write "+path,
			"Check you can write to that directory")
	}

	fmt.Fprintf(out, "Created %s\n\n", path)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  gpueye hosts add <name> --hostname <address>")
	fmt.Fprintln(out, "  gpueye doctor")
	fmt.Fprintln(out, "  gpueye watch")
	return nil
}
