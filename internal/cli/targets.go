package cli

import (
	"fmt"

	"github.com/rileyhilliard/gpueye/internal/config"
	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/rileyhilliard/gpueye/internal/logger"
	"github.com/rileyhilliard/gpueye/internal/remote"
	"github.com/rileyhilliard/gpueye/internal/util"
	"github.com/rileyhilliard/gpueye/pkg/sshutil"
)

// maxSuggestions caps "did you mean" candidates.
const maxSuggestions = 3

// resolveHosts discovers every host and narrows it to names. Unknown names
// and an empty result are errors.
func resolveHosts(cfg *config.Config, names []string) ([]host.Descriptor, error) {
	all, err := cfg.DiscoverHosts()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Can't read hosts from ssh_config",
			"Fix the ssh_config file, or set ssh_config: none in .gpueye.yaml")
	}

	selected, unknown := config.SelectHosts(all, names)
	if len(unknown) > 0 {
		return nil, unknownHostError(unknown[0], all)
	}
	if len(selected) == 0 {
		return nil, errors.New(errors.ErrConfig,
			"No hosts to monitor",
			"Add one with: gpueye hosts add <name> --hostname <address>")
	}
	return selected, nil
}

// unknownHostError reports a name that matched nothing, suggesting close
// spellings of known names.
func unknownHostError(name string, all []host.Descriptor) *errors.Error {
	var candidates []string
	for _, d := range all {
		candidates = append(candidates, d.Name, d.Hostname)
		candidates = append(candidates, d.Aliases...)
	}

	suggestion := "Run 'gpueye hosts' to see available hosts"
	if similar := util.SuggestSimilar(name, candidates, 3); len(similar) > 0 {
		if len(similar) > maxSuggestions {
			similar = similar[:maxSuggestions]
		}
		suggestion = fmt.Sprintf("Did you mean: %s?", util.JoinOrNone(similar))
	}
	return errors.New(errors.ErrConfig, fmt.Sprintf("Host '%s' not found", name), suggestion)
}

// newExecutor builds the remote executor the config asks for.
func newExecutor(cfg *config.Config, log logger.Logger) remote.Executor {
	sshConfig := cfg.SSHConfig
	if sshConfig == config.SSHConfigDisabled {
		sshConfig = ""
	}

	if cfg.Transport == config.TransportOpenSSH {
		e := remote.NewOpenSSHExecutor(cfg.ConnectTimeout, cfg.StrictHostKeyChecking)
		e.ConfigPath = sshConfig
		e.Log = log
		return e
	}

	return remote.NewSSHExecutor(sshutil.Options{
		Timeout:               cfg.ConnectTimeout,
		StrictHostKeyChecking: cfg.StrictHostKeyChecking,
		ConfigPath:            sshConfig,
	}, remote.WithLogger(log))
}
