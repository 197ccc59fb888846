package config

import (
	"github.com/rileyhilliard/gpueye/internal/host"
)

// DiscoverHosts returns the configured hosts followed by every ssh_config
// host whose name isn't already configured.
func (c *Config) DiscoverHosts() ([]host.Descriptor, error) {
	list := c.Descriptors()
	if c.SSHConfig == SSHConfigDisabled {
		return list, nil
	}

	var paths []string
	if c.SSHConfig != "" {
		paths = []string{c.SSHConfig}
	}
	found, err := host.FromSSHConfig(paths...)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(list))
	for _, d := range list {
		seen[d.Name] = true
	}
	for _, d := range found {
		if !seen[d.Name] {
			seen[d.Name] = true
			list = append(list, d)
		}
	}
	return list, nil
}

// SelectHosts keeps the descriptors matching any of names (by ID, name,
// hostname or alias). An empty filter keeps everything. Names that match
// nothing are returned as unknown.
func SelectHosts(list []host.Descriptor, names []string) (selected []host.Descriptor, unknown []string) {
	if len(names) == 0 {
		return list, nil
	}

	picked := make([]bool, len(list))
	for _, name := range names {
		matched := false
		for i, d := range list {
			if d.Matches(name) {
				picked[i] = true
				matched = true
			}
		}
		if !matched {
			unknown = append(unknown, name)
		}
	}
	for i, d := range list {
		if picked[i] {
			selected = append(selected, d)
		}
	}
	return selected, unknown
}
