package sshutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// SSHHostEntry represents a concrete host entry from an SSH config file.
type SSHHostEntry struct {
	Alias     string   // First concrete pattern of the Host line
	Aliases   []string // Remaining concrete patterns of the same Host line
	Hostname  string   // HostName value, empty when unset
	User      string
	Port      string
	ProxyJump string
}

// DefaultConfigPaths lists the files scanned for hosts, user config first.
func DefaultConfigPaths() []string {
	return []string{
		filepath.Join(homeDir(), ".ssh", "config"),
		"/etc/ssh/ssh_config",
	}
}

// ParseSSHConfigFile parses the SSH config at configPath and returns one
// entry per Host block that has at least one concrete (non-wildcard) pattern.
// A missing file yields no entries and no error.
func ParseSSHConfigFile(configPath string) ([]SSHHostEntry, error) {
	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ParseSSHConfig(content)
}

// ParseSSHConfig parses SSH config content.
func ParseSSHConfig(content []byte) ([]SSHHostEntry, error) {
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	var hosts []SSHHostEntry
	seen := make(map[string]bool)

	for _, host := range cfg.Hosts {
		var names []string
		for _, pattern := range host.Patterns {
			name := pattern.String()
			if strings.ContainsAny(name, "*?!") || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
		if len(names) == 0 {
			continue
		}

		entry := SSHHostEntry{
			Alias:   names[0],
			Aliases: names[1:],
		}
		entry.Hostname, _ = cfg.Get(entry.Alias, "HostName")
		entry.User, _ = cfg.Get(entry.Alias, "User")
		entry.Port, _ = cfg.Get(entry.Alias, "Port")
		entry.ProxyJump, _ = cfg.Get(entry.Alias, "ProxyJump")

		hosts = append(hosts, entry)
	}

	return hosts, nil
}
