package host

import (
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/pkg/sshutil"
)

// idNamespace scopes the name-based UUIDs derived for SSH config hosts, so
// the same alias keeps the same ID across reloads.
var idNamespace = uuid.MustParse("6f1c1f43-2b7e-4d5e-9a57-2c51f6d2a9e1")

// StableID derives a deterministic ID from a host's alias.
func StableID(alias string) string {
	return uuid.NewSHA1(idNamespace, []byte(alias)).String()
}

// FromSSHEntry converts an SSH config entry into a descriptor. Entries
// without HostName use the alias as hostname, like ssh itself does.
func FromSSHEntry(e sshutil.SSHHostEntry) Descriptor {
	d := Descriptor{
		ID:        StableID(e.Alias),
		Name:      e.Alias,
		Hostname:  e.Hostname,
		Port:      DefaultPort,
		User:      e.User,
		ProxyJump: e.ProxyJump,
		Aliases:   append([]string(nil), e.Aliases...),
	}
	if d.Hostname == "" {
		d.Hostname = e.Alias
	}
	if e.Port != "" {
		// Unparseable ports leave Port at 0, which makes the descriptor invalid.
		d.Port, _ = strconv.Atoi(e.Port)
	}
	return d
}

// FromSSHConfig loads descriptors from the given SSH config files. Missing
// files are skipped. Hosts are deduplicated by alias (first file wins) and
// sorted by display name.
func FromSSHConfig(paths ...string) ([]Descriptor, error) {
	if len(paths) == 0 {
		paths = sshutil.DefaultConfigPaths()
	}

	var out []Descriptor
	seen := make(map[string]bool)
	for _, p := range paths {
		entries, err := sshutil.ParseSSHConfigFile(p)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Couldn't parse SSH config "+p,
				"Check the file with: ssh -G <host>")
		}
		for _, e := range entries {
			if seen[e.Alias] {
				continue
			}
			seen[e.Alias] = true
			out = append(out, FromSSHEntry(e))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayName() < out[j].DisplayName()
	})
	return out, nil
}
