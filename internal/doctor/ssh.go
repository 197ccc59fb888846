package doctor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/crypto/ssh/agent"

	"github.com/rileyhilliard/gpueye/internal/util"
)

// defaultKeyNames are the private keys ssh tries, in order of preference.
var defaultKeyNames = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

func homeOr(home string) (string, error) {
	if home != "" {
		return home, nil
	}
	return os.UserHomeDir()
}

// SSHKeyCheck verifies an SSH key exists.
type SSHKeyCheck struct {
	Home string // defaults to the user's home directory
}

func (c *SSHKeyCheck) Name() string     { return "ssh_key" }
func (c *SSHKeyCheck) Category() string { return "SSH" }

func (c *SSHKeyCheck) Run() CheckResult {
	home, err := homeOr(c.Home)
	if err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    "Cannot determine home directory",
			Suggestion: "Check HOME environment variable",
		}
	}

	for _, name := range defaultKeyNames {
		if _, err := os.Stat(filepath.Join(home, ".ssh", name+".pub")); err == nil {
			return CheckResult{
				Status:  StatusPass,
				Message: fmt.Sprintf("SSH key found: ~/.ssh/%s.pub", name),
			}
		}
	}

	// An agent can still hold keys without files on disk.
	return CheckResult{
		Status:     StatusWarn,
		Message:    "No SSH key found in ~/.ssh",
		Suggestion: "Generate a key with: ssh-keygen -t ed25519",
	}
}

func (c *SSHKeyCheck) Fix() error { return nil }

// SSHAgentCheck verifies the SSH agent is reachable and holds keys.
type SSHAgentCheck struct{}

func (c *SSHAgentCheck) Name() string     { return "ssh_agent" }
func (c *SSHAgentCheck) Category() string { return "SSH" }

func (c *SSHAgentCheck) Run() CheckResult {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "SSH agent not running",
			Suggestion: "Fix: eval $(ssh-agent) && ssh-add",
		}
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    "SSH agent socket not accessible",
			Suggestion: "Fix: eval $(ssh-agent) && ssh-add",
		}
	}
	defer conn.Close() //nolint:errcheck // Best-effort close, error not actionable

	keys, err := agent.NewClient(conn).List()
	if err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    "Cannot query SSH agent: " + err.Error(),
			Suggestion: "Check SSH agent: ssh-add -l",
		}
	}

	if len(keys) == 0 {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "SSH agent running but no keys loaded",
			Suggestion: "Add a key with: ssh-add",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("SSH agent running with %d %s loaded", len(keys), util.Pluralize(len(keys), "key", "keys")),
	}
}

func (c *SSHAgentCheck) Fix() error { return nil }

// SSHKeyPermissionsCheck verifies SSH key file permissions.
type SSHKeyPermissionsCheck struct {
	Home string
}

func (c *SSHKeyPermissionsCheck) Name() string     { return "ssh_key_permissions" }
func (c *SSHKeyPermissionsCheck) Category() string { return "SSH" }

func (c *SSHKeyPermissionsCheck) keyPaths() []string {
	home, err := homeOr(c.Home)
	if err != nil {
		return nil
	}
	paths := make([]string, 0, len(defaultKeyNames))
	for _, name := range defaultKeyNames {
		paths = append(paths, filepath.Join(home, ".ssh", name))
	}
	return paths
}

func (c *SSHKeyPermissionsCheck) Run() CheckResult {
	var badPerms []string
	var foundKey bool

	for _, keyPath := range c.keyPaths() {
		info, err := os.Stat(keyPath)
		if err != nil {
			continue // Key doesn't exist
		}
		foundKey = true

		// Should be 0600 or 0400
		if info.Mode().Perm()&0077 != 0 {
			badPerms = append(badPerms, filepath.Base(keyPath))
		}
	}

	if !foundKey {
		return CheckResult{
			Status:  StatusPass, // SSH key check will catch this
			Message: "No private keys to check",
		}
	}

	if len(badPerms) > 0 {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "Insecure permissions on: " + util.JoinOrNone(badPerms),
			Suggestion: "Fix: chmod 600 ~/.ssh/<keyfile>, or run 'gpueye doctor --fix'",
			Fixable:    true,
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: "SSH key permissions OK",
	}
}

func (c *SSHKeyPermissionsCheck) Fix() error {
	for _, keyPath := range c.keyPaths() {
		info, err := os.Stat(keyPath)
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0077 != 0 {
			if err := os.Chmod(keyPath, 0600); err != nil {
				return fmt.Errorf("failed to fix permissions on %s: %w", keyPath, err)
			}
		}
	}
	return nil
}

// KnownHostsCheck verifies known_hosts exists when host keys are verified.
type KnownHostsCheck struct {
	Home   string
	Strict bool
}

func (c *KnownHostsCheck) Name() string     { return "known_hosts" }
func (c *KnownHostsCheck) Category() string { return "SSH" }

func (c *KnownHostsCheck) Run() CheckResult {
	if !c.Strict {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "Host key checking is disabled",
			Suggestion: "Set strict_host_key_checking: true once your hosts are in ~/.ssh/known_hosts",
		}
	}

	home, err := homeOr(c.Home)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: "Cannot determine home directory"}
	}
	if _, err := os.Stat(filepath.Join(home, ".ssh", "known_hosts")); err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    "~/.ssh/known_hosts not found, every host key will be rejected",
			Suggestion: "Connect once with: ssh <host>, or run ssh-keyscan <host> >> ~/.ssh/known_hosts",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: "known_hosts present",
	}
}

func (c *KnownHostsCheck) Fix() error { return nil }

// SSHBinaryCheck verifies the ssh client is on PATH for the openssh transport.
type SSHBinaryCheck struct {
	Path string // defaults to "ssh"
}

func (c *SSHBinaryCheck) Name() string     { return "ssh_binary" }
func (c *SSHBinaryCheck) Category() string { return "SSH" }

func (c *SSHBinaryCheck) Run() CheckResult {
	name := c.Path
	if name == "" {
		name = "ssh"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return CheckResult{
			Status:     StatusFail,
			Message:    fmt.Sprintf("'%s' not found on PATH", name),
			Suggestion: "Install OpenSSH, or set transport: native",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: "ssh client: " + path,
	}
}

func (c *SSHBinaryCheck) Fix() error { return nil }

// NewSSHChecks creates all SSH-related checks. The ssh binary is only
// checked when the openssh transport is in use.
func NewSSHChecks(strict, openssh bool) []Check {
	checks := []Check{
		&SSHKeyCheck{},
		&SSHAgentCheck{},
		&SSHKeyPermissionsCheck{},
		&KnownHostsCheck{Strict: strict},
	}
	if openssh {
		checks = append(checks, &SSHBinaryCheck{})
	}
	return checks
}
