package sshutil

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/logger"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is used when neither the endpoint nor ~/.ssh/config set one.
const DefaultPort = 22

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Host    string // The original host/alias used to connect
	Address string // The resolved address (host:port)

	jump *ssh.Client // relay connection when dialed through ProxyJump
}

// Endpoint describes where to connect. Zero values fall back to
// ~/.ssh/config and then to defaults.
type Endpoint struct {
	// Alias is looked up in ~/.ssh/config. Defaults to Hostname.
	Alias     string
	Hostname  string
	Port      int
	User      string
	ProxyJump string
}

// Options control how connections are established.
type Options struct {
	// Timeout bounds the TCP dial and the SSH handshake.
	Timeout time.Duration

	// StrictHostKeyChecking verifies host keys against KnownHostsPath.
	// When false, host key verification is skipped.
	StrictHostKeyChecking bool

	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string

	// ConfigPath defaults to ~/.ssh/config.
	ConfigPath string
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Timeout:               10 * time.Second,
		StrictHostKeyChecking: true,
	}
}

// Dial establishes an SSH connection to an alias or hostname.
// The host can be an SSH config alias, hostname, user@hostname, or hostname:port.
func Dial(host string, timeout time.Duration) (*Client, error) {
	opts := DefaultOptions()
	opts.Timeout = timeout
	return DialEndpoint(parseHostString(host), opts)
}

// DialEndpoint establishes an SSH connection to ep, hopping through
// ep.ProxyJump when set.
func DialEndpoint(ep Endpoint, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	settings := resolveSettings(ep, opts.ConfigPath)
	name := settings.alias

	config, err := buildSSHConfig(settings, opts)
	if err != nil {
		var gErr *errors.Error
		if stderrors.As(err, &gErr) {
			return nil, err
		}
		return nil, errors.WrapWithCode(err, errors.ErrExecution,
			fmt.Sprintf("Couldn't set up SSH for '%s'", name),
			"Check your keys are loaded: ssh-add -l")
	}

	address := settings.address()

	var jump *ssh.Client
	var conn net.Conn
	if settings.proxyJump != "" {
		relay, err := DialEndpoint(parseHostString(settings.proxyJump), opts)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Can't reach jump host '%s' for '%s'", settings.proxyJump, name),
				"Check the relay works on its own: ssh "+settings.proxyJump)
		}
		jump = relay.Client
		conn, err = dialThrough(jump, address, opts.Timeout)
		if err != nil {
			jump.Close()
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Jump host '%s' can't reach %s", settings.proxyJump, address),
				suggestionForDialError(err))
		}
	} else {
		conn, err = net.DialTimeout("tcp", address, opts.Timeout)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Can't reach '%s' at %s", name, address),
				suggestionForDialError(err))
		}
	}

	// The handshake shares the dial budget.
	_ = conn.SetDeadline(time.Now().Add(opts.Timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		if jump != nil {
			jump.Close()
		}

		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, errors.New(errors.ErrSSH, hostKeyErr.Error(), hostKeyErr.Suggestion())
		}
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("SSH handshake with '%s' didn't go through", name),
			suggestionForHandshakeError(err, settings.encryptedKeys))
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    name,
		Address: address,
		jump:    jump,
	}, nil
}

// dialThrough opens a TCP channel to address from the relay, bounded by timeout.
func dialThrough(relay *ssh.Client, address string, timeout time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := relay.Dial("tcp", address)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-time.After(timeout):
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("dial %s via jump host: i/o timeout", address)
	}
}

// Close closes the SSH connection and any relay connection under it.
func (c *Client) Close() error {
	var err error
	if c.Client != nil {
		err = c.Client.Close()
	}
	if c.jump != nil {
		_ = c.jump.Close()
	}
	return err
}

// GetHost returns the original host/alias used to connect.
func (c *Client) GetHost() string {
	return c.Host
}

// GetAddress returns the resolved host:port address.
func (c *Client) GetAddress() string {
	return c.Address
}

// NewSession creates a new SSH session, satisfying SSHClient for liveness checks.
func (c *Client) NewSession() (Session, error) {
	return c.Client.NewSession()
}

func (c *Client) newSSHSession() (*ssh.Session, error) {
	return c.Client.NewSession()
}

// sshSettings holds resolved SSH connection parameters.
type sshSettings struct {
	alias         string
	hostname      string
	port          string
	user          string
	proxyJump     string
	identityFile  string
	encryptedKeys []string
}

func (s *sshSettings) address() string {
	return net.JoinHostPort(s.hostname, s.port)
}

// parseHostString splits user@host:port into an Endpoint.
func parseHostString(host string) Endpoint {
	var ep Endpoint
	if atIdx := strings.Index(host, "@"); atIdx != -1 {
		ep.User = host[:atIdx]
		host = host[atIdx+1:]
	}
	if colonIdx := strings.LastIndex(host, ":"); colonIdx != -1 {
		if port, err := strconv.Atoi(host[colonIdx+1:]); err == nil {
			ep.Port = port
			host = host[:colonIdx]
		}
	}
	ep.Alias = host
	ep.Hostname = host
	return ep
}

// resolveSettings merges the endpoint with ~/.ssh/config. Explicit endpoint
// fields win over config values.
func resolveSettings(ep Endpoint, configPath string) *sshSettings {
	alias := ep.Alias
	if alias == "" {
		alias = ep.Hostname
	}
	s := &sshSettings{
		alias:     alias,
		hostname:  ep.Hostname,
		port:      strconv.Itoa(DefaultPort),
		user:      currentUser(),
		proxyJump: ep.ProxyJump,
	}

	if configPath == "" {
		configPath = filepath.Join(homeDir(), ".ssh", "config")
	}
	if cfg := loadSSHConfig(configPath); cfg != nil {
		if v, _ := cfg.Get(alias, "HostName"); v != "" && (ep.Hostname == "" || ep.Hostname == alias) {
			s.hostname = v
		}
		if v, _ := cfg.Get(alias, "Port"); v != "" {
			s.port = v
		}
		if v, _ := cfg.Get(alias, "User"); v != "" {
			s.user = v
		}
		if v, _ := cfg.Get(alias, "ProxyJump"); v != "" && s.proxyJump == "" {
			s.proxyJump = v
		}
		if v, _ := cfg.Get(alias, "IdentityFile"); v != "" {
			s.identityFile = expandPath(v)
		}
	}

	if s.hostname == "" {
		s.hostname = alias
	}
	if ep.Port > 0 {
		s.port = strconv.Itoa(ep.Port)
	}
	if ep.User != "" {
		s.user = ep.User
	}
	if s.proxyJump == "none" {
		s.proxyJump = ""
	}
	return s
}

var matchWarningOnce sync.Once

// WarningHandler receives non-fatal warnings. When nil they go to the
// default logger.
var WarningHandler func(message string)

func emitWarning(message string) {
	if WarningHandler != nil {
		WarningHandler(message)
		return
	}
	logger.Default().Warn("%s", message)
}

// loadSSHConfig decodes the config at path, skipping everything from the
// first Match block on since the decoder doesn't support Match.
func loadSSHConfig(path string) *ssh_config.Config {
	content, matchLine, err := preprocessSSHConfig(path)
	if err != nil {
		return nil
	}
	if matchLine > 0 {
		matchWarningOnce.Do(func() {
			emitWarning(fmt.Sprintf("%s has a Match block at line %d; hosts defined after it are ignored", path, matchLine))
		})
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil
	}
	return cfg
}

// buildSSHConfig creates an SSH client config with authentication methods.
// It also records keys that exist but are passphrase protected.
func buildSSHConfig(settings *sshSettings, opts Options) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	tryKeyFile := func(keyPath string) {
		keyAuth, err := keyFileAuth(keyPath)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				settings.encryptedKeys = append(settings.encryptedKeys, keyPath)
			}
			return
		}
		authMethods = append(authMethods, keyAuth)
	}

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	if settings.identityFile != "" {
		tryKeyFile(settings.identityFile)
	}
	for _, keyPath := range defaultKeyFiles() {
		if keyPath == settings.identityFile {
			continue
		}
		tryKeyFile(keyPath)
	}

	if len(authMethods) == 0 {
		msg := "No SSH auth methods available"
		if len(settings.encryptedKeys) > 0 {
			msg = fmt.Sprintf("Found SSH key(s) but they're encrypted: %s", strings.Join(settings.encryptedKeys, ", "))
		}
		return nil, errors.New(errors.ErrExecution, msg, "Load a key into your agent: ssh-add <key>")
	}

	var hostKeyCallback ssh.HostKeyCallback
	if opts.StrictHostKeyChecking {
		path := opts.KnownHostsPath
		if path == "" {
			path = filepath.Join(homeDir(), ".ssh", "known_hosts")
		}
		var err error
		hostKeyCallback, err = createHostKeyCallback(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // disabled explicitly via strict_host_key_checking
	}

	return &ssh.ClientConfig{
		User:            settings.user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}, nil
}

var (
	agentClient   agent.ExtendedAgent
	agentConn     net.Conn
	agentConnOnce sync.Once
)

// sshAgentAuth returns an auth method backed by the SSH agent, or nil when
// there is no agent or it holds no keys.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})
	if agentClient == nil {
		return nil
	}

	// An empty agent causes auth failures when placed before other methods.
	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}
	return ssh.PublicKeysCallback(agentClient.Signers)
}

// CloseAgent closes the shared SSH agent connection, if any.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

func keyFileAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) || bytes.Contains(key, []byte("ENCRYPTED")) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

func defaultKeyFiles() []string {
	return []string{
		filepath.Join(homeDir(), ".ssh", "id_ed25519"),
		filepath.Join(homeDir(), ".ssh", "id_rsa"),
		filepath.Join(homeDir(), ".ssh", "id_ecdsa"),
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return "Is SSH running on that box? Try: ssh <host>"
	case strings.Contains(errStr, "no route to host"), strings.Contains(errStr, "network is unreachable"):
		return "Can't route to the host. Check your network connection."
	case strings.Contains(errStr, "timeout"):
		return "Connection timed out. Host might be offline or blocked by a firewall."
	}
	return "Make sure the host is reachable: ping <host>"
}

func suggestionForHandshakeError(err error, encryptedKeys []string) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		if len(encryptedKeys) > 0 {
			return "Your key(s) are encrypted. Add them to the agent: ssh-add " + strings.Join(encryptedKeys, " ")
		}
		return "Auth failed. Check your keys are loaded: ssh-add -l"
	}
	if strings.Contains(errStr, "host key") {
		return "Host key issue. Try connecting manually first: ssh <host>"
	}
	return "Something went wrong during SSH setup. Try: ssh <host>"
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return fmt.Sprintf("The server's host key doesn't match %s.\n  Remove the old entry: ssh-keygen -R %s", e.KnownHosts, host)
}

// preprocessSSHConfig reads the SSH config and returns content up to the
// first Match directive, plus the 1-indexed line of that directive (0 if none).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "match ") {
			return []byte(strings.Join(lines[:i], "\n")), i + 1, nil
		}
	}
	return content, 0, nil
}

// createHostKeyCallback wraps the knownhosts callback to report mismatches
// as HostKeyMismatchError.
func createHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create .ssh directory: %w", err)
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0600); err != nil {
			return nil, fmt.Errorf("failed to create known_hosts: %w", err)
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if err != nil && stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
			return &HostKeyMismatchError{
				Hostname:     hostname,
				ReceivedType: key.Type(),
				KnownHosts:   knownHostsPath,
				Want:         keyErr.Want,
			}
		}
		return err
	}, nil
}
