package testing

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/rileyhilliard/gpueye/pkg/sshutil"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error

	// Delay holds the response back, honoring context cancellation.
	Delay time.Duration
}

// MockClient simulates an SSH connection for testing.
// Commands are answered from registered responses; unknown commands exit 127.
type MockClient struct {
	mu         sync.Mutex
	host       string
	address    string
	closed     bool
	done       chan struct{}
	sessionErr error
	hold       <-chan struct{}
	commands   map[string]CommandResponse // pattern -> response
	calls      []string
}

var _ sshutil.SSHClient = (*MockClient)(nil)

// NewMockClient creates a new mock SSH client.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:     host,
		address:  host + ":22",
		done:     make(chan struct{}),
		commands: make(map[string]CommandResponse),
	}
}

// ExecContext answers cmd from the registered responses.
func (m *MockClient) ExecContext(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, -1, errors.New("connection closed")
	}
	m.calls = append(m.calls, cmd)
	resp, ok := m.lookup(cmd)
	m.mu.Unlock()

	if !ok {
		return nil, []byte("sh: command not found\n"), 127, nil
	}

	if resp.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, nil, -1, ctx.Err()
		case <-time.After(resp.Delay):
		}
	}

	return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
}

// lookup checks exact matches first, then regex patterns. Caller holds mu.
func (m *MockClient) lookup(cmd string) (CommandResponse, bool) {
	if resp, ok := m.commands[cmd]; ok {
		return resp, true
	}
	for pattern, resp := range m.commands {
		if matched, _ := regexp.MatchString(pattern, cmd); matched {
			return resp, true
		}
	}
	return CommandResponse{}, false
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}

// SetCommandResponse registers a canned response for a command pattern.
// The pattern can be an exact string or a regex pattern.
func (m *MockClient) SetCommandResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[pattern] = resp
}

// SetSessionError makes NewSession fail, simulating a dead connection.
func (m *MockClient) SetSessionError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionErr = err
}

// HoldSessions makes NewSession block until release is closed or the client
// is closed, simulating a peer that vanished without resetting the TCP link.
func (m *MockClient) HoldSessions(release <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = release
}

// Calls returns the commands executed so far.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

type mockSession struct{}

func (s *mockSession) Close() error { return nil }

// NewSession returns a no-op session unless the client is closed or a
// session error was configured. Held sessions wait first.
func (m *MockClient) NewSession() (sshutil.Session, error) {
	m.mu.Lock()
	hold := m.hold
	m.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-m.done:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("connection closed")
	}
	if m.sessionErr != nil {
		return nil, m.sessionErr
	}
	return &mockSession{}, nil
}
