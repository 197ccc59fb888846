package remote

import (
	"context"
	"fmt"

	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/rileyhilliard/gpueye/internal/logger"
	"github.com/rileyhilliard/gpueye/pkg/sshutil"
)

// SSHExecutor runs commands over native SSH connections kept in a Pool.
type SSHExecutor struct {
	pool *Pool
	log  logger.Logger
}

var _ Retainer = (*SSHExecutor)(nil)

// SSHOption configures an SSHExecutor.
type SSHOption func(*SSHExecutor)

// WithDialer replaces the function used to open connections.
func WithDialer(dial Dialer) SSHOption {
	return func(e *SSHExecutor) {
		e.pool.dial = dial
	}
}

// WithLogger sets the executor's logger.
func WithLogger(log logger.Logger) SSHOption {
	return func(e *SSHExecutor) {
		if log != nil {
			e.log = log
		}
	}
}

// NewSSHExecutor creates an executor that dials with opts.
func NewSSHExecutor(opts sshutil.Options, options ...SSHOption) *SSHExecutor {
	e := &SSHExecutor{
		pool: NewPool(opts, nil),
		log:  logger.Noop(),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Execute runs command on h and returns its stdout.
func (e *SSHExecutor) Execute(ctx context.Context, command string, h host.Descriptor) (string, error) {
	if !h.Valid() {
		return "", ExecutionFailed(nil, fmt.Sprintf("invalid host %q", h.DisplayName()))
	}
	if err := ctx.Err(); err != nil {
		return "", ConnectionFailed(err, "")
	}

	client, err := e.pool.Get(ctx, h)
	if err != nil {
		e.log.Debug("dial %s failed: %v", h.DisplayName(), err)
		if errors.IsCode(err, errors.ErrExecution) {
			return "", ExecutionFailed(err, "")
		}
		return "", ConnectionFailed(err, "")
	}

	stdout, stderr, exitCode, err := client.ExecContext(ctx, command)
	if err != nil {
		// The session died mid-command; don't hand this connection out again.
		e.pool.CloseOne(h.ID)
		return "", ConnectionFailed(err, diagnostics(stdout, stderr))
	}
	if exitCode != 0 {
		e.log.Debug("%s exited %d", h.DisplayName(), exitCode)
		return "", ConnectionFailed(fmt.Errorf("remote command exited with status %d", exitCode),
			diagnostics(stdout, stderr))
	}

	return string(stdout), nil
}

// Release closes the pooled connection for a host ID.
func (e *SSHExecutor) Release(id string) {
	e.pool.CloseOne(id)
}

// Retain closes pooled connections for hosts no longer monitored.
func (e *SSHExecutor) Retain(ids map[string]bool) {
	e.pool.Retain(ids)
}

// Connections returns how many connections are pooled.
func (e *SSHExecutor) Connections() int {
	return e.pool.Size()
}

// Close closes all pooled connections.
func (e *SSHExecutor) Close() error {
	e.pool.Close()
	return nil
}
