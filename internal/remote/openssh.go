package remote

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"time"

	"al.essio.dev/pkg/shellescape"

	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/rileyhilliard/gpueye/internal/logger"
)

// OpenSSHExecutor runs commands through the local ssh binary, so whatever the
// user's OpenSSH setup does (ControlMaster, Match blocks, hardware keys)
// keeps working.
type OpenSSHExecutor struct {
	// SSHPath is the ssh binary; "ssh" is looked up on PATH.
	SSHPath string

	ConnectTimeout        time.Duration
	StrictHostKeyChecking bool
	// ConfigPath is passed as -F when set.
	ConfigPath string

	Log logger.Logger
}

// NewOpenSSHExecutor returns an executor using ssh from PATH.
func NewOpenSSHExecutor(connectTimeout time.Duration, strict bool) *OpenSSHExecutor {
	return &OpenSSHExecutor{
		SSHPath:               "ssh",
		ConnectTimeout:        connectTimeout,
		StrictHostKeyChecking: strict,
		Log:                   logger.Noop(),
	}
}

// Execute runs command on h and returns its stdout.
func (e *OpenSSHExecutor) Execute(ctx context.Context, command string, h host.Descriptor) (string, error) {
	if !h.Valid() {
		return "", ExecutionFailed(nil, fmt.Sprintf("invalid host %q", h.DisplayName()))
	}

	path := e.SSHPath
	if path == "" {
		path = "ssh"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, e.Args(command, h)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if e.Log != nil {
		e.Log.Debug("exec %s", shellescape.QuoteCommand(cmd.Args))
	}

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ConnectionFailed(ctxErr, diagnostics(stdout.Bytes(), stderr.Bytes()))
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return "", ConnectionFailed(err, diagnostics(stdout.Bytes(), stderr.Bytes()))
	}
	// The binary couldn't be started at all.
	return "", ExecutionFailed(err, "")
}

// Args builds the ssh argument list for running command on h.
func (e *OpenSSHExecutor) Args(command string, h host.Descriptor) []string {
	timeout := e.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	strict := "no"
	if e.StrictHostKeyChecking {
		strict = "yes"
	}

	args := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(int(math.Ceil(timeout.Seconds()))),
		"-o", "ServerAliveInterval=5",
		"-o", "ServerAliveCountMax=3",
		"-o", "StrictHostKeyChecking=" + strict,
	}
	if e.ConfigPath != "" {
		args = append(args, "-F", e.ConfigPath)
	}
	if h.Port != 0 && h.Port != host.DefaultPort {
		args = append(args, "-p", strconv.Itoa(h.Port))
	}
	if h.ProxyJump != "" {
		args = append(args, "-J", h.ProxyJump)
	}
	if h.User != "" {
		args = append(args, "-l", h.User)
	}
	return append(args, h.Hostname, command)
}

// CommandLine renders the full ssh invocation as a copy-pasteable shell line.
func (e *OpenSSHExecutor) CommandLine(command string, h host.Descriptor) string {
	path := e.SSHPath
	if path == "" {
		path = "ssh"
	}
	return shellescape.QuoteCommand(append([]string{path}, e.Args(command, h)...))
}
