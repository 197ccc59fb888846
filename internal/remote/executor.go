// Package remote runs commands on monitored hosts.
//
// Executors are generic over the command string; they know nothing about
// GPU telemetry. Failures are *errors.Error values coded
// errors.ErrConnection (the session couldn't be established or maintained,
// including a non-zero remote exit status) or errors.ErrExecution (the
// transport couldn't be invoked locally).
package remote

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/host"
)

// DefaultConnectTimeout bounds session establishment.
const DefaultConnectTimeout = 10 * time.Second

// Executor runs a command on a host and returns its standard output.
type Executor interface {
	Execute(ctx context.Context, command string, h host.Descriptor) (string, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, command string, h host.Descriptor) (string, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, command string, h host.Descriptor) (string, error) {
	return f(ctx, command, h)
}

// Retainer is implemented by executors that hold per-host resources.
type Retainer interface {
	// Retain drops anything held for hosts whose ID isn't in ids.
	Retain(ids map[string]bool)
}

const defaultConnectionMessage = "SSH connection failed"

// ConnectionFailed builds a connection-failed error. The message comes from
// the captured output when there is any, otherwise from the cause.
func ConnectionFailed(cause error, output string) *errors.Error {
	detail := firstLine(output)
	if detail == "" && cause != nil {
		detail = errors.Summary(cause)
	}
	if detail == "" {
		detail = defaultConnectionMessage
	}
	suggestion := "Check the host is reachable: ssh <host>"
	var gErr *errors.Error
	if cause != nil && stderrors.As(cause, &gErr) && gErr.Suggestion != "" {
		suggestion = gErr.Suggestion
	}
	return errors.WrapWithCode(cause, errors.ErrConnection, "Connection failed: "+detail, suggestion)
}

// ExecutionFailed builds an execution-failed error.
func ExecutionFailed(cause error, detail string) *errors.Error {
	if detail == "" && cause != nil {
		detail = errors.Summary(cause)
	}
	return errors.WrapWithCode(cause, errors.ErrExecution, "Execution failed: "+detail,
		"Check the local SSH setup: gpueye hosts --probe")
}

// firstLine returns the first non-blank line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// diagnostics joins stdout and stderr into one blob for error messages.
func diagnostics(stdout, stderr []byte) string {
	out := strings.TrimSpace(string(stderr))
	if o := strings.TrimSpace(string(stdout)); o != "" {
		if out != "" {
			out = o + "\n" + out
		} else {
			out = o
		}
	}
	return out
}
