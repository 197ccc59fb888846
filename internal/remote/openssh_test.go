package remote

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSSHExecutor_Args(t *testing.T) {
	e := NewOpenSSHExecutor(1500*time.Millisecond, true)
	e.ConfigPath = "/tmp/ssh_config"

	args := e.Args("nvidia-smi", host.Descriptor{
		Hostname:  "10.0.0.5",
		Port:      2222,
		User:      "ops",
		ProxyJump: "bastion",
	})

	assert.Equal(t, []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=2",
		"-o", "ServerAliveInterval=5",
		"-o", "ServerAliveCountMax=3",
		"-o", "StrictHostKeyChecking=yes",
		"-F", "/tmp/ssh_config",
		"-p", "2222",
		"-J", "bastion",
		"-l", "ops",
		"10.0.0.5", "nvidia-smi",
	}, args)
}

func TestOpenSSHExecutor_CommandLine(t *testing.T) {
	e := NewOpenSSHExecutor(time.Second, false)
	line := e.CommandLine("nvidia-smi -q", host.Descriptor{Hostname: "10.0.0.5", Port: 22})

	assert.True(t, strings.HasPrefix(line, "ssh -o BatchMode=yes -o ConnectTimeout=1"), line)
	assert.True(t, strings.HasSuffix(line, "StrictHostKeyChecking=no 10.0.0.5 'nvidia-smi -q'"), line)
}

func TestOpenSSHExecutor_ArgsMinimal(t *testing.T) {
	e := &OpenSSHExecutor{}
	args := e.Args("uptime", host.Descriptor{Hostname: "gpu", Port: 22})

	assert.Contains(t, args, "ConnectTimeout=10")
	assert.Contains(t, args, "StrictHostKeyChecking=no")
	assert.NotContains(t, args, "-p")
	assert.Equal(t, []string{"gpu", "uptime"}, args[len(args)-2:])
}

// fakeSSH writes a shell script standing in for the ssh binary.
func fakeSSH(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts unavailable")
	}
	path := filepath.Join(t.TempDir(), "ssh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestOpenSSHExecutor_Success(t *testing.T) {
	e := NewOpenSSHExecutor(time.Second, false)
	e.SSHPath = fakeSSH(t, `for last; do :; done; echo "ran: $last"`)

	out, err := e.Execute(context.Background(), "nvidia-smi", host.Descriptor{Hostname: "gpu", Port: 22})
	require.NoError(t, err)
	assert.Equal(t, "ran: nvidia-smi\n", out)
}

func TestOpenSSHExecutor_ExitFailure(t *testing.T) {
	e := NewOpenSSHExecutor(time.Second, false)
	e.SSHPath = fakeSSH(t, `echo "ssh: connect to host gpu port 22: Connection refused" >&2; exit 255`)

	_, err := e.Execute(context.Background(), "nvidia-smi", host.Descriptor{Hostname: "gpu", Port: 22})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConnection))
	assert.Equal(t, "Connection failed: ssh: connect to host gpu port 22: Connection refused", errors.Summary(err))
}

func TestOpenSSHExecutor_Timeout(t *testing.T) {
	e := NewOpenSSHExecutor(time.Second, false)
	e.SSHPath = fakeSSH(t, `exec sleep 5`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, "nvidia-smi", host.Descriptor{Hostname: "gpu", Port: 22})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConnection))
}

func TestOpenSSHExecutor_MissingBinary(t *testing.T) {
	e := NewOpenSSHExecutor(time.Second, false)
	e.SSHPath = filepath.Join(t.TempDir(), "no-such-ssh")

	_, err := e.Execute(context.Background(), "nvidia-smi", host.Descriptor{Hostname: "gpu", Port: 22})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrExecution))
}

func TestOpenSSHExecutor_InvalidHost(t *testing.T) {
	e := NewOpenSSHExecutor(time.Second, false)
	_, err := e.Execute(context.Background(), "nvidia-smi", host.Descriptor{Hostname: "", Port: 22})
	assert.True(t, errors.IsCode(err, errors.ErrExecution))
}
