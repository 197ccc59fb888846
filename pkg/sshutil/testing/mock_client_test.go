package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_ExactAndPattern(t *testing.T) {
	m := NewMockClient("gpu-01")
	m.SetCommandResponse("echo hi", CommandResponse{Stdout: []byte("hi\n")})
	m.SetCommandResponse("^nvidia-smi", CommandResponse{Stdout: []byte("0,A100,40,1,2,3,4,5,6\n")})

	out, _, code, err := m.ExecContext(context.Background(), "echo hi")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hi\n", string(out))

	out, _, _, err = m.ExecContext(context.Background(), "nvidia-smi --query-gpu=index")
	require.NoError(t, err)
	assert.Contains(t, string(out), "A100")

	assert.Equal(t, []string{"echo hi", "nvidia-smi --query-gpu=index"}, m.Calls())
}

func TestMockClient_UnknownCommand(t *testing.T) {
	m := NewMockClient("gpu-01")
	_, stderr, code, err := m.ExecContext(context.Background(), "whatever")
	require.NoError(t, err)
	assert.Equal(t, 127, code)
	assert.Contains(t, string(stderr), "not found")
}

func TestMockClient_DelayHonorsContext(t *testing.T) {
	m := NewMockClient("gpu-01")
	m.SetCommandResponse("slow", CommandResponse{Delay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, code, err := m.ExecContext(ctx, "slow")
	assert.Equal(t, -1, code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockClient_Close(t *testing.T) {
	m := NewMockClient("gpu-01")
	_, err := m.NewSession()
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())

	_, err = m.NewSession()
	assert.Error(t, err)
	_, _, _, err = m.ExecContext(context.Background(), "echo")
	assert.Error(t, err)
}

func TestMockClient_SessionError(t *testing.T) {
	m := NewMockClient("gpu-01")
	m.SetSessionError(errors.New("EOF"))
	_, err := m.NewSession()
	assert.EqualError(t, err, "EOF")
	assert.Equal(t, "gpu-01", m.GetHost())
	assert.Equal(t, "gpu-01:22", m.GetAddress())
}

func TestMockClient_HoldSessionsUntilClosed(t *testing.T) {
	m := NewMockClient("gpu-01")
	m.HoldSessions(make(chan struct{}))

	done := make(chan error, 1)
	go func() {
		_, err := m.NewSession()
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("NewSession returned while held")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, m.Close())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not release the held session")
	}
}
