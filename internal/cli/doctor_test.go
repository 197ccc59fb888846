package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/gpueye/internal/doctor"
	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/rileyhilliard/gpueye/internal/remote"
)

func decodeDoctor(t *testing.T, data []byte) DoctorOutput {
	t.Helper()
	var env struct {
		Success bool         `json:"success"`
		Data    DoctorOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	require.True(t, env.Success)
	return env.Data
}

func findResult(results []doctor.CheckResult, name string) (doctor.CheckResult, bool) {
	for _, r := range results {
		if r.Name == name {
			return r, true
		}
	}
	return doctor.CheckResult{}, false
}

func TestDoctorCommand_Healthy(t *testing.T) {
	setupProject(t, localHostConfig(listenLocal(t)))

	var calls int
	exec := remote.Func(func(ctx context.Context, command string, h host.Descriptor) (string, error) {
		calls++
		return gpuRow + "\n", nil
	})

	var out bytes.Buffer
	err := doctorCommand(&out, doctorOptions{Format: "json", Executor: exec})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	report := decodeDoctor(t, out.Bytes())
	assert.Zero(t, report.Summary.Fail)
	assert.False(t, report.Summary.AllClear, "disabled host key checking warns")

	r, ok := findResult(report.Results, "telemetry_local")
	require.True(t, ok, "telemetry check runs for each host")
	assert.Equal(t, doctor.StatusPass, r.Status)
	assert.Contains(t, r.Message, "1 GPU reporting")
}

func TestDoctorCommand_UnreachableHostFails(t *testing.T) {
	setupProject(t, localHostConfig(closedPort(t)))

	var out bytes.Buffer
	err := doctorCommand(&out, doctorOptions{NoRemote: true})
	assert.ErrorIs(t, err, errSilent)

	s := out.String()
	assert.Contains(t, s, "HOSTS")
	assert.Contains(t, s, "issue")
	assert.NotContains(t, s, "GPU reporting", "--no-remote skips telemetry")
}

func TestDoctorCommand_BrokenConfig(t *testing.T) {
	setupProject(t, "interval: [oops\n")

	var out bytes.Buffer
	err := doctorCommand(&out, doctorOptions{Format: "yaml", NoRemote: true})
	assert.ErrorIs(t, err, errSilent)
	assert.Contains(t, out.String(), "config_schema")
	assert.Contains(t, out.String(), "fail")
}
