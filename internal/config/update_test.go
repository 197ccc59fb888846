package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)
	cfg := DefaultConfig()
	cfg.Hosts = []HostConfig{{Name: "dgx-01", Hostname: "10.0.0.11", Port: 2222}}
	cfg.Metrics.Listen = ":9400"

	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "interval: 5s")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Interval, loaded.Interval)
	assert.Equal(t, cfg.Hosts, loaded.Hosts)
	assert.Equal(t, ":9400", loaded.Metrics.Listen)
}

func TestAddHost_PreservesComments(t *testing.T) {
	path := writeFile(t, t.TempDir(), ConfigFileName, `# fleet config
interval: 5s # poll often
hosts:
  - name: dgx-01
    hostname: 10.0.0.11
`)

	require.NoError(t, AddHost(path, HostConfig{
		Name: "dgx-02", Hostname: "10.0.0.12", Port: 2222, User: "ops", Aliases: []string{"trainer"},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# fleet config")
	assert.Contains(t, content, "# poll often")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Hosts, 2)
	assert.Equal(t, HostConfig{
		Name: "dgx-02", Hostname: "10.0.0.12", Port: 2222, User: "ops", Aliases: []string{"trainer"},
	}, cfg.Hosts[1])
}

func TestAddHost_Idempotent(t *testing.T) {
	path := writeFile(t, t.TempDir(), ConfigFileName, "hosts:\n  - name: a\n")
	require.NoError(t, AddHost(path, HostConfig{Name: "a", Hostname: "changed"}))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Hosts, 1)
	assert.Empty(t, cfg.Hosts[0].Hostname)
}

func TestAddHost_CreatesHostsList(t *testing.T) {
	for _, content := range []string{"interval: 5s\n", "hosts: []\n", "hosts:\n"} {
		path := writeFile(t, t.TempDir(), ConfigFileName, content)
		require.NoError(t, AddHost(path, HostConfig{Name: "gpu-box"}), content)

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Len(t, cfg.Hosts, 1, content)
		assert.Equal(t, "gpu-box", cfg.Hosts[0].Name)
	}
}

func TestAddHost_Errors(t *testing.T) {
	err := AddHost(filepath.Join(t.TempDir(), "missing.yaml"), HostConfig{Name: "a"})
	assert.Error(t, err)

	path := writeFile(t, t.TempDir(), ConfigFileName, "- just\n- a list\n")
	err = AddHost(path, HostConfig{Name: "a"})
	assert.Error(t, err)
}
