package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/gpueye/internal/config"
	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/rileyhilliard/gpueye/internal/monitor"
)

func testSnapshot() monitor.Snapshot {
	return monitor.Snapshot{
		Interval: 5 * time.Second,
		Hosts: []monitor.HostStatus{
			{Host: host.New("dgx-01", "10.0.0.1"), Connected: true},
		},
	}
}

func TestSnapshotWriter_YAMLSeparatesDocuments(t *testing.T) {
	var out bytes.Buffer
	w := &snapshotWriter{out: &out, format: config.FormatYAML}
	require.NoError(t, w.write(testSnapshot(), time.Now()))
	require.NoError(t, w.write(testSnapshot(), time.Now()))

	s := out.String()
	assert.Equal(t, 1, strings.Count(s, "---\n"))
	assert.Equal(t, 2, strings.Count(s, "name: dgx-01"))
	assert.Contains(t, s, "interval: 5s")
}

func TestSnapshotWriter_TableClearsInPlace(t *testing.T) {
	var out bytes.Buffer
	w := &snapshotWriter{out: &out, format: config.FormatTable, clear: true}
	require.NoError(t, w.write(testSnapshot(), time.Now()))
	require.NoError(t, w.write(testSnapshot(), time.Now()))

	assert.Equal(t, 2, strings.Count(out.String(), clearScreen))
}

func TestSnapshotWriter_TableAppends(t *testing.T) {
	var out bytes.Buffer
	w := &snapshotWriter{out: &out, format: config.FormatTable}
	require.NoError(t, w.write(testSnapshot(), time.Now()))
	require.NoError(t, w.write(testSnapshot(), time.Now()))

	s := out.String()
	assert.NotContains(t, s, clearScreen)
	assert.Equal(t, 2, strings.Count(s, "1/1 hosts up"))
}
