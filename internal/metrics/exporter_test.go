package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/gpueye/internal/gpu"
	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/rileyhilliard/gpueye/internal/monitor"
	"github.com/rileyhilliard/gpueye/internal/remote"
)

type staticSource struct {
	snap monitor.Snapshot
}

func (s *staticSource) Snapshot() monitor.Snapshot { return s.snap }

func testSnapshot() monitor.Snapshot {
	return monitor.Snapshot{
		LastCycle: time.Unix(1700000000, 0),
		Hosts: []monitor.HostStatus{
			{
				Host:      host.Descriptor{ID: "a", Name: "dgx-01", Hostname: "10.0.0.1", Port: 22},
				Connected: true,
				GPUs: []gpu.Reading{
					{Index: 0, Name: "A100", Temperature: 65, PowerDraw: 100.5, PowerLimit: 250,
						MemoryUsed: 4096, MemoryTotal: 8192, GPUUtilization: 50, MemoryUtilization: 40},
					{Index: 1, Name: "A100", Temperature: 70, PowerDraw: 200, PowerLimit: 250,
						MemoryUsed: 1024, MemoryTotal: 8192, GPUUtilization: 90, MemoryUtilization: 20},
				},
			},
			{
				Host:  host.Descriptor{ID: "b", Hostname: "10.0.0.2", Port: 22},
				Error: "Connection failed: refused",
			},
		},
	}
}

func TestExporter_HostAndGPUGauges(t *testing.T) {
	exp := NewExporter(&staticSource{snap: testSnapshot()})

	expected := `
# HELP gpueye_host_up Whether the last poll of the host succeeded (1) or failed (0)
# TYPE gpueye_host_up gauge
gpueye_host_up{host="10.0.0.2",host_id="b"} 0
gpueye_host_up{host="dgx-01",host_id="a"} 1
# HELP gpueye_gpu_temperature_celsius GPU core temperature
# TYPE gpueye_gpu_temperature_celsius gauge
gpueye_gpu_temperature_celsius{gpu="0",host="dgx-01",host_id="a",name="A100"} 65
gpueye_gpu_temperature_celsius{gpu="1",host="dgx-01",host_id="a",name="A100"} 70
# HELP gpueye_gpu_power_draw_watts GPU power draw
# TYPE gpueye_gpu_power_draw_watts gauge
gpueye_gpu_power_draw_watts{gpu="0",host="dgx-01",host_id="a",name="A100"} 100.5
gpueye_gpu_power_draw_watts{gpu="1",host="dgx-01",host_id="a",name="A100"} 200
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"gpueye_host_up", "gpueye_gpu_temperature_celsius", "gpueye_gpu_power_draw_watts")
	require.NoError(t, err)

	assert.Equal(t, 2, testutil.CollectAndCount(exp, "gpueye_gpu_memory_used_mib"))
	assert.Equal(t, 2, testutil.CollectAndCount(exp, "gpueye_host_gpus"))
}

func TestExporter_SameNameDifferentHosts(t *testing.T) {
	reading := gpu.Reading{Index: 0, Name: "H100", Temperature: 50}
	snap := monitor.Snapshot{Hosts: []monitor.HostStatus{
		{Host: host.Descriptor{ID: "a", Name: "dgx", Hostname: "10.0.0.1", Port: 22}, Connected: true,
			GPUs: []gpu.Reading{reading}},
		{Host: host.Descriptor{ID: "b", Name: "dgx", Hostname: "10.0.0.2", Port: 22}, Connected: true,
			GPUs: []gpu.Reading{reading}},
	}}
	exp := NewExporter(&staticSource{snap: snap})

	assert.Equal(t, 2, testutil.CollectAndCount(exp, "gpueye_host_up"))
	assert.Equal(t, 2, testutil.CollectAndCount(exp, "gpueye_gpu_temperature_celsius"))
}

func TestExporter_RepeatedGPUIndexKeepsFirst(t *testing.T) {
	snap := monitor.Snapshot{Hosts: []monitor.HostStatus{{
		Host:      host.Descriptor{ID: "a", Name: "dgx-01", Hostname: "10.0.0.1", Port: 22},
		Connected: true,
		GPUs: []gpu.Reading{
			{Index: 0, Name: "A100", Temperature: 40},
			{Index: 0, Name: "A100", Temperature: 90},
		},
	}}}
	exp := NewExporter(&staticSource{snap: snap})

	expected := `
# HELP gpueye_gpu_temperature_celsius GPU core temperature
# TYPE gpueye_gpu_temperature_celsius gauge
gpueye_gpu_temperature_celsius{gpu="0",host="dgx-01",host_id="a",name="A100"} 40
`
	require.NoError(t, testutil.CollectAndCompare(exp, strings.NewReader(expected), "gpueye_gpu_temperature_celsius"))
	exp.Collect(make(chan prometheus.Metric, 64))
	assert.Equal(t, 2.0, testutil.ToFloat64(exp.hostGPUs.WithLabelValues("a", "dgx-01")), "host GPU count is what was reported")
}

func TestExporter_LastCycle(t *testing.T) {
	exp := NewExporter(&staticSource{snap: testSnapshot()})
	reg := prometheus.NewRegistry()
	reg.MustRegister(exp)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() == "gpueye_last_cycle_timestamp_seconds" {
			found = true
			assert.Equal(t, 1700000000.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestExporter_DropsRemovedHosts(t *testing.T) {
	src := &staticSource{snap: testSnapshot()}
	exp := NewExporter(src)
	assert.Equal(t, 2, testutil.CollectAndCount(exp, "gpueye_host_up"))

	src.snap.Hosts = src.snap.Hosts[1:]
	assert.Equal(t, 1, testutil.CollectAndCount(exp, "gpueye_host_up"))
	assert.Equal(t, 0, testutil.CollectAndCount(exp, "gpueye_gpu_temperature_celsius"))
}

func TestExporter_Observe(t *testing.T) {
	exp := NewExporter(&staticSource{})

	exp.Observe(monitor.Event{Type: monitor.EventCycleCompleted})
	exp.Observe(monitor.Event{Type: monitor.EventCycleCompleted})
	exp.Observe(monitor.Event{Type: monitor.EventHostUpdated, Host: monitor.HostStatus{Connected: true}})
	exp.Observe(monitor.Event{Type: monitor.EventHostUpdated})
	exp.Observe(monitor.Event{Type: monitor.EventStateChanged})

	assert.Equal(t, 2.0, testutil.ToFloat64(exp.cycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.hostUpdates.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.hostUpdates.WithLabelValues("failure")))
}

func TestAttach_CountsEngineCycles(t *testing.T) {
	exec := func(context.Context, string, host.Descriptor) (string, error) {
		return "0,A100,65,100.5,250.0,4096,8192,50,40\n", nil
	}
	engine := monitor.NewEngine(remote.Func(exec), monitor.Options{Interval: time.Hour})
	defer engine.Close()

	exp, unsubscribe := Attach(engine)
	defer unsubscribe()

	require.NoError(t, engine.RefreshAll(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.cycles))
}

func TestHandler_ServesMetrics(t *testing.T) {
	exp := NewExporter(&staticSource{snap: testSnapshot()})
	srv, err := Listen("127.0.0.1:0", Registry(exp), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `gpueye_host_up{host="dgx-01",host_id="a"} 1`)
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListen_BadAddress(t *testing.T) {
	_, err := Listen("256.0.0.1:bad", prometheus.NewRegistry(), nil)
	require.Error(t, err)
}
