// Package metrics exposes monitoring snapshots as Prometheus metrics.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rileyhilliard/gpueye/internal/monitor"
)

// SnapshotSource is anything that can produce a monitoring snapshot.
type SnapshotSource interface {
	Snapshot() monitor.Snapshot
}

// Exporter is a prometheus.Collector that reads the latest snapshot on
// every scrape.
type Exporter struct {
	source SnapshotSource
	mu     sync.Mutex

	hostUp    *prometheus.GaugeVec
	hostGPUs  *prometheus.GaugeVec
	lastCycle prometheus.Gauge

	temperature       *prometheus.GaugeVec
	powerDraw         *prometheus.GaugeVec
	powerLimit        *prometheus.GaugeVec
	memoryUsed        *prometheus.GaugeVec
	memoryTotal       *prometheus.GaugeVec
	utilization       *prometheus.GaugeVec
	memoryUtilization *prometheus.GaugeVec

	cycles      prometheus.Counter
	hostUpdates *prometheus.CounterVec
}

// Series are keyed by host ID so records sharing a display name stay apart.
var (
	hostLabels = []string{"host_id", "host"}
	gpuLabels  = []string{"host_id", "host", "gpu", "name"}
)

func gpuGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, gpuLabels)
}

// NewExporter creates an exporter reading from source.
func NewExporter(source SnapshotSource) *Exporter {
	return &Exporter{
		source: source,
		hostUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gpueye_host_up",
				Help: "Whether the last poll of the host succeeded (1) or failed (0)",
			},
			hostLabels,
		),
		hostGPUs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gpueye_host_gpus",
				Help: "Number of GPUs reported by the host's last poll",
			},
			hostLabels,
		),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpueye_last_cycle_timestamp_seconds",
			Help: "Unix time the last full poll cycle completed",
		}),
		temperature:       gpuGauge("gpueye_gpu_temperature_celsius", "GPU core temperature"),
		powerDraw:         gpuGauge("gpueye_gpu_power_draw_watts", "GPU power draw"),
		powerLimit:        gpuGauge("gpueye_gpu_power_limit_watts", "GPU power limit"),
		memoryUsed:        gpuGauge("gpueye_gpu_memory_used_mib", "GPU memory in use"),
		memoryTotal:       gpuGauge("gpueye_gpu_memory_total_mib", "GPU memory installed"),
		utilization:       gpuGauge("gpueye_gpu_utilization_percent", "GPU compute utilization"),
		memoryUtilization: gpuGauge("gpueye_gpu_memory_utilization_percent", "GPU memory controller utilization"),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpueye_poll_cycles_total",
			Help: "Total number of completed poll cycles",
		}),
		hostUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gpueye_host_updates_total",
				Help: "Total number of host status changes by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (e *Exporter) vecs() []prometheus.Collector {
	return []prometheus.Collector{
		e.hostUp, e.hostGPUs, e.lastCycle,
		e.temperature, e.powerDraw, e.powerLimit,
		e.memoryUsed, e.memoryTotal,
		e.utilization, e.memoryUtilization,
		e.cycles, e.hostUpdates,
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.vecs() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector and refreshes gauges from the
// current snapshot.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.update(e.source.Snapshot())
	for _, c := range e.vecs() {
		c.Collect(ch)
	}
}

func (e *Exporter) update(snap monitor.Snapshot) {
	perGPU := []*prometheus.GaugeVec{
		e.temperature, e.powerDraw, e.powerLimit,
		e.memoryUsed, e.memoryTotal,
		e.utilization, e.memoryUtilization,
	}
	e.hostUp.Reset()
	e.hostGPUs.Reset()
	for _, g := range perGPU {
		g.Reset()
	}

	if !snap.LastCycle.IsZero() {
		e.lastCycle.Set(float64(snap.LastCycle.UnixNano()) / 1e9)
	}

	for _, status := range snap.Hosts {
		id, name := status.Host.ID, status.Host.DisplayName()
		up := 0.0
		if status.Connected {
			up = 1
		}
		e.hostUp.WithLabelValues(id, name).Set(up)
		e.hostGPUs.WithLabelValues(id, name).Set(float64(len(status.GPUs)))

		// A repeated index in one report keeps its first reading. Records
		// sharing an ID hold the same readings and collapse into one series.
		seen := make(map[int]bool, len(status.GPUs))
		for _, r := range status.GPUs {
			if seen[r.Index] {
				continue
			}
			seen[r.Index] = true

			labels := []string{id, name, strconv.Itoa(r.Index), r.Name}
			e.temperature.WithLabelValues(labels...).Set(float64(r.Temperature))
			e.powerDraw.WithLabelValues(labels...).Set(r.PowerDraw)
			e.powerLimit.WithLabelValues(labels...).Set(r.PowerLimit)
			e.memoryUsed.WithLabelValues(labels...).Set(float64(r.MemoryUsed))
			e.memoryTotal.WithLabelValues(labels...).Set(float64(r.MemoryTotal))
			e.utilization.WithLabelValues(labels...).Set(float64(r.GPUUtilization))
			e.memoryUtilization.WithLabelValues(labels...).Set(float64(r.MemoryUtilization))
		}
	}
}

// Observe records engine events. Pass it to monitor.Engine.Subscribe.
func (e *Exporter) Observe(ev monitor.Event) {
	switch ev.Type {
	case monitor.EventCycleCompleted:
		e.cycles.Inc()
	case monitor.EventHostUpdated:
		outcome := "success"
		if !ev.Host.Connected {
			outcome = "failure"
		}
		e.hostUpdates.WithLabelValues(outcome).Inc()
	}
}

// Engine is the part of monitor.Engine the exporter attaches to.
type Engine interface {
	SnapshotSource
	Subscribe(fn func(monitor.Event)) (unsubscribe func())
}

// Attach creates an exporter for engine, subscribed to its events.
func Attach(engine Engine) (*Exporter, func()) {
	e := NewExporter(engine)
	return e, engine.Subscribe(e.Observe)
}
