package monitor

import (
	"time"

	"github.com/rileyhilliard/gpueye/internal/gpu"
	"github.com/rileyhilliard/gpueye/internal/host"
)

// ActiveUtilization is the GPU utilization above which a GPU counts as busy.
const ActiveUtilization = 10

// HostStatus is the last-known state of one monitored host.
type HostStatus struct {
	Host       host.Descriptor `json:"host" yaml:"host"`
	GPUs       []gpu.Reading   `json:"gpus" yaml:"gpus"`
	Connected  bool            `json:"connected" yaml:"connected"`
	LastUpdate time.Time       `json:"last_update,omitempty" yaml:"last_update,omitempty"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// HasGPUs reports whether the host returned any readings.
func (s HostStatus) HasGPUs() bool {
	return len(s.GPUs) > 0
}

// ActiveGPUCount returns how many GPUs are above ActiveUtilization.
func (s HostStatus) ActiveGPUCount() int {
	n := 0
	for _, r := range s.GPUs {
		if r.GPUUtilization > ActiveUtilization {
			n++
		}
	}
	return n
}

// AverageUtilization returns the mean GPU utilization, or 0 without GPUs.
func (s HostStatus) AverageUtilization() float64 {
	if len(s.GPUs) == 0 {
		return 0
	}
	total := 0
	for _, r := range s.GPUs {
		total += r.GPUUtilization
	}
	return float64(total) / float64(len(s.GPUs))
}

// MaxTemperature returns the hottest GPU's temperature, or 0 without GPUs.
func (s HostStatus) MaxTemperature() int {
	maxTemp := 0
	for _, r := range s.GPUs {
		if r.Temperature > maxTemp {
			maxTemp = r.Temperature
		}
	}
	return maxTemp
}

// clone returns a copy that shares no slices with s.
func (s HostStatus) clone() HostStatus {
	c := s
	if s.GPUs != nil {
		c.GPUs = append([]gpu.Reading(nil), s.GPUs...)
	}
	if s.Host.Aliases != nil {
		c.Host.Aliases = append([]string(nil), s.Host.Aliases...)
	}
	return c
}

// sameState reports whether two statuses differ only in LastUpdate.
func sameState(a, b HostStatus) bool {
	return a.Connected == b.Connected &&
		a.Error == b.Error &&
		gpu.Equal(a.GPUs, b.GPUs)
}

// State is the engine's run state.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Snapshot is a point-in-time copy of everything the engine knows.
type Snapshot struct {
	Hosts     []HostStatus  `json:"hosts" yaml:"hosts"`
	Running   bool          `json:"running" yaml:"running"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
	LastCycle time.Time     `json:"last_cycle,omitempty" yaml:"last_cycle,omitempty"`
	NextTick  time.Time     `json:"next_tick,omitempty" yaml:"next_tick,omitempty"`
	Cycles    uint64        `json:"cycles" yaml:"cycles"`
}

// Host returns the first status whose descriptor has the given ID.
func (s Snapshot) Host(id string) (HostStatus, bool) {
	for _, h := range s.Hosts {
		if h.Host.ID == id {
			return h, true
		}
	}
	return HostStatus{}, false
}

// ConnectedCount returns how many hosts answered their last poll.
func (s Snapshot) ConnectedCount() int {
	n := 0
	for _, h := range s.Hosts {
		if h.Connected {
			n++
		}
	}
	return n
}

// GPUCount returns the number of readings across all hosts.
func (s Snapshot) GPUCount() int {
	n := 0
	for _, h := range s.Hosts {
		n += len(h.GPUs)
	}
	return n
}

// EventType identifies what an Event reports.
type EventType int

const (
	// EventHostUpdated fires when a record's readings, connectivity or
	// error changed.
	EventHostUpdated EventType = iota
	// EventCycleCompleted fires after every full poll cycle.
	EventCycleCompleted
	// EventHostsChanged fires when SetHosts replaces the host set.
	EventHostsChanged
	// EventStateChanged fires on Start and Stop.
	EventStateChanged
)

func (t EventType) String() string {
	switch t {
	case EventHostUpdated:
		return "host_updated"
	case EventCycleCompleted:
		return "cycle_completed"
	case EventHostsChanged:
		return "hosts_changed"
	case EventStateChanged:
		return "state_changed"
	default:
		return "unknown"
	}
}

// Event is delivered to observers registered with Engine.Subscribe.
type Event struct {
	Type EventType
	// Host is set for EventHostUpdated.
	Host HostStatus
	// State is set for EventStateChanged.
	State State
	At    time.Time
}
