package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/gpu"
	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/rileyhilliard/gpueye/internal/logger"
	"github.com/rileyhilliard/gpueye/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRow = "0,Test GPU,65,100.5,250.0,4096,8192,50,40\n"

type response struct {
	out string
	err error
}

// fakeExecutor answers by hostname and records call patterns.
type fakeExecutor struct {
	mu        sync.Mutex
	responses map[string]response
	calls     map[string]int
	delay     time.Duration
	block     bool

	inflight    int32
	maxInflight int32
	perHost     map[string]int
	overlapped  bool

	retained map[string]bool
	closed   bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		responses: make(map[string]response),
		calls:     make(map[string]int),
		perHost:   make(map[string]int),
	}
}

func (f *fakeExecutor) set(hostname, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[hostname] = response{out: out, err: err}
}

func (f *fakeExecutor) Execute(ctx context.Context, command string, h host.Descriptor) (string, error) {
	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInflight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInflight, m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[h.Hostname]++
	f.perHost[h.Hostname]++
	if f.perHost[h.Hostname] > 1 {
		f.overlapped = true
	}
	resp := f.responses[h.Hostname]
	delay, block := f.delay, f.block
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.perHost[h.Hostname]--
		f.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return "", remote.ConnectionFailed(ctx.Err(), "")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", remote.ConnectionFailed(ctx.Err(), "")
		}
	}
	return resp.out, resp.err
}

func (f *fakeExecutor) callCount(hostname string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[hostname]
}

var _ remote.Retainer = (*fakeExecutor)(nil)

func (f *fakeExecutor) Retain(ids map[string]bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retained = ids
}

func (f *fakeExecutor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// newIdleEngine returns an engine that has run its auto-start cycle for
// hosts and is stopped again.
func newIdleEngine(t *testing.T, exec remote.Executor, opts Options, hosts ...host.Descriptor) *Engine {
	t.Helper()
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	e := NewEngine(exec, opts)
	t.Cleanup(func() { _ = e.Close() })

	e.SetHosts(hosts)
	e.Stop()
	e.Wait()
	return e
}

func TestEngine_StartWithoutHostsIsNoop(t *testing.T) {
	e := NewEngine(newFakeExecutor(), Options{})
	defer e.Close()

	e.Start()
	assert.Equal(t, Stopped, e.State())
	assert.False(t, e.Snapshot().Running)
}

func TestEngine_SetHostsAutoStarts(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, testRow, nil)

	e := NewEngine(exec, Options{Interval: time.Hour})
	defer e.Close()

	e.SetHosts([]host.Descriptor{hostA})
	assert.Equal(t, Running, e.State())

	// The first cycle doesn't wait for the interval.
	require.Eventually(t, func() bool { return e.Snapshot().Cycles == 1 }, time.Second, 5*time.Millisecond)

	snap := e.Snapshot()
	assert.True(t, snap.Running)
	assert.False(t, snap.NextTick.IsZero())
	require.Len(t, snap.Hosts, 1)
	assert.True(t, snap.Hosts[0].Connected)
	require.Len(t, snap.Hosts[0].GPUs, 1)

	r := snap.Hosts[0].GPUs[0]
	assert.Equal(t, "Test GPU", r.Name)
	assert.Equal(t, 65, r.Temperature)
	assert.InDelta(t, 50.0, r.MemoryUsagePercent(), 0.001)
}

func TestEngine_SetHostsOnlyInvalidStaysStopped(t *testing.T) {
	e := NewEngine(newFakeExecutor(), Options{})
	defer e.Close()

	e.SetHosts([]host.Descriptor{{ID: "x", Hostname: "", Port: 22}, {ID: "y", Hostname: "h", Port: 0}})
	assert.Equal(t, Stopped, e.State())
	assert.Empty(t, e.Snapshot().Hosts)
}

func TestEngine_FailureIsolation(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, "", remote.ConnectionFailed(nil, "ssh: connect to host 10.0.0.1 port 22: Connection refused"))
	exec.set(hostB.Hostname, testRow, nil)

	log := logger.NewBufferLogger()
	e := newIdleEngine(t, exec, Options{Logger: log}, hostA, hostB)
	require.NoError(t, e.RefreshAll(context.Background()))

	snap := e.Snapshot()
	a, ok := snap.Host("a")
	require.True(t, ok)
	b, ok := snap.Host("b")
	require.True(t, ok)

	assert.False(t, a.Connected)
	assert.Empty(t, a.GPUs)
	assert.Equal(t, "Connection failed: ssh: connect to host 10.0.0.1 port 22: Connection refused", a.Error)

	assert.True(t, b.Connected)
	assert.Empty(t, b.Error)
	assert.Len(t, b.GPUs, 1)

	assert.Equal(t, 1, snap.ConnectedCount())
	assert.True(t, log.HasLevel("warn"))
}

func TestEngine_ReconcileAcrossCycles(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, testRow, nil)
	e := newIdleEngine(t, exec, Options{}, hostA)

	status, _ := e.Snapshot().Host("a")
	require.True(t, status.Connected)
	require.Len(t, status.GPUs, 1)

	// Failure drops the previous readings.
	exec.set(hostA.Hostname, "", remote.ConnectionFailed(nil, ""))
	require.NoError(t, e.RefreshAll(context.Background()))
	status, _ = e.Snapshot().Host("a")
	assert.False(t, status.Connected)
	assert.Empty(t, status.GPUs)
	assert.Equal(t, "Connection failed: SSH connection failed", status.Error)

	// Success clears the error.
	exec.set(hostA.Hostname, testRow, nil)
	require.NoError(t, e.RefreshAll(context.Background()))
	status, _ = e.Snapshot().Host("a")
	assert.True(t, status.Connected)
	assert.Empty(t, status.Error)
	assert.Len(t, status.GPUs, 1)
}

func TestEngine_UnreadableOutputIsFailure(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, "\xff\xfe\x00garbage", nil)
	e := newIdleEngine(t, exec, Options{}, hostA)

	status, _ := e.Snapshot().Host("a")
	assert.False(t, status.Connected)
	assert.Equal(t, errors.Summary(gpu.ErrUnreadableOutput), status.Error)
}

func TestEngine_MalformedRowsStillConnected(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, "not,enough,fields\n", nil)
	e := newIdleEngine(t, exec, Options{}, hostA)

	status, _ := e.Snapshot().Host("a")
	assert.True(t, status.Connected)
	assert.Empty(t, status.GPUs)
	assert.False(t, status.HasGPUs())
}

func TestEngine_ChangeDrivenNotification(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, testRow, nil)
	e := newIdleEngine(t, exec, Options{}, hostA)

	var mu sync.Mutex
	counts := map[EventType]int{}
	unsubscribe := e.Subscribe(func(ev Event) {
		mu.Lock()
		counts[ev.Type]++
		mu.Unlock()
	})

	// Same output as the auto-start cycle: no host event.
	require.NoError(t, e.RefreshAll(context.Background()))
	exec.set(hostA.Hostname, "0,Test GPU,66,100.5,250.0,4096,8192,50,40\n", nil)
	require.NoError(t, e.RefreshAll(context.Background()))

	mu.Lock()
	assert.Equal(t, 1, counts[EventHostUpdated])
	assert.Equal(t, 2, counts[EventCycleCompleted])
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	require.NoError(t, e.RefreshAll(context.Background()))
	mu.Lock()
	assert.Equal(t, 2, counts[EventCycleCompleted])
	mu.Unlock()
}

func TestEngine_StateEvents(t *testing.T) {
	exec := newFakeExecutor()
	e := NewEngine(exec, Options{Interval: time.Hour})
	defer e.Close()

	var mu sync.Mutex
	var states []State
	var hostsChanged int
	e.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Type {
		case EventStateChanged:
			states = append(states, ev.State)
		case EventHostsChanged:
			hostsChanged++
		}
	})

	e.SetHosts([]host.Descriptor{hostA})
	e.Stop()
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Running, Stopped}, states)
	assert.Equal(t, 1, hostsChanged)
}

func TestEngine_SetIntervalReschedulesFromCall(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, testRow, nil)

	e := NewEngine(exec, Options{Interval: time.Hour})
	defer e.Close()
	e.SetHosts([]host.Descriptor{hostA})
	require.Eventually(t, func() bool { return e.Snapshot().Cycles == 1 }, time.Second, 5*time.Millisecond)

	hourly := e.Snapshot().NextTick
	before := time.Now()
	require.NoError(t, e.SetInterval(200*time.Millisecond))
	after := time.Now()

	snap := e.Snapshot()
	assert.Equal(t, 200*time.Millisecond, snap.Interval)
	assert.True(t, snap.NextTick.Before(hourly))
	assert.False(t, snap.NextTick.Before(before.Add(200*time.Millisecond)))
	assert.False(t, snap.NextTick.After(after.Add(200*time.Millisecond)))

	require.Eventually(t, func() bool { return e.Snapshot().Cycles >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_SetIntervalWhileStopped(t *testing.T) {
	e := NewEngine(newFakeExecutor(), Options{})
	defer e.Close()

	require.NoError(t, e.SetInterval(2*time.Second))
	snap := e.Snapshot()
	assert.Equal(t, 2*time.Second, snap.Interval)
	assert.True(t, snap.NextTick.IsZero())
}

func TestEngine_SetIntervalRejectsNonPositive(t *testing.T) {
	e := NewEngine(newFakeExecutor(), Options{})
	defer e.Close()

	for _, d := range []time.Duration{0, -time.Second} {
		err := e.SetInterval(d)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
	}
	assert.Equal(t, DefaultInterval, e.Snapshot().Interval)
}

func TestEngine_RefreshOne(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, testRow, nil)
	exec.set(hostB.Hostname, testRow, nil)
	e := newIdleEngine(t, exec, Options{}, hostA, hostB)

	require.NoError(t, e.RefreshOne(context.Background(), "b"))
	assert.Equal(t, 1, exec.callCount(hostA.Hostname))
	assert.Equal(t, 2, exec.callCount(hostB.Hostname))
	assert.Equal(t, Stopped, e.State())

	err := e.RefreshOne(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestEngine_DuplicateDescriptorsAreDistinctRecords(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, testRow, nil)
	e := newIdleEngine(t, exec, Options{}, hostA, hostA)

	snap := e.Snapshot()
	require.Len(t, snap.Hosts, 2)
	assert.True(t, snap.Hosts[0].Connected)
	assert.True(t, snap.Hosts[1].Connected)

	exec.set(hostA.Hostname, "", remote.ConnectionFailed(nil, "down"))
	require.NoError(t, e.RefreshOne(context.Background(), "a"))
	snap = e.Snapshot()
	assert.Equal(t, "Connection failed: down", snap.Hosts[0].Error)
	assert.Equal(t, "Connection failed: down", snap.Hosts[1].Error)
	assert.Equal(t, 3, exec.callCount(hostA.Hostname), "one call per record per cycle, one for RefreshOne")
}

func TestEngine_SetHostsRebuildsRecords(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, testRow, nil)
	e := newIdleEngine(t, exec, Options{}, hostA, hostB)

	status, _ := e.Snapshot().Host("a")
	require.True(t, status.Connected)

	// Stopped, so this auto-starts; block the executor to observe fresh records.
	exec.mu.Lock()
	exec.block = true
	exec.mu.Unlock()

	e.SetHosts([]host.Descriptor{hostA})
	snap := e.Snapshot()
	require.Len(t, snap.Hosts, 1)
	assert.False(t, snap.Hosts[0].Connected)
	assert.Empty(t, snap.Hosts[0].GPUs)
	assert.True(t, snap.Hosts[0].LastUpdate.IsZero())

	exec.mu.Lock()
	assert.Equal(t, map[string]bool{"a": true}, exec.retained)
	exec.mu.Unlock()
}

func TestEngine_StopRetainsRecords(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, testRow, nil)
	e := newIdleEngine(t, exec, Options{Interval: 10 * time.Millisecond}, hostA)

	calls := exec.callCount(hostA.Hostname)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, exec.callCount(hostA.Hostname), "no polling after Stop")

	status, _ := e.Snapshot().Host("a")
	assert.True(t, status.Connected)
	assert.Len(t, status.GPUs, 1)
}

func TestEngine_CommandTimeout(t *testing.T) {
	exec := newFakeExecutor()
	exec.block = true

	e := NewEngine(exec, Options{Interval: time.Hour, CommandTimeout: 30 * time.Millisecond})
	defer e.Close()
	e.SetHosts([]host.Descriptor{hostA})
	e.Stop()

	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish within the command timeout")
	}

	status, _ := e.Snapshot().Host("a")
	assert.False(t, status.Connected)
	assert.NotEmpty(t, status.Error)
}

func TestEngine_ConcurrencyLimit(t *testing.T) {
	exec := newFakeExecutor()
	exec.delay = 10 * time.Millisecond
	hosts := make([]host.Descriptor, 6)
	for i := range hosts {
		hosts[i] = host.Descriptor{ID: string(rune('a' + i)), Hostname: string(rune('a' + i)), Port: 22}
	}

	newIdleEngine(t, exec, Options{Concurrency: 1}, hosts...)
	assert.Equal(t, int32(1), atomic.LoadInt32(&exec.maxInflight))
}

func TestEngine_ParallelFanOut(t *testing.T) {
	exec := newFakeExecutor()
	exec.delay = 50 * time.Millisecond
	hosts := make([]host.Descriptor, 4)
	for i := range hosts {
		hosts[i] = host.Descriptor{ID: string(rune('a' + i)), Hostname: string(rune('a' + i)), Port: 22}
	}

	start := time.Now()
	newIdleEngine(t, exec, Options{Concurrency: 4}, hosts...)
	assert.Less(t, time.Since(start), 180*time.Millisecond, "cycle bounded by slowest host, not the sum")
}

func TestEngine_NoOverlappingCycles(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, testRow, nil)
	exec.delay = 5 * time.Millisecond

	e := NewEngine(exec, Options{Interval: time.Millisecond})
	defer e.Close()
	e.SetHosts([]host.Descriptor{hostA})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.RefreshAll(context.Background())
			_ = e.RefreshOne(context.Background(), "a")
		}()
	}
	wg.Wait()
	e.Stop()
	e.Wait()

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.False(t, exec.overlapped)
}

func TestEngine_CloseReleasesExecutor(t *testing.T) {
	exec := newFakeExecutor()
	e := NewEngine(exec, Options{Interval: time.Hour})
	e.SetHosts([]host.Descriptor{hostA})

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, Stopped, e.State())

	exec.mu.Lock()
	assert.True(t, exec.closed)
	exec.mu.Unlock()

	// A closed engine doesn't restart.
	e.Start()
	assert.Equal(t, Stopped, e.State())
}

func TestEngine_CloseRacingStartLeavesNothingArmed(t *testing.T) {
	for i := 0; i < 50; i++ {
		exec := newFakeExecutor()
		e := newIdleEngine(t, exec, Options{Interval: time.Millisecond}, hostA)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Start()
		}()
		require.NoError(t, e.Close())
		wg.Wait()

		assert.Equal(t, Stopped, e.State())
		assert.False(t, e.sched.Armed(), "no ticks after Close")
	}
}

func TestEngine_CloseWhileRunningEmitsStopped(t *testing.T) {
	exec := newFakeExecutor()
	e := NewEngine(exec, Options{Interval: time.Hour})
	e.SetHosts([]host.Descriptor{hostA})

	var mu sync.Mutex
	var states []State
	e.Subscribe(func(ev Event) {
		if ev.Type == EventStateChanged {
			mu.Lock()
			states = append(states, ev.State)
			mu.Unlock()
		}
	})

	require.NoError(t, e.Close())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Stopped}, states)
}

func TestEngine_SnapshotIsCopy(t *testing.T) {
	exec := newFakeExecutor()
	exec.set(hostA.Hostname, testRow, nil)
	e := newIdleEngine(t, exec, Options{}, hostA)

	snap := e.Snapshot()
	snap.Hosts[0].GPUs[0].Name = "mutated"
	status, _ := e.Snapshot().Host("a")
	assert.Equal(t, "Test GPU", status.GPUs[0].Name)
}

func TestEngine_UsesCustomCommandAndClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var seen string
	exec := remote.Func(func(_ context.Context, command string, _ host.Descriptor) (string, error) {
		seen = command
		return testRow, nil
	})

	e := newIdleEngine(t, exec, Options{Command: "echo hi", Now: func() time.Time { return fixed }}, hostA)
	assert.Equal(t, "echo hi", seen)

	snap := e.Snapshot()
	assert.Equal(t, fixed, snap.LastCycle)
	assert.Equal(t, fixed, snap.Hosts[0].LastUpdate)
}
