package monitor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rileyhilliard/gpueye/internal/errors"
	"github.com/rileyhilliard/gpueye/internal/gpu"
	"github.com/rileyhilliard/gpueye/internal/host"
	"github.com/rileyhilliard/gpueye/internal/logger"
	"github.com/rileyhilliard/gpueye/internal/remote"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultCommandTimeout = 30 * time.Second
	DefaultConcurrency    = 8
)

// Options configures an Engine. Zero values take the defaults above.
type Options struct {
	Interval time.Duration
	// CommandTimeout bounds each host's remote call, connection included.
	CommandTimeout time.Duration
	// Concurrency caps how many hosts are polled at once. 1 polls serially.
	Concurrency int
	// Command overrides gpu.QueryCommand.
	Command string
	Logger  logger.Logger
	// Now overrides time.Now for timestamps.
	Now func() time.Time
}

// Engine polls the active host set on a schedule and reconciles results into
// a Store. All methods are safe for concurrent use.
type Engine struct {
	exec  remote.Executor
	store *Store
	sched *Scheduler
	log   logger.Logger
	now   func() time.Time

	command        string
	commandTimeout time.Duration
	concurrency    int

	mu        sync.Mutex
	running   bool
	interval  time.Duration
	lastCycle time.Time
	cycles    uint64
	closed    bool

	// cycleMu is held for the whole of a poll cycle.
	cycleMu sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObs   int
	// emitMu delivers events one at a time.
	emitMu sync.Mutex
}

// NewEngine creates a stopped engine with an empty host set.
func NewEngine(exec remote.Executor, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Command == "" {
		opts.Command = gpu.QueryCommand
	}
	if opts.Logger == nil {
		opts.Logger = logger.Noop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		exec:           exec,
		store:          NewStore(),
		log:            opts.Logger,
		now:            opts.Now,
		command:        opts.Command,
		commandTimeout: opts.CommandTimeout,
		concurrency:    opts.Concurrency,
		interval:       opts.Interval,
		ctx:            ctx,
		cancel:         cancel,
		observers:      make(map[int]func(Event)),
	}
	e.sched = NewScheduler(e.onTick)
	return e
}

// SetHosts replaces the active host set with fresh records for every valid
// descriptor. A non-empty set starts a stopped engine.
func (e *Engine) SetHosts(list []host.Descriptor) {
	valid := host.FilterValid(list)
	if skipped := len(list) - len(valid); skipped > 0 {
		e.log.Debug("ignoring %d invalid host(s)", skipped)
	}

	e.store.Reset(valid)
	e.releaseRemoved()
	e.emit(Event{Type: EventHostsChanged, At: e.now()})

	if len(valid) > 0 {
		e.Start()
	}
}

// releaseRemoved drops executor resources held for hosts no longer monitored.
func (e *Engine) releaseRemoved() {
	ids := e.store.IDs()
	if r, ok := e.exec.(remote.Retainer); ok {
		r.Retain(ids)
	}
}

// Start arms the scheduler and triggers an immediate cycle. It does nothing
// when already running or when there are no hosts.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running || e.closed || e.store.Len() == 0 {
		e.mu.Unlock()
		return
	}
	e.running = true
	interval := e.interval
	e.sched.Arm(interval)
	e.mu.Unlock()

	e.log.Debug("engine started, interval %s", interval)
	e.emit(Event{Type: EventStateChanged, State: Running, At: e.now()})
	e.onTick()
}

// Stop disarms the scheduler. Records are kept and an in-flight cycle is
// allowed to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.sched.Disarm()
	e.mu.Unlock()

	e.log.Debug("engine stopped")
	e.emit(Event{Type: EventStateChanged, State: Stopped, At: e.now()})
}

// SetInterval changes the polling cadence. While running, the next tick is
// rescheduled to d from now.
func (e *Engine) SetInterval(d time.Duration) error {
	if d <= 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Polling interval must be positive, got %s", d),
			"Use something like 5s")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.interval = d
	if e.running {
		e.sched.Arm(d)
	}
	return nil
}

// State reports whether the engine is running.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return Running
	}
	return Stopped
}

// RefreshAll runs a full cycle now, regardless of state. It waits for any
// cycle already in flight.
func (e *Engine) RefreshAll(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	return e.runCycle(ctx)
}

// RefreshOne polls every record for the host with the given ID, regardless
// of state. The scheduler and other hosts are untouched.
func (e *Engine) RefreshOne(ctx context.Context, id string) error {
	slots := e.store.SlotsFor(id)
	if len(slots) == 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Host '%s' is not monitored", id),
			"Check the host list: gpueye hosts")
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	e.pollHost(ctx, slots[0].Host, slots)
	return ctx.Err()
}

// Snapshot returns a copy of all records and engine state.
func (e *Engine) Snapshot() Snapshot {
	hosts := e.store.Statuses()

	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		Hosts:     hosts,
		Running:   e.running,
		Interval:  e.interval,
		LastCycle: e.lastCycle,
		Cycles:    e.cycles,
	}
	if e.running {
		snap.NextTick = e.sched.NextTick()
	}
	return snap
}

// Subscribe registers fn for every event and returns a function that
// removes it. Events are delivered one at a time on polling goroutines.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.obsMu.Lock()
			delete(e.observers, id)
			e.obsMu.Unlock()
		})
	}
}

// Wait blocks until scheduled cycles already started have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close stops the engine, cancels in-flight polls and releases the
// executor's resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	wasRunning := e.running
	e.running = false
	e.sched.Disarm()
	e.mu.Unlock()

	if wasRunning {
		e.log.Debug("engine stopped")
		e.emit(Event{Type: EventStateChanged, State: Stopped, At: e.now()})
	}

	e.cancel()
	e.wg.Wait()

	if c, ok := e.exec.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// onTick starts a background cycle unless one is already in flight.
func (e *Engine) onTick() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	if !e.cycleMu.TryLock() {
		e.mu.Unlock()
		e.log.Debug("poll cycle still in flight, skipping tick")
		return
	}
	// Added under mu so Wait after Stop sees every started cycle.
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.cycleMu.Unlock()
		_ = e.runCycle(e.ctx)
	}()
}

// runCycle polls every record once. The caller holds cycleMu.
func (e *Engine) runCycle(ctx context.Context) error {
	slots := e.store.Slots()
	start := e.now()
	e.log.Debug("poll cycle started: %d host(s)", len(slots))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, slot := range slots {
		g.Go(func() error {
			e.pollHost(ctx, slot.Host, []Slot{slot})
			return nil
		})
	}
	_ = g.Wait()

	done := e.now()
	e.mu.Lock()
	e.lastCycle = done
	e.cycles++
	e.mu.Unlock()

	e.log.Debug("poll cycle finished in %s", done.Sub(start))
	e.emit(Event{Type: EventCycleCompleted, At: done})
	return ctx.Err()
}

// pollHost queries h once and reconciles the outcome into every slot.
func (e *Engine) pollHost(ctx context.Context, h host.Descriptor, slots []Slot) {
	readings, err := e.query(ctx, h)
	at := e.now()

	for _, slot := range slots {
		var status HostStatus
		var changed bool
		if err != nil {
			status, changed = e.store.ApplyFailure(slot, failureMessage(err), at)
		} else {
			status, changed = e.store.ApplySuccess(slot, readings, at)
		}
		if changed {
			e.emit(Event{Type: EventHostUpdated, Host: status, At: at})
		}
	}
}

// query runs the telemetry command on h and parses the output.
func (e *Engine) query(ctx context.Context, h host.Descriptor) ([]gpu.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()

	out, err := e.exec.Execute(ctx, e.command, h)
	if err != nil {
		e.log.Warn("%s: %s", h.DisplayName(), errors.Summary(err))
		return nil, err
	}

	readings, err := gpu.Parse(out)
	if err != nil {
		e.log.Warn("%s: %s", h.DisplayName(), errors.Summary(err))
		return nil, err
	}
	e.log.Debug("%s: %d GPU reading(s)", h.DisplayName(), len(readings))
	return readings, nil
}

func failureMessage(err error) string {
	if msg := errors.Summary(err); msg != "" {
		return msg
	}
	return "SSH connection failed"
}

func (e *Engine) emit(ev Event) {
	e.obsMu.Lock()
	fns := make([]func(Event), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.obsMu.Unlock()

	if len(fns) == 0 {
		return
	}

	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
