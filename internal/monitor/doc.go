// Package monitor polls a set of remote hosts for GPU telemetry and keeps
// one status record per host.
//
// # Architecture
//
// Three pieces compose the engine:
//
//	Store      - Status records, one per monitored host, behind a single mutex
//	Scheduler  - A repeating timer with deterministic arm/disarm/re-arm
//	Engine     - Owns the host set, runs poll cycles, notifies observers
//
// # Poll Cycle
//
//  1. The scheduler fires, or a caller asks for RefreshAll/RefreshOne
//  2. Every host runs gpu.QueryCommand through a remote.Executor, fanned out
//     with a bounded errgroup
//  3. Output goes through gpu.Parse; the result (or failure) is reconciled
//     into that host's record
//  4. Observers get EventHostUpdated when a record actually changed and
//     EventCycleCompleted once all hosts are done
//
// Only one cycle is in flight at a time. Ticks that land while a cycle runs
// are skipped; explicit refreshes wait their turn.
//
// # Failure Handling
//
// A failed poll empties the host's readings, marks it disconnected and
// records the error message. Previous readings are not kept: a stale reading
// can't be told apart from a stalled host. The next tick is the retry.
package monitor
