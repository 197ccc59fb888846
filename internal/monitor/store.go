package monitor

import (
	"sync"
	"time"

	"github.com/rileyhilliard/gpueye/internal/gpu"
	"github.com/rileyhilliard/gpueye/internal/host"
)

// Slot addresses one record in a Store. A slot taken before Reset no longer
// matches and writes through it are dropped.
type Slot struct {
	Gen   uint64
	Index int
	Host  host.Descriptor
}

// Store holds one status record per monitored host, in host-set order.
// Duplicate descriptors get distinct records.
type Store struct {
	mu      sync.RWMutex
	gen     uint64
	records []HostStatus
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Reset replaces all records with fresh ones for the valid descriptors in
// list. Nothing carries over from the previous set.
func (s *Store) Reset(list []host.Descriptor) {
	valid := host.FilterValid(list)
	records := make([]HostStatus, len(valid))
	for i, d := range valid {
		records[i] = HostStatus{Host: d}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.records = records
}

// Slots returns a slot for every record.
func (s *Store) Slots() []Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slots := make([]Slot, len(s.records))
	for i, r := range s.records {
		slots[i] = Slot{Gen: s.gen, Index: i, Host: r.Host}
	}
	return slots
}

// SlotsFor returns the slots of every record whose descriptor has the ID.
func (s *Store) SlotsFor(id string) []Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var slots []Slot
	for i, r := range s.records {
		if r.Host.ID == id {
			slots = append(slots, Slot{Gen: s.gen, Index: i, Host: r.Host})
		}
	}
	return slots
}

// ApplySuccess stores readings for the slot, marks the host connected and
// clears its error. It returns the updated record and whether anything
// besides the timestamp changed.
func (s *Store) ApplySuccess(slot Slot, readings []gpu.Reading, at time.Time) (HostStatus, bool) {
	return s.apply(slot, func(r *HostStatus) {
		r.GPUs = append([]gpu.Reading(nil), readings...)
		r.Connected = true
		r.Error = ""
		r.LastUpdate = at
	})
}

// ApplyFailure empties the slot's readings, marks the host disconnected and
// records msg.
func (s *Store) ApplyFailure(slot Slot, msg string, at time.Time) (HostStatus, bool) {
	return s.apply(slot, func(r *HostStatus) {
		r.GPUs = nil
		r.Connected = false
		r.Error = msg
		r.LastUpdate = at
	})
}

func (s *Store) apply(slot Slot, update func(*HostStatus)) (HostStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot.Gen != s.gen || slot.Index < 0 || slot.Index >= len(s.records) {
		return HostStatus{}, false
	}

	r := &s.records[slot.Index]
	before := *r
	update(r)
	return r.clone(), !sameState(before, *r)
}

// Statuses returns a deep copy of every record.
func (s *Store) Statuses() []HostStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]HostStatus, len(s.records))
	for i, r := range s.records {
		out[i] = r.clone()
	}
	return out
}

// IDs returns the set of host IDs currently stored.
func (s *Store) IDs() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]bool, len(s.records))
	for _, r := range s.records {
		ids[r.Host.ID] = true
	}
	return ids
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
