// Package resource tracks bounded capacity pools (compute weight, memory
// weight, agent slots) and hands out all-or-nothing reservations keyed by
// task id. Pools are created once at process start and persist for the
// process lifetime; only allocate and release mutate them.
package resource

import (
	"fmt"
	"sync"

	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/logging"
)

// Pool is a single bounded capacity pool. The allocated amount never
// exceeds capacity; both mutations happen inside one critical section.
type Pool struct {
	kind core.ResourceKind

	mu        sync.Mutex
	capacity  float64
	allocated float64
}

// NewPool creates a pool of the given kind and capacity.
func NewPool(kind core.ResourceKind, capacity float64) *Pool {
	return &Pool{kind: kind, capacity: capacity}
}

// Kind returns the pool's resource kind.
func (p *Pool) Kind() core.ResourceKind { return p.kind }

// Allocate reserves amount units or returns ResourceExhausted, never a
// partial reservation.
func (p *Pool) Allocate(amount float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocated+amount > p.capacity {
		return &core.ResourceExhausted{Kind: p.kind, Requested: amount, Available: p.capacity - p.allocated}
	}
	p.allocated += amount
	return nil
}

// Release returns amount units to the pool. Releasing more than is
// allocated clamps to zero; the allocator's exactly-once bookkeeping makes
// that unreachable in normal operation.
func (p *Pool) Release(amount float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocated -= amount
	if p.allocated < 0 {
		p.allocated = 0
	}
}

// SetCapacity reconfigures the pool. It is a privileged operation permitted
// only while no allocations are outstanding.
func (p *Pool) SetCapacity(capacity float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocated != 0 {
		return fmt.Errorf("cannot reconfigure pool %s: %.1f units outstanding", p.kind, p.allocated)
	}
	p.capacity = capacity
	return nil
}

// Stat is a point-in-time snapshot of one pool.
type Stat struct {
	Capacity  float64 `json:"capacity"`
	Allocated float64 `json:"allocated"`
}

// Snapshot returns the pool's current stat.
func (p *Pool) Snapshot() Stat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stat{Capacity: p.capacity, Allocated: p.allocated}
}

// held records one task's reservation so it can be released exactly once.
type held struct {
	projectID string
	footprint core.Footprint
}

// Allocator owns the process-wide pools and binds reservations to task ids.
// Reserve is all-or-nothing across every pool a footprint names; Release is
// idempotent per task so every terminal path (completion, failure, timeout,
// cancellation) can release unconditionally.
type Allocator struct {
	mu     sync.Mutex
	pools  map[core.ResourceKind]*Pool
	held   map[string]held
	logger logging.Logger
}

// DefaultCapacities mirrors the standard pool sizing: percentage-weighted
// compute and memory plus ten agent slots.
func DefaultCapacities() map[core.ResourceKind]float64 {
	return map[core.ResourceKind]float64{
		core.ResourceCompute: 100,
		core.ResourceMemory:  100,
		core.ResourceSlots:   10,
	}
}

// NewAllocator creates an allocator with one pool per configured kind.
func NewAllocator(capacities map[core.ResourceKind]float64, logger logging.Logger) *Allocator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if capacities == nil {
		capacities = DefaultCapacities()
	}
	pools := make(map[core.ResourceKind]*Pool, len(capacities))
	for kind, capacity := range capacities {
		pools[kind] = NewPool(kind, capacity)
	}
	return &Allocator{pools: pools, held: make(map[string]held), logger: logger}
}

// Reserve binds a task's footprint across all named pools, or reserves
// nothing. Reserving again for a task already holding a reservation is an
// error; unknown resource kinds are errors too.
func (a *Allocator) Reserve(projectID, taskID string, fp core.Footprint) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.held[taskID]; ok {
		return fmt.Errorf("task %s already holds a reservation", taskID)
	}

	for kind := range fp {
		if _, ok := a.pools[kind]; !ok {
			return fmt.Errorf("unknown resource kind %s", kind)
		}
	}

	var granted []core.ResourceKind
	for kind, amount := range fp {
		if err := a.pools[kind].Allocate(amount); err != nil {
			// Roll back what was granted so far: all or nothing.
			for _, g := range granted {
				a.pools[g].Release(fp[g])
			}
			return err
		}
		granted = append(granted, kind)
	}

	a.held[taskID] = held{projectID: projectID, footprint: fp}
	return nil
}

// Release frees a task's reservation. It is safe to call on every terminal
// path; only the first call per task has any effect.
func (a *Allocator) Release(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked(taskID)
}

func (a *Allocator) releaseLocked(taskID string) {
	h, ok := a.held[taskID]
	if !ok {
		return
	}
	delete(a.held, taskID)
	for kind, amount := range h.footprint {
		a.pools[kind].Release(amount)
	}
}

// ReleaseProject force-releases every reservation held for the project.
// Used by project-level cancellation and failure cleanup.
func (a *Allocator) ReleaseProject(projectID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	released := 0
	for taskID, h := range a.held {
		if h.projectID == projectID {
			a.releaseLocked(taskID)
			released++
		}
	}
	if released > 0 {
		a.logger.Info("force-released project allocations", "project_id", projectID, "count", released)
	}
	return released
}

// CanSatisfy reports whether the footprint could be reserved right now.
// Advisory only; Reserve re-checks under its own critical section.
func (a *Allocator) CanSatisfy(fp core.Footprint) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for kind, amount := range fp {
		pool, ok := a.pools[kind]
		if !ok {
			return false
		}
		s := pool.Snapshot()
		if s.Allocated+amount > s.Capacity {
			return false
		}
	}
	return true
}

// Reconfigure sets a new capacity for one pool. Permitted only while the
// pool has no outstanding allocations.
func (a *Allocator) Reconfigure(kind core.ResourceKind, capacity float64) error {
	a.mu.Lock()
	pool, ok := a.pools[kind]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown resource kind %s", kind)
	}
	return pool.SetCapacity(capacity)
}

// Snapshot returns per-pool stats.
func (a *Allocator) Snapshot() map[core.ResourceKind]Stat {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[core.ResourceKind]Stat, len(a.pools))
	for kind, pool := range a.pools {
		out[kind] = pool.Snapshot()
	}
	return out
}

// Outstanding returns the number of live reservations.
func (a *Allocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}
