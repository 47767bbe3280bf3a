package vm

import (
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// RegistryGC: reclamation for the handle registries
// ---------------------------------------------------------------------------
//
// Two tiers. The background loop reclaims only entries whose liveness is
// decided by their own state word (closed coroutines), which is safe
// while guest code runs. CollectGarbage is a full mark/sweep from the VM
// roots and must be called at a safe point: no frame of this VM may be
// executing concurrently. The mark phase follows Traverse edges, so
// reference cycles through lists, cells, and suspended frames are
// reclaimed together.

// RegistryGCStats holds statistics from a single collection.
type RegistryGCStats struct {
	Strings    int
	Lists      int
	Functions  int
	Natives    int
	Generators int
	Exceptions int
	Cells      int
	Iterators  int
	TotalSwept int
	Live       int

	SweepDuration time.Duration
	Timestamp     time.Time
}

// RegistryGC owns the background sweep loop and the mark/sweep entry
// point for one VM.
type RegistryGC struct {
	vm       *VM
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	sweepCount atomic.Uint64
	lastStats  atomic.Value // *RegistryGCStats
}

// DefaultGCInterval is the default background sweep interval.
const DefaultGCInterval = 30 * time.Second

// NewRegistryGC creates a collector for the given VM. A non-positive
// interval selects DefaultGCInterval.
func NewRegistryGC(vm *VM, interval time.Duration) *RegistryGC {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	gc := &RegistryGC{
		vm:       vm,
		interval: interval,
	}
	gc.enabled.Store(true)
	return gc
}

// Start begins the periodic sweep goroutine. Safe to call repeatedly;
// only one loop runs.
func (gc *RegistryGC) Start() {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if gc.stop != nil {
		return // already running
	}

	gc.stop = make(chan struct{})
	gc.stopped = make(chan struct{})

	// Capture channels locally so the goroutine does not read gc.stop
	// and gc.stopped after Stop has nilled them out.
	stopCh := gc.stop
	stoppedCh := gc.stopped
	go gc.loop(stopCh, stoppedCh)
}

// Stop halts the sweep goroutine and waits for it to finish. Safe on a
// collector that was never started.
func (gc *RegistryGC) Stop() {
	gc.mu.Lock()
	stopCh := gc.stop
	stoppedCh := gc.stopped
	gc.stop = nil
	gc.stopped = nil
	gc.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled enables or disables background sweeping. The loop keeps
// running but skips sweeps while disabled.
func (gc *RegistryGC) SetEnabled(enabled bool) {
	gc.enabled.Store(enabled)
}

// IsEnabled reports whether background sweeping is enabled.
func (gc *RegistryGC) IsEnabled() bool {
	return gc.enabled.Load()
}

// Interval returns the background sweep interval.
func (gc *RegistryGC) Interval() time.Duration {
	return gc.interval
}

// SweepCount returns the total number of collections performed.
func (gc *RegistryGC) SweepCount() uint64 {
	return gc.sweepCount.Load()
}

// LastStats returns statistics from the most recent collection, or nil.
func (gc *RegistryGC) LastStats() *RegistryGCStats {
	v := gc.lastStats.Load()
	if v == nil {
		return nil
	}
	return v.(*RegistryGCStats)
}

func (gc *RegistryGC) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if gc.enabled.Load() {
				gc.sweepClosed()
			}
		}
	}
}

// sweepClosed removes coroutines that have reached their terminal
// state. Their frames are already released, so only the registry slot
// remains. This is the only reclamation safe to run concurrently with
// guest execution.
func (gc *RegistryGC) sweepClosed() *RegistryGCStats {
	vm := gc.vm
	start := time.Now()
	stats := &RegistryGCStats{Timestamp: start}

	vm.registryMu.Lock()
	for id, g := range vm.generators {
		if g.State() == CoroClosed {
			delete(vm.generators, id)
			stats.Generators++
		}
	}
	vm.registryMu.Unlock()

	stats.TotalSwept = stats.Generators
	stats.SweepDuration = time.Since(start)
	gc.sweepCount.Add(1)
	gc.lastStats.Store(stats)
	return stats
}

// ---------------------------------------------------------------------------
// Full mark/sweep
// ---------------------------------------------------------------------------

// CollectGarbage performs a full mark/sweep over every registry. Roots
// are the globals, the active frames, the exception chain, signal
// handlers, and pinned handles. Caller must ensure no frame of this VM
// is executing.
func (gc *RegistryGC) CollectGarbage() *RegistryGCStats {
	vm := gc.vm
	start := time.Now()
	stats := &RegistryGCStats{Timestamp: start}

	marked := make(map[Value]bool)
	var worklist []Value
	visit := func(v Value) {
		if v.IsHandle() && !marked[v] {
			marked[v] = true
			worklist = append(worklist, v)
		}
	}

	vm.markRoots(visit)

	vm.registryMu.Lock()
	defer vm.registryMu.Unlock()

	for len(worklist) > 0 {
		v := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		vm.traverseHandleLocked(v, visit)
	}

	for i, s := range vm.strings {
		if !marked[FromHandle(HandleString, i)] {
			delete(vm.strings, i)
			delete(vm.interned, s)
			stats.Strings++
		}
	}
	for i := range vm.lists {
		if !marked[FromHandle(HandleList, i)] {
			delete(vm.lists, i)
			stats.Lists++
		}
	}
	for i := range vm.functions {
		if !marked[FromHandle(HandleFunction, i)] {
			delete(vm.functions, i)
			stats.Functions++
		}
	}
	for i := range vm.natives {
		if !marked[FromHandle(HandleNative, i)] {
			delete(vm.natives, i)
			stats.Natives++
		}
	}
	for i, g := range vm.generators {
		if !marked[FromHandle(HandleGenerator, i)] && g.State() != CoroRunning {
			delete(vm.generators, i)
			stats.Generators++
		}
	}
	for i := range vm.exceptions {
		if !marked[FromHandle(HandleException, i)] {
			delete(vm.exceptions, i)
			stats.Exceptions++
		}
	}
	for i := range vm.cells {
		if !marked[FromHandle(HandleCell, i)] {
			delete(vm.cells, i)
			stats.Cells++
		}
	}
	for i := range vm.iterators {
		if !marked[FromHandle(HandleIterator, i)] {
			delete(vm.iterators, i)
			stats.Iterators++
		}
	}

	stats.TotalSwept = stats.Strings + stats.Lists + stats.Functions +
		stats.Natives + stats.Generators + stats.Exceptions +
		stats.Cells + stats.Iterators
	stats.Live = len(vm.strings) + len(vm.lists) + len(vm.functions) +
		len(vm.natives) + len(vm.generators) + len(vm.exceptions) +
		len(vm.cells) + len(vm.iterators)
	stats.SweepDuration = time.Since(start)

	gc.sweepCount.Add(1)
	gc.lastStats.Store(stats)
	return stats
}

// markRoots feeds every root reference to visit.
func (vm *VM) markRoots(visit func(Value)) {
	vm.globalsMu.RLock()
	for _, v := range vm.globals {
		visit(v)
	}
	vm.globalsMu.RUnlock()

	for _, f := range vm.snapshotActiveFrames() {
		f.Traverse(visit)
	}

	for _, exc := range vm.excChain {
		exc.Traverse(visit)
	}

	for _, h := range vm.signalHandlers {
		visit(h)
	}

	vm.pinMu.Lock()
	for v := range vm.pinned {
		visit(v)
	}
	vm.pinMu.Unlock()
}

// traverseHandleLocked follows the outgoing edges of one marked handle.
// registryMu is held.
func (vm *VM) traverseHandleLocked(v Value, visit func(Value)) {
	id := v.HandleID()
	switch v.HandleKind() {
	case HandleList:
		if l := vm.lists[id]; l != nil {
			l.Traverse(visit)
		}
	case HandleFunction:
		if fn := vm.functions[id]; fn != nil {
			fn.Traverse(visit)
		}
	case HandleGenerator:
		if g := vm.generators[id]; g != nil {
			g.Traverse(visit)
		}
	case HandleException:
		if exc := vm.exceptions[id]; exc != nil {
			exc.Traverse(visit)
		}
	case HandleCell:
		if c := vm.cells[id]; c != nil {
			c.Traverse(visit)
		}
	case HandleIterator:
		if it := vm.iterators[id]; it != nil {
			it.Traverse(visit)
		}
	}
}

// ---------------------------------------------------------------------------
// Pinning
// ---------------------------------------------------------------------------

// Pin protects a handle from CollectGarbage while the host holds it
// outside any VM-visible root. Pins nest.
func (vm *VM) Pin(v Value) {
	if !v.IsHandle() {
		return
	}
	vm.pinMu.Lock()
	vm.pinned[v]++
	vm.pinMu.Unlock()
}

// Unpin releases one Pin.
func (vm *VM) Unpin(v Value) {
	if !v.IsHandle() {
		return
	}
	vm.pinMu.Lock()
	if vm.pinned[v] > 1 {
		vm.pinned[v]--
	} else {
		delete(vm.pinned, v)
	}
	vm.pinMu.Unlock()
}
