package vm

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Heap objects behind registry handles
// ---------------------------------------------------------------------------
//
// Every heap value the VM mints lives in a VM-local registry keyed by a
// 32-bit ID and is referenced from guest code as a NaN-boxed handle. The
// registries are swept by the registry GC (registry_gc.go) using each
// object's Traverse capability.

// ListObject is a mutable guest list.
type ListObject struct {
	Elements []Value
}

// Traverse visits each element exactly once.
func (l *ListObject) Traverse(visit func(Value)) {
	for _, v := range l.Elements {
		visit(v)
	}
}

// ListIterator walks a list by index. It holds the list's handle rather
// than the Go pointer so the registry GC sees the edge.
type ListIterator struct {
	List  Value
	Index int
}

// Traverse visits the iterated list.
func (it *ListIterator) Traverse(visit func(Value)) {
	visit(it.List)
}

// FunctionObject pairs a CodeObject with its captured environment.
type FunctionObject struct {
	Name     string
	Code     *CodeObject
	Defaults []Value // trailing parameter defaults
	Freevars []Value // cell handles, one per FreeNames slot
}

// Traverse visits the function's owned references exactly once.
func (f *FunctionObject) Traverse(visit func(Value)) {
	for _, v := range f.Defaults {
		visit(v)
	}
	for _, v := range f.Freevars {
		visit(v)
	}
}

// NativeFunc is a host function exposed to guest code.
type NativeFunc struct {
	Name string
	Fn   func(vm *VM, args []Value) (Value, *ExceptionObject)
}

// ---------------------------------------------------------------------------
// Cells: shared mutable boxes for closure variables
// ---------------------------------------------------------------------------

// Cell is a heap box shared between a frame and the closures it creates.
// Access goes through a cooperative guard: in the single-threaded
// configuration a reentrant borrow panics immediately instead of blocking,
// modelling single-owner access; the threaded configuration uses a real
// mutex. Traverse reads the value directly and takes no lock, so the
// collector can never block on a mutator-held guard.
type Cell struct {
	threaded bool
	mu       sync.Mutex
	busy     atomic.Bool
	v        Value
}

func newCell(v Value, threaded bool) *Cell {
	return &Cell{threaded: threaded, v: v}
}

func (c *Cell) borrow() {
	if c.threaded {
		c.mu.Lock()
		return
	}
	if !c.busy.CompareAndSwap(false, true) {
		panic("vm: reentrant cell access")
	}
}

func (c *Cell) release() {
	if c.threaded {
		c.mu.Unlock()
		return
	}
	c.busy.Store(false)
}

// Get returns the cell contents.
func (c *Cell) Get() Value {
	c.borrow()
	defer c.release()
	return c.v
}

// Set replaces the cell contents.
func (c *Cell) Set(v Value) {
	c.borrow()
	defer c.release()
	c.v = v
}

// Traverse visits the cell's single owned reference.
func (c *Cell) Traverse(visit func(Value)) {
	visit(c.v)
}

// ---------------------------------------------------------------------------
// VM registry accessors
// ---------------------------------------------------------------------------

func (vm *VM) nextHandleID() uint32 {
	return vm.nextID.Add(1)
}

// NewString interns a string and returns its handle. Equal strings share
// one handle, so identity comparison on interned strings is cheap.
func (vm *VM) NewString(s string) Value {
	vm.registryMu.Lock()
	defer vm.registryMu.Unlock()
	if id, ok := vm.interned[s]; ok {
		return FromHandle(HandleString, id)
	}
	id := vm.nextHandleID()
	vm.strings[id] = s
	vm.interned[s] = id
	return FromHandle(HandleString, id)
}

// StringContent returns the string behind a handle.
// The second result is false if v is not a live string handle.
func (vm *VM) StringContent(v Value) (string, bool) {
	if !v.IsHandleOf(HandleString) {
		return "", false
	}
	vm.registryMu.RLock()
	defer vm.registryMu.RUnlock()
	s, ok := vm.strings[v.HandleID()]
	return s, ok
}

// NewList creates a list object owning the given elements.
func (vm *VM) NewList(elements []Value) Value {
	l := &ListObject{Elements: elements}
	vm.registryMu.Lock()
	defer vm.registryMu.Unlock()
	id := vm.nextHandleID()
	vm.lists[id] = l
	return FromHandle(HandleList, id)
}

// GetList returns the list behind a handle, or nil.
func (vm *VM) GetList(v Value) *ListObject {
	if !v.IsHandleOf(HandleList) {
		return nil
	}
	vm.registryMu.RLock()
	defer vm.registryMu.RUnlock()
	return vm.lists[v.HandleID()]
}

// NewFunction registers a function object and returns its handle.
func (vm *VM) NewFunction(fn *FunctionObject) Value {
	vm.registryMu.Lock()
	defer vm.registryMu.Unlock()
	id := vm.nextHandleID()
	vm.functions[id] = fn
	return FromHandle(HandleFunction, id)
}

// GetFunction returns the function behind a handle, or nil.
func (vm *VM) GetFunction(v Value) *FunctionObject {
	if !v.IsHandleOf(HandleFunction) {
		return nil
	}
	vm.registryMu.RLock()
	defer vm.registryMu.RUnlock()
	return vm.functions[v.HandleID()]
}

// NewNative registers a host function and returns its handle.
func (vm *VM) NewNative(name string, fn func(vm *VM, args []Value) (Value, *ExceptionObject)) Value {
	vm.registryMu.Lock()
	defer vm.registryMu.Unlock()
	id := vm.nextHandleID()
	vm.natives[id] = &NativeFunc{Name: name, Fn: fn}
	return FromHandle(HandleNative, id)
}

// GetNative returns the native function behind a handle, or nil.
func (vm *VM) GetNative(v Value) *NativeFunc {
	if !v.IsHandleOf(HandleNative) {
		return nil
	}
	vm.registryMu.RLock()
	defer vm.registryMu.RUnlock()
	return vm.natives[v.HandleID()]
}

func (vm *VM) registerGenerator(g *Coro) Value {
	vm.registryMu.Lock()
	defer vm.registryMu.Unlock()
	id := vm.nextHandleID()
	vm.generators[id] = g
	return FromHandle(HandleGenerator, id)
}

// GetGenerator returns the coroutine behind a handle, or nil.
func (vm *VM) GetGenerator(v Value) *Coro {
	if !v.IsHandleOf(HandleGenerator) {
		return nil
	}
	vm.registryMu.RLock()
	defer vm.registryMu.RUnlock()
	return vm.generators[v.HandleID()]
}

// NewExceptionValue registers an exception object and returns its handle.
func (vm *VM) NewExceptionValue(exc *ExceptionObject) Value {
	vm.registryMu.Lock()
	defer vm.registryMu.Unlock()
	id := vm.nextHandleID()
	vm.exceptions[id] = exc
	return FromHandle(HandleException, id)
}

// GetException returns the exception behind a handle, or nil.
func (vm *VM) GetException(v Value) *ExceptionObject {
	if !v.IsHandleOf(HandleException) {
		return nil
	}
	vm.registryMu.RLock()
	defer vm.registryMu.RUnlock()
	return vm.exceptions[v.HandleID()]
}

// NewCellValue creates a cell holding v and returns its handle.
func (vm *VM) NewCellValue(v Value) Value {
	c := newCell(v, vm.cfg.Threaded)
	vm.registryMu.Lock()
	defer vm.registryMu.Unlock()
	id := vm.nextHandleID()
	vm.cells[id] = c
	return FromHandle(HandleCell, id)
}

// GetCell returns the cell behind a handle, or nil.
func (vm *VM) GetCell(v Value) *Cell {
	if !v.IsHandleOf(HandleCell) {
		return nil
	}
	vm.registryMu.RLock()
	defer vm.registryMu.RUnlock()
	return vm.cells[v.HandleID()]
}

// NewListIterator registers an iterator over a list handle.
func (vm *VM) NewListIterator(list Value) Value {
	vm.registryMu.Lock()
	defer vm.registryMu.Unlock()
	id := vm.nextHandleID()
	vm.iterators[id] = &ListIterator{List: list}
	return FromHandle(HandleIterator, id)
}

// GetListIterator returns the iterator behind a handle, or nil.
func (vm *VM) GetListIterator(v Value) *ListIterator {
	if !v.IsHandleOf(HandleIterator) {
		return nil
	}
	vm.registryMu.RLock()
	defer vm.registryMu.RUnlock()
	return vm.iterators[v.HandleID()]
}
