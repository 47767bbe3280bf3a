package vm

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// VM: the embedding surface
// ---------------------------------------------------------------------------

// VM executes CodeObjects. Each VM owns its registries, globals, and
// exception context; CodeObjects are immutable and freely shared between
// VMs and threads. A single VM runs one logical thread of guest
// execution; the threaded configuration is for embedders that pin
// distinct frames to distinct VMs over shared code and cells.
type VM struct {
	// ID identifies this VM instance in trace output.
	ID uuid.UUID

	cfg Config
	om  ObjectModel

	globalsMu sync.RWMutex
	globals   map[string]Value

	// Heap registries, keyed by handle ID. Swept by RegistryGC.
	registryMu sync.RWMutex
	nextID     atomic.Uint32
	strings    map[uint32]string
	interned   map[string]uint32
	lists      map[uint32]*ListObject
	functions  map[uint32]*FunctionObject
	natives    map[uint32]*NativeFunc
	generators map[uint32]*Coro
	exceptions map[uint32]*ExceptionObject
	cells      map[uint32]*Cell
	iterators  map[uint32]*ListIterator

	// excChain is the stack of exceptions currently being handled. Coro
	// resumptions swap it wholesale with the coroutine's saved chain.
	excChain []*ExceptionObject

	// framesMu guards the set of frames currently executing, which the
	// registry GC uses as roots.
	framesMu     sync.Mutex
	activeFrames []*Frame

	callDepth int

	// pinned counts host-held handle references so CollectGarbage never
	// reclaims values the embedder still uses.
	pinMu  sync.Mutex
	pinned map[Value]int

	signalHandlers map[int]Value

	tracer *Tracer
	gc     *RegistryGC
}

// New creates a VM with the default configuration and the core object
// model.
func New() *VM {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a VM with an explicit configuration.
func NewWithConfig(cfg Config) *VM {
	cfg.applyDefaults()
	vm := &VM{
		ID:             uuid.New(),
		cfg:            cfg,
		globals:        make(map[string]Value),
		strings:        make(map[uint32]string),
		interned:       make(map[string]uint32),
		lists:          make(map[uint32]*ListObject),
		functions:      make(map[uint32]*FunctionObject),
		natives:        make(map[uint32]*NativeFunc),
		generators:     make(map[uint32]*Coro),
		exceptions:     make(map[uint32]*ExceptionObject),
		cells:          make(map[uint32]*Cell),
		iterators:      make(map[uint32]*ListIterator),
		pinned:         make(map[Value]int),
		signalHandlers: make(map[int]Value),
	}
	vm.om = NewCoreModel()
	if cfg.TraceLevel > 0 {
		vm.tracer = newTracer(vm, cfg.TraceLevel)
	}
	vm.gc = NewRegistryGC(vm, cfg.RegistryGCInterval())
	return vm
}

// Config returns the VM's configuration.
func (vm *VM) Config() Config { return vm.cfg }

// SetObjectModel replaces the dispatch capability. Must be called before
// any execution.
func (vm *VM) SetObjectModel(om ObjectModel) { vm.om = om }

// ObjectModel returns the active dispatch capability.
func (vm *VM) ObjectModel() ObjectModel { return vm.om }

// RegistryGC returns the VM's registry collector.
func (vm *VM) RegistryGC() *RegistryGC { return vm.gc }

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// LoadGlobal reads a global by name.
func (vm *VM) LoadGlobal(name string) (Value, bool) {
	vm.globalsMu.RLock()
	defer vm.globalsMu.RUnlock()
	v, ok := vm.globals[name]
	return v, ok
}

// StoreGlobal sets a global by name.
func (vm *VM) StoreGlobal(name string, v Value) {
	vm.globalsMu.Lock()
	defer vm.globalsMu.Unlock()
	vm.globals[name] = v
}

// ---------------------------------------------------------------------------
// Exception context
// ---------------------------------------------------------------------------

func (vm *VM) pushExcStack(exc *ExceptionObject) {
	vm.excChain = append(vm.excChain, exc)
}

func (vm *VM) popExcStack() *ExceptionObject {
	if len(vm.excChain) == 0 {
		panic("vm: exception chain underflow")
	}
	exc := vm.excChain[len(vm.excChain)-1]
	vm.excChain = vm.excChain[:len(vm.excChain)-1]
	return exc
}

// currentException returns the exception being handled, or nil.
func (vm *VM) currentException() *ExceptionObject {
	if len(vm.excChain) == 0 {
		return nil
	}
	return vm.excChain[len(vm.excChain)-1]
}

// swapExcChain installs a different exception chain and returns the old
// one. Used by Coro around every resumption.
func (vm *VM) swapExcChain(chain []*ExceptionObject) []*ExceptionObject {
	old := vm.excChain
	vm.excChain = chain
	return old
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// materializeConst turns a VM-independent constant into a Value in this
// VM.
func (vm *VM) materializeConst(c Constant) Value {
	switch c.Kind {
	case ConstNil:
		return Nil
	case ConstTrue:
		return True
	case ConstFalse:
		return False
	case ConstInt:
		if v, ok := TryFromSmallInt(c.Int); ok {
			return v
		}
		// Decoded images may carry integers beyond the small-int range;
		// widen to float the way overflowing arithmetic does.
		return FromFloat64(float64(c.Int))
	case ConstFloat:
		return FromFloat64(c.Float)
	case ConstString:
		return vm.NewString(c.Str)
	case ConstCode:
		panic("vm: code constants are materialized by MAKE_FUNCTION")
	default:
		panic("vm: unknown constant kind")
	}
}

// ---------------------------------------------------------------------------
// Calling
// ---------------------------------------------------------------------------

// Call invokes any callable value: compiled functions and natives
// directly, everything else through the object model.
func (vm *VM) Call(callee Value, args []Value) (Value, *ExceptionObject) {
	if callee.IsHandle() {
		switch callee.HandleKind() {
		case HandleFunction:
			fn := vm.GetFunction(callee)
			if fn == nil {
				return Nil, NewException(ExcType, "call of dead function handle")
			}
			return vm.callFunction(fn, args)
		case HandleNative:
			n := vm.GetNative(callee)
			if n == nil {
				return Nil, NewException(ExcType, "call of dead native handle")
			}
			return n.Fn(vm, args)
		}
	}
	return vm.om.Call(vm, callee, args)
}

// callFunction creates and drives a frame for one invocation. Generator
// code hands the frame to a Coro instead of running it.
func (vm *VM) callFunction(fn *FunctionObject, args []Value) (Value, *ExceptionObject) {
	if vm.callDepth >= vm.cfg.MaxCallDepth {
		return Nil, NewException(ExcRuntime, "maximum call depth exceeded")
	}
	frame, exc := vm.NewFrame(fn.Code, fn, args)
	if exc != nil {
		return Nil, exc
	}
	if fn.Code.IsGenerator() {
		return vm.registerGenerator(newCoro(vm, fn.Code.Name, frame)), nil
	}
	return vm.runFrame(frame)
}

// runFrame executes a non-generator frame to completion.
func (vm *VM) runFrame(frame *Frame) (Value, *ExceptionObject) {
	vm.callDepth++
	vm.pushActiveFrame(frame)
	if vm.tracer != nil {
		vm.tracer.enterFrame(frame)
	}

	res := frame.Execute()

	if vm.tracer != nil {
		vm.tracer.leaveFrame(frame, res)
	}
	vm.popActiveFrame()
	vm.callDepth--

	switch res.Kind {
	case ResultReturn:
		return res.Value, nil
	case ResultException:
		return Nil, res.Exc
	default:
		// A yield in non-generator code is a compiler contract
		// violation surfaced as a guest error, since the bytecode may
		// come from outside.
		return Nil, NewException(ExcRuntime, "yield outside generator")
	}
}

// Run executes a top-level CodeObject. For generator-flagged code it
// returns a generator handle; otherwise it runs to completion and
// returns the result or the uncaught exception.
func (vm *VM) Run(code *CodeObject) (Value, *ExceptionObject) {
	frame, exc := vm.NewFrame(code, nil, nil)
	if exc != nil {
		return Nil, exc
	}
	if code.IsGenerator() {
		return vm.registerGenerator(newCoro(vm, code.Name, frame)), nil
	}
	return vm.runFrame(frame)
}

// ---------------------------------------------------------------------------
// Active frame tracking (GC roots)
// ---------------------------------------------------------------------------

func (vm *VM) pushActiveFrame(f *Frame) {
	vm.framesMu.Lock()
	vm.activeFrames = append(vm.activeFrames, f)
	vm.framesMu.Unlock()
}

func (vm *VM) popActiveFrame() {
	vm.framesMu.Lock()
	vm.activeFrames = vm.activeFrames[:len(vm.activeFrames)-1]
	vm.framesMu.Unlock()
}

func (vm *VM) snapshotActiveFrames() []*Frame {
	vm.framesMu.Lock()
	defer vm.framesMu.Unlock()
	frames := make([]*Frame, len(vm.activeFrames))
	copy(frames, vm.activeFrames)
	return frames
}
