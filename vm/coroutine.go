package vm

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Coroutine engine
// ---------------------------------------------------------------------------
//
// A Coro turns a suspendable Frame into a generator/coroutine. The
// resumable state is ordinary heap data — the frame's operand stack,
// block stack, and instruction pointer — re-entered through the same
// dispatch loop. There is no host stack-switching anywhere.

// CoroState tracks the suspend/resume state machine.
type CoroState int32

const (
	// CoroCreated: built but never resumed (lasti == 0).
	CoroCreated CoroState = iota

	// CoroRunning: currently executing; re-entry is an error.
	CoroRunning

	// CoroSuspended: parked at a yield, awaiting send/throw/close.
	CoroSuspended

	// CoroClosed: exhausted, failed, or closed. Terminal.
	CoroClosed
)

var coroStateNames = [...]string{"created", "running", "suspended", "closed"}

// String returns the state name.
func (s CoroState) String() string {
	if int(s) < len(coroStateNames) {
		return coroStateNames[s]
	}
	return "invalid"
}

// Resumption is the outcome of a successful send/throw: either the value
// the body yielded, or (Returned=true) the value it returned.
type Resumption struct {
	Value    Value
	Returned bool
}

// Coro owns a suspended frame between resumptions. The frame reference
// drops to nil once the coroutine is closed, releasing everything it
// held. Resumptions are serialized by mu in threaded configurations; the
// state word converts cooperative re-entry into an error before the lock
// is ever touched.
type Coro struct {
	vm    *VM
	name  string
	mu    sync.Mutex
	state atomic.Int32
	frame *Frame

	// savedExcChain holds the coroutine's exception context while it is
	// suspended. It is swapped with the VM's chain around every
	// resumption so caller and callee contexts never interleave.
	savedExcChain []*ExceptionObject
}

// newCoro wraps a fresh frame. The frame must not have started executing.
func newCoro(vm *VM, name string, frame *Frame) *Coro {
	return &Coro{vm: vm, name: name, frame: frame}
}

// Name returns the coroutine's name (its code object's name).
func (g *Coro) Name() string { return g.name }

// State returns the current lifecycle state.
func (g *Coro) State() CoroState { return CoroState(g.state.Load()) }

// Started reports whether the body has begun executing.
func (g *Coro) Started() bool { return g.State() != CoroCreated }

// Traverse visits the suspended frame's references and any exception
// payloads parked in the saved exception context. Single visit per owned
// reference; no locks taken.
func (g *Coro) Traverse(visit func(Value)) {
	if f := g.frame; f != nil {
		f.Traverse(visit)
	}
	for _, exc := range g.savedExcChain {
		exc.Traverse(visit)
	}
}

// ---------------------------------------------------------------------------
// send / throw / close
// ---------------------------------------------------------------------------

// Send resumes the coroutine with a value. The first send must be nil:
// there is no suspended yield to receive anything else.
func (g *Coro) Send(v Value) (Resumption, *ExceptionObject) {
	switch g.State() {
	case CoroRunning:
		return Resumption{}, NewException(ExcValue, "generator already executing")
	case CoroClosed:
		return Resumption{}, NewException(ExcStopIteration, "")
	case CoroCreated:
		if v != Nil {
			return Resumption{}, NewException(ExcType,
				"can't send non-nil value to a just-started generator")
		}
		return g.resume(func(f *Frame) ExecResult { return f.Execute() })
	default: // CoroSuspended
		return g.resume(func(f *Frame) ExecResult { return f.resumeValue(v) })
	}
}

// Throw raises exc at the suspension point. A coroutine that has not
// started has no handlers installed yet, so the exception propagates out
// immediately; a closed coroutine re-raises exc unchanged.
func (g *Coro) Throw(exc *ExceptionObject) (Resumption, *ExceptionObject) {
	switch g.State() {
	case CoroRunning:
		return Resumption{}, NewException(ExcValue, "generator already executing")
	case CoroClosed:
		return Resumption{}, exc
	default:
		return g.resume(func(f *Frame) ExecResult { return f.resumeThrow(exc) })
	}
}

// Close cancels the coroutine by raising GeneratorExit at the suspension
// point. It is idempotent and reachable from every state. The body must
// exit: yielding again is an error. Returns nil on orderly shutdown.
func (g *Coro) Close() *ExceptionObject {
	switch g.State() {
	case CoroClosed:
		return nil
	case CoroRunning:
		return NewException(ExcValue, "generator already executing")
	case CoroCreated:
		// Never started: nothing to unwind.
		g.mu.Lock()
		g.frame = nil
		g.state.Store(int32(CoroClosed))
		g.mu.Unlock()
		return nil
	}

	res, exc := g.resume(func(f *Frame) ExecResult {
		return f.resumeThrow(NewException(ExcGeneratorExit, ""))
	})
	if exc != nil {
		if exc.isCompletion() {
			return nil
		}
		return exc
	}
	if !res.Returned {
		// The body swallowed the cancellation and yielded again.
		g.shutdown()
		return NewException(ExcRuntime, "generator ignored GeneratorExit")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Resumption machinery
// ---------------------------------------------------------------------------

// resume drives one entry into the frame, swapping the exception-chain
// context in and out so caller and callee state never cross-contaminate.
func (g *Coro) resume(enter func(*Frame) ExecResult) (Resumption, *ExceptionObject) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Re-check under the lock: a racing resumption may have won.
	switch CoroState(g.state.Load()) {
	case CoroRunning:
		return Resumption{}, NewException(ExcValue, "generator already executing")
	case CoroClosed:
		return Resumption{}, NewException(ExcStopIteration, "")
	}

	frame := g.frame
	g.state.Store(int32(CoroRunning))

	vm := g.vm
	callerChain := vm.swapExcChain(g.savedExcChain)
	if vm.tracer != nil {
		vm.tracer.coroEvent(g, "resume")
	}

	res := enter(frame)

	g.savedExcChain = vm.swapExcChain(callerChain)
	if vm.tracer != nil {
		vm.tracer.coroEvent(g, "suspend")
	}

	switch res.Kind {
	case ResultYield:
		g.state.Store(int32(CoroSuspended))
		return Resumption{Value: res.Value}, nil
	case ResultReturn:
		g.frame = nil
		g.state.Store(int32(CoroClosed))
		return Resumption{Value: res.Value, Returned: true}, nil
	default: // ResultException
		g.frame = nil
		g.state.Store(int32(CoroClosed))
		return Resumption{}, res.Exc
	}
}

// shutdown force-closes without running the body further.
func (g *Coro) shutdown() {
	g.mu.Lock()
	g.frame = nil
	g.state.Store(int32(CoroClosed))
	g.mu.Unlock()
}
