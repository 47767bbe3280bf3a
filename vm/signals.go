package vm

import (
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Asynchronous signals
// ---------------------------------------------------------------------------
//
// Signals are process-wide pending flags set from any goroutine (for
// example an os/signal relay) and polled by the dispatch loop every
// SignalCheckInterval instructions. Delivery is therefore always at an
// instruction boundary with a balanced operand stack.

// NumSignals is the size of the pending-flag array.
const NumSignals = 32

var pendingSignals [NumSignals]atomic.Bool

// TriggerSignal marks signal n pending. Safe from any goroutine.
// Out-of-range numbers are ignored.
func TriggerSignal(n int) {
	if n >= 0 && n < NumSignals {
		pendingSignals[n].Store(true)
	}
}

// SignalPending reports whether signal n is pending without consuming it.
func SignalPending(n int) bool {
	return n >= 0 && n < NumSignals && pendingSignals[n].Load()
}

// OnSignal registers a guest callable to run when signal n is
// delivered. A Nil handler removes the registration, restoring the
// default behavior of raising Interrupt.
func (vm *VM) OnSignal(n int, handler Value) {
	if n < 0 || n >= NumSignals {
		return
	}
	if handler == Nil {
		delete(vm.signalHandlers, n)
		return
	}
	vm.signalHandlers[n] = handler
}

// checkSignals consumes one pending signal if any. A registered handler
// runs as an ordinary call; its exceptions propagate from the polling
// instruction. Without a handler the signal surfaces as Interrupt.
func (vm *VM) checkSignals() *ExceptionObject {
	for n := 0; n < NumSignals; n++ {
		if !pendingSignals[n].CompareAndSwap(true, false) {
			continue
		}
		if handler, ok := vm.signalHandlers[n]; ok {
			_, exc := vm.Call(handler, []Value{FromSmallInt(int64(n))})
			return exc
		}
		return Exceptionf(ExcInterrupt, "signal %d", n)
	}
	return nil
}
