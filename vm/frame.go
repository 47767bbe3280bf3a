package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Execution results
// ---------------------------------------------------------------------------

// ExecResultKind classifies how one entry into a frame ended.
type ExecResultKind uint8

const (
	// ResultReturn: the frame completed with a value.
	ResultReturn ExecResultKind = iota

	// ResultYield: the frame suspended at a yield. Its operand and block
	// stacks are preserved for resumption.
	ResultYield

	// ResultException: an exception escaped the frame's block stack. It
	// is returned to the caller as data, never via Go unwinding.
	ResultException
)

// ExecResult is the terminal outcome of one entry into a frame.
type ExecResult struct {
	Kind  ExecResultKind
	Value Value
	Exc   *ExceptionObject
}

// ---------------------------------------------------------------------------
// Block stack
// ---------------------------------------------------------------------------

type blockKind uint8

const (
	blockLoop blockKind = iota
	blockTryExcept
	blockFinally
	blockWith
)

// block is one dynamically-scoped unwind target. level is the operand
// stack depth recorded at block entry; unwinding discards down to it.
type block struct {
	kind   blockKind
	target int   // handler / loop-end / finally-body / after-with index
	level  int   // operand stack depth to restore on unwind
	exit   Value // with-blocks: the exit capability, invoked exactly once
}

// unwindKind says why the block stack is being unwound.
type unwindKind uint8

const (
	unwindNone unwindKind = iota // finally entered from normal completion
	unwindReturn
	unwindBreak
	unwindContinue
	unwindException
)

// unwindReason is the pending control transfer a finally body must resume
// when it completes (via END_FINALLY).
type unwindReason struct {
	kind   unwindKind
	value  Value // return value
	target int   // continue: loop head index
	exc    *ExceptionObject
}

// ---------------------------------------------------------------------------
// Frame
// ---------------------------------------------------------------------------

// Frame is the mutable execution context for one invocation of a
// CodeObject. Ordinary calls create and destroy one per invocation; a
// generator call creates one that persists across suspensions, owned by
// its Coro between resumptions.
type Frame struct {
	vm   *VM
	code *CodeObject
	fn   *FunctionObject // nil for top-level code

	stack   []Value
	locals  []Value
	cells   []Value // cell handles: own cells first, then frees
	blocks  []block
	pending []unwindReason // suspended unwinds, one per active finally body
	lasti   int

	running    bool
	excEntries int // entries this frame pushed on the VM exception chain
	ticks      int // instructions since the last signal check
}

// NewFrame builds a frame for code with bound arguments. Missing trailing
// arguments are filled from fn's defaults; an arity mismatch beyond that
// is a TypeError.
func (vm *VM) NewFrame(code *CodeObject, fn *FunctionObject, args []Value) (*Frame, *ExceptionObject) {
	bound, exc := bindArguments(code, fn, args)
	if exc != nil {
		return nil, exc
	}

	locals := make([]Value, len(code.LocalNames))
	copy(locals, bound)
	for i := len(bound); i < len(locals); i++ {
		locals[i] = Nil
	}

	cells := make([]Value, 0, code.NumCells())
	for range code.CellNames {
		cells = append(cells, vm.NewCellValue(Nil))
	}
	if len(code.FreeNames) > 0 {
		if fn == nil || len(fn.Freevars) != len(code.FreeNames) {
			panic("vm: free variable count mismatch")
		}
		cells = append(cells, fn.Freevars...)
	}

	return &Frame{
		vm:     vm,
		code:   code,
		fn:     fn,
		locals: locals,
		cells:  cells,
	}, nil
}

func bindArguments(code *CodeObject, fn *FunctionObject, args []Value) ([]Value, *ExceptionObject) {
	if len(args) == code.Argcount {
		return args, nil
	}
	if fn != nil && len(args) < code.Argcount &&
		len(args)+len(fn.Defaults) >= code.Argcount {
		bound := make([]Value, code.Argcount)
		copy(bound, args)
		// Defaults align with the trailing parameters.
		offset := code.Argcount - len(fn.Defaults)
		for i := len(args); i < code.Argcount; i++ {
			bound[i] = fn.Defaults[i-offset]
		}
		return bound, nil
	}
	return nil, Exceptionf(ExcType, "%s() takes %d arguments (%d given)",
		code.Name, code.Argcount, len(args))
}

// Code returns the code object this frame executes.
func (f *Frame) Code() *CodeObject { return f.code }

// Lasti returns the current instruction pointer.
func (f *Frame) Lasti() int { return f.lasti }

// StackDepth returns the current operand stack depth.
func (f *Frame) StackDepth() int { return len(f.stack) }

// BlockDepth returns the current block stack depth.
func (f *Frame) BlockDepth() int { return len(f.blocks) }

// Traverse visits every reference the frame owns exactly once: operand
// stack, locals, cells, with-block exit capabilities, and values held by
// suspended unwinds. It takes no locks.
func (f *Frame) Traverse(visit func(Value)) {
	for _, v := range f.stack {
		visit(v)
	}
	for _, v := range f.locals {
		visit(v)
	}
	for _, v := range f.cells {
		visit(v)
	}
	for _, b := range f.blocks {
		if b.kind == blockWith {
			visit(b.exit)
		}
	}
	for _, r := range f.pending {
		visit(r.value)
		if r.exc != nil {
			visit(r.exc.Payload)
		}
	}
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------
//
// Underflow here is a VM or compiler defect, never a guest condition, so
// it panics.

func (f *Frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *Frame) pop() Value {
	if len(f.stack) == 0 {
		panic("vm: operand stack underflow")
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *Frame) top() Value {
	if len(f.stack) == 0 {
		panic("vm: operand stack underflow")
	}
	return f.stack[len(f.stack)-1]
}

func (f *Frame) popN(n int) []Value {
	if len(f.stack) < n {
		panic("vm: operand stack underflow")
	}
	vals := make([]Value, n)
	copy(vals, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return vals
}

func (f *Frame) truncateStack(level int) {
	if len(f.stack) < level {
		panic("vm: corrupted block stack: recorded depth exceeds operand stack")
	}
	f.stack = f.stack[:level]
}

func (f *Frame) pushBlock(kind blockKind, target int, exit Value) {
	f.blocks = append(f.blocks, block{kind: kind, target: target, level: len(f.stack), exit: exit})
}

func (f *Frame) popBlockEntry() block {
	if len(f.blocks) == 0 {
		panic("vm: block stack underflow")
	}
	b := f.blocks[len(f.blocks)-1]
	f.blocks = f.blocks[:len(f.blocks)-1]
	return b
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Execute runs a fresh frame from its first instruction.
func (f *Frame) Execute() ExecResult {
	return f.run()
}

// resumeValue pushes the resume value at the suspension point and
// continues. The yield left lasti at the following instruction.
func (f *Frame) resumeValue(v Value) ExecResult {
	f.push(v)
	return f.run()
}

// resumeThrow dispatches exc directly into exception handling at the
// saved position, as if the suspended yield had raised it.
func (f *Frame) resumeThrow(exc *ExceptionObject) ExecResult {
	at := f.lasti
	if at > 0 {
		at--
	}
	exc.addTraceback(f.code, at)
	res, resumed := f.unwind(unwindReason{kind: unwindException, exc: exc})
	if !resumed {
		return f.finish(res)
	}
	return f.run()
}

// finish settles frame state for a terminal result. Exception-chain
// entries this frame still holds are released unless it is merely
// suspending.
func (f *Frame) finish(res ExecResult) ExecResult {
	if res.Kind != ResultYield {
		for f.excEntries > 0 {
			f.vm.popExcStack()
			f.excEntries--
		}
	}
	return res
}

// ---------------------------------------------------------------------------
// The dispatch loop
// ---------------------------------------------------------------------------

// run is the fetch-decode-execute loop. Every iteration ends in one of
// three ways: fall through (state mutated), control transfer (lasti
// overwritten), or a terminal result for this entry.
func (f *Frame) run() ExecResult {
	if f.running {
		return ExecResult{Kind: ResultException,
			Exc: NewException(ExcRuntime, "frame already executing")}
	}
	f.running = true
	defer func() { f.running = false }()

	vm := f.vm
	code := f.code
	interval := vm.cfg.SignalCheckInterval

	for {
		// Deferred external notifications surface here, at the only
		// safe point.
		f.ticks++
		if f.ticks >= interval {
			f.ticks = 0
			if exc := vm.checkSignals(); exc != nil {
				if res, resumed := f.raiseHere(exc); !resumed {
					return f.finish(res)
				}
				continue
			}
		}

		if f.lasti >= len(code.Insns) {
			panic(fmt.Sprintf("vm: %s: fell off the end of code", code.Name))
		}
		ins := code.Insns[f.lasti]
		f.lasti++

		if vm.tracer != nil {
			vm.tracer.instruction(f, ins)
		}

		switch ins.Op {
		// --- Stack operations ---
		case OpNop:
			// Do nothing.

		case OpPop:
			f.pop()

		case OpDup:
			f.push(f.top())

		case OpRotTwo:
			a := f.pop()
			b := f.pop()
			f.push(a)
			f.push(b)

		// --- Constants and variables ---
		case OpLoadConst:
			f.push(vm.materializeConst(code.Consts[ins.Arg]))

		case OpLoadLocal:
			f.push(f.locals[ins.Arg])

		case OpStoreLocal:
			f.locals[ins.Arg] = f.pop()

		case OpLoadCell:
			cell := vm.GetCell(f.cells[ins.Arg])
			if cell == nil {
				panic("vm: dead cell handle")
			}
			f.push(cell.Get())

		case OpStoreCell:
			cell := vm.GetCell(f.cells[ins.Arg])
			if cell == nil {
				panic("vm: dead cell handle")
			}
			cell.Set(f.pop())

		case OpLoadClosure:
			f.push(f.cells[ins.Arg])

		case OpLoadGlobal:
			name := code.Names[ins.Arg]
			v, ok := vm.LoadGlobal(name)
			if !ok {
				if res, resumed := f.raiseHere(Exceptionf(ExcName, "name %q is not defined", name)); !resumed {
					return f.finish(res)
				}
				continue
			}
			f.push(v)

		case OpStoreGlobal:
			vm.StoreGlobal(code.Names[ins.Arg], f.pop())

		// --- Data ---
		case OpBuildList:
			f.push(vm.NewList(f.popN(int(ins.Arg))))

		case OpGetAttr:
			obj := f.pop()
			v, exc := vm.om.GetAttr(vm, obj, code.Names[ins.Arg])
			if exc != nil {
				if res, resumed := f.raiseHere(exc); !resumed {
					return f.finish(res)
				}
				continue
			}
			f.push(v)

		case OpSetAttr:
			val := f.pop()
			obj := f.pop()
			if exc := vm.om.SetAttr(vm, obj, code.Names[ins.Arg], val); exc != nil {
				if res, resumed := f.raiseHere(exc); !resumed {
					return f.finish(res)
				}
				continue
			}

		// --- Operators ---
		case OpUnaryOp:
			a := f.pop()
			v, exc := vm.om.UnaryOp(vm, UnaryOperator(ins.Arg), a)
			if exc != nil {
				if res, resumed := f.raiseHere(exc); !resumed {
					return f.finish(res)
				}
				continue
			}
			f.push(v)

		case OpBinaryOp:
			b := f.pop()
			a := f.pop()
			v, exc := f.binaryOp(BinaryOperator(ins.Arg), a, b)
			if exc != nil {
				if res, resumed := f.raiseHere(exc); !resumed {
					return f.finish(res)
				}
				continue
			}
			f.push(v)

		case OpCompareOp:
			b := f.pop()
			a := f.pop()
			v, exc := f.compareOp(CompareOperator(ins.Arg), a, b)
			if exc != nil {
				if res, resumed := f.raiseHere(exc); !resumed {
					return f.finish(res)
				}
				continue
			}
			f.push(v)

		// --- Control transfer ---
		case OpJump:
			f.lasti = int(ins.Arg)

		case OpJumpIfTrue:
			cond, exc := f.truthiness(f.pop())
			if exc != nil {
				if res, resumed := f.raiseHere(exc); !resumed {
					return f.finish(res)
				}
				continue
			}
			if cond {
				f.lasti = int(ins.Arg)
			}

		case OpJumpIfFalse:
			cond, exc := f.truthiness(f.pop())
			if exc != nil {
				if res, resumed := f.raiseHere(exc); !resumed {
					return f.finish(res)
				}
				continue
			}
			if !cond {
				f.lasti = int(ins.Arg)
			}

		// --- Iteration ---
		case OpGetIter:
			obj := f.pop()
			it, exc := vm.om.GetIter(vm, obj)
			if exc != nil {
				if res, resumed := f.raiseHere(exc); !resumed {
					return f.finish(res)
				}
				continue
			}
			f.push(it)

		case OpForIter:
			v, done, exc := vm.om.IterNext(vm, f.top())
			if exc != nil {
				if res, resumed := f.raiseHere(exc); !resumed {
					return f.finish(res)
				}
				continue
			}
			if done {
				f.pop() // the exhausted iterator
				f.lasti = int(ins.Arg)
			} else {
				f.push(v)
			}

		// --- Block stack ---
		case OpSetupLoop:
			f.pushBlock(blockLoop, int(ins.Arg), Nil)

		case OpSetupExcept:
			f.pushBlock(blockTryExcept, int(ins.Arg), Nil)

		case OpSetupFinally:
			f.pushBlock(blockFinally, int(ins.Arg), Nil)

		case OpSetupWith:
			exit := f.pop()
			f.pushBlock(blockWith, int(ins.Arg), exit)

		case OpPopBlock:
			b := f.popBlockEntry()
			switch b.kind {
			case blockFinally:
				// Normal completion: the finally body runs next with
				// nothing to resume afterwards.
				f.pending = append(f.pending, unwindReason{kind: unwindNone})
			case blockWith:
				// Normal completion still owes the exit call.
				if _, exc := f.vm.Call(b.exit, []Value{Nil}); exc != nil {
					if res, resumed := f.raiseHere(exc); !resumed {
						return f.finish(res)
					}
					continue
				}
			}

		case OpPopExcept:
			if f.excEntries == 0 {
				panic("vm: POP_EXCEPT without active exception")
			}
			vm.popExcStack()
			f.excEntries--

		case OpEndFinally:
			if len(f.pending) == 0 {
				panic("vm: END_FINALLY without pending unwind")
			}
			r := f.pending[len(f.pending)-1]
			f.pending = f.pending[:len(f.pending)-1]
			if r.kind == unwindNone {
				continue
			}
			if res, resumed := f.unwind(r); !resumed {
				return f.finish(res)
			}

		case OpBreak:
			if res, resumed := f.unwind(unwindReason{kind: unwindBreak}); !resumed {
				return f.finish(res)
			}

		case OpContinue:
			if res, resumed := f.unwind(unwindReason{kind: unwindContinue, target: int(ins.Arg)}); !resumed {
				return f.finish(res)
			}

		// --- Calls ---
		case OpCall:
			args := f.popN(int(ins.Arg))
			callee := f.pop()
			v, exc := vm.Call(callee, args)
			if exc != nil {
				if res, resumed := f.raiseHere(exc); !resumed {
					return f.finish(res)
				}
				continue
			}
			f.push(v)

		case OpMakeFunction:
			c := code.Consts[ins.Arg]
			if c.Kind != ConstCode || c.Code == nil {
				panic("vm: MAKE_FUNCTION on non-code constant")
			}
			var frees []Value
			if n := len(c.Code.FreeNames); n > 0 {
				frees = f.popN(n)
			}
			f.push(vm.NewFunction(&FunctionObject{
				Name:     c.Code.Name,
				Code:     c.Code,
				Freevars: frees,
			}))

		// --- Terminal for this invocation ---
		case OpReturn:
			v := f.pop()
			if res, resumed := f.unwind(unwindReason{kind: unwindReturn, value: v}); !resumed {
				return f.finish(res)
			}

		case OpYield:
			// Leave lasti at the following instruction; operand and
			// block stacks stay untouched. Resumption pushes the sent
			// value right where the yield's operand was popped from.
			v := f.pop()
			return f.finish(ExecResult{Kind: ResultYield, Value: v})

		case OpRaise:
			var exc *ExceptionObject
			switch ins.Arg {
			case 0:
				exc = vm.currentException()
				if exc == nil {
					exc = NewException(ExcRuntime, "no active exception to re-raise")
				}
			case 1:
				v := f.pop()
				exc = vm.GetException(v)
				if exc == nil {
					exc = NewException(ExcType, "exceptions must be exception objects")
				}
			default:
				panic(fmt.Sprintf("vm: RAISE with bad argument %d", ins.Arg))
			}
			if res, resumed := f.raiseHere(exc); !resumed {
				return f.finish(res)
			}

		default:
			panic(fmt.Sprintf("vm: unknown opcode %02X", uint8(ins.Op)))
		}
	}
}

// ---------------------------------------------------------------------------
// Raising and unwinding
// ---------------------------------------------------------------------------

// raiseHere starts unwinding from the current instruction. The bool result
// mirrors unwind: true means execution continues in this frame.
func (f *Frame) raiseHere(exc *ExceptionObject) (ExecResult, bool) {
	if cur := f.vm.currentException(); cur != nil && cur != exc && exc.Cause == nil {
		exc.Cause = cur
	}
	exc.addTraceback(f.code, f.lasti-1)
	if f.vm.tracer != nil {
		f.vm.tracer.exception(f, exc)
	}
	return f.unwind(unwindReason{kind: unwindException, exc: exc})
}

// unwind walks the block stack top-down with the given reason, restoring
// each block's recorded operand-stack depth. It returns (result, false)
// when the reason escapes the frame, or (zero, true) when a block diverted
// control and the dispatch loop should continue.
func (f *Frame) unwind(r unwindReason) (ExecResult, bool) {
	for len(f.blocks) > 0 {
		b := f.blocks[len(f.blocks)-1]

		switch b.kind {
		case blockLoop:
			switch r.kind {
			case unwindBreak:
				f.popBlockEntry()
				f.truncateStack(b.level)
				f.lasti = b.target
				return ExecResult{}, true
			case unwindContinue:
				// The loop block stays pushed; only the depth is
				// restored before jumping back to the head.
				f.truncateStack(b.level)
				f.lasti = r.target
				return ExecResult{}, true
			default:
				f.popBlockEntry()
				f.truncateStack(b.level)
			}

		case blockTryExcept:
			if r.kind == unwindException {
				f.popBlockEntry()
				f.truncateStack(b.level)
				// The handler receives the exception on the stack and
				// becomes the current exception context until
				// POP_EXCEPT.
				f.push(f.vm.NewExceptionValue(r.exc))
				f.vm.pushExcStack(r.exc)
				f.excEntries++
				f.lasti = b.target
				return ExecResult{}, true
			}
			f.popBlockEntry()
			f.truncateStack(b.level)

		case blockFinally:
			// Park the reason and run the finally body; END_FINALLY
			// resumes the unwind.
			f.popBlockEntry()
			f.truncateStack(b.level)
			f.pending = append(f.pending, r)
			f.lasti = b.target
			return ExecResult{}, true

		case blockWith:
			f.popBlockEntry()
			f.truncateStack(b.level)
			excArg := Nil
			if r.kind == unwindException {
				excArg = f.vm.NewExceptionValue(r.exc)
			}
			res, exc := f.vm.Call(b.exit, []Value{excArg})
			if exc != nil {
				// The exit failure replaces the in-flight reason,
				// keeping the original exception as cause.
				if r.kind == unwindException && exc.Cause == nil {
					exc.Cause = r.exc
				}
				exc.addTraceback(f.code, f.lasti-1)
				r = unwindReason{kind: unwindException, exc: exc}
				continue
			}
			if r.kind == unwindException {
				suppress, bexc := f.truthiness(res)
				if bexc != nil {
					bexc.addTraceback(f.code, f.lasti-1)
					r = unwindReason{kind: unwindException, exc: bexc}
					continue
				}
				if suppress {
					f.lasti = b.target
					return ExecResult{}, true
				}
			}
		}
	}

	// Empty block stack: the reason escapes this frame.
	switch r.kind {
	case unwindReturn:
		return ExecResult{Kind: ResultReturn, Value: r.value}, false
	case unwindException:
		return ExecResult{Kind: ResultException, Exc: r.exc}, false
	case unwindBreak, unwindContinue:
		// The compiler guarantees these appear only inside loops.
		panic("vm: break/continue outside loop")
	default:
		panic("vm: unwound with no reason")
	}
}

// ---------------------------------------------------------------------------
// Operator helpers
// ---------------------------------------------------------------------------

// binaryOp has a small-int fast path; everything else goes through the
// object model.
func (f *Frame) binaryOp(op BinaryOperator, a, b Value) (Value, *ExceptionObject) {
	if a.IsSmallInt() && b.IsSmallInt() {
		x, y := a.SmallInt(), b.SmallInt()
		switch op {
		case BinAdd:
			if v, ok := TryFromSmallInt(x + y); ok {
				return v, nil
			}
		case BinSub:
			if v, ok := TryFromSmallInt(x - y); ok {
				return v, nil
			}
		case BinMul:
			// The product can wrap back into small-int range, so the
			// range check alone is not enough.
			if p := x * y; x == 0 || p/x == y {
				if v, ok := TryFromSmallInt(p); ok {
					return v, nil
				}
			}
		case BinDiv:
			if y == 0 {
				return Nil, NewException(ExcZeroDivide, "integer division by zero")
			}
			if v, ok := TryFromSmallInt(x / y); ok {
				return v, nil
			}
		case BinMod:
			if y == 0 {
				return Nil, NewException(ExcZeroDivide, "integer modulo by zero")
			}
			if v, ok := TryFromSmallInt(x % y); ok {
				return v, nil
			}
		}
	}
	return f.vm.om.BinaryOp(f.vm, op, a, b)
}

func (f *Frame) compareOp(op CompareOperator, a, b Value) (Value, *ExceptionObject) {
	if a.IsSmallInt() && b.IsSmallInt() {
		x, y := a.SmallInt(), b.SmallInt()
		switch op {
		case CmpEq:
			return FromBool(x == y), nil
		case CmpNe:
			return FromBool(x != y), nil
		case CmpLt:
			return FromBool(x < y), nil
		case CmpLe:
			return FromBool(x <= y), nil
		case CmpGt:
			return FromBool(x > y), nil
		case CmpGe:
			return FromBool(x >= y), nil
		}
	}
	return f.vm.om.Compare(f.vm, op, a, b)
}

// truthiness resolves specials and numbers directly and asks the object
// model about handles.
func (f *Frame) truthiness(v Value) (bool, *ExceptionObject) {
	if !v.IsHandle() {
		return v.IsTruthy(), nil
	}
	return f.vm.om.ToBool(f.vm, v)
}
