package vm

import (
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Core object model
// ---------------------------------------------------------------------------

// CoreModel is the default ObjectModel. It covers the handle kinds the
// VM mints itself — strings, lists, iterators, generators, exceptions —
// and raises TypeError for everything it does not understand. Richer
// object systems replace it through SetObjectModel.
type CoreModel struct{}

// NewCoreModel returns the built-in dispatch capability.
func NewCoreModel() *CoreModel {
	return &CoreModel{}
}

// Call rejects anything that is not a function or native handle; those
// are dispatched by the VM before the model is consulted.
func (m *CoreModel) Call(vm *VM, callee Value, args []Value) (Value, *ExceptionObject) {
	return Nil, Exceptionf(ExcType, "%s is not callable", m.Repr(vm, callee))
}

// GetAttr resolves the built-in attributes of core kinds.
func (m *CoreModel) GetAttr(vm *VM, obj Value, name string) (Value, *ExceptionObject) {
	if obj.IsHandle() {
		switch obj.HandleKind() {
		case HandleList:
			if name == "length" {
				if l := vm.GetList(obj); l != nil {
					return FromSmallInt(int64(len(l.Elements))), nil
				}
			}
		case HandleString:
			if name == "length" {
				if s, ok := vm.StringContent(obj); ok {
					return FromSmallInt(int64(len(s))), nil
				}
			}
		case HandleException:
			if exc := vm.GetException(obj); exc != nil {
				switch name {
				case "kind":
					return vm.NewString(exc.Kind.String()), nil
				case "message":
					return vm.NewString(exc.Message), nil
				case "payload":
					return exc.Payload, nil
				}
			}
		}
	}
	return Nil, Exceptionf(ExcAttribute, "%s has no attribute %q", m.Repr(vm, obj), name)
}

// SetAttr allows storing an exception's payload; everything else is
// immutable at this layer.
func (m *CoreModel) SetAttr(vm *VM, obj Value, name string, val Value) *ExceptionObject {
	if obj.IsHandleOf(HandleException) && name == "payload" {
		if exc := vm.GetException(obj); exc != nil {
			exc.Payload = val
			return nil
		}
	}
	return Exceptionf(ExcAttribute, "cannot set attribute %q on %s", name, m.Repr(vm, obj))
}

// BinaryOp handles the numeric, string, and list cases the dispatch
// loop's small-int fast path does not.
func (m *CoreModel) BinaryOp(vm *VM, op BinaryOperator, a, b Value) (Value, *ExceptionObject) {
	if af, aok := numeric(a); aok {
		if bf, bok := numeric(b); bok {
			switch op {
			case BinAdd:
				return FromFloat64(af + bf), nil
			case BinSub:
				return FromFloat64(af - bf), nil
			case BinMul:
				return FromFloat64(af * bf), nil
			case BinDiv:
				if bf == 0 {
					return Nil, NewException(ExcZeroDivide, "division by zero")
				}
				return FromFloat64(af / bf), nil
			case BinMod:
				ai, bi := int64(af), int64(bf)
				if float64(ai) != af || float64(bi) != bf {
					return Nil, NewException(ExcType, "modulo requires integers")
				}
				if bi == 0 {
					return Nil, NewException(ExcZeroDivide, "modulo by zero")
				}
				return TryMakeSmallInt(vm, ai%bi)
			}
		}
	}

	if op == BinAdd {
		if as, ok := vm.StringContent(a); ok {
			if bs, ok := vm.StringContent(b); ok {
				return vm.NewString(as + bs), nil
			}
		}
		if al := vm.GetList(a); al != nil {
			if bl := vm.GetList(b); bl != nil {
				joined := make([]Value, 0, len(al.Elements)+len(bl.Elements))
				joined = append(joined, al.Elements...)
				joined = append(joined, bl.Elements...)
				return vm.NewList(joined), nil
			}
		}
	}

	return Nil, Exceptionf(ExcType, "unsupported operand types for %s: %s and %s",
		op, m.Repr(vm, a), m.Repr(vm, b))
}

// UnaryOp negates numbers and inverts truthiness.
func (m *CoreModel) UnaryOp(vm *VM, op UnaryOperator, a Value) (Value, *ExceptionObject) {
	switch op {
	case UnaryNeg:
		if a.IsSmallInt() {
			return TryMakeSmallInt(vm, -a.SmallInt())
		}
		if a.IsFloat() {
			return FromFloat64(-a.Float64()), nil
		}
		return Nil, Exceptionf(ExcType, "cannot negate %s", m.Repr(vm, a))
	case UnaryNot:
		t, exc := m.ToBool(vm, a)
		if exc != nil {
			return Nil, exc
		}
		return FromBool(!t), nil
	}
	return Nil, Exceptionf(ExcType, "unknown unary operator %d", int32(op))
}

// Compare orders numbers and strings; equality additionally covers
// identity on every kind.
func (m *CoreModel) Compare(vm *VM, op CompareOperator, a, b Value) (Value, *ExceptionObject) {
	if af, aok := numeric(a); aok {
		if bf, bok := numeric(b); bok {
			return FromBool(compareOrdered(op, af, bf)), nil
		}
	}
	if as, ok := vm.StringContent(a); ok {
		if bs, ok := vm.StringContent(b); ok {
			return FromBool(compareOrdered(op, strings.Compare(as, bs), 0)), nil
		}
	}
	switch op {
	case CmpEq:
		return FromBool(a == b), nil
	case CmpNe:
		return FromBool(a != b), nil
	}
	return Nil, Exceptionf(ExcType, "cannot order %s and %s", m.Repr(vm, a), m.Repr(vm, b))
}

// GetIter derives an iterator. Lists get a fresh index iterator;
// iterators and generators iterate as themselves.
func (m *CoreModel) GetIter(vm *VM, obj Value) (Value, *ExceptionObject) {
	if obj.IsHandleOf(HandleList) {
		return vm.NewListIterator(obj), nil
	}
	if obj.IsHandleOf(HandleIterator) || obj.IsHandleOf(HandleGenerator) {
		return obj, nil
	}
	return Nil, Exceptionf(ExcType, "%s is not iterable", m.Repr(vm, obj))
}

// IterNext advances list iterators directly and drives generators
// through Send. Generator completion folds into done=true with the
// return value.
func (m *CoreModel) IterNext(vm *VM, iter Value) (Value, bool, *ExceptionObject) {
	if it := vm.GetListIterator(iter); it != nil {
		l := vm.GetList(it.List)
		if l == nil || it.Index >= len(l.Elements) {
			return Nil, true, nil
		}
		v := l.Elements[it.Index]
		it.Index++
		return v, false, nil
	}
	if g := vm.GetGenerator(iter); g != nil {
		res, exc := g.Send(Nil)
		if exc != nil {
			if exc.Is(ExcStopIteration) {
				return Nil, true, nil
			}
			return Nil, false, exc
		}
		if res.Returned {
			return res.Value, true, nil
		}
		return res.Value, false, nil
	}
	return Nil, false, Exceptionf(ExcType, "%s is not an iterator", m.Repr(vm, iter))
}

// ToBool: empty strings and lists are falsy, every other handle is
// truthy. Immediates never reach this method.
func (m *CoreModel) ToBool(vm *VM, obj Value) (bool, *ExceptionObject) {
	if s, ok := vm.StringContent(obj); ok {
		return len(s) > 0, nil
	}
	if l := vm.GetList(obj); l != nil {
		return len(l.Elements) > 0, nil
	}
	return true, nil
}

// Repr renders any value for diagnostics. Never fails.
func (m *CoreModel) Repr(vm *VM, obj Value) string {
	return m.repr(vm, obj, 0)
}

func (m *CoreModel) repr(vm *VM, obj Value, depth int) string {
	switch {
	case obj == Nil:
		return "nil"
	case obj == True:
		return "true"
	case obj == False:
		return "false"
	case obj.IsSmallInt():
		return strconv.FormatInt(obj.SmallInt(), 10)
	case obj.IsFloat():
		return strconv.FormatFloat(obj.Float64(), 'g', -1, 64)
	}
	if !obj.IsHandle() {
		return "<invalid>"
	}
	switch obj.HandleKind() {
	case HandleString:
		if s, ok := vm.StringContent(obj); ok {
			return strconv.Quote(s)
		}
	case HandleList:
		if l := vm.GetList(obj); l != nil {
			if depth > 3 {
				return "[...]"
			}
			var b strings.Builder
			b.WriteByte('[')
			for i, e := range l.Elements {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(m.repr(vm, e, depth+1))
			}
			b.WriteByte(']')
			return b.String()
		}
	case HandleFunction:
		if fn := vm.GetFunction(obj); fn != nil {
			return "<function " + fn.Name + ">"
		}
	case HandleNative:
		if n := vm.GetNative(obj); n != nil {
			return "<native " + n.Name + ">"
		}
	case HandleGenerator:
		if g := vm.GetGenerator(obj); g != nil {
			return "<generator " + g.Name() + " " + g.State().String() + ">"
		}
	case HandleException:
		if exc := vm.GetException(obj); exc != nil {
			return "<" + exc.Error() + ">"
		}
	case HandleCell:
		return "<cell>"
	case HandleIterator:
		return "<iterator>"
	}
	return "<dead handle>"
}

// numeric widens small ints and floats to float64.
func numeric(v Value) (float64, bool) {
	if v.IsSmallInt() {
		return float64(v.SmallInt()), true
	}
	if v.IsFloat() {
		return v.Float64(), true
	}
	return 0, false
}

func compareOrdered[T int | float64](op CompareOperator, a, b T) bool {
	switch op {
	case CmpEq:
		return a == b
	case CmpNe:
		return a != b
	case CmpLt:
		return a < b
	case CmpLe:
		return a <= b
	case CmpGt:
		return a > b
	default:
		return a >= b
	}
}

// TryMakeSmallInt boxes i as a small int, widening to float when it
// leaves the 48-bit range.
func TryMakeSmallInt(vm *VM, i int64) (Value, *ExceptionObject) {
	if v, ok := TryFromSmallInt(i); ok {
		return v, nil
	}
	return FromFloat64(float64(i)), nil
}
