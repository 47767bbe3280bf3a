package vm

// ---------------------------------------------------------------------------
// Object-model dispatch capability
// ---------------------------------------------------------------------------
//
// The dispatch loop performs every value operation through this interface.
// The VM core carries no compile-time knowledge of concrete guest types
// beyond the handle kinds it mints itself; the full attribute-lookup and
// method-resolution machinery lives behind this boundary.

// BinaryOperator selects a binary arithmetic operation. It is also the
// operand of BINARY_OP.
type BinaryOperator int32

const (
	BinAdd BinaryOperator = iota
	BinSub
	BinMul
	BinDiv
	BinMod
)

var binaryNames = [...]string{"+", "-", "*", "/", "%"}

// String returns the operator's source spelling.
func (op BinaryOperator) String() string {
	if int(op) < len(binaryNames) {
		return binaryNames[op]
	}
	return "?"
}

// UnaryOperator selects a unary operation. It is the operand of UNARY_OP.
type UnaryOperator int32

const (
	UnaryNeg UnaryOperator = iota
	UnaryNot
)

var unaryNames = [...]string{"-", "not"}

// String returns the operator's source spelling.
func (op UnaryOperator) String() string {
	if int(op) < len(unaryNames) {
		return unaryNames[op]
	}
	return "?"
}

// CompareOperator selects a comparison. It is the operand of COMPARE_OP.
type CompareOperator int32

const (
	CmpEq CompareOperator = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

var compareNames = [...]string{"==", "!=", "<", "<=", ">", ">="}

// String returns the operator's source spelling.
func (op CompareOperator) String() string {
	if int(op) < len(compareNames) {
		return compareNames[op]
	}
	return "?"
}

// ObjectModel is the opaque capability the VM invokes for every value
// operation. Implementations return guest errors as *ExceptionObject; a
// nil exception means success. Implementations must not retain the arg
// slices they are given.
type ObjectModel interface {
	// Call invokes a callable with positional arguments.
	Call(vm *VM, callee Value, args []Value) (Value, *ExceptionObject)

	// GetAttr looks up an attribute.
	GetAttr(vm *VM, obj Value, name string) (Value, *ExceptionObject)

	// SetAttr stores an attribute.
	SetAttr(vm *VM, obj Value, name string, val Value) *ExceptionObject

	// BinaryOp applies a op b.
	BinaryOp(vm *VM, op BinaryOperator, a, b Value) (Value, *ExceptionObject)

	// UnaryOp applies op a.
	UnaryOp(vm *VM, op UnaryOperator, a Value) (Value, *ExceptionObject)

	// Compare applies a cmp b and returns a boolean value.
	Compare(vm *VM, op CompareOperator, a, b Value) (Value, *ExceptionObject)

	// GetIter derives an iterator from an iterable.
	GetIter(vm *VM, obj Value) (Value, *ExceptionObject)

	// IterNext advances an iterator. done=true signals orderly
	// exhaustion; the returned value is then the iterator's final result.
	IterNext(vm *VM, iter Value) (v Value, done bool, exc *ExceptionObject)

	// ToBool reports guest truthiness.
	ToBool(vm *VM, obj Value) (bool, *ExceptionObject)

	// Repr renders a value for diagnostics and tracebacks. It must not
	// fail; best effort is fine.
	Repr(vm *VM, obj Value) string
}
