package vm

import (
	"math"
)

// Value represents a Corvid value using NaN-boxing.
//
// All values are represented as 64-bit IEEE 754 doubles. Non-float values
// are encoded in the NaN (Not-a-Number) space using the quiet NaN prefix
// and tag bits to distinguish types.
//
// Encoding scheme:
//   - Float: Native IEEE 754 double (if not a NaN, it's a float)
//   - SmallInt: Quiet NaN + tagInt + 48-bit signed payload
//   - Special: Quiet NaN + tagSpecial + special value ID (nil/true/false)
//   - Handle: Quiet NaN + tagHandle + kind byte + 32-bit registry ID
//
// Heap values (strings, lists, functions, generators, exceptions, cells)
// are handles into VM-local registries. A handle is meaningless outside
// the VM that minted it.
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	// Tag values (shifted into position)
	tagInt     uint64 = 0x0001000000000000 // 48-bit signed integer
	tagSpecial uint64 = 0x0002000000000000 // nil, true, false
	tagHandle  uint64 = 0x0003000000000000 // registry handle

	// Sign bit for 48-bit integer sign extension
	intSignBit uint64 = 0x0000800000000000

	// Mask for sign extension
	intSignExtend uint64 = 0xFFFF000000000000
)

// Special value payloads
const (
	specialNil   uint64 = 0
	specialTrue  uint64 = 1
	specialFalse uint64 = 2
)

// Pre-defined special values
const (
	Nil   Value = Value(nanBits | tagSpecial | specialNil)
	True  Value = Value(nanBits | tagSpecial | specialTrue)
	False Value = Value(nanBits | tagSpecial | specialFalse)
)

// SmallInt range (48-bit signed)
const (
	MaxSmallInt int64 = (1 << 47) - 1
	MinSmallInt int64 = -(1 << 47)
)

// HandleKind identifies which registry a handle value points into.
type HandleKind uint8

const (
	HandleString HandleKind = iota + 1
	HandleList
	HandleFunction
	HandleNative
	HandleGenerator
	HandleException
	HandleCell
	HandleIterator
)

// String returns the registry name for a handle kind.
func (k HandleKind) String() string {
	switch k {
	case HandleString:
		return "string"
	case HandleList:
		return "list"
	case HandleFunction:
		return "function"
	case HandleNative:
		return "native"
	case HandleGenerator:
		return "generator"
	case HandleException:
		return "exception"
	case HandleCell:
		return "cell"
	case HandleIterator:
		return "iterator"
	default:
		return "unknown"
	}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsFloat returns true if v represents a float64 value.
// A value is a float if it's not one of our tagged NaN values.
// This includes regular numbers, infinities, and "real" NaN values.
func (v Value) IsFloat() bool {
	bits := uint64(v)

	// Exponent not all 1s: a regular float.
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true
	}

	// Exponent all 1s with zero mantissa: +Inf or -Inf.
	if (bits & 0x000FFFFFFFFFFFFF) == 0 {
		return true
	}

	// Signaling NaN: not one of ours.
	if (bits & nanBits) != nanBits {
		return true
	}

	// Quiet NaN with no tag bits: a "real" NaN, still a float.
	return (bits & tagMask) == 0
}

// IsSmallInt returns true if v represents a small integer.
func (v Value) IsSmallInt() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagInt)
}

// IsHandle returns true if v is a registry handle of any kind.
func (v Value) IsHandle() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagHandle)
}

// IsNil returns true if v is the nil value.
func (v Value) IsNil() bool {
	return v == Nil
}

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool {
	return v == True || v == False
}

// IsSpecial returns true if v is nil, true, or false.
func (v Value) IsSpecial() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagSpecial)
}

// ---------------------------------------------------------------------------
// Float operations
// ---------------------------------------------------------------------------

// Float64 returns v as a float64.
// Panics if v is not a float.
func (v Value) Float64() float64 {
	if !v.IsFloat() {
		panic("Value.Float64: not a float")
	}
	return math.Float64frombits(uint64(v))
}

// FromFloat64 creates a Value from a float64.
func FromFloat64(f float64) Value {
	return Value(math.Float64bits(f))
}

// ---------------------------------------------------------------------------
// SmallInt operations
// ---------------------------------------------------------------------------

// SmallInt returns v as an int64.
// Panics if v is not a small integer.
func (v Value) SmallInt() int64 {
	if !v.IsSmallInt() {
		panic("Value.SmallInt: not a small integer")
	}
	payload := uint64(v) & payloadMask

	// Sign extend from 48 bits to 64 bits
	if (payload & intSignBit) != 0 {
		payload |= intSignExtend
	}
	return int64(payload)
}

// FromSmallInt creates a Value from an int64.
// Panics if n is outside the SmallInt range.
func FromSmallInt(n int64) Value {
	if n > MaxSmallInt || n < MinSmallInt {
		panic("FromSmallInt: value out of range")
	}
	return Value(nanBits | tagInt | (uint64(n) & payloadMask))
}

// TryFromSmallInt creates a Value from an int64, returning false if out of range.
func TryFromSmallInt(n int64) (Value, bool) {
	if n > MaxSmallInt || n < MinSmallInt {
		return Nil, false
	}
	return Value(nanBits | tagInt | (uint64(n) & payloadMask)), true
}

// ---------------------------------------------------------------------------
// Handle operations
// ---------------------------------------------------------------------------

// HandleKind returns the registry kind for a handle value.
// Panics if v is not a handle.
func (v Value) HandleKind() HandleKind {
	if !v.IsHandle() {
		panic("Value.HandleKind: not a handle")
	}
	return HandleKind((uint64(v) >> 40) & 0xFF)
}

// HandleID returns the registry ID for a handle value.
// Panics if v is not a handle.
func (v Value) HandleID() uint32 {
	if !v.IsHandle() {
		panic("Value.HandleID: not a handle")
	}
	return uint32(uint64(v) & 0xFFFFFFFF)
}

// IsHandleOf returns true if v is a handle of the given kind.
func (v Value) IsHandleOf(k HandleKind) bool {
	return v.IsHandle() && v.HandleKind() == k
}

// FromHandle creates a handle value for the given registry kind and ID.
func FromHandle(k HandleKind, id uint32) Value {
	return Value(nanBits | tagHandle | (uint64(k) << 40) | uint64(id))
}

// ---------------------------------------------------------------------------
// Boolean operations
// ---------------------------------------------------------------------------

// Bool returns v as a bool.
// Panics if v is not true or false.
func (v Value) Bool() bool {
	switch v {
	case True:
		return true
	case False:
		return false
	default:
		panic("Value.Bool: not a boolean")
	}
}

// FromBool creates a Value from a bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// IsTruthy reports base truthiness for values that need no registry access:
// false and nil are falsy, zero numbers are falsy, everything else is
// truthy. Handle kinds (empty strings, empty lists) go through the object
// model's ToBool instead.
func (v Value) IsTruthy() bool {
	switch {
	case v == False || v == Nil:
		return false
	case v == True:
		return true
	case v.IsSmallInt():
		return v.SmallInt() != 0
	case v.IsFloat():
		return v.Float64() != 0
	default:
		return true
	}
}
