package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// CodeObject: immutable compiled unit
// ---------------------------------------------------------------------------

// CodeFlags contains compilation flags for a code object.
type CodeFlags uint16

const (
	// CodeFlagGenerator marks a body that suspends with YIELD. Calling a
	// generator function builds a Coro instead of running the frame.
	CodeFlagGenerator CodeFlags = 1 << 0

	// CodeFlagNested marks code compiled inside another code object.
	CodeFlagNested CodeFlags = 1 << 1
)

// String renders the flag set for disassembly.
func (f CodeFlags) String() string {
	var parts []string
	if f&CodeFlagGenerator != 0 {
		parts = append(parts, "generator")
	}
	if f&CodeFlagNested != 0 {
		parts = append(parts, "nested")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// CodeObject is one immutable compiled unit: instructions, constant pool,
// positional name tables, flags, and a line-location table. It is produced
// by the external compiler (or the Assembler) and never mutated afterward,
// which is what makes lock-free sharing across recursive and concurrent
// frames safe.
type CodeObject struct {
	Name     string
	Filename string
	Argcount int
	Flags    CodeFlags

	// Insns is the dense instruction array. Jump operands are absolute
	// indices into this slice.
	Insns []Instruction

	// Lines maps each instruction index to its source line.
	Lines     []int32
	FirstLine int32

	// Consts is the constant pool, referenced positionally.
	Consts []Constant

	// Names holds global and attribute names, referenced positionally.
	Names []string

	// LocalNames assigns positional slots to parameters and locals.
	// Parameters occupy the leading Argcount slots.
	LocalNames []string

	// CellNames and FreeNames assign positional cell slots: cells created
	// by this code first, then cells captured from enclosing scopes.
	CellNames []string
	FreeNames []string
}

// IsGenerator returns true if calling this code builds a generator.
func (c *CodeObject) IsGenerator() bool {
	return c.Flags&CodeFlagGenerator != 0
}

// NumCells returns the total number of cell slots (own cells + frees).
func (c *CodeObject) NumCells() int {
	return len(c.CellNames) + len(c.FreeNames)
}

// LineFor returns the source line for an instruction index, or 0 when
// location info is absent.
func (c *CodeObject) LineFor(index int) int32 {
	if index >= 0 && index < len(c.Lines) {
		return c.Lines[index]
	}
	return 0
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// ConstKind tags a constant pool entry.
type ConstKind uint8

const (
	ConstNil ConstKind = iota
	ConstTrue
	ConstFalse
	ConstInt
	ConstFloat
	ConstString
	ConstCode
)

// Constant is a VM-independent constant pool entry. Constants are plain
// data (not Values) so a CodeObject can be serialized and shared across
// VM instances; LOAD_CONST materializes them into the executing VM.
type Constant struct {
	Kind  ConstKind
	Int   int64
	Float float64
	Str   string
	Code  *CodeObject
}

// NilConst returns the nil constant.
func NilConst() Constant { return Constant{Kind: ConstNil} }

// BoolConst returns the true or false constant.
func BoolConst(b bool) Constant {
	if b {
		return Constant{Kind: ConstTrue}
	}
	return Constant{Kind: ConstFalse}
}

// IntConst returns an integer constant.
func IntConst(n int64) Constant { return Constant{Kind: ConstInt, Int: n} }

// FloatConst returns a float constant.
func FloatConst(f float64) Constant { return Constant{Kind: ConstFloat, Float: f} }

// StringConst returns a string constant.
func StringConst(s string) Constant { return Constant{Kind: ConstString, Str: s} }

// CodeConst returns a nested code object constant.
func CodeConst(code *CodeObject) Constant { return Constant{Kind: ConstCode, Code: code} }

// String renders the constant for disassembly.
func (c Constant) String() string {
	switch c.Kind {
	case ConstNil:
		return "nil"
	case ConstTrue:
		return "true"
	case ConstFalse:
		return "false"
	case ConstInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("%g", c.Float)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	case ConstCode:
		if c.Code != nil {
			return fmt.Sprintf("<code %s>", c.Code.Name)
		}
		return "<code nil>"
	default:
		return fmt.Sprintf("<const kind %d>", c.Kind)
	}
}
