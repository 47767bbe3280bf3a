package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single bytecode instruction. The set is closed: the
// dispatch loop matches it exhaustively and panics on anything else.
type Opcode uint8

// Stack operations
const (
	OpNop Opcode = iota // no operation
	OpPop               // discard top of stack
	OpDup               // duplicate top of stack
	OpRotTwo            // swap the top two stack entries

	// Constants and variables
	OpLoadConst   // push constant (constant pool index)
	OpLoadLocal   // push local variable (slot index)
	OpStoreLocal  // pop into local variable (slot index)
	OpLoadCell    // push contents of cell/free variable (cell slot)
	OpStoreCell   // pop into cell/free variable (cell slot)
	OpLoadClosure // push the cell itself, for closure capture (cell slot)
	OpLoadGlobal  // push global (name table index)
	OpStoreGlobal // pop into global (name table index)

	// Data
	OpBuildList // pop N elements, push a list (element count)
	OpGetAttr   // pop object, push attribute (name table index)
	OpSetAttr   // pop value then object, set attribute (name table index)

	// Operators
	OpUnaryOp   // pop a, push op(a) (UnaryOperator)
	OpBinaryOp  // pop b then a, push a op b (BinaryOperator)
	OpCompareOp // pop b then a, push a cmp b (CompareOperator)

	// Control transfer. All targets are absolute instruction indices,
	// resolved by the assembler.
	OpJump        // unconditional jump (target)
	OpJumpIfTrue  // pop, jump if truthy (target)
	OpJumpIfFalse // pop, jump if falsy (target)

	// Iteration
	OpGetIter // pop iterable, push iterator
	OpForIter // advance TOS iterator; on exhaustion pop it and jump (target)

	// Block stack
	OpSetupLoop    // push Loop block (target: first instruction after loop)
	OpSetupExcept  // push TryExcept block (target: handler)
	OpSetupFinally // push Finally block (target: finally body)
	OpSetupWith    // pop exit capability, push With block (target: after with)
	OpPopBlock     // pop the innermost block
	OpPopExcept    // leave an except handler, restoring exception context
	OpEndFinally   // resume whatever the finally body interrupted
	OpBreak        // unwind to the nearest Loop block's end
	OpContinue     // unwind to the nearest Loop block, jump (target: loop head)

	// Calls
	OpCall         // pop N args then callee, push result (argc)
	OpMakeFunction // build function from code constant (constant pool index)

	// Terminal for this invocation
	OpReturn // pop and return top of stack
	OpYield  // pop and suspend, yielding top of stack
	OpRaise  // arg 1: pop and raise; arg 0: re-raise current exception
)

// opcodeCount is the number of defined opcodes.
const opcodeCount = int(OpRaise) + 1

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string // human-readable name
	HasArg      bool   // whether the operand is meaningful
	IsJump      bool   // whether the operand is an instruction index
	StackEffect int    // net effect on operand stack (variableEffect = depends on arg)
}

const variableEffect = -128

// opcodeTable maps opcodes to their metadata.
var opcodeTable = [opcodeCount]OpcodeInfo{
	OpNop:    {"NOP", false, false, 0},
	OpPop:    {"POP", false, false, -1},
	OpDup:    {"DUP", false, false, 1},
	OpRotTwo: {"ROT_TWO", false, false, 0},

	OpLoadConst:   {"LOAD_CONST", true, false, 1},
	OpLoadLocal:   {"LOAD_LOCAL", true, false, 1},
	OpStoreLocal:  {"STORE_LOCAL", true, false, -1},
	OpLoadCell:    {"LOAD_CELL", true, false, 1},
	OpStoreCell:   {"STORE_CELL", true, false, -1},
	OpLoadClosure: {"LOAD_CLOSURE", true, false, 1},
	OpLoadGlobal:  {"LOAD_GLOBAL", true, false, 1},
	OpStoreGlobal: {"STORE_GLOBAL", true, false, -1},

	OpBuildList: {"BUILD_LIST", true, false, variableEffect},
	OpGetAttr:   {"GET_ATTR", true, false, 0},
	OpSetAttr:   {"SET_ATTR", true, false, -2},

	OpUnaryOp:   {"UNARY_OP", true, false, 0},
	OpBinaryOp:  {"BINARY_OP", true, false, -1},
	OpCompareOp: {"COMPARE_OP", true, false, -1},

	OpJump:        {"JUMP", true, true, 0},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", true, true, -1},
	OpJumpIfFalse: {"JUMP_IF_FALSE", true, true, -1},

	OpGetIter: {"GET_ITER", false, false, 0},
	OpForIter: {"FOR_ITER", true, true, variableEffect},

	OpSetupLoop:    {"SETUP_LOOP", true, true, 0},
	OpSetupExcept:  {"SETUP_EXCEPT", true, true, 0},
	OpSetupFinally: {"SETUP_FINALLY", true, true, 0},
	OpSetupWith:    {"SETUP_WITH", true, true, -1},
	OpPopBlock:     {"POP_BLOCK", false, false, 0},
	OpPopExcept:    {"POP_EXCEPT", false, false, 0},
	OpEndFinally:   {"END_FINALLY", false, false, 0},
	OpBreak:        {"BREAK", false, false, 0},
	OpContinue:     {"CONTINUE", true, true, 0},

	OpCall:         {"CALL", true, false, variableEffect},
	OpMakeFunction: {"MAKE_FUNCTION", true, false, variableEffect},

	OpReturn: {"RETURN", false, false, -1},
	OpYield:  {"YIELD", false, false, -1},
	OpRaise:  {"RAISE", true, false, variableEffect},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if int(op) < opcodeCount {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", uint8(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Instruction
// ---------------------------------------------------------------------------

// Instruction is a single fixed-width instruction: an opcode plus at most
// one operand. Instructions are stored densely in a CodeObject for O(1)
// indexed fetch and are immutable once assembled.
type Instruction struct {
	Op  Opcode
	Arg int32
}

// String renders the instruction for disassembly.
func (ins Instruction) String() string {
	info := ins.Op.Info()
	if !info.HasArg {
		return info.Name
	}
	switch ins.Op {
	case OpUnaryOp:
		return fmt.Sprintf("%s %s", info.Name, UnaryOperator(ins.Arg))
	case OpBinaryOp:
		return fmt.Sprintf("%s %s", info.Name, BinaryOperator(ins.Arg))
	case OpCompareOp:
		return fmt.Sprintf("%s %s", info.Name, CompareOperator(ins.Arg))
	default:
		return fmt.Sprintf("%s %d", info.Name, ins.Arg)
	}
}

// ---------------------------------------------------------------------------
// Assembler: builds CodeObjects with label-based jumps
// ---------------------------------------------------------------------------

// Label is a jump target that may be marked before or after the jumps that
// reference it. The assembler resolves every label to an absolute
// instruction index when Assemble is called.
type Label struct {
	resolved bool
	index    int   // target instruction index (valid once resolved)
	refs     []int // instruction indices whose Arg awaits this label
}

// Assembler constructs a CodeObject instruction by instruction. It is the
// bridge the (external) compiler uses; tests use it to build fixtures.
type Assembler struct {
	name     string
	filename string
	argcount int
	flags    CodeFlags

	insns  []Instruction
	lines  []int32
	consts []Constant
	names  []string
	locals []string
	cells  []string
	frees  []string

	labels  []*Label
	curLine int32
}

// NewAssembler creates an assembler for a code unit with the given name.
func NewAssembler(name string) *Assembler {
	return &Assembler{name: name, curLine: 1}
}

// SetFilename records the source filename for tracebacks.
func (a *Assembler) SetFilename(filename string) { a.filename = filename }

// SetFlags sets the code object flags (generator etc.).
func (a *Assembler) SetFlags(flags CodeFlags) { a.flags = flags }

// SetLine sets the source line attributed to subsequently emitted
// instructions.
func (a *Assembler) SetLine(line int) { a.curLine = int32(line) }

// AddParam declares a parameter. Parameters occupy the leading local slots.
// Returns the local slot index.
func (a *Assembler) AddParam(name string) int {
	if a.argcount != len(a.locals) {
		panic("Assembler.AddParam: parameters must be declared before locals")
	}
	a.argcount++
	return a.AddLocal(name)
}

// AddLocal declares a local variable and returns its slot index.
func (a *Assembler) AddLocal(name string) int {
	a.locals = append(a.locals, name)
	return len(a.locals) - 1
}

// AddCell declares a cell variable (a local captured by nested closures)
// and returns its cell slot index.
func (a *Assembler) AddCell(name string) int {
	a.cells = append(a.cells, name)
	return len(a.cells) - 1
}

// AddFree declares a free variable (captured from an enclosing scope) and
// returns its cell slot index. Free slots follow cell slots.
func (a *Assembler) AddFree(name string) int {
	a.frees = append(a.frees, name)
	return len(a.cells) + len(a.frees) - 1
}

// Const appends a constant to the pool and returns its index.
func (a *Assembler) Const(c Constant) int {
	a.consts = append(a.consts, c)
	return len(a.consts) - 1
}

// Name interns a global/attribute name and returns its index.
func (a *Assembler) Name(name string) int {
	for i, n := range a.names {
		if n == name {
			return i
		}
	}
	a.names = append(a.names, name)
	return len(a.names) - 1
}

// Emit appends an instruction with no operand.
func (a *Assembler) Emit(op Opcode) {
	a.EmitArg(op, 0)
}

// EmitArg appends an instruction with an operand.
func (a *Assembler) EmitArg(op Opcode, arg int) {
	a.insns = append(a.insns, Instruction{Op: op, Arg: int32(arg)})
	a.lines = append(a.lines, a.curLine)
}

// NewLabel creates an unresolved label.
func (a *Assembler) NewLabel() *Label {
	l := &Label{}
	a.labels = append(a.labels, l)
	return l
}

// Mark resolves a label to the next instruction index.
func (a *Assembler) Mark(l *Label) {
	if l.resolved {
		panic("Assembler.Mark: label already resolved")
	}
	l.resolved = true
	l.index = len(a.insns)
	for _, ref := range l.refs {
		a.insns[ref].Arg = int32(l.index)
	}
	l.refs = nil
}

// EmitJump appends a jump-family instruction targeting a label. Backward
// references are resolved immediately; forward references are patched
// when the label is marked.
func (a *Assembler) EmitJump(op Opcode, l *Label) {
	if !op.Info().IsJump {
		panic(fmt.Sprintf("Assembler.EmitJump: %s is not a jump", op))
	}
	if l.resolved {
		a.EmitArg(op, l.index)
		return
	}
	l.refs = append(l.refs, len(a.insns))
	a.EmitArg(op, 0)
}

// Assemble finalizes the instruction stream into an immutable CodeObject.
// It fails if any label is unresolved or any jump target is out of range.
func (a *Assembler) Assemble() (*CodeObject, error) {
	for _, l := range a.labels {
		if !l.resolved {
			return nil, fmt.Errorf("assemble %q: unresolved label", a.name)
		}
	}
	for i, ins := range a.insns {
		if ins.Op.Info().IsJump {
			if ins.Arg < 0 || int(ins.Arg) > len(a.insns) {
				return nil, fmt.Errorf("assemble %q: instruction %d: jump target %d out of range",
					a.name, i, ins.Arg)
			}
		}
	}

	code := &CodeObject{
		Name:       a.name,
		Filename:   a.filename,
		Argcount:   a.argcount,
		Flags:      a.flags,
		Insns:      a.insns,
		Lines:      a.lines,
		Consts:     a.consts,
		Names:      a.names,
		LocalNames: a.locals,
		CellNames:  a.cells,
		FreeNames:  a.frees,
	}
	if len(a.lines) > 0 {
		code.FirstLine = a.lines[0]
	}
	return code, nil
}

// MustAssemble is Assemble that panics on error. Intended for tests and
// hand-built fixtures.
func (a *Assembler) MustAssemble() *CodeObject {
	code, err := a.Assemble()
	if err != nil {
		panic(err)
	}
	return code
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble returns a readable listing of a CodeObject's instructions.
func Disassemble(code *CodeObject) string {
	var b strings.Builder
	fmt.Fprintf(&b, "code %q (args=%d locals=%d cells=%d frees=%d flags=%s)\n",
		code.Name, code.Argcount, len(code.LocalNames),
		len(code.CellNames), len(code.FreeNames), code.Flags)
	for i, ins := range code.Insns {
		fmt.Fprintf(&b, "%4d  %s", i, ins)
		if ins.Op == OpLoadConst || ins.Op == OpMakeFunction {
			if int(ins.Arg) < len(code.Consts) {
				fmt.Fprintf(&b, "  ; %s", code.Consts[ins.Arg])
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
