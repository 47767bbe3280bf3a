package vm

import (
	"strings"
	"testing"
)

func TestOpcodeTableComplete(t *testing.T) {
	for op := Opcode(0); int(op) < opcodeCount; op++ {
		info := op.Info()
		if info.Name == "" {
			t.Errorf("opcode %d has no metadata", op)
		}
	}
}

func TestAssemblerForwardAndBackwardJumps(t *testing.T) {
	a := NewAssembler("jumps")
	back := a.NewLabel()
	fwd := a.NewLabel()

	a.Mark(back)               // index 0
	a.EmitJump(OpJump, fwd)    // forward, patched later
	a.EmitJump(OpJump, back)   // backward, resolved immediately
	a.Mark(fwd)                // index 2
	a.Emit(OpNop)

	code, err := a.Assemble()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if code.Insns[0].Arg != 2 {
		t.Errorf("forward jump arg = %d, want 2", code.Insns[0].Arg)
	}
	if code.Insns[1].Arg != 0 {
		t.Errorf("backward jump arg = %d, want 0", code.Insns[1].Arg)
	}
}

func TestAssemblerUnresolvedLabel(t *testing.T) {
	a := NewAssembler("bad")
	l := a.NewLabel()
	a.EmitJump(OpJump, l)
	if _, err := a.Assemble(); err == nil {
		t.Fatal("expected an error for an unresolved label")
	}
}

func TestAssemblerNameInterning(t *testing.T) {
	a := NewAssembler("names")
	i := a.Name("x")
	j := a.Name("y")
	k := a.Name("x")
	if i != k {
		t.Errorf("repeated name got index %d, want %d", k, i)
	}
	if i == j {
		t.Error("distinct names share an index")
	}
}

func TestAssemblerLineTracking(t *testing.T) {
	a := NewAssembler("lines")
	a.SetLine(10)
	a.Emit(OpNop)
	a.SetLine(12)
	a.Emit(OpNop)
	code := a.MustAssemble()

	if code.LineFor(0) != 10 || code.LineFor(1) != 12 {
		t.Errorf("lines = %d, %d, want 10, 12", code.LineFor(0), code.LineFor(1))
	}
	if code.FirstLine != 10 {
		t.Errorf("first line = %d, want 10", code.FirstLine)
	}
}

func TestDisassemble(t *testing.T) {
	a := NewAssembler("demo")
	a.EmitArg(OpLoadConst, a.Const(IntConst(42)))
	a.Emit(OpReturn)
	out := Disassemble(a.MustAssemble())

	if !strings.Contains(out, "LOAD_CONST") || !strings.Contains(out, "RETURN") {
		t.Errorf("disassembly missing opcodes:\n%s", out)
	}
	if !strings.Contains(out, "42") {
		t.Errorf("disassembly missing constant annotation:\n%s", out)
	}
}

func TestInstructionString(t *testing.T) {
	ins := Instruction{Op: OpBinaryOp, Arg: int32(BinAdd)}
	if got := ins.String(); got != "BINARY_OP +" {
		t.Errorf("String() = %q, want %q", got, "BINARY_OP +")
	}
	if got := (Instruction{Op: OpPop}).String(); got != "POP" {
		t.Errorf("String() = %q, want POP", got)
	}
}

func TestAddParamAfterLocalPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	a := NewAssembler("bad")
	a.AddLocal("x")
	a.AddParam("p")
}
