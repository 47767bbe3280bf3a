package image

import (
	"testing"

	"github.com/corvid-lang/corvid/vm"
)

// sampleCode builds a code object exercising every constant kind,
// including a nested generator.
func sampleCode() *vm.CodeObject {
	inner := vm.NewAssembler("inner")
	inner.SetFlags(vm.CodeFlagGenerator | vm.CodeFlagNested)
	inner.EmitArg(vm.OpLoadConst, inner.Const(vm.IntConst(1)))
	inner.Emit(vm.OpYield)
	inner.Emit(vm.OpPop)
	inner.EmitArg(vm.OpLoadConst, inner.Const(vm.NilConst()))
	inner.Emit(vm.OpReturn)

	a := vm.NewAssembler("sample")
	a.SetFilename("sample.crv")
	a.SetLine(5)
	x := a.AddParam("x")
	a.AddLocal("y")
	a.EmitArg(vm.OpLoadConst, a.Const(vm.FloatConst(2.5)))
	a.EmitArg(vm.OpLoadConst, a.Const(vm.StringConst("hello")))
	a.Emit(vm.OpPop)
	a.Emit(vm.OpPop)
	a.EmitArg(vm.OpLoadConst, a.Const(vm.BoolConst(true)))
	a.Emit(vm.OpPop)
	a.EmitArg(vm.OpMakeFunction, a.Const(vm.CodeConst(inner.MustAssemble())))
	a.Emit(vm.OpPop)
	a.EmitArg(vm.OpLoadLocal, x)
	a.Emit(vm.OpReturn)
	return a.MustAssemble()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	code := sampleCode()
	data, err := Encode(code)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Name != code.Name || decoded.Filename != code.Filename {
		t.Errorf("identity lost: %q/%q", decoded.Name, decoded.Filename)
	}
	if decoded.Argcount != code.Argcount || decoded.Flags != code.Flags {
		t.Errorf("shape lost: argcount=%d flags=%v", decoded.Argcount, decoded.Flags)
	}
	if len(decoded.Insns) != len(code.Insns) {
		t.Fatalf("instruction count %d, want %d", len(decoded.Insns), len(code.Insns))
	}
	for i := range code.Insns {
		if decoded.Insns[i] != code.Insns[i] {
			t.Errorf("insn %d = %v, want %v", i, decoded.Insns[i], code.Insns[i])
		}
	}
	if decoded.LineFor(0) != code.LineFor(0) {
		t.Errorf("line info lost")
	}
}

func TestRoundTrippedCodeRuns(t *testing.T) {
	// The decoded code must execute identically.
	a := vm.NewAssembler("add")
	a.EmitArg(vm.OpLoadConst, a.Const(vm.IntConst(40)))
	a.EmitArg(vm.OpLoadConst, a.Const(vm.IntConst(2)))
	a.EmitArg(vm.OpBinaryOp, int(vm.BinAdd))
	a.Emit(vm.OpReturn)

	data, err := Encode(a.MustAssemble())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	code, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	machine := vm.New()
	result, exc := machine.Run(code)
	if exc != nil {
		t.Fatalf("run: %v", exc)
	}
	if result.SmallInt() != 42 {
		t.Errorf("result = %d, want 42", result.SmallInt())
	}
}

func TestNestedCodeRoundTrip(t *testing.T) {
	code := sampleCode()
	data, err := Encode(code)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	var nested *vm.CodeObject
	for _, c := range decoded.Consts {
		if c.Kind == vm.ConstCode {
			nested = c.Code
		}
	}
	if nested == nil {
		t.Fatal("nested code constant lost")
	}
	if nested.Name != "inner" || !nested.IsGenerator() {
		t.Errorf("nested code = %q generator=%v", nested.Name, nested.IsGenerator())
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not cbor at all")); err == nil {
		t.Error("garbage accepted")
	}
}

func TestDecodeRejectsWrongMagic(t *testing.T) {
	env := envelope{Magic: "NOPE", Version: Version}
	data, err := cborEncMode.Marshal(&env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Decode(data); err != ErrBadMagic {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}
}

func TestHashStableAndDiscriminating(t *testing.T) {
	h1, err := Hash(sampleCode())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := Hash(sampleCode())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Error("equal code objects hash differently")
	}

	a := vm.NewAssembler("other")
	a.EmitArg(vm.OpLoadConst, a.Const(vm.IntConst(7)))
	a.Emit(vm.OpReturn)
	h3, err := Hash(a.MustAssemble())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 == h3 {
		t.Error("different code objects share a hash")
	}
}
