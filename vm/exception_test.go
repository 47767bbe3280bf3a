package vm

import (
	"strings"
	"testing"
)

func TestExceptionKindNames(t *testing.T) {
	cases := map[ExcKind]string{
		ExcError:         "Error",
		ExcType:          "TypeError",
		ExcValue:         "ValueError",
		ExcRuntime:       "RuntimeError",
		ExcZeroDivide:    "ZeroDivisionError",
		ExcIndex:         "IndexError",
		ExcName:          "NameError",
		ExcAttribute:     "AttributeError",
		ExcStopIteration: "StopIteration",
		ExcGeneratorExit: "GeneratorExit",
		ExcInterrupt:     "Interrupt",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}

func TestExceptionError(t *testing.T) {
	exc := NewException(ExcValue, "bad input")
	if exc.Error() != "ValueError: bad input" {
		t.Errorf("Error() = %q", exc.Error())
	}
	bare := NewException(ExcStopIteration, "")
	if bare.Error() != "StopIteration" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestCompletionKinds(t *testing.T) {
	if !NewException(ExcStopIteration, "").isCompletion() {
		t.Error("StopIteration must be a completion")
	}
	if !NewException(ExcGeneratorExit, "").isCompletion() {
		t.Error("GeneratorExit must be a completion")
	}
	if NewException(ExcValue, "").isCompletion() {
		t.Error("ValueError must not be a completion")
	}
}

func TestTracebackAcrossFrames(t *testing.T) {
	// main calls fail(); the traceback carries both frames with lines.
	f := NewAssembler("fail")
	f.SetFilename("fail.crv")
	f.SetLine(3)
	f.EmitArg(OpLoadConst, f.Const(IntConst(1)))
	f.EmitArg(OpLoadConst, f.Const(IntConst(0)))
	f.EmitArg(OpBinaryOp, int(BinDiv))
	f.Emit(OpReturn)

	a := NewAssembler("main")
	a.SetFilename("main.crv")
	a.SetLine(7)
	a.EmitArg(OpMakeFunction, a.Const(CodeConst(f.MustAssemble())))
	a.EmitArg(OpCall, 0)
	a.Emit(OpReturn)

	v := New()
	_, exc := v.Run(a.MustAssemble())
	if !exc.Is(ExcZeroDivide) {
		t.Fatalf("exception = %v", exc)
	}
	if len(exc.Traceback) != 2 {
		t.Fatalf("traceback has %d entries, want 2", len(exc.Traceback))
	}
	// Innermost first.
	if exc.Traceback[0].Code.Name != "fail" || exc.Traceback[0].Line != 3 {
		t.Errorf("inner entry = %s:%d", exc.Traceback[0].Code.Name, exc.Traceback[0].Line)
	}
	if exc.Traceback[1].Code.Name != "main" || exc.Traceback[1].Line != 7 {
		t.Errorf("outer entry = %s:%d", exc.Traceback[1].Code.Name, exc.Traceback[1].Line)
	}

	rendered := exc.FormatTraceback()
	for _, want := range []string{"fail.crv:3", "main.crv:7", "ZeroDivisionError"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("formatted traceback missing %q:\n%s", want, rendered)
		}
	}
}

func TestRaiseDuringHandlingChainsCause(t *testing.T) {
	// try { 1/0 } except { undefined_name }  -- the NameError carries the
	// ZeroDivisionError as its cause.
	a := NewAssembler("test")
	handler := a.NewLabel()
	a.EmitJump(OpSetupExcept, handler)
	a.EmitArg(OpLoadConst, a.Const(IntConst(1)))
	a.EmitArg(OpLoadConst, a.Const(IntConst(0)))
	a.EmitArg(OpBinaryOp, int(BinDiv))
	a.Emit(OpPop)
	a.Emit(OpPopBlock)
	a.EmitArg(OpLoadConst, a.Const(NilConst()))
	a.Emit(OpReturn)
	a.Mark(handler)
	a.Emit(OpPop)
	a.EmitArg(OpLoadGlobal, a.Name("undefined_name"))
	a.Emit(OpReturn)

	v := New()
	_, exc := v.Run(a.MustAssemble())
	if !exc.Is(ExcName) {
		t.Fatalf("exception = %v, want NameError", exc)
	}
	if !exc.Cause.Is(ExcZeroDivide) {
		t.Fatalf("cause = %v, want ZeroDivisionError", exc.Cause)
	}
	rendered := exc.FormatTraceback()
	if !strings.Contains(rendered, "during handling of the above") {
		t.Errorf("formatted traceback missing chain marker:\n%s", rendered)
	}
}

func TestExceptionPayload(t *testing.T) {
	v := New()
	exc := NewException(ExcValue, "with payload")
	exc.Payload = v.NewString("extra")

	handle := v.NewExceptionValue(exc)
	payload, perr := v.ObjectModel().GetAttr(v, handle, "payload")
	if perr != nil {
		t.Fatalf("payload attr: %v", perr)
	}
	s, _ := v.StringContent(payload)
	if s != "extra" {
		t.Errorf("payload = %q, want extra", s)
	}
}
