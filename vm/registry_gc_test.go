package vm

import (
	"testing"
	"time"
)

func TestCollectGarbageReclaimsUnreachable(t *testing.T) {
	v := New()
	v.NewList([]Value{FromSmallInt(1)}) // dropped immediately

	kept := v.NewList([]Value{FromSmallInt(2)})
	v.StoreGlobal("kept", kept)

	stats := v.RegistryGC().CollectGarbage()
	if stats.Lists != 1 {
		t.Errorf("swept %d lists, want 1", stats.Lists)
	}
	if v.GetList(kept) == nil {
		t.Error("rooted list was reclaimed")
	}
}

func TestCollectGarbageFollowsEdges(t *testing.T) {
	// global -> list -> inner list: both survive.
	v := New()
	inner := v.NewList([]Value{FromSmallInt(1)})
	outer := v.NewList([]Value{inner})
	v.StoreGlobal("outer", outer)

	v.RegistryGC().CollectGarbage()
	if v.GetList(inner) == nil {
		t.Error("transitively reachable list was reclaimed")
	}
}

func TestCollectGarbageReclaimsCycles(t *testing.T) {
	// Two lists referencing each other, unreachable from any root.
	v := New()
	a := v.NewList(nil)
	b := v.NewList(nil)
	v.GetList(a).Elements = []Value{b}
	v.GetList(b).Elements = []Value{a}

	stats := v.RegistryGC().CollectGarbage()
	if stats.Lists != 2 {
		t.Errorf("swept %d lists, want the whole cycle (2)", stats.Lists)
	}
	if v.GetList(a) != nil || v.GetList(b) != nil {
		t.Error("cycle members still registered")
	}
}

func TestCollectGarbageKeepsClosureCells(t *testing.T) {
	// global function -> freevar cell -> captured list.
	v := New()
	captured := v.NewList([]Value{FromSmallInt(9)})
	cell := v.NewCellValue(captured)
	fn := v.NewFunction(&FunctionObject{Name: "f", Freevars: []Value{cell}})
	v.StoreGlobal("f", fn)

	v.RegistryGC().CollectGarbage()
	if v.GetCell(cell) == nil {
		t.Error("cell reclaimed")
	}
	if v.GetList(captured) == nil {
		t.Error("captured list reclaimed")
	}
}

func TestCollectGarbageKeepsSuspendedGeneratorState(t *testing.T) {
	// A rooted suspended generator keeps everything its frame holds.
	v := New()
	g := makeGeneratorForGC(t, v)
	if _, exc := g.Send(Nil); exc != nil {
		t.Fatalf("send: %v", exc)
	}

	v.RegistryGC().CollectGarbage()

	// The generator still resumes correctly after collection.
	res, exc := g.Send(Nil)
	if exc != nil {
		t.Fatalf("send after gc: %v", exc)
	}
	s, _ := v.StringContent(res.Value)
	if s != "alive" {
		t.Errorf("yield after gc = %q, want alive", s)
	}
}

// makeGeneratorForGC builds a rooted generator that holds a string local
// across a suspension: yield 1; yield s.
func makeGeneratorForGC(t *testing.T, v *VM) *Coro {
	t.Helper()
	a := NewAssembler("holder")
	a.SetFlags(CodeFlagGenerator)
	s := a.AddLocal("s")
	a.EmitArg(OpLoadConst, a.Const(StringConst("alive")))
	a.EmitArg(OpStoreLocal, s)
	a.EmitArg(OpLoadConst, a.Const(IntConst(1)))
	a.Emit(OpYield)
	a.Emit(OpPop)
	a.EmitArg(OpLoadLocal, s)
	a.Emit(OpYield)
	a.Emit(OpPop)
	a.EmitArg(OpLoadConst, a.Const(NilConst()))
	a.Emit(OpReturn)

	handle, exc := v.Run(a.MustAssemble())
	if exc != nil {
		t.Fatalf("creating generator: %v", exc)
	}
	v.StoreGlobal("g", handle)
	return v.GetGenerator(handle)
}

func TestPinProtectsHostHeldHandles(t *testing.T) {
	v := New()
	held := v.NewList([]Value{FromSmallInt(3)})
	v.Pin(held)

	v.RegistryGC().CollectGarbage()
	if v.GetList(held) == nil {
		t.Fatal("pinned list reclaimed")
	}

	v.Unpin(held)
	v.RegistryGC().CollectGarbage()
	if v.GetList(held) != nil {
		t.Error("unpinned list survived collection")
	}
}

func TestStringInterningSurvivesSweep(t *testing.T) {
	// Reclaiming an interned string must also clear the intern index, so
	// re-creating it mints a live handle.
	v := New()
	s := v.NewString("transient")
	v.RegistryGC().CollectGarbage()
	if _, ok := v.StringContent(s); ok {
		t.Fatal("unrooted string survived")
	}
	again := v.NewString("transient")
	if content, ok := v.StringContent(again); !ok || content != "transient" {
		t.Errorf("re-interned string broken: %q, %v", content, ok)
	}
}

func TestBackgroundSweepReclaimsClosedGenerators(t *testing.T) {
	v := New()
	g := makeGeneratorForGC(t, v)
	if exc := g.Close(); exc != nil {
		t.Fatalf("close: %v", exc)
	}

	stats := v.RegistryGC().sweepClosed()
	if stats.Generators != 1 {
		t.Errorf("swept %d generators, want 1", stats.Generators)
	}
}

func TestRegistryGCStartStop(t *testing.T) {
	gc := NewRegistryGC(New(), 10*time.Millisecond)
	gc.Start()
	gc.Start() // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	gc.Stop()
	gc.Stop() // second stop is a no-op
	if gc.SweepCount() == 0 {
		t.Error("background loop never swept")
	}
}

func TestRegistryGCDisable(t *testing.T) {
	gc := NewRegistryGC(New(), time.Hour)
	gc.SetEnabled(false)
	if gc.IsEnabled() {
		t.Error("SetEnabled(false) ignored")
	}
}
