package image

import (
	"path/filepath"
	"testing"

	"github.com/corvid-lang/corvid/vm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "code.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePutGet(t *testing.T) {
	s := testStore(t)
	code := sampleCode()

	hash, err := s.Put(code)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, err := s.Get(hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Name != code.Name || len(loaded.Insns) != len(code.Insns) {
		t.Errorf("loaded %q with %d insns, want %q with %d",
			loaded.Name, len(loaded.Insns), code.Name, len(code.Insns))
	}
}

func TestStorePutIdempotent(t *testing.T) {
	s := testStore(t)
	code := sampleCode()

	h1, err := s.Put(code)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	h2, err := s.Put(code)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hashes differ: %s vs %s", h1, h2)
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("store has %d entries, want 1", len(entries))
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get("deadbeef"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreList(t *testing.T) {
	s := testStore(t)

	a := vm.NewAssembler("alpha")
	a.EmitArg(vm.OpLoadConst, a.Const(vm.NilConst()))
	a.Emit(vm.OpReturn)
	b := vm.NewAssembler("beta")
	b.EmitArg(vm.OpLoadConst, b.Const(vm.IntConst(1)))
	b.Emit(vm.OpReturn)

	if _, err := s.Put(a.MustAssemble()); err != nil {
		t.Fatalf("put alpha: %v", err)
	}
	if _, err := s.Put(b.MustAssemble()); err != nil {
		t.Fatalf("put beta: %v", err)
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "alpha" || entries[1].Name != "beta" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestStoreDelete(t *testing.T) {
	s := testStore(t)
	hash, err := s.Put(sampleCode())
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete(hash); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(hash); err != ErrNotFound {
		t.Errorf("err after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(hash); err != nil {
		t.Errorf("deleting a missing hash: %v", err)
	}
}
