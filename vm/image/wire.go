// Package image serializes CodeObjects for on-disk storage and
// distribution. The wire format is canonical CBOR, so equal code
// objects encode to equal bytes and the content hash is stable.
package image

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/corvid-lang/corvid/vm"
)

// Magic identifies a Corvid image blob.
const Magic = "CRVI"

// Version is the current wire format version.
const Version = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ErrBadMagic indicates the blob is not a Corvid image.
var ErrBadMagic = errors.New("image: bad magic")

// ErrBadVersion indicates an unsupported wire format version.
var ErrBadVersion = errors.New("image: unsupported version")

// envelope is the outer wire structure.
type envelope struct {
	Magic   string   `cbor:"magic"`
	Version int      `cbor:"version"`
	Code    wireCode `cbor:"code"`
}

// wireCode mirrors vm.CodeObject field for field. Nested code constants
// recurse.
type wireCode struct {
	Name      string     `cbor:"name"`
	Filename  string     `cbor:"filename,omitempty"`
	Argcount  int        `cbor:"argcount"`
	Flags     uint32     `cbor:"flags,omitempty"`
	Ops       []uint8    `cbor:"ops"`
	Args      []int32    `cbor:"args"`
	Lines     []int32    `cbor:"lines,omitempty"`
	FirstLine int32      `cbor:"firstline,omitempty"`
	Consts    []wireConst `cbor:"consts,omitempty"`
	Names     []string   `cbor:"names,omitempty"`
	Locals    []string   `cbor:"locals,omitempty"`
	Cells     []string   `cbor:"cells,omitempty"`
	Frees     []string   `cbor:"frees,omitempty"`
}

type wireConst struct {
	Kind  uint8     `cbor:"kind"`
	Int   int64     `cbor:"int,omitempty"`
	Float float64   `cbor:"float,omitempty"`
	Str   string    `cbor:"str,omitempty"`
	Code  *wireCode `cbor:"code,omitempty"`
}

// Encode serializes a CodeObject, with its whole constant tree, to a
// canonical image blob.
func Encode(code *vm.CodeObject) ([]byte, error) {
	env := envelope{
		Magic:   Magic,
		Version: Version,
		Code:    toWire(code),
	}
	data, err := cborEncMode.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("image: encode %s: %w", code.Name, err)
	}
	return data, nil
}

// Decode parses an image blob back into a CodeObject.
func Decode(data []byte) (*vm.CodeObject, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	if env.Magic != Magic {
		return nil, ErrBadMagic
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, env.Version)
	}
	return fromWire(&env.Code)
}

// Hash returns the content hash of a CodeObject: SHA-256 over the
// canonical encoding of the code tree, independent of the envelope.
func Hash(code *vm.CodeObject) ([32]byte, error) {
	w := toWire(code)
	data, err := cborEncMode.Marshal(&w)
	if err != nil {
		return [32]byte{}, fmt.Errorf("image: hash %s: %w", code.Name, err)
	}
	return sha256.Sum256(data), nil
}

func toWire(code *vm.CodeObject) wireCode {
	w := wireCode{
		Name:      code.Name,
		Filename:  code.Filename,
		Argcount:  code.Argcount,
		Flags:     uint32(code.Flags),
		Ops:       make([]uint8, len(code.Insns)),
		Args:      make([]int32, len(code.Insns)),
		Lines:     code.Lines,
		FirstLine: code.FirstLine,
		Names:     code.Names,
		Locals:    code.LocalNames,
		Cells:     code.CellNames,
		Frees:     code.FreeNames,
	}
	for i, ins := range code.Insns {
		w.Ops[i] = uint8(ins.Op)
		w.Args[i] = ins.Arg
	}
	for _, c := range code.Consts {
		wc := wireConst{
			Kind:  uint8(c.Kind),
			Int:   c.Int,
			Float: c.Float,
			Str:   c.Str,
		}
		if c.Kind == vm.ConstCode {
			nested := toWire(c.Code)
			wc.Code = &nested
		}
		w.Consts = append(w.Consts, wc)
	}
	return w
}

func fromWire(w *wireCode) (*vm.CodeObject, error) {
	if len(w.Ops) != len(w.Args) {
		return nil, fmt.Errorf("image: %s: ops/args length mismatch", w.Name)
	}
	code := &vm.CodeObject{
		Name:       w.Name,
		Filename:   w.Filename,
		Argcount:   w.Argcount,
		Flags:      vm.CodeFlags(w.Flags),
		Insns:      make([]vm.Instruction, len(w.Ops)),
		Lines:      w.Lines,
		FirstLine:  w.FirstLine,
		Names:      w.Names,
		LocalNames: w.Locals,
		CellNames:  w.Cells,
		FreeNames:  w.Frees,
	}
	for i := range w.Ops {
		code.Insns[i] = vm.Instruction{Op: vm.Opcode(w.Ops[i]), Arg: w.Args[i]}
	}
	for _, wc := range w.Consts {
		c := vm.Constant{
			Kind:  vm.ConstKind(wc.Kind),
			Int:   wc.Int,
			Float: wc.Float,
			Str:   wc.Str,
		}
		if c.Kind == vm.ConstCode {
			if wc.Code == nil {
				return nil, fmt.Errorf("image: %s: code constant without body", w.Name)
			}
			nested, err := fromWire(wc.Code)
			if err != nil {
				return nil, err
			}
			c.Code = nested
		}
		code.Consts = append(code.Consts, c)
	}
	return code, nil
}
