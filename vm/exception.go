package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Guest exceptions
// ---------------------------------------------------------------------------
//
// Guest exceptions are data. They propagate through each frame's ExecResult
// and through the block stack, never through Go panic/recover: the VM's
// native call stack stays shallow no matter how deep guest unwinding goes.
// Go panics are reserved for VM-internal invariant violations (stack
// underflow, corrupted block stack), which indicate a compiler or VM defect.

// ExcKind classifies an exception for handler matching and for the
// completion-signaling pseudo-exceptions the coroutine machinery uses.
type ExcKind uint8

const (
	// ExcError is the generic recoverable guest error.
	ExcError ExcKind = iota

	// ExcType: operation applied to a value of the wrong type.
	ExcType

	// ExcValue: right type, unacceptable value.
	ExcValue

	// ExcRuntime: errors of execution, including re-entrancy violations
	// and generators that ignore GeneratorExit.
	ExcRuntime

	// ExcZeroDivide: integer or float division by zero.
	ExcZeroDivide

	// ExcIndex: sequence subscript out of range.
	ExcIndex

	// ExcName: unknown global name.
	ExcName

	// ExcAttribute: attribute lookup failure.
	ExcAttribute

	// ExcStopIteration signals iterator/generator exhaustion. Carried on
	// the ordinary exception channel so handler dispatch stays uniform.
	ExcStopIteration

	// ExcGeneratorExit is raised at the suspension point by Coro.Close.
	ExcGeneratorExit

	// ExcInterrupt delivers a pending external signal at a safe point.
	ExcInterrupt
)

// excKindNames maps kinds to their guest-visible names.
var excKindNames = [...]string{
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

// String returns the guest-visible exception kind name.
func (k ExcKind) String() string {
	if int(k) < len(excKindNames) {
		return excKindNames[k]
	}
	return fmt.Sprintf("Exception(%d)", uint8(k))
}

// TracebackEntry records one (location, frame) pair collected during
// unwind.
type TracebackEntry struct {
	Code  *CodeObject
	Lasti int
	Line  int32
}

// ExceptionObject is the unwind token: a value plus its traceback chain.
type ExceptionObject struct {
	Kind    ExcKind
	Message string

	// Payload carries an associated value, e.g. the return value inside
	// a StopIteration.
	Payload Value

	// Traceback grows innermost-first as the exception crosses frames.
	Traceback []TracebackEntry

	// Cause links the exception that was being handled when this one was
	// raised, or the original exception a with-exit failure replaced.
	Cause *ExceptionObject
}

// NewException creates an exception with no payload.
func NewException(kind ExcKind, message string) *ExceptionObject {
	return &ExceptionObject{Kind: kind, Message: message, Payload: Nil}
}

// Exceptionf creates an exception with a formatted message.
func Exceptionf(kind ExcKind, format string, args ...any) *ExceptionObject {
	return NewException(kind, fmt.Sprintf(format, args...))
}

// Is reports whether the exception has the given kind.
func (e *ExceptionObject) Is(kind ExcKind) bool {
	return e != nil && e.Kind == kind
}

// isCompletion reports whether the exception merely signals orderly
// completion (generator exhaustion or cancellation acknowledgment).
func (e *ExceptionObject) isCompletion() bool {
	return e.Is(ExcStopIteration) || e.Is(ExcGeneratorExit)
}

// addTraceback appends a (location, frame) pair. lasti is the index of the
// instruction that raised or propagated the exception.
func (e *ExceptionObject) addTraceback(code *CodeObject, lasti int) {
	e.Traceback = append(e.Traceback, TracebackEntry{
		Code:  code,
		Lasti: lasti,
		Line:  code.LineFor(lasti),
	})
}

// Traverse visits the payloads along the cause chain.
func (e *ExceptionObject) Traverse(visit func(Value)) {
	for exc := e; exc != nil; exc = exc.Cause {
		visit(exc.Payload)
	}
}

// Error implements the error interface so embedders can treat an uncaught
// guest exception as an ordinary Go error.
func (e *ExceptionObject) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// FormatTraceback renders the exception and its traceback chain,
// innermost frame last, for the embedder surface.
func (e *ExceptionObject) FormatTraceback() string {
	var b strings.Builder
	if e.Cause != nil {
		b.WriteString(e.Cause.FormatTraceback())
		b.WriteString("\nduring handling of the above, another exception occurred:\n\n")
	}
	b.WriteString("traceback (most recent call last):\n")
	for i := len(e.Traceback) - 1; i >= 0; i-- {
		t := e.Traceback[i]
		file := t.Code.Filename
		if file == "" {
			file = "<input>"
		}
		fmt.Fprintf(&b, "  %s:%d, in %s\n", file, t.Line, t.Code.Name)
	}
	b.WriteString(e.Error())
	b.WriteByte('\n')
	return b.String()
}
