package vm

// Traversable is the reachability capability. Traverse must call visit
// exactly once for each Value the receiver owns a reference to, must not
// allocate handles, and must not take locks the mutator can hold across
// a guest call. The registry GC's mark phase is driven entirely by this
// interface, so a kind that forgets an edge gets its target reclaimed.
type Traversable interface {
	Traverse(visit func(Value))
}

// Compile-time checks that every traced kind implements the capability.
var (
	_ Traversable = (*ListObject)(nil)
	_ Traversable = (*ListIterator)(nil)
	_ Traversable = (*FunctionObject)(nil)
	_ Traversable = (*Cell)(nil)
	_ Traversable = (*Coro)(nil)
	_ Traversable = (*Frame)(nil)
	_ Traversable = (*ExceptionObject)(nil)
)
