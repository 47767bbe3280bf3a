package vm

import (
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Execution tracing
// ---------------------------------------------------------------------------

// Tracer logs frame, coroutine, and (at level 2) per-instruction events
// through commonlog. It is created only when Config.TraceLevel > 0, so
// the dispatch loop pays a single nil check when tracing is off.
type Tracer struct {
	vm    *VM
	level int
	log   commonlog.Logger
}

func newTracer(vm *VM, level int) *Tracer {
	return &Tracer{
		vm:    vm,
		level: level,
		log:   commonlog.GetLogger("corvid.vm"),
	}
}

func (t *Tracer) id() string {
	return t.vm.ID.String()[:8]
}

func (t *Tracer) enterFrame(f *Frame) {
	t.log.Debugf("[%s] enter %s depth=%d", t.id(), f.Code().Name, t.vm.callDepth)
}

func (t *Tracer) leaveFrame(f *Frame, res ExecResult) {
	switch res.Kind {
	case ResultException:
		t.log.Debugf("[%s] leave %s exception=%s", t.id(), f.Code().Name, res.Exc.Error())
	default:
		t.log.Debugf("[%s] leave %s", t.id(), f.Code().Name)
	}
}

func (t *Tracer) instruction(f *Frame, ins Instruction) {
	if t.level < 2 {
		return
	}
	t.log.Debugf("[%s] %s:%d %s stack=%d blocks=%d",
		t.id(), f.Code().Name, f.Lasti(), ins.String(), f.StackDepth(), f.BlockDepth())
}

func (t *Tracer) exception(f *Frame, exc *ExceptionObject) {
	t.log.Debugf("[%s] raise %s at %s:%d", t.id(), exc.Error(), f.Code().Name, f.Lasti())
}

func (t *Tracer) coroEvent(g *Coro, event string) {
	t.log.Debugf("[%s] coro %s %s state=%s", t.id(), g.Name(), event, g.State())
}
