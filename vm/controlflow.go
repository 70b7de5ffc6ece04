// Package vm implements the single-threaded cooperative runtime described
// in SPEC_FULL.md §4.5: a control flow owning a call stack, a value stack
// and a local-variable buffer, dispatching over the opcode set the
// compiler backend emits (program.OpcodeType). The dispatch loop is
// grounded on the teacher's Instance.Run switch (db47h-ngaro's vm/core.go),
// generalized from a fixed instruction tape indexed by a single program
// counter to a call stack of frames, one per active script function.
package vm

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/program"
	"github.com/vinegar97/sonic3air/strtab"
)

const (
	// ValueStackLimit bounds the value stack. Index 0 is never a valid
	// operand slot, so the stack's first usable index is 1: an attempt to
	// pop below it is a detectable underflow rather than reading garbage
	// at a wrapped-around index (§3, "Runtime state").
	ValueStackLimit = 4096

	// VarStackLimit bounds the shared local-variable buffer every frame
	// carves its slots out of.
	VarStackLimit = 65536

	// CallStackLimit bounds live frames; exceeding it is a RuntimeError,
	// not a Go stack overflow.
	CallStackLimit = 512
)

// MemoryAccess maps a 32 bit virtual address plus a bit width to a
// readable/writable value, or signals a fault (§6, "Memory access
// handler"). host.MemoryAccess is an alias of this type: the interface is
// declared here, in the package that actually calls it, so host can depend
// on vm without vm needing to depend on host.
type MemoryAccess interface {
	ReadMemory(addr uint32, bits uint8, signed bool) (uint64, error)
	WriteMemory(addr uint32, bits uint8, value uint64) error
}

// RuntimeError is the structured error surfaced to the host when the
// opcode loop aborts (§7, "RuntimeError"). It always carries KindRuntime.
type RuntimeError struct {
	Function string
	PC       int
	Text     string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error in %s at pc=%d: %s", e.Function, e.PC, e.Text)
}

func (cf *ControlFlow) fault(text string, args ...interface{}) *RuntimeError {
	fn, pc := "<none>", -1
	if n := len(cf.frames); n > 0 {
		top := cf.frames[n-1]
		fn, pc = top.Fn.Name, top.PC
	}
	return &RuntimeError{Function: fn, PC: pc, Text: fmt.Sprintf(text, args...)}
}

// valueStack is the VM's operand stack (glossary, "Value stack"), distinct
// from the call stack. values[0] is a permanent sentinel; the first live
// slot is index 1.
type valueStack struct {
	values [ValueStackLimit]uint64
	top    int
}

func newValueStack() valueStack { return valueStack{top: 1} }

func (s *valueStack) push(v uint64) error {
	if s.top >= len(s.values) {
		return fmt.Errorf("value stack overflow")
	}
	s.values[s.top] = v
	s.top++
	return nil
}

func (s *valueStack) pop() (uint64, error) {
	if s.top <= 1 {
		return 0, fmt.Errorf("value stack underflow")
	}
	s.top--
	return s.values[s.top], nil
}

// locals is the contiguous local-variable buffer every frame carves a
// [base, base+FrameSize) window out of (§3, "Runtime state").
type locals struct {
	values [VarStackLimit]uint64
	size   int
}

func (l *locals) enter(frameSize int) (base int, err error) {
	base = l.size
	if base+frameSize > len(l.values) {
		return 0, fmt.Errorf("local-variable stack overflow")
	}
	l.size += frameSize
	return base, nil
}

func (l *locals) leave(base int) { l.size = base }

// Frame is one call stack entry: the running function, its program
// counter, and the base indices its value-stack and local-variable window
// started at, restored exactly on return (§3, "Runtime state").
type Frame struct {
	Fn        *program.Function
	PC        int
	ValueBase int
	LocalBase int
}

// ControlFlow is a cooperative thread of execution (glossary, "Control
// flow"): a call stack, a value stack, and a local-variable buffer, bound
// to an Environment for cross-module function/global resolution and a
// host-supplied MemoryAccess for READ_MEMORY/WRITE_MEMORY opcodes.
type ControlFlow struct {
	Env *program.Environment
	Mem MemoryAccess

	frames []Frame
	values valueStack
	locals locals

	globalsByHash map[uint64]*program.Variable

	hooks *HookTable

	yielded  bool
	insCount int64
}

// NewControlFlow returns a control flow with an empty call stack, ready to
// run a function via Call. mem may be nil if the compiled program performs
// no memory accesses.
func NewControlFlow(env *program.Environment, mem MemoryAccess) *ControlFlow {
	return &ControlFlow{
		Env:    env,
		Mem:    mem,
		values: newValueStack(),
		hooks:  BuildHookTable(env),
	}
}

// InstructionCount returns the number of opcodes dispatched so far.
func (cf *ControlFlow) InstructionCount() int64 { return cf.insCount }

// Yielded reports whether the last Run call returned because the running
// script called yieldExecution rather than because the call stack drained.
func (cf *ControlFlow) Yielded() bool { return cf.yielded }

// globalVariable resolves a name-hash immediate (backend.varParam's
// encoding for non-local variables) against every global declared in any
// loaded module, building the lookup table on first use.
func (cf *ControlFlow) globalVariable(nameHash uint64) (*program.Variable, bool) {
	if cf.globalsByHash == nil {
		cf.globalsByHash = make(map[uint64]*program.Variable)
		// First module in load order wins a name collision, matching
		// GlobalsLookup.FindGlobal's tie-break (§9, "Global singletons"
		// replaced by an explicit, order-sensitive lookup).
		for _, m := range cf.Env.Modules() {
			for _, g := range m.Globals {
				h := uint64(strtab.Sum(g.Name))
				if _, exists := cf.globalsByHash[h]; !exists {
					cf.globalsByHash[h] = g
				}
			}
		}
	}
	v, ok := cf.globalsByHash[nameHash]
	return v, ok
}

// moduleString resolves a PUSH_CONST string immediate: idx is the index
// into the owning function's module's string-literal table, and the
// runtime value of a string is the strtab.Hash of its bytes, interned into
// the environment's process-wide table so equal strings compare equal
// across every module and frame (§3, "Interned string").
func (cf *ControlFlow) moduleString(owner string, idx uint64) (uint64, error) {
	m, ok := cf.Env.Module(owner)
	if !ok {
		return 0, fmt.Errorf("module %q not loaded", owner)
	}
	s := m.StringAt(int(idx))
	return uint64(cf.Env.Strings.Intern(s)), nil
}

// CallByName invokes the first overload of name found via the
// environment's cross-module globals lookup, per §6 ("Invoke by function
// name"). It runs the call via CallFunction and returns its result, with
// the same behaviour on a yield.
func (cf *ControlFlow) CallByName(name string, args ...uint64) (uint64, error) {
	fns := cf.Env.Globals().FindFunctions(name)
	if len(fns) == 0 {
		return 0, fmt.Errorf("no function named %q", name)
	}
	return cf.CallFunction(fns[0], args)
}

// CallAddressHook invokes the function registered at addr, per §4.5
// ("Address hooks"). Unknown addresses silently no-op and return 0, per
// §8's boundary behaviour.
func (cf *ControlFlow) CallAddressHook(addr uint32, args ...uint64) (uint64, error) {
	fn, ok := cf.hooks.Lookup(addr)
	if !ok {
		return 0, nil
	}
	return cf.CallFunction(fn, args)
}

// CallFunction pushes a frame for fn, argument values bound to its first
// len(args) local slots, and runs the opcode loop until the call returns.
// If the script calls yieldExecution first, it returns 0 with Yielded()
// true and the frames left on the call stack; a later Run resumes them.
func (cf *ControlFlow) CallFunction(fn *program.Function, args []uint64) (uint64, error) {
	if fn.Kind == program.FuncNative {
		return cf.callNative(fn, args)
	}
	if err := cf.pushFrame(fn, args); err != nil {
		return 0, err
	}
	if err := cf.Run(); err != nil {
		return 0, err
	}
	if cf.yielded {
		return 0, nil
	}
	ret, _ := cf.values.pop()
	return ret, nil
}

func (cf *ControlFlow) pushFrame(fn *program.Function, args []uint64) error {
	if len(cf.frames) >= CallStackLimit {
		return cf.fault("call stack overflow")
	}
	base, err := cf.locals.enter(fn.FrameSize)
	if err != nil {
		return cf.fault("%v", err)
	}
	for i, v := range args {
		cf.locals.values[base+i] = v
	}
	cf.frames = append(cf.frames, Frame{Fn: fn, ValueBase: cf.values.top, LocalBase: base})
	return nil
}

// callNative pops nothing off the current value stack (there is no current
// frame at the top-level CallFunction entry point): the wrapper receives
// args directly and its result is returned to the Go caller (§4.5,
// "Native calls").
func (cf *ControlFlow) callNative(fn *program.Function, args []uint64) (uint64, error) {
	if fn.Native == nil {
		return 0, cf.fault("native function %q has no bound wrapper", fn.Name)
	}
	if len(args) != len(fn.Params) {
		return 0, cf.fault("native function %q: arity mismatch, got %d want %d", fn.Name, len(args), len(fn.Params))
	}
	return fn.Native(args)
}

// Run drains opcodes from the top of the call stack until it empties or
// the running script yields. Any panic escaping opcode dispatch (index out
// of range on a malformed opcode stream, integer division panics that
// slipped past the frontend's safe-division folding, and so on) is
// recovered and reported as a RuntimeError wrapped with the failing
// frame's identity, mirroring the teacher's Instance.Run recover clause.
func (cf *ControlFlow) Run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.Wrapf(cf.fault("%v", e), "recovered panic")
			} else {
				err = errors.Wrapf(cf.fault("%v", r), "recovered panic")
			}
		}
	}()
	cf.yielded = false
	for len(cf.frames) > 0 {
		if err := cf.step(); err != nil {
			return err
		}
		if cf.yielded {
			return nil
		}
	}
	return nil
}

// step executes exactly one opcode of the topmost frame.
func (cf *ControlFlow) step() error {
	top := len(cf.frames) - 1
	frame := &cf.frames[top]
	fn := frame.Fn
	if frame.PC < 0 || frame.PC >= len(fn.Opcodes) {
		return cf.fault("program counter %d out of range (%d opcodes)", frame.PC, len(fn.Opcodes))
	}
	op := fn.Opcodes[frame.PC]
	cf.insCount++

	switch op.Type {
	case program.OpNop:
		frame.PC++

	case program.OpPushConst:
		v := op.Parameter
		if op.DataType == datatype.String {
			var err error
			v, err = cf.moduleString(fn.Module, op.Parameter)
			if err != nil {
				return cf.fault("%v", err)
			}
		}
		if err := cf.values.push(v); err != nil {
			return cf.fault("%v", err)
		}
		frame.PC++

	case program.OpLoadLocal:
		if err := cf.values.push(cf.locals.values[frame.LocalBase+int(op.Parameter)]); err != nil {
			return cf.fault("%v", err)
		}
		frame.PC++

	case program.OpStoreLocal:
		v, err := cf.values.pop()
		if err != nil {
			return cf.fault("%v", err)
		}
		cf.locals.values[frame.LocalBase+int(op.Parameter)] = v
		frame.PC++

	case program.OpLoadGlobal, program.OpLoadExternal, program.OpLoadUser:
		gv, ok := cf.globalVariable(op.Parameter)
		if !ok {
			return cf.fault("unresolved variable reference")
		}
		if err := cf.values.push(gv.Get()); err != nil {
			return cf.fault("%v", err)
		}
		frame.PC++

	case program.OpStoreGlobal, program.OpStoreExternal, program.OpStoreUser:
		v, err := cf.values.pop()
		if err != nil {
			return cf.fault("%v", err)
		}
		gv, ok := cf.globalVariable(op.Parameter)
		if !ok {
			return cf.fault("unresolved variable reference")
		}
		gv.Set(v)
		frame.PC++

	case program.OpReadMemory:
		addr, err := cf.values.pop()
		if err != nil {
			return cf.fault("%v", err)
		}
		mo := program.DecodeMemoryOp(op.Parameter)
		if cf.Mem == nil {
			return cf.fault("memory access with no bound handler")
		}
		v, err := cf.Mem.ReadMemory(uint32(addr), mo.Bits, mo.Signed)
		if err != nil {
			return cf.fault("memory fault: %v", err)
		}
		if err := cf.values.push(v); err != nil {
			return cf.fault("%v", err)
		}
		frame.PC++

	case program.OpWriteMemory:
		addr, err := cf.values.pop()
		if err != nil {
			return cf.fault("%v", err)
		}
		val, err := cf.values.pop()
		if err != nil {
			return cf.fault("%v", err)
		}
		mo := program.DecodeMemoryOp(op.Parameter)
		if cf.Mem == nil {
			return cf.fault("memory access with no bound handler")
		}
		if err := cf.Mem.WriteMemory(uint32(addr), mo.Bits, val); err != nil {
			return cf.fault("memory fault: %v", err)
		}
		frame.PC++

	case program.OpUnary:
		if err := cf.doUnary(op); err != nil {
			return err
		}
		frame.PC++

	case program.OpBinary:
		if err := cf.doBinary(op); err != nil {
			return err
		}
		frame.PC++

	case program.OpCompare:
		if err := cf.doCompare(op); err != nil {
			return err
		}
		frame.PC++

	case program.OpCast:
		if err := cf.doCast(op); err != nil {
			return err
		}
		frame.PC++

	case program.OpJump:
		frame.PC = int(op.Parameter)

	case program.OpJumpIfFalse:
		v, err := cf.values.pop()
		if err != nil {
			return cf.fault("%v", err)
		}
		if v == 0 {
			frame.PC = int(op.Parameter)
		} else {
			frame.PC++
		}

	case program.OpJumpIfTrue:
		v, err := cf.values.pop()
		if err != nil {
			return cf.fault("%v", err)
		}
		if v != 0 {
			frame.PC = int(op.Parameter)
		} else {
			frame.PC++
		}

	case program.OpCallScript, program.OpCallNative:
		if err := cf.doCall(op); err != nil {
			return err
		}
		// doCall may have grown cf.frames, leaving frame stale
		cf.frames[top].PC++

	case program.OpPushValue:
		v, err := cf.values.pop()
		if err != nil {
			return cf.fault("%v", err)
		}
		if err := cf.values.push(v); err != nil {
			return cf.fault("%v", err)
		}
		if err := cf.values.push(v); err != nil {
			return cf.fault("%v", err)
		}
		frame.PC++

	case program.OpPopValue:
		if _, err := cf.values.pop(); err != nil {
			return cf.fault("%v", err)
		}
		frame.PC++

	case program.OpReturn:
		return cf.doReturn(op)

	case program.OpYield:
		cf.yielded = true
		frame.PC++

	default:
		return cf.fault("unhandled opcode %s", op.Type)
	}
	return nil
}

// doReturn implements §4.5 step 3: pop all locals this frame introduced,
// copy the returned value (if any) down to the caller's value-stack top,
// then pop the frame.
func (cf *ControlFlow) doReturn(op program.Opcode) error {
	top := len(cf.frames) - 1
	frame := cf.frames[top]

	var result uint64
	hasValue := op.Parameter != 0
	if hasValue {
		v, err := cf.values.pop()
		if err != nil {
			return cf.fault("%v", err)
		}
		result = v
	}
	cf.values.top = frame.ValueBase
	if hasValue {
		if err := cf.values.push(result); err != nil {
			return cf.fault("%v", err)
		}
	}
	cf.locals.leave(frame.LocalBase)
	cf.frames = cf.frames[:top]
	return nil
}

// doCall implements §4.4's call opcodes: arguments are already on the
// value stack (pushed by the caller's emitted argument expressions, in
// declaration order), popped here and rebound as the callee's locals for a
// script call, or handed to the wrapper directly for a native call.
func (cf *ControlFlow) doCall(op program.Opcode) error {
	moduleHash, id := uint32(op.Parameter>>32), uint32(op.Parameter)
	fn := cf.functionByID(op.Type == program.OpCallNative, moduleHash, id)
	if fn == nil {
		return cf.fault("call to unresolved function id %d in module hash %#x", id, moduleHash)
	}
	args := make([]uint64, len(fn.Params))
	for i := len(args) - 1; i >= 0; i-- {
		v, err := cf.values.pop()
		if err != nil {
			return cf.fault("%v", err)
		}
		args[i] = v
	}
	if fn.Kind == program.FuncNative {
		result, err := cf.callNative(fn, args)
		if err != nil {
			return cf.fault("%v", err)
		}
		if fn.Return != nil && fn.Return != datatype.Void {
			if err := cf.values.push(result); err != nil {
				return cf.fault("%v", err)
			}
		}
		return nil
	}
	return cf.pushFrame(fn, args)
}

// functionByID resolves a call target by its owning-module hash (matching
// callParam's encoding) plus its per-module function id.
func (cf *ControlFlow) functionByID(native bool, moduleHash uint32, id uint32) *program.Function {
	for _, m := range cf.Env.Modules() {
		if uint32(strtab.Sum(m.Name)) != moduleHash {
			continue
		}
		if fn := findByID(m.Functions, native, id); fn != nil {
			return fn
		}
	}
	return nil
}

func findByID(fns []*program.Function, native bool, id uint32) *program.Function {
	for _, fn := range fns {
		isNative := fn.Kind == program.FuncNative
		if isNative == native && uint32(fn.ID) == id {
			return fn
		}
	}
	return nil
}
