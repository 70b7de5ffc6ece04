package vm

import (
	"bytes"
	"testing"

	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/program"
	"github.com/vinegar97/sonic3air/strtab"
	"github.com/vinegar97/sonic3air/token"
)

// newTestEnv builds a single-module environment ready to have functions
// declared into it and finalized by the caller.
func newTestEnv(name string) (*program.Environment, *program.Module) {
	env := program.NewEnvironment()
	m := program.NewModule(name)
	return env, m
}

func loadModule(t *testing.T, env *program.Environment, m *program.Module) {
	t.Helper()
	m.Finalize(0)
	if err := env.AddModule(m); err != nil {
		t.Fatalf("AddModule: %v", err)
	}
}

// buildAddFn returns a script function computing a+b for two s32 params.
func buildAddFn(name string) *program.Function {
	return &program.Function{
		Name:   name,
		Params: []program.Param{{Name: "a", Type: datatype.Int32}, {Name: "b", Type: datatype.Int32}},
		Return: datatype.Int32,
		Kind:   program.FuncScript,
		Locals: []program.LocalVar{{Name: "a", Type: datatype.Int32, Slot: 0}, {Name: "b", Type: datatype.Int32, Slot: 1}},
		FrameSize: 2,
		Opcodes: []program.Opcode{
			{Type: program.OpLoadLocal, Parameter: 0},
			{Type: program.OpLoadLocal, Parameter: 1},
			{Type: program.OpBinary, DataType: datatype.Int32, Parameter: uint64(token.OpAdd)},
			{Type: program.OpReturn, Parameter: 1},
		},
	}
}

func TestArithmeticAddition(t *testing.T) {
	env, m := newTestEnv("math")
	m.DeclareFunction(buildAddFn("add"))
	loadModule(t, env, m)

	cf := NewControlFlow(env, nil)
	got, err := cf.CallByName("add", 40, 2)
	if err != nil {
		t.Fatalf("CallByName: %v", err)
	}
	if got != 42 {
		t.Fatalf("add(40,2) = %d, want 42", got)
	}
}

func TestDivisionByZeroYieldsZero(t *testing.T) {
	env, m := newTestEnv("math")
	fn := &program.Function{
		Name:      "divz",
		Params:    []program.Param{{Name: "a", Type: datatype.Int32}, {Name: "b", Type: datatype.Int32}},
		Return:    datatype.Int32,
		Kind:      program.FuncScript,
		FrameSize: 2,
		Opcodes: []program.Opcode{
			{Type: program.OpLoadLocal, Parameter: 0},
			{Type: program.OpLoadLocal, Parameter: 1},
			{Type: program.OpBinary, DataType: datatype.Int32, Parameter: uint64(token.OpDiv)},
			{Type: program.OpReturn, Parameter: 1},
		},
	}
	m.DeclareFunction(fn)
	loadModule(t, env, m)

	cf := NewControlFlow(env, nil)
	got, err := cf.CallByName("divz", 10, 0)
	if err != nil {
		t.Fatalf("CallByName: %v", err)
	}
	if got != 0 {
		t.Fatalf("divz(10,0) = %d, want 0", got)
	}
}

// buildLoopSumFn returns a script function summing 0..n-1 into a local,
// exercising jump/jump_if_false/store_local/load_local without recursion.
// Locals: 0=n (param), 1=i, 2=sum.
func buildLoopSumFn() *program.Function {
	return &program.Function{
		Name:      "loopSum",
		Params:    []program.Param{{Name: "n", Type: datatype.Int32}},
		Return:    datatype.Int32,
		Kind:      program.FuncScript,
		FrameSize: 3,
		Opcodes: []program.Opcode{
			/*0*/ {Type: program.OpPushConst, DataType: datatype.Int32, Parameter: 0},
			/*1*/ {Type: program.OpStoreLocal, Parameter: 1}, // i = 0
			/*2*/ {Type: program.OpPushConst, DataType: datatype.Int32, Parameter: 0},
			/*3*/ {Type: program.OpStoreLocal, Parameter: 2}, // sum = 0
			// loop head (pc=4): if i >= n, jump to end
			/*4*/ {Type: program.OpLoadLocal, Parameter: 1},
			/*5*/ {Type: program.OpLoadLocal, Parameter: 0},
			/*6*/ {Type: program.OpCompare, DataType: datatype.Int32, Parameter: uint64(token.OpGe)},
			/*7*/ {Type: program.OpJumpIfTrue, Parameter: 14},
			// sum += i
			/*8*/ {Type: program.OpLoadLocal, Parameter: 2},
			/*9*/ {Type: program.OpLoadLocal, Parameter: 1},
			/*10*/ {Type: program.OpBinary, DataType: datatype.Int32, Parameter: uint64(token.OpAdd)},
			/*11*/ {Type: program.OpStoreLocal, Parameter: 2},
			// i++
			/*12*/ {Type: program.OpLoadLocal, Parameter: 1},
			/*13*/ {Type: program.OpUnary, DataType: datatype.Int32, Parameter: uint64(token.OpInc)},
			{Type: program.OpStoreLocal, Parameter: 1},
			{Type: program.OpJump, Parameter: 4},
			// end (pc=16, but recompute below)
			{Type: program.OpLoadLocal, Parameter: 2},
			{Type: program.OpReturn, Parameter: 1},
		},
	}
}

func TestLoopSum(t *testing.T) {
	fn := buildLoopSumFn()
	// end target is after i++/jump, i.e. the OpLoadLocal(2)/OpReturn pair:
	// indices 0..13 fixed above then jump(4) then load/return -> jumpiftrue target = 16
	fn.Opcodes[7].Parameter = 16

	env, m := newTestEnv("math")
	m.DeclareFunction(fn)
	loadModule(t, env, m)

	cf := NewControlFlow(env, nil)
	got, err := cf.CallByName("loopSum", 5)
	if err != nil {
		t.Fatalf("CallByName: %v", err)
	}
	if got != 10 {
		t.Fatalf("loopSum(5) = %d, want 10 (0+1+2+3+4)", got)
	}
}

func TestStringConcat(t *testing.T) {
	env, m := newTestEnv("strings")
	hello := m.InternString("hello ")
	world := m.InternString("world")
	fn := &program.Function{
		Name:   "greet",
		Return: datatype.String,
		Kind:   program.FuncScript,
		Opcodes: []program.Opcode{
			{Type: program.OpPushConst, DataType: datatype.String, Parameter: uint64(hello)},
			{Type: program.OpPushConst, DataType: datatype.String, Parameter: uint64(world)},
			{Type: program.OpBinary, DataType: datatype.String, Parameter: uint64(token.OpAdd)},
			{Type: program.OpReturn, Parameter: 1},
		},
	}
	m.DeclareFunction(fn)
	loadModule(t, env, m)

	cf := NewControlFlow(env, nil)
	got, err := cf.CallByName("greet")
	if err != nil {
		t.Fatalf("CallByName: %v", err)
	}
	s, ok := env.Strings.Lookup(strtab.Hash(got))
	if !ok || s != "hello world" {
		t.Fatalf("greet() = %q (ok=%v), want %q", s, ok, "hello world")
	}
}

func TestNativeCall(t *testing.T) {
	env, m := newTestEnv("host")
	called := false
	native := &program.Function{
		Name:   "double",
		Params: []program.Param{{Name: "x", Type: datatype.Int32}},
		Return: datatype.Int32,
		Kind:   program.FuncNative,
		Native: func(args []uint64) (uint64, error) {
			called = true
			return args[0] * 2, nil
		},
	}
	caller := &program.Function{
		Name:      "callDouble",
		Return:    datatype.Int32,
		Kind:      program.FuncScript,
		FrameSize: 0,
	}
	m.DeclareFunction(native)
	m.DeclareFunction(caller)
	loadModule(t, env, m)

	// caller's opcode needs native's finalized ID/Module, set after Finalize.
	caller.Opcodes = []program.Opcode{
		{Type: program.OpPushConst, DataType: datatype.Int32, Parameter: 21},
		{Type: program.OpCallNative, Parameter: uint64(uint32(strtab.Sum(m.Name)))<<32 | uint64(native.ID)},
		{Type: program.OpReturn, Parameter: 1},
	}

	cf := NewControlFlow(env, nil)
	got, err := cf.CallByName("callDouble")
	if err != nil {
		t.Fatalf("CallByName: %v", err)
	}
	if !called {
		t.Fatal("native wrapper was never invoked")
	}
	if got != 42 {
		t.Fatalf("callDouble() = %d, want 42", got)
	}
}

func TestCallAddressHookMatchesCallByName(t *testing.T) {
	env, m := newTestEnv("math")
	fn := buildAddFn("addHooked")
	fn.AddAddressHook(0x00000042)
	m.DeclareFunction(fn)
	loadModule(t, env, m)

	byName := NewControlFlow(env, nil)
	viaName, err := byName.CallByName("addHooked", 3, 4)
	if err != nil {
		t.Fatalf("CallByName: %v", err)
	}

	byHook := NewControlFlow(env, nil)
	viaHook, err := byHook.CallAddressHook(0x00000042, 3, 4)
	if err != nil {
		t.Fatalf("CallAddressHook: %v", err)
	}
	if viaName != viaHook {
		t.Fatalf("CallByName=%d CallAddressHook=%d, want equal", viaName, viaHook)
	}
}

func TestUnknownAddressHookNoOps(t *testing.T) {
	env, _ := newTestEnv("empty")
	loadModule(t, env, program.NewModule("empty"))
	cf := NewControlFlow(env, nil)
	got, err := cf.CallAddressHook(0xffffffff)
	if err != nil {
		t.Fatalf("CallAddressHook: %v", err)
	}
	if got != 0 {
		t.Fatalf("unknown hook returned %d, want 0", got)
	}
}

func TestYieldStopsRunWithoutUnwinding(t *testing.T) {
	env, m := newTestEnv("coop")
	fn := &program.Function{
		Name:      "yielder",
		Return:    datatype.Int32,
		Kind:      program.FuncScript,
		FrameSize: 0,
		Opcodes: []program.Opcode{
			{Type: program.OpPushConst, DataType: datatype.Int32, Parameter: 1},
			{Type: program.OpYield},
			{Type: program.OpPushConst, DataType: datatype.Int32, Parameter: 1},
			{Type: program.OpBinary, DataType: datatype.Int32, Parameter: uint64(token.OpAdd)},
			{Type: program.OpReturn, Parameter: 1},
		},
	}
	m.DeclareFunction(fn)
	loadModule(t, env, m)

	cf := NewControlFlow(env, nil)
	if err := cf.pushFrame(fn, nil); err != nil {
		t.Fatalf("pushFrame: %v", err)
	}
	if err := cf.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !cf.Yielded() {
		t.Fatal("expected Yielded() == true after OpYield")
	}
	if len(cf.frames) != 1 {
		t.Fatalf("expected the frame to remain on the call stack across a yield, got %d frames", len(cf.frames))
	}
	if err := cf.Run(); err != nil {
		t.Fatalf("Run (resume): %v", err)
	}
	if cf.Yielded() {
		t.Fatal("second Run should have drained the call stack, not yielded again")
	}
	got, err := cf.values.pop()
	if err != nil {
		t.Fatalf("pop result: %v", err)
	}
	if got != 2 {
		t.Fatalf("resumed result = %d, want 2", got)
	}
}

func TestGlobalVariableLoadStore(t *testing.T) {
	env, m := newTestEnv("state")
	counter := &program.Variable{Name: "counter", Kind: token.VarGlobal}
	m.DeclareGlobal(counter)
	inc := &program.Function{
		Name:      "increment",
		Return:    datatype.Int32,
		Kind:      program.FuncScript,
		FrameSize: 0,
		Opcodes: []program.Opcode{
			{Type: program.OpLoadGlobal, Parameter: uint64(strtab.Sum("counter"))},
			{Type: program.OpPushConst, DataType: datatype.Int32, Parameter: 1},
			{Type: program.OpBinary, DataType: datatype.Int32, Parameter: uint64(token.OpAdd)},
			{Type: program.OpStoreGlobal, Parameter: uint64(strtab.Sum("counter"))},
			{Type: program.OpLoadGlobal, Parameter: uint64(strtab.Sum("counter"))},
			{Type: program.OpReturn, Parameter: 1},
		},
	}
	m.DeclareFunction(inc)
	loadModule(t, env, m)

	cf := NewControlFlow(env, nil)
	first, err := cf.CallByName("increment")
	if err != nil {
		t.Fatalf("CallByName: %v", err)
	}
	if first != 1 {
		t.Fatalf("first increment = %d, want 1", first)
	}
	second, err := cf.CallByName("increment")
	if err != nil {
		t.Fatalf("CallByName: %v", err)
	}
	if second != 2 {
		t.Fatalf("second increment = %d, want 2 (global state must persist across calls)", second)
	}
}

func TestValueStackOverflow(t *testing.T) {
	s := newValueStack()
	for i := 0; i < ValueStackLimit-1; i++ {
		if err := s.push(uint64(i)); err != nil {
			t.Fatalf("push %d: unexpected error %v", i, err)
		}
	}
	if err := s.push(1); err == nil {
		t.Fatal("expected an overflow error once the stack is full")
	}
}

func TestValueStackUnderflow(t *testing.T) {
	s := newValueStack()
	if _, err := s.pop(); err == nil {
		t.Fatal("expected an underflow error popping an empty stack")
	}
}

func TestSnapshotRestoreContinuesIdentically(t *testing.T) {
	fn := buildLoopSumFn()
	fn.Opcodes[7].Parameter = 16

	env, m := newTestEnv("math")
	m.DeclareFunction(fn)
	loadModule(t, env, m)

	baseline := NewControlFlow(env, nil)
	want, err := baseline.CallByName("loopSum", 5)
	if err != nil {
		t.Fatalf("CallByName (baseline): %v", err)
	}

	// Run the same call, but snapshot mid-flight (right after entering the
	// frame) and resume from the restored control flow.
	cf := NewControlFlow(env, nil)
	if err := cf.pushFrame(fn, []uint64{5}); err != nil {
		t.Fatalf("pushFrame: %v", err)
	}
	// advance a few opcodes so the snapshot captures nontrivial state.
	for i := 0; i < 4; i++ {
		if err := cf.step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	snap := cf.Snapshot()

	var buf bytes.Buffer
	if err := EncodeSnapshot(&buf, snap); err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	decoded, err := DecodeSnapshot(&buf)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	restored, err := Restore(env, nil, decoded)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := restored.Run(); err != nil {
		t.Fatalf("Run (restored): %v", err)
	}
	got, err := restored.values.pop()
	if err != nil {
		t.Fatalf("pop result: %v", err)
	}
	if got != want {
		t.Fatalf("restored result = %d, want %d (same as an uninterrupted run)", got, want)
	}
}
