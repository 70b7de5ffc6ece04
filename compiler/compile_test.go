package compiler

import (
	"testing"

	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/host"
	"github.com/vinegar97/sonic3air/program"
	"github.com/vinegar97/sonic3air/vm"
)

// memFS is a minimal in-memory source.FileSystem for compiler tests.
type memFS map[string]string

func (m memFS) ReadFile(path string) ([]byte, error) {
	if s, ok := m[path]; ok {
		return []byte(s), nil
	}
	return nil, &notFoundError{path}
}

func (m memFS) Glob(dir, pattern string) ([]string, error) {
	var out []string
	for p := range m {
		out = append(out, p)
	}
	_ = dir
	_ = pattern
	return out, nil
}

func (m memFS) Exists(path string) bool {
	_, ok := m[path]
	return ok
}

type notFoundError struct{ path string }

func (e *notFoundError) Error() string { return "not found: " + e.path }

func compileOne(t *testing.T, src string) (*program.Module, []program.ErrorMessage) {
	t.Helper()
	fs := memFS{"main.lemon": src}
	env := program.NewEnvironment()
	mod, errs := Compile(env, "main", "main.lemon", fs, DefaultOptions())
	return mod, errs
}

func firstFunc(mod *program.Module, name string) *program.Function {
	fns := mod.FunctionsNamed(name)
	if len(fns) == 0 {
		return nil
	}
	return fns[0]
}

// scenario 1: constant folding of an arithmetic expression collapses the
// whole body down to a single literal return.
func TestScenarioConstantFolding(t *testing.T) {
	mod, errs := compileOne(t, `
function u8 f() {
	return 2 + 3 * 4;
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	if len(fn.Opcodes) != 2 {
		t.Fatalf("expected 2 opcodes (push, return), got %d: %+v", len(fn.Opcodes), fn.Opcodes)
	}
	if fn.Opcodes[0].Type != program.OpPushConst || fn.Opcodes[0].Parameter != 14 {
		t.Fatalf("expected push_const 14, got %+v", fn.Opcodes[0])
	}
	if fn.Opcodes[1].Type != program.OpReturn {
		t.Fatalf("expected return, got %+v", fn.Opcodes[1])
	}
}

// scenario 2: a signed 16 bit subtraction of two locals compiles to a
// function that returns a value.
func TestScenarioSignedSubtraction(t *testing.T) {
	mod, errs := compileOne(t, `
function s16 f() {
	s16 a = 3;
	s16 b = 10;
	return a - b;
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	var found bool
	for _, op := range fn.Opcodes {
		if op.Type == program.OpReturn && op.Parameter == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a value-returning return opcode, got %+v", fn.Opcodes)
	}
}

// scenario 3: a #define expands textually before lexing, so N*N folds at
// compile time just like a literal would.
func TestScenarioDefineFoldsToConstant(t *testing.T) {
	mod, errs := compileOne(t, `
#define N 5
function u8 f() {
	return N * N;
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	if len(fn.Opcodes) != 2 || fn.Opcodes[0].Parameter != 25 {
		t.Fatalf("expected push_const 25 then return, got %+v", fn.Opcodes)
	}
}

// scenario 4: string += is represented as an ordinary tagged OpBinary/OpAdd
// node over string operands, not a fabricated native call.
func TestScenarioStringCompoundAssign(t *testing.T) {
	mod, errs := compileOne(t, `
function string f() {
	string s = "foo";
	s += "bar";
	return s;
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	var sawStringBinary bool
	for _, op := range fn.Opcodes {
		if op.Type == program.OpBinary && op.DataType == datatype.String {
			sawStringBinary = true
		}
	}
	if !sawStringBinary {
		t.Fatalf("expected a string-typed OpBinary opcode for +=, got %+v", fn.Opcodes)
	}
}

// scenario 5: an `include` pulls in a second file's declarations, and a
// global constant used before and after edits recompiles to the current
// value, since Compile always re-lexes the full include closure.
func TestScenarioInclude(t *testing.T) {
	fs := memFS{
		"main.lemon": `
include sub/part
function u8 useIt() {
	return VALUE;
}
`,
		"sub/part.lemon": `
const u8 VALUE = 7;
`,
	}
	env := program.NewEnvironment()
	mod, errs := Compile(env, "main", "main.lemon", fs, DefaultOptions())
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "useIt")
	if fn == nil {
		t.Fatalf("function useIt not found")
	}
	if len(fn.Opcodes) != 2 || fn.Opcodes[0].Parameter != 7 {
		t.Fatalf("expected push_const 7 then return, got %+v", fn.Opcodes)
	}

	fs["sub/part.lemon"] = `
const u8 VALUE = 9;
`
	env2 := program.NewEnvironment()
	mod2, errs2 := Compile(env2, "main", "main.lemon", fs, DefaultOptions())
	for _, e := range errs2 {
		t.Fatalf("unexpected error: %v", e)
	}
	fn2 := firstFunc(mod2, "useIt")
	if fn2 == nil || len(fn2.Opcodes) != 2 || fn2.Opcodes[0].Parameter != 9 {
		t.Fatalf("expected recompiled push_const 9, got %+v", fn2)
	}
}

// scenario 6: a call to a compile-time-constant native function whose
// arguments are all literals folds to a single PUSH_CONST with no call
// opcode ever emitted.
func TestScenarioCompileTimeConstantNativeFold(t *testing.T) {
	env := program.NewEnvironment()
	native := program.NewModule("host")
	sq := &program.Function{
		Name:   "square",
		Params: []program.Param{{Name: "x", Type: datatype.UInt8}},
		Return: datatype.UInt8,
		Kind:   program.FuncNative,
		Flags:  program.FlagCompileTimeConstant,
		Native: func(args []uint64) (uint64, error) { return args[0] * args[0], nil },
	}
	native.DeclareFunction(sq)
	native.Finalize(0)
	if err := env.AddModule(native); err != nil {
		t.Fatalf("AddModule: %v", err)
	}

	fs := memFS{"main.lemon": `
function u8 f() {
	return square(6);
}
`}
	mod, errs := Compile(env, "main", "main.lemon", fs, DefaultOptions())
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	for _, op := range fn.Opcodes {
		if op.Type == program.OpCallNative || op.Type == program.OpCallScript {
			t.Fatalf("expected no call opcode, got %+v", fn.Opcodes)
		}
	}
	if fn.Opcodes[0].Type != program.OpPushConst || fn.Opcodes[0].Parameter != 36 {
		t.Fatalf("expected push_const 36, got %+v", fn.Opcodes)
	}
}

// scenario 7: constant folding of two untyped constant operands happens at
// full constant-int width, not the first symmetric signature table entry
// (Int8), which would silently truncate any intermediate or result wider
// than 8 bits.
func TestScenarioWideConstantFolding(t *testing.T) {
	mod, errs := compileOne(t, `
function u32 h() {
	return 1000 * 1000;
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "h")
	if fn == nil {
		t.Fatalf("function h not found")
	}
	if len(fn.Opcodes) != 2 || fn.Opcodes[0].Type != program.OpPushConst || fn.Opcodes[0].Parameter != 1000000 {
		t.Fatalf("expected push_const 1000000 then return, got %+v", fn.Opcodes)
	}
}

// scenario 7b: the same width-preserving fold applies to a top-level
// `const` declaration's initializer expression.
func TestScenarioWideConstantDeclFolding(t *testing.T) {
	mod, errs := compileOne(t, `
const u32 v = 100 * 100;
function u32 f() {
	return v;
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	if len(fn.Opcodes) != 2 || fn.Opcodes[0].Parameter != 10000 {
		t.Fatalf("expected push_const 10000 then return, got %+v", fn.Opcodes)
	}
}

// scenario 8: `array.length()` resolves the dotted callee name (glued into
// one identifier by the lexer) against the constant-array table rather than
// erroring as an unknown function.
func TestScenarioConstArrayLength(t *testing.T) {
	mod, errs := compileOne(t, `
const u32 arr[] = { 10, 20, 30 };
function u32 f() {
	return arr.length();
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	if len(fn.Opcodes) != 2 || fn.Opcodes[0].Parameter != 3 {
		t.Fatalf("expected push_const 3 then return, got %+v", fn.Opcodes)
	}
}

// scenario 9: `x.method(...)` resolves to `method(x, ...)` by splitting the
// dotted callee name and passing the receiver as the first argument.
func TestScenarioMethodCallSyntax(t *testing.T) {
	mod, errs := compileOne(t, `
function u32 twice(u32 x) {
	return x * 2;
}
function u32 f() {
	u32 n = 21;
	return n.twice();
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	var sawCall bool
	for _, op := range fn.Opcodes {
		if op.Type == program.OpCallScript {
			sawCall = true
		}
	}
	if !sawCall {
		t.Fatalf("expected a call opcode for n.twice(), got %+v", fn.Opcodes)
	}
}

// scenario 10: yieldExecution() is a builtin lowered straight to OpYield,
// not resolved through the function catalog.
func TestScenarioYieldExecution(t *testing.T) {
	mod, errs := compileOne(t, `
function void f() {
	yieldExecution();
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	var sawYield bool
	for _, op := range fn.Opcodes {
		if op.Type == program.OpYield {
			sawYield = true
		}
	}
	if !sawYield {
		t.Fatalf("expected an OpYield opcode, got %+v", fn.Opcodes)
	}
}

// scenario 11: base.f(...)'s arguments are still evaluated (and their
// values discarded) even though the call itself never happens, since the
// environment models no override chain for base to dispatch through.
func TestScenarioBaseCallEvaluatesArgsForSideEffects(t *testing.T) {
	mod, errs := compileOne(t, `
function u32 f() {
	u32 n = 5;
	return base.f(n.twice());
}
function u32 twice(u32 x) {
	return x * 2;
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	var sawCall, sawPop bool
	for _, op := range fn.Opcodes {
		if op.Type == program.OpCallScript {
			sawCall = true
		}
		if op.Type == program.OpPopValue {
			sawPop = true
		}
	}
	if !sawCall {
		t.Fatalf("expected base.f's argument call to still be emitted, got %+v", fn.Opcodes)
	}
	if !sawPop {
		t.Fatalf("expected the discarded argument value to be popped, got %+v", fn.Opcodes)
	}
}

// scenario 12: compiling and running a module whose main() calls a second,
// non-alphabetically-first script function exercises real function-id
// assignment end to end. "main" sorts alphabetically before "plusThousand",
// so main gets function id 0 and plusThousand id 1; a call miscompiled to
// function id 0 (DeclareFunction's zero-value default) would dispatch back
// into main() instead of returning 1005.
func TestScenarioIntraModuleCallDispatchesToCorrectFunction(t *testing.T) {
	env := program.NewEnvironment()
	fs := memFS{"main.lemon": `
function u32 plusThousand(u32 x) {
	return x + 1000;
}
function u32 main() {
	return plusThousand(5);
}
`}
	mod, errs := Compile(env, "calltest", "main.lemon", fs, DefaultOptions())
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	if err := env.AddModule(mod); err != nil {
		t.Fatalf("AddModule: %v", err)
	}

	mem := host.NewFlatMemory(64)
	cf := vm.NewControlFlow(env, mem)
	got, err := cf.CallByName("main")
	if err != nil {
		t.Fatalf("CallByName: %v", err)
	}
	if got != 1005 {
		t.Fatalf("main() = %d, want 1005 (plusThousand(5) = 5+1000); a miscompiled call id would instead run main, which sorts to id 0", got)
	}
}

// scenario 13: `cond ? then : else` resolves its branch types against
// trinarySignatures (mirroring buildBinary's use of symmetricSignatures)
// and lowers to the same conditional-jump shape as `if`/`else`.
func TestScenarioTernaryOperator(t *testing.T) {
	mod, errs := compileOne(t, `
function u32 f(u32 x) {
	return x > 10 ? x : 10;
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	var sawJumpIfFalse, sawJump bool
	for _, op := range fn.Opcodes {
		if op.Type == program.OpJumpIfFalse {
			sawJumpIfFalse = true
		}
		if op.Type == program.OpJump {
			sawJump = true
		}
	}
	if !sawJumpIfFalse || !sawJump {
		t.Fatalf("expected conditional and unconditional jumps for the ternary, got %+v", fn.Opcodes)
	}
}

// scenario 13b: a ternary whose condition folds to a compile-time constant
// collapses to just the taken branch, mirroring buildBinary's literal-fold
// path: no jump opcodes at all.
func TestScenarioTernaryConstantCondition(t *testing.T) {
	mod, errs := compileOne(t, `
function u32 f() {
	return 1 ? 7 : 9;
}
`)
	for _, e := range errs {
		t.Fatalf("unexpected error: %v", e)
	}
	fn := firstFunc(mod, "f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	if len(fn.Opcodes) != 2 || fn.Opcodes[0].Type != program.OpPushConst || fn.Opcodes[0].Parameter != 7 {
		t.Fatalf("expected push_const 7 then return, got %+v", fn.Opcodes)
	}
}

func TestCompileReportsParseErrors(t *testing.T) {
	_, errs := compileOne(t, `
function u8 f() {
	return undeclaredThing;
}
`)
	if len(errs) == 0 {
		t.Fatalf("expected an error for an unknown identifier")
	}
}
