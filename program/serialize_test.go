package program

import (
	"bytes"
	"testing"

	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/token"
)

func buildSampleModule(t *testing.T) *Module {
	t.Helper()
	m := NewModule("sample")
	m.Constants["PI_ISH"] = 3
	m.ConstantArrays["table"] = []int64{1, 2, 3}
	m.Defines["FEATURE"] = "1"
	m.InternString("foo")
	m.InternString("bar")

	m.DeclareGlobal(&Variable{Name: "score", Type: datatype.Int32, Kind: token.VarGlobal, Cell: 42})

	m.DeclareFunction(&Function{
		Name:   "add",
		Kind:   FuncScript,
		Params: []Param{{Name: "a", Type: datatype.Int32}, {Name: "b", Type: datatype.Int32}},
		Return: datatype.Int32,
		Locals: []LocalVar{{Name: "tmp", Type: datatype.Int32, Slot: 2}},
		FrameSize: 3,
		SourceFile: "main.lemon",
		Opcodes: []Opcode{
			{Type: OpLoadLocal, DataType: datatype.Int32, Parameter: 0, Line: 1},
			{Type: OpLoadLocal, DataType: datatype.Int32, Parameter: 1, Line: 1},
			{Type: OpBinary, DataType: datatype.Int32, Parameter: 0, Line: 1},
			{Type: OpReturn, DataType: nil, Parameter: 0, Line: 1},
		},
	})
	m.DeclareFunction(&Function{
		Name:   "log",
		Kind:   FuncNative,
		Params: []Param{{Name: "msg", Type: datatype.String}},
		Return: datatype.Void,
		Flags:  FlagAllowInlineExecution,
	})

	m.Finalize(0x12345678)
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := buildSampleModule(t)

	var buf bytes.Buffer
	if err := Encode(&buf, orig); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	reg := datatype.NewRegistry()
	got, err := Decode(&buf, reg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Name != orig.Name {
		t.Errorf("Name = %q, want %q", got.Name, orig.Name)
	}
	if got.DependencyHash != orig.DependencyHash {
		t.Errorf("DependencyHash = %x, want %x", got.DependencyHash, orig.DependencyHash)
	}
	if got.Constants["PI_ISH"] != 3 {
		t.Errorf("Constants[PI_ISH] = %d, want 3", got.Constants["PI_ISH"])
	}
	if len(got.ConstantArrays["table"]) != 3 {
		t.Errorf("ConstantArrays[table] = %v, want len 3", got.ConstantArrays["table"])
	}
	if got.Defines["FEATURE"] != "1" {
		t.Errorf("Defines[FEATURE] = %q, want %q", got.Defines["FEATURE"], "1")
	}
	if len(got.StringLiterals()) != 2 {
		t.Errorf("StringLiterals() = %v, want 2 entries", got.StringLiterals())
	}

	gv, ok := got.GlobalNamed("score")
	if !ok || gv.Type != datatype.Int32 {
		t.Fatalf("global score missing or wrong type: %+v, %v", gv, ok)
	}

	add := got.FunctionsNamed("add")
	if len(add) != 1 {
		t.Fatalf("FunctionsNamed(add) = %d, want 1", len(add))
	}
	if len(add[0].Opcodes) != len(orig.Functions[0].Opcodes) {
		t.Fatalf("opcode count mismatch: got %d, want %d", len(add[0].Opcodes), len(orig.Functions[0].Opcodes))
	}
	for i, op := range add[0].Opcodes {
		want := orig.Functions[0].Opcodes[i]
		if op.Type != want.Type || op.Parameter != want.Parameter || op.Line != want.Line {
			t.Errorf("opcode %d = %+v, want %+v", i, op, want)
		}
	}
	if add[0].Opcodes[3].DataType != nil {
		t.Errorf("opcode 3 DataType = %v, want nil", add[0].Opcodes[3].DataType)
	}

	logFns := got.FunctionsNamed("log")
	if len(logFns) != 1 || logFns[0].Kind != FuncNative || logFns[0].Native != nil {
		t.Fatalf("native function round trip wrong: %+v", logFns)
	}
	if logFns[0].Flags&FlagAllowInlineExecution == 0 {
		t.Errorf("native flags lost across round trip")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	reg := datatype.NewRegistry()
	if _, err := Decode(bytes.NewReader([]byte{1, 2, 3, 4}), reg); err == nil {
		t.Fatal("Decode accepted garbage input")
	}
}
