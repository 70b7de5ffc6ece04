package datatype_test

import "testing"
import "github.com/vinegar97/sonic3air/datatype"

func TestPredefinedAreSingletons(t *testing.T) {
	r1 := datatype.NewRegistry()
	r2 := datatype.NewRegistry()
	a, ok := r1.Lookup("u16")
	if !ok {
		t.Fatalf("u16 not found")
	}
	b, ok := r2.Lookup("u16")
	if !ok {
		t.Fatalf("u16 not found in second registry")
	}
	if a != b {
		t.Fatalf("predefined type u16 is not a process-wide singleton across registries")
	}
	if a != datatype.UInt16 {
		t.Fatalf("registry u16 does not match datatype.UInt16 singleton")
	}
}

func TestBytes(t *testing.T) {
	cases := []struct {
		ty   *datatype.Type
		want uint8
	}{
		{datatype.Int8, 1},
		{datatype.UInt16, 2},
		{datatype.Int32, 4},
		{datatype.UInt64, 8},
		{datatype.Bool, 1},
	}
	for _, c := range cases {
		if got := c.ty.Bytes(); got != c.want {
			t.Errorf("%s.Bytes() = %d, want %d", c.ty.Name, got, c.want)
		}
	}
}

func TestDeclareCustomAndForget(t *testing.T) {
	r := datatype.NewRegistry()
	ct, err := r.DeclareCustom("Vec2", "mymodule")
	if err != nil {
		t.Fatalf("DeclareCustom: %v", err)
	}
	if ct.Class != datatype.ClassCustom {
		t.Fatalf("custom type has class %v, want ClassCustom", ct.Class)
	}
	if _, err := r.DeclareCustom("Vec2", "mymodule"); err == nil {
		t.Fatalf("expected error re-declaring an existing type name")
	}
	r.ForgetOwnedBy("mymodule")
	if _, ok := r.Lookup("Vec2"); ok {
		t.Fatalf("Vec2 should have been forgotten after unloading its owner module")
	}
}

func TestFloatTypesRegistered(t *testing.T) {
	r := datatype.NewRegistry()
	f, ok := r.Lookup("float")
	if !ok || f != datatype.Float32 || !f.IsFloatClass() {
		t.Fatalf("float lookup = %v, %v; want Float32 singleton", f, ok)
	}
	d, ok := r.Lookup("double")
	if !ok || d != datatype.Float64 || d.Bytes() != 8 {
		t.Fatalf("double lookup = %v, %v; want Float64 singleton with 8 bytes", d, ok)
	}
}

func TestTypeHashStableAcrossRegistries(t *testing.T) {
	r1 := datatype.NewRegistry()
	r2 := datatype.NewRegistry()
	a, _ := r1.Lookup("s32")
	b, _ := r2.Lookup("s32")
	if a.Hash != b.Hash {
		t.Fatalf("type hash for s32 differs across registries: %d != %d", a.Hash, b.Hash)
	}
}
