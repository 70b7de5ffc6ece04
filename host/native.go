package host

import (
	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/program"
)

// NativeSpec describes one native function a host wants callable from
// script code (§6, "Native function catalog"): its signature, the wrapper
// invoked at call time, and any flags controlling compile-time folding or
// inline execution eligibility.
type NativeSpec struct {
	Name    string
	Params  []program.Param
	Return  *datatype.Type
	Flags   program.NativeFlags
	Wrapper program.NativeWrapper
}

// DeclareNatives registers every spec as a native function on m, in the
// order given. Overloads (same name, different Params) are legal, matching
// DeclareFunction's own overload-set semantics.
func DeclareNatives(m *program.Module, specs []NativeSpec) {
	for _, s := range specs {
		m.DeclareFunction(&program.Function{
			Name:   s.Name,
			Params: s.Params,
			Return: s.Return,
			Kind:   program.FuncNative,
			Native: s.Wrapper,
			Flags:  s.Flags,
		})
	}
}

// Param is a small constructor for program.Param, saving repetition when
// building a NativeSpec table by hand.
func Param(name string, ty *datatype.Type) program.Param {
	return program.Param{Name: name, Type: ty}
}
