package program

import "github.com/vinegar97/sonic3air/datatype"

// FuncKind distinguishes a script function (owns opcodes and local slots)
// from a native function (a typed wrapper invoking host code), per §3
// "Function".
type FuncKind uint8

const (
	FuncScript FuncKind = iota
	FuncNative
)

// Param is one entry of a function's parameter list.
type Param struct {
	Name string
	Type *datatype.Type
}

// LocalVar is a script function's local-variable slot descriptor.
type LocalVar struct {
	Name string
	Type *datatype.Type
	Slot int
}

// NativeFlags carries the optional flags a host registers a native
// function with (§6, "Native function catalog").
type NativeFlags uint8

const (
	FlagNone                 NativeFlags = 0
	FlagAllowInlineExecution NativeFlags = 1 << 0
	FlagCompileTimeConstant  NativeFlags = 1 << 1
)

// NativeWrapper is the callable a host binds to a native function. It pops
// nothing itself: the VM's CALL_NATIVE handler collects arguments off the
// value stack in declaration order and passes them here, then pushes the
// returned value (§4.5, "Native calls").
type NativeWrapper func(args []uint64) (uint64, error)

// Function is either a script function (owning opcodes, locals, source
// info, address hooks and aliases) or a native function (a typed signature
// plus host wrapper). Functions are identified by name hash and signature
// hash; several overloads may share a name hash (§3, "Function").
type Function struct {
	ID            uint64
	Name          string
	Params        []Param
	Return        *datatype.Type
	SignatureHash uint32
	Kind          FuncKind
	Module        string

	// script-only
	Opcodes      []Opcode
	Locals       []LocalVar
	FrameSize    int
	SourceFile   string
	AddressHooks []uint32
	Aliases      []string

	// native-only
	Native NativeWrapper
	Flags  NativeFlags
}

// IsCompileTimeConstant reports whether the frontend may evaluate a call to
// this function at compile time (§4.2 step 6.k, "compile-time-constant
// native").
func (f *Function) IsCompileTimeConstant() bool {
	return f.Kind == FuncNative && f.Flags&FlagCompileTimeConstant != 0
}

// ArgTypes returns the parameter types, used by overload resolution.
func (f *Function) ArgTypes() []*datatype.Type {
	out := make([]*datatype.Type, len(f.Params))
	for i, p := range f.Params {
		out[i] = p.Type
	}
	return out
}

// AddAddressHook registers a 32 bit virtual address as dispatchable to
// this function (glossary, "Address hook").
func (f *Function) AddAddressHook(addr uint32) {
	f.AddressHooks = append(f.AddressHooks, addr)
}

// FirstAddressHook returns this function's first registered address hook,
// used to resolve `addressof(fn)` (§4.2 step 6.a). ok is false if none was
// registered.
func (f *Function) FirstAddressHook() (addr uint32, ok bool) {
	if len(f.AddressHooks) == 0 {
		return 0, false
	}
	return f.AddressHooks[0], true
}
