package program

import (
	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/token"
)

// UserGetter/UserSetter back a user-defined variable binding (§3, "Variable
// binding", storage kind "user-defined (with custom getter/setter
// callbacks)").
type UserGetter func() uint64
type UserSetter func(uint64)

// Variable is a resolved variable binding: global (owned by a Module),
// local (owned by a Function; identified by slot index at the call site,
// not stored here), external (read/written through a host accessor), or
// user-defined (custom getter/setter).
type Variable struct {
	Name  string
	ID    int
	Type  *datatype.Type
	Kind  token.VarKind
	Cell  uint64 // storage for Kind == VarGlobal

	Getter UserGetter
	Setter UserSetter

	// ExternalRead/ExternalWrite back Kind == VarExternal bindings; the
	// host supplies these when registering an external variable.
	ExternalRead  func() uint64
	ExternalWrite func(uint64)
}

// Get reads the variable's current value, dispatching on Kind.
func (v *Variable) Get() uint64 {
	switch v.Kind {
	case token.VarGlobal:
		return v.Cell
	case token.VarExternal:
		if v.ExternalRead != nil {
			return v.ExternalRead()
		}
	case token.VarUserDefined:
		if v.Getter != nil {
			return v.Getter()
		}
	}
	return 0
}

// Set writes the variable's value, dispatching on Kind.
func (v *Variable) Set(val uint64) {
	switch v.Kind {
	case token.VarGlobal:
		v.Cell = val
	case token.VarExternal:
		if v.ExternalWrite != nil {
			v.ExternalWrite(val)
		}
	case token.VarUserDefined:
		if v.Setter != nil {
			v.Setter(val)
		}
	}
}
