package program

import (
	"sort"

	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/strtab"
)

// magic and formatVersion tag the binary module format (§6, "Compiled-
// module binary format").
const (
	magic         = uint32(0x4c454d4e) // "LEMN"
	formatVersion = uint32(1)
)

// Module is a named, hashed, versioned container of functions, globals,
// constants, constant arrays, defines, string literals, custom data types
// and source-file records (§3, "Module"; §4.6).
type Module struct {
	Name           string
	Hash           uint32
	Version        uint32
	DependencyHash uint64

	Functions       []*Function
	functionsByName map[string][]*Function

	Globals       []*Variable
	globalsByName map[string]*Variable

	Constants      map[string]int64
	ConstantArrays map[string][]int64
	Defines        map[string]string

	strings      []string
	stringIndex  map[string]int

	CustomTypes []*datatype.Type

	Errors []ErrorMessage

	finalized bool
}

// NewModule returns an empty module ready to be populated by the compiler.
func NewModule(name string) *Module {
	return &Module{
		Name:            name,
		Version:         formatVersion,
		functionsByName: make(map[string][]*Function),
		globalsByName:   make(map[string]*Variable),
		Constants:       make(map[string]int64),
		ConstantArrays:  make(map[string][]int64),
		Defines:         make(map[string]string),
		stringIndex:     make(map[string]int),
	}
}

// AddError appends a diagnostic to the module's buffered error list; the
// compile call returns failure and no partial module is installed (§7).
func (m *Module) AddError(e ErrorMessage) {
	m.Errors = append(m.Errors, e)
}

// OK reports whether the module compiled without buffered errors.
func (m *Module) OK() bool {
	return len(m.Errors) == 0
}

// DeclareFunction registers a new function under this module, appending to
// the overload set for its name.
func (m *Module) DeclareFunction(fn *Function) {
	fn.Module = m.Name
	m.Functions = append(m.Functions, fn)
	m.functionsByName[fn.Name] = append(m.functionsByName[fn.Name], fn)
}

// FunctionsNamed returns every overload declared under name in this
// module.
func (m *Module) FunctionsNamed(name string) []*Function {
	return m.functionsByName[name]
}

// DeclareGlobal registers a new global variable.
func (m *Module) DeclareGlobal(v *Variable) {
	m.Globals = append(m.Globals, v)
	m.globalsByName[v.Name] = v
}

// GlobalNamed looks up a global variable declared directly in this module.
func (m *Module) GlobalNamed(name string) (*Variable, bool) {
	v, ok := m.globalsByName[name]
	return v, ok
}

// InternString adds s to the module's string-literal table (deduplicated)
// and returns its index.
func (m *Module) InternString(s string) int {
	if idx, ok := m.stringIndex[s]; ok {
		return idx
	}
	idx := len(m.strings)
	m.strings = append(m.strings, s)
	m.stringIndex[s] = idx
	return idx
}

// StringAt returns the string literal at idx.
func (m *Module) StringAt(idx int) string {
	return m.strings[idx]
}

// StringLiterals returns every interned string literal, in insertion order.
func (m *Module) StringLiterals() []string {
	return m.strings
}

// AssignFunctionIDs sorts functions by name and assigns contiguous ids
// (§4.6, "assign contiguous function ids"). It is idempotent and safe to
// call more than once as long as the function set doesn't change between
// calls, which is exactly what the compiler driver relies on: it must run
// right after pass 1 (declaration) so that pass 2's body emission, which
// captures a callee's ID by value into a token.FuncRef, sees the real id
// instead of the zero value DeclareFunction leaves behind. Finalize calls
// it again so callers that build a module without going through the
// driver (tests, deserialization) still get ids without an extra call.
func (m *Module) AssignFunctionIDs() {
	sort.SliceStable(m.Functions, func(i, j int) bool { return m.Functions[i].Name < m.Functions[j].Name })
	for i, fn := range m.Functions {
		fn.ID = uint64(i)
	}
}

// Finalize records the module's dependency hash and assigns contiguous ids
// to functions and to globals, each sorted by name. Custom types get no id.
// dependencyHash is supplied by the caller; the compiler driver passes an
// XOR of the name hashes of the modules already loaded into the
// environment.
func (m *Module) Finalize(dependencyHash uint64) {
	m.DependencyHash = dependencyHash
	m.Hash = uint32(strtab.Sum(m.Name))

	// Deterministic ordering: sort by name before assigning ids so
	// Finalize is reproducible across recompiles of an unchanged module
	// (needed by the "serialize; deserialize round-trip" property test).
	m.AssignFunctionIDs()
	sort.SliceStable(m.Globals, func(i, j int) bool { return m.Globals[i].Name < m.Globals[j].Name })
	for i, g := range m.Globals {
		g.ID = i
	}
	m.finalized = true
}

// Finalized reports whether Finalize has run.
func (m *Module) Finalized() bool { return m.finalized }
