package program

import (
	"fmt"
	"sync"

	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/strtab"
)

// Environment is the process-wide (or per-VM-instance) home for every
// loaded module, the shared string interner, and the data type registry. It
// replaces the global singletons the reference implementation relies on
// (§9, "Design notes"): a program can hold several independent
// Environments, each with its own module set, without any of them
// interfering with the others.
type Environment struct {
	mu       sync.RWMutex
	modules  map[string]*Module
	order    []string
	Strings  *strtab.Table
	Types    *datatype.Registry
}

// NewEnvironment returns an empty environment with a fresh string table and
// data type registry.
func NewEnvironment() *Environment {
	return &Environment{
		modules: make(map[string]*Module),
		Strings: strtab.New(),
		Types:   datatype.NewRegistry(),
	}
}

// AddModule installs a finalized module into the environment. It fails if a
// module of the same name is already loaded, or if m has not been
// finalized.
func (e *Environment) AddModule(m *Module) error {
	if !m.Finalized() {
		return fmt.Errorf("module %q: cannot add before Finalize", m.Name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.modules[m.Name]; exists {
		return fmt.Errorf("module %q already loaded", m.Name)
	}
	e.modules[m.Name] = m
	e.order = append(e.order, m.Name)
	return nil
}

// RemoveModule unloads a module: its custom types are forgotten from the
// registry, but interned strings are left in place since other modules may
// still reference them (§4.6, "Unloading ... shared strings remain
// interned").
func (e *Environment) RemoveModule(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.modules[name]; !ok {
		return
	}
	delete(e.modules, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.Types.ForgetOwnedBy(name)
}

// Module returns the loaded module of the given name.
func (e *Environment) Module(name string) (*Module, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.modules[name]
	return m, ok
}

// Modules returns every loaded module, in load order.
func (e *Environment) Modules() []*Module {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Module, len(e.order))
	for i, n := range e.order {
		out[i] = e.modules[n]
	}
	return out
}

// GlobalsLookup answers cross-module name resolution: it searches every
// loaded module (in load order) for a function overload set or a global
// variable of the given name, the way the compiler's identifier-resolution
// pass does after failing to find a name in the module currently being
// compiled (§4.2 step 6).
type GlobalsLookup struct {
	env *Environment
}

// Globals returns a GlobalsLookup bound to this environment's currently
// loaded modules.
func (e *Environment) Globals() GlobalsLookup {
	return GlobalsLookup{env: e}
}

// FindFunctions searches every loaded module for overloads named name, and
// returns their combined overload set.
func (g GlobalsLookup) FindFunctions(name string) []*Function {
	var out []*Function
	for _, m := range g.env.Modules() {
		out = append(out, m.FunctionsNamed(name)...)
	}
	return out
}

// FindGlobal searches every loaded module for a global variable named name,
// returning the first match in load order.
func (g GlobalsLookup) FindGlobal(name string) (*Variable, bool) {
	for _, m := range g.env.Modules() {
		if v, ok := m.GlobalNamed(name); ok {
			return v, true
		}
	}
	return nil, false
}
