package vm

import "github.com/vinegar97/sonic3air/program"

// callableBase is the low bound of the "high nibble 1" address range
// makeCallable hands out (§4.5, "Address hooks"): addresses below it are
// host-registered hooks (high nibble 0), addresses at or above it are
// runtime-assigned callable ids.
const callableBase = uint32(0x10000000)

// HookTable resolves a 32 bit virtual address to a compiled function,
// backing callAddressHook (§4.5) and addressof (§4.2 step 6.a). It is
// built once per ControlFlow from every function's registered address
// hooks across every loaded module, plus whatever makeCallable assigns
// during that control flow's lifetime.
type HookTable struct {
	byAddress map[uint32]*program.Function
	callable  []*program.Function
}

// BuildHookTable scans every loaded module's functions for registered
// address hooks (§3, "Function ... address hooks").
func BuildHookTable(env *program.Environment) *HookTable {
	h := &HookTable{byAddress: make(map[uint32]*program.Function)}
	if env == nil {
		return h
	}
	for _, m := range env.Modules() {
		for _, fn := range m.Functions {
			for _, addr := range fn.AddressHooks {
				h.byAddress[addr] = fn
			}
		}
	}
	return h
}

// Lookup resolves addr per §4.5: high nibble 0 addresses are registered
// hooks, high nibble 1 addresses are makeCallable ids. Any other nibble is
// unknown and reported as absent so the caller can silently no-op (§8,
// boundary behaviour).
func (h *HookTable) Lookup(addr uint32) (*program.Function, bool) {
	switch addr >> 28 {
	case 0:
		fn, ok := h.byAddress[addr]
		return fn, ok
	case 1:
		idx := int(addr - callableBase)
		if idx < 0 || idx >= len(h.callable) {
			return nil, false
		}
		return h.callable[idx], true
	default:
		return nil, false
	}
}

// MakeCallable assigns fn a fresh "high nibble 1" callable address, or
// returns its existing one if it was already assigned (§4.2 step 6.a,
// addressof falling back to a callable id when a function has no explicit
// host-registered hook).
func (h *HookTable) MakeCallable(fn *program.Function) uint32 {
	for i, f := range h.callable {
		if f == fn {
			return callableBase + uint32(i)
		}
	}
	h.callable = append(h.callable, fn)
	return callableBase + uint32(len(h.callable)-1)
}

// AddressOf returns fn's dispatch address: its first explicit hook if one
// was registered, otherwise a runtime-assigned callable id (§4.2 step
// 6.a, "resolve addressof(functionName) ... taken from the function's
// first address hook").
func (cf *ControlFlow) AddressOf(fn *program.Function) uint32 {
	if addr, ok := fn.FirstAddressHook(); ok {
		return addr
	}
	return cf.hooks.MakeCallable(fn)
}
