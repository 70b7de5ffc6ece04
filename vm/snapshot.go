package vm

import (
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/vinegar97/sonic3air/program"
	"github.com/vinegar97/sonic3air/token"
)

// snapshotMagic tags the binary snapshot format, distinct from the
// compiled-module format's magic (§6, "Compiled-module binary format").
const snapshotMagic = uint32(0x4c454d53) // "LEMS"

type frameSnapshot struct {
	Module    string
	FuncID    uint64
	IsNative  bool
	PC        int
	ValueBase int
	LocalBase int
}

type globalSnapshot struct {
	Module string
	Name   string
	Value  uint64
}

// Snapshot is the serializable runtime state of one ControlFlow: its call
// stack frames, value stack, local-variable buffer, and every VarGlobal
// binding's current value (§4.5, "Snapshotting"). External and
// user-defined bindings are not captured; they are backed by host
// callbacks the host itself is responsible for restoring.
type Snapshot struct {
	Frames           []frameSnapshot
	Values           []uint64
	Locals           []uint64
	Globals          []globalSnapshot
	InstructionCount int64
}

// Snapshot captures cf's current runtime state (§8, "snapshot(runtime);
// restore(...) followed by further execution yields identical observable
// behavior").
func (cf *ControlFlow) Snapshot() *Snapshot {
	s := &Snapshot{
		Values:           append([]uint64(nil), cf.values.values[:cf.values.top]...),
		Locals:           append([]uint64(nil), cf.locals.values[:cf.locals.size]...),
		InstructionCount: cf.insCount,
	}
	for _, f := range cf.frames {
		s.Frames = append(s.Frames, frameSnapshot{
			Module:    f.Fn.Module,
			FuncID:    f.Fn.ID,
			IsNative:  f.Fn.Kind == program.FuncNative,
			PC:        f.PC,
			ValueBase: f.ValueBase,
			LocalBase: f.LocalBase,
		})
	}
	for _, m := range cf.Env.Modules() {
		for _, g := range m.Globals {
			if g.Kind != token.VarGlobal {
				continue
			}
			s.Globals = append(s.Globals, globalSnapshot{Module: m.Name, Name: g.Name, Value: g.Cell})
		}
	}
	return s
}

// Restore rebuilds a ControlFlow bound to env/mem from a snapshot taken
// earlier against the same (or an equivalently reloaded) environment.
func Restore(env *program.Environment, mem MemoryAccess, s *Snapshot) (*ControlFlow, error) {
	cf := NewControlFlow(env, mem)
	cf.insCount = s.InstructionCount
	cf.values.top = len(s.Values)
	copy(cf.values.values[:], s.Values)
	cf.locals.size = len(s.Locals)
	copy(cf.locals.values[:], s.Locals)

	for _, fs := range s.Frames {
		m, ok := env.Module(fs.Module)
		if !ok {
			return nil, fmt.Errorf("restore: module %q not loaded", fs.Module)
		}
		fn := findByID(m.Functions, fs.IsNative, uint32(fs.FuncID))
		if fn == nil {
			return nil, fmt.Errorf("restore: function id %d not found in module %q", fs.FuncID, fs.Module)
		}
		cf.frames = append(cf.frames, Frame{Fn: fn, PC: fs.PC, ValueBase: fs.ValueBase, LocalBase: fs.LocalBase})
	}
	for _, gs := range s.Globals {
		m, ok := env.Module(gs.Module)
		if !ok {
			continue
		}
		if g, ok := m.GlobalNamed(gs.Name); ok {
			g.Set(gs.Value)
		}
	}
	return cf, nil
}

// EncodeSnapshot writes s in the binary snapshot format: a magic/version
// pair followed by a gob-encoded body, the same shape as the compiled-
// module format (program.Encode) for a consistent on-disk convention.
func EncodeSnapshot(w io.Writer, s *Snapshot) error {
	if err := binary.Write(w, binary.LittleEndian, snapshotMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(1)); err != nil {
		return err
	}
	return gob.NewEncoder(w).Encode(s)
}

// DecodeSnapshot reads a snapshot previously written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	var gotMagic, gotVersion uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return nil, fmt.Errorf("snapshot: read magic: %w", err)
	}
	if gotMagic != snapshotMagic {
		return nil, fmt.Errorf("snapshot: bad magic %#x, want %#x", gotMagic, snapshotMagic)
	}
	if err := binary.Read(r, binary.LittleEndian, &gotVersion); err != nil {
		return nil, fmt.Errorf("snapshot: read format version: %w", err)
	}
	var s Snapshot
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("snapshot: decode body: %w", err)
	}
	return &s, nil
}
