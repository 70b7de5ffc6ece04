package program

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/token"
)

// Compiled-module binary format (§6, "Compiled-module binary format"):
// a fixed magic/version pair, a gob-encoded header carrying every piece of
// module metadata (functions' signatures, globals, constants, defines,
// string literals, custom type names), followed by each script function's
// opcode stream written as a flat encoding/binary record. Opcodes are kept
// out of the gob stream because they are fixed-width and hot: a plain
// binary.Write loop is both smaller on disk and cheaper to decode than
// letting gob reflect over a few hundred thousand instructions.

type globalRecord struct {
	Name     string
	TypeName string
	Kind     token.VarKind
}

type paramRecord struct {
	Name     string
	TypeName string
}

type localRecord struct {
	Name     string
	TypeName string
	Slot     int
}

type functionRecord struct {
	Name          string
	Params        []paramRecord
	ReturnType    string
	SignatureHash uint32
	Kind          FuncKind
	Locals        []localRecord
	FrameSize     int
	SourceFile    string
	AddressHooks  []uint32
	Aliases       []string
	Flags         NativeFlags
	OpcodeCount   int
}

type moduleHeader struct {
	Name           string
	ModuleVersion  uint32
	DependencyHash uint64
	Constants      map[string]int64
	ConstantArrays map[string][]int64
	Defines        map[string]string
	Strings        []string
	CustomTypes    []string
	Globals        []globalRecord
	Functions      []functionRecord
}

func typeName(t *datatype.Type) string {
	if t == nil {
		return ""
	}
	return t.Name
}

func resolveType(reg *datatype.Registry, name string) (*datatype.Type, error) {
	if name == "" {
		return nil, nil
	}
	t, ok := reg.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("serialize: unknown data type %q referenced by module", name)
	}
	return t, nil
}

// Encode writes m in the binary module format. m must be finalized.
func Encode(w io.Writer, m *Module) error {
	if !m.Finalized() {
		return fmt.Errorf("module %q: cannot encode before Finalize", m.Name)
	}
	if err := binary.Write(w, binary.LittleEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, formatVersion); err != nil {
		return err
	}

	hdr := moduleHeader{
		Name:           m.Name,
		ModuleVersion:  m.Version,
		DependencyHash: m.DependencyHash,
		Constants:      m.Constants,
		ConstantArrays: m.ConstantArrays,
		Defines:        m.Defines,
		Strings:        m.strings,
	}
	for _, t := range m.CustomTypes {
		hdr.CustomTypes = append(hdr.CustomTypes, t.Name)
	}
	for _, g := range m.Globals {
		hdr.Globals = append(hdr.Globals, globalRecord{
			Name:     g.Name,
			TypeName: typeName(g.Type),
			Kind:     g.Kind,
		})
	}
	for _, fn := range m.Functions {
		fr := functionRecord{
			Name:          fn.Name,
			ReturnType:    typeName(fn.Return),
			SignatureHash: fn.SignatureHash,
			Kind:          fn.Kind,
			FrameSize:     fn.FrameSize,
			SourceFile:    fn.SourceFile,
			AddressHooks:  fn.AddressHooks,
			Aliases:       fn.Aliases,
			Flags:         fn.Flags,
			OpcodeCount:   len(fn.Opcodes),
		}
		for _, p := range fn.Params {
			fr.Params = append(fr.Params, paramRecord{Name: p.Name, TypeName: typeName(p.Type)})
		}
		for _, l := range fn.Locals {
			fr.Locals = append(fr.Locals, localRecord{Name: l.Name, TypeName: typeName(l.Type), Slot: l.Slot})
		}
		hdr.Functions = append(hdr.Functions, fr)
	}

	if err := gob.NewEncoder(w).Encode(&hdr); err != nil {
		return fmt.Errorf("serialize: encode header: %w", err)
	}

	for _, fn := range m.Functions {
		if fn.Kind != FuncScript {
			continue
		}
		for _, op := range fn.Opcodes {
			if err := writeOpcode(w, op); err != nil {
				return fmt.Errorf("serialize: function %q: %w", fn.Name, err)
			}
		}
	}
	return nil
}

func writeOpcode(w io.Writer, op Opcode) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(op.Type)); err != nil {
		return err
	}
	name := typeName(op.DataType)
	if err := binary.Write(w, binary.LittleEndian, uint16(len(name))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, op.Parameter); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, int32(op.Line))
}

func readOpcode(r io.Reader, reg *datatype.Registry) (Opcode, error) {
	var op Opcode
	var typ uint8
	if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
		return op, err
	}
	op.Type = OpcodeType(typ)

	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return op, err
	}
	if nameLen > 0 {
		buf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return op, err
		}
		t, err := resolveType(reg, string(buf))
		if err != nil {
			return op, err
		}
		op.DataType = t
	}

	if err := binary.Read(r, binary.LittleEndian, &op.Parameter); err != nil {
		return op, err
	}
	var line int32
	if err := binary.Read(r, binary.LittleEndian, &line); err != nil {
		return op, err
	}
	op.Line = int(line)
	return op, nil
}

// Decode reads a module previously written by Encode, resolving data type
// references against reg. Native function bodies are not carried across
// serialization: the returned module's native Functions have their
// signature and metadata restored but a nil Native wrapper, which the host
// must rebind by name before the module is usable (§6, "Native function
// catalog").
func Decode(r io.Reader, reg *datatype.Registry) (*Module, error) {
	br := bufio.NewReader(r)

	var gotMagic, gotVersion uint32
	if err := binary.Read(br, binary.LittleEndian, &gotMagic); err != nil {
		return nil, fmt.Errorf("serialize: read magic: %w", err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("serialize: bad magic %#x, want %#x", gotMagic, magic)
	}
	if err := binary.Read(br, binary.LittleEndian, &gotVersion); err != nil {
		return nil, fmt.Errorf("serialize: read format version: %w", err)
	}
	if gotVersion != formatVersion {
		return nil, fmt.Errorf("serialize: unsupported format version %d, want %d", gotVersion, formatVersion)
	}

	var hdr moduleHeader
	if err := gob.NewDecoder(br).Decode(&hdr); err != nil {
		return nil, fmt.Errorf("serialize: decode header: %w", err)
	}

	m := NewModule(hdr.Name)
	m.Version = hdr.ModuleVersion
	m.DependencyHash = hdr.DependencyHash
	if hdr.Constants != nil {
		m.Constants = hdr.Constants
	}
	if hdr.ConstantArrays != nil {
		m.ConstantArrays = hdr.ConstantArrays
	}
	if hdr.Defines != nil {
		m.Defines = hdr.Defines
	}
	for _, s := range hdr.Strings {
		m.InternString(s)
	}
	for _, name := range hdr.CustomTypes {
		t, err := reg.DeclareCustom(name, hdr.Name)
		if err != nil {
			return nil, fmt.Errorf("serialize: custom type %q: %w", name, err)
		}
		m.CustomTypes = append(m.CustomTypes, t)
	}
	for _, g := range hdr.Globals {
		t, err := resolveType(reg, g.TypeName)
		if err != nil {
			return nil, err
		}
		m.DeclareGlobal(&Variable{Name: g.Name, Type: t, Kind: g.Kind})
	}

	for _, fr := range hdr.Functions {
		fn := &Function{
			Name:          fr.Name,
			SignatureHash: fr.SignatureHash,
			Kind:          fr.Kind,
			FrameSize:     fr.FrameSize,
			SourceFile:    fr.SourceFile,
			AddressHooks:  fr.AddressHooks,
			Aliases:       fr.Aliases,
			Flags:         fr.Flags,
		}
		retType, err := resolveType(reg, fr.ReturnType)
		if err != nil {
			return nil, err
		}
		fn.Return = retType
		for _, p := range fr.Params {
			pt, err := resolveType(reg, p.TypeName)
			if err != nil {
				return nil, err
			}
			fn.Params = append(fn.Params, Param{Name: p.Name, Type: pt})
		}
		for _, l := range fr.Locals {
			lt, err := resolveType(reg, l.TypeName)
			if err != nil {
				return nil, err
			}
			fn.Locals = append(fn.Locals, LocalVar{Name: l.Name, Type: lt, Slot: l.Slot})
		}
		if fn.Kind == FuncScript {
			fn.Opcodes = make([]Opcode, fr.OpcodeCount)
			for i := 0; i < fr.OpcodeCount; i++ {
				op, err := readOpcode(br, reg)
				if err != nil {
					return nil, fmt.Errorf("serialize: function %q opcode %d: %w", fn.Name, i, err)
				}
				fn.Opcodes[i] = op
			}
		}
		m.DeclareFunction(fn)
	}

	m.Finalize(hdr.DependencyHash)
	return m, nil
}
