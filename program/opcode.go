// Package program implements the module lifecycle: functions, global
// variables, constants, defines, string literals, custom data types, and
// the opcode stream each script function compiles down to (§3 "Opcode",
// §4.6 "Module lifecycle").
package program

import "github.com/vinegar97/sonic3air/datatype"

// OpcodeType enumerates every instruction the backend can emit (§4.4).
type OpcodeType uint8

const (
	OpNop OpcodeType = iota
	OpPushConst
	OpLoadLocal
	OpStoreLocal
	OpLoadGlobal
	OpStoreGlobal
	OpLoadExternal
	OpStoreExternal
	OpLoadUser
	OpStoreUser
	OpReadMemory
	OpWriteMemory
	OpUnary
	OpBinary
	OpCompare
	OpJump
	OpJumpIfFalse
	OpJumpIfTrue
	OpCallScript
	OpCallNative
	OpCast
	OpPushValue
	OpPopValue
	OpReturn
	OpYield
)

func (t OpcodeType) String() string {
	names := [...]string{
		"nop", "push_const", "load_local", "store_local", "load_global",
		"store_global", "load_external", "store_external", "load_user",
		"store_user", "read_memory", "write_memory", "unary", "binary",
		"compare", "jump", "jump_if_false", "jump_if_true", "call_script",
		"call_native", "cast", "push", "pop", "return", "yield",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "invalid"
}

// Opcode is one emitted instruction (§3, "Opcode"). Parameter is a 64 bit
// immediate whose meaning depends on Type: a call target's owning-module
// hash (high 32 bits) and function id (low 32 bits), an
// operator's Operator value, a jump's target program counter, a memory
// access's element size/signedness encoding, a cast's BaseCastType, or (for
// PushConst) the constant value itself.
type Opcode struct {
	Type      OpcodeType
	DataType  *datatype.Type
	Parameter uint64
	Line      int
}

// MemoryOp packs the element width and signedness used by OpReadMemory /
// OpWriteMemory into the low bits of Parameter, alongside the flag for
// which direction it is (kept separate as two opcodes; this struct is just
// the shared encoding helper).
type MemoryOp struct {
	Bits   uint8
	Signed bool
}

// EncodeMemoryOp packs a MemoryOp into the low 9 bits of an opcode
// Parameter: the width in the low byte, the signed flag in bit 8.
func EncodeMemoryOp(m MemoryOp) uint64 {
	v := uint64(m.Bits)
	if m.Signed {
		v |= 0x100
	}
	return v
}

// DecodeMemoryOp unpacks what EncodeMemoryOp produced.
func DecodeMemoryOp(v uint64) MemoryOp {
	return MemoryOp{Bits: uint8(v & 0xff), Signed: v&0x100 != 0}
}
