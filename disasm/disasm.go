// Package disasm renders a compiled function's opcode stream back to
// readable text, one instruction per line, grounded on the reference
// toolchain's asm.Disassemble/DisassembleAll (itself grounded on its own
// text assembly format; here there is no assembler counterpart, only the
// reverse direction, since script source compiles straight to opcodes).
package disasm

import (
	"fmt"
	"io"

	"github.com/vinegar97/sonic3air/internal/ngi"
	"github.com/vinegar97/sonic3air/program"
	"github.com/vinegar97/sonic3air/token"
)

// Instruction renders one opcode as it would read in a disassembly listing,
// without a trailing newline.
func Instruction(op program.Opcode) string {
	switch op.Type {
	case program.OpPushConst:
		return fmt.Sprintf("push_const %d", op.Parameter)
	case program.OpLoadLocal, program.OpStoreLocal:
		return fmt.Sprintf("%s slot=%d", op.Type, op.Parameter)
	case program.OpLoadGlobal, program.OpStoreGlobal,
		program.OpLoadExternal, program.OpStoreExternal,
		program.OpLoadUser, program.OpStoreUser:
		return fmt.Sprintf("%s name_hash=%#x", op.Type, op.Parameter)
	case program.OpUnary, program.OpBinary, program.OpCompare:
		return fmt.Sprintf("%s %s", op.Type, token.Operator(op.Parameter))
	case program.OpCast:
		u := uint32(op.Parameter)
		fromBits, toBits, signExtend := uint8(u>>16), uint8(u>>8), u&1 != 0
		return fmt.Sprintf("cast s%d->s%d sign_extend=%v", fromBits, toBits, signExtend)
	case program.OpJump, program.OpJumpIfFalse, program.OpJumpIfTrue:
		return fmt.Sprintf("%s -> %d", op.Type, op.Parameter)
	case program.OpCallScript, program.OpCallNative:
		moduleHash, id := uint32(op.Parameter>>32), uint32(op.Parameter)
		return fmt.Sprintf("%s module_hash=%#x id=%d", op.Type, moduleHash, id)
	case program.OpReadMemory, program.OpWriteMemory:
		mo := program.DecodeMemoryOp(op.Parameter)
		return fmt.Sprintf("%s bits=%d signed=%v", op.Type, mo.Bits, mo.Signed)
	case program.OpReturn:
		return fmt.Sprintf("return has_value=%v", op.Parameter != 0)
	default:
		return op.Type.String()
	}
}

// Function writes a full listing of fn's opcode stream to w, one line per
// instruction prefixed with its program counter.
func Function(fn *program.Function, w io.Writer) error {
	ew := ngi.NewErrWriter(w)
	fmt.Fprintf(ew, "function %s.%s\n", fn.Module, fn.Name)
	for pc, op := range fn.Opcodes {
		fmt.Fprintf(ew, "% 6d\t%s\n", pc, Instruction(op))
		if ew.Err != nil {
			return ew.Err
		}
	}
	return ew.Err
}

// Module writes a listing of every script function declared in m.
func Module(m *program.Module, w io.Writer) error {
	for _, fn := range m.Functions {
		if fn.Kind != program.FuncScript {
			continue
		}
		if err := Function(fn, w); err != nil {
			return err
		}
	}
	return nil
}
