package vm

import (
	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/program"
	"github.com/vinegar97/sonic3air/strtab"
	"github.com/vinegar97/sonic3air/token"
)

// truncateToWidth mirrors the compiler frontend's constant-folding
// truncation (§4.3, "down-casting ... narrows by truncation of the low
// bits; sign-extension applies only on signed up-casts"), applied here to
// runtime values instead of literals.
func truncateToWidth(v uint64, bits uint8, signExtend bool) uint64 {
	if bits == 0 || bits >= 64 {
		return v
	}
	mask := uint64(1)<<bits - 1
	v &= mask
	if signExtend && v&(uint64(1)<<(bits-1)) != 0 {
		v |= ^mask
	}
	return v
}

func cmpLess(a, b uint64, signed bool) bool {
	if signed {
		return int64(a) < int64(b)
	}
	return a < b
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// doUnary applies a unary operator to the value on top of the stack,
// respecting the opcode's DataType for width and signedness (§4.4, "Unary
// op -> emit operand, then opcode selected by op and operand type").
func (cf *ControlFlow) doUnary(op program.Opcode) error {
	v, err := cf.values.pop()
	if err != nil {
		return cf.fault("%v", err)
	}
	ty := op.DataType
	signed := ty != nil && ty.Signed
	var result uint64
	switch token.Operator(op.Parameter) {
	case token.OpNeg, token.OpSub:
		result = uint64(-int64(v))
	case token.OpNot:
		result = boolU64(v == 0)
	case token.OpBitNot:
		result = ^v
	case token.OpInc:
		result = v + 1
	case token.OpDec:
		result = v - 1
	default:
		return cf.fault("unhandled unary operator %v", op.Parameter)
	}
	if ty != nil {
		result = truncateToWidth(result, ty.Bits, signed)
	}
	if err := cf.values.push(result); err != nil {
		return cf.fault("%v", err)
	}
	return nil
}

// doBinary applies a binary arithmetic/bitwise operator to the two values
// on top of the stack (right popped first, since it was pushed second).
// String `+` is special-cased into an actual concatenation of interned
// string values (§4.2's "builtin function" rewrite is represented purely
// as a tagged opcode, per the compiler's buildStringConcat).
func (cf *ControlFlow) doBinary(op program.Opcode) error {
	r, err := cf.values.pop()
	if err != nil {
		return cf.fault("%v", err)
	}
	l, err := cf.values.pop()
	if err != nil {
		return cf.fault("%v", err)
	}

	if op.DataType == datatype.String {
		return cf.doStringConcat(l, r)
	}

	signed := op.DataType != nil && op.DataType.Signed
	opr := token.Operator(op.Parameter)
	var result uint64
	switch opr {
	case token.OpAdd:
		result = l + r
	case token.OpSub:
		result = l - r
	case token.OpMul:
		result = l * r
	case token.OpDiv:
		if r == 0 {
			result = 0
		} else if signed {
			result = uint64(int64(l) / int64(r))
		} else {
			result = l / r
		}
	case token.OpMod:
		if r == 0 {
			result = 0
		} else if signed {
			result = uint64(int64(l) % int64(r))
		} else {
			result = l % r
		}
	case token.OpBitAnd:
		result = l & r
	case token.OpBitOr:
		result = l | r
	case token.OpBitXor:
		result = l ^ r
	case token.OpShl:
		result = l << (r & 63)
	case token.OpShr:
		if signed {
			result = uint64(int64(l) >> (r & 63))
		} else {
			result = l >> (r & 63)
		}
	default:
		return cf.fault("unhandled binary operator %v", opr)
	}
	if op.DataType != nil {
		result = truncateToWidth(result, op.DataType.Bits, signed)
	}
	if err := cf.values.push(result); err != nil {
		return cf.fault("%v", err)
	}
	return nil
}

func (cf *ControlFlow) doStringConcat(l, r uint64) error {
	left, ok := cf.Env.Strings.Lookup(strtab.Hash(l))
	if !ok {
		return cf.fault("string concat: unresolved left-hand interned value %#x", l)
	}
	right, ok := cf.Env.Strings.Lookup(strtab.Hash(r))
	if !ok {
		return cf.fault("string concat: unresolved right-hand interned value %#x", r)
	}
	h := cf.Env.Strings.Intern(left + right)
	return cf.values.push(uint64(h))
}

// doCompare applies a comparison operator, always producing a bool (0/1).
func (cf *ControlFlow) doCompare(op program.Opcode) error {
	r, err := cf.values.pop()
	if err != nil {
		return cf.fault("%v", err)
	}
	l, err := cf.values.pop()
	if err != nil {
		return cf.fault("%v", err)
	}
	signed := op.DataType != nil && op.DataType.Signed
	var result bool
	switch token.Operator(op.Parameter) {
	case token.OpEq:
		result = l == r
	case token.OpNe:
		result = l != r
	case token.OpLt:
		result = cmpLess(l, r, signed)
	case token.OpLe:
		result = l == r || cmpLess(l, r, signed)
	case token.OpGt:
		result = cmpLess(r, l, signed)
	case token.OpGe:
		result = l == r || cmpLess(r, l, signed)
	default:
		return cf.fault("unhandled comparison operator %v", op.Parameter)
	}
	if err := cf.values.push(boolU64(result)); err != nil {
		return cf.fault("%v", err)
	}
	return nil
}

// doCast applies the enumerated BaseCastType to the value on top of the
// stack (§4.3, "Base-cast-type"). The bit layout mirrors
// compiler.EncodeBaseCastType: (source bits << 16) | (target bits << 8) |
// sign-extend flag; duplicated here rather than imported so the runtime
// does not depend on the compiler package, mirroring the asm/vm split in
// the reference toolchain this design is grounded on.
func (cf *ControlFlow) doCast(op program.Opcode) error {
	v, err := cf.values.pop()
	if err != nil {
		return cf.fault("%v", err)
	}
	u := uint32(op.Parameter)
	toBits := uint8(u >> 8)
	signExtend := u&1 != 0
	result := truncateToWidth(v, toBits, signExtend)
	if err := cf.values.push(result); err != nil {
		return cf.fault("%v", err)
	}
	return nil
}
