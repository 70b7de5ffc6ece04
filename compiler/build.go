package compiler

import (
	"fmt"
	"strings"

	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/program"
	"github.com/vinegar97/sonic3air/token"
)

// coerce inserts an implicit cast node around expr if its type differs from
// target, per §4.2 step 7 ("implicit casts are inserted around operands
// whose type differs from the signature"). A literal is folded in place
// instead of wrapped, matching step 6.k.
func (p *parser) coerce(expr token.Ref, target *datatype.Type, line int) (token.Ref, error) {
	tok := p.pool.Get(expr)
	from := tok.Type()
	if from == target {
		return expr, nil
	}
	prio := ImplicitCastPriority(from, target, p.opts.ScriptFeatureLevel)
	if prio == CannotCast {
		return token.NilRef, fmt.Errorf("line %d: cannot implicitly cast %s to %s", line, from, target)
	}
	if tok.Kind == token.KindLiteral && target.IsIntegerClass() {
		v := truncateToWidth(tok.LitValue(), target.Bits, from != nil && from.Signed && target.Bits > tok.LitBits())
		tok.SetLiteral(v, target.Bits)
		tok.SetType(target)
		return expr, nil
	}
	t := token.New(token.KindValueCast, line)
	t.SetVarType(target)
	t.SetLeft(expr)
	t.SetType(target)
	return p.new(t), nil
}

// buildUnary implements step 6.i's operator application.
func (p *parser) buildUnary(it item, operand token.Ref) (token.Ref, error) {
	opTok := p.pool.Get(operand)
	ty := opTok.Type()
	if ty == nil || !ty.IsIntegerClass() {
		return token.NilRef, fmt.Errorf("line %d: unary %q requires an integer operand", it.line, it.text)
	}

	if opTok.Kind == token.KindLiteral && (it.op == token.OpNeg || it.op == token.OpSub || it.op == token.OpNot || it.op == token.OpBitNot) {
		v := foldUnary(it.op, opTok.LitValue(), ty)
		t := token.New(token.KindLiteral, it.line)
		t.SetLiteral(v, ty.Bits)
		t.SetType(ty)
		return p.new(t), nil
	}

	t := token.New(token.KindUnaryOp, it.line)
	op := it.op
	if op == token.OpSub {
		op = token.OpNeg
	}
	t.SetOp(op)
	t.SetLeft(operand)
	t.SetType(ty)
	return p.new(t), nil
}

func foldUnary(op token.Operator, v uint64, ty *datatype.Type) uint64 {
	switch op {
	case token.OpSub, token.OpNeg:
		return truncateToWidth(uint64(-int64(v)), ty.Bits, ty.Signed)
	case token.OpNot:
		if v == 0 {
			return 1
		}
		return 0
	case token.OpBitNot:
		return truncateToWidth(^v, ty.Bits, ty.Signed)
	}
	return v
}

// buildBinary implements steps 6.j (operator wrapping), 6.k (constant
// folding), and 7 (signature selection, cast insertion, and the string
// compound-assignment rewrite).
func (p *parser) buildBinary(left token.Ref, it item, right token.Ref) (token.Ref, error) {
	if isAssignOp(it.op) {
		return p.buildAssignment(left, it, right)
	}

	leftTok, rightTok := p.pool.Get(left), p.pool.Get(right)
	leftTy, rightTy := leftTok.Type(), rightTok.Type()

	if it.op == token.OpAdd && leftTy == datatype.String && rightTy == datatype.String {
		return p.buildStringConcat(left, right, it.line)
	}

	// Two untyped constant operands fold at full constant-int width and the
	// result stays constant-semantics; narrowing only happens once the
	// result is coerced into a concrete typed context (§4.2 step 7,
	// "constants adopt the result-type context"). Routing this case through
	// the typed signature tables below would pick Int8 (every entry ties at
	// priority (1,1) for a SemConstant operand) and silently truncate.
	if leftTok.Kind == token.KindLiteral && rightTok.Kind == token.KindLiteral &&
		leftTy != nil && rightTy != nil &&
		leftTy.Semantics == datatype.SemConstant && rightTy.Semantics == datatype.SemConstant {
		resultTy := datatype.ConstInt
		if isComparisonOp(it.op) {
			resultTy = datatype.Bool
		}
		v := foldBinary(it.op, leftTok.LitValue(), rightTok.LitValue(), datatype.ConstInt)
		t := token.New(token.KindLiteral, it.line)
		t.SetLiteral(v, resultTy.Bits)
		t.SetType(resultTy)
		return p.new(t), nil
	}

	table := symmetricSignatures
	if isComparisonOp(it.op) {
		table = comparisonSignatures
	}
	sig, ok := BestBinarySignature(table, leftTy, rightTy, p.opts.ScriptFeatureLevel)
	if !ok {
		return token.NilRef, fmt.Errorf("line %d: no matching overload for operator %q on %s and %s", it.line, it.text, leftTy, rightTy)
	}
	left, err := p.coerce(left, sig.Left, it.line)
	if err != nil {
		return token.NilRef, err
	}
	right, err = p.coerce(right, sig.Right, it.line)
	if err != nil {
		return token.NilRef, err
	}

	if p.pool.Get(left).Kind == token.KindLiteral && p.pool.Get(right).Kind == token.KindLiteral {
		v := foldBinary(it.op, p.pool.Get(left).LitValue(), p.pool.Get(right).LitValue(), sig.Left)
		t := token.New(token.KindLiteral, it.line)
		t.SetLiteral(v, sig.Result.Bits)
		t.SetType(sig.Result)
		return p.new(t), nil
	}

	t := token.New(token.KindBinaryOp, it.line)
	t.SetOp(it.op)
	t.SetLeft(left)
	t.SetRight(right)
	t.SetType(sig.Result)
	return p.new(t), nil
}

// buildTernary implements `cond ? thenExpr : elseExpr`. The condition is
// coerced to bool exactly as an `if` condition is (parseCondition); the two
// branch types are resolved against trinarySignatures the same way
// buildBinary resolves symmetricSignatures/comparisonSignatures, since the
// condition operand plays no part in that table (§4.3).
func (p *parser) buildTernary(cond, thenExpr, elseExpr token.Ref, line int) (token.Ref, error) {
	cond, err := p.coerce(cond, boolType(), line)
	if err != nil {
		return token.NilRef, err
	}

	thenTy, elseTy := p.pool.Get(thenExpr).Type(), p.pool.Get(elseExpr).Type()
	sig, ok := BestBinarySignature(trinarySignatures, thenTy, elseTy, p.opts.ScriptFeatureLevel)
	if !ok {
		return token.NilRef, fmt.Errorf("line %d: no matching type for trinary branches %s and %s", line, thenTy, elseTy)
	}
	thenExpr, err = p.coerce(thenExpr, sig.Left, line)
	if err != nil {
		return token.NilRef, err
	}
	elseExpr, err = p.coerce(elseExpr, sig.Right, line)
	if err != nil {
		return token.NilRef, err
	}

	condTok := p.pool.Get(cond)
	if condTok.Kind == token.KindLiteral {
		if condTok.LitValue() != 0 {
			return thenExpr, nil
		}
		return elseExpr, nil
	}

	t := token.New(token.KindTernary, line)
	t.SetLeft(cond)
	t.SetChildren([]token.Ref{thenExpr, elseExpr})
	t.SetType(sig.Result)
	return p.new(t), nil
}

// splitLastDot splits a dotted callee name on its final '.', matching the
// original's method-call resolution (TokenProcessing.cpp).
func splitLastDot(name string) (recv, method string, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

func isComparisonOp(op token.Operator) bool {
	switch op {
	case token.OpEq, token.OpNe, token.OpLt, token.OpLe, token.OpGt, token.OpGe:
		return true
	}
	return false
}

// buildStringConcat backs both `s + t` and the compound-assignment rewrite
// `s += t` -> `s = op(s, t)` for strings (§4.2 step 7). It is represented
// as an ordinary KindBinaryOp tagged with OpAdd over string-typed operands;
// the backend and VM special-case that shape instead of routing it through
// a fabricated native catalog entry.
func (p *parser) buildStringConcat(left, right token.Ref, line int) (token.Ref, error) {
	t := token.New(token.KindBinaryOp, line)
	t.SetOp(token.OpAdd)
	t.SetLeft(left)
	t.SetRight(right)
	t.SetType(datatype.String)
	return p.new(t), nil
}

// foldBinary evaluates a binary op over two literal operands in 64-bit
// two's-complement arithmetic with safe division (§8: divide/modulo by
// zero yields zero rather than trapping).
func foldBinary(op token.Operator, l, r uint64, ty *datatype.Type) uint64 {
	signed := ty != nil && ty.Signed
	var result uint64
	switch op {
	case token.OpAdd:
		result = l + r
	case token.OpSub:
		result = l - r
	case token.OpMul:
		result = l * r
	case token.OpDiv:
		if r == 0 {
			return 0
		}
		if signed {
			result = uint64(int64(l) / int64(r))
		} else {
			result = l / r
		}
	case token.OpMod:
		if r == 0 {
			return 0
		}
		if signed {
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
	case token.OpAnd:
		result = boolU64(l != 0 && r != 0)
	case token.OpOr:
		result = boolU64(l != 0 || r != 0)
	case token.OpEq:
		result = boolU64(l == r)
	case token.OpNe:
		result = boolU64(l != r)
	case token.OpLt:
		result = boolU64(cmpLess(l, r, signed))
	case token.OpLe:
		result = boolU64(l == r || cmpLess(l, r, signed))
	case token.OpGt:
		result = boolU64(cmpLess(r, l, signed))
	case token.OpGe:
		result = boolU64(l == r || cmpLess(r, l, signed))
	}
	if ty != nil {
		return truncateToWidth(result, ty.Bits, signed)
	}
	return result
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

// buildAssignment implements the assignment half of step 7, including the
// compound-assignment desugaring `x op= y` -> `x = x op y`.
func (p *parser) buildAssignment(left token.Ref, it item, right token.Ref) (token.Ref, error) {
	leftTok := p.pool.Get(left)
	if leftTok.Kind != token.KindVariable && leftTok.Kind != token.KindMemoryAccess {
		return token.NilRef, fmt.Errorf("line %d: left-hand side of assignment is not assignable", it.line)
	}

	if arith, isCompound := compoundArith[it.op]; isCompound {
		synthetic := item{kind: itemOperator, op: arith, line: it.line}
		var err error
		right, err = p.buildBinary(left, synthetic, right)
		if err != nil {
			return token.NilRef, err
		}
	}

	leftTy := leftTok.Type()
	rightTy := p.pool.Get(right).Type()
	sig, ok := BestAssignmentSignature(assignmentSignatures, leftTy, rightTy, p.opts.ScriptFeatureLevel)
	if !ok {
		return token.NilRef, fmt.Errorf("line %d: cannot assign %s to %s", it.line, rightTy, leftTy)
	}
	right, err := p.coerce(right, sig.Right, it.line)
	if err != nil {
		return token.NilRef, err
	}

	t := token.New(token.KindBinaryOp, it.line)
	t.SetOp(token.OpAssign)
	t.SetLeft(left)
	t.SetRight(right)
	t.SetType(sig.Result)
	return p.new(t), nil
}

// buildCall implements step 6.d: argument types are inferred first, then
// overload resolution (§4.3, "Function overload selection") picks the best
// signature. extraFirstArg supplies the receiver for method-call syntax.
func (p *parser) buildCall(e *exprParser, name string, extraFirstArg []token.Ref, line int) (token.Ref, error) {
	e.next() // '('
	args, err := e.parseArgs()
	if err != nil {
		return token.NilRef, err
	}
	if _, err := e.expect(itemRParen, ")"); err != nil {
		return token.NilRef, err
	}

	// The lexer glues a method-call dot into the identifier itself
	// (isIdentPart includes '.'), so `x.method(...)` and the `array.length()`
	// pseudo-method both arrive here as one dotted name rather than through
	// the whitespace-separated '.' path (buildMethodCall). Split on the last
	// dot and resolve the receiver, matching how the original resolves a
	// call name (TokenProcessing.cpp, split-on-last-dot).
	if len(extraFirstArg) == 0 {
		if recvName, method, ok := splitLastDot(name); ok {
			if arr, isArr := p.module.ConstantArrays[recvName]; isArr && method == "length" {
				if len(args) != 0 {
					return token.NilRef, fmt.Errorf("line %d: %q takes no arguments", line, name)
				}
				t := token.New(token.KindLiteral, line)
				t.SetLiteral(uint64(len(arr)), 64)
				t.SetType(datatype.ConstInt)
				return p.new(t), nil
			}
			recv, _, rok := p.resolveVariable(recvName)
			if !rok {
				return token.NilRef, fmt.Errorf("line %d: unknown identifier %q", line, recvName)
			}
			extraFirstArg = []token.Ref{recv}
			name = method
		}
	}

	if len(extraFirstArg) > 0 {
		args = append(append([]token.Ref{}, extraFirstArg...), args...)
	}

	candidates := p.findFunctions(name)
	if len(candidates) == 0 {
		return token.NilRef, fmt.Errorf("line %d: unknown function %q", line, name)
	}

	argTypes := make([]*datatype.Type, len(args))
	for i, a := range args {
		argTypes[i] = p.pool.Get(a).Type()
	}
	overloadCandidates := make([]OverloadCandidate, len(candidates))
	for i, c := range candidates {
		overloadCandidates[i] = OverloadCandidate{ArgTypes: c.ArgTypes(), Token: i}
	}
	idx, ok := BestOverloadScore(overloadCandidates, argTypes, p.opts.ScriptFeatureLevel)
	if !ok {
		return token.NilRef, fmt.Errorf("line %d: no matching overload of %q for the given argument types", line, name)
	}
	fn := candidates[idx]

	for i, pTy := range fn.ArgTypes() {
		args[i], err = p.coerce(args[i], pTy, line)
		if err != nil {
			return token.NilRef, err
		}
	}

	if fn.IsCompileTimeConstant() {
		if folded, ok := p.foldNativeCall(fn, args); ok {
			return folded, nil
		}
	}

	t := token.New(token.KindFunctionCall, line)
	t.SetCallee(token.FuncRef{ID: fn.ID, Name: fn.Name, Module: fn.Module, IsNative: fn.Kind == program.FuncNative, Return: fn.Return})
	t.SetArgs(args)
	t.SetType(fn.Return)
	return p.new(t), nil
}

// foldNativeCall implements step 6.k's compile-time-constant native call
// folding: if every argument is a literal, invoke the wrapper directly and
// fold the result into a literal.
func (p *parser) foldNativeCall(fn *program.Function, args []token.Ref) (token.Ref, bool) {
	if fn.Native == nil {
		return token.NilRef, false
	}
	vals := make([]uint64, len(args))
	for i, a := range args {
		tok := p.pool.Get(a)
		if tok.Kind != token.KindLiteral {
			return token.NilRef, false
		}
		vals[i] = tok.LitValue()
	}
	result, err := fn.Native(vals)
	if err != nil {
		return token.NilRef, false
	}
	t := token.New(token.KindLiteral, 0)
	bits := uint8(64)
	if fn.Return != nil {
		bits = fn.Return.Bits
	}
	t.SetLiteral(result, bits)
	t.SetType(fn.Return)
	return p.new(t), true
}
