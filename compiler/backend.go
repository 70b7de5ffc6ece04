package compiler

import (
	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/program"
	"github.com/vinegar97/sonic3air/strtab"
	"github.com/vinegar97/sonic3air/token"
)

// backend walks a function's typed tree post-order and appends opcodes,
// exactly as enumerated in §4.4. Jump targets are patched after the target
// PC is known, the conventional two-pass (emit-with-placeholder, then
// patch) approach for a flat instruction stream.
type backend struct {
	pool      *token.Pool
	fn        *program.Function
	loopStack []loopCtx
	errs      *[]program.ErrorMessage
	file      string
}

type loopCtx struct {
	startPC      int
	breakPatches []int
}

func newBackend(pool *token.Pool, fn *program.Function, file string, errs *[]program.ErrorMessage) *backend {
	return &backend{pool: pool, fn: fn, file: file, errs: errs}
}

func (b *backend) emit(op program.Opcode) int {
	b.fn.Opcodes = append(b.fn.Opcodes, op)
	return len(b.fn.Opcodes) - 1
}

func (b *backend) patchJump(idx int) {
	b.fn.Opcodes[idx].Parameter = uint64(len(b.fn.Opcodes))
}

func (b *backend) errorf(line int, format string, args ...interface{}) {
	*b.errs = append(*b.errs, newError(b.file, line, program.KindBackend, format, args...))
}

// EmitFunctionBody compiles a resolved KindStatementBlock into the
// function's opcode stream, appending a trailing return for functions that
// fall off the end of their body.
func (b *backend) EmitFunctionBody(bodyRef token.Ref) {
	b.emitBlock(bodyRef)
	if len(b.fn.Opcodes) == 0 || b.fn.Opcodes[len(b.fn.Opcodes)-1].Type != program.OpReturn {
		b.emit(program.Opcode{Type: program.OpReturn, DataType: b.fn.Return})
	}
}

func (b *backend) emitBlock(ref token.Ref) {
	if ref == token.NilRef {
		return
	}
	blk := b.pool.Get(ref)
	for _, s := range blk.Stmts() {
		b.emitStatement(s)
	}
}

func (b *backend) emitStatement(ref token.Ref) {
	if ref == token.NilRef {
		return
	}
	t := b.pool.Get(ref)
	if t.Kind == token.KindKeyword {
		b.emitControl(ref, t)
		return
	}
	b.emitExpr(ref)
	if t.Kind == token.KindBinaryOp && t.Op() == token.OpAssign {
		return // stores consume their value, nothing left to discard
	}
	if t.Type() != nil && t.Type() != datatype.Void {
		b.emit(program.Opcode{Type: program.OpPopValue, Line: t.Line()})
	}
}

func (b *backend) emitControl(ref token.Ref, t *token.Token) {
	switch t.Keyword() {
	case token.KwIf:
		b.emitIf(t)
	case token.KwWhile:
		b.emitWhile(t)
	case token.KwFor:
		b.emitFor(t)
	case token.KwReturn:
		b.emitReturn(t)
	case token.KwBreak:
		if len(b.loopStack) == 0 {
			b.errorf(t.Line(), "'break' outside a loop")
			return
		}
		idx := b.emit(program.Opcode{Type: program.OpJump, Line: t.Line()})
		top := len(b.loopStack) - 1
		b.loopStack[top].breakPatches = append(b.loopStack[top].breakPatches, idx)
	case token.KwContinue:
		if len(b.loopStack) == 0 {
			b.errorf(t.Line(), "'continue' outside a loop")
			return
		}
		start := b.loopStack[len(b.loopStack)-1].startPC
		b.emit(program.Opcode{Type: program.OpJump, Parameter: uint64(start), Line: t.Line()})
	}
}

func (b *backend) emitIf(t *token.Token) {
	b.emitExpr(t.Left())
	jz := b.emit(program.Opcode{Type: program.OpJumpIfFalse, Line: t.Line()})
	children := t.Children()
	b.emitBlock(children[0])
	if len(children) > 1 && children[1] != token.NilRef {
		jend := b.emit(program.Opcode{Type: program.OpJump, Line: t.Line()})
		b.patchJump(jz)
		b.emitBlock(children[1])
		b.patchJump(jend)
	} else {
		b.patchJump(jz)
	}
}

func (b *backend) emitWhile(t *token.Token) {
	start := len(b.fn.Opcodes)
	b.loopStack = append(b.loopStack, loopCtx{startPC: start})
	b.emitExpr(t.Left())
	jz := b.emit(program.Opcode{Type: program.OpJumpIfFalse, Line: t.Line()})
	b.emitBlock(t.Children()[0])
	b.emit(program.Opcode{Type: program.OpJump, Parameter: uint64(start), Line: t.Line()})
	b.patchJump(jz)
	b.closeLoop()
}

func (b *backend) emitFor(t *token.Token) {
	children := t.Children() // [init, post, body]
	b.emitStatement(children[0])
	start := len(b.fn.Opcodes)
	b.loopStack = append(b.loopStack, loopCtx{startPC: start})
	var jz int
	hasCond := t.Left() != token.NilRef
	if hasCond {
		b.emitExpr(t.Left())
		jz = b.emit(program.Opcode{Type: program.OpJumpIfFalse, Line: t.Line()})
	}
	b.emitBlock(children[2])
	b.emitStatement(children[1])
	b.emit(program.Opcode{Type: program.OpJump, Parameter: uint64(start), Line: t.Line()})
	if hasCond {
		b.patchJump(jz)
	}
	b.closeLoop()
}

func (b *backend) closeLoop() {
	top := b.loopStack[len(b.loopStack)-1]
	for _, idx := range top.breakPatches {
		b.patchJump(idx)
	}
	b.loopStack = b.loopStack[:len(b.loopStack)-1]
}

func (b *backend) emitReturn(t *token.Token) {
	hasValue := t.Left() != token.NilRef
	if hasValue {
		b.emitExpr(t.Left())
	}
	param := uint64(0)
	if hasValue {
		param = 1
	}
	b.emit(program.Opcode{Type: program.OpReturn, DataType: b.fn.Return, Parameter: param, Line: t.Line()})
}

// emitExpr pushes exactly one value (unless the expression is void),
// walking the tree post-order per §4.4's per-node rules.
func (b *backend) emitExpr(ref token.Ref) {
	t := b.pool.Get(ref)
	switch t.Kind {
	case token.KindLiteral:
		// a base.f(...)/base.self(...) literal (parseBaseCall) carries its
		// discarded call's arguments here so their side effects still run.
		for _, a := range t.Args() {
			b.emitExpr(a)
			if at := b.pool.Get(a).Type(); at != nil && at != datatype.Void {
				b.emit(program.Opcode{Type: program.OpPopValue, Line: t.Line()})
			}
		}
		b.emit(program.Opcode{Type: program.OpPushConst, DataType: t.Type(), Parameter: t.LitValue(), Line: t.Line()})

	case token.KindVariable:
		vr := t.VarRef()
		op := loadOpFor(vr.Kind)
		b.emit(program.Opcode{Type: op, DataType: t.Type(), Parameter: varParam(vr), Line: t.Line()})

	case token.KindMemoryAccess:
		b.emitExpr(t.MemAddr())
		elem := t.MemElem()
		b.emit(program.Opcode{
			Type:      program.OpReadMemory,
			DataType:  elem,
			Parameter: program.EncodeMemoryOp(program.MemoryOp{Bits: elem.Bits, Signed: elem.Signed}),
			Line:      t.Line(),
		})

	case token.KindValueCast:
		b.emitExpr(t.Left())
		from := b.pool.Get(t.Left()).Type()
		to := t.VarType()
		b.emit(program.Opcode{
			Type:      program.OpCast,
			DataType:  to,
			Parameter: uint64(BaseCastTypeFor(from, to)),
			Line:      t.Line(),
		})

	case token.KindUnaryOp:
		b.emitExpr(t.Left())
		b.emit(program.Opcode{Type: program.OpUnary, DataType: t.Type(), Parameter: uint64(t.Op()), Line: t.Line()})

	case token.KindBinaryOp:
		b.emitBinary(t)

	case token.KindYield:
		b.emit(program.Opcode{Type: program.OpYield, Line: t.Line()})

	case token.KindTernary:
		b.emitTernary(t)

	case token.KindFunctionCall:
		for _, a := range t.Args() {
			b.emitExpr(a)
		}
		callee := t.Callee()
		opType := program.OpCallScript
		if callee.IsNative {
			opType = program.OpCallNative
		}
		b.emit(program.Opcode{Type: opType, DataType: t.Type(), Parameter: callParam(callee), Line: t.Line()})

	default:
		b.errorf(t.Line(), "backend: unhandled node kind %s", t.Kind)
	}
}

func (b *backend) emitBinary(t *token.Token) {
	switch t.Op() {
	case token.OpAssign:
		b.emitAssign(t)
	case token.OpAnd:
		b.emitShortCircuit(t, true)
	case token.OpOr:
		b.emitShortCircuit(t, false)
	default:
		b.emitExpr(t.Left())
		b.emitExpr(t.Right())
		if t.Type() == datatype.Void {
			return
		}
		opType := program.OpBinary
		if isComparisonOp(t.Op()) {
			opType = program.OpCompare
		}
		leftType := b.pool.Get(t.Left()).Type()
		b.emit(program.Opcode{Type: opType, DataType: leftType, Parameter: uint64(t.Op()), Line: t.Line()})
	}
}

// emitShortCircuit implements §4.4's "short-circuit logical operators emit
// conditional jumps around the second operand": && skips evaluating the
// right operand (and pushes false) once the left is false; || does the
// mirror image once the left is true.
func (b *backend) emitShortCircuit(t *token.Token, isAnd bool) {
	b.emitExpr(t.Left())
	var skip int
	if isAnd {
		skip = b.emit(program.Opcode{Type: program.OpJumpIfFalse, Line: t.Line()})
	} else {
		skip = b.emit(program.Opcode{Type: program.OpJumpIfTrue, Line: t.Line()})
	}
	// consumed left operand's truth value already by the conditional jump;
	// push it back for the "short" path, then evaluate the long path.
	end := b.emit(program.Opcode{Type: program.OpJump, Line: t.Line()})
	b.patchJump(skip)
	shortVal := uint64(0)
	if !isAnd {
		shortVal = 1
	}
	b.emit(program.Opcode{Type: program.OpPushConst, DataType: datatype.Bool, Parameter: shortVal, Line: t.Line()})
	longJump := b.emit(program.Opcode{Type: program.OpJump, Line: t.Line()})
	b.patchJump(end)
	b.emitExpr(t.Right())
	b.patchJump(longJump)
}

// emitTernary implements `cond ? thenExpr : elseExpr` the same way emitIf
// implements `if`/`else`, except both arms are expressions that leave
// exactly one value on the stack rather than statement blocks.
func (b *backend) emitTernary(t *token.Token) {
	b.emitExpr(t.Left())
	jz := b.emit(program.Opcode{Type: program.OpJumpIfFalse, Line: t.Line()})
	children := t.Children()
	b.emitExpr(children[0])
	jend := b.emit(program.Opcode{Type: program.OpJump, Line: t.Line()})
	b.patchJump(jz)
	b.emitExpr(children[1])
	b.patchJump(jend)
}

func (b *backend) emitAssign(t *token.Token) {
	b.emitExpr(t.Right())
	left := b.pool.Get(t.Left())
	switch left.Kind {
	case token.KindVariable:
		vr := left.VarRef()
		b.emit(program.Opcode{Type: storeOpFor(vr.Kind), DataType: left.Type(), Parameter: varParam(vr), Line: t.Line()})
	case token.KindMemoryAccess:
		// the value is already on top; push the address above it so the
		// VM's WRITE_MEMORY handler can pop (addr, value) in that order.
		b.emitExpr(left.MemAddr())
		elem := left.MemElem()
		b.emit(program.Opcode{
			Type:      program.OpWriteMemory,
			DataType:  elem,
			Parameter: program.EncodeMemoryOp(program.MemoryOp{Bits: elem.Bits, Signed: elem.Signed}),
			Line:      t.Line(),
		})
	default:
		b.errorf(t.Line(), "assignment target is not assignable")
	}
}

// varParam picks the opcode immediate for a resolved variable reference.
// Locals live in the current frame, so a slot index is enough. Globals,
// externals and user-defined bindings may be declared in a module other
// than the one currently executing (§4.2's cross-module globals lookup), so
// a plain per-module id would collide across modules; the name hash is
// globally unambiguous and is how the runtime's variable table is keyed.
func varParam(vr token.VarRef) uint64 {
	if vr.Kind == token.VarLocal {
		return uint64(vr.Index)
	}
	return uint64(strtab.Sum(vr.Name))
}

// callParam packs a call target's owning-module hash into the high 32 bits
// and its per-module function id into the low 32 bits, so the runtime can
// find the right function even when it belongs to a module other than the
// caller's own (Function.ID is only contiguous within one module).
func callParam(fr token.FuncRef) uint64 {
	return uint64(strtab.Sum(fr.Module))&0xffffffff<<32 | uint64(uint32(fr.ID))
}

func loadOpFor(kind token.VarKind) program.OpcodeType {
	switch kind {
	case token.VarLocal:
		return program.OpLoadLocal
	case token.VarExternal:
		return program.OpLoadExternal
	case token.VarUserDefined:
		return program.OpLoadUser
	default:
		return program.OpLoadGlobal
	}
}

func storeOpFor(kind token.VarKind) program.OpcodeType {
	switch kind {
	case token.VarLocal:
		return program.OpStoreLocal
	case token.VarExternal:
		return program.OpStoreExternal
	case token.VarUserDefined:
		return program.OpStoreUser
	default:
		return program.OpStoreGlobal
	}
}
