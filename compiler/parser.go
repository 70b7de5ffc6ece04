package compiler

import (
	"fmt"

	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/program"
	"github.com/vinegar97/sonic3air/token"
)

// parser holds the mutable state threaded through resolution of a single
// function body: the token arena, the environment/module being compiled
// against, the function under construction, and its local scope (§9,
// "explicit scratch arenas the caller owns" — the caller here is Compile,
// which owns one parser per function).
type parser struct {
	pool   *token.Pool
	env    *program.Environment
	module *program.Module
	fn     *program.Function
	locals map[string]program.LocalVar
	opts   Options
	file   string
	errs   *[]program.ErrorMessage
}

func newParser(pool *token.Pool, env *program.Environment, mod *program.Module, fn *program.Function, opts Options, file string, errs *[]program.ErrorMessage) *parser {
	return &parser{pool: pool, env: env, module: mod, fn: fn, locals: make(map[string]program.LocalVar), opts: opts, file: file, errs: errs}
}

func (p *parser) errorf(kind program.ErrorKind, line int, format string, args ...interface{}) {
	*p.errs = append(*p.errs, newError(p.file, line, kind, format, args...))
}

func (p *parser) new(t token.Token) token.Ref {
	return p.pool.New(t)
}

// declareLocal registers a new local slot at step 6.c ("declare that
// identifier as a local in the enclosing function").
func (p *parser) declareLocal(name string, ty *datatype.Type, line int) (int, error) {
	if _, exists := p.locals[name]; exists {
		return 0, fmt.Errorf("duplicate local %q", name)
	}
	slot := p.fn.FrameSize
	lv := program.LocalVar{Name: name, Type: ty, Slot: slot}
	p.fn.Locals = append(p.fn.Locals, lv)
	p.fn.FrameSize++
	p.locals[name] = lv
	return slot, nil
}

func (p *parser) lookupTypeName(name string) (*datatype.Type, bool) {
	return p.env.Types.Lookup(name)
}

// resolveIdentifier implements step 1/3/6h/6c's identifier lookup order:
// local, then this module's globals, then a named constant, then the
// environment's cross-module globals lookup.
func (p *parser) resolveVariable(name string) (token.Ref, *datatype.Type, bool) {
	if local, ok := p.locals[name]; ok {
		ref := p.new(withVarRef(token.New(token.KindVariable, 0), token.VarRef{Kind: token.VarLocal, Index: local.Slot, Name: name, Type: local.Type}, local.Type))
		return ref, local.Type, true
	}
	if g, ok := p.module.GlobalNamed(name); ok {
		ref := p.new(withVarRef(token.New(token.KindVariable, 0), token.VarRef{Kind: g.Kind, Index: g.ID, Name: name, Type: g.Type}, g.Type))
		return ref, g.Type, true
	}
	if v, ok := p.env.Globals().FindGlobal(name); ok {
		ref := p.new(withVarRef(token.New(token.KindVariable, 0), token.VarRef{Kind: v.Kind, Index: v.ID, Name: name, Type: v.Type}, v.Type))
		return ref, v.Type, true
	}
	return token.NilRef, nil, false
}

func withVarRef(t token.Token, vr token.VarRef, ty *datatype.Type) token.Token {
	t.SetVarRef(vr)
	t.SetType(ty)
	return t
}

// resolveConstant implements step 3: an identifier naming a named constant
// becomes a literal token carrying the constant's value.
func (p *parser) resolveConstant(name string, line int) (token.Ref, bool) {
	if v, ok := p.module.Constants[name]; ok {
		t := token.New(token.KindLiteral, line)
		t.SetLiteral(uint64(v), 64)
		t.SetType(datatype.ConstInt)
		return p.new(t), true
	}
	return token.NilRef, false
}

// findFunctions returns every overload named name, searching this module
// first and falling back to the environment's cross-module globals lookup.
func (p *parser) findFunctions(name string) []*program.Function {
	fns := p.module.FunctionsNamed(name)
	if len(fns) > 0 {
		return fns
	}
	return p.env.Globals().FindFunctions(name)
}
