package compiler

import (
	"fmt"
	"strings"

	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/program"
	"github.com/vinegar97/sonic3air/source"
	"github.com/vinegar97/sonic3air/strtab"
	"github.com/vinegar97/sonic3air/token"
)

// Compile loads rootPath (and everything it includes) through the source
// loader, lexes and resolves every top-level declaration against env, and
// returns a finalized module plus any diagnostics collected along the way.
// A module with buffered errors is still returned unfinalized: the caller
// decides whether to install it (§7, "the compile call returns failure and
// no partial module is installed").
//
// dependencyHash is computed from the set of modules already loaded into
// env at compile time, not from the individual identifiers this module
// actually references: a coarser, cheaper approximation of §4.6's
// cache-invalidation rule that still recompiles whenever the environment's
// module set changes.
func Compile(env *program.Environment, name, rootPath string, fs source.FileSystem, opts Options) (*program.Module, []program.ErrorMessage) {
	mod := program.NewModule(name)
	var errs []program.ErrorMessage

	loader := source.NewLoader(fs, source.Defines(mod.Defines))
	lines, _, err := loader.Load(rootPath)
	if err != nil {
		errs = append(errs, newError(rootPath, 0, program.KindLoad, "%v", err))
		mod.Errors = errs
		return mod, errs
	}

	items, err := lex(strings.Join(lines, "\n"), 1)
	if err != nil {
		errs = append(errs, newError(rootPath, 0, program.KindParse, "%v", err))
		mod.Errors = errs
		return mod, errs
	}

	decls, err := splitTopLevel(items)
	if err != nil {
		errs = append(errs, newError(rootPath, 0, program.KindParse, "%v", err))
		mod.Errors = errs
		return mod, errs
	}

	d := &driver{env: env, mod: mod, opts: opts, file: rootPath, errs: &errs}

	// Pass 1: register every customtype/global/const/function signature
	// before any function body is resolved, so forward references and
	// mutual recursion work regardless of declaration order.
	for _, decl := range decls {
		switch {
		case isCustomTypeDecl(decl):
			d.declareCustomType(decl)
		case decl[0].kind == itemKeyword && decl[0].kw == token.KwGlobal:
			d.declareGlobal(decl)
		case decl[0].kind == itemKeyword && decl[0].kw == token.KwConst:
			d.declareConst(decl)
		case decl[0].kind == itemKeyword && decl[0].kw == token.KwFunction:
			d.declareFunctionSignature(decl)
		default:
			d.errorf(decl[0].line, "unexpected top-level declaration")
		}
	}

	// Function ids must exist before pass 2 emits any call: buildCall
	// captures the callee's ID by value into a token.FuncRef, and
	// DeclareFunction leaves every fn.ID at its zero value. Assigning here
	// (rather than waiting for the mod.Finalize call below) is what makes
	// an intra-module call to a non-alphabetically-first sibling dispatch
	// to the right function instead of always to function 0.
	mod.AssignFunctionIDs()

	// Pass 2: resolve each function body against the now-complete module.
	for _, fn := range mod.Functions {
		if fn.Kind != program.FuncScript {
			continue
		}
		body := d.bodies[fn]
		pool := token.NewPool()
		p := newParser(pool, env, mod, fn, opts, rootPath, &errs)
		for _, param := range fn.Params {
			if _, err := p.declareLocal(param.Name, param.Type, 0); err != nil {
				d.errorf(0, "function %q: parameter %q: %v", fn.Name, param.Name, err)
			}
		}
		blockRef, err := p.parseBlock(body)
		if err != nil {
			d.errorf(0, "function %q: %v", fn.Name, err)
			continue
		}
		be := newBackend(pool, fn, rootPath, &errs)
		be.EmitFunctionBody(blockRef)
	}

	mod.Errors = errs
	if !mod.OK() {
		return mod, errs
	}

	depHash := uint64(0)
	for _, m := range env.Modules() {
		depHash ^= uint64(strtab.Sum(m.Name))
	}
	mod.Finalize(depHash)
	return mod, errs
}

// driver carries pass-1 state: the module under construction and, for each
// declared script function, the raw item slice of its still-unresolved
// body (consumed in pass 2 above).
type driver struct {
	env    *program.Environment
	mod    *program.Module
	opts   Options
	file   string
	errs   *[]program.ErrorMessage
	bodies map[*program.Function][]item
}

func (d *driver) errorf(line int, format string, args ...interface{}) {
	*d.errs = append(*d.errs, newError(d.file, line, program.KindParse, format, args...))
}

func isCustomTypeDecl(decl []item) bool {
	return len(decl) > 0 && decl[0].kind == itemIdent && decl[0].text == "customtype"
}

func (d *driver) declareCustomType(decl []item) {
	if len(decl) < 2 || decl[1].kind != itemIdent {
		d.errorf(decl[0].line, "malformed customtype declaration")
		return
	}
	if _, err := d.env.Types.DeclareCustom(decl[1].text, d.mod.Name); err != nil {
		d.errorf(decl[0].line, "%v", err)
	}
}

// declareGlobal implements `global TYPE name [= expr] ;`.
func (d *driver) declareGlobal(decl []item) {
	if len(decl) < 3 || decl[1].kind != itemIdent || decl[2].kind != itemIdent {
		d.errorf(decl[0].line, "malformed global declaration")
		return
	}
	ty, ok := d.env.Types.Lookup(decl[1].text)
	if !ok {
		d.errorf(decl[0].line, "unknown type %q", decl[1].text)
		return
	}
	v := &program.Variable{Name: decl[2].text, Type: ty, Kind: token.VarGlobal}
	if len(decl) > 3 {
		if decl[3].kind != itemOperator || decl[3].op != token.OpAssign {
			d.errorf(decl[0].line, "expected '=' in global declaration")
			return
		}
		val, ok := d.evalConstExpr(decl[4:], decl[0].line)
		if ok {
			v.Cell = val
		}
	}
	d.mod.DeclareGlobal(v)
}

// declareConst implements `const TYPE name = expr ;` and
// `const TYPE name[] = { v, v, ... } ;`.
func (d *driver) declareConst(decl []item) {
	if len(decl) < 3 || decl[1].kind != itemIdent || decl[2].kind != itemIdent {
		d.errorf(decl[0].line, "malformed const declaration")
		return
	}
	name := decl[2].text
	rest := decl[3:]
	if len(rest) >= 2 && rest[0].kind == itemLBracket && rest[1].kind == itemRBracket {
		rest = rest[2:]
		if len(rest) == 0 || rest[0].kind != itemOperator || rest[0].op != token.OpAssign {
			d.errorf(decl[0].line, "expected '=' in constant array declaration")
			return
		}
		rest = rest[1:]
		if len(rest) < 2 || rest[0].kind != itemLBrace || rest[len(rest)-1].kind != itemRBrace {
			d.errorf(decl[0].line, "expected '{ ... }' initializer for constant array")
			return
		}
		inner := rest[1 : len(rest)-1]
		var arr []int64
		for _, part := range splitTopLevelCommas(inner) {
			if len(part) == 0 {
				continue
			}
			v, ok := d.evalConstExpr(part, decl[0].line)
			if !ok {
				return
			}
			arr = append(arr, int64(v))
		}
		d.mod.ConstantArrays[name] = arr
		return
	}
	if len(rest) == 0 || rest[0].kind != itemOperator || rest[0].op != token.OpAssign {
		d.errorf(decl[0].line, "expected '=' in const declaration")
		return
	}
	v, ok := d.evalConstExpr(rest[1:], decl[0].line)
	if ok {
		d.mod.Constants[name] = int64(v)
	}
}

func (d *driver) evalConstExpr(items []item, line int) (uint64, bool) {
	if len(items) == 0 {
		d.errorf(line, "empty constant expression")
		return 0, false
	}
	pool := token.NewPool()
	p := newParser(pool, d.env, d.mod, &program.Function{Return: datatype.ConstInt}, d.opts, d.file, d.errs)
	ep := p.newExprParser(items)
	ref, err := ep.parseExpression()
	if err != nil {
		d.errorf(line, "%v", err)
		return 0, false
	}
	tok := pool.Get(ref)
	if tok.Kind != token.KindLiteral {
		d.errorf(line, "constant initializer is not a compile-time constant")
		return 0, false
	}
	return tok.LitValue(), true
}

// declareFunctionSignature implements `function TYPE name(params) { body }`,
// registering the function (with an empty body) and returning its raw body
// items for pass 2, per step 6.b's forward-declared-signature ordering.
func (d *driver) declareFunctionSignature(decl []item) (*program.Function, []item, bool) {
	line := decl[0].line
	if len(decl) < 3 || decl[1].kind != itemIdent || decl[2].kind != itemIdent {
		d.errorf(line, "malformed function declaration")
		return nil, nil, false
	}
	retTy, ok := d.env.Types.Lookup(decl[1].text)
	if !ok {
		d.errorf(line, "unknown return type %q", decl[1].text)
		return nil, nil, false
	}
	name := decl[2].text
	if len(decl) < 4 || decl[3].kind != itemLParen {
		d.errorf(line, "expected '(' after function name")
		return nil, nil, false
	}
	parenEnd, err := skipParenGroup(decl, 3)
	if err != nil {
		d.errorf(line, "%v", err)
		return nil, nil, false
	}
	paramItems := parenGroupContents(decl[3:parenEnd])
	params, ok := d.parseParams(paramItems, line)
	if !ok {
		return nil, nil, false
	}

	if parenEnd >= len(decl) || decl[parenEnd].kind != itemLBrace {
		d.errorf(line, "expected '{' to open function body")
		return nil, nil, false
	}
	bodyEnd, err := skipBraceGroup(decl, parenEnd)
	if err != nil {
		d.errorf(line, "%v", err)
		return nil, nil, false
	}

	fn := &program.Function{
		Name:       name,
		Params:     params,
		Return:     retTy,
		Kind:       program.FuncScript,
		SourceFile: d.file,
	}
	d.mod.DeclareFunction(fn)
	if d.bodies == nil {
		d.bodies = make(map[*program.Function][]item)
	}
	d.bodies[fn] = decl[parenEnd:bodyEnd]
	return fn, decl[parenEnd:bodyEnd], true
}

func (d *driver) parseParams(items []item, line int) ([]program.Param, bool) {
	var params []program.Param
	for _, part := range splitTopLevelCommas(items) {
		if len(part) == 0 {
			continue
		}
		if len(part) < 2 || part[0].kind != itemIdent || part[1].kind != itemIdent {
			d.errorf(line, "malformed parameter list")
			return nil, false
		}
		ty, ok := d.env.Types.Lookup(part[0].text)
		if !ok {
			d.errorf(line, "unknown parameter type %q", part[0].text)
			return nil, false
		}
		params = append(params, program.Param{Name: part[1].text, Type: ty})
	}
	return params, true
}

func splitTopLevelCommas(items []item) [][]item {
	var parts [][]item
	depth := 0
	start := 0
	for i, it := range items {
		switch it.kind {
		case itemLParen, itemLBracket, itemLBrace:
			depth++
		case itemRParen, itemRBracket, itemRBrace:
			depth--
		case itemComma:
			if depth == 0 {
				parts = append(parts, items[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, items[start:])
	return parts
}

// splitTopLevel partitions the whole flattened token stream into one item
// slice per top-level declaration (customtype, global, const or function),
// mirroring splitStatements but at module scope, where declarations are
// delimited by ';' except for function, which is delimited by its closing
// '}'.
func splitTopLevel(items []item) ([][]item, error) {
	var decls [][]item
	i := 0
	for i < len(items) {
		start := i
		if items[i].kind == itemKeyword && items[i].kw == token.KwFunction {
			i++
			nameEnd, err := skipToLParen(items, i)
			if err != nil {
				return nil, err
			}
			parenEnd, err := skipParenGroup(items, nameEnd)
			if err != nil {
				return nil, err
			}
			bodyEnd, err := skipBraceGroup(items, parenEnd)
			if err != nil {
				return nil, err
			}
			decls = append(decls, items[start:bodyEnd])
			i = bodyEnd
			continue
		}
		depth := 0
		for i < len(items) {
			switch items[i].kind {
			case itemLParen, itemLBracket, itemLBrace:
				depth++
			case itemRParen, itemRBracket, itemRBrace:
				depth--
			case itemSemicolon:
				if depth == 0 {
					decls = append(decls, items[start:i])
					i++
					goto next
				}
			}
			i++
		}
		return nil, fmt.Errorf("missing terminating ';' in top-level declaration")
	next:
	}
	return decls, nil
}

func skipToLParen(items []item, i int) (int, error) {
	for i < len(items) {
		if items[i].kind == itemLParen {
			return i, nil
		}
		i++
	}
	return 0, fmt.Errorf("expected '(' in function declaration")
}
