package compiler

import (
	"fmt"

	"github.com/vinegar97/sonic3air/datatype"
	"github.com/vinegar97/sonic3air/token"
)

func boolType() *datatype.Type { return datatype.Bool }

// Control-flow statements reuse token.KindKeyword rather than adding
// dedicated Kinds for if/while/for/return/break/continue, since the token
// package's payload fields are generic enough to carry them: kw names the
// statement, Left() holds the condition (if/while) or the return value
// (return, NilRef for a bare return), and Children() holds
// [thenBlock, elseBlock] for if, [body] for while, or
// [init, post, body] for for (elseBlock/init/post may be NilRef).

// splitStatements partitions a brace-delimited block's items (braces
// already stripped) into individual statement item slices: a control-flow
// statement runs up to and including its brace-delimited body (and,for
// `if`, an optional `else` body); any other statement runs to its
// top-level terminating semicolon.
func splitStatements(items []item) ([][]item, error) {
	var stmts [][]item
	i := 0
	for i < len(items) {
		it := items[i]
		if it.kind == itemKeyword && (it.kw == token.KwIf || it.kw == token.KwWhile || it.kw == token.KwFor) {
			start := i
			i++ // keyword
			i, err := skipParenGroup(items, i)
			if err != nil {
				return nil, err
			}
			bodyEnd, err := skipBraceGroup(items, i)
			if err != nil {
				return nil, err
			}
			i = bodyEnd
			if it.kw == token.KwIf {
				if j, ok := peekKeyword(items, i, token.KwElse); ok {
					i = j
					if k, ok2 := peekLBrace(items, i); ok2 {
						elseEnd, err := skipBraceGroup(items, k)
						if err != nil {
							return nil, err
						}
						i = elseEnd
					}
				}
			}
			stmts = append(stmts, items[start:i])
			continue
		}
		// plain statement up to the matching top-level semicolon
		depth := 0
		start := i
		for i < len(items) {
			switch items[i].kind {
			case itemLParen, itemLBracket:
				depth++
			case itemRParen, itemRBracket:
				depth--
			case itemSemicolon:
				if depth == 0 {
					stmts = append(stmts, items[start:i])
					i++
					goto nextStmt
				}
			}
			i++
		}
		return nil, fmt.Errorf("missing terminating ';'")
	nextStmt:
	}
	return stmts, nil
}

func skipParenGroup(items []item, i int) (int, error) {
	if i >= len(items) || items[i].kind != itemLParen {
		return 0, fmt.Errorf("expected '('")
	}
	depth := 0
	for ; i < len(items); i++ {
		switch items[i].kind {
		case itemLParen:
			depth++
		case itemRParen:
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("unmatched '('")
}

func skipBraceGroup(items []item, i int) (int, error) {
	if i >= len(items) || items[i].kind != itemLBrace {
		return 0, fmt.Errorf("expected '{'")
	}
	depth := 0
	for ; i < len(items); i++ {
		switch items[i].kind {
		case itemLBrace:
			depth++
		case itemRBrace:
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("unmatched '{'")
}

func peekKeyword(items []item, i int, kw token.Keyword) (int, bool) {
	if i < len(items) && items[i].kind == itemKeyword && items[i].kw == kw {
		return i + 1, true
	}
	return i, false
}

func peekLBrace(items []item, i int) (int, bool) {
	if i < len(items) && items[i].kind == itemLBrace {
		return i, true
	}
	return i, false
}

func parenGroupContents(items []item) []item {
	// items[0] == '(' ... items[len-1] == ')'
	return items[1 : len(items)-1]
}

func braceGroupContents(items []item) []item {
	return items[1 : len(items)-1]
}

// parseBlock builds a KindStatementBlock token from a brace-delimited
// item slice, recursing into control-flow statements.
func (p *parser) parseBlock(braceItems []item) (token.Ref, error) {
	inner := braceGroupContents(braceItems)
	stmts, err := splitStatements(inner)
	if err != nil {
		return token.NilRef, err
	}
	var refs []token.Ref
	for _, s := range stmts {
		ref, err := p.parseStatement(s)
		if err != nil {
			return token.NilRef, err
		}
		if ref != token.NilRef {
			refs = append(refs, ref)
		}
	}
	t := token.New(token.KindStatementBlock, 0)
	t.SetStmts(refs)
	return p.new(t), nil
}

// parseStatement dispatches a single statement's items (without its
// terminating ';', with any brace groups still attached for control flow).
func (p *parser) parseStatement(items []item) (token.Ref, error) {
	if len(items) == 0 {
		return token.NilRef, nil
	}
	line := items[0].line

	if items[0].kind == itemKeyword {
		switch items[0].kw {
		case token.KwIf:
			return p.parseIf(items)
		case token.KwWhile:
			return p.parseWhile(items)
		case token.KwFor:
			return p.parseFor(items)
		case token.KwReturn:
			return p.parseReturn(items, line)
		case token.KwBreak:
			t := token.New(token.KindKeyword, line)
			t.SetKeyword(token.KwBreak)
			return p.new(t), nil
		case token.KwContinue:
			t := token.New(token.KindKeyword, line)
			t.SetKeyword(token.KwContinue)
			return p.new(t), nil
		case token.KwGlobal, token.KwConst:
			// module-level declarations are collected by the driver before
			// function bodies are parsed; encountering one inside a body is
			// simply skipped.
			return token.NilRef, nil
		}
	}

	if ty, isType := p.lookupTypeName(items[0].text); isType && items[0].kind == itemIdent && len(items) > 1 && items[1].kind == itemIdent {
		return p.parseLocalDecl(ty, items, line)
	}

	ep := p.newExprParser(items)
	ref, err := ep.parseExpression()
	if err != nil {
		return token.NilRef, err
	}
	if !ep.atEnd() {
		return token.NilRef, fmt.Errorf("line %d: unexpected trailing tokens in statement", line)
	}
	return ref, nil
}

// parseLocalDecl implements step 6.c: a var-type token followed by an
// identifier declares a local, optionally initialized.
func (p *parser) parseLocalDecl(ty *datatype.Type, items []item, line int) (token.Ref, error) {
	name := items[1].text
	if _, err := p.declareLocal(name, ty, line); err != nil {
		return token.NilRef, fmt.Errorf("line %d: %v", line, err)
	}
	if len(items) == 2 {
		return token.NilRef, nil
	}
	if items[2].kind != itemOperator || items[2].op != token.OpAssign {
		return token.NilRef, fmt.Errorf("line %d: expected '=' in local declaration", line)
	}
	varRef, _, _ := p.resolveVariable(name)
	ep := p.newExprParser(items[3:])
	value, err := ep.parseExpression()
	if err != nil {
		return token.NilRef, err
	}
	synthetic := item{kind: itemOperator, op: token.OpAssign, line: line}
	return p.buildAssignment(varRef, synthetic, value)
}

func (p *parser) parseIf(items []item) (token.Ref, error) {
	line := items[0].line
	i := 1
	end, err := skipParenGroup(items, i)
	if err != nil {
		return token.NilRef, err
	}
	cond, err := p.parseCondition(items[i:end])
	if err != nil {
		return token.NilRef, err
	}
	bodyEnd, err := skipBraceGroup(items, end)
	if err != nil {
		return token.NilRef, err
	}
	thenBlock, err := p.parseBlock(items[end:bodyEnd])
	if err != nil {
		return token.NilRef, err
	}
	elseBlock := token.NilRef
	if j, ok := peekKeyword(items, bodyEnd, token.KwElse); ok {
		if k, ok2 := peekLBrace(items, j); ok2 {
			elseEnd, err := skipBraceGroup(items, k)
			if err != nil {
				return token.NilRef, err
			}
			elseBlock, err = p.parseBlock(items[k:elseEnd])
			if err != nil {
				return token.NilRef, err
			}
		}
	}
	t := token.New(token.KindKeyword, line)
	t.SetKeyword(token.KwIf)
	t.SetLeft(cond)
	t.SetChildren([]token.Ref{thenBlock, elseBlock})
	return p.new(t), nil
}

func (p *parser) parseWhile(items []item) (token.Ref, error) {
	line := items[0].line
	i := 1
	end, err := skipParenGroup(items, i)
	if err != nil {
		return token.NilRef, err
	}
	cond, err := p.parseCondition(items[i:end])
	if err != nil {
		return token.NilRef, err
	}
	bodyEnd, err := skipBraceGroup(items, end)
	if err != nil {
		return token.NilRef, err
	}
	body, err := p.parseBlock(items[end:bodyEnd])
	if err != nil {
		return token.NilRef, err
	}
	t := token.New(token.KindKeyword, line)
	t.SetKeyword(token.KwWhile)
	t.SetLeft(cond)
	t.SetChildren([]token.Ref{body})
	return p.new(t), nil
}

func (p *parser) parseFor(items []item) (token.Ref, error) {
	line := items[0].line
	i := 1
	end, err := skipParenGroup(items, i)
	if err != nil {
		return token.NilRef, err
	}
	header := parenGroupContents(items[i:end])
	parts := splitTopLevelSemicolons(header)
	if len(parts) != 3 {
		return token.NilRef, fmt.Errorf("line %d: for-loop header must have three ';'-separated parts", line)
	}
	initRef, err := p.parseStatement(parts[0])
	if err != nil {
		return token.NilRef, err
	}
	condRef := token.NilRef
	if len(parts[1]) > 0 {
		condRef, err = p.parseCondition(parts[1])
		if err != nil {
			return token.NilRef, err
		}
	}
	postRef, err := p.parseStatement(parts[2])
	if err != nil {
		return token.NilRef, err
	}
	bodyEnd, err := skipBraceGroup(items, end)
	if err != nil {
		return token.NilRef, err
	}
	body, err := p.parseBlock(items[end:bodyEnd])
	if err != nil {
		return token.NilRef, err
	}
	t := token.New(token.KindKeyword, line)
	t.SetKeyword(token.KwFor)
	t.SetLeft(condRef)
	t.SetChildren([]token.Ref{initRef, postRef, body})
	return p.new(t), nil
}

func splitTopLevelSemicolons(items []item) [][]item {
	var parts [][]item
	depth := 0
	start := 0
	for i, it := range items {
		switch it.kind {
		case itemLParen, itemLBracket:
			depth++
		case itemRParen, itemRBracket:
			depth--
		case itemSemicolon:
			if depth == 0 {
				parts = append(parts, items[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, items[start:])
	return parts
}

func (p *parser) parseCondition(items []item) (token.Ref, error) {
	ep := p.newExprParser(items)
	ref, err := ep.parseExpression()
	if err != nil {
		return token.NilRef, err
	}
	return p.coerce(ref, boolType(), items[0].line)
}

func (p *parser) parseReturn(items []item, line int) (token.Ref, error) {
	t := token.New(token.KindKeyword, line)
	t.SetKeyword(token.KwReturn)
	if len(items) > 1 {
		ep := p.newExprParser(items[1:])
		value, err := ep.parseExpression()
		if err != nil {
			return token.NilRef, err
		}
		value, err = p.coerce(value, p.fn.Return, line)
		if err != nil {
			return token.NilRef, err
		}
		t.SetLeft(value)
	} else {
		t.SetLeft(token.NilRef)
	}
	return p.new(t), nil
}
