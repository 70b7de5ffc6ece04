// Package token implements the sum-type token/node model used by the
// compiler frontend. Go has no tagged unions, so Token is a single struct
// tagged by Kind, carrying only the payload fields that Kind uses; children
// are not owned pointers but Ref handles into a per-compile Pool (an
// arena), so that tree rewrites during resolution (§4.2) can swap a slot in
// place without copying subtrees, mirroring the reference-counted handles
// of the source system this replaces (see SPEC_FULL.md §3 and §9).
package token

import "github.com/vinegar97/sonic3air/datatype"

// Kind tags the active variant of a Token.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindLiteral
	KindIdentifier
	KindKeyword
	KindOperator
	KindParenthesis
	KindCommaList
	KindVarType
	KindVariable
	KindFunctionCall
	KindMemoryAccess
	KindUnaryOp
	KindBinaryOp
	KindValueCast
	KindLabel
	KindStatementBlock
	KindYield
	KindTernary
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindIdentifier:
		return "identifier"
	case KindKeyword:
		return "keyword"
	case KindOperator:
		return "operator"
	case KindParenthesis:
		return "parenthesis"
	case KindCommaList:
		return "comma-list"
	case KindVarType:
		return "var-type"
	case KindVariable:
		return "variable"
	case KindFunctionCall:
		return "function-call"
	case KindMemoryAccess:
		return "memory-access"
	case KindUnaryOp:
		return "unary-op"
	case KindBinaryOp:
		return "binary-op"
	case KindValueCast:
		return "value-cast"
	case KindLabel:
		return "label"
	case KindStatementBlock:
		return "statement-block"
	case KindYield:
		return "yield"
	case KindTernary:
		return "ternary"
	default:
		return "invalid"
	}
}

// ParenKind distinguishes round call/grouping parentheses from square
// indexing brackets.
type ParenKind uint8

const (
	ParenRound ParenKind = iota
	ParenSquare
)

// Keyword enumerates reserved words recognized by the lexer.
type Keyword uint8

const (
	KwIf Keyword = iota
	KwElse
	KwWhile
	KwFor
	KwReturn
	KwFunction
	KwBreak
	KwContinue
	KwGlobal
	KwConst
	KwAddressof
	KwBase
)

// Operator enumerates every unary/binary/assignment operator the lexer can
// produce. Precedence and associativity live in the compiler package, next
// to the resolver passes that consume them.
type Operator uint8

const (
	OpNone Operator = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpNot
	OpNeg
	OpInc
	OpDec
	OpAssign
	OpAddAssign
	OpSubAssign
	OpMulAssign
	OpDivAssign
	OpModAssign
	OpAndAssign
	OpOrAssign
	OpXorAssign
	OpShlAssign
	OpShrAssign
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpDot
	OpComma
)

func (o Operator) String() string {
	names := [...]string{
		"none", "+", "-", "*", "/", "%", "&&", "||", "^^", "<<", ">>",
		"&", "|", "^", "~", "!", "neg", "++", "--",
		"=", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<=", ">>=",
		"==", "!=", "<", "<=", ">", ">=", ".", ",",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return "invalid"
}

// VarKind is the storage kind of a resolved variable binding (§3,
// "Variable binding").
type VarKind uint8

const (
	VarGlobal VarKind = iota
	VarLocal
	VarExternal
	VarUserDefined
)

// VarRef identifies a resolved variable binding without the token package
// needing to import the program package that owns the actual storage,
// breaking what would otherwise be an import cycle (program holds
// per-function token trees).
type VarRef struct {
	Kind  VarKind
	Index int    // slot index (local) or global/external/user-defined id
	Name  string
	Type  *datatype.Type
}

// FuncRef identifies a resolved function (script or native) callee. Module
// records the declaring module's name so the runtime can disambiguate a
// call target across modules, since Function.ID is only contiguous within
// the module that declared it.
type FuncRef struct {
	ID       uint64
	Name     string
	Module   string
	IsNative bool
	IsBase   bool
	Return   *datatype.Type
}

// Ref is a handle into a Pool. NilRef, not the zero value, denotes "no
// token".
type Ref int32

// NilRef is the handle for "absent". It is -1, so it never addresses a
// pool node.
const NilRef Ref = -1

// Token is the tagged node. Only the fields relevant to Kind are
// meaningful; the rest are zero.
type Token struct {
	Kind Kind

	// line is the originating global line number, used for diagnostics.
	line int

	dataType *datatype.Type

	// literal
	litValue uint64
	litBits  uint8

	// identifier / keyword / operator raw text
	text string
	kw   Keyword
	op   Operator

	// parenthesis / comma-list
	parenKind ParenKind
	children  []Ref
	cells     [][]Ref

	// var-type / value-cast target
	varType *datatype.Type

	// variable
	varRef VarRef

	// function-call
	callee   FuncRef
	args     []Ref
	isBaseOp bool

	// memory-access
	memAddr Ref
	memElem *datatype.Type

	// unary/binary op
	left, right Ref
	enforced    *FuncRef

	// statement-block (function bodies, if/while bodies)
	stmts []Ref
}

// New wraps the zero-value constructor pattern used throughout the
// resolver: callers build a Token by Kind and then use the Set* helpers.
func New(kind Kind, line int) Token {
	return Token{Kind: kind, line: line}
}

func (t *Token) Line() int                    { return t.line }
func (t *Token) SetLine(l int)                { t.line = l }
func (t *Token) Type() *datatype.Type         { return t.dataType }
func (t *Token) SetType(dt *datatype.Type)    { t.dataType = dt }
func (t *Token) LitValue() uint64             { return t.litValue }
func (t *Token) LitBits() uint8               { return t.litBits }
func (t *Token) SetLiteral(v uint64, bits uint8) {
	t.litValue, t.litBits = v, bits
}
func (t *Token) Text() string          { return t.text }
func (t *Token) SetText(s string)      { t.text = s }
func (t *Token) Keyword() Keyword      { return t.kw }
func (t *Token) SetKeyword(k Keyword)  { t.kw = k }
func (t *Token) Op() Operator          { return t.op }
func (t *Token) SetOp(o Operator)      { t.op = o }
func (t *Token) ParenKind() ParenKind  { return t.parenKind }
func (t *Token) SetParenKind(k ParenKind) { t.parenKind = k }
func (t *Token) Children() []Ref       { return t.children }
func (t *Token) SetChildren(c []Ref)   { t.children = c }
func (t *Token) Cells() [][]Ref        { return t.cells }
func (t *Token) SetCells(c [][]Ref)    { t.cells = c }
func (t *Token) VarType() *datatype.Type    { return t.varType }
func (t *Token) SetVarType(dt *datatype.Type) { t.varType = dt }
func (t *Token) VarRef() VarRef        { return t.varRef }
func (t *Token) SetVarRef(v VarRef)    { t.varRef = v }
func (t *Token) Callee() FuncRef       { return t.callee }
func (t *Token) SetCallee(f FuncRef)   { t.callee = f }
func (t *Token) Args() []Ref           { return t.args }
func (t *Token) SetArgs(a []Ref)       { t.args = a }
func (t *Token) IsBaseOp() bool        { return t.isBaseOp }
func (t *Token) SetIsBaseOp(b bool)    { t.isBaseOp = b }
func (t *Token) MemAddr() Ref          { return t.memAddr }
func (t *Token) SetMemAddr(r Ref)      { t.memAddr = r }
func (t *Token) MemElem() *datatype.Type { return t.memElem }
func (t *Token) SetMemElem(dt *datatype.Type) { t.memElem = dt }
func (t *Token) Left() Ref             { return t.left }
func (t *Token) Right() Ref            { return t.right }
func (t *Token) SetLeft(r Ref)         { t.left = r }
func (t *Token) SetRight(r Ref)        { t.right = r }
func (t *Token) Enforced() *FuncRef    { return t.enforced }
func (t *Token) SetEnforced(f *FuncRef) { t.enforced = f }
func (t *Token) Stmts() []Ref          { return t.stmts }
func (t *Token) SetStmts(s []Ref)      { t.stmts = s }

// Pool is the arena that owns every Token created while compiling a single
// module. Refs are plain slice indices; the absent reference is NilRef (-1),
// not the zero value, so a zeroed Ref field is never mistaken for node 0.
type Pool struct {
	nodes []Token
}

// NewPool returns an empty arena.
func NewPool() *Pool {
	return &Pool{nodes: make([]Token, 0, 256)}
}

// New allocates a new node in the pool and returns its handle.
func (p *Pool) New(t Token) Ref {
	p.nodes = append(p.nodes, t)
	return Ref(len(p.nodes) - 1)
}

// Get returns a mutable pointer to the node addressed by r. It panics on
// NilRef, matching the "trees only, no null traversal" discipline the
// resolver passes rely on.
func (p *Pool) Get(r Ref) *Token {
	return &p.nodes[r]
}

// Replace overwrites the node at r in place, which is how resolution passes
// perform node-kind rewrites (e.g. identifier -> variable) without
// reallocating or touching any other reference to r.
func (p *Pool) Replace(r Ref, t Token) {
	p.nodes[r] = t
}

// Len returns the number of live nodes in the pool.
func (p *Pool) Len() int { return len(p.nodes) }
