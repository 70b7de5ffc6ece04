package compiler

import "github.com/vinegar97/sonic3air/token"

// opInfo carries the precedence and associativity of a binary operator
// (§4.2 step 6.j, "repeatedly find the lowest-priority operator respecting
// associativity"). Lower Precedence binds looser (is applied last), the
// conventional C precedence-climbing convention.
type opInfo struct {
	Precedence int
	RightAssoc bool
}

var binaryOpInfo = map[token.Operator]opInfo{
	token.OpAssign:      {1, true},
	token.OpAddAssign:   {1, true},
	token.OpSubAssign:   {1, true},
	token.OpMulAssign:   {1, true},
	token.OpDivAssign:   {1, true},
	token.OpModAssign:   {1, true},
	token.OpAndAssign:   {1, true},
	token.OpOrAssign:    {1, true},
	token.OpXorAssign:   {1, true},
	token.OpShlAssign:   {1, true},
	token.OpShrAssign:   {1, true},
	token.OpOr:          {2, false},
	token.OpAnd:         {3, false},
	token.OpBitOr:       {4, false},
	token.OpBitXor:      {5, false},
	token.OpBitAnd:      {6, false},
	token.OpEq:          {7, false},
	token.OpNe:          {7, false},
	token.OpLt:          {8, false},
	token.OpLe:          {8, false},
	token.OpGt:          {8, false},
	token.OpGe:          {8, false},
	token.OpShl:         {9, false},
	token.OpShr:         {9, false},
	token.OpAdd:         {10, false},
	token.OpSub:         {10, false},
	token.OpMul:         {11, false},
	token.OpDiv:         {11, false},
	token.OpMod:         {11, false},
}

func isAssignOp(op token.Operator) bool {
	switch op {
	case token.OpAssign, token.OpAddAssign, token.OpSubAssign, token.OpMulAssign,
		token.OpDivAssign, token.OpModAssign, token.OpAndAssign, token.OpOrAssign,
		token.OpXorAssign, token.OpShlAssign, token.OpShrAssign:
		return true
	}
	return false
}

// compoundArith maps a compound-assignment operator to the arithmetic
// operator it desugars to for `x op= y` -> `x = x op y` (§4.2 step 7,
// "compound assignments against strings").
var compoundArith = map[token.Operator]token.Operator{
	token.OpAddAssign: token.OpAdd,
	token.OpSubAssign: token.OpSub,
	token.OpMulAssign: token.OpMul,
	token.OpDivAssign: token.OpDiv,
	token.OpModAssign: token.OpMod,
	token.OpAndAssign: token.OpBitAnd,
	token.OpOrAssign:  token.OpBitOr,
	token.OpXorAssign: token.OpBitXor,
	token.OpShlAssign: token.OpShl,
	token.OpShrAssign: token.OpShr,
}

// unaryPrefixOps are the prefix unary operators recognized by step 6.i,
// applied right-to-left.
var unaryPrefixOps = map[token.Operator]bool{
	token.OpSub: true, token.OpNot: true, token.OpBitNot: true,
	token.OpInc: true, token.OpDec: true,
}
