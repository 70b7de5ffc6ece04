package compiler

import (
	"sort"

	"github.com/vinegar97/sonic3air/datatype"
)

// CannotCast is the sentinel implicit-cast priority meaning no legal
// conversion exists (§4.3, "Implicit cast priority").
const CannotCast uint8 = 0xff

// ImplicitCastPriority computes the u8 priority of casting a value of type
// from to type to, under the given feature level (§4.3). Lower is cheaper;
// 0 means the types are identical. This never invents a mixed-signedness
// fast path: the grounding source's own "oversimplified" multiply/shift
// signature tables are reproduced as-is (§9, Open Question 1), so the
// asymmetry this priority function encodes is deliberate, not a shortcut.
func ImplicitCastPriority(from, to *datatype.Type, level FeatureLevel) uint8 {
	if from == to || (from != nil && to != nil && from.Name == to.Name) {
		return 0
	}
	if from == nil || to == nil {
		return CannotCast
	}

	// constant-semantics integers cast freely onto any integer, and any
	// integer literal onto a constant-semantics slot.
	if from.Semantics == datatype.SemConstant && to.IsIntegerClass() {
		return 1
	}
	if to.Semantics == datatype.SemConstant && from.IsIntegerClass() {
		return 1
	}

	if isStringU64Bridge(from, to, level) {
		return 1
	}

	if from.IsIntegerClass() && to.IsIntegerClass() {
		return integerCastPriority(from, to)
	}

	if (from.IsIntegerClass() && to.IsFloatClass()) || (from.IsFloatClass() && to.IsIntegerClass()) {
		return 3
	}
	if from.IsFloatClass() && to.IsFloatClass() {
		if to.Bits > from.Bits {
			return 1
		}
		return 2
	}

	return CannotCast
}

func isStringU64Bridge(from, to *datatype.Type, level FeatureLevel) bool {
	isU64 := func(t *datatype.Type) bool { return t.IsIntegerClass() && t.Bits == 64 && !t.Signed }
	switch {
	case level == FeatureLevel1:
		return (from.Class == datatype.ClassString && isU64(to)) || (isU64(from) && to.Class == datatype.ClassString)
	default:
		return from.Class == datatype.ClassString && isU64(to)
	}
}

// integerCastPriority encodes (up-cast vs down-cast) x (sign change vs not)
// with the bit-width difference added, so a smaller same-sign widening
// always beats a larger sign-changing narrowing (§4.3).
func integerCastPriority(from, to *datatype.Type) uint8 {
	down := to.Bits < from.Bits
	signChange := from.Signed != to.Signed

	base := uint8(0x02)
	if down {
		base = 0x40
	}
	if signChange {
		base += 0x20
	}

	diff := int(from.Bits) - int(to.Bits)
	if diff < 0 {
		diff = -diff
	}
	priority := int(base) + diff
	if priority >= int(CannotCast) {
		priority = int(CannotCast) - 1
	}
	return uint8(priority)
}

// BaseCastType is the enumerated cast identifier produced for integer<->
// integer and integer<->float casts, encoding (source bits, target bits,
// signed-up?) as described in §4.3, "Base-cast-type". It is the value
// stored in an OpCast opcode's Parameter.
type BaseCastType uint32

// EncodeBaseCastType packs a cast's shape into a BaseCastType.
func EncodeBaseCastType(fromBits, toBits uint8, signExtend bool) BaseCastType {
	v := uint32(fromBits)<<16 | uint32(toBits)<<8
	if signExtend {
		v |= 1
	}
	return BaseCastType(v)
}

// DecodeBaseCastType unpacks what EncodeBaseCastType produced.
func DecodeBaseCastType(v BaseCastType) (fromBits, toBits uint8, signExtend bool) {
	u := uint32(v)
	return uint8(u >> 16), uint8(u >> 8), u&1 != 0
}

// BaseCastTypeFor computes the cast identifier for a from->to conversion.
// Sign extension only ever applies on a signed up-cast (§8, boundary
// behaviour: "sign-extension applies only on signed up-casts").
func BaseCastTypeFor(from, to *datatype.Type) BaseCastType {
	signExtend := from.Signed && to.Signed && to.Bits > from.Bits
	return EncodeBaseCastType(from.Bits, to.Bits, signExtend)
}

// Signature is one entry of a binary-operator signature table: the operand
// types it accepts and the result type it produces (§4.3, "Best binary-
// operator signature").
type Signature struct {
	Left, Right, Result *datatype.Type
}

// priorityPair is (max, min) of the two operand cast priorities, compared
// lexicographically as the spec requires.
type priorityPair struct {
	max, min uint8
}

func (p priorityPair) less(o priorityPair) bool {
	if p.max != o.max {
		return p.max < o.max
	}
	return p.min < o.min
}

// BestBinarySignature picks the signature in table whose (maxPriority,
// minPriority) pair is lexicographically smallest for casting (leftType,
// rightType) onto each candidate. ok is false if no signature admits a
// legal cast on both sides.
func BestBinarySignature(table []Signature, left, right *datatype.Type, level FeatureLevel) (Signature, bool) {
	var best Signature
	var bestPair priorityPair
	found := false
	for _, sig := range table {
		pl := ImplicitCastPriority(left, sig.Left, level)
		pr := ImplicitCastPriority(right, sig.Right, level)
		if pl == CannotCast || pr == CannotCast {
			continue
		}
		pair := priorityPair{max: maxU8(pl, pr), min: minU8(pl, pr)}
		if !found || pair.less(bestPair) {
			best, bestPair, found = sig, pair, true
		}
	}
	return best, found
}

// BestAssignmentSignature is BestBinarySignature specialized for the
// assignment table: it requires an exact type match on the left operand,
// and if nothing in table fits but left and right are identical types, a
// direct signature is fabricated on the fly (§4.3).
func BestAssignmentSignature(table []Signature, left, right *datatype.Type, level FeatureLevel) (Signature, bool) {
	var best Signature
	var bestPair priorityPair
	found := false
	for _, sig := range table {
		if sig.Left != left {
			continue
		}
		pr := ImplicitCastPriority(right, sig.Right, level)
		if pr == CannotCast {
			continue
		}
		pair := priorityPair{max: pr, min: pr}
		if !found || pair.less(bestPair) {
			best, bestPair, found = sig, pair, true
		}
	}
	if found {
		return best, true
	}
	if left == right {
		return Signature{Left: left, Right: right, Result: left}, true
	}
	return Signature{}, false
}

// OverloadCandidate is one function overload considered by
// BestOverloadScore.
type OverloadCandidate struct {
	ArgTypes []*datatype.Type
	Token    int // caller-assigned identity, returned unchanged in the winner
}

// BestOverloadScore implements §4.3's "Function overload selection": for
// each candidate whose arity matches len(argTypes), compute per-argument
// cast priority, sort descending, and pack the top four into a 32 bit score
// (higher bytes = worse). The smallest score wins; ok is false if every
// candidate contains an argument with CannotCast priority.
func BestOverloadScore(candidates []OverloadCandidate, argTypes []*datatype.Type, level FeatureLevel) (int, bool) {
	bestIdx := -1
	var bestScore uint32
	for i, c := range candidates {
		if len(c.ArgTypes) != len(argTypes) {
			continue
		}
		prios := make([]uint8, len(argTypes))
		ok := true
		for j, at := range argTypes {
			p := ImplicitCastPriority(at, c.ArgTypes[j], level)
			if p == CannotCast {
				ok = false
				break
			}
			prios[j] = p
		}
		if !ok {
			continue
		}
		sort.Sort(sort.Reverse(sortableU8(prios)))
		var score uint32
		for k := 0; k < 4; k++ {
			var b uint8
			if k < len(prios) {
				b = prios[k]
			}
			score |= uint32(b) << uint((3-k)*8)
		}
		if bestIdx == -1 || score < bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestIdx == -1 {
		return -1, false
	}
	return bestIdx, true
}

type sortableU8 []uint8

func (s sortableU8) Len() int           { return len(s) }
func (s sortableU8) Less(i, j int) bool { return s[i] < s[j] }
func (s sortableU8) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

func maxU8(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}

func minU8(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

// symmetricSignatures, comparisonSignatures, trinarySignatures and
// assignmentSignatures are the four static tables of §4.3. Symmetric
// arithmetic, comparison and trinary are generated from the predefined
// integer types; assignment has the same integer pairs plus same-type bool,
// float, double and string pairs. Comparison always
// produces bool; trinary's condition operand is separate from this table
// (it is always bool, checked by the caller) and this table covers the
// two value operands.
var (
	symmetricSignatures  = buildSymmetricSignatures()
	comparisonSignatures = buildComparisonSignatures()
	trinarySignatures    = buildSymmetricSignatures()
	assignmentSignatures = buildAssignmentSignatures()
)

func integerTypes() []*datatype.Type {
	return []*datatype.Type{
		datatype.Int8, datatype.UInt8, datatype.Int16, datatype.UInt16,
		datatype.Int32, datatype.UInt32, datatype.Int64, datatype.UInt64,
	}
}

func buildSymmetricSignatures() []Signature {
	var out []Signature
	for _, t := range integerTypes() {
		out = append(out, Signature{Left: t, Right: t, Result: t})
	}
	return out
}

func buildComparisonSignatures() []Signature {
	var out []Signature
	for _, t := range integerTypes() {
		out = append(out, Signature{Left: t, Right: t, Result: datatype.Bool})
	}
	return out
}

func buildAssignmentSignatures() []Signature {
	var out []Signature
	for _, t := range integerTypes() {
		out = append(out, Signature{Left: t, Right: t, Result: t})
	}
	out = append(out, Signature{Left: datatype.Bool, Right: datatype.Bool, Result: datatype.Bool})
	out = append(out, Signature{Left: datatype.Float32, Right: datatype.Float32, Result: datatype.Float32})
	out = append(out, Signature{Left: datatype.Float64, Right: datatype.Float64, Result: datatype.Float64})
	out = append(out, Signature{Left: datatype.String, Right: datatype.String, Result: datatype.String})
	return out
}
