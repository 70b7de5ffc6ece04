package compiler

import (
	"testing"

	"github.com/vinegar97/sonic3air/datatype"
)

func TestImplicitCastPriorityIdentityIff(t *testing.T) {
	types := []*datatype.Type{
		datatype.Int8, datatype.UInt8, datatype.Int16, datatype.UInt16,
		datatype.Int32, datatype.UInt32, datatype.Int64, datatype.UInt64,
		datatype.Bool, datatype.String, datatype.Any, datatype.Float32, datatype.Float64,
	}
	for _, a := range types {
		for _, b := range types {
			got := ImplicitCastPriority(a, b, FeatureLevel2)
			want := a == b
			if (got == 0) != want {
				t.Errorf("ImplicitCastPriority(%s, %s) = %d, identical=%v", a, b, got, want)
			}
		}
	}
}

func TestImplicitCastPriorityWideningBeatsNarrowing(t *testing.T) {
	wide := ImplicitCastPriority(datatype.UInt8, datatype.UInt16, FeatureLevel2)
	narrowSignChange := ImplicitCastPriority(datatype.Int32, datatype.UInt8, FeatureLevel2)
	if wide >= narrowSignChange {
		t.Fatalf("same-sign widening (%d) should beat sign-changing narrowing (%d)", wide, narrowSignChange)
	}
}

func TestStringU64BridgeFeatureLevels(t *testing.T) {
	if p := ImplicitCastPriority(datatype.UInt64, datatype.String, FeatureLevel1); p == CannotCast {
		t.Fatalf("u64->string should be legal at feature level 1")
	}
	if p := ImplicitCastPriority(datatype.UInt64, datatype.String, FeatureLevel2); p != CannotCast {
		t.Fatalf("u64->string should be illegal at feature level 2, got priority %d", p)
	}
	if p := ImplicitCastPriority(datatype.String, datatype.UInt64, FeatureLevel2); p == CannotCast {
		t.Fatalf("string->u64 should remain legal at feature level 2")
	}
}

func TestBestBinarySignatureDeterministic(t *testing.T) {
	sig1, ok1 := BestBinarySignature(symmetricSignatures, datatype.Int32, datatype.UInt8, FeatureLevel2)
	sig2, ok2 := BestBinarySignature(symmetricSignatures, datatype.Int32, datatype.UInt8, FeatureLevel2)
	if !ok1 || !ok2 || sig1 != sig2 {
		t.Fatalf("overload resolution not deterministic: %v/%v vs %v/%v", sig1, ok1, sig2, ok2)
	}
}

func TestBestAssignmentSignatureFabricatesDirect(t *testing.T) {
	ct := &datatype.Type{Name: "Vec2", Class: datatype.ClassCustom}
	sig, ok := BestAssignmentSignature(assignmentSignatures, ct, ct, FeatureLevel2)
	if !ok || sig.Result != ct {
		t.Fatalf("fabricated direct signature missing for identical unknown types: %v, %v", sig, ok)
	}
}

func TestBestOverloadScoreSmallestWins(t *testing.T) {
	candidates := []OverloadCandidate{
		{ArgTypes: []*datatype.Type{datatype.Int64}, Token: 0}, // same-sign widening, nonzero priority
		{ArgTypes: []*datatype.Type{datatype.Int32}, Token: 1}, // exact match
	}
	idx, ok := BestOverloadScore(candidates, []*datatype.Type{datatype.Int32}, FeatureLevel2)
	if !ok {
		t.Fatal("expected a match")
	}
	if candidates[idx].Token != 1 {
		t.Fatalf("winner = candidate %d, want the exact-match candidate", candidates[idx].Token)
	}
}

func TestBestOverloadScoreNoMatch(t *testing.T) {
	candidates := []OverloadCandidate{{ArgTypes: []*datatype.Type{datatype.String}}}
	if _, ok := BestOverloadScore(candidates, []*datatype.Type{datatype.Int32}, FeatureLevel2); ok {
		t.Fatal("expected no match for an arity-1 candidate needing a string given an int")
	}
}

func TestBaseCastTypeSignExtendOnlyOnSignedUpcast(t *testing.T) {
	up := BaseCastTypeFor(datatype.Int8, datatype.Int32)
	_, _, signExtend := DecodeBaseCastType(up)
	if !signExtend {
		t.Fatal("signed up-cast should sign-extend")
	}
	upUnsigned := BaseCastTypeFor(datatype.UInt8, datatype.UInt32)
	_, _, signExtend2 := DecodeBaseCastType(upUnsigned)
	if signExtend2 {
		t.Fatal("unsigned up-cast should not sign-extend")
	}
	down := BaseCastTypeFor(datatype.Int32, datatype.Int8)
	_, _, signExtend3 := DecodeBaseCastType(down)
	if signExtend3 {
		t.Fatal("down-cast should never sign-extend")
	}
}
