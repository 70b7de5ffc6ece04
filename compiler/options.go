// Package compiler implements the frontend (lexer, preprocessor-consuming
// parser, identifier/expression resolver), the type-casting policy, and the
// backend opcode emitter (§4.2-§4.4).
package compiler

// FeatureLevel selects the compatibility profile that primarily controls
// which implicit conversions are legal (glossary, "Feature level").
type FeatureLevel int

const (
	// FeatureLevel1 permits string<->u64 conversion in both directions.
	FeatureLevel1 FeatureLevel = 1
	// FeatureLevel2 and above permit only the string->u64 direction.
	FeatureLevel2 FeatureLevel = 2
)

// OptimizationLevel is carried on Options for the host to set. The
// compiler does not read it (nor OutputCombinedSource or
// OutputTranslatedSource): every level emits the same code.
type OptimizationLevel int

const (
	OptimizeNone OptimizationLevel = iota
	OptimizeDefault
)

// Options configures a single compile (§6, "CLI/Environment").
type Options struct {
	ScriptFeatureLevel    FeatureLevel
	OptimizationLevel     OptimizationLevel
	OutputCombinedSource  bool
	OutputTranslatedSource bool
}

// DefaultOptions returns the options a bare CLI invocation uses.
func DefaultOptions() Options {
	return Options{ScriptFeatureLevel: FeatureLevel2, OptimizationLevel: OptimizeDefault}
}
