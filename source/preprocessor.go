package source

import (
	"fmt"
	"strconv"
	"strings"
)

// Defines is the preprocessor-definition map, owned by the globals lookup
// per §4.1 step 5 ("storing into a preprocessor-definition map owned by the
// globals lookup"). It is passed into the Loader so the compiler's globals
// lookup and the preprocessor share one map.
type Defines map[string]string

// ifState tracks nested #if/#else blocks while scanning a single file.
type ifState struct {
	// active reports whether lines under this level should currently be
	// emitted (true only if this level's own condition holds and every
	// enclosing level is also active).
	active bool
	// taken reports whether the currently active branch (if or else) of
	// this level has ever been true, to support #else correctly.
	taken bool
	// parentActive records whether the enclosing scope was active when
	// this level was pushed.
	parentActive bool
}

type preprocessor struct {
	defines Defines
	stack   []ifState
}

func newPreprocessor(d Defines) *preprocessor {
	return &preprocessor{defines: d}
}

// active reports whether output should currently be emitted, considering
// every nesting level of #if pushed so far.
func (p *preprocessor) active() bool {
	for _, s := range p.stack {
		if !s.active {
			return false
		}
	}
	return true
}

// process runs one raw, comment-stripped line through the preprocessor. It
// returns the (possibly define-expanded) line to append to the output, and
// whether a line should be appended at all (directives themselves never
// are).
func (p *preprocessor) process(fileName string, localLine int, line string) (string, bool, error) {
	trimmed := strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(trimmed, "#define"):
		if !p.active() {
			return "", false, nil
		}
		rest := strings.TrimSpace(trimmed[len("#define"):])
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) == 0 || parts[0] == "" {
			return "", false, &PreprocessError{File: fileName, Line: localLine, Msg: "malformed #define"}
		}
		name := parts[0]
		value := ""
		if len(parts) == 2 {
			value = strings.TrimSpace(parts[1])
		}
		p.defines[name] = value
		return "", false, nil

	case strings.HasPrefix(trimmed, "#if"):
		cond := strings.TrimSpace(trimmed[len("#if"):])
		val, err := p.evalCondition(cond)
		if err != nil {
			return "", false, &PreprocessError{File: fileName, Line: localLine, Msg: err.Error()}
		}
		p.stack = append(p.stack, ifState{active: val, taken: val, parentActive: p.active()})
		return "", false, nil

	case strings.HasPrefix(trimmed, "#else"):
		if len(p.stack) == 0 {
			return "", false, &PreprocessError{File: fileName, Line: localLine, Msg: "#else without matching #if"}
		}
		top := &p.stack[len(p.stack)-1]
		top.active = top.parentActive && !top.taken
		top.taken = top.taken || top.active
		return "", false, nil

	case strings.HasPrefix(trimmed, "#endif"):
		if len(p.stack) == 0 {
			return "", false, &PreprocessError{File: fileName, Line: localLine, Msg: "#endif without matching #if"}
		}
		p.stack = p.stack[:len(p.stack)-1]
		return "", false, nil
	}

	if !p.active() {
		return "", false, nil
	}

	return p.expand(line), true, nil
}

// unterminated reports whether the file ended with open #if blocks.
func (p *preprocessor) unterminated() bool {
	return len(p.stack) > 0
}

// evalCondition evaluates a constant #if expression: either a defined
// identifier's truthiness (non-zero, or defined with no value), a
// "defined(NAME)" wrapper, or explicit "0"/"1". A bare identifier that is
// not defined is an error.
func (p *preprocessor) evalCondition(cond string) (bool, error) {
	cond = strings.TrimSpace(cond)
	neg := false
	if strings.HasPrefix(cond, "!") {
		neg = true
		cond = strings.TrimSpace(cond[1:])
	}
	var result bool
	switch {
	case strings.HasPrefix(cond, "defined(") && strings.HasSuffix(cond, ")"):
		name := strings.TrimSpace(cond[len("defined(") : len(cond)-1])
		_, ok := p.defines[name]
		result = ok
	case cond == "0":
		result = false
	case cond == "1":
		result = true
	default:
		v, ok := p.defines[cond]
		if !ok {
			return false, fmt.Errorf("undefined identifier %q in #if", cond)
		} else if v == "" {
			result = true
		} else if n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64); err == nil {
			result = n != 0
		} else {
			result = true
		}
	}
	if neg {
		result = !result
	}
	return result, nil
}

// expand replaces every whole-word occurrence of a defined name with its
// value, non-recursively (one pass), matching the "expands macro-like
// names on non-suppressed lines" behavior of §4.1.
func (p *preprocessor) expand(line string) string {
	if len(p.defines) == 0 {
		return line
	}
	var b strings.Builder
	i := 0
	for i < len(line) {
		c := line[i]
		if isIdentStart(c) {
			j := i + 1
			for j < len(line) && isIdentPart(line[j]) {
				j++
			}
			word := line[i:j]
			if val, ok := p.defines[word]; ok {
				b.WriteString(val)
			} else {
				b.WriteString(word)
			}
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '.'
}

// stripComments removes // line comments and /* ... */ block comments from
// a slice of raw lines, tracking block-comment state across line
// boundaries.
func stripComments(lines []string) []string {
	out := make([]string, len(lines))
	inBlock := false
	for i, line := range lines {
		var b strings.Builder
		j := 0
		for j < len(line) {
			if inBlock {
				if j+1 < len(line) && line[j] == '*' && line[j+1] == '/' {
					inBlock = false
					j += 2
					continue
				}
				j++
				continue
			}
			if j+1 < len(line) && line[j] == '/' && line[j+1] == '/' {
				break
			}
			if j+1 < len(line) && line[j] == '/' && line[j+1] == '*' {
				inBlock = true
				j += 2
				continue
			}
			b.WriteByte(line[j])
			j++
		}
		out[i] = b.String()
	}
	return out
}
