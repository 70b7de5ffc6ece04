// Package source implements the source loader & preprocessor (§4.1): it
// reads a root script file, recursively resolves `include` directives,
// expands `#define`d names, evaluates constant `#if` expressions, and
// builds the line-number translation table that diagnostics and the
// debugger use to map a flattened line number back to (file, local line).
package source

import (
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/vinegar97/sonic3air/strtab"
)

// Loader owns one compilation's worth of source loading state: the set of
// already-included files (by normalized path hash, for double-include
// suppression), the preprocessor-definition map, and the accumulated
// output line vector plus its LineTable.
type Loader struct {
	fs      FileSystem
	seen    map[uint64]bool
	files   []*File
	lines   []string
	table   LineTable
	pp      *preprocessor
	Errors  []error
}

// NewLoader returns a Loader backed by fs, sharing the given Defines map
// with the compiler's globals lookup.
func NewLoader(fs FileSystem, defines Defines) *Loader {
	if fs == nil {
		fs = OS
	}
	if defines == nil {
		defines = Defines{}
	}
	return &Loader{
		fs:   fs,
		seen: make(map[uint64]bool),
		pp:   newPreprocessor(defines),
	}
}

// Load reads rootPath and every file it (recursively) includes, and
// returns the flattened, preprocessed line vector plus the line-number
// translation table covering it. On the first unrecoverable error,
// loading aborts and that error is returned; already-buffered errors are
// also available via Errors.
func (l *Loader) Load(rootPath string) ([]string, *LineTable, error) {
	if err := l.loadFile(rootPath); err != nil {
		l.Errors = append(l.Errors, err)
		return nil, nil, err
	}
	return l.lines, &l.table, nil
}

func normalizedPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean(p)
}

func withExt(p string) string {
	if strings.Contains(path.Base(p), ".") {
		return p
	}
	return p + ".lemon"
}

func (l *Loader) loadFile(rawPath string) error {
	full := withExt(normalizedPath(rawPath))
	hash := uint64(strtab.Sum(full))
	if l.seen[hash] {
		// Intentional, documented deduplication of redundant includes
		// (§7): not an error.
		return nil
	}
	l.seen[hash] = true

	content, err := l.fs.ReadFile(full)
	if err != nil {
		return &LoadError{Path: full, Err: err}
	}

	rawLines := splitLines(string(content))
	f := &File{
		Path:            full,
		Lines:           rawLines,
		PathHash:        hash,
		FirstGlobalLine: len(l.lines) + 1,
	}
	l.files = append(l.files, f)

	l.table.Push(len(l.lines)+1, f, 0)

	cleaned := stripComments(rawLines)
	dir := path.Dir(full)

	for localIdx, line := range cleaned {
		out, keep, err := l.pp.process(full, localIdx+1, line)
		if err != nil {
			return err
		}
		if !keep {
			// the dropped line takes no global line, so later output lines
			// map to the local line after it
			l.table.Push(len(l.lines)+1, f, localIdx+1)
			continue
		}
		trimmed := strings.TrimSpace(out)
		if strings.HasPrefix(trimmed, "include") && (len(trimmed) == len("include") || trimmed[len("include")] == ' ') {
			target := strings.TrimSpace(trimmed[len("include"):])
			if err := l.handleInclude(dir, target); err != nil {
				return err
			}
			// resume mapping to the current file at the line after the
			// include, per §4.1 step 6.
			l.table.Push(len(l.lines)+1, f, localIdx+1)
			continue
		}
		l.lines = append(l.lines, out)
	}

	if l.pp.unterminated() {
		return &PreprocessError{File: full, Line: len(rawLines), Msg: "unterminated #if"}
	}
	return nil
}

func (l *Loader) handleInclude(baseDir, target string) error {
	target = strings.ReplaceAll(target, "\\", "/")
	target = strings.Trim(target, "\"")
	dir, file := path.Split(target)
	if dir != "" {
		baseDir = path.Join(baseDir, dir)
	}

	if file == "?" {
		names, err := l.fs.Glob(baseDir, "*.lemon")
		if err != nil {
			return errors.Wrapf(err, "include ?: listing %s", baseDir)
		}
		// An include ? over an empty directory is a no-op, not an error
		// (§8, boundary behaviour).
		for _, n := range names {
			if err := l.loadFile(path.Join(baseDir, n)); err != nil {
				return err
			}
		}
		return nil
	}

	return l.loadFile(path.Join(baseDir, file))
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

// Files returns every loaded source file record, in load order.
func (l *Loader) Files() []*File { return l.files }
