package source

// File is a loaded source file record (§3, "Source file record"): its
// path, its content split into zero-copy line views, and the hash of its
// normalized path used for double-include suppression.
type File struct {
	Path       string
	Lines      []string
	PathHash   uint64
	FirstGlobalLine int
}

// LineEntry maps a global (flattened) line index to the file and local
// line it originated from.
type LineEntry struct {
	GlobalLine int
	File       *File
	LocalLine  int
}

// LineTable is an append-only, globally-sorted list of LineEntry records
// (§3, "Line-number translation table"). It covers [1, N] without gaps: the
// loader pushes one entry every time output resumes from a new
// file/position (on file entry, on return from an include, and after a
// line the preprocessor dropped). Several entries may share a GlobalLine;
// Resolve uses the last of them.
type LineTable struct {
	entries []LineEntry
}

// Push appends a new translation entry. Entries must be pushed in
// non-decreasing GlobalLine order.
func (lt *LineTable) Push(global int, f *File, local int) {
	lt.entries = append(lt.entries, LineEntry{GlobalLine: global, File: f, LocalLine: local})
}

// Resolve maps a global line number back to (file, local line) via a linear
// scan, exactly as specified in §4.1 ("a linear scan yields the originating
// file and local line").
func (lt *LineTable) Resolve(global int) (f *File, local int, ok bool) {
	var best *LineEntry
	for i := range lt.entries {
		e := &lt.entries[i]
		if e.GlobalLine > global {
			break
		}
		best = e
	}
	if best == nil {
		return nil, 0, false
	}
	return best.File, best.LocalLine + (global - best.GlobalLine), true
}

// Entries exposes the raw table, primarily for tests asserting the
// sorted-without-gaps invariant.
func (lt *LineTable) Entries() []LineEntry {
	return lt.entries
}
