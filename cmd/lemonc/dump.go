package main

import (
	"fmt"
	"io"

	"github.com/vinegar97/sonic3air/disasm"
	"github.com/vinegar97/sonic3air/program"
)

// dumpModule writes every script function's disassembly to w, one function
// per section, mirroring the reference CLI's -dump flag in spirit (a
// deferred, best-effort listing on the way out) but over compiled functions
// instead of a raw memory image.
func dumpModule(m *program.Module, w io.Writer) error {
	fmt.Fprintf(w, "; module %s\n", m.Name)
	return disasm.Module(m, w)
}
