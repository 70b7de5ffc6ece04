package host

import (
	"fmt"
	"io"

	"github.com/vinegar97/sonic3air/program"
)

// Diagnostics receives compile and load errors as they are produced (§6,
// "Diagnostics sink").
type Diagnostics interface {
	Report(program.ErrorMessage)
}

// WriterDiagnostics reports every message to an io.Writer, one per line,
// grounded on the reference CLI's atExit error print (main.go's
// fmt.Fprintf(os.Stderr, ...)).
type WriterDiagnostics struct {
	W io.Writer
}

func (d WriterDiagnostics) Report(e program.ErrorMessage) {
	fmt.Fprintln(d.W, e.Error())
}

// ReportAll is a convenience for feeding driver.Compile's returned error
// slice straight to a Diagnostics sink.
func ReportAll(d Diagnostics, errs []program.ErrorMessage) {
	for _, e := range errs {
		d.Report(e)
	}
}
