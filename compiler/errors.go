package compiler

import (
	"fmt"

	"github.com/vinegar97/sonic3air/program"
)

func newError(file string, line int, kind program.ErrorKind, format string, args ...interface{}) program.ErrorMessage {
	return program.ErrorMessage{FileName: file, Line: line, Kind: kind, Text: fmt.Sprintf(format, args...)}
}
