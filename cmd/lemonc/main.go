// Command lemonc compiles script sources into a loaded module and, on
// request, disassembles the result. It is the CLI surface for the compiler
// and program packages, in the shape of the reference toolchain's own
// cmd/retro: a small flag.FlagSet, an error handler (atExit) that prints and
// exits nonzero, no subcommands.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vinegar97/sonic3air/compiler"
	"github.com/vinegar97/sonic3air/host"
	"github.com/vinegar97/sonic3air/program"
)

var (
	featureLevel   int
	optLevel       string
	emitCombined   bool
	emitTranslated bool
	dump           bool
	moduleName     string
)

func atExit(errs []program.ErrorMessage) {
	if len(errs) == 0 {
		return
	}
	host.ReportAll(host.WriterDiagnostics{W: os.Stderr}, errs)
	os.Exit(1)
}

func main() {
	flag.IntVar(&featureLevel, "feature-level", int(compiler.FeatureLevel2), "script feature level (1 or 2)")
	flag.StringVar(&optLevel, "opt-level", "default", "optimization level: none or default")
	flag.BoolVar(&emitCombined, "emit-combined-source", false, "set OutputCombinedSource in the compile options (no output is written for it)")
	flag.BoolVar(&emitTranslated, "emit-translated-source", false, "set OutputTranslatedSource in the compile options (no output is written for it)")
	flag.BoolVar(&dump, "dump", false, "disassemble the compiled module to stdout")
	flag.StringVar(&moduleName, "name", "main", "name to give the compiled module")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: lemonc [flags] <source-file>")
		os.Exit(2)
	}
	rootPath := flag.Arg(0)

	opts := compiler.DefaultOptions()
	opts.ScriptFeatureLevel = compiler.FeatureLevel(featureLevel)
	if optLevel == "none" {
		opts.OptimizationLevel = compiler.OptimizeNone
	}
	opts.OutputCombinedSource = emitCombined
	opts.OutputTranslatedSource = emitTranslated

	env := program.NewEnvironment()
	mod, errs := compiler.Compile(env, moduleName, rootPath, host.OS, opts)
	if len(errs) > 0 {
		atExit(errs)
	}

	if err := env.AddModule(mod); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if dump {
		if err := dumpModule(mod, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}
