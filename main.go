package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Maldus512/roc/pkg/dropspec"
	"github.com/Maldus512/roc/pkg/ir"
	"github.com/Maldus512/roc/pkg/layout"
	"github.com/Maldus512/roc/pkg/parser"
)

var (
	evalExpr   = flag.String("e", "", "Read the program from the command line instead of a file")
	outputFile = flag.String("o", "", "Output file (default: stdout)")
	noOpt      = flag.Bool("no-opt", false, "Print the parsed program without running the pass")
	verbose    = flag.Bool("v", false, "Print pass statistics to stderr")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Drop specialization for reference-counted IR\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [file.ir]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s program.ir                # Rewrite a file, print to stdout\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -v program.ir -o out.ir   # Write output, statistics to stderr\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -e '(proc main () i64 (let x (lit 1) i64 (ret x)))'\n", os.Args[0])
	}
	flag.Parse()

	var input string
	if *evalExpr != "" {
		input = *evalExpr
	} else if flag.NArg() > 0 {
		data, err := os.ReadFile(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
			os.Exit(1)
		}
		input = string(data)
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading stdin: %v\n", err)
			os.Exit(1)
		}
		input = string(data)
	}

	store := layout.NewStore()
	idents := ir.NewIdentIds()

	procs, err := parser.New(input, store, idents).ParseProgram()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parse error: %v\n", err)
		os.Exit(1)
	}
	if len(procs) == 0 {
		fmt.Fprintf(os.Stderr, "No procedures to process\n")
		os.Exit(1)
	}

	if !*noOpt {
		stats := dropspec.Run(store, idents, procs)
		if *verbose {
			fmt.Fprintf(os.Stderr, "pairs cancelled: %d\n", stats.PairsCancelled)
			fmt.Fprintf(os.Stderr, "decs specialized: %d\n", stats.DecsSpecialized)
		}
	}

	var out io.Writer = os.Stdout
	if *outputFile != "" {
		f, err := os.Create(*outputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	printer := &ir.Printer{Idents: idents}
	for i, proc := range procs {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printer.Proc(out, proc)
	}
}
