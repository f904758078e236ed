// Command nalisp is the command-line entry point for the bytecode
// compiler and virtual machine: it selects an input source, drives the
// reader/compiler/VM pipeline through pkg/driver, and reports the
// process exit code demanded by §6.1 (zero on clean completion,
// non-zero on any surfaced error). Subcommand dispatch and the overall
// shape of main follow smog's cmd/smog/main.go.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"

	"github.com/kristofer/nalisp/pkg/bytecode"
	"github.com/kristofer/nalisp/pkg/compiler"
	"github.com/kristofer/nalisp/pkg/driver"
	"github.com/kristofer/nalisp/pkg/reader"
)

const version = "0.1.0"

var errColor = color.New(color.FgRed, color.Bold)

func main() {
	if len(os.Args) < 2 {
		runREPL()
		return
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("nalisp version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "repl":
		runREPL()
	case "run":
		if len(os.Args) < 3 {
			runStdin()
			return
		}
		runFile(os.Args[2])
	case "compile":
		if len(os.Args) < 3 {
			errColor.Fprintln(os.Stderr, "Error: no file specified")
			fmt.Fprintln(os.Stderr, "\nUsage: nalisp compile <input.nl> [output.nyb]")
			os.Exit(1)
		}
		outputFile := ""
		if len(os.Args) >= 4 {
			outputFile = os.Args[3]
		}
		compileFile(os.Args[2], outputFile)
	case "disassemble", "disasm":
		if len(os.Args) < 3 {
			errColor.Fprintln(os.Stderr, "Error: no file specified")
			fmt.Fprintln(os.Stderr, "\nUsage: nalisp disassemble <file.nyb>")
			os.Exit(1)
		}
		disassembleFile(os.Args[2])
	default:
		runFile(os.Args[1])
	}
}

func printUsage() {
	fmt.Println("nalisp - a NaN-boxed Lisp bytecode compiler and VM")
	fmt.Println("\nUsage:")
	fmt.Println("  nalisp                       Start interactive REPL")
	fmt.Println("  nalisp [file]                Run a .nl source file or .nyb bytecode file")
	fmt.Println("  nalisp run [file]            Run a file, or stdin if omitted")
	fmt.Println("  nalisp compile <in> [out]    Compile .nl source to .nyb bytecode")
	fmt.Println("  nalisp disassemble <file>    Disassemble a .nyb bytecode file")
	fmt.Println("  nalisp repl                  Start interactive REPL")
	fmt.Println("  nalisp version               Show version")
	fmt.Println("  nalisp help                  Show this help")
	fmt.Println("\nFile Extensions:")
	fmt.Println("  .nl     Source code files (text s-expressions)")
	fmt.Println("  .nyb    Compiled bytecode files (binary)")
}

// runFile runs a .nl source file or a pre-compiled .nyb bytecode file,
// selected by extension, mirroring smog's runFile dispatch.
func runFile(filename string) {
	if strings.HasSuffix(filename, ".nyb") {
		runBytecodeFile(filename)
		return
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		fail("Error reading file: %v", err)
	}
	runText(string(data))
}

// runStdin reads the entire standard input stream as one source
// document, per §6.1's "consumes standard input as a stream of
// newline-terminated text lines that, concatenated, form the
// s-expression source".
func runStdin() {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fail("Error reading stdin: %v", err)
	}
	runText(string(data))
}

func runText(source string) {
	d := driver.New(os.Stdout)
	if err := d.RunSource(source); err != nil {
		fail("%v", err)
	}
}

// runBytecodeFile loads and executes a pre-compiled .nyb file directly,
// skipping the reader and compiler entirely.
func runBytecodeFile(filename string) {
	f, err := os.Open(filename)
	if err != nil {
		fail("Error reading file: %v", err)
	}
	defer f.Close()

	code, err := bytecode.DecodeBuffer(f)
	if err != nil {
		fail("Error loading bytecode: %v", err)
	}

	d := driver.New(os.Stdout)
	if err := d.VM.Run(code, 0); err != nil {
		fail("Runtime error: %v", err)
	}
}

// compileFile compiles a .nl source file to a .nyb bytecode file,
// defaulting the output name the way smog's compileFile does.
func compileFile(inputFile, outputFile string) {
	if outputFile == "" {
		if strings.HasSuffix(inputFile, ".nl") {
			outputFile = inputFile[:len(inputFile)-len(".nl")] + ".nyb"
		} else {
			outputFile = inputFile + ".nyb"
		}
	}

	data, err := os.ReadFile(inputFile)
	if err != nil {
		fail("Error reading file: %v", err)
	}

	forms, err := reader.ReadAll(string(data))
	if err != nil {
		fail("Parse error: %v", err)
	}

	c := compiler.New()
	for _, v := range forms {
		if err := c.CompileForm(v); err != nil {
			fail("Compile error: %v", err)
		}
	}

	out, err := os.Create(outputFile)
	if err != nil {
		fail("Error creating output file: %v", err)
	}
	defer out.Close()

	if err := bytecode.Encode(c.Code(), out); err != nil {
		fail("Error writing bytecode: %v", err)
	}

	fmt.Printf("Compiled %s -> %s\n", inputFile, outputFile)
}

// disassembleFile prints a human-readable instruction listing of a
// .nyb bytecode file, for inspecting what the compiler produced.
func disassembleFile(filename string) {
	f, err := os.Open(filename)
	if err != nil {
		fail("Error reading file: %v", err)
	}
	defer f.Close()

	code, err := bytecode.DecodeBuffer(f)
	if err != nil {
		fail("Error loading bytecode: %v", err)
	}

	listing, err := bytecode.Disassemble(code)
	if err != nil {
		fmt.Print(listing)
		fail("Error disassembling: %v", err)
	}
	fmt.Print(listing)
}

// runREPL starts an interactive read-eval-print loop backed by a
// persistent Driver, so bindings from one line remain visible to the
// next. Multi-line input is accumulated until parentheses balance,
// since nalisp forms have no statement terminator (unlike smog's
// period-terminated statements).
func runREPL() {
	fmt.Printf("nalisp REPL v%s\n", version)
	fmt.Println("Type :help for help, :quit or :exit to exit")
	fmt.Println()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	d := driver.New(os.Stdout)
	var pending strings.Builder

	for {
		prompt := "nalisp> "
		if pending.Len() > 0 {
			prompt = "   ...> "
		}

		input, err := line.Prompt(prompt)
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println("Goodbye!")
			return
		}
		if err != nil {
			errColor.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			return
		}

		if pending.Len() == 0 {
			switch strings.TrimSpace(input) {
			case ":quit", ":exit":
				fmt.Println("Goodbye!")
				return
			case ":help":
				printREPLHelp()
				continue
			case "":
				continue
			}
		}

		pending.WriteString(input)
		pending.WriteString("\n")

		if !balanced(pending.String()) {
			continue
		}

		text := pending.String()
		line.AppendHistory(strings.TrimSpace(text))
		pending.Reset()

		if err := d.RunSource(text); err != nil {
			errColor.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

// balanced reports whether text contains no unclosed '(' and at least
// one top-level form, i.e. the reader would not hit end-of-input
// mid-list. It is a cheap heuristic (smog's own runREPL uses an
// equally cheap trailing-period check): it counts parentheses outside
// ';' comments and does no other tokenizing.
func balanced(text string) bool {
	depth := 0
	sawAtom := false
	inComment := false
	for _, r := range text {
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
			}
		case r == ';':
			inComment = true
		case r == '(':
			depth++
			sawAtom = true
		case r == ')':
			depth--
		default:
			if !isSpace(r) {
				sawAtom = true
			}
		}
	}
	return sawAtom && depth <= 0
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func printREPLHelp() {
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	fmt.Fprintln(w, "nalisp REPL Help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  :help     Show this help message")
	fmt.Fprintln(w, "  :quit     Exit the REPL")
	fmt.Fprintln(w, "  :exit     Exit the REPL")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  - Enter an s-expression and press Enter")
	fmt.Fprintln(w, "  - (let name value) bindings persist across lines")
	fmt.Fprintln(w, "  - Every other top-level form prints its value")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Example:")
	fmt.Fprintln(w, "  nalisp> (let x 42)")
	fmt.Fprintln(w, "  nalisp> (+ x 8)")
	fmt.Fprintln(w, "  50")
}

func fail(format string, args ...interface{}) {
	errColor.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
