// Package driver implements the incremental compile-then-run loop that
// ties the reader, compiler, and VM together (§2 item 5 and §9's
// "interleaved compile-execute" design note): pull one parsed value at
// a time, compile it into the shared code buffer, run the VM up to the
// new end of that buffer, repeat. This mirrors smog's runREPL/evalREPL
// pair in cmd/smog/main.go, which drives a persistent compiler and a
// persistent VM across a sequence of inputs so that earlier bindings
// stay visible to later ones.
package driver

import (
	"fmt"
	"io"

	"github.com/kristofer/nalisp/pkg/compiler"
	"github.com/kristofer/nalisp/pkg/reader"
	"github.com/kristofer/nalisp/pkg/value"
	"github.com/kristofer/nalisp/pkg/vm"
)

// Driver owns the persistent compiler and VM state that must survive
// across top-level forms: the compiler's root frame addresses earlier
// bindings by a fixed stack position, and the VM's value stack carries
// those bindings for as long as the process runs.
type Driver struct {
	Compiler *compiler.Compiler
	VM       *vm.VM

	// run tracks how much of the compiler's code buffer the VM has
	// already executed, so each Run call only advances over the bytes
	// the most recent form contributed.
	run int
}

// New creates a Driver with a fresh compiler and a VM whose Dump
// transcript is written to out.
func New(out io.Writer) *Driver {
	v := vm.New()
	v.Out = out
	return &Driver{
		Compiler: compiler.New(),
		VM:       v,
	}
}

// RunForm compiles and immediately executes a single already-parsed
// top-level value. It is the unit of work the REPL and the file runner
// both drive: a compile error aborts before anything runs, per §7
// ("the compiler aborts a single top-level form on any compile error").
func (d *Driver) RunForm(v value.Value) error {
	if err := d.Compiler.CompileForm(v); err != nil {
		return fmt.Errorf("compile error: %w", err)
	}
	code := d.Compiler.Code()
	if err := d.VM.Run(code, d.run); err != nil {
		return fmt.Errorf("runtime error: %w", err)
	}
	d.run = len(code)
	return nil
}

// RunSource reads every top-level form out of source in order and runs
// each one in turn, stopping at the first error (§7: abort-on-first-
// error is the default driver behavior). It is the entry point for
// "run a whole file" use.
func (d *Driver) RunSource(source string) error {
	r := reader.New(source)
	for {
		v, ok, err := r.Read()
		if err != nil {
			return fmt.Errorf("parse error: %w", err)
		}
		if !ok {
			return nil
		}
		if err := d.RunForm(v); err != nil {
			return err
		}
	}
}

// RunOneLine parses every complete top-level form out of line and runs
// each in turn, for REPL-style line-at-a-time input. Unlike smog's
// period-terminated buffering in runREPL, nalisp forms are
// self-delimiting s-expressions, so a caller accumulating multi-line
// input need only keep buffering until parentheses balance before
// calling RunOneLine; a line with no forms at all is a no-op.
func (d *Driver) RunOneLine(line string) error {
	forms, err := reader.ReadAll(line)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	for _, v := range forms {
		if err := d.RunForm(v); err != nil {
			return err
		}
	}
	return nil
}
