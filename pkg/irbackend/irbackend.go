// Package irbackend is a skeleton for an alternative code-generation
// target: instead of driving the VM directly, a Backend would take a
// compiled function's bytecode and emit textual IR for an external
// compiler framework. Named as an external collaborator that is
// deliberately out of the compiler/VM core's scope and left as a
// skeleton only, so only a single trivial Backend is implemented here
// and nothing in cmd/nalisp wires this package in.
//
// The multi-backend dispatch shape (a Name/Generate interface selected
// by name, one file per target) follows lhaig-intent's
// internal/backend package.
package irbackend

import (
	"fmt"
	"strings"

	"github.com/kristofer/nalisp/pkg/bytecode"
)

// Function describes one compiled closure body for IR emission: the
// byte offset its code starts at (a Closure's function_id, per §3.3)
// and its declared arity.
type Function struct {
	Name  string
	Addr  uint32
	Arity uint8
}

// Backend is the interface every IR target would implement. Only Text
// below has a body; wasm/js/rust-shaped targets are left unimplemented
// on purpose, matching this package's skeleton-only scope.
type Backend interface {
	// Name identifies the backend, e.g. for a future -backend=NAME flag.
	Name() string

	// Generate renders one function's body as textual IR. end is the
	// byte offset one past the function's last instruction (typically
	// the next function's Addr, or len(code) for the last function).
	Generate(code []byte, fn Function, end int) (string, error)
}

// Text is the one implemented backend: it lists each instruction of a
// function's body as "  offset  OP operand" lines under a header
// naming the function, reusing pkg/bytecode's own disassembler rather
// than re-deriving an opcode-to-text mapping.
type Text struct{}

func (Text) Name() string { return "text" }

func (Text) Generate(code []byte, fn Function, end int) (string, error) {
	if end > len(code) {
		end = len(code)
	}
	body, err := bytecode.Disassemble(code[fn.Addr:end])
	if err != nil {
		return "", fmt.Errorf("irbackend: disassemble %s: %w", fn.Name, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "fn %s/%d:\n", fn.Name, fn.Arity)
	for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
