package compiler

import "fmt"

// Error taxonomy per the error-handling design: Syntax for malformed
// special forms, SymbolTooLong for over-long symbol literals, Closure
// for a closure value appearing as source data, VariableNotDefined for
// a free reference to a name never bound at any scope, and Other for
// remaining failures (an operand past an encoding limit, an internal
// bookkeeping error).

// SyntaxError reports a malformed special form.
type SyntaxError struct {
	Form string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("compiler: malformed special form: %s", e.Form)
}

// SymbolTooLongError reports a symbol literal at or beyond the 256-byte
// limit imposed by the one-byte length prefix in the Symbol opcode.
type SymbolTooLongError struct {
	Name string
}

func (e *SymbolTooLongError) Error() string {
	return fmt.Sprintf("compiler: symbol too long (%d bytes): %q", len(e.Name), e.Name)
}

// ClosureLiteralError reports an attempt to compile a closure value as
// source data; closures cannot be expressed as literals.
type ClosureLiteralError struct{}

func (e *ClosureLiteralError) Error() string {
	return "compiler: a closure cannot be used as a literal"
}

// VariableNotDefinedError reports a reference to a name that resolves
// to neither a bound variable nor a capturable enclosing binding. This
// project pins the strict-resolution behavior left open by the design:
// a free reference at the root scope is a compile error, not nil.
type VariableNotDefinedError struct {
	Name string
}

func (e *VariableNotDefinedError) Error() string {
	return fmt.Sprintf("compiler: variable not defined: %s", e.Name)
}

// OtherError wraps any other failure surfaced while compiling, such as
// an operand that exceeds its encoding limit.
type OtherError struct {
	Err error
}

func (e *OtherError) Error() string { return e.Err.Error() }
func (e *OtherError) Unwrap() error { return e.Err }
