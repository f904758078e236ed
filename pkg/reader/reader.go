// Package reader turns source text into a stream of s-expression values
// ready for the compiler. It replaces smog's token-oriented, Smalltalk-
// flavored lexer/parser/ast trio (pkg/lexer, pkg/parser, pkg/ast) with a
// single scanner that reads characters directly into
// pkg/value.Value trees: atoms become Float64/Integer32/Symbol values,
// parenthesized groups become Array values. There is no separate AST —
// the compiler consumes these values exactly as the runtime will.
package reader

import (
	"strconv"

	"github.com/kristofer/nalisp/pkg/value"
)

const specialCharacters = "(); \t\r\n"

// Reader scans s-expressions out of a fixed input string. It tracks line
// and column for error messages the way smog's lexer does.
type Reader struct {
	input        string
	position     int
	readPosition int
	ch           byte
	line, column int
}

// New creates a Reader over input.
func New(input string) *Reader {
	r := &Reader{input: input, line: 1, column: 0}
	r.readChar()
	return r
}

func (r *Reader) readChar() {
	if r.readPosition >= len(r.input) {
		r.ch = 0
	} else {
		r.ch = r.input[r.readPosition]
	}
	if r.ch == '\n' {
		r.line++
		r.column = 0
	} else {
		r.column++
	}
	r.position = r.readPosition
	r.readPosition++
}

func (r *Reader) atEOF() bool {
	return r.position >= len(r.input) && r.ch == 0
}

func isSpecial(ch byte) bool {
	for i := 0; i < len(specialCharacters); i++ {
		if specialCharacters[i] == ch {
			return true
		}
	}
	return false
}

func (r *Reader) skipSpace() {
	for r.ch == ' ' || r.ch == '\t' || r.ch == '\r' || r.ch == '\n' {
		r.readChar()
	}
}

func (r *Reader) skipComment() {
	for r.ch != '\n' && r.ch != 0 {
		r.readChar()
	}
}

// Read returns the next top-level value, or ok=false once the input is
// exhausted. A stray ")" is reported as a *Error.
func (r *Reader) Read() (v value.Value, ok bool, err error) {
	for {
		r.skipSpace()

		switch {
		case r.ch == 0 && r.atEOF():
			return value.Nil, false, nil
		case r.ch == ';':
			r.skipComment()
			continue
		case r.ch == '(':
			v, err := r.readList()
			return v, true, err
		case r.ch == ')':
			line, column := r.line, r.column
			r.readChar()
			return value.Nil, false, &Error{Line: line, Column: column, Reason: "stray closing parenthesis"}
		default:
			return r.readAtom(), true, nil
		}
	}
}

// ReadAll drains input into a slice of top-level values.
func ReadAll(input string) ([]value.Value, error) {
	r := New(input)
	var values []value.Value
	for {
		v, ok, err := r.Read()
		if err != nil {
			return values, err
		}
		if !ok {
			return values, nil
		}
		values = append(values, v)
	}
}

func (r *Reader) readList() (value.Value, error) {
	r.readChar() // consume '('
	var elems []value.Value

	for {
		r.skipSpace()
		for r.ch == ';' {
			r.skipComment()
			r.skipSpace()
		}

		if r.ch == ')' {
			r.readChar()
			if len(elems) == 0 {
				// An empty list reads as nil rather than an allocated
				// zero-length array: value.Value already treats Nil as
				// the zero-length array for every read operation, so
				// there is no reason to allocate here.
				return value.Nil, nil
			}
			return value.NewArray(elems), nil
		}
		if r.ch == 0 && r.atEOF() {
			return value.Nil, &Error{Line: r.line, Column: r.column, Reason: "unexpected end of input inside list"}
		}

		v, ok, err := r.Read()
		if err != nil {
			return value.Nil, err
		}
		if !ok {
			return value.Nil, &Error{Line: r.line, Column: r.column, Reason: "unexpected end of input inside list"}
		}
		elems = append(elems, v)
	}
}

func (r *Reader) readAtom() value.Value {
	start := r.position
	for !isSpecial(r.ch) && r.ch != 0 {
		r.readChar()
	}
	return atomValue(r.input[start:r.position])
}

func atomValue(literal string) value.Value {
	if n, err := strconv.ParseInt(literal, 10, 32); err == nil {
		return value.FromInt32(int32(n))
	}
	if f, err := strconv.ParseFloat(literal, 64); err == nil {
		return value.FromFloat64(f)
	}
	return value.FromSymbol(literal)
}

// Error reports a malformed source document.
type Error struct {
	Line, Column int
	Reason       string
}

func (e *Error) Error() string {
	return "reader: " + e.Reason
}
