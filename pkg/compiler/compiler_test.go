package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/nalisp/pkg/bytecode"
	"github.com/kristofer/nalisp/pkg/reader"
	"github.com/kristofer/nalisp/pkg/value"
)

func compileSource(t *testing.T, source string) *Compiler {
	t.Helper()
	values, err := reader.ReadAll(source)
	require.NoError(t, err)

	c := New()
	for _, v := range values {
		require.NoError(t, c.CompileForm(v))
	}
	return c
}

func disassemble(t *testing.T, c *Compiler) string {
	t.Helper()
	out, err := bytecode.Disassemble(c.Code())
	require.NoError(t, err)
	return out
}

func TestCompileIntegerLiteral(t *testing.T) {
	c := compileSource(t, "42")
	out := disassemble(t, c)
	assert.Contains(t, out, "INTEGER32 42")
	assert.Contains(t, out, "DUMP")
	assert.Contains(t, out, "DROP")
}

func TestCompileFloatLiteral(t *testing.T) {
	c := compileSource(t, "3.5")
	assert.Contains(t, disassemble(t, c), "FLOAT64 3.5")
}

func TestCompileBuiltinAdd(t *testing.T) {
	c := compileSource(t, "(+ 1 2)")
	out := disassemble(t, c)
	assert.Contains(t, out, "INTEGER32 1")
	assert.Contains(t, out, "INTEGER32 2")
	assert.Contains(t, out, "ADD")
}

func TestCompileLetDoesNotDump(t *testing.T) {
	c := compileSource(t, "(let x 10)")
	out := disassemble(t, c)
	assert.NotContains(t, out, "DUMP")
	assert.Contains(t, out, "INTEGER32 10")
}

func TestCompileLetThenReference(t *testing.T) {
	c := compileSource(t, "(let x 10) (+ x 5)")
	out := disassemble(t, c)
	assert.Contains(t, out, "PEEK")
	assert.Contains(t, out, "ADD")
}

func TestCompileUndefinedVariableErrors(t *testing.T) {
	c := New()
	values, err := reader.ReadAll("x")
	require.NoError(t, err)
	err = c.CompileForm(values[0])
	require.Error(t, err)
	var varErr *VariableNotDefinedError
	require.ErrorAs(t, err, &varErr)
	assert.Equal(t, "x", varErr.Name)
}

func TestCompileOverlongLetNameStillResolvesAsVariable(t *testing.T) {
	// A bare symbol atom that reaches compileExpression is always a
	// variable reference, never a literal, so an over-long name here
	// still resolves through the ordinary Bound/Peek path regardless of
	// the Symbol opcode's own one-byte length limit.
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	c := compileSource(t, "(let "+string(long)+" 1) (+ "+string(long)+" 1)")
	assert.Contains(t, disassemble(t, c), "PEEK")
}

func TestCompileQuoteEmitsSymbolLiteral(t *testing.T) {
	c := compileSource(t, "(quote abc)")
	assert.Contains(t, disassemble(t, c), `SYMBOL "abc"`)
}

func TestCompileQuoteOverlongNameErrors(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	c := New()
	values, err := reader.ReadAll("(quote " + string(long) + ")")
	require.NoError(t, err)
	err = c.CompileForm(values[0])
	require.Error(t, err)
	var tooLong *SymbolTooLongError
	require.ErrorAs(t, err, &tooLong)
}

func TestCompileQuoteRejectsNonSymbolArgument(t *testing.T) {
	c := New()
	values, err := reader.ReadAll("(quote 1)")
	require.NoError(t, err)
	err = c.CompileForm(values[0])
	require.Error(t, err)
	var syntaxErr *SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
}

func TestCompileFunctionAndCall(t *testing.T) {
	c := compileSource(t, "(let sq (fn (x) (* x x))) (sq 5)")
	out := disassemble(t, c)
	assert.Contains(t, out, "JUMP")
	assert.Contains(t, out, "CLOSE")
	assert.Contains(t, out, "RETURN")
	assert.Contains(t, out, "CALL")
}

func TestCompileClosureCapturesFreeVariable(t *testing.T) {
	c := compileSource(t, "(let mk (fn (x) (fn (y) (+ x y))))")
	out := disassemble(t, c)
	assert.Contains(t, out, "ENVIRONMENT")
}

func TestCompileLetRecFactorialUsesOrdinaryCall(t *testing.T) {
	// The recursive call sits inside a `*` argument, not in tail
	// position, so this must compile to CALL, not TAIL_CALL.
	c := compileSource(t, "(let-rec f (fn (n) (if (= n 0) 1 (* n (f (- n 1))))))")
	out := disassemble(t, c)
	assert.Contains(t, out, "BRANCH")
	assert.Contains(t, out, "CALL")
	assert.NotContains(t, out, "TAIL_CALL")
}

func TestCompileTailRecursiveLoopUsesTailCall(t *testing.T) {
	c := compileSource(t, "(let-rec loop (fn (n acc) (if (= n 0) acc (loop (- n 1) (* acc n)))))")
	assert.Contains(t, disassemble(t, c), "TAIL_CALL")
}

func TestCompileIfProducesBranchAndJump(t *testing.T) {
	c := compileSource(t, "(if 1 2 3)")
	out := disassemble(t, c)
	assert.Contains(t, out, "BRANCH")
	assert.Contains(t, out, "JUMP")
}

func TestCompileChainedCond(t *testing.T) {
	c := compileSource(t, "(if 1 10 2 20 30)")
	out := disassemble(t, c)
	// Two condition/then pairs means two Branch/Jump pairs.
	assert.Equal(t, 2, countOccurrences(out, "BRANCH"))
}

func TestCompileArraySetChain(t *testing.T) {
	c := compileSource(t, "(let a (set (set () 0 1) 1 2))")
	out := disassemble(t, c)
	assert.Equal(t, 2, countOccurrences(out, "SET"))
}

func TestCompileClosureLiteralErrors(t *testing.T) {
	c := New()
	err := c.CompileForm(value.NewClosure(0, 0, 0))
	require.Error(t, err)
	var closureErr *ClosureLiteralError
	assert.ErrorAs(t, err, &closureErr)
}

func TestCompileDeterminism(t *testing.T) {
	a := compileSource(t, "(let x 1) (+ x 2) (if x 1 2)")
	b := compileSource(t, "(let x 1) (+ x 2) (if x 1 2)")
	assert.Equal(t, a.Code(), b.Code())
}

func TestCompileMalformedLetErrors(t *testing.T) {
	c := New()
	values, err := reader.ReadAll("(let x)")
	require.NoError(t, err)
	err = c.CompileForm(values[0])
	require.Error(t, err)
	var synErr *SyntaxError
	assert.ErrorAs(t, err, &synErr)
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
			i += len(needle) - 1
		}
	}
	return count
}
