package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/nalisp/pkg/compiler"
	"github.com/kristofer/nalisp/pkg/reader"
	"github.com/kristofer/nalisp/pkg/vm"
)

// run compiles and executes every top-level form in source against a
// single VM, capturing Dump's transcript the way the driver will.
func run(t *testing.T, source string) (*vm.VM, string) {
	t.Helper()
	values, err := reader.ReadAll(source)
	require.NoError(t, err)

	c := compiler.New()
	m := vm.New()
	var out bytes.Buffer
	m.Out = &out

	start := 0
	for _, v := range values {
		require.NoError(t, c.CompileForm(v))
		code := c.Code()
		require.NoError(t, m.Run(code, start))
		start = len(code)
	}
	return m, out.String()
}

func TestRunIntegerLiteralDumps(t *testing.T) {
	_, out := run(t, "42")
	assert.Equal(t, "42\n", out)
}

func TestRunBuiltinAdd(t *testing.T) {
	_, out := run(t, "(+ 1 2)")
	assert.Equal(t, "3\n", out)
}

func TestRunLetThenReference(t *testing.T) {
	// let does not Dump; only the second form prints.
	_, out := run(t, "(let x 10) (+ x 5)")
	assert.Equal(t, "15\n", out)
}

func TestRunArraySetChainAndGet(t *testing.T) {
	_, out := run(t, "(let a (set (set () 0 1) 1 2)) (len a) (get a 1)")
	assert.Equal(t, "2\n2\n", out)
}

func TestRunFunctionCall(t *testing.T) {
	_, out := run(t, "(let sq (fn (x) (* x x))) (sq 5)")
	assert.Equal(t, "25\n", out)
}

func TestRunClosureCapturesFreeVariable(t *testing.T) {
	_, out := run(t, "(let mk (fn (x) (fn (y) (+ x y)))) (let add5 (mk 5)) (add5 3)")
	assert.Equal(t, "8\n", out)
}

func TestRunLetRecFactorial(t *testing.T) {
	_, out := run(t, "(let-rec f (fn (n) (if (= n 0) 1 (* n (f (- n 1)))))) (f 5)")
	assert.Equal(t, "120\n", out)
}

func TestRunStackBalanceAfterEachTopLevelForm(t *testing.T) {
	m, _ := run(t, "(+ 1 2) (* 3 4) (if 1 10 20)")
	assert.Equal(t, 0, m.FrameLen())
	// Each of the three forms pushes, dumps, and drops: nothing survives.
	assert.Equal(t, 0, m.StackLen())
}

func TestRunLetBindingsPersistAcrossTopLevelForms(t *testing.T) {
	m, _ := run(t, "(let a 1) (let b 2) (+ a b)")
	// Two lets leave exactly two bindings permanently on the stack.
	assert.Equal(t, 2, m.StackLen())
	assert.Equal(t, 0, m.FrameLen())
}

func TestRunTailRecursiveLoopDoesNotGrowFrameStack(t *testing.T) {
	source := "(let-rec loop (fn (n acc) (if (= n 0) acc (loop (- n 1) (+ acc 1))))) (loop 10000 0)"
	m, out := run(t, source)
	assert.Equal(t, "10000\n", out)
	assert.Equal(t, 0, m.FrameLen())
}

func TestRunNonCallableCallDegradesToNil(t *testing.T) {
	_, out := run(t, "(let x 1) (x 2 3)")
	assert.Equal(t, "()\n", out)
}

func TestRunArithmeticOnNonNumberDegradesToNil(t *testing.T) {
	_, out := run(t, "(+ () 1)")
	assert.Equal(t, "()\n", out)
}

func TestRunArityMismatchPadsWithNil(t *testing.T) {
	_, out := run(t, "(let f (fn (a b) (get (set (set () 0 a) 1 b) 1))) (f 1)")
	assert.Equal(t, "()\n", out)
}

func TestRunArityMismatchTruncatesExtras(t *testing.T) {
	_, out := run(t, "(let f (fn (a) a)) (f 1 2 3)")
	assert.Equal(t, "1\n", out)
}

func TestRunFrameStackOverflowIsFatal(t *testing.T) {
	values, err := reader.ReadAll("(let-rec f (fn (n) (+ 1 (f (- n 1))))) (f 100000)")
	require.NoError(t, err)

	c := compiler.New()
	m := vm.NewWithLimits(vm.DefaultStackSize, 8)
	var out bytes.Buffer
	m.Out = &out

	start := 0
	var runErr error
	for _, v := range values {
		require.NoError(t, c.CompileForm(v))
		code := c.Code()
		runErr = m.Run(code, start)
		start = len(code)
		if runErr != nil {
			break
		}
	}
	require.Error(t, runErr)
	var rtErr *vm.RuntimeError
	require.ErrorAs(t, runErr, &rtErr)
	assert.True(t, strings.Contains(rtErr.Error(), "frame stack overflow"))
}
