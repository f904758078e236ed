package irbackend_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/nalisp/pkg/bytecode"
	"github.com/kristofer/nalisp/pkg/irbackend"
)

func TestTextBackendListsInstructionsUnderFunctionHeader(t *testing.T) {
	var code []byte
	code = bytecode.AppendInteger32(code, 7)
	code = bytecode.AppendSimple(code, bytecode.OpReturn)

	out, err := irbackend.Text{}.Generate(code, irbackend.Function{Name: "const7", Arity: 0}, len(code))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "fn const7/0:\n"))
	assert.Contains(t, out, "INTEGER32")
	assert.Contains(t, out, "RETURN")
}

func TestTextBackendReportsInvalidOpcode(t *testing.T) {
	_, err := irbackend.Text{}.Generate([]byte{0xFF}, irbackend.Function{Name: "bad"}, 1)
	assert.Error(t, err)
}
