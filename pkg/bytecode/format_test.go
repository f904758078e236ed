package bytecode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T) []byte {
	t.Helper()
	var code []byte
	code = AppendInteger32(code, 7)
	code, err := AppendSymbol(code, "x")
	require.NoError(t, err)
	code = AppendPeek(code, 0)
	code = AppendEnvironment(code, 1)
	code = AppendCall(code, 2)
	code = AppendClose(code, 40, 2, 3)
	code = AppendSimple(code, OpReturn)

	patchAt, code := AppendJump(code)
	PatchInt16(code, patchAt, 5)

	code = AppendFloat64(code, 3.5)
	code = AppendSimple(code, OpDump)
	return code
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	code := buildSample(t)

	var buf bytes.Buffer
	require.NoError(t, Encode(code, &buf))

	got, err := DecodeBuffer(&buf)
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestDecodeBufferRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0})
	_, err := DecodeBuffer(&buf)
	assert.Error(t, err)
}

func TestDecodeBufferRejectsBadVersion(t *testing.T) {
	var buf bytes.Buffer
	var code []byte
	code = AppendSimple(code, OpNil)
	require.NoError(t, Encode(code, &buf))

	raw := buf.Bytes()
	raw[4] = 0xFF
	_, err := DecodeBuffer(bytes.NewReader(raw))
	assert.Error(t, err)
}

func TestDisassembleListsEveryInstruction(t *testing.T) {
	code := buildSample(t)
	out, err := Disassemble(code)
	require.NoError(t, err)

	for _, want := range []string{"INTEGER32", "SYMBOL", "PEEK", "ENVIRONMENT", "CALL", "CLOSE", "RETURN", "JUMP", "FLOAT64", "DUMP"} {
		assert.Contains(t, out, want)
	}
}

func TestDisassembleReportsInvalidOpcode(t *testing.T) {
	_, err := Disassemble([]byte{0xFF})
	assert.Error(t, err)
}

func TestDecodeSingleInstruction(t *testing.T) {
	code := AppendInteger32(nil, -9)
	ins, err := Decode(code, 0)
	require.NoError(t, err)
	assert.Equal(t, OpInteger32, ins.Op)
	assert.EqualValues(t, -9, ins.Int32)
	assert.Equal(t, len(code), ins.Next)
}

func TestDecodeTruncatedOperandErrors(t *testing.T) {
	_, err := Decode([]byte{byte(OpInteger32), 1, 2}, 0)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}
