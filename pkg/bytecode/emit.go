package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxSymbolLength is one past the longest symbol name nalisp can emit
// (a single byte holds the length, so 255 bytes is the maximum), per
// §4.3's SymbolTooLong error.
const MaxSymbolLength = 1 << 8

// AppendSimple appends a single no-operand opcode byte.
func AppendSimple(code []byte, op Opcode) []byte {
	return append(code, byte(op))
}

// AppendNil appends OpNil.
func AppendNil(code []byte) []byte { return AppendSimple(code, OpNil) }

// AppendFloat64 appends OpFloat64 with its 8-byte little-endian payload.
func AppendFloat64(code []byte, f float64) []byte {
	code = append(code, byte(OpFloat64))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	return append(code, buf[:]...)
}

// AppendInteger32 appends OpInteger32 with its 4-byte little-endian
// payload.
func AppendInteger32(code []byte, v int32) []byte {
	code = append(code, byte(OpInteger32))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return append(code, buf[:]...)
}

// AppendSymbol appends OpSymbol with a length-prefixed UTF-8 payload.
// It errors if name is too long to fit the one-byte length prefix.
func AppendSymbol(code []byte, name string) ([]byte, error) {
	if len(name) >= MaxSymbolLength {
		return nil, fmt.Errorf("symbol %q is %d bytes, limit is %d", name, len(name), MaxSymbolLength-1)
	}
	code = append(code, byte(OpSymbol), byte(len(name)))
	return append(code, name...), nil
}

// AppendPeek appends OpPeek with a one-byte relative depth.
func AppendPeek(code []byte, depth uint8) []byte {
	return append(code, byte(OpPeek), depth)
}

// AppendEnvironment appends OpEnvironment with a one-byte index.
func AppendEnvironment(code []byte, index uint8) []byte {
	return append(code, byte(OpEnvironment), index)
}

// AppendCall appends OpCall with a one-byte argument count.
func AppendCall(code []byte, arity uint8) []byte {
	return append(code, byte(OpCall), arity)
}

// AppendTailCall appends OpTailCall with a one-byte argument count.
func AppendTailCall(code []byte, arity uint8) []byte {
	return append(code, byte(OpTailCall), arity)
}

// AppendClose appends OpClose with its body address, arity, and
// environment size.
func AppendClose(code []byte, bodyAddr uint32, arity, envSize uint8) []byte {
	code = append(code, byte(OpClose))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], bodyAddr)
	code = append(code, buf[:]...)
	return append(code, arity, envSize)
}

// AppendJump reserves space for OpJump with a placeholder offset and
// returns the index of the offset's first byte for later patching with
// PatchInt16.
func AppendJump(code []byte) (patchAt int, out []byte) {
	code = append(code, byte(OpJump), 0, 0)
	return len(code) - 2, code
}

// AppendBranch reserves space for OpBranch the same way AppendJump does.
func AppendBranch(code []byte) (patchAt int, out []byte) {
	code = append(code, byte(OpBranch), 0, 0)
	return len(code) - 2, code
}

// PatchInt16 overwrites the two-byte operand at patchAt (as returned by
// AppendJump/AppendBranch) with offset.
func PatchInt16(code []byte, patchAt int, offset int16) {
	binary.LittleEndian.PutUint16(code[patchAt:patchAt+2], uint16(offset))
}
