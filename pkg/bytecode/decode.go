package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Instruction is a single decoded instruction together with the operand
// values relevant to its opcode. Offset is the byte offset of the
// opcode byte itself; Next is the offset immediately following the
// instruction (where Jump/Branch offsets are relative from).
type Instruction struct {
	Op     Opcode
	Offset int
	Next   int

	Float64 float64 // OpFloat64
	Int32   int32   // OpInteger32
	Symbol  string  // OpSymbol
	Uint8   uint8   // OpPeek, OpEnvironment, OpCall, OpTailCall (arity/depth/index)
	Int16   int16   // OpJump, OpBranch
	Addr    uint32  // OpClose body address
	Arity   uint8   // OpClose
	EnvSize uint8   // OpClose
}

// DecodeError reports a malformed or truncated instruction stream. Per
// §4.2, an invalid opcode is a fatal error in the VM; the decoder
// surfaces it as an error instead of panicking so that disassembly and
// tests can report it cleanly.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bytecode: invalid instruction at offset %d: %s", e.Offset, e.Reason)
}

// Decode reads a single instruction starting at pc from code.
func Decode(code []byte, pc int) (Instruction, error) {
	if pc >= len(code) {
		return Instruction{}, &DecodeError{Offset: pc, Reason: "offset past end of buffer"}
	}
	op := Opcode(code[pc])
	if !op.Valid() {
		return Instruction{}, &DecodeError{Offset: pc, Reason: fmt.Sprintf("unknown opcode 0x%02x", code[pc])}
	}

	ins := Instruction{Op: op, Offset: pc}
	i := pc + 1

	need := func(n int) error {
		if i+n > len(code) {
			return &DecodeError{Offset: pc, Reason: "truncated operand"}
		}
		return nil
	}

	switch op {
	case OpNil, OpGet, OpSet, OpLength, OpAdd, OpSub, OpMul, OpDiv,
		OpEqual, OpLessThan, OpNot, OpAnd, OpOr, OpReturn, OpDrop, OpDump:
		// no operand

	case OpFloat64:
		if err := need(8); err != nil {
			return Instruction{}, err
		}
		ins.Float64 = math.Float64frombits(binary.LittleEndian.Uint64(code[i : i+8]))
		i += 8

	case OpInteger32:
		if err := need(4); err != nil {
			return Instruction{}, err
		}
		ins.Int32 = int32(binary.LittleEndian.Uint32(code[i : i+4]))
		i += 4

	case OpSymbol:
		if err := need(1); err != nil {
			return Instruction{}, err
		}
		length := int(code[i])
		i++
		if err := need(length); err != nil {
			return Instruction{}, err
		}
		ins.Symbol = string(code[i : i+length])
		i += length

	case OpPeek, OpEnvironment, OpCall, OpTailCall:
		if err := need(1); err != nil {
			return Instruction{}, err
		}
		ins.Uint8 = code[i]
		i++

	case OpClose:
		if err := need(6); err != nil {
			return Instruction{}, err
		}
		ins.Addr = binary.LittleEndian.Uint32(code[i : i+4])
		ins.Arity = code[i+4]
		ins.EnvSize = code[i+5]
		i += 6

	case OpJump, OpBranch:
		if err := need(2); err != nil {
			return Instruction{}, err
		}
		ins.Int16 = int16(binary.LittleEndian.Uint16(code[i : i+2]))
		i += 2
	}

	ins.Next = i
	return ins, nil
}
