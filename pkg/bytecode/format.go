// This file covers binary (de)serialization and disassembly of a
// compiled code buffer, adapted from smog's .sg file format
// (pkg/bytecode/format.go in kristofer-smog): a magic/version header
// followed by a length-prefixed payload. Unlike smog's format, nalisp's
// bytecode buffer is already fully self-describing (every literal is
// inlined in its instruction), so there is no separate constant-pool
// section to serialize.
package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

const (
	// MagicNumber identifies a .nyb nalisp bytecode file: "NALI".
	MagicNumber uint32 = 0x4E414C49

	// FormatVersion is the current on-disk format version.
	FormatVersion uint32 = 1
)

// Encode writes code to w in the .nyb binary format: a header (magic
// number, version) followed by a 4-byte length and the raw bytes.
func Encode(code []byte, w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, MagicNumber); err != nil {
		return fmt.Errorf("bytecode: write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, FormatVersion); err != nil {
		return fmt.Errorf("bytecode: write version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(code))); err != nil {
		return fmt.Errorf("bytecode: write length: %w", err)
	}
	if _, err := w.Write(code); err != nil {
		return fmt.Errorf("bytecode: write payload: %w", err)
	}
	return nil
}

// DecodeBuffer reads a code buffer previously written by Encode. It is
// named distinctly from Decode (which decodes a single instruction) to
// keep the two decoding granularities unambiguous at call sites.
func DecodeBuffer(r io.Reader) ([]byte, error) {
	var magic, version, length uint32

	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("bytecode: read magic: %w", err)
	}
	if magic != MagicNumber {
		return nil, fmt.Errorf("bytecode: bad magic number 0x%08X (expected 0x%08X)", magic, MagicNumber)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("bytecode: read version: %w", err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("bytecode: unsupported version %d (expected %d)", version, FormatVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("bytecode: read length: %w", err)
	}

	code := make([]byte, length)
	if _, err := io.ReadFull(r, code); err != nil {
		return nil, fmt.Errorf("bytecode: read payload: %w", err)
	}
	return code, nil
}

// Disassemble renders code as a human-readable instruction listing, one
// line per instruction, prefixed by its byte offset. It is used by
// tests and by the CLI's disassemble subcommand.
func Disassemble(code []byte) (string, error) {
	var b strings.Builder
	pc := 0
	for pc < len(code) {
		ins, err := Decode(code, pc)
		if err != nil {
			return b.String(), err
		}
		fmt.Fprintf(&b, "%6d  %s", ins.Offset, ins.Op)

		switch ins.Op {
		case OpFloat64:
			fmt.Fprintf(&b, " %g", ins.Float64)
		case OpInteger32:
			fmt.Fprintf(&b, " %d", ins.Int32)
		case OpSymbol:
			fmt.Fprintf(&b, " %q", ins.Symbol)
		case OpPeek, OpEnvironment:
			fmt.Fprintf(&b, " %d", ins.Uint8)
		case OpCall, OpTailCall:
			fmt.Fprintf(&b, " arity=%d", ins.Uint8)
		case OpClose:
			fmt.Fprintf(&b, " addr=%d arity=%d env=%d", ins.Addr, ins.Arity, ins.EnvSize)
		case OpJump, OpBranch:
			fmt.Fprintf(&b, " %+d -> %d", ins.Int16, ins.Next+int(ins.Int16))
		}
		b.WriteByte('\n')

		pc = ins.Next
	}
	return b.String(), nil
}
