// Package vm implements the nalisp bytecode virtual machine.
//
// The VM is a stack-based interpreter over the instruction set decoded
// by pkg/bytecode. It owns two bounded stacks:
//
//  1. Value stack: holds every live value -- arguments, temporaries,
//     and every top-level `let` binding for the lifetime of the
//     process. Unlike a conventional VM, this stack is never reset
//     between top-level forms: the compiler's persistent root frame
//     addresses earlier bindings by their fixed stack position, so the
//     VM's stack has to stay in lockstep across repeated Run calls.
//  2. Frame stack: one entry per outstanding non-tail call, recording
//     the return program counter and the frame pointer (the value-
//     stack index of the callee closure itself).
//
// Execution Model:
//
// Dispatch is a flat switch over the decoded opcode, driven directly by
// pkg/bytecode.Decode; there is no separate instruction-fetch cache or
// allocation per step. Domain errors (wrong-type arithmetic, array
// access out of bounds, calling a non-closure) degrade to nil rather
// than raising, per §4.4 -- only stack overflow and an invalid opcode
// are fatal and returned as a *RuntimeError.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/kristofer/nalisp/pkg/bytecode"
	"github.com/kristofer/nalisp/pkg/value"
)

// Default bounds, per §5 ("e.g., 2,048 values, 256 frames").
const (
	DefaultStackSize = 2048
	DefaultMaxFrames = 256
)

type callFrame struct {
	returnPC     int
	framePointer int
}

// VM holds the persistent value stack and frame stack for one program's
// lifetime. A single VM is created once and driven across every
// top-level form via Run; the value stack is never cleared, since
// top-level `let` bindings live there for as long as the process runs.
type VM struct {
	stack []value.Value
	sp    int

	frames []callFrame

	maxStack  int
	maxFrames int

	// Out receives Dump's printed transcript. Defaults to os.Stdout.
	Out io.Writer
}

// New creates a VM with the default stack bounds.
func New() *VM {
	return NewWithLimits(DefaultStackSize, DefaultMaxFrames)
}

// NewWithLimits creates a VM with explicit stack bounds, mainly for
// tests that want to provoke overflow cheaply.
func NewWithLimits(maxStack, maxFrames int) *VM {
	return &VM{
		stack:     make([]value.Value, maxStack),
		frames:    make([]callFrame, 0, maxFrames),
		maxStack:  maxStack,
		maxFrames: maxFrames,
		Out:       os.Stdout,
	}
}

// StackLen reports the number of live values on the value stack.
// Property 1 (§8) holds that this is 0 after a well-typed top-level
// form has finished executing from an empty stack.
func (vm *VM) StackLen() int { return vm.sp }

// FrameLen reports the number of outstanding call frames.
func (vm *VM) FrameLen() int { return len(vm.frames) }

// Top returns the current top-of-stack value, for tests and a REPL's
// final-value display. Panics if the stack is empty.
func (vm *VM) Top() value.Value { return vm.stack[vm.sp-1] }

func (vm *VM) push(pc int, v value.Value) error {
	if vm.sp >= vm.maxStack {
		return vm.fatal(pc, "stack overflow: exceeded %d values", vm.maxStack)
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() value.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

// Run executes the instructions in code starting at pc until pc reaches
// the end of code, then returns. Call it once per top-level form with
// the same code buffer and, as start, the offset where the newest
// form's instructions begin (the end of the code already run),
// mirroring §5's interleaved compile-then-run loop.
func (vm *VM) Run(code []byte, start int) error {
	pc := start

	for pc < len(code) {
		ins, err := bytecode.Decode(code, pc)
		if err != nil {
			return vm.fatal(pc, "%s", err.Error())
		}

		switch ins.Op {
		case bytecode.OpNil:
			if err := vm.push(pc, value.Nil); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpFloat64:
			if err := vm.push(pc, value.FromFloat64(ins.Float64)); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpInteger32:
			if err := vm.push(pc, value.FromInt32(ins.Int32)); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpSymbol:
			if err := vm.push(pc, value.FromSymbol(ins.Symbol)); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpPeek:
			idx := vm.sp - 1 - int(ins.Uint8)
			if idx < 0 {
				return vm.fatal(pc, "peek depth %d exceeds stack", ins.Uint8)
			}
			if err := vm.push(pc, value.Clone(vm.stack[idx])); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpEnvironment:
			closure := vm.activeClosure(pc)
			if err := vm.push(pc, value.ClosureEnvironmentAt(closure, int(ins.Uint8))); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpGet:
			idx := vm.pop()
			arr := vm.pop()
			result := value.ArrayGet(arr, idx)
			value.Drop(arr)
			if err := vm.push(pc, result); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpSet:
			newVal := vm.pop()
			idx := vm.pop()
			arr := vm.pop()
			if err := vm.push(pc, value.ArraySet(arr, idx, newVal)); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpLength:
			arr := vm.pop()
			n := value.ArrayLen(arr)
			value.Drop(arr)
			if err := vm.push(pc, n); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv:
			b := vm.pop()
			a := vm.pop()
			result := arithmetic(ins.Op, a, b)
			value.Drop(a)
			value.Drop(b)
			if err := vm.push(pc, result); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			result := value.Nil
			if value.Equal(a, b) {
				result = value.FromFloat64(1)
			}
			value.Drop(a)
			value.Drop(b)
			if err := vm.push(pc, result); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpLessThan:
			b := vm.pop()
			a := vm.pop()
			result := value.Nil
			if order, ok := value.Compare(a, b); ok && order < 0 {
				result = value.FromFloat64(1)
			}
			value.Drop(a)
			value.Drop(b)
			if err := vm.push(pc, result); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpNot:
			a := vm.pop()
			result := value.Nil
			if a.IsNil() {
				result = value.FromFloat64(1)
			}
			value.Drop(a)
			if err := vm.push(pc, result); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpAnd:
			b := vm.pop()
			a := vm.pop()
			if a.IsNil() {
				value.Drop(b)
				if err := vm.push(pc, a); err != nil {
					return err
				}
			} else {
				value.Drop(a)
				if err := vm.push(pc, b); err != nil {
					return err
				}
			}
			pc = ins.Next

		case bytecode.OpOr:
			b := vm.pop()
			a := vm.pop()
			if !a.IsNil() {
				value.Drop(b)
				if err := vm.push(pc, a); err != nil {
					return err
				}
			} else {
				value.Drop(a)
				if err := vm.push(pc, b); err != nil {
					return err
				}
			}
			pc = ins.Next

		case bytecode.OpCall:
			next, err := vm.call(pc, ins, false)
			if err != nil {
				return err
			}
			pc = next

		case bytecode.OpTailCall:
			next, err := vm.call(pc, ins, true)
			if err != nil {
				return err
			}
			pc = next

		case bytecode.OpClose:
			env := make([]value.Value, ins.EnvSize)
			for i := int(ins.EnvSize) - 1; i >= 0; i-- {
				env[i] = vm.pop()
			}
			closure := value.NewClosure(ins.Addr, ins.Arity, ins.EnvSize)
			for i, captured := range env {
				value.WriteEnvironment(closure, i, captured)
			}
			if err := vm.push(pc, closure); err != nil {
				return err
			}
			pc = ins.Next

		case bytecode.OpReturn:
			if len(vm.frames) == 0 {
				return vm.fatal(pc, "return with no active frame")
			}
			result := vm.pop()
			top := vm.frames[len(vm.frames)-1]
			for i := top.framePointer; i < vm.sp; i++ {
				value.Drop(vm.stack[i])
			}
			vm.sp = top.framePointer
			vm.frames = vm.frames[:len(vm.frames)-1]
			pc = top.returnPC
			if err := vm.push(pc, result); err != nil {
				return err
			}

		case bytecode.OpJump:
			pc = ins.Next + int(ins.Int16)

		case bytecode.OpBranch:
			cond := vm.pop()
			taken := !cond.IsNil()
			value.Drop(cond)
			if taken {
				pc = ins.Next + int(ins.Int16)
			} else {
				pc = ins.Next
			}

		case bytecode.OpDrop:
			value.Drop(vm.pop())
			pc = ins.Next

		case bytecode.OpDump:
			fmt.Fprintln(vm.Out, vm.stack[vm.sp-1].String())
			pc = ins.Next

		default:
			return vm.fatal(pc, "unhandled opcode %s", ins.Op)
		}
	}

	return nil
}

// activeClosure returns the closure value at the innermost frame's
// pointer slot -- the callee of the call currently executing.
// Environment opcodes only ever appear inside a compiled function body,
// so a frame is always active when this is called.
func (vm *VM) activeClosure(pc int) value.Value {
	top := vm.frames[len(vm.frames)-1]
	return vm.stack[top.framePointer]
}

// call implements both Call and TailCall: arity adjustment (nil-fill or
// truncate), the non-callable-degrades-to-nil rule, and either pushing
// a fresh frame (Call) or collapsing the current frame's window in
// place (TailCall), per §4.4.
func (vm *VM) call(pc int, ins bytecode.Instruction, tail bool) (int, error) {
	n := int(ins.Uint8)
	argsStart := vm.sp - n - 1
	if argsStart < 0 {
		return 0, vm.fatal(pc, "call arity %d underflows stack", n)
	}
	callee := vm.stack[argsStart]

	if !callee.IsClosure() {
		for i := argsStart; i < vm.sp; i++ {
			value.Drop(vm.stack[i])
		}
		vm.sp = argsStart
		if err := vm.push(pc, value.Nil); err != nil {
			return 0, err
		}
		return ins.Next, nil
	}

	arity := int(value.ClosureArity(callee))
	switch {
	case arity > n:
		for i := 0; i < arity-n; i++ {
			if err := vm.push(pc, value.Nil); err != nil {
				return 0, err
			}
		}
	case n > arity:
		for i := 0; i < n-arity; i++ {
			value.Drop(vm.pop())
		}
	}

	body := int(value.ClosureFunctionID(callee))

	if tail {
		if len(vm.frames) == 0 {
			return 0, vm.fatal(pc, "tail call with no active frame")
		}
		base := vm.frames[len(vm.frames)-1].framePointer
		for i := base; i < argsStart; i++ {
			value.Drop(vm.stack[i])
		}
		width := vm.sp - argsStart
		copy(vm.stack[base:base+width], vm.stack[argsStart:vm.sp])
		vm.sp = base + width
		return body, nil
	}

	if len(vm.frames) >= vm.maxFrames {
		return 0, vm.fatal(pc, "frame stack overflow: exceeded %d frames", vm.maxFrames)
	}
	vm.frames = append(vm.frames, callFrame{returnPC: ins.Next, framePointer: argsStart})
	return body, nil
}

// arithmetic keeps Add/Sub/Mul within Integer32 when both operands are
// Integer32, so that ordinary counting loops ("(- n 1)", "(+ acc 1)")
// stay comparable by = against integer literals across iterations.
// Div always widens to float64, since integer division isn't closed
// over Integer32 and the spec's "float arithmetic" wording applies most
// directly there. Either operand failing to decode as a number at all
// (array, symbol, closure, nil) degrades the whole operation to nil.
func arithmetic(op bytecode.Opcode, a, b value.Value) value.Value {
	if ai, aok := a.AsInt32(); aok && op != bytecode.OpDiv {
		if bi, bok := b.AsInt32(); bok {
			switch op {
			case bytecode.OpAdd:
				return value.FromInt32(ai + bi)
			case bytecode.OpSub:
				return value.FromInt32(ai - bi)
			case bytecode.OpMul:
				return value.FromInt32(ai * bi)
			}
		}
	}

	af, aok := asNumber(a)
	bf, bok := asNumber(b)
	if !aok || !bok {
		return value.Nil
	}
	switch op {
	case bytecode.OpAdd:
		return value.FromFloat64(af + bf)
	case bytecode.OpSub:
		return value.FromFloat64(af - bf)
	case bytecode.OpMul:
		return value.FromFloat64(af * bf)
	case bytecode.OpDiv:
		return value.FromFloat64(af / bf)
	default:
		return value.Nil
	}
}

// asNumber accepts either a float64 or an integer32 operand: the reader
// produces Integer32 for any atom that parses as a whole number, so
// arithmetic has to treat both numeric kinds as "float arithmetic"
// operands rather than rejecting Integer32 as non-float.
func asNumber(v value.Value) (float64, bool) {
	if v.IsNil() {
		return 0, false
	}
	if f, ok := v.AsFloat64(); ok {
		return f, true
	}
	if i, ok := v.AsInt32(); ok {
		return float64(i), true
	}
	return 0, false
}
