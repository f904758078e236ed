// Package compiler lowers a stream of s-expression values (as produced
// by pkg/reader) into nalisp bytecode (pkg/bytecode). It replaces
// smog's AST-walking compiler (pkg/compiler/compiler.go in
// kristofer-smog), which targeted a Smalltalk-flavored class/message
// opcode set, with one that compiles s-expressions directly -- there is
// no intermediate AST, matching how the original Lisp implementation's
// compiler consumed parsed values.
package compiler

import (
	"fmt"
	"math"

	"github.com/kristofer/nalisp/pkg/bytecode"
	"github.com/kristofer/nalisp/pkg/value"
)

var builtinOpcode = map[string]bytecode.Opcode{
	"get": bytecode.OpGet,
	"set": bytecode.OpSet,
	"len": bytecode.OpLength,
	"+":   bytecode.OpAdd,
	"-":   bytecode.OpSub,
	"*":   bytecode.OpMul,
	"/":   bytecode.OpDiv,
	"=":   bytecode.OpEqual,
	"<":   bytecode.OpLessThan,
	"not": bytecode.OpNot,
	"and": bytecode.OpAnd,
	"or":  bytecode.OpOr,
}

var builtinArity = map[string]int{
	"get": 2, "set": 3, "len": 1,
	"+": 2, "-": 2, "*": 2, "/": 2, "=": 2, "<": 2,
	"not": 1, "and": 2, "or": 2,
}

// builtinTemporaryDelta is each operator's net effect on temporaryCount:
// arguments consumed plus the one result pushed (§4.3's temporary
// counting rules).
var builtinTemporaryDelta = map[string]int{
	"get": -1, "set": -2, "len": 0,
	"+": -1, "-": -1, "*": -1, "/": -1, "=": -1, "<": -1,
	"not": 0, "and": -1, "or": -1,
}

// Compiler lowers top-level forms into a single growing bytecode
// buffer, maintaining lexical scope across calls to CompileForm the way
// an interleaved REPL requires (§5): a name bound by one top-level
// `let` is visible to every form compiled afterward.
type Compiler struct {
	code []byte
	root *frame
}

// New creates a Compiler with an empty code buffer and a fresh global
// scope.
func New() *Compiler {
	root := newFrame()
	root.isGlobalRoot = true
	return &Compiler{root: root}
}

// Code returns the bytecode assembled so far. The slice aliases the
// Compiler's internal buffer.
func (c *Compiler) Code() []byte { return c.code }

// CompileForm compiles one top-level form and appends its instructions
// to the code buffer. A non-binding form is terminated with Dump; Drop
// so the value stack returns to empty once the VM runs the new
// instructions, per §6.4's REPL-style transcript.
func (c *Compiler) CompileForm(v value.Value) error {
	_, err := c.compileStatement(v, c.root, true)
	return err
}

func arrayLen(v value.Value) int {
	n, _ := value.ArrayLen(v).AsFloat64()
	return int(n)
}

// compileStatement compiles one form at statement level: `let` and
// `let-rec` are recognized here (they bind a name instead of producing
// a dumped value); everything else falls through to expression
// compilation followed by Dump/Drop. It reports whether the form was a
// binding, matching the original compiler's "don't dump a let" signal.
func (c *Compiler) compileStatement(v value.Value, f *frame, dump bool) (bool, error) {
	if v.IsArray() {
		head := value.ArrayGet(v, 0)
		if name, ok := value.SymbolName(head); ok {
			switch name {
			case "let":
				return true, c.compileLet(v, f)
			case "let-rec":
				return true, c.compileLetRec(v, f)
			}
		}
	}

	return false, c.compileExpressionStatement(v, f, dump)
}

func (c *Compiler) compileLet(v value.Value, f *frame) error {
	if arrayLen(v) != 3 {
		return &SyntaxError{Form: v.String()}
	}
	name, ok := value.SymbolName(value.ArrayGet(v, 1))
	if !ok {
		return &SyntaxError{Form: v.String()}
	}

	if err := c.compileExpression(value.ArrayGet(v, 2), f, false); err != nil {
		return err
	}
	f.insertVariable(name)
	f.temporaryCount--
	return nil
}

func (c *Compiler) compileLetRec(v value.Value, f *frame) error {
	if arrayLen(v) != 3 {
		return &SyntaxError{Form: v.String()}
	}
	name, ok := value.SymbolName(value.ArrayGet(v, 1))
	if !ok {
		return &SyntaxError{Form: v.String()}
	}

	fnForm := value.ArrayGet(v, 2)
	if !fnForm.IsArray() {
		return &SyntaxError{Form: v.String()}
	}
	if head, ok := value.SymbolName(value.ArrayGet(fnForm, 0)); !ok || head != "fn" {
		return &SyntaxError{Form: v.String()}
	}

	if err := c.compileFn(fnForm, f, name); err != nil {
		return err
	}
	f.insertVariable(name)
	f.temporaryCount--
	return nil
}

func (c *Compiler) compileExpressionStatement(v value.Value, f *frame, dump bool) error {
	if err := c.compileExpression(v, f, false); err != nil {
		return err
	}
	if dump {
		c.code = bytecode.AppendSimple(c.code, bytecode.OpDump)
	}
	c.code = bytecode.AppendSimple(c.code, bytecode.OpDrop)
	f.temporaryCount--
	return nil
}

// compileExpression compiles v as a value-producing expression within
// frame f, in tail position iff tail. Every successful path pushes
// exactly one value and adjusts f.temporaryCount by exactly +1 net
// (§4.3's temporary counting rules), except calls into compileCond and
// compileCall, which account for their own arithmetic.
func (c *Compiler) compileExpression(v value.Value, f *frame, tail bool) error {
	switch {
	case v.IsClosure():
		return &ClosureLiteralError{}

	case v.IsNil():
		c.code = bytecode.AppendNil(c.code)
		f.temporaryCount++
		return nil

	case v.IsFloat():
		fl, _ := v.AsFloat64()
		c.code = bytecode.AppendFloat64(c.code, fl)
		f.temporaryCount++
		return nil

	case v.IsInteger32():
		i, _ := v.AsInt32()
		c.code = bytecode.AppendInteger32(c.code, i)
		f.temporaryCount++
		return nil

	case v.IsSymbol():
		return c.compileSymbolReference(v, f)

	case v.IsArray():
		return c.compileArrayExpression(v, f, tail)
	}

	return &OtherError{Err: fmt.Errorf("unrecognized value kind %v", v.TypeOf())}
}

func (c *Compiler) compileSymbolReference(v value.Value, f *frame) error {
	name, _ := value.SymbolName(v)
	result := f.getVariable(name)

	if result.bound {
		if result.index > math.MaxUint8 {
			return &OtherError{Err: fmt.Errorf("variable %q is too deep on the stack to address (%d)", name, result.index)}
		}
		c.code = bytecode.AppendPeek(c.code, uint8(result.index))
		f.temporaryCount++
		return nil
	}

	if functionRootOf(f).isGlobalRoot {
		return &VariableNotDefinedError{Name: name}
	}
	if result.index > math.MaxUint8 {
		return &OtherError{Err: fmt.Errorf("closure captures too many free variables to address %q (%d)", name, result.index)}
	}
	c.code = bytecode.AppendEnvironment(c.code, uint8(result.index))
	f.temporaryCount++
	return nil
}

func (c *Compiler) compileArrayExpression(v value.Value, f *frame, tail bool) error {
	n := arrayLen(v)
	if n == 0 {
		return &SyntaxError{Form: "()"}
	}

	head := value.ArrayGet(v, 0)
	if name, ok := value.SymbolName(head); ok {
		switch name {
		case "fn":
			return c.compileFn(v, f, "")
		case "if":
			return c.compileIf(v, f, tail)
		case "quote":
			return c.compileQuote(v, f)
		}
		if op, ok := builtinOpcode[name]; ok {
			return c.compileBuiltin(v, f, name, op)
		}
	}

	return c.compileCall(v, f, tail)
}

// compileQuote handles `(quote name)`, the one syntax that reaches the
// Symbol literal opcode: every bare symbol atom elsewhere resolves as a
// variable reference (§4.3's variable resolution), so a symbol used as
// data rather than as a name needs an explicit escape. `name` is not
// itself evaluated.
func (c *Compiler) compileQuote(v value.Value, f *frame) error {
	if arrayLen(v) != 2 {
		return &SyntaxError{Form: v.String()}
	}
	name, ok := value.SymbolName(value.ArrayGet(v, 1))
	if !ok {
		return &SyntaxError{Form: v.String()}
	}

	code, err := bytecode.AppendSymbol(c.code, name)
	if err != nil {
		return &SymbolTooLongError{Name: name}
	}
	c.code = code
	f.temporaryCount++
	return nil
}

func (c *Compiler) compileBuiltin(v value.Value, f *frame, name string, op bytecode.Opcode) error {
	n := arrayLen(v)
	args := n - 1
	if args != builtinArity[name] {
		return &SyntaxError{Form: v.String()}
	}

	for i := 1; i < n; i++ {
		if err := c.compileExpression(value.ArrayGet(v, i), f, false); err != nil {
			return err
		}
	}
	c.code = bytecode.AppendSimple(c.code, op)
	f.temporaryCount += builtinTemporaryDelta[name]
	return nil
}

// compileIf handles `(if c t e)` and its chained-cond generalization to
// any odd arity >= 3: `(if c1 t1 c2 t2 ... cn tn e)`.
func (c *Compiler) compileIf(v value.Value, f *frame, tail bool) error {
	n := arrayLen(v)
	args := n - 1
	if args < 3 || args%2 != 1 {
		return &SyntaxError{Form: v.String()}
	}

	rest := make([]value.Value, args)
	for i := 0; i < args; i++ {
		rest[i] = value.ArrayGet(v, i+1)
	}
	return c.compileCond(rest, f, tail)
}

// compileCond compiles a condition/then/.../else chain. args has odd
// length; a length-1 args is just the trailing else expression.
//
// Emission order matches §4.3: compile the condition, emit Branch to
// the then-arm, compile the else-arm, emit Jump over the then-arm,
// patch Branch to land here, compile the then-arm, patch Jump to land
// here. Both arms must leave the frame's temporaryCount at the same
// value (baseline+1), since only one of them runs at a time but the
// compiler must agree with both about the static stack depth of
// whatever comes next -- compileCond rewinds temporaryCount to the
// post-condition baseline before compiling the then-arm so that the
// bookkeeping matches regardless of which arm the VM actually takes.
func (c *Compiler) compileCond(args []value.Value, f *frame, tail bool) error {
	if len(args) == 1 {
		return c.compileExpression(args[0], f, tail)
	}

	cond, then, rest := args[0], args[1], args[2:]

	if err := c.compileExpression(cond, f, false); err != nil {
		return err
	}
	branchPatchAt, code := bytecode.AppendBranch(c.code)
	c.code = code
	f.temporaryCount--

	baseline := f.temporaryCount

	if err := c.compileCond(rest, f, tail); err != nil {
		return err
	}
	jumpPatchAt, code := bytecode.AppendJump(c.code)
	c.code = code

	thenTarget := len(c.code)
	bytecode.PatchInt16(c.code, branchPatchAt, int16(thenTarget-(branchPatchAt+2)))

	f.temporaryCount = baseline
	if err := c.compileExpression(then, f, tail); err != nil {
		return err
	}

	endTarget := len(c.code)
	bytecode.PatchInt16(c.code, jumpPatchAt, int16(endTarget-(jumpPatchAt+2)))

	return nil
}

// compileCall handles any form whose head is not a recognized special
// or builtin: compile the callee, then each argument left to right
// (§4.3 point 4, and the left-to-right argument order pinned by the
// design notes' open question), then Call or TailCall.
func (c *Compiler) compileCall(v value.Value, f *frame, tail bool) error {
	n := arrayLen(v)

	if err := c.compileExpression(value.ArrayGet(v, 0), f, false); err != nil {
		return err
	}
	for i := 1; i < n; i++ {
		if err := c.compileExpression(value.ArrayGet(v, i), f, false); err != nil {
			return err
		}
	}

	arity := n - 1
	if arity > math.MaxUint8 {
		return &OtherError{Err: fmt.Errorf("call with %d arguments exceeds the 255 limit", arity)}
	}
	if tail {
		c.code = bytecode.AppendTailCall(c.code, uint8(arity))
	} else {
		c.code = bytecode.AppendCall(c.code, uint8(arity))
	}
	f.temporaryCount += 1 - n
	return nil
}

// compileFn compiles `(fn (params...) body...)`. selfName, if non-empty,
// binds the function's own name to slot zero of its body frame before
// the parameters: slot zero is exactly the stack position the VM's Call
// leaves the callee closure at (the frame pointer itself, per §4.4), so
// a self-reference inside the body resolves as an ordinary Bound/Peek
// access instead of needing the closure to capture itself as a free
// variable -- which is impossible, since the closure does not exist yet
// at the point its own Close instruction would need to capture it. This
// is how let-rec supports self-recursion without a mutable cell.
func (c *Compiler) compileFn(v value.Value, enclosing *frame, selfName string) error {
	n := arrayLen(v)
	if n < 3 {
		return &SyntaxError{Form: v.String()}
	}

	paramsForm := value.ArrayGet(v, 1)
	if !paramsForm.IsArray() && !paramsForm.IsNil() {
		return &SyntaxError{Form: v.String()}
	}
	arity := arrayLen(paramsForm)
	if arity > math.MaxUint8 {
		return &OtherError{Err: fmt.Errorf("function with %d parameters exceeds the 255 limit", arity)}
	}

	jumpPatchAt, code := bytecode.AppendJump(c.code)
	c.code = code
	bodyAddr := len(c.code)

	child := newFrame()
	if selfName != "" {
		child.insertVariable(selfName)
	}
	for i := 0; i < arity; i++ {
		name, ok := value.SymbolName(value.ArrayGet(paramsForm, i))
		if !ok {
			return &SyntaxError{Form: v.String()}
		}
		child.insertVariable(name)
	}

	for i := 2; i < n-1; i++ {
		if _, err := c.compileStatement(value.ArrayGet(v, i), child, false); err != nil {
			return err
		}
	}
	if err := c.compileExpression(value.ArrayGet(v, n-1), child, true); err != nil {
		return err
	}
	c.code = bytecode.AppendSimple(c.code, bytecode.OpReturn)
	child.temporaryCount--
	// Each shadowed binding leaves one permanent temporary (see
	// insertVariable); Return unwinds those along with everything else.
	inserted := 0
	for _, slot := range child.variables {
		if slot+1 > inserted {
			inserted = slot + 1
		}
	}
	if shadowed := inserted - len(child.variables); child.temporaryCount != shadowed {
		return &OtherError{Err: fmt.Errorf("internal error: function body left %d unresolved temporaries", child.temporaryCount)}
	}

	afterJump := len(c.code)
	bytecode.PatchInt16(c.code, jumpPatchAt, int16(afterJump-(jumpPatchAt+2)))

	envSize := len(child.freeVariables)
	if envSize > math.MaxUint8 {
		return &OtherError{Err: fmt.Errorf("closure captures %d free variables, exceeds the 255 limit", envSize)}
	}
	for _, name := range child.freeVariables {
		if err := c.compileExpression(value.FromSymbol(name), enclosing, false); err != nil {
			return err
		}
	}
	if bodyAddr > math.MaxUint32 {
		return &OtherError{Err: fmt.Errorf("bytecode buffer exceeds 4GiB")}
	}
	c.code = bytecode.AppendClose(c.code, uint32(bodyAddr), uint8(arity), uint8(envSize))
	enclosing.temporaryCount += 1 - envSize

	return nil
}
