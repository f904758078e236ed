// Package naive is a tree-walking evaluator over the same s-expression
// values pkg/compiler compiles, used only as a differential-testing
// oracle: tests run a program through both pkg/compiler+pkg/vm and this
// package and assert the two transcripts agree. It shares pkg/value's
// parsed-source representation but not its runtime representation --
// NaN-boxing exists to make the compiled VM fast, which is irrelevant
// here, so closures are ordinary Go values captured by a Go closure
// over an environment chain, the way smog's VM boxed every runtime
// value as a plain interface{} on its stack.
//
// This only has to evaluate the same grammar pkg/compiler accepts (let,
// let-rec, fn, if/cond, the arithmetic and array builtins, and calls);
// it has no bytecode, no stack bounds, and no tail-call optimization --
// it trades all of that for being obviously correct.
package naive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kristofer/nalisp/pkg/value"
)

// Value is the naive evaluator's own dynamic value: float64 for every
// number (nalisp's Integer32/Float64 split only matters to the NaN-boxed
// encoding, not to the arithmetic), string for a symbol's name, []Value
// for an array, and *closure for a function. A nil or zero-length
// []Value represents nil, matching the array package's convention that
// nil behaves as the empty array for every read operation.
type Value interface{}

type closure struct {
	params   []string
	body     []value.Value
	env      *env
	selfName string
}

type env struct {
	vars   map[string]Value
	parent *env
}

func newEnv(parent *env) *env {
	return &env{vars: make(map[string]Value), parent: parent}
}

func (e *env) get(name string) (Value, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (e *env) define(name string, v Value) { e.vars[name] = v }

var builtinArity = map[string]int{
	"get": 2, "set": 3, "len": 1,
	"+": 2, "-": 2, "*": 2, "/": 2, "=": 2, "<": 2,
	"not": 1, "and": 2, "or": 2,
}

// Interpreter holds the persistent global environment a sequence of
// top-level forms evaluates against, mirroring the compiler's
// persistent root frame across an interleaved REPL session.
type Interpreter struct {
	global *env
}

// New creates an Interpreter with an empty global environment.
func New() *Interpreter {
	return &Interpreter{global: newEnv(nil)}
}

// Run evaluates forms in order against i's environment and returns the
// printed transcript exactly as the compiler+VM's Dump/Drop convention
// would produce it: one line per non-`let`/`let-rec` top-level form.
func (i *Interpreter) Run(forms []value.Value) (string, error) {
	var out strings.Builder
	for _, f := range forms {
		printed, result, err := i.evalTopLevel(f)
		if err != nil {
			return out.String(), err
		}
		if printed {
			out.WriteString(Format(result))
			out.WriteByte('\n')
		}
	}
	return out.String(), nil
}

func (i *Interpreter) evalTopLevel(v value.Value) (printed bool, result Value, err error) {
	if isBinding, bindErr := evalBindingForm(v, i.global); isBinding {
		return false, nil, bindErr
	}
	result, err = evalExpr(v, i.global)
	return true, result, err
}

// evalBindingForm handles `let`/`let-rec` at statement position; ok is
// true iff v was recognized as one of those forms.
func evalBindingForm(v value.Value, e *env) (ok bool, err error) {
	if !v.IsArray() {
		return false, nil
	}
	name, isSym := value.SymbolName(value.ArrayGet(v, 0))
	if !isSym {
		return false, nil
	}
	switch name {
	case "let":
		return true, evalLet(v, e)
	case "let-rec":
		return true, evalLetRec(v, e)
	}
	return false, nil
}

func evalLet(v value.Value, e *env) error {
	if arrayLen(v) != 3 {
		return fmt.Errorf("naive: malformed let: %s", v.String())
	}
	name, ok := value.SymbolName(value.ArrayGet(v, 1))
	if !ok {
		return fmt.Errorf("naive: malformed let: %s", v.String())
	}
	result, err := evalExpr(value.ArrayGet(v, 2), e)
	if err != nil {
		return err
	}
	e.define(name, result)
	return nil
}

func evalLetRec(v value.Value, e *env) error {
	if arrayLen(v) != 3 {
		return fmt.Errorf("naive: malformed let-rec: %s", v.String())
	}
	name, ok := value.SymbolName(value.ArrayGet(v, 1))
	if !ok {
		return fmt.Errorf("naive: malformed let-rec: %s", v.String())
	}
	fnForm := value.ArrayGet(v, 2)
	c, err := makeClosure(fnForm, e, name)
	if err != nil {
		return err
	}
	e.define(name, c)
	return nil
}

// evalBody evaluates a function body: every form but the last runs as a
// statement (let/let-rec bind, anything else is evaluated and
// discarded); the last form's value is the body's result. The compiler
// never allows a `let`/`let-rec` as a function body's final form, so
// the last form always goes straight through evalExpr.
func evalBody(forms []value.Value, e *env) (Value, error) {
	for _, f := range forms[:len(forms)-1] {
		if isBinding, err := evalBindingForm(f, e); isBinding {
			if err != nil {
				return nil, err
			}
			continue
		}
		if _, err := evalExpr(f, e); err != nil {
			return nil, err
		}
	}
	return evalExpr(forms[len(forms)-1], e)
}

func evalExpr(v value.Value, e *env) (Value, error) {
	switch {
	case v.IsNil():
		return Value(nil), nil

	case v.IsFloat():
		f, _ := v.AsFloat64()
		return f, nil

	case v.IsInteger32():
		n, _ := v.AsInt32()
		return float64(n), nil

	case v.IsSymbol():
		name, _ := value.SymbolName(v)
		result, ok := e.get(name)
		if !ok {
			return nil, fmt.Errorf("naive: variable not defined: %s", name)
		}
		return result, nil

	case v.IsArray():
		return evalArray(v, e)
	}
	return nil, fmt.Errorf("naive: a closure cannot be used as a literal")
}

func evalArray(v value.Value, e *env) (Value, error) {
	n := arrayLen(v)
	if n == 0 {
		return nil, fmt.Errorf("naive: malformed empty call")
	}

	head := value.ArrayGet(v, 0)
	if name, ok := value.SymbolName(head); ok {
		switch name {
		case "fn":
			return makeClosure(v, e, "")
		case "if":
			args := make([]value.Value, n-1)
			for i := 1; i < n; i++ {
				args[i-1] = value.ArrayGet(v, i)
			}
			return evalCond(args, e)
		case "quote":
			if n != 2 {
				return nil, fmt.Errorf("naive: malformed quote: %s", v)
			}
			name, ok := value.SymbolName(value.ArrayGet(v, 1))
			if !ok {
				return nil, fmt.Errorf("naive: quote expects a symbol: %s", v)
			}
			return name, nil
		}
		if arity, ok := builtinArity[name]; ok {
			if n-1 != arity {
				return nil, fmt.Errorf("naive: %s expects %d arguments, got %d", name, arity, n-1)
			}
			args := make([]Value, arity)
			for i := 0; i < arity; i++ {
				arg, err := evalExpr(value.ArrayGet(v, i+1), e)
				if err != nil {
					return nil, err
				}
				args[i] = arg
			}
			return applyBuiltin(name, args)
		}
	}

	callee, err := evalExpr(head, e)
	if err != nil {
		return nil, err
	}
	args := make([]Value, n-1)
	for i := 1; i < n; i++ {
		arg, err := evalExpr(value.ArrayGet(v, i), e)
		if err != nil {
			return nil, err
		}
		args[i-1] = arg
	}
	return apply(callee, args)
}

// evalCond implements `(if c1 t1 c2 t2 ... e)`: condition/then pairs
// tried in order, the odd final element is the catch-all else.
func evalCond(args []value.Value, e *env) (Value, error) {
	if len(args) == 1 {
		return evalExpr(args[0], e)
	}
	cond, then, rest := args[0], args[1], args[2:]
	cv, err := evalExpr(cond, e)
	if err != nil {
		return nil, err
	}
	if !isNil(cv) {
		return evalExpr(then, e)
	}
	return evalCond(rest, e)
}

func makeClosure(v value.Value, e *env, selfName string) (Value, error) {
	n := arrayLen(v)
	if n < 3 {
		return nil, fmt.Errorf("naive: malformed fn: %s", v.String())
	}
	paramsForm := value.ArrayGet(v, 1)
	if !paramsForm.IsArray() && !paramsForm.IsNil() {
		return nil, fmt.Errorf("naive: malformed fn parameters: %s", v.String())
	}
	arity := arrayLen(paramsForm)
	params := make([]string, arity)
	for i := 0; i < arity; i++ {
		name, ok := value.SymbolName(value.ArrayGet(paramsForm, i))
		if !ok {
			return nil, fmt.Errorf("naive: malformed fn parameter: %s", v.String())
		}
		params[i] = name
	}
	body := make([]value.Value, n-2)
	for i := 2; i < n; i++ {
		body[i-2] = value.ArrayGet(v, i)
	}
	return &closure{params: params, body: body, env: e, selfName: selfName}, nil
}

// apply binds args to c's parameters (nil-filling missing trailing
// parameters, ignoring extras, matching the VM's Call arity adjustment)
// and evaluates its body. A non-callable callee degrades to nil rather
// than erroring, matching §4.4's "calls are total" rule.
func apply(callee Value, args []Value) (Value, error) {
	c, ok := callee.(*closure)
	if !ok {
		return Value(nil), nil
	}
	callEnv := newEnv(c.env)
	if c.selfName != "" {
		callEnv.define(c.selfName, c)
	}
	for i, p := range c.params {
		if i < len(args) {
			callEnv.define(p, args[i])
		} else {
			callEnv.define(p, Value(nil))
		}
	}
	return evalBody(c.body, callEnv)
}

func applyBuiltin(name string, args []Value) (Value, error) {
	switch name {
	case "get":
		return builtinGet(args[0], args[1]), nil
	case "set":
		return builtinSet(args[0], args[1], args[2]), nil
	case "len":
		return builtinLen(args[0]), nil
	case "+", "-", "*", "/":
		return arithmetic(name, args[0], args[1]), nil
	case "=":
		if naiveEqual(args[0], args[1]) {
			return float64(1), nil
		}
		return Value(nil), nil
	case "<":
		af, aok := asNumber(args[0])
		bf, bok := asNumber(args[1])
		if aok && bok && af < bf {
			return float64(1), nil
		}
		return Value(nil), nil
	case "not":
		if isNil(args[0]) {
			return float64(1), nil
		}
		return Value(nil), nil
	case "and":
		if isNil(args[0]) {
			return args[0], nil
		}
		return args[1], nil
	case "or":
		if !isNil(args[0]) {
			return args[0], nil
		}
		return args[1], nil
	}
	return nil, fmt.Errorf("naive: unknown builtin %q", name)
}

func isNil(v Value) bool {
	if v == nil {
		return true
	}
	arr, ok := v.([]Value)
	return ok && len(arr) == 0
}

func asArray(v Value) ([]Value, bool) {
	if v == nil {
		return nil, true
	}
	arr, ok := v.([]Value)
	return arr, ok
}

func asNumber(v Value) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func asIndex(v Value) (int, bool) {
	f, ok := asNumber(v)
	if !ok {
		return 0, false
	}
	i := int(f)
	if float64(i) != f {
		return 0, false
	}
	return i, true
}

func builtinGet(a, idx Value) Value {
	arr, ok := asArray(a)
	if !ok {
		return nil
	}
	i, ok := asIndex(idx)
	if !ok || i < 0 || i >= len(arr) {
		return nil
	}
	return arr[i]
}

func builtinSet(a, idx, val Value) Value {
	arr, ok := asArray(a)
	if !ok {
		return a
	}
	i, ok := asIndex(idx)
	if !ok || i < 0 {
		return a
	}
	size := len(arr)
	if i+1 > size {
		size = i + 1
	}
	next := make([]Value, size)
	copy(next, arr)
	next[i] = val
	return next
}

func builtinLen(a Value) Value {
	arr, ok := asArray(a)
	if !ok {
		return nil
	}
	return float64(len(arr))
}

func arithmetic(op string, a, b Value) Value {
	af, aok := asNumber(a)
	bf, bok := asNumber(b)
	if !aok || !bok {
		return nil
	}
	switch op {
	case "+":
		return af + bf
	case "-":
		return af - bf
	case "*":
		return af * bf
	case "/":
		return af / bf
	}
	return nil
}

// naiveEqual follows pkg/value.Equal with two looser rules: numbers
// and symbols compare by value (an integer and a float of the same
// value are equal), arrays compare element-wise with nil equal to a
// zero-length array, and closures never compare equal to anything,
// including themselves.
func naiveEqual(a, b Value) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []Value:
		bArr, ok := asArray(b)
		if !ok {
			return isNil(b) && len(av) == 0
		}
		if len(av) != len(bArr) {
			return false
		}
		for i := range av {
			if !naiveEqual(av[i], bArr[i]) {
				return false
			}
		}
		return true
	case nil:
		return isNil(b)
	default:
		return false
	}
}

// Format renders v the way pkg/value.Value.String() renders the
// equivalent compiled value, so a naive transcript and a compiled-VM
// transcript can be compared line for line.
func Format(v Value) string {
	switch tv := v.(type) {
	case nil:
		return "()"
	case float64:
		return strconv.FormatFloat(tv, 'g', -1, 64)
	case string:
		return tv
	case []Value:
		if len(tv) == 0 {
			return "()"
		}
		var b strings.Builder
		b.WriteByte('(')
		for i, elem := range tv {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(Format(elem))
		}
		b.WriteByte(')')
		return b.String()
	case *closure:
		return fmt.Sprintf("<closure %p>", tv)
	default:
		return fmt.Sprintf("%v", tv)
	}
}

func arrayLen(v value.Value) int {
	n, _ := value.ArrayLen(v).AsFloat64()
	return int(n)
}
