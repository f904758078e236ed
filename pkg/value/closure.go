package value

import (
	"fmt"
	"sync"
)

// closureObject is the heap layout backing a Closure: a refcount header
// plus {function_id, arity, environment_size} and the captured
// environment, per §3.3.
type closureObject struct {
	refcount    int32
	functionID  uint32
	arity       uint8
	environment []Value
}

type closureRegistry struct {
	mu      sync.Mutex
	objects []*closureObject
	free    []uint32
}

var closureRegistryGlobal = &closureRegistry{}

func (r *closureRegistry) alloc(obj *closureObject) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.free); n > 0 {
		handle := r.free[n-1]
		r.free = r.free[:n-1]
		r.objects[handle] = obj
		return handle
	}
	r.objects = append(r.objects, obj)
	return uint32(len(r.objects) - 1)
}

func (r *closureRegistry) get(handle uint32) *closureObject {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objects[handle]
}

func (r *closureRegistry) retain(handle uint32) {
	r.get(handle).refcount++
}

func (r *closureRegistry) release(handle uint32) {
	obj := r.get(handle)
	obj.refcount--
	if obj.refcount > 0 {
		return
	}
	for _, captured := range obj.environment {
		Drop(captured)
	}

	r.mu.Lock()
	r.objects[handle] = nil
	r.free = append(r.free, handle)
	r.mu.Unlock()
}

// NewClosure allocates a closure body at functionID (the byte offset of
// its first instruction) with the given arity and an environment of
// environmentSize slots, all initially Nil. Each slot must be written
// exactly once via WriteEnvironment before the closure is used, per the
// §4.1 closure-specific contract.
func NewClosure(functionID uint32, arity uint8, environmentSize uint8) Value {
	env := make([]Value, environmentSize)
	handle := closureRegistryGlobal.alloc(&closureObject{
		refcount:    1,
		functionID:  functionID,
		arity:       arity,
		environment: env,
	})
	return makeTagged(tagClosure, uint64(handle))
}

// WriteEnvironment writes the captured value at index into v's
// environment. v must be a closure and index must be in range.
func WriteEnvironment(v Value, index int, captured Value) {
	obj := closureObjectOf(v)
	obj.environment[index] = captured
}

// ClosureFunctionID returns the bytecode offset of v's body.
func ClosureFunctionID(v Value) uint32 {
	return closureObjectOf(v).functionID
}

// ClosureArity returns v's declared parameter count.
func ClosureArity(v Value) uint8 {
	return closureObjectOf(v).arity
}

// ClosureEnvironmentSize returns the number of captured slots in v.
func ClosureEnvironmentSize(v Value) int {
	return len(closureObjectOf(v).environment)
}

// ClosureEnvironmentAt returns a clone of the captured value at index.
func ClosureEnvironmentAt(v Value, index int) Value {
	return Clone(closureObjectOf(v).environment[index])
}

func closureObjectOf(v Value) *closureObject {
	return closureRegistryGlobal.get(uint32(rawPayload(uint64(v))))
}

func closureString(v Value) string {
	return fmt.Sprintf("<closure %x>", uint64(v))
}
