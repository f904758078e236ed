package value

import "sync"

// arrayObject is the heap layout backing an Array: a refcount header
// followed by its element buffer, per §3.2.
type arrayObject struct {
	refcount int32
	elems    []Value
}

// arrayRegistry is a slab allocator for arrayObject values, keyed by a
// handle embedded in the tagged payload of an Array Value. It stands in
// for the original implementation's header-plus-pointer heap object: Go
// values live in ordinary, GC-visible Go memory, and the Value word
// carries only the integer handle.
type arrayRegistry struct {
	mu      sync.Mutex
	objects []*arrayObject
	free    []uint32
}

var arrayRegistryGlobal = &arrayRegistry{}

func (r *arrayRegistry) alloc(elems []Value) uint32 {
	obj := &arrayObject{refcount: 1, elems: elems}

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

func (r *arrayRegistry) get(handle uint32) *arrayObject {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objects[handle]
}

// retain and release are not protected by the registry mutex: the spec
// mandates a single-threaded execution discipline (§5) under which
// refcount updates need not be atomic, only the slab's free-list
// bookkeeping does.
func (r *arrayRegistry) retain(handle uint32) {
	r.get(handle).refcount++
}

func (r *arrayRegistry) release(handle uint32) {
	obj := r.get(handle)
	obj.refcount--
	if obj.refcount > 0 {
		return
	}
	for _, elem := range obj.elems {
		Drop(elem)
	}

	r.mu.Lock()
	r.objects[handle] = nil
	r.free = append(r.free, handle)
	r.mu.Unlock()
}

// NewArray allocates an array owning elems and returns the Value that
// refers to it with a refcount of one.
func NewArray(elems []Value) Value {
	handle := arrayRegistryGlobal.alloc(elems)
	return makeTagged(tagArray, uint64(handle))
}

func arrayObjectOf(v Value) (*arrayObject, bool) {
	if v.IsNil() {
		return nil, true
	}
	if !v.IsArray() {
		return nil, false
	}
	return arrayRegistryGlobal.get(uint32(rawPayload(uint64(v)))), true
}

// ArrayLen returns the length of v as a float64 Value, per §3.2. Nil
// behaves as a zero-length array.
func ArrayLen(v Value) Value {
	obj, ok := arrayObjectOf(v)
	if !ok {
		return Nil
	}
	if obj == nil {
		return FromFloat64(0)
	}
	return FromFloat64(float64(len(obj.elems)))
}

// ArrayGet returns a clone of the element at index, or Nil if the index
// is out of bounds, negative, or not an integer-valued number.
func ArrayGet(arr, index Value) Value {
	obj, ok := arrayObjectOf(arr)
	if !ok || obj == nil {
		return Nil
	}
	i, ok := indexOf(index)
	if !ok || i < 0 || i >= len(obj.elems) {
		return Nil
	}
	return Clone(obj.elems[i])
}

// ArraySet returns an array equal to arr except that position index now
// holds value, extending with nils if index is past the current length.
// Per §3.2 this is copy-on-write: a uniquely referenced array (or nil
// array, per the copy-on-write special case of appending onto nothing)
// is mutated in place; otherwise the array is deep-cloned first. arr is
// consumed (its reference is transferred into the result).
func ArraySet(arr, index, val Value) Value {
	i, ok := indexOf(index)
	if !ok || i < 0 {
		Drop(val)
		return arr
	}

	obj, isArrayLike := arrayObjectOf(arr)
	if !isArrayLike {
		Drop(val)
		return arr
	}

	if obj == nil {
		// arr was nil: build a fresh array from scratch.
		elems := make([]Value, i+1)
		elems[i] = val
		return NewArray(elems)
	}

	if obj.refcount == 1 {
		if i >= len(obj.elems) {
			grown := make([]Value, i+1)
			copy(grown, obj.elems)
			obj.elems = grown
		} else {
			Drop(obj.elems[i])
		}
		obj.elems[i] = val
		return arr
	}

	// Shared: deep-clone before mutating.
	size := len(obj.elems)
	if i+1 > size {
		size = i + 1
	}
	cloned := make([]Value, size)
	for j, e := range obj.elems {
		cloned[j] = Clone(e)
	}
	cloned[i] = val
	Drop(arr)
	return NewArray(cloned)
}

// indexOf accepts either operand kind the reader can produce for a
// numeric literal: Integer32 (the common case for array indices, since
// "0" and "1" parse as Integer32) and whole-valued Float64.
func indexOf(v Value) (int, bool) {
	if i, ok := v.AsInt32(); ok {
		return int(i), true
	}
	f, ok := v.AsFloat64()
	if !ok {
		return 0, false
	}
	i := int(f)
	if float64(i) != f {
		return 0, false
	}
	return i, true
}

func arrayEqual(a, b Value) bool {
	oa, _ := arrayObjectOf(a)
	ob, _ := arrayObjectOf(b)
	if oa == nil || ob == nil {
		return arrayLenOf(oa) == 0 && arrayLenOf(ob) == 0
	}
	if len(oa.elems) != len(ob.elems) {
		return false
	}
	for i := range oa.elems {
		if !Equal(oa.elems[i], ob.elems[i]) {
			return false
		}
	}
	return true
}

func arrayLenOf(obj *arrayObject) int {
	if obj == nil {
		return 0
	}
	return len(obj.elems)
}

func arrayCompare(a, b Value) (int, bool) {
	oa, _ := arrayObjectOf(a)
	ob, _ := arrayObjectOf(b)
	var ea, eb []Value
	if oa != nil {
		ea = oa.elems
	}
	if ob != nil {
		eb = ob.elems
	}
	for i := 0; i < len(ea) && i < len(eb); i++ {
		order, ok := Compare(ea[i], eb[i])
		if !ok {
			return 0, false
		}
		if order != 0 {
			return order, true
		}
	}
	switch {
	case len(ea) < len(eb):
		return -1, true
	case len(ea) > len(eb):
		return 1, true
	default:
		return 0, true
	}
}
