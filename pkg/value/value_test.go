package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilIsZeroFloat(t *testing.T) {
	assert.True(t, Nil.IsNil())
	assert.Equal(t, Nil, FromFloat64(0))
	assert.True(t, FromFloat64(0).IsFloat())
}

func TestNaNPayloadNeverAliasesTaggedWord(t *testing.T) {
	nan := FromFloat64(math.NaN())
	assert.True(t, nan.IsFloat())
	f, ok := nan.AsFloat64()
	require.True(t, ok)
	assert.True(t, math.IsNaN(f))

	for _, v := range []Value{
		FromInt32(42),
		FromSymbol("x"),
		NewArray(nil),
		NewClosure(0, 0, 0),
	} {
		bits := uint64(v)
		asFloat := math.Float64frombits(bits)
		require.True(t, math.IsNaN(asFloat), "tagged word must decode as NaN when read as a double")
		require.NotEqual(t, math.Float64bits(math.NaN()), bits, "tagged word must not collide with the canonical NaN")
	}
}

func TestIntegerRoundTrip(t *testing.T) {
	for _, n := range []int32{0, 1, -1, math.MaxInt32, math.MinInt32} {
		v := FromInt32(n)
		require.True(t, v.IsInteger32())
		got, ok := v.AsInt32()
		require.True(t, ok)
		assert.Equal(t, n, got)
	}
}

func TestSymbolInterning(t *testing.T) {
	a := FromSymbol("hello")
	b := FromSymbol("hello")
	c := FromSymbol("world")

	assert.Equal(t, a, b, "identical bytes intern to the same word")
	assert.True(t, Equal(a, b))
	assert.NotEqual(t, a, c)
	assert.False(t, Equal(a, c))
}

func TestArrayGetSet(t *testing.T) {
	a := NewArray([]Value{FromFloat64(1), FromFloat64(2)})

	assert.True(t, Equal(ArrayGet(a, FromFloat64(0)), FromFloat64(1)))
	assert.True(t, Equal(ArrayGet(a, FromFloat64(1)), FromFloat64(2)))
	assert.True(t, ArrayGet(a, FromFloat64(2)).IsNil())
	assert.True(t, ArrayGet(a, FromFloat64(-1)).IsNil())

	Drop(a)
}

func TestArraySetExtendsWithNils(t *testing.T) {
	a := NewArray(nil)
	a = ArraySet(a, FromFloat64(2), FromFloat64(9))

	assert.True(t, Equal(ArrayLen(a), FromFloat64(3)))
	assert.True(t, ArrayGet(a, FromFloat64(0)).IsNil())
	assert.True(t, ArrayGet(a, FromFloat64(1)).IsNil())
	assert.True(t, Equal(ArrayGet(a, FromFloat64(2)), FromFloat64(9)))

	Drop(a)
}

func TestArrayCopyOnWrite(t *testing.T) {
	base := NewArray([]Value{FromFloat64(1)})
	aliasOfBase := Clone(base)

	mutated := ArraySet(base, FromFloat64(0), FromFloat64(99))

	assert.True(t, Equal(ArrayGet(aliasOfBase, FromFloat64(0)), FromFloat64(1)), "the alias must not observe the mutation")
	assert.True(t, Equal(ArrayGet(mutated, FromFloat64(0)), FromFloat64(99)))

	Drop(mutated)
	Drop(aliasOfBase)
}

func TestArraySetInPlaceWhenUnique(t *testing.T) {
	a := NewArray([]Value{FromFloat64(1)})
	handleBefore := uint32(rawPayload(uint64(a)))

	a = ArraySet(a, FromFloat64(0), FromFloat64(2))

	assert.Equal(t, handleBefore, uint32(rawPayload(uint64(a))), "unique array is mutated in place, not reallocated")
	Drop(a)
}

func TestClosureEnvironment(t *testing.T) {
	c := NewClosure(128, 2, 2)
	WriteEnvironment(c, 0, FromFloat64(10))
	WriteEnvironment(c, 1, FromFloat64(20))

	assert.EqualValues(t, 128, ClosureFunctionID(c))
	assert.EqualValues(t, 2, ClosureArity(c))
	assert.Equal(t, 2, ClosureEnvironmentSize(c))
	assert.True(t, Equal(ClosureEnvironmentAt(c, 0), FromFloat64(10)))
	assert.True(t, Equal(ClosureEnvironmentAt(c, 1), FromFloat64(20)))

	Drop(c)
}

func TestClosuresNeverCompareEqual(t *testing.T) {
	a := NewClosure(0, 0, 0)
	b := NewClosure(0, 0, 0)

	assert.False(t, Equal(a, b))
	assert.False(t, Equal(a, a))

	Drop(a)
	Drop(b)
}

func TestRefcountDropFreesHeapObjects(t *testing.T) {
	before := len(arrayRegistryGlobal.objects) - len(arrayRegistryGlobal.free)

	a := NewArray([]Value{FromFloat64(1), NewArray(nil)})
	b := Clone(a)
	Drop(a)
	Drop(b)

	after := len(arrayRegistryGlobal.objects) - len(arrayRegistryGlobal.free)
	assert.Equal(t, before, after, "every allocated array must be freed once the last reference drops")
}

func TestCompareTotalOrderWithinType(t *testing.T) {
	order, ok := Compare(FromFloat64(1), FromFloat64(2))
	require.True(t, ok)
	assert.Equal(t, -1, order)

	_, ok = Compare(FromFloat64(1), FromSymbol("x"))
	assert.False(t, ok, "cross-type comparison is incomparable")

	_, ok = Compare(FromFloat64(math.NaN()), FromFloat64(1))
	assert.False(t, ok)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "()", Nil.String())
	assert.Equal(t, "42", FromInt32(42).String())
	assert.Equal(t, "x", FromSymbol("x").String())

	arr := NewArray([]Value{FromFloat64(1), FromInt32(2)})
	assert.Equal(t, "(1 2)", arr.String())
	Drop(arr)
}
