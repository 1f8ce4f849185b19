package tinyscript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatValue(t *testing.T) {
	h := NewHeap(128)

	require.Equal(t, "null", FormatValue(h, NullSingleton))
	require.Equal(t, "true", FormatValue(h, TrueSingleton))
	require.Equal(t, "false", FormatValue(h, FalseSingleton))
	require.Equal(t, "42", FormatValue(h, h.AllocNumber(42)))
	require.Equal(t, "hi", FormatValue(h, h.AllocString("hi")))

	arr := h.AllocArray([]Handle{h.AllocNumber(1), h.AllocNumber(2)})
	require.Equal(t, "[1, 2]", FormatValue(h, arr))

	sct := h.AllocStruct([]Handle{h.AllocNumber(1), h.AllocString("x")}, "Pair")
	require.Equal(t, `{1, x}`, FormatValue(h, sct))
}

func TestValuesEqualStructural(t *testing.T) {
	h := NewHeap(128)

	a := h.AllocArray([]Handle{h.AllocNumber(1), h.AllocNumber(2)})
	b := h.AllocArray([]Handle{h.AllocNumber(1), h.AllocNumber(2)})
	c := h.AllocArray([]Handle{h.AllocNumber(1), h.AllocNumber(3)})
	require.True(t, ValuesEqual(h, a, b))
	require.False(t, ValuesEqual(h, a, c))

	s1 := h.AllocStruct([]Handle{h.AllocNumber(1)}, "Pair")
	s2 := h.AllocStruct([]Handle{h.AllocNumber(1)}, "Pair")
	require.True(t, ValuesEqual(h, s1, s2))
}

// TestValuesEqualStructNominalIdentity covers spec §8 Testable Property 3:
// two structs with identical member shapes but different declaring types
// never compare equal.
func TestValuesEqualStructNominalIdentity(t *testing.T) {
	h := NewHeap(128)

	t1 := h.AllocStruct([]Handle{h.AllocNumber(1), h.AllocNumber(2)}, "T")
	u1 := h.AllocStruct([]Handle{h.AllocNumber(1), h.AllocNumber(2)}, "U")
	require.False(t, ValuesEqual(h, t1, u1))

	t2 := h.AllocStruct([]Handle{h.AllocNumber(1), h.AllocNumber(2)}, "T")
	require.True(t, ValuesEqual(h, t1, t2))
}

func TestValuesEqualScalars(t *testing.T) {
	h := NewHeap(128)
	require.True(t, ValuesEqual(h, NullSingleton, NullSingleton))
	require.True(t, ValuesEqual(h, TrueSingleton, TrueSingleton))
	require.False(t, ValuesEqual(h, TrueSingleton, FalseSingleton))
	require.True(t, ValuesEqual(h, h.AllocString("a"), h.AllocString("a")))
	require.False(t, ValuesEqual(h, h.AllocString("a"), h.AllocString("b")))
}
