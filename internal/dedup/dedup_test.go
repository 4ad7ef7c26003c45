package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemovePreservesFirstOccurrenceOrder(t *testing.T) {
	t.Parallel()

	in := []string{"a", "b", "a", "c", "b", "d"}
	out, seen := Remove(in, nil)
	require.Equal(t, []string{"a", "b", "c", "d"}, out)
	require.Len(t, seen, 4)
}

func TestRemoveDropsAlreadySeen(t *testing.T) {
	t.Parallel()

	seen := Seen("b", "d")
	out, next := Remove([]string{"a", "b", "c", "d"}, seen)
	require.Equal(t, []string{"a", "c"}, out)
	for _, v := range []string{"a", "b", "c", "d"} {
		_, ok := next[v]
		require.True(t, ok, "expected %q in updated seen set", v)
	}
}

func TestRemoveDoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	in := []int{1, 2, 2, 3}
	seen := Seen(3)
	_, next := Remove(in, seen)

	require.Equal(t, []int{1, 2, 2, 3}, in)
	require.Len(t, seen, 1)
	require.NotSame(t, &seen, &next)
	_, ok := next[1]
	require.True(t, ok)
}

func TestRemoveEmptyInput(t *testing.T) {
	t.Parallel()

	out, seen := Remove(nil, Seen("x"))
	require.Empty(t, out)
	require.Len(t, seen, 1)
}
