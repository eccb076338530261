package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneRowsIsDeep(t *testing.T) {
	t.Parallel()

	src := [][]string{{"a", "b"}, {""}}
	out := CloneRows(src)
	require.Equal(t, src, out)

	out[0][0] = "mutated"
	require.Equal(t, "a", src[0][0])
}

func TestCloneRowsNil(t *testing.T) {
	t.Parallel()

	require.Equal(t, [][]string{}, CloneRows(nil))
	require.Equal(t, [][]string{{}}, CloneRows([][]string{nil}))
}
