package ds

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet_Json(t *testing.T) {
	s := NewSet("hello", "world", "!")
	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.Equal(t, `["hello","world","!"]`, string(data))
}

func TestSet_Add(t *testing.T) {
	var s Set[string]
	require.True(t, s.IsEmpty())
	require.True(t, s.Add("a"))
	require.False(t, s.Add("a"))
	require.True(t, s.Add("b"))
	require.Equal(t, 2, s.Len())
	require.True(t, s.Contains("a"))
	require.False(t, s.Contains("c"))
}

func TestSet_InsertionOrder(t *testing.T) {
	s := NewSet(3, 1, 2, 1)
	require.Equal(t, []int{3, 1, 2}, s.Values())
	require.Equal(t, []int{3, 1, 2}, slices.Collect(s.All()))
}

func TestSet_CopyIsIndependent(t *testing.T) {
	s := NewSet("x")
	c := s.Copy()
	c.Add("y")
	require.Equal(t, 1, s.Len())
	require.Equal(t, 2, c.Len())
}
