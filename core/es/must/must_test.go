package must

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/evbuf-go/core/es/validation"
)

type order struct {
	qty    int
	closed bool
}

func TestGuard(t *testing.T) {
	o := &order{qty: 2}

	t.Run("all pass", func(t *testing.T) {
		r := For(o).Be(o.qty > 0, "qty must be positive").NotBe(o.closed, "order is closed").Result()
		require.True(t, r.IsValid())
		require.Same(t, o, r.Value())
	})

	t.Run("first failure wins", func(t *testing.T) {
		g := For(o).
			Be(o.qty > 5, "qty too small", Field("qty")).
			NotBe(true, "second failure")
		require.False(t, g.IsValid())

		msgs := g.Result().Messages()
		require.Len(t, msgs, 1)
		require.Equal(t, validation.Message{Severity: validation.SeverityError, Text: "qty too small", Field: "qty"}, msgs[0])
		require.ErrorIs(t, g.Err(), validation.ErrInvalid)
	})

	t.Run("lazy checks are skipped after a failure", func(t *testing.T) {
		called := false
		g := For(o).
			Be(false, "stop").
			Satisfy(func(*order) bool { called = true; return true }, "unused").
			And(func(o *order) validation.Result[*order] { called = true; return validation.OK(o) })
		require.False(t, called)
		require.Len(t, g.Result().Messages(), 1)
	})

	t.Run("satisfy", func(t *testing.T) {
		g := For(o).Satisfy(func(o *order) bool { return o.qty%2 == 1 }, "qty must be odd")
		require.Equal(t, "qty must be odd", g.Result().Errors()[0].Text)
	})
}

func TestExist(t *testing.T) {
	products := map[string]int{"apple": 1}
	lookup := func(id string) (int, bool) {
		v, ok := products[id]
		return v, ok
	}

	require.True(t, Exist(For("cart"), "apple", lookup, "unknown product").IsValid())

	g := Exist(For("cart"), "pear", lookup, "unknown product", Field("product"))
	require.False(t, g.IsValid())
	require.Equal(t, "product", g.Result().Errors()[0].Field)

	called := false
	g = Exist(For("cart").Be(false, "first"), "apple", func(string) (int, bool) {
		called = true
		return 0, true
	}, "unknown product")
	require.False(t, called)
	require.Equal(t, "first", g.Result().Errors()[0].Text)
}

func TestThen(t *testing.T) {
	r := Then(For(3).Be(true, "ok"), func(v int) validation.Result[string] {
		return validation.OK("three")
	})
	require.Equal(t, "three", r.Value())

	r = Then(For(3).Be(false, "no"), func(v int) validation.Result[string] {
		t.Fatal("must not run")
		return validation.OK("")
	})
	require.False(t, r.IsValid())
}
