package ds

import (
	"iter"
	"reflect"
	"sync"
)

const (
	// minCapacity is the size of the first backing arena.
	minCapacity = 8
	// maxCapacity bounds doubling; larger arenas grow to the exact size needed.
	maxCapacity = 1 << 20
)

// arena is the backing storage shared by AppendOnly views. Slots below used
// are published and never written again.
type arena struct {
	mu    sync.Mutex
	items []any
	used  int
}

// claim writes items at index at if no other view has published that slot yet.
func (a *arena) claim(at int, items []any) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.used != at || at+len(items) > len(a.items) {
		return false
	}
	copy(a.items[at:], items)
	a.used = at + len(items)
	return true
}

// AppendOnly is an immutable, append-only sequence of items.
//
// Add never changes the receiver: it returns a new view. Views created from
// the same parent share the parent's arena; the first view to extend the
// shared prefix claims the free slots in place, every later fork copies.
// The zero value is an empty sequence.
type AppendOnly struct {
	a *arena
	n int
}

// Count returns the number of items in the sequence.
func (b AppendOnly) Count() int { return b.n }

// IsEmpty reports whether the sequence holds no items.
func (b AppendOnly) IsEmpty() bool { return b.n == 0 }

// Capacity returns the size of the backing arena.
func (b AppendOnly) Capacity() int {
	if b.a == nil {
		return 0
	}
	return len(b.a.items)
}

// At returns the item at index i. It panics if i is out of range.
func (b AppendOnly) At(i int) any {
	if i < 0 || i >= b.n {
		panic("ds: AppendOnly index out of range")
	}
	return b.a.items[i]
}

// Add returns a sequence holding the receiver's items followed by item.
//
// nil items are ignored. Slices, arrays (except []byte) and iter.Seq[any]
// values are flattened one level, skipping nil elements. Strings are added
// as a single item.
func (b AppendOnly) Add(item any) AppendOnly {
	items := flatten(item)
	if len(items) == 0 {
		return b
	}
	return b.append(items)
}

func (b AppendOnly) append(items []any) AppendOnly {
	need := b.n + len(items)
	if b.a != nil && b.a.claim(b.n, items) {
		return AppendOnly{a: b.a, n: need}
	}

	next := &arena{items: make([]any, grow(need)), used: need}
	if b.a != nil {
		copy(next.items, b.a.items[:b.n])
	}
	copy(next.items[b.n:], items)
	return AppendOnly{a: next, n: need}
}

// grow returns the arena size for need items: doubling from minCapacity up
// to maxCapacity, exactly need beyond it.
func grow(need int) int {
	capacity := minCapacity
	for capacity < need && capacity < maxCapacity {
		capacity *= 2
	}
	return max(capacity, need)
}

// All iterates over every item in order.
func (b AppendOnly) All() iter.Seq[any] { return b.Between(0, b.n) }

// Take iterates over the first n items.
func (b AppendOnly) Take(n int) iter.Seq[any] { return b.Between(0, n) }

// Skip iterates over all items after the first n.
func (b AppendOnly) Skip(n int) iter.Seq[any] { return b.Between(n, b.n) }

// Between iterates over the items in [from, to), clamped to the sequence.
func (b AppendOnly) Between(from, to int) iter.Seq[any] {
	from = max(from, 0)
	to = min(to, b.n)
	return func(yield func(any) bool) {
		for i := from; i < to; i++ {
			if !yield(b.a.items[i]) {
				return
			}
		}
	}
}

// Slice returns a copy of the items.
func (b AppendOnly) Slice() []any {
	out := make([]any, b.n)
	if b.n > 0 {
		copy(out, b.a.items[:b.n])
	}
	return out
}

func flatten(item any) []any {
	switch v := item.(type) {
	case nil:
		return nil
	case string, []byte:
		return []any{v}
	case []any:
		out := make([]any, 0, len(v))
		for _, e := range v {
			if !isNil(e) {
				out = append(out, e)
			}
		}
		return out
	case iter.Seq[any]:
		var out []any
		for e := range v {
			if !isNil(e) {
				out = append(out, e)
			}
		}
		return out
	}

	rv := reflect.ValueOf(item)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, 0, rv.Len())
		for i := range rv.Len() {
			e := rv.Index(i).Interface()
			if !isNil(e) {
				out = append(out, e)
			}
		}
		return out
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	}
	return []any{item}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
