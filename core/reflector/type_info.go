// Package reflector names Go types for the event type registry and caches
// the result, so repeated lookups on hot paths stay cheap.
package reflector

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// maxCacheSize bounds the cache; when exceeded the cache is reset.
const maxCacheSize = 1024

var (
	muCache sync.RWMutex
	cache   = make(map[reflect.Type]TypeInfo)
)

// TypeInfo holds the names of a reflected type. Pointer types are unwrapped.
type TypeInfo struct {
	Name      string       // "pkg/path.TypeName"
	ShortName string       // "TypeName" with generic arguments stripped
	Type      reflect.Type // element type for pointers
}

// IdentityKey returns a string that is unique to t. Unlike Name it tells
// apart distinct types sharing a name, e.g. types declared in different
// functions, and pointer types from their element types.
func IdentityKey(t reflect.Type) string {
	if t == nil {
		return ""
	}
	return fmt.Sprintf("%s@%p", t, t)
}

// TypeInfoOf returns TypeInfo for the dynamic type of x.
func TypeInfoOf(x any) TypeInfo { return TypeInfoForType(reflect.TypeOf(x)) }

// TypeInfoFor returns TypeInfo for T.
func TypeInfoFor[T any]() TypeInfo { return TypeInfoForType(reflect.TypeFor[T]()) }

// TypeInfoForType returns TypeInfo for t. Safe for concurrent use.
func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	muCache.RLock()
	ti, ok := cache[t]
	muCache.RUnlock()
	if ok {
		return ti
	}

	short := t.Name()
	if i := strings.IndexByte(short, '['); i >= 0 {
		short = short[:i]
	}
	if short == "" {
		short = t.String()
	}
	ti = TypeInfo{Name: t.PkgPath() + "." + t.Name(), ShortName: short, Type: t}
	if t.PkgPath() == "" {
		ti.Name = t.String()
	}

	muCache.Lock()
	if len(cache) >= maxCacheSize {
		cache = make(map[reflect.Type]TypeInfo)
	}
	cache[t] = ti
	muCache.Unlock()

	return ti
}
