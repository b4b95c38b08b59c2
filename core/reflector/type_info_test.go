package reflector

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testStructName = "github.com/codewandler/evbuf-go/core/reflector.testStruct"

type testStruct struct {
	Name string
}

type anotherStruct struct {
	Value int
}

type generic[T any] struct{ v T }

func TestTypeInfoOf(t *testing.T) {
	ti := TypeInfoOf(testStruct{Name: "test"})
	require.Equal(t, testStructName, ti.Name)
	require.Equal(t, "testStruct", ti.ShortName)
	require.Equal(t, "testStruct", ti.Type.Name())
}

func TestTypeInfo_PointersAreUnwrapped(t *testing.T) {
	for name, ti := range map[string]TypeInfo{
		"of":       TypeInfoOf(&testStruct{}),
		"for":      TypeInfoFor[*testStruct](),
		"for type": TypeInfoForType(reflect.TypeFor[*testStruct]()),
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testStructName, ti.Name)
			require.NotEqual(t, reflect.Pointer, ti.Type.Kind())
		})
	}
}

func TestTypeInfo_Generic(t *testing.T) {
	ti := TypeInfoFor[generic[int]]()
	require.Equal(t, "generic", ti.ShortName)
}

func TestTypeInfo_Builtin(t *testing.T) {
	ti := TypeInfoFor[string]()
	require.Equal(t, "string", ti.Name)
	require.Equal(t, "string", ti.ShortName)
}

func TestTypeInfoForType_Nil(t *testing.T) {
	ti := TypeInfoForType(nil)
	require.Empty(t, ti.Name)
	require.Nil(t, ti.Type)
}

func TestConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = TypeInfoOf(testStruct{})
				_ = TypeInfoFor[anotherStruct]()
				_ = TypeInfoForType(reflect.TypeFor[string]())
			}
		}()
	}
	wg.Wait()
}

func TestCacheHit(t *testing.T) {
	muCache.Lock()
	cache = make(map[reflect.Type]TypeInfo)
	muCache.Unlock()

	ti1 := TypeInfoOf(testStruct{})
	ti2 := TypeInfoOf(testStruct{})
	require.Equal(t, ti1, ti2)

	muCache.RLock()
	_, ok := cache[reflect.TypeFor[testStruct]()]
	muCache.RUnlock()
	require.True(t, ok)
}

func localType() reflect.Type {
	type testStruct struct{ Other bool }
	return reflect.TypeFor[testStruct]()
}

func TestIdentityKey(t *testing.T) {
	outer := reflect.TypeFor[testStruct]()
	inner := localType()

	require.Equal(t, TypeInfoForType(outer).Name, TypeInfoForType(inner).Name)
	require.NotEqual(t, IdentityKey(outer), IdentityKey(inner))
	require.NotEqual(t, IdentityKey(outer), IdentityKey(reflect.PointerTo(outer)))
	require.Equal(t, IdentityKey(outer), IdentityKey(reflect.TypeOf(testStruct{})))
	require.Empty(t, IdentityKey(nil))
}
