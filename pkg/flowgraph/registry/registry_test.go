package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := New[string, int]()
	assert.Equal(t, 0, r.Len())

	r.Register("research", 1)
	r.Register("chat", 2)
	r.Register("research", 3)

	v, ok := r.Get("research")
	require.True(t, ok)
	assert.Equal(t, 3, v, "register replaces")
	assert.True(t, r.Has("chat"))
	assert.False(t, r.Has("tts"))

	_, ok = r.Get("tts")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestRegisterMany(t *testing.T) {
	r := New[string, string]()
	r.Register("writing", "old")
	r.RegisterMany(map[string]string{"writing": "new", "planning": "outline"})

	v, _ := r.Get("writing")
	assert.Equal(t, "new", v)
	assert.Equal(t, []string{"planning", "writing"}, r.Keys())
}

func TestKeysSorted(t *testing.T) {
	r := New[string, bool]()
	for _, k := range []string{"tts", "chat", "research", "quality"} {
		r.Register(k, true)
	}
	assert.Equal(t, []string{"chat", "quality", "research", "tts"}, r.Keys())
	assert.Empty(t, New[string, bool]().Keys())
}

func TestAll(t *testing.T) {
	r := New[string, int]()
	r.RegisterMany(map[string]int{"c": 3, "a": 1, "b": 2})

	var keys []string
	sum := 0
	for k, v := range r.All() {
		keys = append(keys, k)
		sum += v
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
	assert.Equal(t, 6, sum)

	var first []string
	for k := range r.All() {
		first = append(first, k)
		break
	}
	assert.Equal(t, []string{"a"}, first)
}

func TestAll_SnapshotAllowsRegister(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)

	seen := 0
	for k, v := range r.All() {
		r.Register(k+"-copy", v)
		seen++
	}
	assert.Equal(t, 1, seen)
	assert.Equal(t, 2, r.Len())
}

func TestGetOrCreate(t *testing.T) {
	r := New[string, *int]()
	calls := 0
	create := func() *int {
		calls++
		v := calls
		return &v
	}

	first := r.GetOrCreate("research", create)
	second := r.GetOrCreate("research", create)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	r.GetOrCreate("chat", create)
	assert.Equal(t, 2, calls)
}

func TestGetOrCreate_Concurrent(t *testing.T) {
	r := New[string, int]()
	var calls atomic.Int32

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.GetOrCreate("shared", func() int {
				calls.Add(1)
				return 42
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	v, _ := r.Get("shared")
	assert.Equal(t, 42, v)
}

func TestConcurrentReadWrite(t *testing.T) {
	r := New[string, int]()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(fmt.Sprintf("k%02d", i), i)
		}()
		go func() {
			defer wg.Done()
			_ = r.Keys()
			for range r.All() {
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, r.Len())
}
