package cuckoo

import (
	"fmt"
	"io"
	"math/rand/v2"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

// benchMap is the surface shared by the builtin map and Map in the
// single-threaded benchmarks.
type benchMap[T benchTypes] interface {
	put(k, v T)
	get(k T) (T, bool)
	del(k T)
	all(yield func(k, v T) bool)
}

type runtimeMap[T benchTypes] map[T]T

func (m runtimeMap[T]) put(k, v T) { m[k] = v }

func (m runtimeMap[T]) get(k T) (T, bool) {
	v, ok := m[k]
	return v, ok
}

func (m runtimeMap[T]) del(k T) { delete(m, k) }

func (m runtimeMap[T]) all(yield func(k, v T) bool) {
	for k, v := range m {
		if !yield(k, v) {
			return
		}
	}
}

type cuckooMap[T benchTypes] struct {
	*Map[T, T]
}

func (m cuckooMap[T]) put(k, v T) {
	if err := m.Put(k, v); err != nil {
		panic(err)
	}
}

func (m cuckooMap[T]) get(k T) (T, bool) { return m.Get(k) }

func (m cuckooMap[T]) del(k T) { m.Delete(k) }

func (m cuckooMap[T]) all(yield func(k, v T) bool) { m.All(yield) }

// newBenchMap returns a constructor for impl. The hint is the number of
// entries the map should hold without growing. A cuckoo table with two
// single-slot homes per key needs roughly twice as many slots as entries for
// that.
func newBenchMap[T benchTypes](impl string) func(hint int) benchMap[T] {
	switch impl {
	case "runtimeMap":
		return func(hint int) benchMap[T] { return make(runtimeMap[T], hint) }
	case "cuckooMap":
		return func(hint int) benchMap[T] { return cuckooMap[T]{New[T, T](2 * hint)} }
	}
	panic("unknown impl " + impl)
}

type benchFunc[T benchTypes] func(b *testing.B, newMap func(hint int) benchMap[T], n int)

// benchImpls runs each key type's benchmark against every implementation.
// A nil func skips that key type.
func benchImpls(b *testing.B, i64 benchFunc[int64], i32 benchFunc[int32], str benchFunc[string]) {
	for _, impl := range []string{"runtimeMap", "cuckooMap"} {
		b.Run("impl="+impl, func(b *testing.B) {
			if i64 != nil {
				b.Run("t=Int64", benchSizes(newBenchMap[int64](impl), i64))
			}
			if i32 != nil {
				b.Run("t=Int32", benchSizes(newBenchMap[int32](impl), i32))
			}
			if str != nil {
				b.Run("t=String", benchSizes(newBenchMap[string](impl), str))
			}
		})
	}
}

func BenchmarkMapIter(b *testing.B) {
	benchImpls(b, benchmarkMapIter[int64], nil, nil)
}

func BenchmarkMapGetHit(b *testing.B) {
	benchImpls(b, benchmarkMapGetHit[int64], benchmarkMapGetHit[int32], benchmarkMapGetHit[string])
}

func BenchmarkMapGetMiss(b *testing.B) {
	benchImpls(b, benchmarkMapGetMiss[int64], benchmarkMapGetMiss[int32], benchmarkMapGetMiss[string])
}

func BenchmarkMapPutGrow(b *testing.B) {
	benchImpls(b, benchmarkMapPutGrow[int64], nil, benchmarkMapPutGrow[string])
}

func BenchmarkMapPutPreAllocate(b *testing.B) {
	benchImpls(b, benchmarkMapPutPreAllocate[int64], nil, benchmarkMapPutPreAllocate[string])
}

func BenchmarkMapPutDelete(b *testing.B) {
	benchImpls(b, benchmarkMapPutDelete[int64], nil, benchmarkMapPutDelete[string])
}

// BenchmarkConcurrentPut has GOMAXPROCS goroutines insert disjoint keys into
// one shared map starting from the default capacity, so the benchmark
// includes every resize.
func BenchmarkConcurrentPut(b *testing.B) {
	b.Run("impl=syncMutexMap", func(b *testing.B) {
		var mu sync.Mutex
		m := make(map[int64]int64)
		var next atomic.Int64
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				k := next.Add(1)
				mu.Lock()
				m[k] = k
				mu.Unlock()
			}
		})
	})
	b.Run("impl=cuckooMap", func(b *testing.B) {
		cs := perfbench.Open(b)
		m := New[int64, int64](0)
		var next atomic.Int64
		cs.Reset()
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				k := next.Add(1)
				if err := m.Put(k, k); err != nil {
					b.Error(err)
					return
				}
			}
		})
	})
}

// BenchmarkConcurrentGet has GOMAXPROCS goroutines look up random present
// keys in a shared map.
func BenchmarkConcurrentGet(b *testing.B) {
	const n = 1 << 16
	keys := genKeys[int64](0, n)

	b.Run("impl=syncRWMutexMap", func(b *testing.B) {
		var mu sync.RWMutex
		m := make(map[int64]int64, n)
		for _, k := range keys {
			m[k] = k
		}
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			r := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
			for pb.Next() {
				mu.RLock()
				_ = m[keys[r.IntN(n)]]
				mu.RUnlock()
			}
		})
	})
	b.Run("impl=cuckooMap", func(b *testing.B) {
		cs := perfbench.Open(b)
		m := New[int64, int64](n)
		for _, k := range keys {
			if err := m.Put(k, k); err != nil {
				b.Fatal(err)
			}
		}
		cs.Reset()
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			r := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
			var ok bool
			for pb.Next() {
				_, ok = m.Get(keys[r.IntN(n)])
			}
			fmt.Fprint(io.Discard, ok)
		})
	})
}

// BenchmarkConcurrentMixed runs 90% lookups and 10% updates of a fixed key
// set from every P.
func BenchmarkConcurrentMixed(b *testing.B) {
	const n = 1 << 12
	keys := genKeys[string](0, n)
	m := New[string, int](n)
	for i, k := range keys {
		if err := m.Put(k, i); err != nil {
			b.Fatal(err)
		}
	}
	cs := perfbench.Open(b)
	cs.Reset()
	b.ResetTimer()
	b.SetParallelism(runtime.GOMAXPROCS(0))
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		for pb.Next() {
			j := r.IntN(n)
			if r.IntN(10) == 0 {
				_ = m.Put(keys[j], j)
			} else {
				_, _ = m.Get(keys[j])
			}
		}
	})
}

type benchTypes interface {
	int32 | int64 | string
}

func benchSizes[T benchTypes](newMap func(hint int) benchMap[T], f benchFunc[T]) func(*testing.B) {
	cases := []int{6, 12, 18, 24, 30, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 1 << 16}
	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, newMap, n) })
		}
	}
}

// genKeys returns the keys start through end-1 converted to T. Strings are
// freshly allocated on every call.
func genKeys[T benchTypes](start, end int) []T {
	keys := make([]T, end-start)
	for i := range keys {
		switch p := any(&keys[i]).(type) {
		case *int32:
			*p = int32(start + i)
		case *int64:
			*p = int64(start + i)
		case *string:
			*p = strconv.Itoa(start + i)
		}
	}
	return keys
}

func fill[T benchTypes](m benchMap[T], keys []T) benchMap[T] {
	for _, k := range keys {
		m.put(k, k)
	}
	return m
}

func benchmarkMapIter[T benchTypes](b *testing.B, newMap func(int) benchMap[T], n int) {
	m := fill(newMap(n), genKeys[T](0, n))
	b.ResetTimer()
	var tmp T
	for i := 0; i < b.N; i++ {
		m.all(func(k, v T) bool {
			tmp += k + v
			return true
		})
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkMapGetMiss[T benchTypes](b *testing.B, newMap func(int) benchMap[T], n int) {
	m := fill(newMap(0), genKeys[T](0, n))
	miss := genKeys[T](-n, 0)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.get(miss[i%len(miss)])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkMapGetHit[T benchTypes](b *testing.B, newMap func(int) benchMap[T], n int) {
	m := fill(newMap(n), genKeys[T](0, n))
	// Look up with a second copy of the keys so string comparisons cannot
	// short-circuit on pointer equality.
	keys := genKeys[T](0, n)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.get(keys[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkMapPutGrow[T benchTypes](b *testing.B, newMap func(int) benchMap[T], n int) {
	keys := genKeys[T](0, n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fill(newMap(0), keys)
	}
}

func benchmarkMapPutPreAllocate[T benchTypes](b *testing.B, newMap func(int) benchMap[T], n int) {
	keys := genKeys[T](0, n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fill(newMap(n), keys)
	}
}

func benchmarkMapPutDelete[T benchTypes](b *testing.B, newMap func(int) benchMap[T], n int) {
	keys := genKeys[T](0, n)
	m := fill(newMap(n), keys)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		m.del(keys[j])
		m.put(keys[j], keys[j])
	}
}
