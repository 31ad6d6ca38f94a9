// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cuckoo

import (
	"fmt"
	"math/rand/v2"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func sortEntries[K interface{ ~int | ~string }, V any]() cmp.Option {
	return cmpopts.SortSlices(func(a, b Entry[K, V]) bool { return a.Key < b.Key })
}

func TestConcurrentTwoWriters(t *testing.T) {
	for iter := 0; iter < 100; iter++ {
		m := New[string, string](0)
		var wg sync.WaitGroup
		var want []Entry[string, string]
		for g := 0; g < 2; g++ {
			var keys []Entry[string, string]
			for i := 0; i < 7; i++ {
				n := g*7 + i
				keys = append(keys, Entry[string, string]{
					Key:   fmt.Sprintf("key%d", n),
					Value: fmt.Sprintf("value%d", n),
				})
			}
			want = append(want, keys...)

			wg.Add(1)
			go func() {
				defer wg.Done()
				for _, e := range keys {
					if err := m.Put(e.Key, e.Value); err != nil {
						t.Error(err)
						return
					}
				}
			}()
		}
		wg.Wait()

		got := m.Snapshot()
		if diff := cmp.Diff(want, got, sortEntries[string, string]()); diff != "" {
			t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
		}
		m.verify(t)
	}
}

func TestConcurrentNoLoss(t *testing.T) {
	const numWriters = 8
	const numEntries = 2000
	m := New[int, int](0)
	cdone := make(chan bool)
	for w := 0; w < numWriters; w++ {
		go func(w int) {
			defer func() { cdone <- true }()
			for i := 0; i < numEntries; i++ {
				k := w*numEntries + i
				if err := m.Put(k, -k); err != nil {
					t.Errorf("put %d: %v", k, err)
					return
				}
			}
		}(w)
	}
	// Wait for the goroutines to finish.
	for w := 0; w < numWriters; w++ {
		<-cdone
	}

	require.EqualValues(t, numWriters*numEntries, m.Len())
	for k := 0; k < numWriters*numEntries; k++ {
		v, ok := m.Get(k)
		require.True(t, ok, "key %d", k)
		require.EqualValues(t, -k, v)
	}
	require.Len(t, m.Snapshot(), numWriters*numEntries)
	m.verify(t)
}

func parallelSeqStorer(
	t *testing.T, m *Map[string, int], storeEach, numIters, numEntries int, cdone chan bool,
) {
	defer func() { cdone <- true }()
	for i := 0; i < numIters; i++ {
		for j := 0; j < numEntries; j++ {
			if storeEach == 0 || j%storeEach == 0 {
				if err := m.Put(strconv.Itoa(j), j); err != nil {
					t.Error(err)
					return
				}
				// Keys are never deleted, so we must see a "<j>"/j pair.
				v, ok := m.Get(strconv.Itoa(j))
				if !ok {
					t.Errorf("value was not found for %d", j)
					return
				}
				if v != j {
					t.Errorf("value was not expected for %d: %d", j, v)
					return
				}
			}
		}
	}
}

func TestConcurrentStores(t *testing.T) {
	const numStorers = 4
	const numIters = 1000
	const numEntries = 100
	m := New[string, int](0)
	cdone := make(chan bool)
	for i := 0; i < numStorers; i++ {
		go parallelSeqStorer(t, m, i, numIters, numEntries, cdone)
	}
	// Wait for the goroutines to finish.
	for i := 0; i < numStorers; i++ {
		<-cdone
	}
	// Verify map contents.
	for i := 0; i < numEntries; i++ {
		v, ok := m.Get(strconv.Itoa(i))
		require.True(t, ok, "value not found for %d", i)
		require.EqualValues(t, i, v)
	}
	require.EqualValues(t, numEntries, m.Len())
	m.verify(t)
}

func parallelRandStorer(t *testing.T, m *Map[string, int], numIters, numEntries int, cdone chan bool) {
	defer func() { cdone <- true }()
	for i := 0; i < numIters; i++ {
		j := rand.IntN(numEntries)
		if err := m.Put(strconv.Itoa(j), j); err != nil {
			t.Error(err)
			return
		}
	}
}

func parallelRandDeleter(t *testing.T, m *Map[string, int], numIters, numEntries int, cdone chan bool) {
	defer func() { cdone <- true }()
	for i := 0; i < numIters; i++ {
		j := rand.IntN(numEntries)
		if v, ok := m.Delete(strconv.Itoa(j)); ok && v != j {
			t.Errorf("value was not expected for %d: %d", j, v)
		}
	}
}

func parallelLoader(t *testing.T, m *Map[string, int], numIters, numEntries int, cdone chan bool) {
	defer func() { cdone <- true }()
	for i := 0; i < numIters; i++ {
		for j := 0; j < numEntries; j++ {
			// We must either see no entry, or a "<j>"/j pair.
			if v, ok := m.Get(strconv.Itoa(j)); ok && v != j {
				t.Errorf("value was not expected for %d: %d", j, v)
			}
		}
	}
}

func TestConcurrentStoresDeletesLoads(t *testing.T) {
	const numWorkers = 2
	const numIters = 20_000
	const numEntries = 1000
	m := New[string, int](0)
	cdone := make(chan bool)
	for i := 0; i < numWorkers; i++ {
		go parallelRandStorer(t, m, numIters, numEntries, cdone)
		go parallelRandDeleter(t, m, numIters, numEntries, cdone)
		go parallelLoader(t, m, numIters/numEntries, numEntries, cdone)
	}
	// Wait for the goroutines to finish.
	for i := 0; i < 3*numWorkers; i++ {
		<-cdone
	}

	// The live counter agrees with the contents once everything is quiet.
	require.EqualValues(t, len(m.Snapshot()), m.Len())
	m.verify(t)
}

// TestConcurrentLookupDuringRelocation checks that entries being moved by
// relocations and resizes are always visible to lookups.
func TestConcurrentLookupDuringRelocation(t *testing.T) {
	const numStable = 500
	const numWriters = 4
	const numEntries = 5000
	m := New[int, int](0, WithMaxRelocations[int, int](16))
	for k := 0; k < numStable; k++ {
		require.NoError(t, m.Put(k, k))
	}

	var stop atomic.Bool
	cdone := make(chan bool)
	for w := 0; w < numWriters; w++ {
		go func(w int) {
			defer func() { cdone <- true }()
			for i := 0; i < numEntries; i++ {
				k := numStable + w*numEntries + i
				if err := m.Put(k, k); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	readers := runtime.GOMAXPROCS(0)
	for r := 0; r < readers; r++ {
		go func() {
			defer func() { cdone <- true }()
			for !stop.Load() {
				k := rand.IntN(numStable)
				if v, ok := m.Get(k); !ok || v != k {
					t.Errorf("lookup of %d during relocation: %d, %t", k, v, ok)
					return
				}
			}
		}()
	}
	for w := 0; w < numWriters; w++ {
		<-cdone
	}
	stop.Store(true)
	for r := 0; r < readers; r++ {
		<-cdone
	}

	require.EqualValues(t, numStable+numWriters*numEntries, m.Len())
	require.Greater(t, m.Stats().Relocations, uint64(0))
	m.verify(t)
}

// TestConcurrentModel runs randomized concurrent schedules and compares the
// final contents against a sequential reference model. Each worker owns a
// disjoint range of keys, so the final state of every key is determined by
// the order of that worker's own operations. All workers additionally write
// the same values to a shared range of keys to provoke races on identical
// keys, which must never leave duplicates behind.
func TestConcurrentModel(t *testing.T) {
	testCases := []struct {
		initialCapacity int
		maxRelocations  int
	}{
		{0, DefaultMaxRelocations},
		{1, DefaultMaxRelocations},
		{4, 2},
		{64, 1},
	}
	for _, c := range testCases {
		t.Run(fmt.Sprintf("capacity=%d/max-relocations=%d", c.initialCapacity, c.maxRelocations),
			func(t *testing.T) {
				for seed := uint64(0); seed < 10; seed++ {
					runModel(t, seed, c.initialCapacity, c.maxRelocations)
				}
			})
	}
}

func runModel(t *testing.T, seed uint64, initialCapacity, maxRelocations int) {
	const numWorkers = 4
	const numOps = 2000
	const keysPerWorker = 200
	const sharedKeys = 50

	m := New[int, int](initialCapacity, WithMaxRelocations[int, int](maxRelocations))
	models := make([]map[int]int, numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		model := make(map[int]int)
		models[w] = model
		r := rand.New(rand.NewPCG(seed, uint64(w)))
		base := sharedKeys + w*keysPerWorker

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < numOps; i++ {
				switch op := r.IntN(10); {
				case op < 5:
					k, v := base+r.IntN(keysPerWorker), r.Int()
					if err := m.Put(k, v); err != nil {
						t.Error(err)
						return
					}
					model[k] = v
				case op < 7:
					k := base + r.IntN(keysPerWorker)
					v, ok := m.Delete(k)
					mv, mok := model[k]
					if ok != mok || v != mv {
						t.Errorf("delete(%d) = %d, %t; model %d, %t", k, v, ok, mv, mok)
						return
					}
					delete(model, k)
				case op < 9:
					k := base + r.IntN(keysPerWorker)
					v, ok := m.Get(k)
					mv, mok := model[k]
					if ok != mok || v != mv {
						t.Errorf("get(%d) = %d, %t; model %d, %t", k, v, ok, mv, mok)
						return
					}
				default:
					k := r.IntN(sharedKeys)
					if err := m.Put(k, -k); err != nil {
						t.Error(err)
						return
					}
				}
			}
			// Make sure every shared key ends up present.
			for k := 0; k < sharedKeys; k++ {
				if err := m.Put(k, -k); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}

	var want []Entry[int, int]
	for k := 0; k < sharedKeys; k++ {
		want = append(want, Entry[int, int]{Key: k, Value: -k})
	}
	for _, model := range models {
		for k, v := range model {
			want = append(want, Entry[int, int]{Key: k, Value: v})
		}
	}
	if diff := cmp.Diff(want, m.Snapshot(), sortEntries[int, int]()); diff != "" {
		t.Fatalf("seed %d: snapshot mismatch (-want +got):\n%s", seed, diff)
	}
	require.EqualValues(t, len(want), m.Len())
	m.verify(t)
}

// TestConcurrentContention hammers a handful of keys from many goroutines
// with a hop bound of 1 so that relocation paths are frequently invalidated.
func TestConcurrentContention(t *testing.T) {
	const numKeys = 64
	const numIters = 5000
	workers := 2 * runtime.GOMAXPROCS(0)
	m := New[int, int](2, WithMaxRelocations[int, int](1))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < numIters; i++ {
				k := rand.IntN(numKeys)
				switch rand.IntN(4) {
				case 0:
					m.Delete(k)
				case 1:
					if v, ok := m.Get(k); ok && v != k {
						t.Errorf("get(%d) = %d", k, v)
						return
					}
				default:
					if err := m.Put(k, k); err != nil {
						t.Error(err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	entries := m.Snapshot()
	seen := make(map[int]bool)
	for _, e := range entries {
		require.False(t, seen[e.Key], "duplicate key %d", e.Key)
		seen[e.Key] = true
		require.EqualValues(t, e.Key, e.Value)
	}
	require.EqualValues(t, len(entries), m.Len())
	m.verify(t)
	if testing.Verbose() {
		fmt.Print(m.Stats())
	}
}
