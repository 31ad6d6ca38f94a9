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

// package cuckoo is a Go implementation of a concurrent cuckoo hash table.
// See https://en.wikipedia.org/wiki/Cuckoo_hashing and the original paper:
//
//	Pagh, Rodler. Cuckoo Hashing. Journal of Algorithms 51 (2004).
//
// # Cuckoo Hashing
//
// Every key has exactly two candidate slots ("homes"), computed by two
// independent hash functions reduced modulo the table capacity. A key is
// always stored in one of its homes, so a lookup inspects at most two slots
// no matter how full the table is. The price is paid at insertion time: if
// both homes are occupied, the insertion looks for a chain of entries that
// can each be moved to their own alternate home, ending in an empty slot.
// Shifting the chain frees one of the new key's homes. Chains are bounded in
// length (the hop bound, see WithMaxRelocations). If neither home starts a
// short enough chain the table doubles in capacity and every entry is
// re-inserted.
//
// The hash seeds are derived from the capacity, so doubling re-randomizes
// the placement of every key. Keys that happen to collide on both hashes at
// one capacity will almost certainly not collide at the next. Only keys
// whose full 64-bit hashes collide (or a hash function that ignores its
// seed) can defeat doubling, and for those the map gives up with
// ErrGrowthLimit rather than growing forever.
//
// # Concurrency
//
// A Map is safe for concurrent use. It uses two levels of locking:
//
//   - A sync.RWMutex guards the table as a whole. Put, Get and Delete hold it
//     in shared mode and so run in parallel with each other. Growing the
//     table holds it in exclusive mode, stopping all other operations until
//     the larger table has been built and published.
//   - Each slot has its own sync.Mutex. An operation that needs two slots at
//     once (both homes of a key, or the two ends of one relocation step)
//     always locks the lower index first. That total order is the only
//     deadlock avoidance needed.
//
// Searching for a relocation chain locks one slot at a time, so the chain it
// finds may be stale by the time it is used. Shifting re-validates every
// step under the locks of both slots involved and abandons the attempt on
// any mismatch. The insertion then starts over. Abandoning half way is safe
// because each completed step only moved an entry from one of its homes to
// the other.
//
// Get and Delete lock both homes of the key at once. A relocation moves an
// entry between its homes while holding both of their locks, so a lookup can
// never miss an entry that is in flight.
//
// # Hashing
//
// By default a key is encoded to bytes (see WithKeyEncoder) which are hashed
// with xxh3 for the first home and xxhash64 for the second. The default
// encoding follows ==, like the builtin map: pointer keys hash by address and
// an interface key holding an uncomparable value panics. WithHash installs a
// single custom function which is called with two different seeds.
//
// # Errors
//
// Put returns ErrGrowthLimit when a key cannot be placed and ErrPoisoned
// once the map is poisoned. A map is poisoned when an operation panics while
// holding its locks, for example because a custom hash function panicked.
// The panic is propagated to the caller that caused it. Every later Put
// returns ErrPoisoned and every later Get, Delete or iteration panics with
// it, since the contents can no longer be trusted.
package cuckoo

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const (
	debug = false

	// DefaultInitialCapacity is the number of slots a Map starts with when
	// no initial capacity is given.
	DefaultInitialCapacity = 13
	// DefaultMaxRelocations is the default hop bound.
	DefaultMaxRelocations = 8
	// DefaultMaxGrowthFactor is the default bound on capacity relative to
	// the number of live entries. See WithMaxGrowthFactor.
	DefaultMaxGrowthFactor = 64
)

// Entry is a key and value, as returned by Map.Snapshot.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Map is an unordered map from keys to values with Put, Get, Delete, and All
// operations, based on cuckoo hashing with two candidate slots per key.
//
// A Map is goroutine-safe. The zero value for a Map is not usable; create
// one with New.
type Map[K comparable, V any] struct {
	// A custom hash function set by WithHash, or nil to hash the output of
	// encode with the default pair of hash functions.
	hash   func(key *K, seed uint64) uint64
	encode func(dst []byte, key K) []byte
	seed   uint64
	// The allocator to use for slots.
	allocator       Allocator[K, V]
	maxRelocations  int
	maxGrowthFactor int
	initialCapacity uintptr

	// mu is held shared by operations on the current table and exclusively
	// while the table is replaced, cleared or closed.
	mu sync.RWMutex
	// table is nil once the map is closed.
	table *table[K, V]

	// Keep the frequently written counters off the cache line holding mu.
	_ cpu.CacheLinePad

	// The number of live entries.
	used        atomic.Int64
	growths     atomic.Uint32
	relocations atomic.Uint64
	retries     atomic.Uint64
	poisoned    atomic.Pointer[poisonError]
}

// New constructs a new Map with the specified initial capacity. If
// initialCapacity is <= 0 the map starts out with DefaultInitialCapacity
// slots.
func New[K comparable, V any](initialCapacity int, options ...option[K, V]) *Map[K, V] {
	if initialCapacity <= 0 {
		initialCapacity = DefaultInitialCapacity
	}
	m := &Map[K, V]{
		seed:            rand.Uint64(),
		allocator:       defaultAllocator[K, V]{},
		maxRelocations:  DefaultMaxRelocations,
		maxGrowthFactor: DefaultMaxGrowthFactor,
		initialCapacity: uintptr(initialCapacity),
	}

	for _, op := range options {
		op.apply(m)
	}
	if m.hash == nil && m.encode == nil {
		m.encode = defaultKeyEncoder[K]()
	}

	m.table = newTable(m, m.initialCapacity)
	m.table.checkInvariants(m, 0)
	return m
}

// Close closes the map, releasing any memory back to its configured
// allocator. It is unnecessary to close a map using the default allocator.
// It is invalid to use a Map after it has been closed: Put returns ErrClosed
// and other operations panic. Close itself is idempotent.
func (m *Map[K, V]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.table == nil {
		return
	}
	m.allocator.FreeSlots(m.table.slots)
	m.table = nil
	m.used.Store(0)
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists. It only fails if the key cannot be
// placed without exceeding the growth limit (ErrGrowthLimit), if the map is
// poisoned (ErrPoisoned), or if the map is closed (ErrClosed).
func (m *Map[K, V]) Put(key K, value V) error {
	defer m.poisonOnPanic()

	path := make([]uintptr, 0, m.maxRelocations+1)
	for {
		if err := m.err(); err != nil {
			return err
		}
		res, capacity, err := m.tryPut(&key, value, path)
		if err != nil {
			return err
		}
		switch res {
		case putDone:
			return nil
		case putRetry:
			m.retries.Add(1)
		case putFull:
			if err := m.grow(capacity); err != nil {
				return err
			}
		}
	}
}

// tryPut makes a single insertion attempt against the current table,
// returning the capacity it observed.
func (m *Map[K, V]) tryPut(key *K, value V, path []uintptr) (putResult, uintptr, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.table
	if t == nil {
		return putDone, 0, ErrClosed
	}
	res, inserted := t.put(m, key, value, path)
	if inserted {
		m.used.Add(1)
	}
	return res, t.capacity, nil
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	m.mustBeUsable()
	defer m.poisonOnPanic()
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.current()
	i1, i2 := m.homes(&key, t.capacity)
	t.lock2(i1, i2)
	defer t.unlock2(i1, i2)

	if s := t.find(&key, i1, i2); s != nil {
		return s.value, true
	}
	return value, false
}

// Delete deletes the entry corresponding to the specified key from the map,
// returning the removed value. It is a noop to delete a non-existent key.
// Deleting never shrinks the map.
func (m *Map[K, V]) Delete(key K) (value V, ok bool) {
	m.mustBeUsable()
	defer m.poisonOnPanic()
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.current()
	i1, i2 := m.homes(&key, t.capacity)
	t.lock2(i1, i2)
	defer t.unlock2(i1, i2)

	if s := t.find(&key, i1, i2); s != nil {
		value = s.value
		s.reset()
		m.used.Add(-1)
		return value, true
	}
	return value, false
}

// Snapshot returns a copy of every entry in the map. All slots are locked
// while the copy is taken, so the result is consistent as of a single
// instant, though it may be stale as soon as it is returned. The order of
// the entries is unspecified.
func (m *Map[K, V]) Snapshot() []Entry[K, V] {
	m.mustBeUsable()
	defer m.poisonOnPanic()
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current().snapshot()
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, range stops the iteration. All iterates over a
// snapshot (see Snapshot), so the map can be mutated during iteration,
// including from yield, without the mutations being visible to the
// iteration.
//
// The signature conforms to range-over-function iterators:
//
//	for k, v := range m.All {
//	}
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	for _, e := range m.Snapshot() {
		if !yield(e.Key, e.Value) {
			return
		}
	}
}

// ToMap returns the contents of the map as a builtin map.
func (m *Map[K, V]) ToMap() map[K]V {
	entries := m.Snapshot()
	r := make(map[K]V, len(entries))
	for _, e := range entries {
		r[e.Key] = e.Value
	}
	return r
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return int(m.used.Load())
}

// Capacity returns the number of slots in the map. It is 0 once the map is
// closed.
func (m *Map[K, V]) Capacity() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.table == nil {
		return 0
	}
	return int(m.table.capacity)
}

// Clear deletes all entries from the map. The capacity is unchanged.
func (m *Map[K, V]) Clear() {
	m.mustBeUsable()
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.current()
	for i := range t.slots {
		t.slots[i].reset()
	}
	m.used.Store(0)
	t.checkInvariants(m, 0)
}

// String renders the entries of the map, one per line.
func (m *Map[K, V]) String() string {
	var buf strings.Builder
	buf.WriteString("[\n")
	for _, e := range m.Snapshot() {
		fmt.Fprintf(&buf, "(%v, %v),\n", e.Key, e.Value)
	}
	buf.WriteString("]")
	return buf.String()
}

// current returns the live table. The caller must hold mu.
func (m *Map[K, V]) current() *table[K, V] {
	t := m.table
	if t == nil {
		panic(ErrClosed)
	}
	return t
}

// err returns the error recorded when the map was poisoned, if any.
func (m *Map[K, V]) err() error {
	if p := m.poisoned.Load(); p != nil {
		return p
	}
	return nil
}

// mustBeUsable panics if the map is poisoned. It is used by operations that
// have no error result.
func (m *Map[K, V]) mustBeUsable() {
	if err := m.err(); err != nil {
		panic(err)
	}
}

// poisonOnPanic must be deferred by every operation that takes slot locks.
// If the operation panics, the map is marked poisoned before the panic
// continues to unwind. Deferred unlocks in the panicking frames have already
// run, so the locks themselves are released.
func (m *Map[K, V]) poisonOnPanic() {
	if r := recover(); r != nil {
		if !isMapError(r) {
			m.poisoned.CompareAndSwap(nil, &poisonError{cause: r})
		}
		panic(r)
	}
}
