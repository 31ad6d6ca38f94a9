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
	"strings"
	"sync"
)

// Slot holds at most one key and value. Each slot is guarded by its own
// mutex.
type Slot[K comparable, V any] struct {
	mu    sync.Mutex
	used  bool
	key   K
	value V
}

func (s *Slot[K, V]) store(key K, value V) {
	s.key = key
	s.value = value
	s.used = true
}

// reset empties the slot, dropping the references held by the old key and
// value so the GC can reclaim them.
func (s *Slot[K, V]) reset() {
	var k K
	var v V
	s.key = k
	s.value = v
	s.used = false
}

// table is a fixed-size array of slots. A table never changes size: growing
// the map builds a new table and swaps it in.
//
// Any code path that needs two slots locked at the same time must go through
// lock2, which acquires them in ascending index order. That order is the only
// thing preventing deadlock between concurrent relocations.
type table[K comparable, V any] struct {
	slots    []Slot[K, V]
	capacity uintptr
}

func newTable[K comparable, V any](m *Map[K, V], capacity uintptr) *table[K, V] {
	slots := m.allocator.AllocSlots(int(capacity))
	// A custom allocator may hand back recycled memory.
	clear(slots)
	return &table[K, V]{
		slots:    slots,
		capacity: capacity,
	}
}

// lock2 locks slots i and j in ascending index order. If i == j only a single
// lock is taken.
func (t *table[K, V]) lock2(i, j uintptr) {
	if i > j {
		i, j = j, i
	}
	t.slots[i].mu.Lock()
	if j != i {
		t.slots[j].mu.Lock()
	}
}

// unlock2 releases the locks taken by lock2(i, j).
func (t *table[K, V]) unlock2(i, j uintptr) {
	t.slots[i].mu.Unlock()
	if j != i {
		t.slots[j].mu.Unlock()
	}
}

// lockAll locks every slot in ascending index order.
func (t *table[K, V]) lockAll() {
	for i := range t.slots {
		t.slots[i].mu.Lock()
	}
}

func (t *table[K, V]) unlockAll() {
	for i := range t.slots {
		t.slots[i].mu.Unlock()
	}
}

// find returns the slot among the homes i1 and i2 that holds key, or nil.
// The caller must hold the locks on both homes.
func (t *table[K, V]) find(key *K, i1, i2 uintptr) *Slot[K, V] {
	if s := &t.slots[i1]; s.used && s.key == *key {
		return s
	}
	if s := &t.slots[i2]; s.used && s.key == *key {
		return s
	}
	return nil
}

// putDirect tries to place key in one of its homes without moving any other
// entry. If the key is already present in either home its value is
// overwritten. placed reports whether the key is now stored and inserted
// whether it was not present before.
func (t *table[K, V]) putDirect(key *K, value V, i1, i2 uintptr) (placed, inserted bool) {
	t.lock2(i1, i2)
	defer t.unlock2(i1, i2)

	if s := t.find(key, i1, i2); s != nil {
		s.value = value
		return true, false
	}
	if s := &t.slots[i1]; !s.used {
		s.store(*key, value)
		return true, true
	}
	if s := &t.slots[i2]; !s.used {
		s.store(*key, value)
		return true, true
	}
	return false, false
}

// entries appends every live entry to dst without taking any slot locks.
// The caller must have exclusive access to the table.
func (t *table[K, V]) entries(dst []Entry[K, V]) []Entry[K, V] {
	for i := range t.slots {
		if s := &t.slots[i]; s.used {
			dst = append(dst, Entry[K, V]{Key: s.key, Value: s.value})
		}
	}
	return dst
}

// snapshot returns a copy of every live entry. All slots are locked while
// copying so the result reflects a single instant.
func (t *table[K, V]) snapshot() []Entry[K, V] {
	t.lockAll()
	defer t.unlockAll()
	return t.entries(nil)
}

// verify checks the placement invariants: every live key sits in one of its
// two homes and no key appears twice. It returns the number of live entries.
// The caller must have exclusive access to the table.
func (t *table[K, V]) verify(m *Map[K, V]) (int, error) {
	seen := make(map[K]uintptr)
	for i := range t.slots {
		s := &t.slots[i]
		if !s.used {
			continue
		}
		i1, i2 := m.homes(&s.key, t.capacity)
		if uintptr(i) != i1 && uintptr(i) != i2 {
			return 0, fmt.Errorf("slot(%d): %v is not in a home slot [h1=%d h2=%d]", i, s.key, i1, i2)
		}
		if j, ok := seen[s.key]; ok {
			return 0, fmt.Errorf("slot(%d): %v duplicated in slot(%d)", i, s.key, j)
		}
		seen[s.key] = uintptr(i)
	}
	return len(seen), nil
}

// checkInvariants panics if the table violates its placement invariants or
// holds a different number of entries than expected. It is a no-op unless
// built with the invariants tag.
func (t *table[K, V]) checkInvariants(m *Map[K, V], expected int) {
	if invariants {
		used, err := t.verify(m)
		if err != nil {
			panic(fmt.Sprintf("invariant failed: %v\n%s", err, t.debugString(m)))
		}
		if used != expected {
			panic(fmt.Sprintf("invariant failed: found %d used slots, but expected %d\n%s",
				used, expected, t.debugString(m)))
		}
	}
}

func (t *table[K, V]) debugString(m *Map[K, V]) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d\n", t.capacity)
	for i := range t.slots {
		s := &t.slots[i]
		if !s.used {
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
			continue
		}
		i1, i2 := m.homes(&s.key, t.capacity)
		fmt.Fprintf(&buf, "  %4d: %v [h1=%d h2=%d]\n", i, s.key, i1, i2)
	}
	return buf.String()
}
