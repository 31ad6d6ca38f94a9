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
	"slices"
)

// putResult is the outcome of a single insertion attempt against a table.
type putResult int

const (
	// putDone means the key is stored.
	putDone putResult = iota
	// putRetry means a relocation lost a race with a concurrent mutation.
	// Nothing is lost: the attempt can simply be repeated.
	putRetry
	// putFull means no relocation path exists within the hop bound from
	// either home. The table must grow.
	putFull
)

func (r putResult) String() string {
	switch r {
	case putDone:
		return "done"
	case putRetry:
		return "retry"
	case putFull:
		return "full"
	default:
		return fmt.Sprintf("putResult(%d)", int(r))
	}
}

// put makes one attempt at storing key: first directly into a free or
// matching home, then by shifting a chain of entries to free a home. path is
// scratch space for the chain. inserted reports whether a new key was added
// (as opposed to an existing value being overwritten).
//
// put is used both for the live table, under the map's shared lock, and for
// the private table being filled by a resize.
func (t *table[K, V]) put(m *Map[K, V], key *K, value V, path []uintptr) (res putResult, inserted bool) {
	i1, i2 := m.homes(key, t.capacity)
	if debug {
		fmt.Printf("put(%v): capacity=%d homes=%d,%d\n", *key, t.capacity, i1, i2)
	}
	if placed, inserted := t.putDirect(key, value, i1, i2); placed {
		return putDone, inserted
	}

	starts := [2]uintptr{i1, i2}
	n := 2
	if i1 == i2 {
		n = 1
	}
	for _, start := range starts[:n] {
		p := t.findPath(m, start, path)
		if p == nil {
			continue
		}
		if debug {
			fmt.Printf("put(%v): path=%v\n", *key, p)
		}
		if !t.shiftPath(m, p) {
			return putRetry, false
		}
		if placed, inserted := t.putAt(key, value, p[0], i1, i2); placed {
			return putDone, inserted
		}
		if debug {
			fmt.Printf("put(%v): slot %d taken after shifting\n", *key, p[0])
		}
		return putRetry, false
	}
	return putFull, false
}

// findPath searches for a chain of slots [start, i1, ..., ik] such that slot
// ik is empty and every other slot's occupant has the next slot in the chain
// as its alternate home. Shifting each occupant one step along the chain
// frees start. It returns nil if the chain needs more than maxRelocations
// moves, revisits a slot, or reaches an occupant with a single home.
//
// Only one slot is locked at a time, so the path is advisory: by the time it
// is used any of it may have changed, which shiftPath checks for.
func (t *table[K, V]) findPath(m *Map[K, V], start uintptr, path []uintptr) []uintptr {
	path = append(path[:0], start)
	for {
		cur := path[len(path)-1]
		s := &t.slots[cur]
		s.mu.Lock()
		used, key := s.used, s.key
		s.mu.Unlock()

		if !used {
			return path
		}
		if len(path) > m.maxRelocations {
			return nil
		}

		next, alt := m.homes(&key, t.capacity)
		if next == cur {
			next = alt
		}
		if next == cur || slices.Contains(path, next) {
			return nil
		}
		path = append(path, next)
	}
}

// shiftPath moves the occupants of path one step toward its tail, starting
// with the pair nearest the empty tail slot. Each step re-validates the pair
// under both locks and reports false if a concurrent mutation invalidated
// it. Steps already taken are not undone: each moved an entry from one of
// its homes to the other, so the table is consistent after any prefix.
func (t *table[K, V]) shiftPath(m *Map[K, V], path []uintptr) bool {
	for j := len(path) - 2; j >= 0; j-- {
		if !t.shift(m, path[j], path[j+1]) {
			if debug {
				fmt.Printf("shift(%d -> %d): path invalidated, retrying\n", path[j], path[j+1])
			}
			return false
		}
	}
	return true
}

// shift moves the occupant of slot from into slot to, which must be empty
// and must be the occupant's other home. An empty from slot is a no-op.
func (t *table[K, V]) shift(m *Map[K, V], from, to uintptr) bool {
	t.lock2(from, to)
	defer t.unlock2(from, to)

	dst, src := &t.slots[to], &t.slots[from]
	if dst.used {
		return false
	}
	if !src.used {
		return true
	}
	if i1, i2 := m.homes(&src.key, t.capacity); to != i1 && to != i2 {
		return false
	}
	dst.store(src.key, src.value)
	src.reset()
	m.relocations.Add(1)
	return true
}

// putAt is the final step of a relocation: with both homes locked it stores
// key in slot i, the home that was just freed. If a concurrent insertion put
// the key into either home in the meantime, that entry is updated instead so
// the key never occupies two slots.
func (t *table[K, V]) putAt(key *K, value V, i, i1, i2 uintptr) (placed, inserted bool) {
	t.lock2(i1, i2)
	defer t.unlock2(i1, i2)

	if s := t.find(key, i1, i2); s != nil {
		s.value = value
		return true, false
	}
	if s := &t.slots[i]; !s.used {
		s.store(*key, value)
		return true, true
	}
	return false, false
}
