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

import "fmt"

// grow doubles the capacity of the map. observed is the capacity at which
// the caller failed to find a relocation path. If another goroutine already
// grew the map past observed, grow does nothing and the caller retries
// against the new table.
//
// Growing is stop-the-world: the exclusive lock is held while every entry is
// re-inserted into a private table, which is only published once complete.
func (m *Map[K, V]) grow(observed uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table
	if t == nil {
		return ErrClosed
	}
	if t.capacity != observed {
		if debug {
			fmt.Printf("grow(%d): already grown to %d\n", observed, t.capacity)
		}
		return nil
	}

	entries := t.entries(make([]Entry[K, V], 0, m.used.Load()))
	nt, err := m.rehash(entries, 2*observed)
	if err != nil {
		return err
	}
	if debug {
		fmt.Printf("grow(%d): capacity=%d entries=%d\n", observed, nt.capacity, len(entries))
	}

	m.table = nt
	m.allocator.FreeSlots(t.slots)
	t.slots = nil
	// A rehash may have doubled more than once.
	for c := observed; c < nt.capacity; c *= 2 {
		m.growths.Add(1)
	}
	nt.checkInvariants(m, len(entries))
	return nil
}

// rehash builds a new table of at least the given capacity holding entries.
// The table is private to the caller, so the ordinary insertion algorithm
// runs against it without contention. If an entry cannot be placed the
// partially filled table is discarded and rehash starts over at double the
// capacity, up to the growth limit.
func (m *Map[K, V]) rehash(entries []Entry[K, V], capacity uintptr) (*table[K, V], error) {
	path := make([]uintptr, 0, m.maxRelocations+1)
outer:
	for {
		if err := m.checkGrowth(capacity, len(entries)); err != nil {
			return nil, err
		}
		nt := newTable(m, capacity)
		for i := range entries {
			e := &entries[i]
			for {
				res, _ := nt.put(m, &e.Key, e.Value, path)
				if res == putDone {
					break
				}
				if res == putFull {
					if debug {
						fmt.Printf("rehash(%d): no path for %v, doubling\n", capacity, e.Key)
					}
					m.allocator.FreeSlots(nt.slots)
					capacity *= 2
					continue outer
				}
			}
		}
		return nt, nil
	}
}

// checkGrowth returns ErrGrowthLimit if a table of the given capacity would
// exceed the growth factor for n live entries plus the one being inserted.
func (m *Map[K, V]) checkGrowth(capacity uintptr, n int) error {
	limit := uintptr(m.maxGrowthFactor) * max(uintptr(n+1), m.initialCapacity)
	if capacity > limit {
		return fmt.Errorf("%w: capacity %d exceeds limit %d for %d entries",
			ErrGrowthLimit, capacity, limit, n)
	}
	return nil
}
