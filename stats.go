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
)

// MapStats is Map statistics.
//
// Map statistics are intended for diagnostics and tests. Fields may be added
// or changed between releases.
type MapStats struct {
	// Capacity is the number of slots in the current table.
	Capacity int
	// Size is the number of occupied slots, counted by scanning the table.
	Size int
	// Counter is the number of entries according to the live counter. In
	// case of concurrent modifications it may differ from Size.
	Counter int
	// EmptySlots is the number of unoccupied slots.
	EmptySlots int
	// LoadFactor is Size divided by Capacity.
	LoadFactor float64
	// TotalGrowths is the number of times the capacity doubled.
	TotalGrowths uint32
	// Relocations is the number of entries moved to their alternate home
	// to make room for an insertion, including moves made while rehashing.
	Relocations uint64
	// Retries is the number of insertion attempts abandoned because a
	// concurrent mutation invalidated a relocation path.
	Retries uint64
}

// Stats returns statistics for the Map. It is safe to call concurrently
// with other operations, but scans every slot, so it should be used only for
// diagnostics. Each slot is locked individually, so under concurrent
// modification Size is not an exact snapshot.
func (m *Map[K, V]) Stats() *MapStats {
	m.mustBeUsable()
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.current()
	stats := &MapStats{
		Capacity:     int(t.capacity),
		Counter:      m.Len(),
		TotalGrowths: m.growths.Load(),
		Relocations:  m.relocations.Load(),
		Retries:      m.retries.Load(),
	}
	for i := range t.slots {
		s := &t.slots[i]
		s.mu.Lock()
		used := s.used
		s.mu.Unlock()
		if used {
			stats.Size++
		} else {
			stats.EmptySlots++
		}
	}
	stats.LoadFactor = float64(stats.Size) / float64(stats.Capacity)
	return stats
}

// String returns a string representation of map stats.
func (s *MapStats) String() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	fmt.Fprintf(&sb, "Capacity:     %d\n", s.Capacity)
	fmt.Fprintf(&sb, "Size:         %d\n", s.Size)
	fmt.Fprintf(&sb, "Counter:      %d\n", s.Counter)
	fmt.Fprintf(&sb, "EmptySlots:   %d\n", s.EmptySlots)
	fmt.Fprintf(&sb, "LoadFactor:   %.3f\n", s.LoadFactor)
	fmt.Fprintf(&sb, "TotalGrowths: %d\n", s.TotalGrowths)
	fmt.Fprintf(&sb, "Relocations:  %d\n", s.Relocations)
	fmt.Fprintf(&sb, "Retries:      %d\n", s.Retries)
	sb.WriteString("}\n")
	return sb.String()
}
