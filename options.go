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

// option provide an interface to do work on Map while it is being created.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K comparable, V any] struct {
	hash func(key *K, seed uint64) uint64
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
// The function is invoked twice per key with different seeds to derive the
// two candidate slots, so it must mix the seed into its result. It replaces
// the default xxh3/xxhash pair along with any encoder set by WithKeyEncoder.
func WithHash[K comparable, V any](hash func(key *K, seed uint64) uint64) option[K, V] {
	return hashOption[K, V]{hash}
}

type keyEncoderOption[K comparable, V any] struct {
	encode func(dst []byte, key K) []byte
}

func (op keyEncoderOption[K, V]) apply(m *Map[K, V]) {
	m.encode = op.encode
}

// WithKeyEncoder is an option to specify how a key is turned into the byte
// sequence fed to the default hash functions. The encoder must append a
// deterministic representation of key to dst such that equal keys always
// produce equal bytes.
func WithKeyEncoder[K comparable, V any](encode func(dst []byte, key K) []byte) option[K, V] {
	return keyEncoderOption[K, V]{encode}
}

type maxRelocationsOption[K comparable, V any] struct {
	n int
}

func (op maxRelocationsOption[K, V]) apply(m *Map[K, V]) {
	if op.n > 0 {
		m.maxRelocations = op.n
	}
}

// WithMaxRelocations is an option to specify the hop bound: the maximum
// number of entries an insertion may displace before the map gives up and
// doubles its capacity. Values <= 0 are ignored.
func WithMaxRelocations[K comparable, V any](n int) option[K, V] {
	return maxRelocationsOption[K, V]{n}
}

type maxGrowthFactorOption[K comparable, V any] struct {
	factor int
}

func (op maxGrowthFactorOption[K, V]) apply(m *Map[K, V]) {
	if op.factor > 0 {
		m.maxGrowthFactor = op.factor
	}
}

// WithMaxGrowthFactor is an option to bound how far capacity may outgrow the
// number of live entries. A resize that would produce a capacity larger than
// factor*max(len+1, initialCapacity) fails with ErrGrowthLimit instead.
// Values <= 0 are ignored.
func WithMaxGrowthFactor[K comparable, V any](factor int) option[K, V] {
	return maxGrowthFactorOption[K, V]{factor}
}

// Allocator specifies an interface for allocating and releasing memory used
// by a Map. The default allocator utilizes Go's builtin make() and allows the
// GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Map.Close must be called in order to ensure FreeSlots is called
// for the final set of slots. Slots replaced by a resize are freed as soon as
// the resize publishes the larger set.
type Allocator[K comparable, V any] interface {
	// AllocSlots should return a slice equivalent to make([]Slot[K,V], n).
	AllocSlots(n int) []Slot[K, V]

	// FreeSlots can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocSlots.
	FreeSlots(v []Slot[K, V])
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocSlots(n int) []Slot[K, V] {
	return make([]Slot[K, V], n)
}

func (defaultAllocator[K, V]) FreeSlots(v []Slot[K, V]) {
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}
