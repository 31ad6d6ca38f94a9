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
	"errors"
	"fmt"
	"reflect"
)

// Sentinel errors returned (or, for operations without an error result,
// panicked with) by Map operations. Use errors.Is to test for them:
//
//	if err := m.Put(k, v); errors.Is(err, cuckoo.ErrGrowthLimit) {
//	    // the hash function cannot separate the keys
//	}
var (
	// ErrGrowthLimit indicates that an insertion could not find a slot even
	// after the map grew as far as its growth factor allows. This happens
	// when the hash function maps too many keys onto the same pair of slots,
	// which no amount of doubling can fix. The map is left unchanged.
	ErrGrowthLimit = errors.New("cuckoo: growth limit exceeded")

	// ErrPoisoned indicates that an earlier operation panicked while holding
	// the map's locks (typically inside a user supplied hash function, key
	// encoder, or key comparison). The contents of the map can no longer be
	// trusted and every later operation fails.
	ErrPoisoned = errors.New("cuckoo: poisoned")

	// ErrClosed indicates the Map has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("cuckoo: closed")
)

// poisonError records the panic value that poisoned a map.
type poisonError struct {
	cause any
}

func (e *poisonError) Error() string {
	return fmt.Sprintf("%s: panic while holding locks: %v", ErrPoisoned, e.cause)
}

func (e *poisonError) Unwrap() error {
	return ErrPoisoned
}

// unhashableError is panicked when an interface key holds a value whose
// dynamic type is not comparable, like the builtin map does. It is raised
// while hashing the caller's key, before any slot is locked.
type unhashableError struct {
	typ reflect.Type
}

func (e *unhashableError) Error() string {
	return "cuckoo: hash of unhashable type " + e.typ.String()
}

// isMapError reports whether a recovered panic value is one of the errors
// the map raises itself, which must not poison it.
func isMapError(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	var ue *unhashableError
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrPoisoned) || errors.As(err, &ue)
}
