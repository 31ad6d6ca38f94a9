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
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sync"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

var encodeBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 64)
		return &b
	},
}

var digestPool = sync.Pool{
	New: func() any {
		return xxhash.New()
	},
}

// homes returns the two candidate slot indices of key in a table with the
// given capacity. The indices coincide when both hashes land on the same
// slot, in which case the key has a single home.
//
// The seeds depend on the capacity so that every doubling re-randomizes the
// placement of all keys rather than only splitting each slot in two. Keys
// that collided on both hashes at one capacity are unlikely to collide again
// at the next.
func (m *Map[K, V]) homes(key *K, capacity uintptr) (uintptr, uintptr) {
	n := uint64(capacity)
	seed := m.seed + 2*n
	if m.hash != nil {
		return uintptr(m.hash(key, seed) % n), uintptr(m.hash(key, seed+1) % n)
	}

	bp := encodeBufPool.Get().(*[]byte)
	b := m.encode((*bp)[:0], *key)

	h1 := xxh3.HashSeed(b, seed)

	d := digestPool.Get().(*xxhash.Digest)
	d.ResetWithSeed(seed + 1)
	_, _ = d.Write(b)
	h2 := d.Sum64()
	digestPool.Put(d)

	*bp = b
	encodeBufPool.Put(bp)

	if debug {
		fmt.Printf("homes(%v): capacity=%d h1=%016x h2=%016x\n", *key, capacity, h1, h2)
	}
	return uintptr(h1 % n), uintptr(h2 % n)
}

// defaultKeyEncoder returns the encoder used when WithKeyEncoder is not
// given. Strings, booleans and the builtin numeric types are appended
// directly. Every other key goes through appendValue, which encodes keys
// that compare equal identically.
func defaultKeyEncoder[K comparable]() func(dst []byte, key K) []byte {
	var k K
	switch any(k).(type) {
	case string:
		return func(dst []byte, key K) []byte {
			return append(dst, *(*string)(unsafe.Pointer(&key))...)
		}
	case bool:
		return func(dst []byte, key K) []byte {
			if *(*bool)(unsafe.Pointer(&key)) {
				return append(dst, 1)
			}
			return append(dst, 0)
		}
	case int:
		return func(dst []byte, key K) []byte {
			return binary.LittleEndian.AppendUint64(dst, uint64(*(*int)(unsafe.Pointer(&key))))
		}
	case int8:
		return func(dst []byte, key K) []byte {
			return append(dst, byte(*(*int8)(unsafe.Pointer(&key))))
		}
	case int16:
		return func(dst []byte, key K) []byte {
			return binary.LittleEndian.AppendUint16(dst, uint16(*(*int16)(unsafe.Pointer(&key))))
		}
	case int32:
		return func(dst []byte, key K) []byte {
			return binary.LittleEndian.AppendUint32(dst, uint32(*(*int32)(unsafe.Pointer(&key))))
		}
	case int64:
		return func(dst []byte, key K) []byte {
			return binary.LittleEndian.AppendUint64(dst, uint64(*(*int64)(unsafe.Pointer(&key))))
		}
	case uint:
		return func(dst []byte, key K) []byte {
			return binary.LittleEndian.AppendUint64(dst, uint64(*(*uint)(unsafe.Pointer(&key))))
		}
	case uint8:
		return func(dst []byte, key K) []byte {
			return append(dst, *(*uint8)(unsafe.Pointer(&key)))
		}
	case uint16:
		return func(dst []byte, key K) []byte {
			return binary.LittleEndian.AppendUint16(dst, *(*uint16)(unsafe.Pointer(&key)))
		}
	case uint32:
		return func(dst []byte, key K) []byte {
			return binary.LittleEndian.AppendUint32(dst, *(*uint32)(unsafe.Pointer(&key)))
		}
	case uint64:
		return func(dst []byte, key K) []byte {
			return binary.LittleEndian.AppendUint64(dst, *(*uint64)(unsafe.Pointer(&key)))
		}
	case uintptr:
		return func(dst []byte, key K) []byte {
			return binary.LittleEndian.AppendUint64(dst, uint64(*(*uintptr)(unsafe.Pointer(&key))))
		}
	case float32:
		return func(dst []byte, key K) []byte {
			f := *(*float32)(unsafe.Pointer(&key))
			if f == 0 {
				// Fold -0 into +0.
				f = 0
			}
			return binary.LittleEndian.AppendUint32(dst, *(*uint32)(unsafe.Pointer(&f)))
		}
	case float64:
		return func(dst []byte, key K) []byte {
			f := *(*float64)(unsafe.Pointer(&key))
			if f == 0 {
				f = 0
			}
			return binary.LittleEndian.AppendUint64(dst, *(*uint64)(unsafe.Pointer(&f)))
		}
	}

	return func(dst []byte, key K) []byte {
		return appendValue(dst, reflect.ValueOf(&key).Elem())
	}
}

// appendValue appends an encoding of v that agrees with ==. Floats fold -0
// into +0. Pointers and channels encode their address, not what they point
// to. Blank struct fields are skipped. Interfaces encode their dynamic type
// ahead of their value, and panic with an unhashableError if that type is
// not comparable.
func appendValue(dst []byte, v reflect.Value) []byte {
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return append(dst, 1)
		}
		return append(dst, 0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return appendUint(dst, uint64(v.Int()), v.Type().Size())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return appendUint(dst, v.Uint(), v.Type().Size())
	case reflect.Float32, reflect.Float64:
		return appendFloat(dst, v.Float(), v.Type().Size())
	case reflect.Complex64, reflect.Complex128:
		c, size := v.Complex(), v.Type().Size()/2
		return appendFloat(appendFloat(dst, real(c), size), imag(c), size)
	case reflect.String:
		return appendString(dst, v.String())
	case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		return binary.LittleEndian.AppendUint64(dst, uint64(v.Pointer()))
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			dst = appendValue(dst, v.Index(i))
		}
		return dst
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).Name != "_" {
				dst = appendValue(dst, v.Field(i))
			}
		}
		return dst
	case reflect.Interface:
		if v.IsNil() {
			return append(dst, 0)
		}
		e := v.Elem()
		dst = appendString(append(dst, 1), e.Type().String())
		return appendValue(dst, e)
	}
	panic(&unhashableError{typ: v.Type()})
}

func appendUint(dst []byte, u uint64, size uintptr) []byte {
	switch size {
	case 1:
		return append(dst, byte(u))
	case 2:
		return binary.LittleEndian.AppendUint16(dst, uint16(u))
	case 4:
		return binary.LittleEndian.AppendUint32(dst, uint32(u))
	}
	return binary.LittleEndian.AppendUint64(dst, u)
}

func appendFloat(dst []byte, f float64, size uintptr) []byte {
	if f == 0 {
		// Fold -0 into +0.
		f = 0
	}
	if size == 4 {
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(f)))
	}
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(f))
}

// appendString length-prefixes s so that adjacent fields cannot run into
// each other.
func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}
