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

package main

import (
	"fmt"
	"io"
	"sync"
)

func formatLookup(v string, ok bool) string {
	if !ok {
		return "<absent>"
	}
	return v
}

// runDemo exercises every operation on a Map[string, string], first from a
// single goroutine and then from one goroutine per key.
func runDemo(out io.Writer, cfg Config) error {
	m := newMap[string, string](cfg)
	put := func(k, v string) error {
		if err := m.Put(k, v); err != nil {
			return fmt.Errorf("put %s: %w", k, err)
		}
		return nil
	}

	for i := 1; i <= 5; i++ {
		if err := put(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i)); err != nil {
			return err
		}
	}
	fmt.Fprintln(out, m)
	for i := 6; i <= 10; i++ {
		if err := put(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i)); err != nil {
			return err
		}
	}

	for _, k := range []string{"key1", "key2", "key100"} {
		v, ok := m.Get(k)
		fmt.Fprintf(out, "Lookup %s: %s\n", k, formatLookup(v, ok))
	}
	fmt.Fprintln(out, m)

	m.Delete("key2")
	v, ok := m.Get("key2")
	fmt.Fprintf(out, "Lookup key2 after removal: %s\n", formatLookup(v, ok))
	for _, k := range []string{"key1", "key3"} {
		v, ok := m.Get(k)
		fmt.Fprintf(out, "Lookup %s: %s\n", k, formatLookup(v, ok))
	}
	fmt.Fprintln(out, m)

	if err := put("key2", "value2new"); err != nil {
		return err
	}
	v, ok = m.Get("key2")
	fmt.Fprintf(out, "Lookup key2: %s\n", formatLookup(v, ok))

	// A fresh map filled concurrently.
	m = newMap[string, string](cfg)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 1; i <= 14; i++ {
		k, v := fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Put(k, v)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fmt.Fprintf(out, "Failed to insert (%s, %s): %v\n", k, v, err)
				return
			}
			fmt.Fprintf(out, "Inserted (%s, %s)\n", k, v)
		}()
	}
	wg.Wait()
	fmt.Fprintln(out, m)
	fmt.Fprint(out, m.Stats())
	return nil
}
