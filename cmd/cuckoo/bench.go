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
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// benchResult is the outcome of one phase of runBench.
type benchResult struct {
	name    string
	ops     int
	elapsed time.Duration
}

func (r benchResult) String() string {
	secs := r.elapsed.Seconds()
	var mops float64
	if secs > 0 {
		mops = float64(r.ops) / secs / 1e6
	}
	return fmt.Sprintf("%-8s %10d ops  %10.3fms  %8.3f Mops/s",
		r.name, r.ops, secs*1000, mops)
}

// runBench has cfg.Threads goroutines insert cfg.Ops disjoint keys each into
// one shared map, then look up cfg.Ops random keys each.
func runBench(out io.Writer, cfg Config) error {
	m := newMap[int64, int64](cfg)
	total := int64(cfg.Threads) * int64(cfg.Ops)

	fmt.Fprintf(out, "threads=%d ops=%d capacity=%d max-relocations=%d\n",
		cfg.Threads, cfg.Ops, cfg.InitialCapacity, cfg.MaxRelocations)

	var firstErr atomic.Pointer[error]
	insert := parallel(cfg.Threads, func(w int) {
		base := int64(w) * int64(cfg.Ops)
		for i := int64(0); i < int64(cfg.Ops); i++ {
			if err := m.Put(base+i, i); err != nil {
				firstErr.CompareAndSwap(nil, &err)
				return
			}
		}
	})
	if err := firstErr.Load(); err != nil {
		return *err
	}
	fmt.Fprintln(out, benchResult{"insert", int(total), insert})

	var misses atomic.Int64
	lookup := parallel(cfg.Threads, func(w int) {
		r := rand.New(rand.NewPCG(uint64(w), uint64(total)))
		var n int64
		for i := 0; i < cfg.Ops; i++ {
			if _, ok := m.Get(r.Int64N(max(total, 1))); !ok {
				n++
			}
		}
		misses.Add(n)
	})
	fmt.Fprintln(out, benchResult{"lookup", int(total), lookup})
	if n := misses.Load(); n > 0 && total > 0 {
		return fmt.Errorf("%d lookups missed inserted keys", n)
	}

	fmt.Fprint(out, m.Stats())
	return nil
}

// parallel runs fn on n goroutines and returns the wall clock time until
// all of them finish.
func parallel(n int, fn func(w int)) time.Duration {
	var start, wg sync.WaitGroup
	start.Add(1)
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			fn(w)
		}()
	}
	t := time.Now()
	start.Done()
	wg.Wait()
	return time.Since(t)
}
