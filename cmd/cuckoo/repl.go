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
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/cuckoo"
	"github.com/peterh/liner"
)

var replCommands = []string{
	"put", "get", "del", "delete",
	"scan", "ls", "len", "cap",
	"stats", "bulk", "seq", "bench",
	"json", "load", "clear",
	"help", "exit", "quit", "q",
}

// REPL is the interactive command loop.
type REPL struct {
	m     *cuckoo.Map[string, string]
	cfg   Config
	out   io.Writer
	liner *liner.State
}

func newREPL(out io.Writer, cfg Config) *REPL {
	return &REPL{
		m:   newMap[string, string](cfg),
		cfg: cfg,
		out: out,
	}
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cuckoo_history")
}

func runREPL(out io.Writer, cfg Config) error {
	return newREPL(out, cfg).Run()
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory()

	fmt.Fprintf(r.out, "cuckoo - concurrent cuckoo map shell (capacity=%d, max-relocations=%d)\n",
		r.m.Capacity(), r.cfg.MaxRelocations)
	fmt.Fprintln(r.out, "Type 'help' for available commands.")
	fmt.Fprintln(r.out)

	for {
		line, err := r.liner.Prompt("cuckoo> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nBye!")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if r.exec(line) {
			fmt.Fprintln(r.out, "Bye!")
			return nil
		}
	}
}

// exec runs a single command line. It reports whether the REPL should exit.
func (r *REPL) exec(line string) (quit bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		r.printHelp()
	case "put":
		r.cmdPut(args)
	case "get":
		r.cmdGet(args)
	case "del", "delete":
		r.cmdDelete(args)
	case "scan", "ls":
		r.cmdScan(args)
	case "len":
		fmt.Fprintln(r.out, r.m.Len())
	case "cap":
		fmt.Fprintln(r.out, r.m.Capacity())
	case "stats":
		fmt.Fprint(r.out, r.m.Stats())
	case "bulk":
		r.cmdBulk(args)
	case "seq":
		r.cmdSeq(args)
	case "bench":
		r.cmdBench(args)
	case "json":
		r.cmdJSON()
	case "load":
		rest := strings.TrimSpace(line)
		r.cmdLoad(strings.TrimSpace(rest[len(parts[0]):]))
	case "clear":
		r.m.Clear()
		fmt.Fprintln(r.out, "OK")
	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

// completer provides tab completion for commands.
func (r *REPL) completer(line string) []string {
	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range replCommands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			_, _ = r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  put <key> <value>       Insert or update an entry")
	fmt.Fprintln(r.out, "  get <key>               Retrieve an entry by key")
	fmt.Fprintln(r.out, "  del <key>               Delete an entry")
	fmt.Fprintln(r.out, "  scan [limit]            List entries sorted by key")
	fmt.Fprintln(r.out, "  len                     Count live entries")
	fmt.Fprintln(r.out, "  cap                     Show the number of slots")
	fmt.Fprintln(r.out, "  stats                   Show map statistics")
	fmt.Fprintln(r.out, "  bulk <count> [prefix]   Insert N random entries")
	fmt.Fprintln(r.out, "  seq <count> [start]     Insert N sequential entries")
	fmt.Fprintln(r.out, "  bench <count>           Benchmark put+get performance")
	fmt.Fprintln(r.out, "  json                    Print the map as JSON")
	fmt.Fprintln(r.out, "  load <json object>      Put every entry of a JSON object")
	fmt.Fprintln(r.out, "  clear                   Delete all entries")
	fmt.Fprintln(r.out, "  help                    Show this help")
	fmt.Fprintln(r.out, "  exit / quit / q         Exit")
}

func (r *REPL) put(k, v string) bool {
	if err := r.m.Put(k, v); err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return false
	}
	return true
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "Usage: put <key> <value>")
		return
	}
	if r.put(args[0], strings.Join(args[1:], " ")) {
		fmt.Fprintln(r.out, "OK")
	}
}

func (r *REPL) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "Usage: get <key>")
		return
	}
	v, ok := r.m.Get(args[0])
	if !ok {
		fmt.Fprintln(r.out, "(not found)")
		return
	}
	fmt.Fprintf(r.out, "%q\n", v)
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(r.out, "Usage: del <key>")
		return
	}
	v, ok := r.m.Delete(args[0])
	if !ok {
		fmt.Fprintln(r.out, "(not found)")
		return
	}
	fmt.Fprintf(r.out, "Deleted %q\n", v)
}

func (r *REPL) cmdScan(args []string) {
	limit := -1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			fmt.Fprintln(r.out, "Usage: scan [limit]")
			return
		}
		limit = n
	}

	entries := r.m.Snapshot()
	slices.SortFunc(entries, func(a, b cuckoo.Entry[string, string]) int {
		return strings.Compare(a.Key, b.Key)
	})
	for i, e := range entries {
		if i == limit {
			fmt.Fprintf(r.out, "... (%d more)\n", len(entries)-limit)
			break
		}
		fmt.Fprintf(r.out, "%q = %q\n", e.Key, e.Value)
	}
	fmt.Fprintf(r.out, "(%d entries)\n", len(entries))
}

func parseCount(args []string, usage string, out io.Writer) (int, bool) {
	if len(args) < 1 {
		fmt.Fprintln(out, usage)
		return 0, false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		fmt.Fprintln(out, usage)
		return 0, false
	}
	return n, true
}

func (r *REPL) cmdBulk(args []string) {
	n, ok := parseCount(args, "Usage: bulk <count> [prefix]", r.out)
	if !ok {
		return
	}
	prefix := "k"
	if len(args) > 1 {
		prefix = args[1]
	}
	start := time.Now()
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("%s%016x", prefix, rand.Uint64())
		if !r.put(k, strconv.Itoa(i)) {
			return
		}
	}
	fmt.Fprintf(r.out, "Inserted %d entries in %v (len=%d, cap=%d)\n",
		n, time.Since(start), r.m.Len(), r.m.Capacity())
}

func (r *REPL) cmdSeq(args []string) {
	n, ok := parseCount(args, "Usage: seq <count> [start]", r.out)
	if !ok {
		return
	}
	first := 0
	if len(args) > 1 {
		var err error
		if first, err = strconv.Atoi(args[1]); err != nil {
			fmt.Fprintln(r.out, "Usage: seq <count> [start]")
			return
		}
	}
	for i := first; i < first+n; i++ {
		if !r.put(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i)) {
			return
		}
	}
	fmt.Fprintf(r.out, "Inserted %d entries (len=%d, cap=%d)\n", n, r.m.Len(), r.m.Capacity())
}

func (r *REPL) cmdBench(args []string) {
	n, ok := parseCount(args, "Usage: bench <count>", r.out)
	if !ok {
		return
	}
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("bench%d", i)
	}

	start := time.Now()
	for _, k := range keys {
		if !r.put(k, k) {
			return
		}
	}
	putTime := time.Since(start)

	start = time.Now()
	for _, k := range keys {
		r.m.Get(k)
	}
	getTime := time.Since(start)

	fmt.Fprintf(r.out, "put: %d ops in %v\n", n, putTime)
	fmt.Fprintf(r.out, "get: %d ops in %v\n", n, getTime)
}

func (r *REPL) cmdJSON() {
	data, err := r.m.MarshalJSON()
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, string(data))
}

func (r *REPL) cmdLoad(data string) {
	if data == "" {
		fmt.Fprintln(r.out, "Usage: load <json object>")
		return
	}
	before := r.m.Len()
	if err := r.m.UnmarshalJSON([]byte(data)); err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "OK (%d new entries)\n", r.m.Len()-before)
}
