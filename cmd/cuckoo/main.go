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

// cuckoo is a small driver for the cuckoo package.
//
// Usage:
//
//	cuckoo demo  [opts]   Run a scripted sequence of operations
//	cuckoo repl  [opts]   Start an interactive shell on a Map[string, string]
//	cuckoo bench [opts]   Measure concurrent insert and lookup throughput
//
// Options:
//
//	-c, --config            JSONC file supplying any of the options below
//	-n, --capacity          Initial capacity (default: 13)
//	-r, --max-relocations   Hop bound (default: 8)
//	-g, --max-growth        Growth factor limit (default: 64)
//	-t, --threads           Goroutines used by bench (default: GOMAXPROCS)
//	-o, --ops               Operations per goroutine for bench (default: 100000)
//
// Flags given on the command line override values from the config file.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Stdout, os.Stderr, os.Args[1:]))
}

func run(out, errOut io.Writer, args []string) int {
	if len(args) < 1 {
		printUsage(errOut)
		return 2
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	case "demo", "repl", "bench":
	default:
		fmt.Fprintf(errOut, "error: unknown command %q\n\n", cmd)
		printUsage(errOut)
		return 2
	}

	cfg, err := parseFlags(cmd, errOut, args)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return 2
	}

	switch cmd {
	case "demo":
		err = runDemo(out, cfg)
	case "repl":
		err = runREPL(out, cfg)
	case "bench":
		err = runBench(out, cfg)
	}
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: cuckoo <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  demo    Run a scripted sequence of operations")
	fmt.Fprintln(w, "  repl    Start an interactive shell")
	fmt.Fprintln(w, "  bench   Measure concurrent insert and lookup throughput")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  -c, --config <file>         JSONC config file")
	fmt.Fprintln(w, "  -n, --capacity <n>          Initial capacity")
	fmt.Fprintln(w, "  -r, --max-relocations <n>   Hop bound")
	fmt.Fprintln(w, "  -g, --max-growth <n>        Growth factor limit")
	fmt.Fprintln(w, "  -t, --threads <n>           Goroutines used by bench")
	fmt.Fprintln(w, "  -o, --ops <n>               Operations per goroutine for bench")
}
