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
	"os"
	"runtime"

	"github.com/cockroachdb/cuckoo"
	flag "github.com/spf13/pflag"
	"github.com/sugawarayuuta/sonnet"
	"github.com/tailscale/hujson"
)

var (
	errConfigRead    = errors.New("cannot read config file")
	errConfigInvalid = errors.New("invalid config file")
	errInvalidOption = errors.New("invalid option")
)

// Config holds the settings shared by all commands. It can be loaded from a
// JSONC file (JSON with comments and trailing commas).
type Config struct {
	InitialCapacity int `json:"initial_capacity"`
	MaxRelocations  int `json:"max_relocations"`
	MaxGrowthFactor int `json:"max_growth_factor"`
	Threads         int `json:"threads"`
	Ops             int `json:"ops"`
}

func defaultConfig() Config {
	return Config{
		InitialCapacity: cuckoo.DefaultInitialCapacity,
		MaxRelocations:  cuckoo.DefaultMaxRelocations,
		MaxGrowthFactor: cuckoo.DefaultMaxGrowthFactor,
		Threads:         runtime.GOMAXPROCS(0),
		Ops:             100_000,
	}
}

// parseConfig overlays the fields present in data on base.
func parseConfig(data []byte, base Config) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	cfg := base
	if err := sonnet.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", errConfigRead, path, err)
	}
	cfg, err := parseConfig(data, base)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, nil
}

// parseFlags builds the configuration for cmd from the defaults, the
// optional config file, and finally the flags that were explicitly set.
func parseFlags(cmd string, errOut io.Writer, args []string) (Config, error) {
	def := defaultConfig()

	flagSet := flag.NewFlagSet(cmd, flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.StringP("config", "c", "", "JSONC config file")
	capacity := flagSet.IntP("capacity", "n", def.InitialCapacity, "Initial capacity")
	maxRelocations := flagSet.IntP("max-relocations", "r", def.MaxRelocations, "Hop bound")
	maxGrowth := flagSet.IntP("max-growth", "g", def.MaxGrowthFactor, "Growth factor limit")
	threads := flagSet.IntP("threads", "t", def.Threads, "Goroutines used by bench")
	ops := flagSet.IntP("ops", "o", def.Ops, "Operations per goroutine for bench")

	if err := flagSet.Parse(args); err != nil {
		return Config{}, err
	}
	if flagSet.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected argument %q", flagSet.Arg(0))
	}

	cfg := def
	if *configPath != "" {
		var err error
		if cfg, err = loadConfigFile(*configPath, def); err != nil {
			return Config{}, err
		}
	}

	if flagSet.Changed("capacity") {
		cfg.InitialCapacity = *capacity
	}
	if flagSet.Changed("max-relocations") {
		cfg.MaxRelocations = *maxRelocations
	}
	if flagSet.Changed("max-growth") {
		cfg.MaxGrowthFactor = *maxGrowth
	}
	if flagSet.Changed("threads") {
		cfg.Threads = *threads
	}
	if flagSet.Changed("ops") {
		cfg.Ops = *ops
	}
	return cfg, validateConfig(cfg)
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.InitialCapacity <= 0:
		return fmt.Errorf("%w: capacity must be positive, got %d", errInvalidOption, cfg.InitialCapacity)
	case cfg.MaxRelocations <= 0:
		return fmt.Errorf("%w: max-relocations must be positive, got %d", errInvalidOption, cfg.MaxRelocations)
	case cfg.MaxGrowthFactor <= 0:
		return fmt.Errorf("%w: max-growth must be positive, got %d", errInvalidOption, cfg.MaxGrowthFactor)
	case cfg.Threads <= 0:
		return fmt.Errorf("%w: threads must be positive, got %d", errInvalidOption, cfg.Threads)
	case cfg.Ops < 0:
		return fmt.Errorf("%w: ops must not be negative, got %d", errInvalidOption, cfg.Ops)
	}
	return nil
}

func newMap[K comparable, V any](cfg Config) *cuckoo.Map[K, V] {
	return cuckoo.New[K, V](cfg.InitialCapacity,
		cuckoo.WithMaxRelocations[K, V](cfg.MaxRelocations),
		cuckoo.WithMaxGrowthFactor[K, V](cfg.MaxGrowthFactor))
}
