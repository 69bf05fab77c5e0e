// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package config loads the runtime's tunables from a TOML file, the same
// way the embedding driver's own configuration is loaded.
package config

import (
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/naoina/toml"
)

// tomlSettings keeps TOML keys identical to the Go struct field names.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// GCConfig holds the collector's tunables (spec.md §4.2).
type GCConfig struct {
	NurseryThreshold uint64 `toml:",omitempty"`
	MajorWatermark   uint64 `toml:",omitempty"`
}

// JITConfig holds the JIT's tunables (spec.md §4.5 "Triggering").
type JITConfig struct {
	Enabled        bool
	HotThreshold   uint32 `toml:",omitempty"`
	CacheEntries   int    `toml:",omitempty"`
}

// LimitsConfig holds the interpreter's resource limits (spec.md §4.4).
type LimitsConfig struct {
	StackSize int `toml:",omitempty"`
	MaxFrames int `toml:",omitempty"`
}

// Config is the runtime's top-level configuration document.
type Config struct {
	GC     GCConfig
	JIT    JITConfig
	Limits LimitsConfig
}

// Default returns the recommended configuration from spec.md §4.2, §4.4,
// and §4.5.
func Default() Config {
	return Config{
		GC: GCConfig{
			NurseryThreshold: 2 * 1024 * 1024,
			MajorWatermark:   8 * 1024 * 1024,
		},
		JIT: JITConfig{
			Enabled:      true,
			HotThreshold: 4096,
			CacheEntries: 256,
		},
		Limits: LimitsConfig{
			StackSize: 65536,
			MaxFrames: 1024,
		},
	}
}

// Load reads and decodes a TOML configuration file, starting from
// Default() so an omitted section keeps its recommended values.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a TOML document from r into a Config seeded with defaults.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	if err := tomlSettings.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
