// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

// Package devicecfg loads device descriptions (identity, value width,
// parameter layout, custom requests) from TOML or YAML files.
package devicecfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/memstore"
	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

// Config describes one emulated or remote device
type Config struct {
	Name             string          `toml:"name" yaml:"name"`
	ManufacturerID   string          `toml:"manufacturer_id" yaml:"manufacturer_id"`
	ValueSize        int             `toml:"value_size" yaml:"value_size"`
	ParamsPerMessage int             `toml:"params_per_message" yaml:"params_per_message"`
	Mode             string          `toml:"mode" yaml:"mode"`
	ModalFlag        bool            `toml:"modal_flag" yaml:"modal_flag"`
	Blocks           []BlockConfig   `toml:"blocks" yaml:"blocks"`
	CustomRequests   []CustomRequest `toml:"custom_requests" yaml:"custom_requests"`
}

// BlockConfig is one block of the layout
type BlockConfig struct {
	Name     string          `toml:"name" yaml:"name"`
	Sections []SectionConfig `toml:"sections" yaml:"sections"`
}

// SectionConfig is one section of a block
type SectionConfig struct {
	Name       string `toml:"name" yaml:"name"`
	Parameters uint16 `toml:"parameters" yaml:"parameters"`
	Min        uint16 `toml:"min" yaml:"min"`
	Max        uint16 `toml:"max" yaml:"max"`
	Default    uint16 `toml:"default" yaml:"default"`
	ReadOnly   bool   `toml:"read_only" yaml:"read_only"`
	WriteOnly  bool   `toml:"write_only" yaml:"write_only"`
}

// CustomRequest registers a custom special request and its canned response
type CustomRequest struct {
	ID                    uint16   `toml:"id" yaml:"id"`
	Name                  string   `toml:"name" yaml:"name"`
	RequireOpenConnection bool     `toml:"require_open_connection" yaml:"require_open_connection"`
	Response              []uint16 `toml:"response" yaml:"response"`
}

// Default returns the built-in description used when no file is given:
// the 00:53:43 identity with one block of one 10-parameter section.
func Default() Config {
	return Config{
		Name:             "default",
		ManufacturerID:   "00:53:43",
		ValueSize:        int(sysexconf.DefaultValueSize),
		ParamsPerMessage: sysexconf.DefaultParamsPerMessage,
		Mode:             sysexconf.ModeQuiet.String(),
		Blocks: []BlockConfig{{
			Name:     "global",
			Sections: []SectionConfig{{Name: "settings", Parameters: 10, Min: 0, Max: 50}},
		}},
	}
}

// Load reads a TOML (.toml) or YAML (.yaml, .yml) device description,
// applies defaults and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("config load failed (%s): unknown extension, use .toml or .yaml", path)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ValueSize == 0 {
		c.ValueSize = int(sysexconf.DefaultValueSize)
	}
	if c.ParamsPerMessage == 0 {
		c.ParamsPerMessage = sysexconf.DefaultParamsPerMessage
	}
	if c.Name == "" {
		c.Name = "device"
	}
}

// Validate checks the description without building an engine
func (c Config) Validate() error {
	if _, err := sysexconf.ParseManufacturerID(c.ManufacturerID); err != nil {
		return err
	}
	if _, err := sysexconf.ParseMode(c.Mode); err != nil {
		return err
	}
	if !sysexconf.ValueSize(c.ValueSize).Valid() {
		return fmt.Errorf("value_size %d (want 1 or 2)", c.ValueSize)
	}
	if c.ParamsPerMessage < 1 || c.ParamsPerMessage > sysexconf.Max7 {
		return fmt.Errorf("params_per_message %d (valid 1-%d)", c.ParamsPerMessage, sysexconf.Max7)
	}
	if len(c.Blocks) == 0 {
		return fmt.Errorf("no blocks defined")
	}

	maxValue := sysexconf.ValueSize(c.ValueSize).MaxValue()
	for b, block := range c.Blocks {
		if len(block.Sections) == 0 {
			return fmt.Errorf("block %d (%s): no sections defined", b, block.Name)
		}
		for s, sec := range block.Sections {
			if sec.Min > sec.Max {
				return fmt.Errorf("block %d section %d (%s): min %d above max %d", b, s, sec.Name, sec.Min, sec.Max)
			}
			if sec.Max > maxValue {
				return fmt.Errorf("block %d section %d (%s): max %d exceeds %d-byte values", b, s, sec.Name, sec.Max, c.ValueSize)
			}
			if sec.Min != sec.Max && (sec.Default < sec.Min || sec.Default > sec.Max) {
				return fmt.Errorf("block %d section %d (%s): default %d outside [%d, %d]", b, s, sec.Name, sec.Default, sec.Min, sec.Max)
			}
			if sec.ReadOnly && sec.WriteOnly {
				return fmt.Errorf("block %d section %d (%s): read_only and write_only are exclusive", b, s, sec.Name)
			}
		}
	}

	for i, r := range c.CustomRequests {
		for _, v := range r.Response {
			if v > maxValue {
				return fmt.Errorf("custom request %d (0x%02X): response value %d exceeds %d-byte values", i, r.ID, v, c.ValueSize)
			}
		}
	}
	return nil
}

// EngineConfig returns the engine parameters described by the file
func (c Config) EngineConfig() (sysexconf.Config, error) {
	id, err := sysexconf.ParseManufacturerID(c.ManufacturerID)
	if err != nil {
		return sysexconf.Config{}, err
	}
	mode, err := sysexconf.ParseMode(c.Mode)
	if err != nil {
		return sysexconf.Config{}, err
	}

	cfg := sysexconf.DefaultConfig(id)
	cfg.ValueSize = sysexconf.ValueSize(c.ValueSize)
	cfg.ParamsPerMessage = c.ParamsPerMessage
	cfg.Mode = mode
	return cfg, cfg.Validate()
}

// Layout returns the parameter layout
func (c Config) Layout() sysexconf.Layout {
	layout := make(sysexconf.Layout, len(c.Blocks))
	for b, block := range c.Blocks {
		layout[b].Sections = make([]sysexconf.Section, len(block.Sections))
		for s, sec := range block.Sections {
			layout[b].Sections[s] = sysexconf.Section{Parameters: sec.Parameters, Min: sec.Min, Max: sec.Max}
		}
	}
	return layout
}

// Requests returns the custom request table
func (c Config) Requests() []sysexconf.CustomRequest {
	requests := make([]sysexconf.CustomRequest, len(c.CustomRequests))
	for i, r := range c.CustomRequests {
		requests[i] = sysexconf.CustomRequest{ID: r.ID, RequireOpenConnection: r.RequireOpenConnection}
	}
	return requests
}

// NewStore creates an in-memory store holding the defaults, access modes
// and custom responses of the description.
func (c Config) NewStore() (*memstore.Store, error) {
	store := memstore.New(c.Layout())
	for b, block := range c.Blocks {
		for s, sec := range block.Sections {
			if err := store.Fill(b, s, sec.Default); err != nil {
				return nil, err
			}
			access := memstore.ReadWrite
			switch {
			case sec.ReadOnly:
				access = memstore.ReadOnly
			case sec.WriteOnly:
				access = memstore.WriteOnly
			}
			if err := store.SetAccess(b, s, access); err != nil {
				return nil, err
			}
		}
	}
	for _, r := range c.CustomRequests {
		store.SetCustomResponse(r.ID, r.Response)
	}
	return store, nil
}

// NewEngine builds a configured engine served by a fresh store. With
// ModalFlag set the engine starts with its modal flag raised.
func (c Config) NewEngine(log zerolog.Logger) (*sysexconf.Engine, *memstore.Store, error) {
	cfg, err := c.EngineConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg.Logger = &log
	store, err := c.NewStore()
	if err != nil {
		return nil, nil, err
	}
	store.SetLogger(log)
	engine, err := sysexconf.New(store, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := engine.SetLayout(c.Layout()); err != nil {
		return nil, nil, err
	}
	if err := engine.SetupCustomRequests(c.Requests()); err != nil {
		return nil, nil, err
	}
	if c.ModalFlag {
		engine.SetModalFlag(true)
	}
	return engine, store, nil
}
