/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads the detector's YAML configuration file and
// exposes dot-notation lookups, mirroring utils/config.py's Config
// class. The loader itself is deliberately thin: general-purpose YAML
// schema validation is an external-collaborator concern (spec §1); this
// package only has to resolve the handful of keys listed in spec §6.6.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config wraps a decoded YAML document and supports dotted-path
// lookups, e.g. Get("database.path", "data/database/detector.db").
type Config struct {
	path string
	data map[string]interface{}
}

// Load reads and parses path. A missing or unparsable file is a fatal
// condition at detector startup (§7 "Config missing: fatal at startup").
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	return &Config{path: path, data: raw}, nil
}

// Get resolves a dotted key path against the decoded document, e.g.
// "performance.queue_size". Returns def if any segment is missing or
// not a map.
func (c *Config) Get(key string, def interface{}) interface{} {
	if c == nil {
		return def
	}
	var cur interface{} = c.data
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return def
		}
		v, ok := m[part]
		if !ok || v == nil {
			return def
		}
		cur = v
	}
	return cur
}

// GetString is Get narrowed to string, falling back to def on any
// type mismatch.
func (c *Config) GetString(key, def string) string {
	v := c.Get(key, def)
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// GetInt is Get narrowed to int; YAML decodes unadorned integers as
// int already, but we defend against float64 (flow-style numbers) too.
func (c *Config) GetInt(key string, def int) int {
	switch v := c.Get(key, def).(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// GetFloat is Get narrowed to float64.
func (c *Config) GetFloat(key string, def float64) float64 {
	switch v := c.Get(key, def).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// GetBool is Get narrowed to bool.
func (c *Config) GetBool(key string, def bool) bool {
	if b, ok := c.Get(key, def).(bool); ok {
		return b
	}
	return def
}

// GetSection returns a top-level section as a plain map, or nil if
// absent.
func (c *Config) GetSection(section string) map[string]interface{} {
	if c == nil {
		return nil
	}
	if m, ok := c.data[section].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// GetStringSlice reads a YAML sequence of strings under key, e.g.
// whitelist.processes.
func (c *Config) GetStringSlice(key string) []string {
	v := c.Get(key, nil)
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}
