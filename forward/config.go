/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package forward

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNotConfigured indicates the forwarder's config file does not
// exist yet; the CLI should direct the user to --setup (spec §7
// "Config missing: ... prompts setup (forwarder)").
var ErrNotConfigured = errors.New("forward: not configured, run with --setup")

// LoadConfig reads path into a Config. A missing file yields
// ErrNotConfigured rather than a bare os.ErrNotExist, so callers can
// branch directly.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("forward: reading %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("forward: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig writes cfg to path atomically (temp file + rename) at
// mode 0600, per spec §6.4.
func SaveConfig(path string, cfg Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("forward: marshaling config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return fmt.Errorf("forward: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("forward: renaming %s: %w", tmp, err)
	}
	return nil
}

// RedactedAPIKey returns only the first 10 characters of the API key,
// matching forwarder.py's "--status" output (SPEC_FULL.md's
// supplemented feature: never print the full key).
func (c Config) RedactedAPIKey() string {
	if len(c.APIKey) <= 10 {
		return c.APIKey
	}
	return c.APIKey[:10] + "..."
}
