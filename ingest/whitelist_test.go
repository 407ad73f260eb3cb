/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/privdetect/config"
	"github.com/gravwell/privdetect/event"
)

func writeConfig(t *testing.T, contents string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestWhitelistFiltersByProcessName(t *testing.T) {
	cfg := writeConfig(t, "whitelist:\n  processes:\n    - systemd\n    - cron\n  users:\n    - backup\n")
	wl := NewWhitelist(cfg)

	require.False(t, wl.Allowed(event.Event{Comm: "systemd"}))
	require.True(t, wl.Allowed(event.Event{Comm: "myapp"}))
}

func TestWhitelistUsersParsedButInert(t *testing.T) {
	cfg := writeConfig(t, "whitelist:\n  processes: []\n  users:\n    - 1000\n")
	wl := NewWhitelist(cfg)
	require.Contains(t, wl.users, "1000")

	// uid 1000 is in whitelist.users but Allowed never consults it,
	// matching the original pipeline's behavior (spec §9, SPEC_FULL.md).
	require.True(t, wl.Allowed(event.Event{UID: 1000, Comm: "myapp"}))
}
