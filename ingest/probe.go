/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ingest

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// openPinnedMap loads the ring buffer map the probe pins to the BPF
// filesystem at load time (e.g. by a separate loader, out of scope for
// this repo per spec.md §1 — the probe itself is an external
// collaborator; this adapter only attaches to what it already pinned).
func openPinnedMap(path string) (*ebpf.Map, error) {
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: loading pinned map %s: %w", path, err)
	}
	return m, nil
}
