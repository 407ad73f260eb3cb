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

	"github.com/gravwell/privdetect/config"
	"github.com/gravwell/privdetect/event"
)

// Whitelist implements C3: fast rejection of events from known-noisy
// processes before they reach the rule engine. Grounded on
// original_source/detector/detection/engine.py's DetectionEngine._process,
// which checks comm against whitelist.processes and never consults
// whitelist.users — SPEC_FULL's SUPPLEMENTED FEATURES keeps that
// asymmetry: users is parsed for forward compatibility but Allowed
// never consults it.
type Whitelist struct {
	processes map[string]struct{}
	users     map[string]struct{} // parsed, intentionally unused by Allowed
}

// NewWhitelist builds a Whitelist from the config's whitelist section.
func NewWhitelist(cfg *config.Config) *Whitelist {
	w := &Whitelist{
		processes: make(map[string]struct{}),
		users:     make(map[string]struct{}),
	}
	for _, p := range cfg.GetStringSlice("whitelist.processes") {
		w.processes[p] = struct{}{}
	}
	// Entries may be user names or numeric uids; both are kept as text.
	if users, ok := cfg.Get("whitelist.users", nil).([]interface{}); ok {
		for _, u := range users {
			w.users[fmt.Sprint(u)] = struct{}{}
		}
	}
	return w
}

// Allowed reports whether ev should go on to rule evaluation. It
// returns false, meaning the event is dropped, when ev.Comm is listed
// in whitelist.processes.
func (w *Whitelist) Allowed(ev event.Event) bool {
	if w == nil {
		return true
	}
	_, skip := w.processes[ev.Comm]
	return !skip
}
