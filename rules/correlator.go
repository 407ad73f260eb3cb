/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gravwell/privdetect/alert"
	"github.com/gravwell/privdetect/event"
)

const correlationWindow = 15 * time.Second

// Correlator owns every piece of shared, cross-worker state RULE-10
// and RULE-08 depend on: SIGNALS/SIGNAL_TIME per pid and the capset
// cache. Spec §5 requires lookups and updates share a single mutex to
// avoid lost updates — this type is the encapsulation spec §9 asks for
// ("must be encapsulated with their mutex. Do not expose as
// module-level state").
type Correlator struct {
	mtx sync.Mutex

	signals    map[int64]map[string]struct{}
	signalTime map[int64]time.Time

	capset map[int64]time.Time
}

// NewCorrelator builds an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		signals:    make(map[int64]map[string]struct{}),
		signalTime: make(map[int64]time.Time),
		capset:     make(map[int64]time.Time),
	}
}

// Register adds tag to pid's signal set (called by every firing
// RULE-01..09). If pid has no entry yet, this is the first-signal
// timestamp.
func (c *Correlator) Register(pid uint32, tag string) {
	id := int64(pid)
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if _, ok := c.signals[id]; !ok {
		c.signals[id] = make(map[string]struct{})
		c.signalTime[id] = time.Now()
	}
	c.signals[id][tag] = struct{}{}
}

// CheckRule10 evaluates the stateful correlator rule after any other
// rule fires this event. It purges pid's entry lazily if older than
// the correlation window (spec §4.3's "purged lazily on next lookup").
// RULE-10 does not itself add a signal (spec explicitly: "RULE-10
// alerts do not themselves add signals").
func (c *Correlator) CheckRule10(ev event.Event) *alert.Candidate {
	id := int64(ev.PID)
	c.mtx.Lock()
	defer c.mtx.Unlock()

	first, ok := c.signalTime[id]
	if !ok {
		return nil
	}
	if time.Since(first) > correlationWindow {
		delete(c.signals, id)
		delete(c.signalTime, id)
		return nil
	}
	tags := c.signals[id]
	if len(tags) < 2 {
		return nil
	}

	sorted := make([]string, 0, len(tags))
	for t := range tags {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)

	return candidate("RULE-10", "Correlated escalation", "", ev,
		fmt.Sprintf("pid %d accumulated signals: %s", ev.PID, strings.Join(sorted, ", ")))
}

// RecordCapset marks pid as having just called capset (RULE-08 step 1).
func (c *Correlator) RecordCapset(pid uint32) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.capset[int64(pid)] = time.Now()
}

// ConsumeCapset reports whether pid has a capset entry within window,
// and deletes it either way, matching the source's "emit and delete
// the entry" contract (spec §4.3 RULE-08).
func (c *Correlator) ConsumeCapset(pid uint32, window time.Duration) bool {
	id := int64(pid)
	c.mtx.Lock()
	defer c.mtx.Unlock()
	t, ok := c.capset[id]
	if !ok {
		return false
	}
	delete(c.capset, id)
	return time.Since(t) < window
}
