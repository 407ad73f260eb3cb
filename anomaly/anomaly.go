/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package anomaly implements C5: a per-(uid,syscall) counter checked
// against a baseline mean/stddev pair, grounded on
// original_source/detector/detection/anomaly.py's AnomalyDetector.
package anomaly

import "sync"

// Anomaly is the informational callback payload (spec §4.4 — "not fed
// back as alerts in the current design but are exposed via stats and
// subscribers").
type Anomaly struct {
	UID     uint32
	Syscall string
	Count   int64
	Mean    float64
	Stddev  float64
}

// Baseline is the (mean, stddev) pair read from the baseline store.
// Stddev of zero means "absent" and defaults to mean/2 per spec §4.4.
type Baseline struct {
	Mean   float64
	Stddev float64
}

// Detector counts per-(uid,syscall) events and compares each increment
// to a baseline. It does not itself read or write files — the caller
// supplies baselines, matching C6's separation of concerns.
type Detector struct {
	mtx               sync.Mutex
	counts            map[uint32]map[string]int64
	baselines         map[uint32]map[string]Baseline
	deviationThreshold float64
	subscribers       []func(Anomaly)
}

// NewDetector builds a detector using k (deviation_threshold, default
// 2.0 per spec §6.6/§4.4) as the sigma multiplier.
func NewDetector(k float64) *Detector {
	if k <= 0 {
		k = 2.0
	}
	return &Detector{
		counts:             make(map[uint32]map[string]int64),
		baselines:          make(map[uint32]map[string]Baseline),
		deviationThreshold: k,
	}
}

// Subscribe registers a callback invoked whenever an increment crosses
// the anomaly threshold. Per spec §9's open question, nothing in this
// repo wires an anomaly into the alert manager; this hook exists for
// external integration only.
func (d *Detector) Subscribe(fn func(Anomaly)) {
	d.mtx.Lock()
	d.subscribers = append(d.subscribers, fn)
	d.mtx.Unlock()
}

// SetBaseline installs the (mean, stddev) pair C6 computed for
// (uid, syscall). A zero Stddev is treated as absent and defaulted to
// mean/2 at check time.
func (d *Detector) SetBaseline(uid uint32, syscall string, b Baseline) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	m, ok := d.baselines[uid]
	if !ok {
		m = make(map[string]Baseline)
		d.baselines[uid] = m
	}
	m[syscall] = b
}

// Observe increments the (uid, syscall) counter and fires subscribers
// if the new count exceeds mean + k*stddev.
func (d *Detector) Observe(uid uint32, syscall string) {
	d.mtx.Lock()
	m, ok := d.counts[uid]
	if !ok {
		m = make(map[string]int64)
		d.counts[uid] = m
	}
	m[syscall]++
	count := m[syscall]

	var fire *Anomaly
	if bm, ok := d.baselines[uid]; ok {
		if b, ok := bm[syscall]; ok && b.Mean > 0 {
			std := b.Stddev
			if std == 0 {
				std = b.Mean / 2
			}
			if float64(count) > b.Mean+d.deviationThreshold*std {
				fire = &Anomaly{UID: uid, Syscall: syscall, Count: count, Mean: b.Mean, Stddev: std}
			}
		}
	}
	subs := append([]func(Anomaly){}, d.subscribers...)
	d.mtx.Unlock()

	if fire != nil {
		for _, sub := range subs {
			sub(*fire)
		}
	}
}

// Count returns the current counter for (uid, syscall), for stats
// reporting.
func (d *Detector) Count(uid uint32, syscall string) int64 {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.counts[uid][syscall]
}
