/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package alert

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gravwell/privdetect/log"
)

const (
	dedupWindow     = 600 * time.Second
	dedupCacheLimit = 500
	rateWindow      = 60 * time.Second
)

// Store is the persistence contract C7 depends on; store.Store (C8)
// implements it. Kept narrow so the manager doesn't import database/sql
// directly.
type Store interface {
	SaveAlert(a *Alert) error
}

type dedupKey struct {
	ruleID, uid, extra string
}

// Manager implements C7: normalize, dedup, rate-limit, persist,
// dispatch — the pipeline in spec §4.6, grounded on
// original_source/detector/detection/alert_manager.py's
// AlertManager.process.
type Manager struct {
	mtx sync.Mutex

	dedup map[dedupKey]time.Time
	rate  []time.Time

	maxPerMinute int

	store       Store
	subscribers []func(Alert)
	lg          *log.Logger

	generated uint64
	dropped   uint64
}

// NewManager builds a Manager persisting through store and logging via
// lg. maxPerMinute is alerts.rate_limit.max_alerts_per_minute (default
// 30, spec §6.6).
func NewManager(store Store, maxPerMinute int, lg *log.Logger) *Manager {
	if maxPerMinute <= 0 {
		maxPerMinute = 30
	}
	return &Manager{
		dedup:        make(map[dedupKey]time.Time),
		maxPerMinute: maxPerMinute,
		store:        store,
		lg:           lg,
	}
}

// Subscribe registers a callback invoked for every alert that survives
// dedup and rate limiting (spec §4.6 step 6).
func (m *Manager) Subscribe(fn func(Alert)) {
	m.mtx.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.mtx.Unlock()
}

// Process runs c through the full C7 pipeline: normalize, dedup key,
// dedup window, rate limit, persist, dispatch.
func (m *Manager) Process(c Candidate) {
	a := m.normalize(c)

	key := dedupKeyFor(a)
	now := time.Now()

	m.mtx.Lock()
	if last, ok := m.dedup[key]; ok && now.Sub(last) < dedupWindow {
		atomic.AddUint64(&m.dropped, 1)
		m.mtx.Unlock()
		return
	}
	m.dedup[key] = now
	if len(m.dedup) > dedupCacheLimit {
		m.sweepDedupLocked(now)
	}

	m.rate = pruneRate(m.rate, now)
	if len(m.rate) >= m.maxPerMinute {
		atomic.AddUint64(&m.dropped, 1)
		m.mtx.Unlock()
		return
	}
	m.rate = append(m.rate, now)
	subs := append([]func(Alert){}, m.subscribers...)
	m.mtx.Unlock()

	if err := m.store.SaveAlert(&a); err != nil {
		m.lg.Warn("failed to persist alert, dispatching anyway",
			log.KV("alert_id", a.AlertID), log.KVErr(err))
	}

	for _, sub := range subs {
		m.dispatch(sub, a)
	}

	atomic.AddUint64(&m.generated, 1)
}

func (m *Manager) dispatch(sub func(Alert), a Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.lg.Error("alert subscriber panicked", log.KV("alert_id", a.AlertID), log.KV("panic", fmt.Sprint(r)))
		}
	}()
	sub(a)
}

// sweepDedupLocked removes every entry older than dedupWindow. Caller
// holds m.mtx.
func (m *Manager) sweepDedupLocked(now time.Time) {
	for k, t := range m.dedup {
		if now.Sub(t) >= dedupWindow {
			delete(m.dedup, k)
		}
	}
}

func pruneRate(window []time.Time, now time.Time) []time.Time {
	i := 0
	for ; i < len(window); i++ {
		if now.Sub(window[i]) < rateWindow {
			break
		}
	}
	return window[i:]
}

func (m *Manager) normalize(c Candidate) Alert {
	severity := c.Severity
	if severity == "" {
		severity = SeverityCritical
	}
	conf := math.Round(c.Confidence*1000) / 1000

	return Alert{
		AlertID:     uuid.NewString(),
		RuleID:      c.RuleID,
		RuleName:    c.RuleName,
		Severity:    severity,
		Confidence:  conf,
		PID:         c.PID,
		PPID:        c.PPID,
		UID:         c.UID,
		NewUID:      c.NewUID,
		Comm:        c.Comm,
		ParentComm:  c.ParentComm,
		Syscall:     c.Syscall,
		Filename:    c.Filename,
		Timestamp:   c.Timestamp,
		Description: c.Description,
		CreatedAt:   time.Now().UTC(),
	}
}

// dedupKeyFor computes the rule-specific dedup key per spec §4.6 step 2.
func dedupKeyFor(a Alert) dedupKey {
	uid := fmt.Sprintf("%d", a.UID)
	switch a.RuleID {
	case "RULE-01", "RULE-08":
		return dedupKey{ruleID: a.RuleID, uid: uid}
	case "RULE-05":
		return dedupKey{ruleID: a.RuleID, uid: uid, extra: a.Comm}
	case "RULE-07":
		return dedupKey{ruleID: a.RuleID, uid: uid, extra: a.Filename}
	default:
		return dedupKey{ruleID: a.RuleID, uid: uid, extra: a.Filename}
	}
}

// Stats returns the running generated/dropped counters (spec §4.6 step
// 7 and the error taxonomy's "dropped" counter, §7).
func (m *Manager) Stats() (generated, dropped uint64) {
	return atomic.LoadUint64(&m.generated), atomic.LoadUint64(&m.dropped)
}
