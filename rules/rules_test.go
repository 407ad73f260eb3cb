/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/privdetect/event"
)

func TestRule01BoundaryUID(t *testing.T) {
	e := NewEngine()

	below := event.Event{PID: 1, UID: 999, NewUID: 0, SyscallName: "setuid", Comm: "myapp"}
	require.Empty(t, e.Evaluate(below))

	e2 := NewEngine()
	at := event.Event{PID: 2, UID: 1000, NewUID: 0, SyscallName: "setuid", Comm: "myapp"}
	cands := e2.Evaluate(at)
	require.Len(t, cands, 1)
	require.Equal(t, "RULE-01", cands[0].RuleID)
}

func TestRule01SafeCommExempt(t *testing.T) {
	e := NewEngine()
	ev := event.Event{PID: 1, UID: 1000, NewUID: 0, SyscallName: "setuid", Comm: "sudo"}
	require.Empty(t, e.Evaluate(ev))
}

func TestRule02RequiresWriteFlags(t *testing.T) {
	e := NewEngine()
	ev := event.Event{PID: 1, UID: 1000, SyscallName: "openat", Filename: "/etc/shadow", Comm: "cat", OpenFlags: 0}
	require.Empty(t, e.Evaluate(ev))

	e2 := NewEngine()
	ev.OpenFlags = 2
	cands := e2.Evaluate(ev)
	require.Len(t, cands, 1)
	require.Equal(t, "RULE-02", cands[0].RuleID)
}

func TestRule04ExactProcMemPath(t *testing.T) {
	e := NewEngine()
	fires := event.Event{PID: 1, SyscallName: "openat", Filename: "/proc/1234/mem", OpenFlags: 2}
	cands := e.Evaluate(fires)
	require.Len(t, cands, 1)
	require.Equal(t, "RULE-04", cands[0].RuleID)

	e2 := NewEngine()
	noFire := event.Event{PID: 2, SyscallName: "openat", Filename: "/proc/1234/status", OpenFlags: 2}
	require.Empty(t, e2.Evaluate(noFire))
}

func TestScenarioS1TwoSignalsTriggerRule10(t *testing.T) {
	e := NewEngine()
	first := event.Event{PID: 42, UID: 1000, NewUID: 0, SyscallName: "setuid", Comm: "myapp"}
	cands1 := e.Evaluate(first)
	require.Len(t, cands1, 1)
	require.Equal(t, "RULE-01", cands1[0].RuleID)

	second := event.Event{PID: 42, UID: 1000, SyscallName: "openat", Filename: "/etc/shadow", Comm: "myapp", OpenFlags: 2}
	cands2 := e.Evaluate(second)
	require.Len(t, cands2, 2)
	ruleIDs := []string{cands2[0].RuleID, cands2[1].RuleID}
	require.Contains(t, ruleIDs, "RULE-02")
	require.Contains(t, ruleIDs, "RULE-10")
}

func TestScenarioS4CapsetWindow(t *testing.T) {
	corr := NewCorrelator()
	capsetEv := event.Event{PID: 77, UID: 1000, SyscallName: "capset"}
	require.Nil(t, rule08(capsetEv, corr))

	execEv := event.Event{PID: 77, EUID: 0, SyscallName: "execve"}
	c := rule08(execEv, corr)
	require.NotNil(t, c)
	require.Equal(t, "RULE-08", c.RuleID)
}

func TestScenarioS4CapsetExpires(t *testing.T) {
	corr := NewCorrelator()
	corr.capset[77] = timeNowMinus(6 * time.Second)

	execEv := event.Event{PID: 77, EUID: 0, SyscallName: "execve"}
	require.Nil(t, rule08(execEv, corr))
}

func timeNowMinus(d time.Duration) time.Time {
	return timeNow().Add(-d)
}

func timeNow() time.Time {
	return time.Now()
}

func TestRule10PurgesStaleCorrelatorEntry(t *testing.T) {
	corr := NewCorrelator()
	corr.signals[99] = map[string]struct{}{"a": {}, "b": {}}
	corr.signalTime[99] = timeNowMinus(16 * time.Second)

	ev := event.Event{PID: 99}
	require.Nil(t, corr.CheckRule10(ev))
	_, stillPresent := corr.signals[99]
	require.False(t, stillPresent)
}
