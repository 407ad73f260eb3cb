/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package rules implements C4: the stateless rule set RULE-01..RULE-09
// plus the stateful correlator RULE-10, grounded on
// original_source/detector/detection/rules.py and
// original_source/detector/detection/engine.py's fixed evaluation order.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/gravwell/privdetect/alert"
	"github.com/gravwell/privdetect/event"
)

const unprivilegedUID = 1000

var setuidSafeComm = set("sudo", "su", "pkexec", "newgrp", "passwd", "gdbus", "vmtoolsd", "polkit", "dbus-daemon")
var shadowSafeComm = set("passwd", "chpasswd", "chage", "useradd", "usermod", "shadow", "unix_chkpwd", "sudo", "su")
var sshSafeComm = set("sshd", "ssh-keygen", "ssh-keyscan")
var kmodComm = set("insmod", "modprobe", "rmmod")
var dockerSafeComm = set("dockerd", "containerd", "docker", "dockerd-current")
var sudoersSafeComm = set("visudo", "dpkg", "apt", "apt-get", "ansible", "sudo")

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, s := range items {
		m[s] = struct{}{}
	}
	return m
}

// Engine evaluates RULE-01..RULE-10 in the fixed order spec §4.3
// requires, and owns the correlator state shared across all workers.
type Engine struct {
	corr *Correlator
}

// NewEngine builds a rule engine with a fresh correlator.
func NewEngine() *Engine {
	return &Engine{corr: NewCorrelator()}
}

// Evaluate runs RULE-01..RULE-09 against ev, registering every firing
// rule's tag with the correlator, then consults RULE-10. It returns
// every Candidate produced by this single event: one per firing
// stateless rule (several can match the same event) plus, possibly,
// RULE-10.
func (e *Engine) Evaluate(ev event.Event) []alert.Candidate {
	var out []alert.Candidate
	fired := false

	for _, fn := range []func(event.Event, *Correlator) *alert.Candidate{
		rule01, rule02, rule03, rule04, rule05, rule06, rule07, rule08, rule09,
	} {
		if c := fn(ev, e.corr); c != nil {
			out = append(out, *c)
			fired = true
		}
	}

	if fired {
		if c := e.corr.CheckRule10(ev); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

func candidate(ruleID, ruleName, tag string, ev event.Event, desc string) *alert.Candidate {
	return &alert.Candidate{
		RuleID:      ruleID,
		RuleName:    ruleName,
		Severity:    alert.SeverityCritical,
		Confidence:  0.99,
		Description: desc,
		PID:         int64(ev.PID),
		PPID:        int64(ev.PPID),
		UID:         int64(ev.UID),
		NewUID:      int64(ev.NewUID),
		Comm:        ev.Comm,
		ParentComm:  ev.ParentComm,
		Syscall:     ev.SyscallName,
		Filename:    ev.Filename,
		Timestamp:   int64(ev.Timestamp),
	}
}

func isSyscall(ev event.Event, names ...string) bool {
	for _, n := range names {
		if ev.SyscallName == n {
			return true
		}
	}
	return false
}

// rule01: Direct UID -> root.
func rule01(ev event.Event, corr *Correlator) *alert.Candidate {
	if !isSyscall(ev, "setuid", "setreuid", "setresuid") {
		return nil
	}
	if ev.UID < unprivilegedUID || ev.NewUID != 0 {
		return nil
	}
	if _, safe := setuidSafeComm[ev.Comm]; safe {
		return nil
	}
	corr.Register(ev.PID, "setuid_root")
	return candidate("RULE-01", "Direct UID to root", "setuid_root", ev,
		fmt.Sprintf("process %s (uid %d) escalated to uid 0 via %s", ev.Comm, ev.UID, ev.SyscallName))
}

// rule02: Shadow file tampered.
func rule02(ev event.Event, corr *Correlator) *alert.Candidate {
	if !isSyscall(ev, "openat", "chmod") {
		return nil
	}
	if ev.Filename != "/etc/shadow" && ev.Filename != "/etc/gshadow" {
		return nil
	}
	if _, safe := shadowSafeComm[ev.Comm]; safe {
		return nil
	}
	mode := ev.OpenFlags & 3
	if mode != 1 && mode != 2 {
		return nil
	}
	corr.Register(ev.PID, "shadow")
	return candidate("RULE-02", "Shadow file tampered", "shadow", ev,
		fmt.Sprintf("process %s opened %s for writing", ev.Comm, ev.Filename))
}

// rule03: Root SSH key injection.
func rule03(ev event.Event, corr *Correlator) *alert.Candidate {
	if !isSyscall(ev, "openat") {
		return nil
	}
	if !strings.Contains(ev.Filename, "/root/.ssh/") {
		return nil
	}
	if _, safe := sshSafeComm[ev.Comm]; safe {
		return nil
	}
	corr.Register(ev.PID, "ssh")
	return candidate("RULE-03", "Root SSH key injection", "ssh", ev,
		fmt.Sprintf("process %s touched %s", ev.Comm, ev.Filename))
}

// rule04: /proc/<pid>/mem write.
func rule04(ev event.Event, corr *Correlator) *alert.Candidate {
	if !isSyscall(ev, "openat") {
		return nil
	}
	if !isProcMemPath(ev.Filename) {
		return nil
	}
	if ev.OpenFlags&3 == 0 {
		return nil
	}
	corr.Register(ev.PID, "proc_mem")
	return candidate("RULE-04", "/proc/<pid>/mem write", "proc_mem", ev,
		fmt.Sprintf("process %s opened %s for writing", ev.Comm, ev.Filename))
}

// isProcMemPath checks for exactly /proc/<digits>/mem.
func isProcMemPath(filename string) bool {
	parts := strings.Split(strings.Trim(filename, "/"), "/")
	if len(parts) != 3 {
		return false
	}
	if parts[0] != "proc" || parts[2] != "mem" {
		return false
	}
	if parts[1] == "" {
		return false
	}
	for _, r := range parts[1] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// rule05: Kernel module tool by non-root.
func rule05(ev event.Event, corr *Correlator) *alert.Candidate {
	if !isSyscall(ev, "execve", "openat") {
		return nil
	}
	if _, ok := kmodComm[ev.Comm]; !ok {
		return nil
	}
	if ev.UID < unprivilegedUID {
		return nil
	}
	corr.Register(ev.PID, "kernel")
	return candidate("RULE-05", "Kernel module tool by non-root", "kernel", ev,
		fmt.Sprintf("uid %d ran %s", ev.UID, ev.Comm))
}

// rule06: Docker socket access.
func rule06(ev event.Event, corr *Correlator) *alert.Candidate {
	if !isSyscall(ev, "openat") {
		return nil
	}
	if ev.Filename != "/var/run/docker.sock" && ev.Filename != "/run/docker.sock" {
		return nil
	}
	if _, safe := dockerSafeComm[ev.Comm]; safe {
		return nil
	}
	corr.Register(ev.PID, "docker")
	return candidate("RULE-06", "Docker socket access", "docker", ev,
		fmt.Sprintf("process %s opened %s", ev.Comm, ev.Filename))
}

// rule07: SUID from writable path.
func rule07(ev event.Event, corr *Correlator) *alert.Candidate {
	if !isSyscall(ev, "execve") {
		return nil
	}
	if ev.EUID != 0 {
		return nil
	}
	if ev.UID < unprivilegedUID {
		return nil
	}
	if !hasAnyPrefix(ev.Filename, "/tmp/", "/dev/shm/", "/var/tmp/") {
		return nil
	}
	corr.Register(ev.PID, "suid_tmp")
	return candidate("RULE-07", "SUID from writable path", "suid_tmp", ev,
		fmt.Sprintf("uid %d executed suid binary %s", ev.UID, ev.Filename))
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// rule08: Capability abuse, two-step stateful rule using the
// correlator's capset cache.
func rule08(ev event.Event, corr *Correlator) *alert.Candidate {
	if isSyscall(ev, "capset") && ev.UID >= unprivilegedUID {
		corr.RecordCapset(ev.PID)
		return nil
	}
	if !isSyscall(ev, "execve") || ev.EUID != 0 {
		return nil
	}
	if !corr.ConsumeCapset(ev.PID, 5*time.Second) {
		return nil
	}
	corr.Register(ev.PID, "capset")
	return candidate("RULE-08", "Capability abuse", "capset", ev,
		fmt.Sprintf("pid %d gained euid 0 within 5s of capset", ev.PID))
}

// rule09: Sudoers tampering.
func rule09(ev event.Event, corr *Correlator) *alert.Candidate {
	if !isSyscall(ev, "openat", "chmod") {
		return nil
	}
	if ev.Filename != "/etc/sudoers" {
		return nil
	}
	if _, safe := sudoersSafeComm[ev.Comm]; safe {
		return nil
	}
	corr.Register(ev.PID, "sudoers")
	return candidate("RULE-09", "Sudoers tampering", "sudoers", ev,
		fmt.Sprintf("process %s touched /etc/sudoers", ev.Comm))
}
