/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package alert holds the Alert record (spec §3) and the alert manager
// (C7): dedup cache, rate limiter, persistence dispatch, subscriber
// fan-out. Grounded on original_source/detector/detection/alert_manager.py's
// AlertManager.process pipeline, following the teacher's muxer.go style
// of a small manager type with an explicit mutex and a slice of
// subscriber callbacks.
package alert

import "time"

// Severity mirrors spec §3's fixed enum.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is the normalized, persisted record (spec §3, §6.2).
type Alert struct {
	AlertID    string
	RuleID     string
	RuleName   string
	Severity   Severity
	Confidence float64

	PID, PPID, UID, NewUID int64
	Comm, ParentComm       string
	Syscall                string
	Filename               string
	Timestamp              int64

	Description string
	CreatedAt   time.Time

	Acknowledged   bool
	AcknowledgedBy string
	AcknowledgedAt *time.Time

	Forwarded bool

	// Rowid is the outbox sequence surrogate (§3 invariant); populated
	// by the store on save, zero before persistence.
	Rowid int64
}

// Candidate is what the rule engine (C4) produces per firing rule,
// before the manager normalizes it into an Alert. Confidence and
// Severity are optional (spec §4.6 step 1: "missing severity defaults
// to CRITICAL").
type Candidate struct {
	RuleID      string
	RuleName    string
	Severity    Severity
	Confidence  float64
	Description string

	PID, PPID, UID, NewUID int64
	Comm, ParentComm       string
	Syscall                string
	Filename               string
	Timestamp              int64
}
