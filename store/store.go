/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package store implements C8: the durable alerts table used as the
// outbox for the forwarder. Grounded on
// original_source/detector/storage/database.py's DatabaseManager, and
// on the pack's own sqlite usage pattern (k3s-io-k3s's go.mod requires
// github.com/mattn/go-sqlite3, loaded with a blank import in
// pkg/cli/server/server.go) — the logical schema in spec §6.2 is a
// literal SQL table, so database/sql plus a real SQL engine is the
// direct translation rather than a bespoke flat-file store.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gravwell/privdetect/alert"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	rowid INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id TEXT UNIQUE NOT NULL,
	rule_id TEXT,
	rule_name TEXT,
	severity TEXT,
	confidence REAL,
	description TEXT,
	pid INTEGER,
	ppid INTEGER,
	uid INTEGER,
	new_uid INTEGER,
	comm TEXT,
	parent_comm TEXT,
	syscall TEXT,
	filename TEXT,
	timestamp INTEGER,
	created_at TEXT,
	acknowledged INTEGER DEFAULT 0,
	acknowledged_by TEXT,
	acknowledged_at TEXT,
	forwarded INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS alerts_created_at ON alerts(created_at);
CREATE INDEX IF NOT EXISTS alerts_forwarded ON alerts(forwarded);
`

// Store is a single shared *sql.DB configured for the "exclusive-write,
// shared-read" contract spec §4.7/§9 requires: WAL journal mode plus
// synchronous=NORMAL, so the forwarder can read concurrently with the
// detector's writes.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema and pragmas. The pool is held to one connection,
// so the per-connection pragmas cover every statement and this
// process's writes are serialized; WAL mode is what additionally lets
// the forwarder's reads proceed without blocking on the detector's
// writes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveAlert inserts a, ignoring a duplicate alert_id (spec §3's
// invariant: "insertion is idempotent"). Storage errors are logged by
// the caller (alert.Manager) and never crash the process (spec §4.7).
func (s *Store) SaveAlert(a *alert.Alert) error {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO alerts
			(alert_id, rule_id, rule_name, severity, confidence, description,
			 pid, ppid, uid, new_uid, comm, parent_comm, syscall, filename,
			 timestamp, created_at, acknowledged, forwarded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		a.AlertID, a.RuleID, a.RuleName, string(a.Severity), a.Confidence, a.Description,
		a.PID, a.PPID, a.UID, a.NewUID, a.Comm, a.ParentComm, a.Syscall, a.Filename,
		a.Timestamp, a.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: saving alert %s: %w", a.AlertID, err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		a.Rowid = id
	}
	return nil
}

// Recent returns up to limit alerts from the last "hours" hours, most
// recent first, optionally filtered by severity (spec §4.7 "recent").
func (s *Store) Recent(hours int, limit int, severity string) ([]alert.Alert, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour).UTC().Format(time.RFC3339)
	q := `SELECT ` + selectColumns + ` FROM alerts WHERE created_at >= ?`
	args := []interface{}{cutoff}
	if severity != "" {
		q += ` AND severity = ?`
		args = append(args, severity)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying recent: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// GetByID returns the alert with the given alert_id, or nil if absent.
func (s *Store) GetByID(alertID string) (*alert.Alert, error) {
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM alerts WHERE alert_id = ?`, alertID)
	if err != nil {
		return nil, fmt.Errorf("store: querying alert %s: %w", alertID, err)
	}
	defer rows.Close()
	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, nil
	}
	return &alerts[0], nil
}

// Acknowledge sets acknowledged=1, acknowledged_by, acknowledged_at for
// alertID.
func (s *Store) Acknowledge(alertID, user string) error {
	_, err := s.db.Exec(
		`UPDATE alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ? WHERE alert_id = ?`,
		user, time.Now().UTC().Format(time.RFC3339), alertID)
	if err != nil {
		return fmt.Errorf("store: acknowledging %s: %w", alertID, err)
	}
	return nil
}

// Stats is the §4.7 "stats(hours)" result: counts by severity and the
// top-10 rules by count, over the last "hours" hours.
type Stats struct {
	BySeverity map[string]int
	TopRules   []RuleCount
}

// RuleCount is one row of the top-10-rules-by-count ranking.
type RuleCount struct {
	RuleID string
	Count  int
}

// Stats computes the §4.7 stats(hours) summary.
func (s *Store) Stats(hours int) (Stats, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour).UTC().Format(time.RFC3339)
	out := Stats{BySeverity: make(map[string]int)}

	sevRows, err := s.db.Query(`SELECT severity, COUNT(*) FROM alerts WHERE created_at >= ? GROUP BY severity`, cutoff)
	if err != nil {
		return out, fmt.Errorf("store: severity stats: %w", err)
	}
	defer sevRows.Close()
	for sevRows.Next() {
		var sev string
		var n int
		if err := sevRows.Scan(&sev, &n); err != nil {
			return out, fmt.Errorf("store: scanning severity stats: %w", err)
		}
		out.BySeverity[sev] = n
	}

	ruleRows, err := s.db.Query(
		`SELECT rule_id, COUNT(*) AS n FROM alerts WHERE created_at >= ? GROUP BY rule_id ORDER BY n DESC LIMIT 10`, cutoff)
	if err != nil {
		return out, fmt.Errorf("store: rule stats: %w", err)
	}
	defer ruleRows.Close()
	for ruleRows.Next() {
		var rc RuleCount
		if err := ruleRows.Scan(&rc.RuleID, &rc.Count); err != nil {
			return out, fmt.Errorf("store: scanning rule stats: %w", err)
		}
		out.TopRules = append(out.TopRules, rc)
	}
	return out, nil
}

// FetchNew returns up to limit alerts with rowid strictly greater than
// lastID, in ascending rowid order — the forwarder's watermark-based
// read (spec §4.8 "fetch_new_alerts(last_id, BATCH_SIZE)"), distinct
// from Unforwarded's flag-based read: the watermark is what the
// forwarder persists and resumes from; the forwarded flag is the
// outbox's own bookkeeping, updated via MarkForwarded after a
// successful batch.
func (s *Store) FetchNew(lastID int64, limit int) ([]alert.Alert, error) {
	rows, err := s.db.Query(
		`SELECT rowid, `+selectColumns+` FROM alerts WHERE rowid > ? ORDER BY rowid ASC LIMIT ?`, lastID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: fetching new alerts: %w", err)
	}
	defer rows.Close()
	return scanAlertsWithRowid(rows)
}

// Unforwarded returns up to limit alerts with forwarded=0, in strictly
// ascending rowid order (spec §4.7, §8 invariant 6).
func (s *Store) Unforwarded(limit int) ([]alert.Alert, error) {
	rows, err := s.db.Query(
		`SELECT rowid, `+selectColumns+` FROM alerts WHERE forwarded = 0 ORDER BY rowid ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: querying unforwarded: %w", err)
	}
	defer rows.Close()
	return scanAlertsWithRowid(rows)
}

// MarkForwarded sets forwarded=1 for every rowid given (spec §4.7 bulk
// update).
func (s *Store) MarkForwarded(rowids []int64) error {
	if len(rowids) == 0 {
		return nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(rowids)), ",")
	args := make([]interface{}, len(rowids))
	for i, id := range rowids {
		args[i] = id
	}
	_, err := s.db.Exec(`UPDATE alerts SET forwarded = 1 WHERE rowid IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("store: marking forwarded: %w", err)
	}
	return nil
}

const selectColumns = `alert_id, rule_id, rule_name, severity, confidence, description,
	pid, ppid, uid, new_uid, comm, parent_comm, syscall, filename, timestamp,
	created_at, acknowledged, acknowledged_by, acknowledged_at, forwarded`

func scanAlerts(rows *sql.Rows) ([]alert.Alert, error) {
	var out []alert.Alert
	for rows.Next() {
		a, err := scanOneAlert(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlertsWithRowid(rows *sql.Rows) ([]alert.Alert, error) {
	var out []alert.Alert
	for rows.Next() {
		a, err := scanOneAlert(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanOneAlert(rows *sql.Rows, hasRowid bool) (alert.Alert, error) {
	var a alert.Alert
	var severity, createdAt string
	var ackBy, ackAt sql.NullString
	var acknowledged, forwarded int

	dest := []interface{}{
		&a.AlertID, &a.RuleID, &a.RuleName, &severity, &a.Confidence, &a.Description,
		&a.PID, &a.PPID, &a.UID, &a.NewUID, &a.Comm, &a.ParentComm, &a.Syscall, &a.Filename,
		&a.Timestamp, &createdAt, &acknowledged, &ackBy, &ackAt, &forwarded,
	}
	if hasRowid {
		dest = append([]interface{}{&a.Rowid}, dest...)
	}
	if err := rows.Scan(dest...); err != nil {
		return a, fmt.Errorf("store: scanning alert row: %w", err)
	}
	a.Severity = alert.Severity(severity)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		a.CreatedAt = t
	}
	a.Acknowledged = acknowledged != 0
	a.AcknowledgedBy = ackBy.String
	if ackAt.Valid {
		if t, err := time.Parse(time.RFC3339, ackAt.String); err == nil {
			a.AcknowledgedAt = &t
		}
	}
	a.Forwarded = forwarded != 0
	return a, nil
}
