/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package forward implements C9: the standalone forwarder that polls
// the alert store's outbox, batches new rows, and POSTs them to a
// remote collector at-least-once. Grounded on
// original_source/detector/forwarder/forwarder.py's AlertForwarder,
// following the teacher's ingestConnection.go style of a small client
// wrapping net/http with its own retry loop.
package forward

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gravwell/privdetect/alert"
	"github.com/gravwell/privdetect/log"
)

const (
	batchSize     = 50
	retryAttempts = 3
	retryDelay    = 2 * time.Second
	pollInterval  = 30 * time.Second
	httpTimeout   = 15 * time.Second
)

// ErrUnauthorized is returned when the remote collector rejects the
// configured API key (HTTP 401/403). Per spec §4.8/§7 this is fatal
// for the run: the caller should stop retrying until reconfigured.
var ErrUnauthorized = fmt.Errorf("forward: remote collector rejected API key")

// Source is the subset of store.Store the forwarder needs. Kept
// narrow so this package doesn't import database/sql.
type Source interface {
	FetchNew(lastID int64, limit int) ([]alert.Alert, error)
	MarkForwarded(rowids []int64) error
}

// wireAlert is the §6.3 ingest wire projection: public fields only.
type wireAlert struct {
	AlertID     string  `json:"alert_id"`
	RuleID      string  `json:"rule_id"`
	RuleName    string  `json:"rule_name"`
	Severity    string  `json:"severity"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
	PID         int64   `json:"pid"`
	PPID        int64   `json:"ppid"`
	UID         int64   `json:"uid"`
	NewUID      int64   `json:"new_uid"`
	Comm        string  `json:"comm"`
	ParentComm  string  `json:"parent_comm"`
	Syscall     string  `json:"syscall"`
	Filename    string  `json:"filename"`
	Timestamp   int64   `json:"timestamp"`
}

func toWire(a alert.Alert) wireAlert {
	return wireAlert{
		AlertID: a.AlertID, RuleID: a.RuleID, RuleName: a.RuleName,
		Severity: string(a.Severity), Confidence: a.Confidence, Description: a.Description,
		PID: a.PID, PPID: a.PPID, UID: a.UID, NewUID: a.NewUID,
		Comm: a.Comm, ParentComm: a.ParentComm, Syscall: a.Syscall,
		Filename: a.Filename, Timestamp: a.Timestamp,
	}
}

type ingestResponse struct {
	Inserted int  `json:"inserted"`
	Success  bool `json:"success"`
}

// Config is the forwarder's on-disk configuration (spec §6.4), loaded
// and saved by cmd/forwarder.
type Config struct {
	VercelURL    string `json:"vercel_url"`
	APIKey       string `json:"api_key"`
	MachineName  string `json:"machine_name"`
	LastSyncedID int64  `json:"last_synced_id"`
	LastSyncTime string `json:"last_sync_time"`
}

// Forwarder drives the poll/batch/POST/advance-watermark loop.
type Forwarder struct {
	cfg    *Config
	store  Source
	client *http.Client
	lg     *log.Logger

	onAdvance func(Config) error
}

// New builds a Forwarder. onAdvance is called after each successful
// batch with the updated config so the caller can persist it
// atomically (spec §6.4 "mode 0600").
func New(cfg *Config, store Source, lg *log.Logger, onAdvance func(Config) error) *Forwarder {
	return &Forwarder{
		cfg:       cfg,
		store:     store,
		client:    &http.Client{Timeout: httpTimeout},
		lg:        lg,
		onAdvance: onAdvance,
	}
}

// RunOnce performs a single fetch/POST/advance iteration (spec §4.8
// steps 1-4). It returns the number of alerts forwarded.
func (f *Forwarder) RunOnce() (int, error) {
	batch, err := f.store.FetchNew(f.cfg.LastSyncedID, batchSize)
	if err != nil {
		return 0, fmt.Errorf("forward: fetching new alerts: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	wire := make([]wireAlert, len(batch))
	rowids := make([]int64, len(batch))
	for i, a := range batch {
		wire[i] = toWire(a)
		rowids[i] = a.Rowid
	}

	if err := f.postWithRetry(wire); err != nil {
		return 0, err
	}

	last := batch[len(batch)-1]
	f.cfg.LastSyncedID = last.Rowid
	f.cfg.LastSyncTime = time.Now().UTC().Format(time.RFC3339)

	if err := f.store.MarkForwarded(rowids); err != nil {
		f.lg.Warn("failed to flag alerts forwarded", log.KVErr(err))
	}
	if f.onAdvance != nil {
		if err := f.onAdvance(*f.cfg); err != nil {
			f.lg.Warn("failed to persist forwarder watermark", log.KVErr(err))
		}
	}
	return len(batch), nil
}

// postWithRetry implements spec §4.8 step 3: up to retryAttempts
// attempts with linear backoff retryDelay*attempt; abort immediately
// on 401/403.
func (f *Forwarder) postWithRetry(batch []wireAlert) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("forward: marshaling batch: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		status, respErr := f.post(body)
		if respErr == nil {
			return nil
		}
		lastErr = respErr
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			f.lg.Critical("forwarder rejected by remote collector, invalid credentials", log.KVErr(respErr))
			return ErrUnauthorized
		}
		f.lg.Warn("forwarder POST failed, retrying",
			log.KV("attempt", attempt), log.KVErr(respErr))
		if attempt < retryAttempts {
			time.Sleep(retryDelay * time.Duration(attempt))
		}
	}
	return fmt.Errorf("forward: giving up after %d attempts: %w", retryAttempts, lastErr)
}

func (f *Forwarder) post(body []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, f.cfg.VercelURL+"/api/alerts/ingest", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", f.cfg.APIKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return resp.StatusCode, fmt.Errorf("http %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("http %d: %s", resp.StatusCode, string(b))
	}

	var ir ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	if !ir.Success {
		return resp.StatusCode, fmt.Errorf("remote reported failure")
	}
	return resp.StatusCode, nil
}

// Probe performs the "--setup" live connectivity check (spec's
// SUPPLEMENTED FEATURES): POST an empty batch and check for success.
func (f *Forwarder) Probe() error {
	return f.postWithRetry([]wireAlert{})
}

// Run polls at pollInterval until stop is closed (spec §4.8 step 5).
// It also returns as soon as an iteration fails with ErrUnauthorized.
func (f *Forwarder) Run(stop <-chan struct{}) {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		if n, err := f.RunOnce(); err != nil {
			if err == ErrUnauthorized {
				return
			}
			f.lg.Warn("forwarder iteration failed", log.KVErr(err))
		} else if n > 0 {
			f.lg.Info("forwarded alerts", log.KV("count", n), log.KV("watermark", f.cfg.LastSyncedID))
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}
