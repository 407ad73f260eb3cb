/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command detector wires C1 through C8 into the running engine: event
// source adapter -> ingest queue/worker pool -> whitelist filter ->
// rule engine -> alert manager -> alert store, with the anomaly
// detector and baseline store consulted by each worker in parallel.
// Grounded on original_source/detector/main.py's wiring order and the
// teacher's cmd/* main.go style (flag parsing, config load, signal-
// driven shutdown).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravwell/privdetect/alert"
	"github.com/gravwell/privdetect/anomaly"
	"github.com/gravwell/privdetect/baseline"
	"github.com/gravwell/privdetect/config"
	"github.com/gravwell/privdetect/event"
	"github.com/gravwell/privdetect/ingest"
	"github.com/gravwell/privdetect/log"
	"github.com/gravwell/privdetect/rules"
	"github.com/gravwell/privdetect/store"
	"github.com/gravwell/privdetect/version"
)

const baselineSnapshotInterval = 5 * time.Minute

func main() {
	cfgPath := flag.String("config", "/etc/privdetect/config.yaml", "path to configuration file")
	probePath := flag.String("probe", "/sys/fs/bpf/privdetect/events", "path to the pinned kernel ring buffer map")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		version.PrintVersion(os.Stdout)
		return
	}

	lg := log.New(os.Stderr)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		// Config missing is fatal at startup (spec §7).
		lg.Fatal("failed to load configuration", log.KV("path", *cfgPath), log.KVErr(err))
	}

	if lvl, err := log.LevelFromString(cfg.GetString("logging.level", "INFO")); err == nil {
		lg.SetLevel(lvl)
	}
	if logFile := cfg.GetString("logging.file_path", ""); logFile != "" {
		if fw, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640); err == nil {
			lg.AddWriter(fw)
		} else {
			lg.Warn("could not open log file, continuing with stderr only", log.KVErr(err))
		}
	}

	lg.Info("starting", log.KV("app", cfg.GetString("app.name", version.Name)),
		log.KV("version", cfg.GetString("app.version", version.String())))

	dbPath := cfg.GetString("database.path", "data/database/detector.db")
	db, err := store.Open(dbPath)
	if err != nil {
		lg.Fatal("failed to open alert store", log.KVErr(err))
	}
	defer db.Close()

	bsDir := baseline.Dir(dbPath)
	bs, err := baseline.Open(bsDir, lg)
	if err != nil {
		lg.Fatal("failed to open baseline store", log.KV("dir", bsDir), log.KVErr(err))
	}

	anomalyEnabled := cfg.GetBool("detection.anomaly_enabled", true)
	deviationThreshold := cfg.GetFloat("detection.anomaly_config.deviation_threshold", 2.0)
	det := anomaly.NewDetector(deviationThreshold)
	det.Subscribe(func(a anomaly.Anomaly) {
		lg.Info("anomalous syscall rate", log.KV("uid", a.UID), log.KV("syscall", a.Syscall),
			log.KV("count", a.Count), log.KV("mean", a.Mean))
	})

	wl := ingest.NewWhitelist(cfg)
	engine := rules.NewEngine()

	maxAlertsPerMinute := cfg.GetInt("alerts.rate_limit.max_alerts_per_minute", 30)
	mgr := alert.NewManager(db, maxAlertsPerMinute, lg)
	mgr.Subscribe(func(a alert.Alert) {
		lg.Warn("alert generated", log.KV("rule_id", a.RuleID), log.KV("pid", a.PID), log.KV("uid", a.UID))
	})

	src, err := ingest.Open(*probePath, lg)
	if err != nil {
		lg.Fatal("failed to initialize event source", log.KVErr(err))
	}
	defer src.Close()

	queueSize := cfg.GetInt("performance.queue_size", 1000)
	workerThreads := cfg.GetInt("performance.worker_threads", 2)

	handler := func(ev event.Event) {
		bs.Record(ev.UID, ev.SyscallName)
		if anomalyEnabled {
			// Baseline learning (fitting mean/stddev) is an external-
			// collaborator concern (spec §1); absent a trained model, feed
			// the running count itself as a naive mean so the comparison
			// path is still exercised end to end.
			if count, ok := bs.GetBaseline(ev.UID)[ev.SyscallName]; ok {
				det.SetBaseline(ev.UID, ev.SyscallName, anomaly.Baseline{Mean: float64(count)})
			}
			det.Observe(ev.UID, ev.SyscallName)
		}
		if !wl.Allowed(ev) {
			return
		}
		for _, c := range engine.Evaluate(ev) {
			mgr.Process(c)
		}
	}

	queue := ingest.NewQueue(queueSize, workerThreads, handler, lg)
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)

	if src.Degraded() {
		lg.Warn("running in degraded mode: kernel probe unavailable, storage and forwarder remain operational")
	} else {
		go readLoop(src, queue, lg)
	}

	go snapshotLoop(ctx, bs, lg)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	lg.Info("shutting down")
	cancel()
	queue.Stop()
	for _, uid := range bs.KnownUIDs() {
		if err := bs.ForceUpdate(uid); err != nil {
			lg.Warn("failed to snapshot baseline on shutdown", log.KV("uid", uid), log.KVErr(err))
		}
	}
}

// readLoop pulls decoded events off the kernel ring buffer and
// non-blocking-enqueues them (spec §4.1/§4.2). A malformed event is
// logged and skipped, never fatal (spec §7).
func readLoop(src *ingest.Source, q *ingest.Queue, lg *log.Logger) {
	for {
		ev, err := src.Read()
		if err != nil {
			lg.Warn("skipping malformed event", log.KVErr(err))
			continue
		}
		q.Enqueue(ev)
	}
}

// snapshotLoop drives C6's periodic per-uid snapshot, the one place
// SPEC_FULL.md's SUPPLEMENTED FEATURES adds a driver the original never
// wired (original_source's BaselineManager.force_update is only ever
// called interactively, never on a timer).
func snapshotLoop(ctx context.Context, bs *baseline.Store, lg *log.Logger) {
	t := time.NewTicker(baselineSnapshotInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, uid := range bs.KnownUIDs() {
				if err := bs.ForceUpdate(uid); err != nil {
					lg.Warn("periodic baseline snapshot failed", log.KV("uid", uid), log.KVErr(err))
				}
			}
		}
	}
}
