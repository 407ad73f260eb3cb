/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package baseline implements C6: per-uid syscall timestamp history,
// periodically snapshotted to baseline_<uid>.json, grounded on
// original_source/detector/detection/baseline.py's BaselineManager.
package baseline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gravwell/privdetect/log"
)

// Dir derives the baseline directory from the configured database
// path, per SPEC_FULL.md's "Baseline directory convention": the parent
// of the parent of database.path, e.g. ".../data/database/detector.db"
// -> ".../data/baselines".
func Dir(databasePath string) string {
	return filepath.Join(filepath.Dir(filepath.Dir(databasePath)), "baselines")
}

// Store holds, per uid, a syscall -> list-of-timestamps map, matching
// the on-disk JSON shape in spec §4.5.
type Store struct {
	mtx  sync.Mutex
	dir  string
	lg   *log.Logger
	data map[uint32]map[string][]time.Time
}

// Open builds a Store rooted at dir, reading any existing
// baseline_<uid>.json files found there. A missing directory is not an
// error — it is created lazily on first ForceUpdate.
func Open(dir string, lg *log.Logger) (*Store, error) {
	s := &Store{dir: dir, lg: lg, data: make(map[uint32]map[string][]time.Time)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("baseline: reading %s: %w", dir, err)
	}
	for _, ent := range entries {
		var uid uint32
		if _, err := fmt.Sscanf(ent.Name(), "baseline_%d.json", &uid); err != nil {
			continue
		}
		m, err := readFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			lg.Warn("skipping unreadable baseline file", log.KV("file", ent.Name()), log.KVErr(err))
			continue
		}
		s.data[uid] = m
	}
	return s, nil
}

func readFile(path string) (map[string][]time.Time, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string][]int64
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[string][]time.Time, len(raw))
	for syscall, stamps := range raw {
		ts := make([]time.Time, 0, len(stamps))
		for _, s := range stamps {
			ts = append(ts, time.Unix(0, s))
		}
		out[syscall] = ts
	}
	return out, nil
}

// Record appends "now" to uid's history for syscall.
func (s *Store) Record(uid uint32, syscall string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	m, ok := s.data[uid]
	if !ok {
		m = make(map[string][]time.Time)
		s.data[uid] = m
	}
	m[syscall] = append(m[syscall], time.Now())
}

// GetBaseline returns syscall -> count for uid (spec §4.5: "returns
// syscall -> count", a plain length, not a time-bucketed rate).
func (s *Store) GetBaseline(uid uint32) map[string]int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make(map[string]int)
	for syscall, stamps := range s.data[uid] {
		out[syscall] = len(stamps)
	}
	return out
}

// ForceUpdate snapshots uid's accumulated history to
// baseline_<uid>.json atomically (write to a temp file, then rename).
func (s *Store) ForceUpdate(uid uint32) error {
	s.mtx.Lock()
	m := s.data[uid]
	raw := make(map[string][]int64, len(m))
	for syscall, stamps := range m {
		ts := make([]int64, len(stamps))
		for i, t := range stamps {
			ts[i] = t.UnixNano()
		}
		raw[syscall] = ts
	}
	s.mtx.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("baseline: creating %s: %w", s.dir, err)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("baseline: marshaling uid %d: %w", uid, err)
	}
	final := filepath.Join(s.dir, fmt.Sprintf("baseline_%d.json", uid))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("baseline: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("baseline: renaming %s: %w", tmp, err)
	}
	return nil
}

// KnownUIDs returns every uid currently held in memory, so a periodic
// driver can call ForceUpdate for each (SPEC_FULL.md's "new: a ticker
// in cmd/detector" supplemented feature).
func (s *Store) KnownUIDs() []uint32 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make([]uint32, 0, len(s.data))
	for uid := range s.data {
		out = append(out, uid)
	}
	return out
}
