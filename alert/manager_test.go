/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package alert

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/privdetect/log"
)

type fakeStore struct {
	saved []Alert
}

func (f *fakeStore) SaveAlert(a *Alert) error {
	f.saved = append(f.saved, *a)
	return nil
}

func newTestManager(t *testing.T, maxPerMinute int) (*Manager, *fakeStore) {
	t.Helper()
	fs := &fakeStore{}
	lg := log.New(nopWriteCloser{})
	return NewManager(fs, maxPerMinute, lg), fs
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

var _ io.WriteCloser = nopWriteCloser{}

func TestDedupSuppressesRepeat(t *testing.T) {
	m, fs := newTestManager(t, 30)
	c := Candidate{RuleID: "RULE-01", UID: 1000, Comm: "myapp"}

	m.Process(c)
	m.Process(c)

	require.Len(t, fs.saved, 1)
	_, dropped := m.Stats()
	require.Equal(t, uint64(1), dropped)
}

func TestRateLimitBoundary(t *testing.T) {
	m, fs := newTestManager(t, 30)
	for i := 0; i < 40; i++ {
		c := Candidate{RuleID: "RULE-01", UID: int64(i), Comm: "myapp"}
		m.Process(c)
	}
	require.Len(t, fs.saved, 30)
	_, dropped := m.Stats()
	require.Equal(t, uint64(10), dropped)
}

func TestDedupKeyNarrowForRule01(t *testing.T) {
	a1 := Alert{RuleID: "RULE-01", UID: 1000, Filename: "/a"}
	a2 := Alert{RuleID: "RULE-01", UID: 1000, Filename: "/b"}
	require.Equal(t, dedupKeyFor(a1), dedupKeyFor(a2))
}

func TestDedupKeyWideForRule07(t *testing.T) {
	a1 := Alert{RuleID: "RULE-07", UID: 1000, Filename: "/tmp/a"}
	a2 := Alert{RuleID: "RULE-07", UID: 1000, Filename: "/tmp/b"}
	require.NotEqual(t, dedupKeyFor(a1), dedupKeyFor(a2))
}

func TestMissingSeverityDefaultsToCritical(t *testing.T) {
	m, fs := newTestManager(t, 30)
	m.Process(Candidate{RuleID: "RULE-09", UID: 1000})
	require.Len(t, fs.saved, 1)
	require.Equal(t, SeverityCritical, fs.saved[0].Severity)
}

func TestSubscriberPanicIsolated(t *testing.T) {
	m, _ := newTestManager(t, 30)
	called := false
	m.Subscribe(func(Alert) { panic("boom") })
	m.Subscribe(func(Alert) { called = true })

	require.NotPanics(t, func() {
		m.Process(Candidate{RuleID: "RULE-01", UID: 1})
	})
	require.True(t, called)
}
