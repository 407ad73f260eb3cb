/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/privdetect/alert"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detector.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleAlert(id string) *alert.Alert {
	return &alert.Alert{
		AlertID:   id,
		RuleID:    "RULE-01",
		RuleName:  "Direct UID to root",
		Severity:  alert.SeverityCritical,
		UID:       1000,
		Comm:      "myapp",
		CreatedAt: time.Now().UTC(),
	}
}

func TestSaveAlertIdempotent(t *testing.T) {
	s := openTest(t)
	a := sampleAlert("11111111-1111-1111-1111-111111111111")

	require.NoError(t, s.SaveAlert(a))
	require.NoError(t, s.SaveAlert(a))

	recent, err := s.Recent(24, 10, "")
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestUnforwardedOrderingAndMarkForwarded(t *testing.T) {
	s := openTest(t)
	ids := []string{"a1111111-1111-1111-1111-111111111111", "b2222222-2222-2222-2222-222222222222", "c3333333-3333-3333-3333-333333333333"}
	for _, id := range ids {
		require.NoError(t, s.SaveAlert(sampleAlert(id)))
	}

	unforwarded, err := s.Unforwarded(10)
	require.NoError(t, err)
	require.Len(t, unforwarded, 3)
	for i := 1; i < len(unforwarded); i++ {
		require.Less(t, unforwarded[i-1].Rowid, unforwarded[i].Rowid)
	}

	rowids := []int64{unforwarded[0].Rowid, unforwarded[1].Rowid}
	require.NoError(t, s.MarkForwarded(rowids))

	remaining, err := s.Unforwarded(10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, unforwarded[2].Rowid, remaining[0].Rowid)
}

func TestFetchNewWatermark(t *testing.T) {
	s := openTest(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveAlert(sampleAlert(sampleUUID(i))))
	}
	all, err := s.Unforwarded(10)
	require.NoError(t, err)
	require.Len(t, all, 3)

	newer, err := s.FetchNew(all[0].Rowid, 10)
	require.NoError(t, err)
	require.Len(t, newer, 2)
}

func sampleUUID(i int) string {
	return [...]string{
		"d4444444-4444-4444-4444-444444444444",
		"e5555555-5555-5555-5555-555555555555",
		"f6666666-6666-6666-6666-666666666666",
	}[i]
}

func TestAcknowledge(t *testing.T) {
	s := openTest(t)
	id := "12121212-1212-1212-1212-121212121212"
	require.NoError(t, s.SaveAlert(sampleAlert(id)))
	require.NoError(t, s.Acknowledge(id, "operator"))

	got, err := s.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.Acknowledged)
	require.Equal(t, "operator", got.AcknowledgedBy)
}
