/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package forward

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/privdetect/alert"
	"github.com/gravwell/privdetect/log"
)

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

var _ io.WriteCloser = nopWriteCloser{}

type fakeSource struct {
	alerts  []alert.Alert
	marked  []int64
}

func (f *fakeSource) FetchNew(lastID int64, limit int) ([]alert.Alert, error) {
	var out []alert.Alert
	for _, a := range f.alerts {
		if a.Rowid > lastID {
			out = append(out, a)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) MarkForwarded(rowids []int64) error {
	f.marked = append(f.marked, rowids...)
	return nil
}

func TestConfigRoundTripMode0600(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forwarder_config.json")
	cfg := Config{VercelURL: "https://example.com", APIKey: "abcdefghijklmnop", MachineName: "host1", LastSyncedID: 5}

	require.NoError(t, SaveConfig(path, cfg))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg, *loaded)
}

func TestRedactedAPIKey(t *testing.T) {
	cfg := Config{APIKey: "sk-1234567890abcdef"}
	require.Equal(t, "sk-1234567...", cfg.RedactedAPIKey())
}

func TestLoadConfigMissingIsNotConfigured(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestRunOnceAdvancesWatermarkAndMarksForwarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "testkey", r.Header.Get("X-API-Key"))
		json.NewEncoder(w).Encode(map[string]interface{}{"inserted": 2, "success": true})
	}))
	defer srv.Close()

	src := &fakeSource{alerts: []alert.Alert{
		{AlertID: "a", Rowid: 101}, {AlertID: "b", Rowid: 102},
	}}
	cfg := &Config{VercelURL: srv.URL, APIKey: "testkey"}

	var saved Config
	fwd := New(cfg, src, log.New(nopWriteCloser{}), func(c Config) error {
		saved = c
		return nil
	})

	n, err := fwd.RunOnce()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, int64(102), cfg.LastSyncedID)
	require.Equal(t, int64(102), saved.LastSyncedID)
	require.ElementsMatch(t, []int64{101, 102}, src.marked)
}

func TestRunOnceAbortsOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	src := &fakeSource{alerts: []alert.Alert{{AlertID: "a", Rowid: 1}}}
	cfg := &Config{VercelURL: srv.URL, APIKey: "bad"}
	fwd := New(cfg, src, log.New(nopWriteCloser{}), nil)

	_, err := fwd.RunOnce()
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, int64(0), cfg.LastSyncedID)
}

func TestRunOnceNoNewAlertsSkipsPost(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	src := &fakeSource{}
	cfg := &Config{VercelURL: srv.URL, APIKey: "k", LastSyncedID: 100}
	fwd := New(cfg, src, log.New(nopWriteCloser{}), nil)

	n, err := fwd.RunOnce()
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.False(t, called)
}
