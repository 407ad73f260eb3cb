/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package baseline

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/privdetect/log"
)

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

var _ io.WriteCloser = nopWriteCloser{}

func TestDirDerivation(t *testing.T) {
	require.Equal(t, filepath.Clean("/data/baselines"), Dir("/data/database/detector.db"))
}

func TestRecordAndGetBaseline(t *testing.T) {
	lg := log.New(nopWriteCloser{})
	s, err := Open(t.TempDir(), lg)
	require.NoError(t, err)

	s.Record(1000, "execve")
	s.Record(1000, "execve")
	s.Record(1000, "openat")

	counts := s.GetBaseline(1000)
	require.Equal(t, 2, counts["execve"])
	require.Equal(t, 1, counts["openat"])
}

func TestForceUpdateRoundTrip(t *testing.T) {
	lg := log.New(nopWriteCloser{})
	dir := t.TempDir()
	s, err := Open(dir, lg)
	require.NoError(t, err)

	s.Record(2000, "setuid")
	require.NoError(t, s.ForceUpdate(2000))

	reloaded, err := Open(dir, lg)
	require.NoError(t, err)
	counts := reloaded.GetBaseline(2000)
	require.Equal(t, 1, counts["setuid"])
}

func TestKnownUIDs(t *testing.T) {
	lg := log.New(nopWriteCloser{})
	s, err := Open(t.TempDir(), lg)
	require.NoError(t, err)

	s.Record(1, "execve")
	s.Record(2, "execve")

	uids := s.KnownUIDs()
	require.ElementsMatch(t, []uint32{1, 2}, uids)
}
