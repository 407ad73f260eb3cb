/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package event

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeRecord(t *testing.T, pid, uid, newUID uint32, evType Type, comm, filename, syscall string, flags uint32) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	header := struct {
		PID, PPID, UID, EUID, GID, NewUID, NewGID uint32
		Timestamp                                 uint64
		EventType                                 uint32
	}{PID: pid, UID: uid, NewUID: newUID, EventType: uint32(evType)}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, header))

	pad := func(s string, size int) []byte {
		b := make([]byte, size)
		copy(b, s)
		return b
	}
	buf.Write(pad(comm, commSize))
	buf.Write(pad("", commSize))
	buf.Write(pad(filename, filenameSize))
	buf.Write(pad(syscall, syscallSize))
	require.NoError(t, binary.Write(buf, binary.LittleEndian, flags))
	return buf.Bytes()
}

func TestDecodeRoundTrip(t *testing.T) {
	raw := encodeRecord(t, 42, 1000, 0, TypeSetuid, "myapp", "", "setuid", 0)
	ev, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(42), ev.PID)
	require.Equal(t, uint32(1000), ev.UID)
	require.Equal(t, "myapp", ev.Comm)
	require.Equal(t, "setuid", ev.SyscallName)
}

func TestDecodeBackfillsSyscallName(t *testing.T) {
	raw := encodeRecord(t, 1, 1000, 0, TypeCapset, "tool", "", "", 0)
	ev, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, "capset", ev.SyscallName)
}

func TestDecodeWrongSize(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeInvalidUTF8Replaced(t *testing.T) {
	raw := encodeRecord(t, 1, 1000, 0, TypeExecve, "", "", "execve", 0)
	// Corrupt the comm field with an invalid UTF-8 byte sequence.
	raw[4*7+8+4] = 0xff
	raw[4*7+8+4+1] = 0xfe
	ev, err := Decode(raw)
	require.NoError(t, err)
	require.Contains(t, ev.Comm, "�")
}
