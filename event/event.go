/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package event defines the in-process Event record (spec §3) and the
// fixed-layout binary decoder for the kernel probe's ring buffer record
// (spec §6.1). Field encode/decode follows the teacher's entry/time.go
// style: explicit little-endian layout, no bounds-checking beyond what
// the caller already guarantees via RecordSize.
package event

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Type is the small syscall-event enum carried in the kernel record.
type Type uint32

const (
	TypeUnknown    Type = 0
	TypeSetuid     Type = 1
	TypeExecve     Type = 2
	TypeOpenat     Type = 3
	TypeChmod      Type = 4
	TypeCapset     Type = 5
	TypeSetgid     Type = 6
	TypeSetreuid   Type = 7
	TypeSetresuid  Type = 8
)

// syscallNames is the canonical event_type -> syscall_name table used
// to backfill SyscallName when the probe ships it empty (spec §4.1).
var syscallNames = map[Type]string{
	TypeSetuid:    "setuid",
	TypeExecve:    "execve",
	TypeOpenat:    "openat",
	TypeChmod:     "chmod",
	TypeCapset:    "capset",
	TypeSetgid:    "setgid",
	TypeSetreuid:  "setreuid",
	TypeSetresuid: "setresuid",
}

func (t Type) String() string {
	if s, ok := syscallNames[t]; ok {
		return s
	}
	return "unknown"
}

const (
	commSize    = 16
	filenameSize = 256
	syscallSize = 32

	// RecordSize is the wire size of one fixed-layout kernel record
	// (§6.1), extended with a trailing u32 open_flags field per the
	// design note in §9 ("Open-flag extraction") — the probe's fixed
	// record as documented carries no flags channel, so this decoder
	// treats the record as ending in that extra word.
	RecordSize = 4*7 + 8 + 4 + commSize*2 + filenameSize + syscallSize + 4
)

// Event is the immutable, decoded record handed from the event source
// adapter (C1) into the ingest queue (C2).
type Event struct {
	PID, PPID, UID, EUID, GID, NewUID, NewGID uint32
	Timestamp                                 uint64 // monotonic nanoseconds from the probe
	EventType                                 Type
	Comm, ParentComm                          string
	Filename                                  string
	SyscallName                               string
	OpenFlags                                 uint32
}

// Decode parses one fixed-layout record per §6.1. buf must be exactly
// RecordSize bytes; any other length is an error.
func Decode(buf []byte) (Event, error) {
	if len(buf) != RecordSize {
		return Event{}, fmt.Errorf("event: record is %d bytes, want %d", len(buf), RecordSize)
	}
	r := bytes.NewReader(buf)
	var e Event
	var raw struct {
		PID, PPID, UID, EUID, GID, NewUID, NewGID uint32
		Timestamp                                 uint64
		EventType                                 uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return Event{}, fmt.Errorf("event: decoding header: %w", err)
	}
	e.PID, e.PPID, e.UID, e.EUID, e.GID = raw.PID, raw.PPID, raw.UID, raw.EUID, raw.GID
	e.NewUID, e.NewGID = raw.NewUID, raw.NewGID
	e.Timestamp = raw.Timestamp
	e.EventType = Type(raw.EventType)

	comm := make([]byte, commSize)
	pcomm := make([]byte, commSize)
	fname := make([]byte, filenameSize)
	sysname := make([]byte, syscallSize)
	var flags uint32
	for _, f := range []struct {
		buf []byte
	}{{comm}, {pcomm}, {fname}, {sysname}} {
		if _, err := r.Read(f.buf); err != nil {
			return Event{}, fmt.Errorf("event: decoding strings: %w", err)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return Event{}, fmt.Errorf("event: decoding flags: %w", err)
	}

	e.Comm = decodeCString(comm)
	e.ParentComm = decodeCString(pcomm)
	e.Filename = decodeCString(fname)
	e.SyscallName = decodeCString(sysname)
	e.OpenFlags = flags

	if e.SyscallName == "" {
		e.SyscallName = e.EventType.String()
	}
	return e, nil
}

// decodeCString trims at the first NUL and replaces invalid UTF-8, per
// the probe's "UTF-8 with lossy decoding" contract (§4.1).
func decodeCString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.ToValidUTF8(string(b), "�")
}
