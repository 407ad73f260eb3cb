/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package log provides the leveled, structured logger used by the
// detector and the forwarder. It mirrors the teacher's ingest/log
// package: a small set of writers guarded by one mutex, RFC5424
// structured-data encoding for fields, and a level gate that silently
// drops anything below the configured threshold.
package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
	FATAL
)

const DefaultID = `pd@1`

var (
	ErrNotOpen      = errors.New("logger is not open")
	ErrInvalidLevel = errors.New("log level is invalid")

	levelNames = map[Level]string{
		OFF:      "OFF",
		DEBUG:    "DEBUG",
		INFO:     "INFO",
		WARN:     "WARN",
		ERROR:    "ERROR",
		CRITICAL: "CRITICAL",
		FATAL:    "FATAL",
	}
)

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "UNKNOWN"
}

func (l Level) Valid() bool {
	return l >= OFF && l <= FATAL
}

// priority maps our level to an RFC5424 facility.severity value, using
// facility 1 (user-level messages) per the RFC's standard facility
// table and the usual emergency(0)..debug(7) severity scale.
func (l Level) priority() rfc5424.Priority {
	const facility = 1
	var sev int
	switch l {
	case DEBUG:
		sev = 7
	case INFO:
		sev = 6
	case WARN:
		sev = 4
	case ERROR:
		sev = 3
	case CRITICAL, FATAL:
		sev = 2
	default:
		sev = 6
	}
	return rfc5424.Priority(facility*8 + sev)
}

// LevelFromString parses the logging.level config key (§6.6).
func LevelFromString(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFF":
		return OFF, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL":
		return CRITICAL, nil
	case "FATAL":
		return FATAL, nil
	}
	return OFF, ErrInvalidLevel
}

// Logger is a leveled, multi-writer logger. It is safe for concurrent
// use; every worker goroutine in the detector shares one instance.
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.WriteCloser
	lvl      Level
	hot      bool
	hostname string
	appname  string
}

// New creates a logger at INFO level with a single writer.
func New(wtr io.WriteCloser) *Logger {
	l := &Logger{
		wtrs: []io.WriteCloser{wtr},
		lvl:  INFO,
		hot:  true,
	}
	l.hostname, _ = os.Hostname()
	if len(os.Args) > 0 {
		l.appname = os.Args[0]
	}
	return l
}

// NewFile opens (or creates) f in append mode and returns a logger
// writing to it.
func NewFile(f string) (*Logger, error) {
	fout, err := os.OpenFile(f, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	return New(fout), nil
}

func (l *Logger) ready() error {
	if !l.hot || len(l.wtrs) == 0 {
		return ErrNotOpen
	}
	return nil
}

// AddWriter attaches an additional writer; every subsequent log line is
// duplicated to it.
func (l *Logger) AddWriter(wtr io.WriteCloser) error {
	if wtr == nil {
		return errors.New("invalid writer, is nil")
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if err := l.ready(); err != nil {
		return err
	}
	l.wtrs = append(l.wtrs, wtr)
	return nil
}

// SetLevel sets the minimum level that will be emitted.
func (l *Logger) SetLevel(lvl Level) error {
	if !lvl.Valid() {
		return ErrInvalidLevel
	}
	l.mtx.Lock()
	l.lvl = lvl
	l.mtx.Unlock()
	return nil
}

// Close closes every attached writer.
func (l *Logger) Close() (err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.hot = false
	for _, w := range l.wtrs {
		if cerr := w.Close(); cerr != nil {
			err = cerr
		}
	}
	return
}

func (l *Logger) output(lvl Level, msg string, sds ...rfc5424.SDParam) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.lvl == OFF || lvl < l.lvl || l.ready() != nil {
		return
	}
	ln := l.render(time.Now(), lvl, msg, sds...)
	for _, w := range l.wtrs {
		io.WriteString(w, ln)
		io.WriteString(w, "\n")
	}
}

func (l *Logger) render(ts time.Time, lvl Level, msg string, sds ...rfc5424.SDParam) string {
	m := rfc5424.Message{
		Priority:  lvl.priority(),
		Timestamp: ts,
		Hostname:  l.hostname,
		AppName:   l.appname,
		MessageID: lvl.String(),
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{{ID: DefaultID, Parameters: sds}}
	}
	if b, err := m.MarshalBinary(); err == nil {
		return strings.TrimRight(string(b), "\n\t\r")
	}
	return fmt.Sprintf("%s [%s] %s", ts.Format(time.RFC3339), lvl, msg)
}

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam)    { l.output(DEBUG, msg, sds...) }
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam)     { l.output(INFO, msg, sds...) }
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam)     { l.output(WARN, msg, sds...) }
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam)    { l.output(ERROR, msg, sds...) }
func (l *Logger) Critical(msg string, sds ...rfc5424.SDParam) { l.output(CRITICAL, msg, sds...) }

// Fatal logs at FATAL and terminates the process. Only main() paths
// that cannot continue (missing config, §7) should call this.
func (l *Logger) Fatal(msg string, sds ...rfc5424.SDParam) {
	l.output(FATAL, msg, sds...)
	os.Exit(1)
}

// KV builds a structured-data field for use with the level methods
// above, e.g. lg.Warn("rule fired", log.KV("rule", a.RuleID)).
func KV(name string, value interface{}) rfc5424.SDParam {
	switch v := value.(type) {
	case string:
		return rfc5424.SDParam{Name: name, Value: v}
	default:
		return rfc5424.SDParam{Name: name, Value: fmt.Sprintf("%v", v)}
	}
}

// KVErr is shorthand for the common error field.
func KVErr(err error) rfc5424.SDParam {
	return KV("error", err)
}
