/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ingest implements C1 (the event source adapter binding to the
// kernel probe's ring buffer) and C2 (the bounded ingest queue and its
// worker pool). The ring-buffer binding is grounded on cilium/ebpf's
// ringbuf reader, pulled in from the wider example pack (see
// SPEC_FULL.md's DOMAIN STACK) since the teacher has no eBPF dependency
// of its own; everything around it (degraded mode, queue sizing,
// dequeue-timeout worker loop) follows the shape of the teacher's own
// muxer/filewatch consumer loops: a reader goroutine pushes onto a
// channel, worker goroutines drain it with a bounded wait.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf/ringbuf"

	"github.com/gravwell/privdetect/event"
	"github.com/gravwell/privdetect/log"
)

// ErrProbeUnavailable is returned by Read on a degraded Source, i.e.
// one whose Open could not attach the kernel ring buffer (missing
// object, insufficient privilege, kernel too old). Open itself reports
// that case through Degraded, not through an error.
var ErrProbeUnavailable = errors.New("ingest: kernel probe unavailable")

// Source adapts a cilium/ebpf ring buffer reader into a stream of
// decoded Events (C1). In degraded mode it is a no-op source: Read
// always returns ErrProbeUnavailable so the caller can log once and
// keep the rest of the pipeline alive. The probe is not re-attached
// later; a degraded Source stays degraded.
type Source struct {
	rd       *ringbuf.Reader
	degraded bool
}

// Open attaches to the ring buffer identified by objPath (the pinned
// BPF map path, e.g. "/sys/fs/bpf/privdetect/events"). Detector startup
// treats a failure here as non-fatal: the adapter runs degraded and
// logs once, per §7.
func Open(objPath string, lg *log.Logger) (*Source, error) {
	m, err := openPinnedMap(objPath)
	if err != nil {
		lg.Warn("kernel probe unavailable, running degraded", log.KVErr(err))
		return &Source{degraded: true}, nil
	}
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		lg.Warn("kernel probe unavailable, running degraded", log.KVErr(err))
		return &Source{degraded: true}, nil
	}
	return &Source{rd: rd}, nil
}

// Degraded reports whether the probe failed to attach.
func (s *Source) Degraded() bool { return s.degraded }

// Close releases the underlying ring buffer reader.
func (s *Source) Close() error {
	if s.rd == nil {
		return nil
	}
	return s.rd.Close()
}

// Read blocks for the next record and decodes it. Callers loop this
// from a single goroutine, per C1's contract that one adapter feeds
// one queue.
func (s *Source) Read() (event.Event, error) {
	if s.degraded {
		return event.Event{}, ErrProbeUnavailable
	}
	rec, err := s.rd.Read()
	if err != nil {
		return event.Event{}, fmt.Errorf("ingest: ring buffer read: %w", err)
	}
	return event.Decode(rec.RawSample)
}

// Queue is the bounded ingest queue (C2): a single non-blocking
// producer side and a fixed pool of worker goroutines draining with a
// dequeue timeout, so shutdown can't wedge on an empty channel.
type Queue struct {
	ch      chan event.Event
	workers int
	handler func(event.Event)
	lg      *log.Logger

	dropped uint64
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewQueue builds a queue of the given capacity with n worker
// goroutines, each invoking handler for every dequeued event. Defaults
// match spec §6.6: capacity 1000, workers 2.
func NewQueue(capacity, workers int, handler func(event.Event), lg *log.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	if workers <= 0 {
		workers = 2
	}
	return &Queue{
		ch:      make(chan event.Event, capacity),
		workers: workers,
		handler: handler,
		lg:      lg,
	}
}

// Enqueue offers ev to the queue without blocking. If the queue is
// full the event is dropped and the drop counter incremented — the
// producer (the ring-buffer reader goroutine) must never block on a
// slow consumer (§4.2 "non-blocking enqueue").
func (q *Queue) Enqueue(ev event.Event) {
	select {
	case q.ch <- ev:
	default:
		atomic.AddUint64(&q.dropped, 1)
	}
}

// Dropped returns the running count of events dropped due to a full
// queue (events_dropped, §8 stats).
func (q *Queue) Dropped() uint64 {
	return atomic.LoadUint64(&q.dropped)
}

// Start launches the worker pool. Each worker dequeues with a 1s
// timeout so it notices ctx cancellation promptly instead of blocking
// forever on an empty channel.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q.ch:
			q.handler(ev)
		case <-t.C:
			// idle tick: re-check ctx.Done without blocking forever on ch
		}
	}
}

// Stop cancels the worker pool and waits up to 3s for workers to exit,
// matching the detector's graceful-shutdown budget (§7).
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		q.lg.Warn("ingest queue workers did not exit within shutdown budget")
	}
}
