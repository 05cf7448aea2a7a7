package goBankAuth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// auditTrail delivers one session's audit events to a sink from a single
// worker goroutine. Events are stamped with the session's identity, so
// callers only name what happened. A full queue drops the event and counts
// it; the request path never waits on the sink.
//
// The trail lives as long as the session: Terminate or Close flushes what
// is queued and stops the worker. A nil trail is valid and records nothing.
type auditTrail struct {
	sink     AuditSink
	identity AuditEvent
	queue    chan AuditEvent
	stop     chan struct{}
	finished chan struct{}
	ended    atomic.Bool
	endOnce  sync.Once
	dropped  atomic.Uint64
	now      func() time.Time
}

func newAuditTrail(cfg AuditConfig, sink AuditSink, identity AuditEvent) *auditTrail {
	if !cfg.Enabled {
		return nil
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	t := &auditTrail{
		sink:     sink,
		identity: identity,
		queue:    make(chan AuditEvent, size),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
		now:      time.Now,
	}
	go t.deliver()
	return t
}

func (t *auditTrail) deliver() {
	defer close(t.finished)

	for {
		select {
		case ev := <-t.queue:
			t.sink.Emit(context.Background(), ev)
		case <-t.stop:
			for {
				select {
				case ev := <-t.queue:
					t.sink.Emit(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

// record queues one event for the session. err marks it failed.
func (t *auditTrail) record(eventType string, err error, meta map[string]string) {
	if t == nil || t.ended.Load() {
		return
	}

	ev := t.identity
	ev.Timestamp = t.now().UTC()
	ev.EventType = eventType
	ev.Success = err == nil
	ev.Metadata = meta
	if err != nil {
		ev.Error = err.Error()
	}

	select {
	case t.queue <- ev:
	default:
		t.dropped.Add(1)
	}
}

// end flushes queued events and stops the worker. Later records are
// ignored.
func (t *auditTrail) end() {
	if t == nil {
		return
	}
	t.endOnce.Do(func() {
		t.ended.Store(true)
		close(t.stop)
		<-t.finished
	})
}

func (t *auditTrail) droppedCount() uint64 {
	if t == nil {
		return 0
	}
	return t.dropped.Load()
}
