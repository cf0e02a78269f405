// Package eventqueue is the bounded FIFO carrying control events from
// front-end connections to the supervisor's single consumer loop. A
// full queue rejects new pushes rather than blocking the caller or
// dropping silently, so the connection that enqueued the event can
// report back immediately.
package eventqueue

import (
	"context"
	"errors"

	"github.com/zoobzio/metricz"
)

// Kind tags the variant an Event carries.
type Kind int

const (
	Activate Kind = iota
	Deactivate
	List
	Info
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case Activate:
		return "activate"
	case Deactivate:
		return "deactivate"
	case List:
		return "list"
	case Info:
		return "info"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event is a single control request. Reply is the originating client's
// handle: a buffered channel the supervisor writes exactly one response
// string into before popping the next event.
type Event struct {
	Kind       Kind
	TaskName   string // Activate
	InstanceID uint64 // Deactivate
	Reply      chan<- string
}

// ErrFull is returned by Push when the queue is at capacity. The
// caller is expected to reply to its client rather than retry silently.
var ErrFull = errors.New("eventqueue: full")

const (
	MetricLen    = metricz.Key("eventqueue.len")
	MetricPushed = metricz.Key("eventqueue.pushed.total")
	MetricFull   = metricz.Key("eventqueue.full.total")
	MetricPopped = metricz.Key("eventqueue.popped.total")
)

// Queue is a bounded, single-consumer FIFO of Events.
type Queue struct {
	ch      chan Event
	metrics *metricz.Registry
}

// New constructs a Queue with the given capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	m := metricz.New()
	m.Gauge(MetricLen)
	m.Counter(MetricPushed)
	m.Counter(MetricFull)
	m.Counter(MetricPopped)
	return &Queue{
		ch:      make(chan Event, capacity),
		metrics: m,
	}
}

// Metrics exposes the queue's registry (queue_len gauge, push/full/pop
// counters) for the supervisor's INFO reply.
func (q *Queue) Metrics() *metricz.Registry { return q.metrics }

// Push is non-blocking: it either enqueues immediately or returns
// ErrFull. Never blocks on a full queue.
func (q *Queue) Push(ev Event) error {
	select {
	case q.ch <- ev:
		q.metrics.Counter(MetricPushed).Inc()
		q.metrics.Gauge(MetricLen).Set(float64(len(q.ch)))
		return nil
	default:
		q.metrics.Counter(MetricFull).Inc()
		return ErrFull
	}
}

// Pop blocks until an event is available or ctx is canceled. The second
// return is false only when ctx was canceled before an event arrived.
func (q *Queue) Pop(ctx context.Context) (Event, bool) {
	select {
	case ev := <-q.ch:
		q.metrics.Counter(MetricPopped).Inc()
		q.metrics.Gauge(MetricLen).Set(float64(len(q.ch)))
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}

// Len reports the current number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Cap reports the queue's fixed capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
