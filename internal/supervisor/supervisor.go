// Package supervisor runs the single consumer loop that owns the active
// set of admitted task instances, drives admission through rta and
// execution through runtime, and replies to the client that issued each
// control event.
package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/zoobzio/tracez"

	"rtsupervisor/internal/catalog"
	"rtsupervisor/internal/eventqueue"
	"rtsupervisor/internal/logging"
	"rtsupervisor/internal/rta"
	"rtsupervisor/internal/runtime"
)

const (
	SpanActivate   = tracez.Key("supervisor.activate")
	SpanDeactivate = tracez.Key("supervisor.deactivate")
	TagOutcome     = tracez.Tag("supervisor.outcome")
)

// ActiveEntry is the supervisor's view of one admitted instance.
type ActiveEntry struct {
	InstanceID uint64
	Type       catalog.TaskType
}

// Supervisor is the sole writer of the active set. It is not safe for
// concurrent use from more than one goroutine; Run's loop is the only
// caller of the unexported admission/removal logic.
type Supervisor struct {
	catalog *catalog.Catalog
	queue   *eventqueue.Queue
	pool    *runtime.Pool
	tracer  *tracez.Tracer
	logger  *logging.Logger

	maxInstances int
	loopsPerMs   uint64
	active       []ActiveEntry
}

// New constructs a Supervisor. maxInstances bounds the active set
// length; loopsPerMs is the catalog's already-calibrated constant,
// surfaced read-only in Info replies.
func New(cat *catalog.Catalog, queue *eventqueue.Queue, pool *runtime.Pool, logger *logging.Logger, maxInstances int, loopsPerMs uint64) *Supervisor {
	return &Supervisor{
		catalog:      cat,
		queue:        queue,
		pool:         pool,
		tracer:       tracez.New(),
		logger:       logger,
		maxInstances: maxInstances,
		loopsPerMs:   loopsPerMs,
	}
}

// Run consumes events until ctx is canceled or a Shutdown event is
// handled. It returns after runtime cleanup has completed.
func (s *Supervisor) Run(ctx context.Context) {
	defer s.tracer.Close()
	for {
		ev, ok := s.queue.Pop(ctx)
		if !ok {
			s.pool.Cleanup()
			return
		}

		reply := s.handle(ev)
		if ev.Reply != nil {
			ev.Reply <- reply
		}

		if ev.Kind == eventqueue.Shutdown {
			s.pool.Cleanup()
			return
		}
	}
}

func (s *Supervisor) handle(ev eventqueue.Event) string {
	switch ev.Kind {
	case eventqueue.Activate:
		return s.activate(ev.TaskName)
	case eventqueue.Deactivate:
		return s.deactivate(ev.InstanceID)
	case eventqueue.List:
		return s.list()
	case eventqueue.Info:
		return s.info()
	case eventqueue.Shutdown:
		return "[SERVER]: OK Shutting Down"
	default:
		return "[SERVER]: ERR Invalid Command"
	}
}

func (s *Supervisor) activate(name string) string {
	_, span := s.tracer.StartSpan(context.Background(), SpanActivate)
	defer span.Finish()

	typ, ok := s.catalog.Lookup(name)
	if !ok {
		span.SetTag(TagOutcome, "unknown_task")
		return "[SERVER]: ERR Unknown Task"
	}

	snapshot := make([]catalog.TaskType, len(s.active))
	for i, e := range s.active {
		snapshot[i] = e.Type
	}

	verdict := rta.Evaluate(s.tracer, typ, snapshot)
	if !verdict.Schedulable {
		span.SetTag(TagOutcome, "schedulability")
		return "[SERVER]: ERR Schedulability"
	}

	if len(s.active) >= s.maxInstances {
		span.SetTag(TagOutcome, "system_full")
		return "[SERVER]: ERR System Full"
	}

	id, err := s.pool.CreateInstance(typ)
	if err != nil {
		span.SetTag(TagOutcome, "system_full")
		return "[SERVER]: ERR System Full"
	}

	s.active = append(s.active, ActiveEntry{InstanceID: id, Type: typ})
	span.SetTag(TagOutcome, "ok")
	return fmt.Sprintf("[SERVER]: OK ID=%d", id)
}

func (s *Supervisor) deactivate(id uint64) string {
	_, span := s.tracer.StartSpan(context.Background(), SpanDeactivate)
	defer span.Finish()

	if err := s.pool.StopInstance(id); err != nil {
		span.SetTag(TagOutcome, "invalid_id")
		return "[SERVER]: ERR Invalid ID"
	}

	for i, e := range s.active {
		if e.InstanceID == id {
			s.active = append(s.active[:i], s.active[i+1:]...)
			break
		}
	}
	span.SetTag(TagOutcome, "ok")
	return "[SERVER]: OK"
}

func (s *Supervisor) list() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Running: %d\n", len(s.active))
	for _, e := range s.active {
		fmt.Fprintf(&b, "  [ID %d] %s (C=%d, T=%d)\n", e.InstanceID, e.Type.Name, e.Type.WCETMs, e.Type.PeriodMs)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// info appends a Calibration line and a Metrics line, reading the
// metricz instruments runtime.Pool and eventqueue.Queue already
// maintain, after the fixed capacity/task report, additive to the
// listing format.
func (s *Supervisor) info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Capacity: %d/%d active\n", len(s.active), s.maxInstances)
	b.WriteString("Tasks:\n")
	for _, t := range s.catalog.Iterate() {
		fmt.Fprintf(&b, "  %s (C=%d, T=%d, D=%d)\n", t.Name, t.WCETMs, t.PeriodMs, t.DeadlineMs)
	}
	fmt.Fprintf(&b, "Calibration: %d loops/ms\n", s.loopsPerMs)
	fmt.Fprintf(&b, "Metrics: deadline_misses_total=%.0f response_time_ms=%.0f queue_len=%.0f queue_full_total=%.0f",
		s.pool.Metrics().Counter(runtime.MetricDeadlineMisses).Value(),
		s.pool.Metrics().Gauge(runtime.MetricResponseTimeMs).Value(),
		s.queue.Metrics().Gauge(eventqueue.MetricLen).Value(),
		s.queue.Metrics().Counter(eventqueue.MetricFull).Value())
	return b.String()
}

// ActiveCount reports the current active-set length, for tests and
// diagnostics; it does not mutate state.
func (s *Supervisor) ActiveCount() int { return len(s.active) }
