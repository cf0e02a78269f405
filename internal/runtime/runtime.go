// Package runtime is the periodic-task execution engine: a fixed-size
// pool of task instance slots, each backed by a goroutine running an
// anchor-based periodic release loop at a priority derived from the
// task's period, attempted under SCHED_FIFO where permitted.
package runtime

import (
	"context"
	"errors"
	gruntime "runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
	"golang.org/x/sys/unix"

	"rtsupervisor/internal/catalog"
	"rtsupervisor/internal/config"
	"rtsupervisor/internal/logging"
)

// ErrFull is returned by CreateInstance when no pool slot is free.
var ErrFull = errors.New("runtime: pool full")

// ErrNotFound is returned by StopInstance for an id with no active slot.
var ErrNotFound = errors.New("runtime: instance not found")

// ErrPermissionDenied is returned when SCHED_FIFO requires a privilege
// the process does not have.
var ErrPermissionDenied = errors.New("runtime: real-time scheduling permission denied")

const (
	MetricDeadlineMisses = metricz.Key("runtime.deadline_misses.total")
	MetricResponseTimeMs = metricz.Key("runtime.response_time.ms")

	SpanJob = tracez.Key("runtime.job")
	TagTask = tracez.Tag("runtime.task")
	TagMiss = tracez.Tag("runtime.deadline_miss")

	// EventDeadlineMiss fires once per job whose completion time exceeded
	// its absolute deadline.
	EventDeadlineMiss = hookz.Key("runtime.deadline_miss")
)

// DeadlineMissEvent is emitted via hookz when a job overruns its
// deadline.
type DeadlineMissEvent struct {
	InstanceID   uint64
	TaskName     string
	ResponseTime time.Duration
	OverrunBy    time.Duration
	Timestamp    time.Time
}

type slot struct {
	active bool
	id     uint64
	typ    catalog.TaskType
	stop   chan struct{}
	done   chan struct{}
}

// Pool exclusively owns task instance storage: no other package reads
// or mutates slot state.
type Pool struct {
	cfg      config.Config
	clock    clockz.Clock
	workload func(ms int64) func()
	logger   *logging.Logger

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[DeadlineMissEvent]

	mu        sync.Mutex
	slots     []slot
	idCounter atomic.Uint64

	responseStat responseStat

	rtAvailable bool
	wg          sync.WaitGroup
}

// New builds a Pool with cfg.MaxInstances slots. workload is the
// catalog's calibrated Workload function (internal/catalog.Catalog.
// Workload); it is injected rather than imported so tests can supply a
// deterministic, clock-free burn.
func New(cfg config.Config, clock clockz.Clock, workload func(ms int64) func(), logger *logging.Logger) *Pool {
	if clock == nil {
		clock = clockz.RealClock
	}
	m := metricz.New()
	m.Counter(MetricDeadlineMisses)
	m.Gauge(MetricResponseTimeMs)

	p := &Pool{
		cfg:      cfg,
		clock:    clock,
		workload: workload,
		logger:   logger,
		metrics:  m,
		tracer:   tracez.New(),
		hooks:    hookz.New[DeadlineMissEvent](),
		slots:    make([]slot, cfg.MaxInstances),
	}
	p.idCounter.Store(0)
	p.rtAvailable = probeRealTimeScheduling()
	if !p.rtAvailable && p.logger != nil {
		p.logger.Warning().Log("real-time scheduling unavailable, degrading to best-effort (soft) priorities")
	}
	return p
}

// Metrics exposes deadline-miss counters and response-time gauge for the
// supervisor's INFO reply.
func (p *Pool) Metrics() *metricz.Registry { return p.metrics }

// ResponseTimeStats reports the sample count, mean, and standard
// deviation (milliseconds) of every job's response time observed across
// every instance the pool has ever run.
func (p *Pool) ResponseTimeStats() (count int64, meanMs, stdMs float64) {
	return p.responseStat.snapshot()
}

// OnDeadlineMiss registers a handler invoked whenever a job overruns its
// deadline; cmd/rtsupervisord uses this to log structurally.
func (p *Pool) OnDeadlineMiss(handler func(context.Context, DeadlineMissEvent) error) error {
	_, err := p.hooks.Hook(EventDeadlineMiss, handler)
	return err
}

// CreateInstance allocates a free slot, spawns its release-loop
// goroutine, and waits for it to confirm it is ready to run.
func (p *Pool) CreateInstance(typ catalog.TaskType) (uint64, error) {
	p.mu.Lock()
	idx := -1
	for i := range p.slots {
		if !p.slots[i].active {
			idx = i
			break
		}
	}
	if idx == -1 {
		p.mu.Unlock()
		return 0, ErrFull
	}

	id := p.idCounter.Add(1)
	p.slots[idx] = slot{
		active: true,
		id:     id,
		typ:    typ,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.mu.Unlock()

	ready := make(chan error, 1)
	p.wg.Add(1)
	go p.runInstance(idx, id, typ, ready)

	if err := <-ready; err != nil {
		p.mu.Lock()
		p.slots[idx].active = false
		p.mu.Unlock()
		return 0, errors.Join(ErrPermissionDenied, err)
	}
	return id, nil
}

// StopInstance is synchronous: it returns only after the target
// goroutine has exited.
func (p *Pool) StopInstance(id uint64) error {
	p.mu.Lock()
	idx := -1
	for i := range p.slots {
		if p.slots[i].active && p.slots[i].id == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		p.mu.Unlock()
		return ErrNotFound
	}
	stopCh := p.slots[idx].stop
	doneCh := p.slots[idx].done
	p.mu.Unlock()

	close(stopCh)
	<-doneCh

	p.mu.Lock()
	p.slots[idx].active = false
	p.mu.Unlock()
	return nil
}

// Cleanup signals every active instance and joins each; used on
// supervisor shutdown.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	type target struct {
		stop chan struct{}
		done chan struct{}
	}
	var targets []target
	for i := range p.slots {
		if p.slots[i].active {
			targets = append(targets, target{stop: p.slots[i].stop, done: p.slots[i].done})
		}
	}
	p.mu.Unlock()

	for _, t := range targets {
		close(t.stop)
	}
	for _, t := range targets {
		<-t.done
	}

	p.mu.Lock()
	for i := range p.slots {
		p.slots[i].active = false
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.tracer.Close()
	p.hooks.Close()
}

// runInstance is the per-slot goroutine: one OS thread (via
// LockOSThread), SCHED_FIFO priority attempt, then the anchor-based
// periodic release loop.
func (p *Pool) runInstance(idx int, id uint64, typ catalog.TaskType, ready chan<- error) {
	defer p.wg.Done()

	gruntime.LockOSThread()
	defer gruntime.UnlockOSThread()

	if p.rtAvailable {
		prio := Priority(typ.PeriodMs, p.cfg)
		if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, &unix.SchedParam{Priority: int32(prio)}); err != nil {
			if errors.Is(err, syscall.EPERM) {
				ready <- err
				close(p.slots[idx].done)
				return
			}
			if p.logger != nil {
				p.logger.Warning().Str("task", typ.Name).Log("SCHED_FIFO unavailable for this instance, running best-effort")
			}
		}
	}
	ready <- nil

	p.mu.Lock()
	stopCh := p.slots[idx].stop
	p.mu.Unlock()

	p.releaseLoop(id, typ, stopCh)
	close(p.slots[idx].done)
}

// releaseLoop runs one periodic job per iteration, anchored rather than
// drift-compensated: release is always anchor + k*T, computed by
// repeatedly adding the period to the previous release time. A release
// that runs long never shifts later releases, so scheduling jitter on
// one job can't accumulate into the next.
func (p *Pool) releaseLoop(id uint64, typ catalog.TaskType, stopCh <-chan struct{}) {
	period := time.Duration(typ.PeriodMs) * time.Millisecond
	deadline := time.Duration(typ.DeadlineMs) * time.Millisecond
	burn := p.workload(typ.WCETMs)

	release := p.clock.Now()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		absoluteDeadline := release.Add(deadline)

		ctx, span := p.tracer.StartSpan(context.Background(), SpanJob)
		span.SetTag(TagTask, typ.Name)

		burn()
		end := p.clock.Now()

		responseTime := end.Sub(release)
		p.metrics.Gauge(MetricResponseTimeMs).Set(float64(responseTime.Milliseconds()))
		p.responseStat.add(float64(responseTime.Milliseconds()))

		if end.After(absoluteDeadline) {
			overrun := end.Sub(absoluteDeadline)
			p.metrics.Counter(MetricDeadlineMisses).Inc()
			span.SetTag(TagMiss, "true")
			_ = p.hooks.Emit(ctx, EventDeadlineMiss, DeadlineMissEvent{
				InstanceID:   id,
				TaskName:     typ.Name,
				ResponseTime: responseTime,
				OverrunBy:    overrun,
				Timestamp:    end,
			})
		}
		span.Finish()

		release = release.Add(period)

		sleepFor := release.Sub(p.clock.Now())
		if sleepFor > 0 {
			select {
			case <-p.clock.After(sleepFor):
			case <-stopCh:
				return
			}
		}
	}
}

// Priority maps a period to an OS real-time priority: shorter periods
// map to strictly higher numeric priority, clamped to [PriorityMin,
// PriorityMax]. The supervisor process itself must run at a priority
// above PriorityMax so it always preempts any task instance.
func Priority(periodMs int64, cfg config.Config) int {
	prio := cfg.PriorityBase - int(periodMs)/cfg.PriorityStep
	if prio < cfg.PriorityMin {
		prio = cfg.PriorityMin
	}
	if prio > cfg.PriorityMax {
		prio = cfg.PriorityMax
	}
	return prio
}

// probeRealTimeScheduling checks once, at pool construction, whether the
// process is likely able to use SCHED_FIFO at all, so the pool can
// degrade to best-effort scheduling and warn a single time rather than
// per instance. A per-CreateInstance EPERM can still happen later if
// privileges are revoked mid-run; this is only a fast, non-invasive
// approximation (SCHED_FIFO requires CAP_SYS_NICE on Linux, which
// effective root always has) that avoids disturbing the caller's own
// scheduling state just to test it.
func probeRealTimeScheduling() bool {
	return unix.Geteuid() == 0
}
