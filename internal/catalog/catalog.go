// Package catalog holds the immutable table of task parameters and a
// calibrated CPU workload generator. Calibration measures how many
// burn iterations this machine can run per millisecond, so a later
// Workload(wcet_ms) call burns approximately wcet_ms of wall-clock CPU
// time regardless of host speed.
package catalog

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/zoobzio/clockz"
)

// ErrClockUnavailable is returned by Calibrate when the supplied sample
// window produced no measurable elapsed time.
var ErrClockUnavailable = errors.New("catalog: monotonic clock unavailable")

// TaskType is an immutable catalog entry. Values are never mutated
// after construction; Catalog always hands out copies.
type TaskType struct {
	Name       string
	WCETMs     int64
	PeriodMs   int64
	DeadlineMs int64
}

// Validate checks the WCET <= Deadline <= Period ordering every
// catalog entry must hold.
func (t TaskType) Validate() error {
	if t.WCETMs <= 0 || t.PeriodMs <= 0 || t.DeadlineMs <= 0 {
		return errors.New("catalog: wcet/period/deadline must be positive")
	}
	if t.WCETMs > t.DeadlineMs || t.DeadlineMs > t.PeriodMs {
		return errors.New("catalog: requires wcet_ms <= deadline_ms <= period_ms")
	}
	return nil
}

// DefaultCatalog is the built-in three-task catalog: t1 (C=50,
// T=D=300), t2 (C=100, T=D=500), t3 (C=200, T=D=1000), all milliseconds.
var DefaultCatalog = []TaskType{
	{Name: "t1", WCETMs: 50, PeriodMs: 300, DeadlineMs: 300},
	{Name: "t2", WCETMs: 100, PeriodMs: 500, DeadlineMs: 500},
	{Name: "t3", WCETMs: 200, PeriodMs: 1000, DeadlineMs: 1000},
}

// Catalog is the finite, startup-known table of TaskTypes plus the
// calibration constant every Workload call needs.
type Catalog struct {
	tasks      []TaskType
	loopsPerMs uint64
}

// New validates and stores tasks; it does not calibrate — call
// Calibrate separately, once, before the supervisor loop starts.
func New(tasks []TaskType) (*Catalog, error) {
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	names := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if names[t.Name] {
			return nil, errors.New("catalog: duplicate task name " + t.Name)
		}
		names[t.Name] = true
	}
	cp := make([]TaskType, len(tasks))
	copy(cp, tasks)
	return &Catalog{tasks: cp}, nil
}

// Calibrate runs the burn loop for sampleFor and derives loops_per_ms,
// the constant that makes a later Workload(wcet_ms) call burn
// approximately wcet_ms of wall-clock CPU time. Blocking; meant to be
// called once, before the supervisor loop starts.
func (c *Catalog) Calibrate(clock clockz.Clock, sampleFor time.Duration) (uint64, error) {
	if sampleFor <= 0 {
		return 0, ErrClockUnavailable
	}
	start := clock.Now()
	deadline := start.Add(sampleFor)
	var iterations uint64
	x := 0.1
	for clock.Now().Before(deadline) {
		for i := 0; i < 1000; i++ {
			x = burnOnce(x)
		}
		iterations += 1000
	}
	elapsedMs := clock.Now().Sub(start).Milliseconds()
	if elapsedMs <= 0 {
		return 0, ErrClockUnavailable
	}
	sink = x // prevent the compiler from eliding the loop
	c.loopsPerMs = iterations / uint64(elapsedMs)
	if c.loopsPerMs == 0 {
		c.loopsPerMs = 1
	}
	return c.loopsPerMs, nil
}

// LoopsPerMs returns the calibrated constant (0 before Calibrate runs).
func (c *Catalog) LoopsPerMs() uint64 { return c.loopsPerMs }

// Lookup finds a TaskType by name. O(N) over a small catalog.
func (c *Catalog) Lookup(name string) (TaskType, bool) {
	for _, t := range c.tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskType{}, false
}

// Iterate returns every TaskType, sorted by name for deterministic INFO
// output.
func (c *Catalog) Iterate() []TaskType {
	out := make([]TaskType, len(c.tasks))
	copy(out, c.tasks)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// sink defeats dead-code elimination of the calibration loop's result;
// the compiler can't prove burnOnce has no side effects if the result
// escapes to a package-level variable.
var sink float64

// Workload returns a closure that burns CPU for approximately ms
// milliseconds, given the catalog's calibrated loops_per_ms. The same
// function is used for every task type; only the duration argument
// differs per call.
func (c *Catalog) Workload(ms int64) func() {
	loops := c.loopsPerMs * uint64(ms)
	return func() {
		x := 0.1
		for i := uint64(0); i < loops; i++ {
			x = burnOnce(x)
		}
		sink = x
	}
}

// burnOnce performs a non-optimizable floating point operation: a
// sqrt/sin combination with no closed-form shortcut the compiler could
// hoist out of the loop.
func burnOnce(x float64) float64 {
	return math.Sqrt(math.Abs(math.Sin(x)*1000+1)) + 1e-9
}
