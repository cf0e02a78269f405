// Package rta implements the admission controller: a utilization bound
// followed by the classic Response-Time Analysis fixed-point test for
// fixed-priority preemptive scheduling with Rate-Monotonic priority
// assignment, on a single processor. The utilization test runs first as
// a fast reject; the fixed-point iteration per task is capped so a
// non-convergent series returns an explicit "nonconvergent" reason
// instead of looping forever.
package rta

import (
	"context"
	"math"
	"sort"

	"github.com/zoobzio/tracez"

	"rtsupervisor/internal/catalog"
)

// Reason names why a candidate was rejected. The zero value means
// schedulable.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonUtilization   Reason = "utilization"
	ReasonDeadline      Reason = "deadline"
	ReasonNonconvergent Reason = "nonconvergent"
)

// Verdict is the outcome of Evaluate.
type Verdict struct {
	Schedulable bool
	Reason      Reason
	// FailingTask names the task whose response-time test failed, for
	// diagnostics; empty when Schedulable and on a utilization rejection,
	// which concerns the whole set rather than one task.
	FailingTask string
}

const maxIterations = 100

const (
	SpanEvaluate = tracez.Key("rta.evaluate")
	TagCandidate = tracez.Tag("rta.candidate")
	TagVerdict   = tracez.Tag("rta.verdict")
	TagReason    = tracez.Tag("rta.reason")
)

// spanLike is the subset of tracez's active-span type Evaluate needs;
// kept local (rather than naming tracez's concrete span type, which
// varies across tracez revisions) so this package only depends on the
// method shape it actually calls.
type spanLike interface {
	SetTag(tracez.Tag, string)
	Finish()
}

// Evaluate tests whether candidate can be admitted alongside active
// without any task missing its deadline. It is pure: neither active
// nor candidate is mutated, and calling it twice with identical inputs
// always returns an identical Verdict.
func Evaluate(tracer *tracez.Tracer, candidate catalog.TaskType, active []catalog.TaskType) Verdict {
	var span spanLike
	if tracer != nil {
		_, s := tracer.StartSpan(context.Background(), SpanEvaluate)
		span = s
		span.SetTag(TagCandidate, candidate.Name)
		defer span.Finish()
	}

	set := make([]catalog.TaskType, 0, len(active)+1)
	set = append(set, active...)
	set = append(set, candidate)

	// Step 2: utilization test (necessary condition, fast reject).
	var u float64
	for _, t := range set {
		u += float64(t.WCETMs) / float64(t.PeriodMs)
	}
	if u > 1.0 {
		return finish(span, Verdict{Schedulable: false, Reason: ReasonUtilization})
	}

	// Step 3: Rate-Monotonic priority assignment, ties broken by name.
	sort.SliceStable(set, func(i, j int) bool {
		if set[i].PeriodMs != set[j].PeriodMs {
			return set[i].PeriodMs < set[j].PeriodMs
		}
		return set[i].Name < set[j].Name
	})

	// Step 4: response-time fixed point, per task, in priority order.
	for i, tau := range set {
		r := float64(tau.WCETMs)
		converged := false
		for iter := 0; iter < maxIterations; iter++ {
			var interference float64
			for j := 0; j < i; j++ {
				hp := set[j]
				interference += math.Ceil(r/float64(hp.PeriodMs)) * float64(hp.WCETMs)
			}
			rNew := float64(tau.WCETMs) + interference
			if rNew > float64(tau.DeadlineMs) {
				return finish(span, Verdict{Schedulable: false, Reason: ReasonDeadline, FailingTask: tau.Name})
			}
			if rNew == r {
				converged = true
				break
			}
			r = rNew
		}
		if !converged {
			return finish(span, Verdict{Schedulable: false, Reason: ReasonNonconvergent, FailingTask: tau.Name})
		}
	}

	return finish(span, Verdict{Schedulable: true})
}

func finish(span spanLike, v Verdict) Verdict {
	if span != nil {
		span.SetTag(TagVerdict, boolString(v.Schedulable))
		span.SetTag(TagReason, string(v.Reason))
	}
	return v
}

func boolString(b bool) string {
	if b {
		return "schedulable"
	}
	return "rejected"
}
