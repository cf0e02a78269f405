package rta

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rtsupervisor/internal/catalog"
)

func TestEvaluateAdmitsDefaultCatalog(t *testing.T) {
	t1 := catalog.TaskType{Name: "t1", WCETMs: 50, PeriodMs: 300, DeadlineMs: 300}
	t2 := catalog.TaskType{Name: "t2", WCETMs: 100, PeriodMs: 500, DeadlineMs: 500}
	t3 := catalog.TaskType{Name: "t3", WCETMs: 200, PeriodMs: 1000, DeadlineMs: 1000}

	v := Evaluate(nil, t1, nil)
	assert.True(t, v.Schedulable)

	v = Evaluate(nil, t2, []catalog.TaskType{t1})
	assert.True(t, v.Schedulable)

	v = Evaluate(nil, t3, []catalog.TaskType{t1, t2})
	assert.True(t, v.Schedulable)
}

func TestEvaluateRejectsUtilizationOverrun(t *testing.T) {
	tx := catalog.TaskType{Name: "tX", WCETMs: 900, PeriodMs: 1000, DeadlineMs: 1000}
	ty := catalog.TaskType{Name: "tY", WCETMs: 200, PeriodMs: 1000, DeadlineMs: 1000}

	v := Evaluate(nil, ty, []catalog.TaskType{tx})
	assert.False(t, v.Schedulable)
	assert.Equal(t, ReasonUtilization, v.Reason)
}

func TestEvaluateRejectsDeadlineMiss(t *testing.T) {
	ta := catalog.TaskType{Name: "tA", WCETMs: 3, PeriodMs: 10, DeadlineMs: 10}
	tb := catalog.TaskType{Name: "tB", WCETMs: 3, PeriodMs: 12, DeadlineMs: 5}

	v := Evaluate(nil, tb, []catalog.TaskType{ta})
	assert.False(t, v.Schedulable)
	assert.Equal(t, ReasonDeadline, v.Reason)
	assert.Equal(t, "tB", v.FailingTask)
}

func TestEvaluateIsPure(t *testing.T) {
	active := []catalog.TaskType{
		{Name: "t1", WCETMs: 50, PeriodMs: 300, DeadlineMs: 300},
	}
	candidate := catalog.TaskType{Name: "t2", WCETMs: 100, PeriodMs: 500, DeadlineMs: 500}

	activeCopy := append([]catalog.TaskType(nil), active...)

	v1 := Evaluate(nil, candidate, active)
	v2 := Evaluate(nil, candidate, active)

	assert.Equal(t, v1, v2)
	assert.Equal(t, activeCopy, active)
	assert.Equal(t, catalog.TaskType{Name: "t2", WCETMs: 100, PeriodMs: 500, DeadlineMs: 500}, candidate)
}

func TestEvaluateTieBreaksByName(t *testing.T) {
	// Equal periods: RM order falls back to name, so "a" preempts "b".
	a := catalog.TaskType{Name: "a", WCETMs: 4, PeriodMs: 10, DeadlineMs: 10}
	b := catalog.TaskType{Name: "b", WCETMs: 4, PeriodMs: 10, DeadlineMs: 10}

	v := Evaluate(nil, b, []catalog.TaskType{a})
	assert.True(t, v.Schedulable)
}
