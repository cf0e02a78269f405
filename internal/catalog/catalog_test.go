package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func TestValidate(t *testing.T) {
	ok := TaskType{Name: "t1", WCETMs: 50, PeriodMs: 300, DeadlineMs: 300}
	require.NoError(t, ok.Validate())

	bad := TaskType{Name: "bad", WCETMs: 400, PeriodMs: 300, DeadlineMs: 300}
	require.Error(t, bad.Validate())

	negative := TaskType{Name: "neg", WCETMs: 0, PeriodMs: 300, DeadlineMs: 300}
	require.Error(t, negative.Validate())
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	_, err := New([]TaskType{
		{Name: "t1", WCETMs: 1, PeriodMs: 10, DeadlineMs: 10},
		{Name: "t1", WCETMs: 2, PeriodMs: 20, DeadlineMs: 20},
	})
	require.Error(t, err)
}

func TestNewRejectsInvalidEntry(t *testing.T) {
	_, err := New([]TaskType{
		{Name: "bad", WCETMs: 400, PeriodMs: 300, DeadlineMs: 300},
	})
	require.Error(t, err)
}

func TestLookupAndIterate(t *testing.T) {
	cat, err := New(DefaultCatalog)
	require.NoError(t, err)

	t1, ok := cat.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, int64(50), t1.WCETMs)

	_, ok = cat.Lookup("nope")
	assert.False(t, ok)

	all := cat.Iterate()
	require.Len(t, all, 3)
	assert.Equal(t, "t1", all[0].Name)
	assert.Equal(t, "t2", all[1].Name)
	assert.Equal(t, "t3", all[2].Name)
}

func TestCalibrateRejectsNonPositiveWindow(t *testing.T) {
	cat, err := New(DefaultCatalog)
	require.NoError(t, err)

	_, err = cat.Calibrate(clockz.RealClock, 0)
	assert.ErrorIs(t, err, ErrClockUnavailable)
}

func TestCalibrateDerivesPositiveRate(t *testing.T) {
	cat, err := New(DefaultCatalog)
	require.NoError(t, err)

	loopsPerMs, err := cat.Calibrate(clockz.RealClock, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Greater(t, loopsPerMs, uint64(0))
	assert.Equal(t, loopsPerMs, cat.LoopsPerMs())
}

func TestWorkloadRunsWithoutPanicking(t *testing.T) {
	cat, err := New(DefaultCatalog)
	require.NoError(t, err)

	_, err = cat.Calibrate(clockz.RealClock, 10*time.Millisecond)
	require.NoError(t, err)

	burn := cat.Workload(1)
	require.NotPanics(t, func() { burn() })
}
