package runtime

import (
	"math"
	"sync"
)

// responseStat accumulates response-time statistics across every job of
// every task instance in a Pool, using Welford's online algorithm so the running
// mean and variance never need the full sample history.
type responseStat struct {
	mu   sync.Mutex
	n    int64
	mean float64
	m2   float64
}

func (s *responseStat) add(ms float64) {
	s.mu.Lock()
	s.n++
	delta := ms - s.mean
	s.mean += delta / float64(s.n)
	delta2 := ms - s.mean
	s.m2 += delta * delta2
	s.mu.Unlock()
}

// snapshot returns the sample count, mean, and standard deviation (in
// milliseconds) observed so far.
func (s *responseStat) snapshot() (count int64, meanMs, stdMs float64) {
	s.mu.Lock()
	count = s.n
	meanMs = s.mean
	if s.n > 1 {
		variance := s.m2 / float64(s.n-1)
		if variance > 0 {
			stdMs = math.Sqrt(variance)
		}
	}
	s.mu.Unlock()
	return
}
