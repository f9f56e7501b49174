package tus

import (
	"sync"
	"time"
)

// Stats tracks chunk transfer durations and sizes of an upload.
type Stats struct {
	sum            time.Duration
	bytes          int64
	finishedChunks int64
	retries        int64
	mu             sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful chunk transfer.
func (s *Stats) Update(d time.Duration, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.bytes += n
	s.finishedChunks++
}

// Retried records a scheduled retry.
func (s *Stats) Retried() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
}

// Average returns the average transfer duration of completed chunks.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedChunks == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedChunks)
}

// FinishedCount returns the number of acknowledged chunk transfers.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedChunks
}

// RetryCount returns the number of scheduled retries.
func (s *Stats) RetryCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// Throughput returns the acknowledged bytes per second over the time spent transferring.
func (s *Stats) Throughput() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sum <= 0 {
		return 0
	}
	return float64(s.bytes) / s.sum.Seconds()
}
