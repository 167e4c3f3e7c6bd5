package storage

import (
	"sync"
	"time"
)

// Stats tracks upload durations for hung detection and run summaries.
type Stats struct {
	sum           time.Duration
	finishedFiles int64
	bytes         int64
	mu            sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful upload.
func (s *Stats) Update(d time.Duration, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.finishedFiles++
	s.bytes += size
}

// Average returns the average upload duration of finished files.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedFiles == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedFiles)
}

// FinishedCount returns the number of finished uploads.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedFiles
}

// TotalDuration returns the sum of all upload durations.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}

// TotalBytes returns the bytes of all finished uploads.
func (s *Stats) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}
