// Package stats holds the per-instance counters reported at shutdown and by
// the health endpoint.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats counts requests and reloads for one server instance. Counters only
// move forward; Reset is called once when the instance starts.
type Stats struct {
	mu        sync.RWMutex
	startTime time.Time
	now       func() time.Time
	requests  atomic.Int64
	reloads   atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	StartTime time.Time     `json:"start_time"`
	Uptime    time.Duration `json:"uptime"`
	Requests  int64         `json:"requests"`
	Reloads   int64         `json:"reloads"`
}

func New() *Stats {
	return &Stats{now: time.Now}
}

// SetNow replaces the time source. Used in tests only.
func (s *Stats) SetNow(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

// Reset records the start time. Counters keep their values so a restarted
// listener keeps reporting process-wide totals.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = s.now()
}

func (s *Stats) IncRequests() { s.requests.Add(1) }
func (s *Stats) IncReloads()  { s.reloads.Add(1) }

func (s *Stats) Requests() int64 { return s.requests.Load() }
func (s *Stats) Reloads() int64  { return s.reloads.Load() }

func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	start, now := s.startTime, s.now()
	s.mu.RUnlock()

	snap := Snapshot{
		StartTime: start,
		Requests:  s.requests.Load(),
		Reloads:   s.reloads.Load(),
	}
	if !start.IsZero() {
		snap.Uptime = now.Sub(start)
	}
	return snap
}
