package engine

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Stats holds engine counters. All methods are safe for concurrent use.
type Stats struct {
	syncRequests  atomic.Int64
	syncFailures  atomic.Int64
	jobsSubmitted atomic.Int64
	jobsDone      atomic.Int64
	jobsFailed    atomic.Int64
	linesWritten  atomic.Int64

	failures sync.Map // kind -> *atomic.Int64
}

// SystemStats is the API view of Stats.
type SystemStats struct {
	SyncRequests   int64            `json:"sync_requests"`
	SyncFailures   int64            `json:"sync_failures"`
	JobsSubmitted  int64            `json:"jobs_submitted"`
	JobsDone       int64            `json:"jobs_done"`
	JobsFailed     int64            `json:"jobs_failed"`
	JobsInProgress int64            `json:"jobs_in_progress"`
	LinesWritten   int64            `json:"lines_written"`
	FailuresByKind map[string]int64 `json:"failures_by_kind"`
	DiskUsage      int64            `json:"disk_usage"` // bytes in the log directory
}

// NewStats creates zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) syncServed(lines int64) {
	s.syncRequests.Add(1)
	s.linesWritten.Add(lines)
}

func (s *Stats) syncFailed(kind string) {
	s.syncRequests.Add(1)
	s.syncFailures.Add(1)
	s.countFailure(kind)
}

func (s *Stats) jobSubmitted() {
	s.jobsSubmitted.Add(1)
}

func (s *Stats) jobDone(lines int64) {
	s.jobsDone.Add(1)
	s.linesWritten.Add(lines)
}

func (s *Stats) jobFailed(kind string) {
	s.jobsFailed.Add(1)
	s.countFailure(kind)
}

func (s *Stats) countFailure(kind string) {
	v, _ := s.failures.LoadOrStore(kind, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// Snapshot returns the current counters and the size of every file in dir.
func (s *Stats) Snapshot(dir string) SystemStats {
	stats := SystemStats{
		SyncRequests:   s.syncRequests.Load(),
		SyncFailures:   s.syncFailures.Load(),
		JobsSubmitted:  s.jobsSubmitted.Load(),
		JobsDone:       s.jobsDone.Load(),
		JobsFailed:     s.jobsFailed.Load(),
		LinesWritten:   s.linesWritten.Load(),
		FailuresByKind: make(map[string]int64),
	}
	stats.JobsInProgress = stats.JobsSubmitted - stats.JobsDone - stats.JobsFailed

	s.failures.Range(func(k, v any) bool {
		stats.FailuresByKind[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})

	if dir != "" {
		var size int64
		_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
			if err == nil && !info.IsDir() {
				size += info.Size()
			}
			return nil
		})
		stats.DiskUsage = size
	}
	return stats
}
