package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of an extraction job.
type Status string

const (
	StatusNotFound   Status = "NOT_FOUND" // never stored; absence is the signal
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// ErrDuplicateJob is returned when registering an id that already exists.
var ErrDuplicateJob = errors.New("job already registered")

// Job is an immutable snapshot of one job's state.
type Job struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`

	// Set only when Status is DONE.
	OutputPath string `json:"output_path,omitempty"`
	Lines      int64  `json:"lines,omitempty"`
	Digest     string `json:"digest,omitempty"`

	// Set only when Status is ERROR.
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Completion carries the outcome of a successful run.
type Completion struct {
	OutputPath string
	Lines      int64
	Digest     string
}

type entry struct {
	state atomic.Pointer[Job]
	done  chan struct{}
}

// Store is the concurrent job table. Each job's state is one immutable Job
// value behind an atomic pointer: a terminal transition publishes status and
// output path together, and readers never take a lock.
type Store struct {
	jobs sync.Map // id -> *entry
}

// NewStore creates an empty job registry.
func NewStore() *Store {
	return &Store{}
}

// Register inserts a new IN_PROGRESS job.
func (s *Store) Register(id, from, to string) (Job, error) {
	job := &Job{
		ID:          id,
		Status:      StatusInProgress,
		From:        from,
		To:          to,
		SubmittedAt: time.Now(),
	}
	e := &entry{done: make(chan struct{})}
	e.state.Store(job)
	if _, loaded := s.jobs.LoadOrStore(id, e); loaded {
		return Job{}, ErrDuplicateJob
	}
	return *job, nil
}

// Complete moves an IN_PROGRESS job to DONE. It returns false if the job is
// unknown or already terminal.
func (s *Store) Complete(id string, c Completion) bool {
	return s.transition(id, func(j *Job) {
		j.Status = StatusDone
		j.OutputPath = c.OutputPath
		j.Lines = c.Lines
		j.Digest = c.Digest
	})
}

// Fail moves an IN_PROGRESS job to ERROR. It returns false if the job is
// unknown or already terminal.
func (s *Store) Fail(id, kind, message string) bool {
	return s.transition(id, func(j *Job) {
		j.Status = StatusError
		j.ErrorKind = kind
		j.ErrorMessage = message
	})
}

func (s *Store) transition(id string, apply func(*Job)) bool {
	v, ok := s.jobs.Load(id)
	if !ok {
		return false
	}
	e := v.(*entry)
	for {
		cur := e.state.Load()
		if cur.Status.Terminal() {
			return false
		}
		next := *cur
		apply(&next)
		next.FinishedAt = time.Now()
		if e.state.CompareAndSwap(cur, &next) {
			close(e.done)
			return true
		}
	}
}

// Get returns a snapshot of the job.
func (s *Store) Get(id string) (Job, bool) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return Job{}, false
	}
	return *v.(*entry).state.Load(), true
}

// Status returns the job's status, StatusNotFound for unknown ids.
func (s *Store) Status(id string) Status {
	job, ok := s.Get(id)
	if !ok {
		return StatusNotFound
	}
	return job.Status
}

// Wait blocks until the job is terminal or ctx is done. Unknown ids return
// immediately with ok=false.
func (s *Store) Wait(ctx context.Context, id string) (job Job, ok bool, err error) {
	v, found := s.jobs.Load(id)
	if !found {
		return Job{}, false, nil
	}
	e := v.(*entry)
	select {
	case <-e.done:
	case <-ctx.Done():
		return *e.state.Load(), true, ctx.Err()
	}
	return *e.state.Load(), true, nil
}

// List returns all jobs, most recently submitted first.
func (s *Store) List() []Job {
	list := make([]Job, 0)
	s.jobs.Range(func(_, v any) bool {
		list = append(list, *v.(*entry).state.Load())
		return true
	})
	sort.Slice(list, func(i, j int) bool {
		return list[i].SubmittedAt.After(list[j].SubmittedAt)
	})
	return list
}

// InProgress returns the ids of all jobs that are not yet terminal.
func (s *Store) InProgress() []string {
	var ids []string
	s.jobs.Range(func(k, v any) bool {
		if v.(*entry).state.Load().Status == StatusInProgress {
			ids = append(ids, k.(string))
		}
		return true
	})
	return ids
}

// restore inserts a job as-is. Used when loading a snapshot.
func (s *Store) restore(job Job) {
	e := &entry{done: make(chan struct{})}
	j := job
	e.state.Store(&j)
	if job.Status.Terminal() {
		close(e.done)
	}
	s.jobs.Store(job.ID, e)
}

// PruneFinished removes terminal jobs that finished more than ttl ago.
func (s *Store) PruneFinished(ttl time.Duration) int {
	threshold := time.Now().Add(-ttl)
	count := 0
	s.jobs.Range(func(k, v any) bool {
		j := v.(*entry).state.Load()
		if j.Status.Terminal() && j.FinishedAt.Before(threshold) {
			s.jobs.Delete(k)
			count++
		}
		return true
	})
	return count
}

// StartCleanupLoop starts a background goroutine pruning finished jobs
// older than ttl.
func (s *Store) StartCleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.PruneFinished(ttl)
			case <-ctx.Done():
				return
			}
		}
	}()
}
