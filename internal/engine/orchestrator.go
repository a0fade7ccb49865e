package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coffersTech/logextract/internal/extract"
	"github.com/coffersTech/logextract/internal/registry"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Shutdown has begun.
var ErrClosed = errors.New("orchestrator is shut down")

// Options tunes the asynchronous worker pool.
type Options struct {
	// Workers bounds how many extractions run at once.
	Workers int
	// Delay is injected before each job starts its real work.
	Delay time.Duration
}

// Orchestrator accepts asynchronous extraction jobs and runs them off the
// caller's goroutine. The registry is the only channel back to pollers.
type Orchestrator struct {
	resolver *extract.Resolver
	runner   *extract.Runner
	store    *registry.Store
	stats    *Stats
	sem      *semaphore.Weighted
	delay    time.Duration
	newID    func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex // guards closed against wg.Add racing Shutdown
	closed bool
}

// NewOrchestrator creates an Orchestrator. stats may be nil.
func NewOrchestrator(resolver *extract.Resolver, runner *extract.Runner, store *registry.Store, stats *Stats, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if stats == nil {
		stats = NewStats()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		resolver: resolver,
		runner:   runner,
		store:    store,
		stats:    stats,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		delay:    opts.Delay,
		newID:    uuid.NewString,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit registers a new IN_PROGRESS job for rng and schedules it. It
// returns the job id without waiting for the extraction.
func (o *Orchestrator) Submit(rng extract.Range) (string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return "", ErrClosed
	}

	id := o.newID()
	if _, err := o.store.Register(id, rng.From.Format(extract.DateLayout), rng.To.Format(extract.DateLayout)); err != nil {
		return "", fmt.Errorf("%w: register job %s: %v", extract.ErrInternal, id, err)
	}
	o.stats.jobSubmitted()

	o.wg.Add(1)
	go o.run(id, rng)
	return id, nil
}

// Status returns the job's current state.
func (o *Orchestrator) Status(id string) registry.Status {
	return o.store.Status(id)
}

func (o *Orchestrator) run(id string, rng extract.Range) {
	defer o.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			o.fail(id, fmt.Errorf("%w: panic: %v", extract.ErrInternal, r))
		}
	}()

	if err := o.sem.Acquire(o.ctx, 1); err != nil {
		o.fail(id, err)
		return
	}
	defer o.sem.Release(1)

	if o.delay > 0 {
		timer := time.NewTimer(o.delay)
		select {
		case <-timer.C:
		case <-o.ctx.Done():
			timer.Stop()
			o.fail(id, o.ctx.Err())
			return
		}
	}

	path, err := o.resolver.JobPath(id)
	if err != nil {
		o.fail(id, err)
		return
	}

	start := time.Now()
	res, err := o.runner.Run(o.ctx, path, rng)
	if err != nil {
		o.fail(id, err)
		return
	}

	if !o.store.Complete(id, registry.Completion{OutputPath: res.Path, Lines: res.Lines, Digest: res.Digest}) {
		log.Printf("Job %s finished but was already terminal", id)
		return
	}
	o.stats.jobDone(res.Lines)
	log.Printf("Job %s done: %s, %d/%d lines in %v", id, rng, res.Lines, res.Scanned, time.Since(start))
}

func (o *Orchestrator) fail(id string, err error) {
	kind := extract.KindOf(err)
	if o.store.Fail(id, string(kind), err.Error()) {
		o.stats.jobFailed(string(kind))
	}
	log.Printf("Job %s failed (%s): %v", id, kind, err)
}

// Shutdown stops accepting jobs and waits for running ones until ctx is
// done, then cancels whatever is left. No job is left IN_PROGRESS.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		o.cancel()
		<-done
	}
	o.cancel()

	for _, id := range o.store.InProgress() {
		if o.store.Fail(id, registry.Interrupted, "interrupted by shutdown") {
			o.stats.jobFailed(registry.Interrupted)
		}
	}
	return err
}
