package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coffersTech/logextract/internal/extract"
	"github.com/coffersTech/logextract/internal/registry"
	"github.com/google/go-cmp/cmp"
)

type testEngine struct {
	resolver *extract.Resolver
	store    *registry.Store
	stats    *Stats
	orch     *Orchestrator
	ret      *Retriever
}

func newTestEngine(t *testing.T, opts Options, master ...string) *testEngine {
	t.Helper()
	resolver, err := extract.NewResolver(t.TempDir(), "app.log")
	if err != nil {
		t.Fatal(err)
	}
	if master != nil {
		content := strings.Join(master, "\n") + "\n"
		if err := os.WriteFile(resolver.MasterLogPath(), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	runner := extract.NewRunner(resolver.MasterLogPath())
	store := registry.NewStore()
	stats := NewStats()
	e := &testEngine{
		resolver: resolver,
		store:    store,
		stats:    stats,
		orch:     NewOrchestrator(resolver, runner, store, stats, opts),
		ret:      NewRetriever(resolver, runner, store, stats),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		e.orch.Shutdown(ctx)
	})
	return e
}

func rangeOf(t *testing.T, from, to string) extract.Range {
	t.Helper()
	rng, err := extract.ParseRange(from, to)
	if err != nil {
		t.Fatal(err)
	}
	return rng
}

func waitJob(t *testing.T, s *registry.Store, id string) registry.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, ok, err := s.Wait(ctx, id)
	if !ok || err != nil {
		t.Fatalf("Wait(%s) = ok %v, err %v", id, ok, err)
	}
	return job
}

func readDownload(t *testing.T, d *Download) []string {
	t.Helper()
	defer d.Close()
	data, err := io.ReadAll(d.File)
	if err != nil {
		t.Fatal(err)
	}
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

var sampleMaster = []string{
	"2024-01-01 a",
	"2024-01-02 b",
	"2024-01-03 c",
	"not a log line",
	"2024-01-04 d",
}

func TestOrchestrator_AsyncLifecycle(t *testing.T) {
	e := newTestEngine(t, Options{Workers: 2, Delay: 200 * time.Millisecond}, sampleMaster...)

	start := time.Now()
	id, err := e.orch.Submit(rangeOf(t, "2024-01-01", "2024-01-02"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("Submit blocked for %v", time.Since(start))
	}

	if got := e.orch.Status(id); got != registry.StatusInProgress {
		t.Errorf("status before completion = %s, want IN_PROGRESS", got)
	}
	if _, ok := e.ret.FetchJob(id); ok {
		t.Error("FetchJob before DONE should report not found")
	}

	job := waitJob(t, e.store, id)
	if job.Status != registry.StatusDone {
		t.Fatalf("job = %+v, want DONE", job)
	}
	if got := e.orch.Status(id); got != registry.StatusDone {
		t.Errorf("status after completion = %s, want DONE", got)
	}

	d, ok := e.ret.FetchJob(id)
	if !ok {
		t.Fatal("FetchJob after DONE reported not found")
	}
	if d.Name != "log-"+id+".log" {
		t.Errorf("download name = %q", d.Name)
	}
	want := []string{"2024-01-01 a", "2024-01-02 b"}
	if diff := cmp.Diff(want, readDownload(t, d)); diff != "" {
		t.Errorf("job output mismatch (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_UnknownID(t *testing.T) {
	e := newTestEngine(t, Options{Workers: 1}, sampleMaster...)
	if got := e.orch.Status("never-submitted"); got != registry.StatusNotFound {
		t.Errorf("status = %s, want NOT_FOUND", got)
	}
	if _, ok := e.ret.FetchJob("never-submitted"); ok {
		t.Error("FetchJob of unknown id should report not found")
	}
}

func TestOrchestrator_ConcurrentDisjointJobs(t *testing.T) {
	e := newTestEngine(t, Options{Workers: 4}, sampleMaster...)

	id1, err := e.orch.Submit(rangeOf(t, "2024-01-01", "2024-01-02"))
	if err != nil {
		t.Fatal(err)
	}
	id2, err := e.orch.Submit(rangeOf(t, "2024-01-03", "2024-01-04"))
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatal("job ids must be unique")
	}

	waitJob(t, e.store, id1)
	waitJob(t, e.store, id2)

	for id, want := range map[string][]string{
		id1: {"2024-01-01 a", "2024-01-02 b"},
		id2: {"2024-01-03 c", "2024-01-04 d"},
	} {
		d, ok := e.ret.FetchJob(id)
		if !ok {
			t.Fatalf("FetchJob(%s) not found", id)
		}
		if diff := cmp.Diff(want, readDownload(t, d)); diff != "" {
			t.Errorf("job %s output mismatch (-want +got):\n%s", id, diff)
		}
	}
}

func TestOrchestrator_MissingMasterFailsJob(t *testing.T) {
	e := newTestEngine(t, Options{Workers: 1})

	id, err := e.orch.Submit(rangeOf(t, "2024-01-01", "2024-01-02"))
	if err != nil {
		t.Fatalf("Submit should accept even without a master log: %v", err)
	}
	job := waitJob(t, e.store, id)
	if job.Status != registry.StatusError {
		t.Fatalf("job = %+v, want ERROR", job)
	}
	if job.ErrorKind != string(extract.KindSourceUnavailable) {
		t.Errorf("ErrorKind = %q, want SOURCE_UNAVAILABLE", job.ErrorKind)
	}
	if job.OutputPath != "" {
		t.Errorf("failed job has output path %q", job.OutputPath)
	}
	if _, ok := e.ret.FetchJob(id); ok {
		t.Error("FetchJob of failed job should report not found")
	}
	if got := e.stats.Snapshot("").JobsFailed; got != 1 {
		t.Errorf("JobsFailed = %d, want 1", got)
	}
}

func TestOrchestrator_ShutdownInterrupts(t *testing.T) {
	e := newTestEngine(t, Options{Workers: 1, Delay: time.Minute}, sampleMaster...)

	id, err := e.orch.Submit(rangeOf(t, "2024-01-01", "2024-01-04"))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.orch.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown err = %v, want deadline exceeded", err)
	}

	if got := e.orch.Status(id); got != registry.StatusError {
		t.Errorf("status after shutdown = %s, want ERROR", got)
	}
	if _, err := os.Stat(filepath.Join(e.resolver.Dir(), "log-"+id+".log")); !os.IsNotExist(err) {
		t.Error("interrupted job must not leave an output file")
	}
	if _, err := e.orch.Submit(rangeOf(t, "2024-01-01", "2024-01-02")); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Shutdown err = %v, want ErrClosed", err)
	}
}

func TestOrchestrator_ShutdownDrains(t *testing.T) {
	e := newTestEngine(t, Options{Workers: 1, Delay: 20 * time.Millisecond}, sampleMaster...)
	id, _ := e.orch.Submit(rangeOf(t, "2024-01-01", "2024-01-04"))

	if err := e.orch.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := e.orch.Status(id); got != registry.StatusDone {
		t.Errorf("status = %s, want DONE after draining shutdown", got)
	}
}
