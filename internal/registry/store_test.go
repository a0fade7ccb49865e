package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestStore_Lifecycle(t *testing.T) {
	s := NewStore()

	if got := s.Status("missing"); got != StatusNotFound {
		t.Fatalf("unknown id status = %s, want NOT_FOUND", got)
	}

	if _, err := s.Register("job-1", "2024-01-01", "2024-01-02"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.Register("job-1", "2024-01-01", "2024-01-02"); err != ErrDuplicateJob {
		t.Errorf("duplicate Register err = %v, want ErrDuplicateJob", err)
	}
	if got := s.Status("job-1"); got != StatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", got)
	}

	if !s.Complete("job-1", Completion{OutputPath: "/logs/log-job-1.log", Lines: 3, Digest: "abc"}) {
		t.Fatal("Complete returned false")
	}
	job, _ := s.Get("job-1")
	if job.Status != StatusDone || job.OutputPath != "/logs/log-job-1.log" || job.Lines != 3 {
		t.Errorf("unexpected job after Complete: %+v", job)
	}
	if job.FinishedAt.IsZero() {
		t.Error("FinishedAt not set")
	}

	// Terminal states never change again.
	if s.Fail("job-1", "INTERNAL_ERROR", "late") {
		t.Error("Fail after DONE should be rejected")
	}
	if s.Complete("job-1", Completion{OutputPath: "other"}) {
		t.Error("second Complete should be rejected")
	}
	if job, _ := s.Get("job-1"); job.OutputPath != "/logs/log-job-1.log" {
		t.Errorf("output path changed to %q", job.OutputPath)
	}
}

func TestStore_Fail(t *testing.T) {
	s := NewStore()
	s.Register("job-2", "2024-01-01", "2024-01-02")

	if !s.Fail("job-2", "SOURCE_UNAVAILABLE", "master log missing") {
		t.Fatal("Fail returned false")
	}
	job, _ := s.Get("job-2")
	if job.Status != StatusError || job.OutputPath != "" || job.ErrorKind != "SOURCE_UNAVAILABLE" {
		t.Errorf("unexpected job after Fail: %+v", job)
	}
	if s.Complete("job-2", Completion{OutputPath: "x"}) {
		t.Error("Complete after ERROR should be rejected")
	}
	if s.Fail("nope", "X", "y") {
		t.Error("Fail on unknown id should return false")
	}
}

func TestStore_DoneAlwaysHasPath(t *testing.T) {
	s := NewStore()
	const n = 200
	for i := 0; i < n; i++ {
		s.Register(fmt.Sprintf("job-%d", i), "", "")
	}
	ids := s.InProgress()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, id := range ids {
					if j, ok := s.Get(id); ok && j.Status == StatusDone && j.OutputPath == "" {
						t.Errorf("observed DONE without output path for %s", id)
						return
					}
				}
			}
		}()
	}
	for _, id := range ids {
		s.Complete(id, Completion{OutputPath: "/out/" + id})
	}
	close(stop)
	wg.Wait()
}

func TestStore_Wait(t *testing.T) {
	s := NewStore()
	s.Register("job-3", "", "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	job, ok, err := s.Wait(ctx, "job-3")
	if !ok || err == nil || job.Status != StatusInProgress {
		t.Fatalf("Wait before completion = (%+v, %v, %v), want timeout", job, ok, err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Complete("job-3", Completion{OutputPath: "/out"})
	}()
	job, ok, err = s.Wait(context.Background(), "job-3")
	if err != nil || !ok || job.Status != StatusDone {
		t.Fatalf("Wait = (%+v, %v, %v)", job, ok, err)
	}

	if _, ok, _ := s.Wait(context.Background(), "unknown"); ok {
		t.Error("Wait on unknown id should report ok=false")
	}
}

func TestStore_Cleanup(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Register("old", "", "")
	s.Complete("old", Completion{OutputPath: "/old"})
	// Backdate the finish time.
	job, _ := s.Get("old")
	job.FinishedAt = time.Now().Add(-20 * time.Minute)
	s.restore(job)

	s.Register("fresh", "", "")
	s.Complete("fresh", Completion{OutputPath: "/fresh"})
	s.Register("running", "", "")

	s.StartCleanupLoop(ctx, 10*time.Millisecond, 10*time.Minute)
	time.Sleep(50 * time.Millisecond)

	if _, ok := s.Get("old"); ok {
		t.Error("old should have been pruned")
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Error("fresh should still exist")
	}
	if _, ok := s.Get("running"); !ok {
		t.Error("running jobs are never pruned")
	}
}

func TestStore_Snapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")

	s := NewStore()
	s.Register("done", "2024-01-01", "2024-01-02")
	s.Complete("done", Completion{OutputPath: "/logs/log-done.log", Lines: 2, Digest: "d1"})
	s.Register("running", "2024-02-01", "2024-02-02")

	if err := s.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	// The live store is untouched by saving.
	if got := s.Status("running"); got != StatusInProgress {
		t.Errorf("live status = %s, want IN_PROGRESS", got)
	}

	restored := NewStore()
	n, err := restored.LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if n != 2 {
		t.Errorf("restored %d jobs, want 2", n)
	}

	want, _ := s.Get("done")
	got, _ := restored.Get("done")
	if diff := cmp.Diff(want, got, cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
		t.Errorf("restored job mismatch (-want +got):\n%s", diff)
	}
	if j, _ := restored.Get("running"); j.Status != StatusError || j.ErrorKind != Interrupted {
		t.Errorf("running job restored as %+v, want ERROR/INTERRUPTED", j)
	}
	if _, ok, err := restored.Wait(context.Background(), "done"); !ok || err != nil {
		t.Errorf("Wait on restored terminal job should return immediately")
	}
}

func TestStore_LoadSnapshotMissing(t *testing.T) {
	n, err := NewStore().LoadSnapshot(filepath.Join(t.TempDir(), "none.json"))
	if err != nil || n != 0 {
		t.Errorf("LoadSnapshot(missing) = %d, %v", n, err)
	}
}
