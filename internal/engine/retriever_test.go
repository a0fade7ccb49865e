package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/coffersTech/logextract/internal/extract"
	"github.com/coffersTech/logextract/internal/registry"
	"github.com/google/go-cmp/cmp"
)

func TestRetriever_ExtractSync(t *testing.T) {
	e := newTestEngine(t, Options{Workers: 1}, sampleMaster...)

	tests := []struct {
		name     string
		req      extract.Request
		wantName string
		want     []string
	}{
		{"single day", extract.Request{Date: "2024-01-03"}, "log-2024-01-03.log", []string{"2024-01-03 c"}},
		{"range", extract.Request{From: "2024-01-02", To: "2024-01-04"}, "log-2024-01-02_to_2024-01-04.log",
			[]string{"2024-01-02 b", "2024-01-03 c", "2024-01-04 d"}},
		{"no matches", extract.Request{Date: "2023-12-31"}, "log-2023-12-31.log", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.ret.Extract(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if d.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", d.Name, tt.wantName)
			}
			if d.Digest == "" {
				t.Error("Digest not set")
			}
			if diff := cmp.Diff(tt.want, readDownload(t, d)); diff != "" {
				t.Errorf("output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRetriever_ExtractRejectsBeforeIO(t *testing.T) {
	e := newTestEngine(t, Options{Workers: 1})

	for _, req := range []extract.Request{
		{},
		{From: "2024-01-01"},
		{Date: "../../etc/passwd"},
		{Date: "2024-01-01/../../../x"},
	} {
		_, err := e.ret.Extract(context.Background(), req)
		if !errors.Is(err, extract.ErrInvalidRequest) {
			t.Errorf("Extract(%+v) err = %v, want ErrInvalidRequest", req, err)
		}
	}

	entries, _ := os.ReadDir(e.resolver.Dir())
	if len(entries) != 0 {
		t.Errorf("rejected requests touched the log dir: %v", entries)
	}
}

func TestRetriever_ExtractMissingMaster(t *testing.T) {
	e := newTestEngine(t, Options{Workers: 1})
	_, err := e.ret.Extract(context.Background(), extract.Request{Date: "2024-01-01"})
	if !errors.Is(err, extract.ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	stats := e.stats.Snapshot("")
	if stats.SyncFailures != 1 || stats.FailuresByKind[string(extract.KindSourceUnavailable)] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRetriever_FetchJobAfterRemoval(t *testing.T) {
	e := newTestEngine(t, Options{Workers: 1}, sampleMaster...)
	id, err := e.orch.Submit(rangeOf(t, "2024-01-01", "2024-01-01"))
	if err != nil {
		t.Fatal(err)
	}
	job := waitJob(t, e.store, id)
	if job.Status != registry.StatusDone {
		t.Fatalf("job = %+v", job)
	}

	if err := os.Remove(filepath.Join(e.resolver.Dir(), "log-"+id+".log")); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.ret.FetchJob(id); ok {
		t.Error("FetchJob should report not found once the output file is gone")
	}
	if got := e.orch.Status(id); got != registry.StatusDone {
		t.Errorf("status = %s, the registry still reports DONE", got)
	}
}
