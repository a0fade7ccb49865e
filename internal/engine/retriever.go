package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/coffersTech/logextract/internal/extract"
	"github.com/coffersTech/logextract/internal/registry"
)

// Download is an open, filtered log file ready to be streamed.
// The caller must Close it.
type Download struct {
	File    *os.File
	Name    string // suggested download file name
	Size    int64
	ModTime time.Time
	Digest  string
}

// Close releases the underlying file.
func (d *Download) Close() error {
	return d.File.Close()
}

// Retriever serves extraction results, either inline for synchronous
// requests or from finished jobs.
type Retriever struct {
	resolver *extract.Resolver
	runner   *extract.Runner
	store    *registry.Store
	stats    *Stats
}

// NewRetriever creates a Retriever. stats may be nil.
func NewRetriever(resolver *extract.Resolver, runner *extract.Runner, store *registry.Store, stats *Stats) *Retriever {
	if stats == nil {
		stats = NewStats()
	}
	return &Retriever{resolver: resolver, runner: runner, store: store, stats: stats}
}

// Extract resolves req, filters the master log into the request's
// deterministic output file and opens it. Concurrent identical requests
// each publish a complete file by rename; the last one wins.
func (r *Retriever) Extract(ctx context.Context, req extract.Request) (*Download, error) {
	resolved, err := r.resolver.Resolve(req)
	if err != nil {
		r.stats.syncFailed(string(extract.KindOf(err)))
		return nil, err
	}

	res, err := r.runner.Run(ctx, resolved.Path, resolved.Range)
	if err != nil {
		r.stats.syncFailed(string(extract.KindOf(err)))
		return nil, err
	}

	d, err := open(resolved.Path, resolved.Filename)
	if err != nil {
		r.stats.syncFailed(string(extract.KindInternal))
		return nil, fmt.Errorf("%w: reopen %s: %v", extract.ErrInternal, resolved.Filename, err)
	}
	d.Digest = res.Digest
	r.stats.syncServed(res.Lines)
	return d, nil
}

// FetchJob opens the output of a finished job. It reports false when the job
// is unknown, not DONE, or its file has been removed since it finished. The
// file is opened on every call, never cached.
func (r *Retriever) FetchJob(id string) (*Download, bool) {
	job, ok := r.store.Get(id)
	if !ok || job.Status != registry.StatusDone {
		return nil, false
	}
	d, err := open(job.OutputPath, extract.JobFilename(id))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("Job %s: cannot open output %s: %v", id, job.OutputPath, err)
		}
		return nil, false
	}
	d.Digest = job.Digest
	return d, true
}

func open(path, name string) (*Download, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return &Download{File: f, Name: name, Size: st.Size(), ModTime: st.ModTime()}, nil
}
