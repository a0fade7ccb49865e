package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/coffersTech/logextract/internal/engine"
	"github.com/coffersTech/logextract/internal/extract"
	"github.com/coffersTech/logextract/internal/ingest"
	"github.com/coffersTech/logextract/internal/registry"
	"github.com/coffersTech/logextract/internal/visits"
	"github.com/valyala/fastjson"
)

const (
	maxIngestBody = 10 << 20
	maxStatusWait = 30 * time.Second
)

// Deps are the collaborators the HTTP layer calls into. Appender and
// Visits may be nil, which disables their routes.
type Deps struct {
	Orchestrator *engine.Orchestrator
	Retriever    *engine.Retriever
	Store        *registry.Store
	Stats        *engine.Stats
	Appender     *ingest.Appender
	Visits       *visits.Counter
	LogDir       string
}

// ExtractServer exposes the extraction engine over HTTP.
type ExtractServer struct {
	Deps
	srv    *http.Server
	parser fastjson.ParserPool
}

// NewExtractServer creates the HTTP adapter.
func NewExtractServer(d Deps) *ExtractServer {
	return &ExtractServer{Deps: d}
}

// Handler builds the route table wrapped in the request middleware.
func (s *ExtractServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Synchronous extraction
	mux.HandleFunc("GET /logs", s.handleLogs)

	// Asynchronous jobs
	mux.HandleFunc("GET /async-logs/generate", s.handleGenerate)
	mux.HandleFunc("POST /async-logs/generate", s.handleGenerate)
	mux.HandleFunc("GET /async-logs/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /async-logs/download/{id}", s.handleDownload)
	mux.HandleFunc("GET /async-logs/jobs", s.handleJobs)

	mux.HandleFunc("GET /api/stats", s.handleStats)
	if s.Appender != nil {
		mux.HandleFunc("POST /api/ingest", s.handleIngest)
	}

	if s.Visits != nil {
		mux.HandleFunc("GET /visits/count", s.handleVisitCounts)
		mux.HandleFunc("GET /visits/count/endpoint", s.handleVisitCount)
		mux.HandleFunc("DELETE /visits/reset", s.handleVisitReset)
		mux.HandleFunc("GET /visits/test", s.handleVisitTest)
		return s.withLogging(s.withVisits(mux))
	}
	return s.withLogging(mux)
}

// Start runs the HTTP server.
func (s *ExtractServer) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *ExtractServer) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// handleLogs runs a synchronous extraction: GET /logs?date= or ?from=&to=
func (s *ExtractServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := extract.Request{
		Date: q.Get("date"),
		From: q.Get("from"),
		To:   q.Get("to"),
	}

	d, err := s.Retriever.Extract(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.serveDownload(w, r, d)
}

// handleGenerate accepts an asynchronous job. The range comes from the
// query string or, for POST, from a JSON body {"from": ..., "to": ...}.
func (s *ExtractServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	if r.Method == http.MethodPost && r.ContentLength != 0 {
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read body")
			return
		}
		if len(body) > 0 {
			p := s.parser.Get()
			v, err := p.ParseBytes(body)
			if err != nil {
				s.parser.Put(p)
				writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
				return
			}
			if b := v.GetStringBytes("from"); b != nil {
				from = string(b)
			}
			if b := v.GetStringBytes("to"); b != nil {
				to = string(b)
			}
			s.parser.Put(p)
		}
	}

	rng, err := extract.ParseRange(from, to)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	id, err := s.Orchestrator.Submit(rng)
	if err != nil {
		if errors.Is(err, engine.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}
		s.writeEngineError(w, err)
		return
	}

	log.Printf("Job %s accepted: %s", id, rng)
	w.Header().Set("Location", "/async-logs/status/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"requestId": id})
}

// handleStatus reports a job's state as plain text, or the full job as JSON
// when the client accepts application/json. ?wait=10s blocks until the job
// is terminal or the wait expires.
func (s *ExtractServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if waitStr := r.URL.Query().Get("wait"); waitStr != "" {
		wait, err := time.ParseDuration(waitStr)
		if err != nil || wait < 0 {
			writeError(w, http.StatusBadRequest, "Invalid wait duration")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), min(wait, maxStatusWait))
		s.Store.Wait(ctx, id)
		cancel()
	}

	job, ok := s.Store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", id))
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, publicJob(job))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, string(job.Status))
}

// handleDownload streams a finished job's output.
func (s *ExtractServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, ok := s.Retriever.FetchJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No output available for job %s", id))
		return
	}
	s.serveDownload(w, r, d)
}

func (s *ExtractServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.Store.List()
	for i := range jobs {
		jobs[i] = publicJob(jobs[i])
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleIngest appends JSON log records to the master log.
func (s *ExtractServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Failed to read body")
		return
	}
	defer r.Body.Close()

	p := s.parser.Get()
	records, err := ingest.ParseRecords(p, body, remoteHost(r))
	s.parser.Put(p)
	if err != nil {
		log.Printf("Ingest parse error: %v", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	if err := s.Appender.Append(records); err != nil {
		log.Printf("Ingest write error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to write master log")
		return
	}
	if err := s.Appender.Sync(); err != nil {
		log.Printf("Master log sync error: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]int{"accepted": len(records)})
}

func (s *ExtractServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats.Snapshot(s.LogDir))
}

func (s *ExtractServer) handleVisitCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Visits.All())
}

func (s *ExtractServer) handleVisitCount(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	writeJSON(w, http.StatusOK, s.Visits.Count(path))
}

func (s *ExtractServer) handleVisitReset(w http.ResponseWriter, r *http.Request) {
	s.Visits.Reset()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "Visit statistics reset")
}

func (s *ExtractServer) handleVisitTest(w http.ResponseWriter, r *http.Request) {
	s.Visits.Record("/visit/test")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "OK")
}

// serveDownload writes d as an attachment, compressed when the client
// allows it. It always closes d.
func (s *ExtractServer) serveDownload(w http.ResponseWriter, r *http.Request, d *engine.Download) {
	defer d.Close()

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.Name))
	h.Add("Vary", "Accept-Encoding")
	if d.Digest != "" {
		h.Set("ETag", `"`+d.Digest+`"`)
	}

	enc := negotiateEncoding(r.Header.Get("Accept-Encoding"))
	if enc == "" || r.Header.Get("Range") != "" {
		http.ServeContent(w, r, d.Name, d.ModTime, d.File)
		return
	}

	if d.Digest != "" && r.Header.Get("If-None-Match") == `"`+d.Digest+"-"+enc+`"` {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Encoding", enc)
	if d.Digest != "" {
		h.Set("ETag", `"`+d.Digest+"-"+enc+`"`)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if err := compressTo(w, enc, d.File); err != nil {
		log.Printf("Download %s: %s stream error: %v", d.Name, enc, err)
	}
}

// writeEngineError maps an engine error onto an HTTP status.
func (s *ExtractServer) writeEngineError(w http.ResponseWriter, err error) {
	var status int
	switch extract.KindOf(err) {
	case extract.KindInvalidRequest, extract.KindPathTraversal:
		status = http.StatusBadRequest
	case extract.KindSourceUnavailable, extract.KindNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
		log.Printf("Extraction failed: %v", err)
	}
	writeError(w, status, err.Error())
}

// apiError is the JSON body of every error response.
type apiError struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Message   string    `json:"message"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Timestamp: time.Now(), Status: status, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("JSON encode error: %v", err)
	}
}

// publicJob hides the server-side output path.
func publicJob(j registry.Job) registry.Job {
	j.OutputPath = ""
	return j
}

func remoteHost(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
