package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// datePattern is checked before any date parsing so that nothing other than
// digits and dashes can reach a file name.
var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Request is an extraction request as received from a transport adapter.
// Exactly one shape is valid: Date alone, or From and To together.
type Request struct {
	Date string
	From string
	To   string
}

// Resolved is a validated request bound to its output path.
type Resolved struct {
	Range    Range
	Filename string
	Path     string
}

// Resolver maps requests to canonical output paths inside a fixed log directory.
type Resolver struct {
	dir       string
	masterLog string
}

// NewResolver creates the log directory if needed and canonicalizes it.
// masterLog is a bare file name inside that directory.
func NewResolver(dir, masterLog string) (*Resolver, error) {
	if masterLog == "" || strings.ContainsRune(masterLog, filepath.Separator) || masterLog != filepath.Base(masterLog) {
		return nil, fmt.Errorf("master log must be a plain file name, got %q", masterLog)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve log dir: %w", err)
	}
	return &Resolver{dir: canon, masterLog: masterLog}, nil
}

// Dir returns the canonical log directory.
func (r *Resolver) Dir() string { return r.dir }

// MasterLogPath returns the path of the master log.
func (r *Resolver) MasterLogPath() string {
	return filepath.Join(r.dir, r.masterLog)
}

// Resolve validates the request shape and date tokens and returns the
// deterministic output path for it.
func (r *Resolver) Resolve(req Request) (Resolved, error) {
	var (
		rng  Range
		name string
		err  error
	)
	switch {
	case req.Date != "" && req.From == "" && req.To == "":
		var d time.Time
		if d, err = ParseDate(req.Date); err != nil {
			return Resolved{}, err
		}
		rng = Day(d)
		name = "log-" + req.Date + ".log"
	case req.Date == "" && req.From != "" && req.To != "":
		if rng, err = ParseRange(req.From, req.To); err != nil {
			return Resolved{}, err
		}
		name = "log-" + req.From + "_to_" + req.To + ".log"
	default:
		return Resolved{}, fmt.Errorf("%w: need either date or both from and to", ErrInvalidRequest)
	}

	path, err := r.contain(name)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Range: rng, Filename: name, Path: path}, nil
}

// JobPath returns the output path for an asynchronous job.
func (r *Resolver) JobPath(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: malformed job id %q", ErrInvalidRequest, id)
	}
	return r.contain(JobFilename(id))
}

// JobFilename is the download name of a job's output.
func JobFilename(id string) string {
	return "log-" + id + ".log"
}

// ParseDate validates a single YYYY-MM-DD token.
func ParseDate(s string) (time.Time, error) {
	if !datePattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidRequest, s)
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", ErrInvalidRequest, s, err)
	}
	return d, nil
}

// ParseRange validates an inclusive from/to pair. A reversed range is
// accepted and simply matches nothing.
func ParseRange(from, to string) (Range, error) {
	if from == "" || to == "" {
		return Range{}, fmt.Errorf("%w: from and to are both required", ErrInvalidRequest)
	}
	f, err := ParseDate(from)
	if err != nil {
		return Range{}, err
	}
	t, err := ParseDate(to)
	if err != nil {
		return Range{}, err
	}
	return Range{From: f, To: t}, nil
}

// contain joins name onto the log directory, canonicalizes the result and
// rejects it unless it is still strictly inside the directory.
func (r *Resolver) contain(name string) (string, error) {
	candidate, err := canonicalize(filepath.Join(r.dir, name))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathTraversal, err)
	}
	rel, err := filepath.Rel(r.dir, candidate)
	if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	if candidate == r.MasterLogPath() {
		return "", fmt.Errorf("%w: output would overwrite the master log", ErrPathTraversal)
	}
	return candidate, nil
}

// canonicalize resolves symlinks in p. The final element may not exist yet,
// in which case only its parent is resolved.
func canonicalize(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(p))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, filepath.Base(p)), nil
}
