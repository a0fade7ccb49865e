package ingest

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coffersTech/logextract/internal/model"
)

// lineLayout renders the leading timestamp of every master log line. Its
// first ten characters are the YYYY-MM-DD token the extraction engine
// filters on.
const lineLayout = "2006-01-02 15:04:05.000"

// Appender writes records to the end of the master log.
type Appender struct {
	file *os.File
	path string
	mu   sync.Mutex
}

// OpenAppender opens or creates the master log at path for appending.
func OpenAppender(path string) (*Appender, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Appender{
		file: f,
		path: path,
	}, nil
}

// Append writes one line per record in a single write call, so concurrent
// batches never interleave.
func (a *Appender) Append(records []model.LogRecord) error {
	if len(records) == 0 {
		return nil
	}
	var b strings.Builder
	for _, r := range records {
		b.WriteString(FormatLine(r))
		b.WriteByte('\n')
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.file.WriteString(b.String())
	return err
}

// Sync flushes the master log to disk.
func (a *Appender) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Sync()
}

// Close closes the master log.
func (a *Appender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

var escaper = strings.NewReplacer("\r", `\r`, "\n", `\n`)

// FormatLine renders r as "YYYY-MM-DD HH:MM:SS.mmm LEVEL [service@host] message"
// in UTC. Line breaks inside the message are escaped to keep one record
// per line.
func FormatLine(r model.LogRecord) string {
	ts := time.Unix(0, r.Timestamp).UTC()
	tag := r.Service
	if r.Host != "" {
		tag += "@" + r.Host
	}

	var b strings.Builder
	b.WriteString(ts.Format(lineLayout))
	b.WriteByte(' ')
	b.WriteString(NormalizeLevel(r.Level))
	if tag != "" {
		b.WriteString(" [")
		b.WriteString(escaper.Replace(tag))
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(escaper.Replace(r.Message))
	return b.String()
}

// NormalizeLevel maps free-form level names onto the fixed set written to
// the master log. Unknown levels become INFO.
func NormalizeLevel(l string) string {
	switch strings.ToUpper(l) {
	case "DEBUG", "TRACE":
		return "DEBUG"
	case "WARN", "WARNING":
		return "WARN"
	case "ERROR":
		return "ERROR"
	case "FATAL":
		return "FATAL"
	default:
		return "INFO"
	}
}
