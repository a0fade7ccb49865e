package model

// LogRecord is a single structured log entry as accepted by the ingest API,
// before it is rendered into a master log line.
type LogRecord struct {
	Timestamp int64 // Unix nanoseconds
	Level     string
	Service   string
	Host      string
	Message   string
}
